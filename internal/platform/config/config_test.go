package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIREBASE_PROJECT_ID": "framecraft-dev",
	}
}

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(baseEnv()), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Firestore.ProjectID != "framecraft-dev" {
		t.Errorf("expected firestore project to default to firebase project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Store.Backend != StoreFirestore {
		t.Errorf("expected firestore backend, got %s", cfg.Store.Backend)
	}
	if cfg.Orders.Location == nil || cfg.Orders.Location.String() != "UTC" {
		t.Errorf("expected UTC numbering location, got %v", cfg.Orders.Location)
	}
	if cfg.Notifications.Sink != SinkLog || cfg.Notifications.Timeout != 10*time.Second {
		t.Errorf("unexpected notification defaults: %+v", cfg.Notifications)
	}
	if cfg.PSP.PayUEndpoint != defaultPayUEndpoint {
		t.Errorf("unexpected payu endpoint %s", cfg.PSP.PayUEndpoint)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url, got %s", cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultOIDCIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("unexpected log level %s", cfg.Observability.LogLevel)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"API_SERVER_PORT":                 "9090",
		"API_SERVER_WRITE_TIMEOUT":        "25s",
		"API_FIREBASE_PROJECT_ID":         "framecraft-prod",
		"API_ORDER_STORE":                 "Mongo",
		"API_MONGO_URI":                   "secret://mongo/uri",
		"API_MONGO_DATABASE":              "orders",
		"API_PSP_STRIPE_API_KEY":          "secret://stripe/api",
		"API_PSP_STRIPE_WEBHOOK_SECRET":   "secret://stripe/webhook",
		"API_PSP_RAZORPAY_KEY_ID":         "rzp_live_123",
		"API_PSP_RAZORPAY_KEY_SECRET":     "secret://razorpay/secret",
		"API_PSP_PAYU_KEY":                "gtKFFx",
		"API_PSP_PAYU_SALT":               "sm://payu/salt",
		"API_FRONTEND_BASE_URL":           "https://shop.example.com/",
		"API_ORDER_NUMBER_TIMEZONE":       "Asia/Kolkata",
		"API_NOTIFICATIONS_SINK":          "kafka",
		"API_NOTIFICATIONS_TIMEOUT":       "3s",
		"API_NOTIFICATIONS_KAFKA_BROKERS": "kafka-1:9092, kafka-2:9092",
		"API_NOTIFICATIONS_KAFKA_TOPIC":   "order-events",
		"API_SECURITY_OIDC_AUDIENCE":      "https://orders.internal",
		"API_SECURITY_OIDC_ISSUERS":       "https://accounts.google.com,https://issuer.example",
		"LOG_LEVEL":                       "DEBUG",
	}

	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.WriteTimeout != 25*time.Second {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Store.Backend != StoreMongo || cfg.Store.MongoURI != "resolved:secret://mongo/uri" || cfg.Store.MongoDatabase != "orders" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if cfg.PSP.StripeWebhookSecret != "resolved:secret://stripe/webhook" {
		t.Errorf("unexpected webhook secret %s", cfg.PSP.StripeWebhookSecret)
	}
	if cfg.PSP.PayUSalt != "resolved:secret://payu/salt" {
		t.Errorf("expected legacy sm:// reference to be normalised, got %s", cfg.PSP.PayUSalt)
	}
	if cfg.PSP.FrontendBaseURL != "https://shop.example.com" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.PSP.FrontendBaseURL)
	}
	if cfg.Orders.Location.String() != "Asia/Kolkata" {
		t.Errorf("unexpected location %s", cfg.Orders.Location)
	}
	if len(cfg.Notifications.KafkaBrokers) != 2 || cfg.Notifications.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("unexpected brokers %v", cfg.Notifications.KafkaBrokers)
	}
	if cfg.Notifications.Timeout != 3*time.Second {
		t.Errorf("unexpected notification timeout %s", cfg.Notifications.Timeout)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected lower-cased log level, got %s", cfg.Observability.LogLevel)
	}
	if len(refs) != 5 {
		t.Errorf("expected 5 secret lookups, got %v", refs)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := "# local overrides\nAPI_FIREBASE_PROJECT_ID=from-dotenv\nAPI_ORDER_STORE=memory\nexport API_SERVER_PORT=\"7070\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Firebase.ProjectID != "from-dotenv" || cfg.Server.Port != "7070" || cfg.Store.Backend != StoreMemory {
		t.Fatalf("dotenv values not applied: %+v", cfg)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(), WithEnvFile(filepath.Join(t.TempDir(), "absent.env")), WithEnvMap(baseEnv()), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("expected missing dotenv to be ignored, got %v", err)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	cases := map[string]struct {
		env   map[string]string
		field string
	}{
		"missing firebase project": {env: map[string]string{}, field: "Firebase.ProjectID"},
		"unknown store": {
			env:   map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_ORDER_STORE": "postgres"},
			field: "Store.Backend",
		},
		"mongo without uri": {
			env:   map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_ORDER_STORE": "mongo"},
			field: "Store.MongoURI",
		},
		"bad timezone": {
			env:   map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_ORDER_NUMBER_TIMEZONE": "Mars/Olympus"},
			field: "Orders.NumberTimezone",
		},
		"pubsub without topic": {
			env:   map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_NOTIFICATIONS_SINK": "pubsub"},
			field: "Notifications.PubSubTopic",
		},
		"payu key without salt": {
			env:   map[string]string{"API_FIREBASE_PROJECT_ID": "p", "API_PSP_PAYU_KEY": "k"},
			field: "PSP.PayU",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(context.Background(), WithEnvMap(tc.env), WithoutSystemEnv(), WithEnvFile(""))
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, f := range vErr.Fields() {
				if f == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected %s in %v", tc.field, vErr.Fields())
			}
		})
	}
}

func TestLoadSecretWithoutResolver(t *testing.T) {
	env := baseEnv()
	env["API_PSP_STRIPE_API_KEY"] = "secret://stripe/api"

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var sErr *SecretError
	if !errors.As(err, &sErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
	if sErr.Ref != "secret://stripe/api" || !errors.Is(err, errSecretResolverNotConfigured) {
		t.Fatalf("unexpected secret error %v", sErr)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := baseEnv()
	env["API_PSP_RAZORPAY_KEY_ID"] = "rzp"
	env["API_PSP_RAZORPAY_KEY_SECRET"] = "secret://razorpay/secret"
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) { return "value", nil })

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
		WithRequiredSecrets("PSP.RazorpayKeySecret", "PSP.PayUSalt", "PSP.StripeWebhookSecret", "PSP.PayUSalt"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if len(missing.Names) != 2 || missing.Names[0] != "PSP.PayUSalt" || missing.Names[1] != "PSP.StripeWebhookSecret" {
		t.Fatalf("unexpected missing secrets %v", missing.Names)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("A=dotenv\nB=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("B", "system")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{"C": "explicit"}))
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["A"] != "dotenv" || values["B"] != "system" || values["C"] != "explicit" {
		t.Fatalf("unexpected merge result A=%q B=%q C=%q", values["A"], values["B"], values["C"])
	}
}
