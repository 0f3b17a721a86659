package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStoreBackend         = StoreFirestore
	defaultMongoDatabase        = "framecraft"
	defaultNumberTimezone       = "UTC"
	defaultNotificationSink     = SinkLog
	defaultNotificationTimeout  = 10 * time.Second
	defaultPayUEndpoint         = "https://test.payu.in/_payment"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer           = "https://accounts.google.com"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultLogLevel             = "info"
)

// Order store backends.
const (
	StoreFirestore = "firestore"
	StoreMongo     = "mongo"
	StoreMemory    = "memory"
)

// Notification sinks.
const (
	SinkLog    = "log"
	SinkPubSub = "pubsub"
	SinkKafka  = "kafka"
)

// Config is the runtime configuration grouped by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	Store         StoreConfig
	Storage       StorageConfig
	PSP           PSPConfig
	Orders        OrdersConfig
	Notifications NotificationConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects where orders and counters live.
type StoreConfig struct {
	Backend       string
	MongoURI      string
	MongoDatabase string
}

// StorageConfig names the bucket receiving uploaded frame images.
type StorageConfig struct {
	ImagesBucket  string
	PublicBaseURL string
}

// PSPConfig collects credentials for the payment providers. A provider without credentials is
// not registered.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	RazorpayKeyID       string
	RazorpayKeySecret   string
	PayUKey             string
	PayUSalt            string
	PayUEndpoint        string
	PayUSuccessURL      string
	PayUFailureURL      string
	// FrontendBaseURL hosts the payment-success.html and payment-failure.html pages.
	FrontendBaseURL string
}

// OrdersConfig controls order numbering.
type OrdersConfig struct {
	NumberTimezone string
	Location       *time.Location
}

type NotificationConfig struct {
	Sink         string
	Timeout      time.Duration
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

type SecurityConfig struct {
	OIDC OIDCConfig
}

// OIDCConfig controls verification of service tokens on /internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

type ObservabilityConfig struct {
	LogLevel string
}

// SecretResolver resolves secret:// references.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

type SecretResolverFunc func(context.Context, string) (string, error)

func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists every missing or invalid field.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes a secret reference that could not be resolved.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError lists required secrets that resolved to empty values.
type MissingSecretsError struct {
	Names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.Names, ", "))
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the dotenv file; an empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over the OS environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields, named like "PSP.PayUSalt", as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment (dotenv < OS < explicit map) so callers can
// build dependencies, such as the secret fetcher, from the same inputs as Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(dotenv))
	for k, v := range dotenv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[key] = value
			}
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// Load builds the configuration from defaults, the dotenv file, the environment, and secret
// references resolved through the configured SecretResolver.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(stringWithDefault(lookup, "API_ORDER_STORE", defaultStoreBackend)),
			MongoURI:      stringWithDefault(lookup, "API_MONGO_URI", ""),
			MongoDatabase: stringWithDefault(lookup, "API_MONGO_DATABASE", defaultMongoDatabase),
		},
		Storage: StorageConfig{
			ImagesBucket:  stringWithDefault(lookup, "API_STORAGE_IMAGES_BUCKET", ""),
			PublicBaseURL: stringWithDefault(lookup, "API_STORAGE_PUBLIC_BASE_URL", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			RazorpayKeyID:       stringWithDefault(lookup, "API_PSP_RAZORPAY_KEY_ID", ""),
			RazorpayKeySecret:   stringWithDefault(lookup, "API_PSP_RAZORPAY_KEY_SECRET", ""),
			PayUKey:             stringWithDefault(lookup, "API_PSP_PAYU_KEY", ""),
			PayUSalt:            stringWithDefault(lookup, "API_PSP_PAYU_SALT", ""),
			PayUEndpoint:        stringWithDefault(lookup, "API_PSP_PAYU_ENDPOINT", defaultPayUEndpoint),
			PayUSuccessURL:      stringWithDefault(lookup, "API_PSP_PAYU_SUCCESS_URL", ""),
			PayUFailureURL:      stringWithDefault(lookup, "API_PSP_PAYU_FAILURE_URL", ""),
			FrontendBaseURL:     strings.TrimRight(stringWithDefault(lookup, "API_FRONTEND_BASE_URL", ""), "/"),
		},
		Orders: OrdersConfig{
			NumberTimezone: stringWithDefault(lookup, "API_ORDER_NUMBER_TIMEZONE", defaultNumberTimezone),
		},
		Notifications: NotificationConfig{
			Sink:         strings.ToLower(stringWithDefault(lookup, "API_NOTIFICATIONS_SINK", defaultNotificationSink)),
			Timeout:      durationWithDefault(lookup, "API_NOTIFICATIONS_TIMEOUT", defaultNotificationTimeout),
			PubSubTopic:  stringWithDefault(lookup, "API_NOTIFICATIONS_PUBSUB_TOPIC", ""),
			KafkaBrokers: csvWithDefault(lookup, "API_NOTIFICATIONS_KAFKA_BROKERS"),
			KafkaTopic:   stringWithDefault(lookup, "API_NOTIFICATIONS_KAFKA_TOPIC", ""),
		},
		Security: SecurityConfig{
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Observability: ObservabilityConfig{
			LogLevel: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultOIDCIssuer}
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Store.MongoURI", &cfg.Store.MongoURI},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"PSP.RazorpayKeySecret", &cfg.PSP.RazorpayKeySecret},
		{"PSP.PayUSalt", &cfg.PSP.PayUSalt},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

// validateConfig also resolves derived fields such as the numbering location.
func validateConfig(cfg *Config) error {
	var invalid []string
	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}

	switch cfg.Store.Backend {
	case StoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoreMongo:
		if cfg.Store.MongoURI == "" {
			invalid = append(invalid, "Store.MongoURI")
		}
	case StoreMemory:
	default:
		invalid = append(invalid, "Store.Backend")
	}

	switch cfg.Notifications.Sink {
	case SinkLog:
	case SinkPubSub:
		if cfg.Notifications.PubSubTopic == "" {
			invalid = append(invalid, "Notifications.PubSubTopic")
		}
	case SinkKafka:
		if len(cfg.Notifications.KafkaBrokers) == 0 {
			invalid = append(invalid, "Notifications.KafkaBrokers")
		}
		if cfg.Notifications.KafkaTopic == "" {
			invalid = append(invalid, "Notifications.KafkaTopic")
		}
	default:
		invalid = append(invalid, "Notifications.Sink")
	}
	if cfg.Notifications.Timeout <= 0 {
		invalid = append(invalid, "Notifications.Timeout")
	}

	location, err := time.LoadLocation(cfg.Orders.NumberTimezone)
	if err != nil {
		invalid = append(invalid, "Orders.NumberTimezone")
	} else {
		cfg.Orders.Location = location
	}

	if (cfg.PSP.RazorpayKeyID == "") != (cfg.PSP.RazorpayKeySecret == "") {
		invalid = append(invalid, "PSP.Razorpay")
	}
	if (cfg.PSP.PayUKey == "") != (cfg.PSP.PayUSalt == "") {
		invalid = append(invalid, "PSP.PayU")
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		invalid = append(invalid, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		invalid = append(invalid, "Idempotency.CleanupBatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return &MissingSecretsError{Names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, _ := lookup(key)
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
