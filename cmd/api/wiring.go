package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/framecraft/api/internal/notifications"
	"github.com/framecraft/api/internal/payments"
	"github.com/framecraft/api/internal/platform/auth"
	"github.com/framecraft/api/internal/platform/config"
	pfirestore "github.com/framecraft/api/internal/platform/firestore"
	"github.com/framecraft/api/internal/platform/idempotency"
	"github.com/framecraft/api/internal/platform/observability"
	"github.com/framecraft/api/internal/platform/secrets"
	platformstorage "github.com/framecraft/api/internal/platform/storage"
	"github.com/framecraft/api/internal/repositories"
	firestoreRepo "github.com/framecraft/api/internal/repositories/firestore"
	memoryRepo "github.com/framecraft/api/internal/repositories/memory"
	mongoRepo "github.com/framecraft/api/internal/repositories/mongo"
)

const (
	paymentRateLimit  = 20
	paymentRateWindow = time.Minute
)

// orderStore bundles the repositories of the selected backend with its readiness checks.
type orderStore struct {
	Orders      repositories.OrderRepository
	Counters    repositories.CounterRepository
	Idempotency idempotency.Store
	Checks      []repositories.DependencyCheck
	closers     []func()
}

func (s *orderStore) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openOrderStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*orderStore, error) {
	switch cfg.Store.Backend {
	case config.StoreFirestore:
		return openFirestoreStore(ctx, cfg, logger)
	case config.StoreMongo:
		return openMongoStore(ctx, cfg, logger)
	case config.StoreMemory:
		logger.Warn("using in-memory order store; data is lost on restart")
		orders := memoryRepo.NewOrderRepository()
		return &orderStore{
			Orders:      orders,
			Counters:    memoryRepo.NewCounterRepository(),
			Idempotency: idempotency.NewMemoryStore(),
			Checks: []repositories.DependencyCheck{{
				Name:  "orders",
				Check: func(context.Context) error { return nil },
			}},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported order store %q", cfg.Store.Backend)
	}
}

func openFirestoreStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*orderStore, error) {
	provider := pfirestore.NewProvider(cfg.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	counters, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	return &orderStore{
		Orders:      orders,
		Counters:    counters,
		Idempotency: idempotency.NewFirestoreStore(client),
		Checks: []repositories.DependencyCheck{{
			Name:  "firestore",
			Check: provider.Ping,
		}},
		closers: []func(){func() {
			if err := provider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}},
	}, nil
}

func openMongoStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (*orderStore, error) {
	client, err := mongoRepo.Connect(ctx, cfg.Store.MongoURI)
	if err != nil {
		return nil, err
	}
	db := client.Database(cfg.Store.MongoDatabase)
	if err := mongoRepo.EnsureOrderIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Warn("idempotency keys are held in memory with the mongo store; replays are per instance")
	return &orderStore{
		Orders:      mongoRepo.NewOrderRepository(db),
		Counters:    mongoRepo.NewCounterRepository(db),
		Idempotency: idempotency.NewMemoryStore(),
		Checks: []repositories.DependencyCheck{{
			Name: "mongo",
			Check: func(ctx context.Context) error {
				return client.Ping(ctx, nil)
			},
		}},
		closers: []func(){func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(closeCtx); err != nil {
				logger.Warn("mongo disconnect error", zap.Error(err))
			}
		}},
	}, nil
}

// newPaymentManager registers every provider whose credentials are present.
func newPaymentManager(cfg config.Config, base *zap.Logger) (*payments.Manager, error) {
	var gateways []payments.Gateway
	psp := cfg.PSP
	if strings.TrimSpace(psp.StripeAPIKey) != "" {
		gw, err := payments.NewStripeGateway(payments.StripeConfig{
			APIKey:        psp.StripeAPIKey,
			WebhookSecret: psp.StripeWebhookSecret,
			Logger:        observability.ServiceLogger(base, "payments.stripe"),
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	if strings.TrimSpace(psp.RazorpayKeyID) != "" {
		gw, err := payments.NewRazorpayGateway(payments.RazorpayConfig{
			KeyID:     psp.RazorpayKeyID,
			KeySecret: psp.RazorpayKeySecret,
			Client:    &http.Client{Timeout: 15 * time.Second},
			Logger:    observability.ServiceLogger(base, "payments.razorpay"),
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	if strings.TrimSpace(psp.PayUKey) != "" {
		gw, err := payments.NewPayUGateway(payments.PayUConfig{
			Key:        psp.PayUKey,
			Salt:       psp.PayUSalt,
			Endpoint:   psp.PayUEndpoint,
			SuccessURL: psp.PayUSuccessURL,
			FailureURL: psp.PayUFailureURL,
			Logger:     observability.ServiceLogger(base, "payments.payu"),
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	return payments.NewManager(gateways...)
}

// notificationSink is the configured sink plus its shutdown hook and readiness checks.
type notificationSink struct {
	Sink   notifications.Sink
	Checks []repositories.DependencyCheck
	close  func()
}

func (s *notificationSink) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

func newNotificationSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (*notificationSink, error) {
	switch cfg.Notifications.Sink {
	case config.SinkLog:
		return &notificationSink{Sink: notifications.NewLogSink(logger)}, nil
	case config.SinkPubSub:
		client, err := pubsub.NewClient(ctx, traceProjectID(cfg))
		if err != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notifications.PubSubTopic)
		sink, err := notifications.NewPubSubSink(topic)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return &notificationSink{
			Sink: sink,
			Checks: []repositories.DependencyCheck{{
				Name: "notifications",
				Check: func(ctx context.Context) error {
					exists, err := topic.Exists(ctx)
					if err != nil {
						return err
					}
					if !exists {
						return fmt.Errorf("topic %s not found", topic.ID())
					}
					return nil
				},
			}},
			close: func() {
				sink.Stop()
				if err := client.Close(); err != nil {
					logger.Warn("pubsub close error", zap.Error(err))
				}
			},
		}, nil
	case config.SinkKafka:
		sink, err := notifications.NewKafkaSink(cfg.Notifications.KafkaBrokers, cfg.Notifications.KafkaTopic, logger)
		if err != nil {
			return nil, err
		}
		return &notificationSink{
			Sink: sink,
			close: func() {
				if err := sink.Close(); err != nil {
					logger.Warn("kafka producer close error", zap.Error(err))
				}
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported notification sink %q", cfg.Notifications.Sink)
	}
}

// newImageUploader returns nil when no bucket is configured; frame images are then rejected.
func newImageUploader(ctx context.Context, cfg config.Config) (*platformstorage.Uploader, func(), error) {
	bucket := strings.TrimSpace(cfg.Storage.ImagesBucket)
	if bucket == "" {
		return nil, func() {}, nil
	}
	var opts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := cloudstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("storage client: %w", err)
	}
	uploader, err := platformstorage.NewUploader(client, bucket, platformstorage.WithPublicBaseURL(cfg.Storage.PublicBaseURL))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return uploader, func() { _ = client.Close() }, nil
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, recorder auth.MetricsRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache, auth.WithOIDCLogger(logger), auth.WithOIDCMetrics(recorder))

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if ttl := lookup("API_SECRET_CACHE_TTL"); ttl != "" {
		parsed, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("API_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(parsed))
	}
	if file := lookup("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames marks the secret half of every provider whose public key is configured.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	present := func(key string) bool { return strings.TrimSpace(env[key]) != "" }
	if present("API_PSP_STRIPE_API_KEY") {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	if present("API_PSP_RAZORPAY_KEY_ID") {
		required = append(required, "PSP.RazorpayKeySecret")
	}
	if present("API_PSP_PAYU_KEY") {
		required = append(required, "PSP.PayUSalt")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_ORDER_STORE"]), config.StoreMongo) {
		required = append(required, "Store.MongoURI")
	}
	return required
}
