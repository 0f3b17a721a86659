package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/framecraft/api/internal/handlers"
	"github.com/framecraft/api/internal/notifications"
	"github.com/framecraft/api/internal/platform/auth"
	"github.com/framecraft/api/internal/platform/config"
	"github.com/framecraft/api/internal/platform/idempotency"
	"github.com/framecraft/api/internal/platform/metrics"
	"github.com/framecraft/api/internal/platform/observability"
	"github.com/framecraft/api/internal/platform/textutil"
	"github.com/framecraft/api/internal/repositories"
	"github.com/framecraft/api/internal/services"
)

const (
	shutdownTimeout      = 10 * time.Second
	notificationDrainMax = 5 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.Names))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry := metrics.New()

	store, err := openOrderStore(ctx, cfg, logger.Named("store"))
	if err != nil {
		logger.Fatal("failed to initialise order store", zap.Error(err), zap.String("backend", cfg.Store.Backend))
	}
	defer store.Close()

	gateways, err := newPaymentManager(cfg, baseLogger)
	if err != nil {
		logger.Fatal("failed to initialise payment gateways", zap.Error(err))
	}
	logger.Info("payment gateways configured", zap.Strings("providers", gateways.Providers()))

	sink, err := newNotificationSink(ctx, cfg, logger.Named("notifications"))
	if err != nil {
		logger.Fatal("failed to initialise notification sink", zap.Error(err), zap.String("sink", cfg.Notifications.Sink))
	}
	defer sink.Close()

	dispatcher, err := notifications.NewDispatcher(sink.Sink,
		notifications.WithTimeout(cfg.Notifications.Timeout),
		notifications.WithLogger(baseLogger),
		notifications.WithObserver(registry),
	)
	if err != nil {
		logger.Fatal("failed to initialise notification dispatcher", zap.Error(err))
	}

	uploader, closeUploader, err := newImageUploader(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise image uploader", zap.Error(err))
	}
	defer closeUploader()

	sequence, err := services.NewSequenceGenerator(services.SequenceGeneratorDeps{
		Counters: store.Counters,
		Clock:    time.Now,
		Location: cfg.Orders.Location,
	})
	if err != nil {
		logger.Fatal("failed to initialise order number sequence", zap.Error(err))
	}

	machine, err := services.NewOrderStateMachine(services.OrderStateMachineDeps{
		Orders:        store.Orders,
		Notifications: dispatcher,
		Clock:         time.Now,
		Logger:        observability.ServiceLogger(baseLogger, "orders.state"),
	})
	if err != nil {
		logger.Fatal("failed to initialise order state machine", zap.Error(err))
	}

	orderDeps := services.OrderServiceDeps{
		Orders:        store.Orders,
		Numbers:       sequence,
		StateMachine:  machine,
		Notifications: dispatcher,
		Clock:         time.Now,
		Sanitize:      textutil.NewPlainTextSanitizer(),
		Logger:        observability.ServiceLogger(baseLogger, "orders"),
	}
	if uploader != nil {
		orderDeps.Images = uploader
	}
	orderService, err := services.NewOrderService(orderDeps)
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	reconciler, err := services.NewPaymentReconciler(services.PaymentReconcilerDeps{
		Orders:        store.Orders,
		StateMachine:  machine,
		Gateways:      gateways,
		Notifications: dispatcher,
		Metrics:       registry,
		Logger:        observability.ServiceLogger(baseLogger, "payments.reconcile"),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment reconciler", zap.Error(err))
	}

	bulk, err := services.NewBulkOrderService(services.BulkOrderServiceDeps{
		StateMachine: machine,
		Logger:       observability.ServiceLogger(baseLogger, "orders.bulk"),
	})
	if err != nil {
		logger.Fatal("failed to initialise bulk coordinator", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyStore := store.Idempotency
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	checks := append([]repositories.DependencyCheck(nil), store.Checks...)
	checks = append(checks, sink.Checks...)
	probe, err := repositories.NewReadinessProbe(checks, time.Now)
	if err != nil {
		logger.Fatal("failed to initialise readiness probe", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, startedAt)),
		handlers.WithHealthProbe(probe),
	)

	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, machine, bulk,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, orderService, gateways, reconciler,
		handlers.WithPaymentRateLimit(paymentRateLimit, paymentRateWindow, time.Now),
	)
	webhookHandlers := handlers.NewWebhookHandlers(reconciler, cfg.PSP.FrontendBaseURL)
	internalHandlers := handlers.NewInternalHandlers(bulk)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(projectID),
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		registry.Middleware(),
		observability.PrincipalMiddleware(),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(registry.Handler()),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidc := buildOIDCMiddleware(logger.Named("auth"), cfg, registry); oidc != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidc))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("framecraft api listening",
			zap.String("store", cfg.Store.Backend),
			zap.String("notifications", cfg.Notifications.Sink),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), notificationDrainMax)
	defer drainCancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn("notification drain incomplete", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
