package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/SujJR/ESign-sub002/internal/platform/config"
	"github.com/SujJR/ESign-sub002/internal/platform/database"
	"github.com/SujJR/ESign-sub002/internal/platform/logger"
	"github.com/SujJR/ESign-sub002/internal/platform/messagebroker"
	"github.com/SujJR/ESign-sub002/internal/signature_service/adapters/httpapi"
	"github.com/SujJR/ESign-sub002/internal/signature_service/adapters/notifier"
	"github.com/SujJR/ESign-sub002/internal/signature_service/adapters/storage"
	"github.com/SujJR/ESign-sub002/internal/signature_service/app"
	"github.com/SujJR/ESign-sub002/internal/signature_service/provider"
	"github.com/SujJR/ESign-sub002/internal/signature_service/repository/postgres"
)

const (
	natsProviderEventSubject = "esign.events.provider"
	natsProviderEventQueue   = "esign_event_workers"
	natsNotificationSubject  = "esign.notifications.signing_requested"
)

func main() {
	cfg, err := config.Load("signature_service")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger.Info("Signature service starting...", "log_level", cfg.LogLevel)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := database.NewDBPool(rootCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Connected to PostgreSQL")

	natsClient, err := messagebroker.NewNatsClient(cfg.NATSUrl, "signature-service", appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	appLogger.Info("Connected to NATS")

	transport := provider.NewTransport(appLogger, nil, provider.TransportOptions{
		MaxAttempts: cfg.TransportMaxAttempts,
		BaseTimeout: time.Duration(cfg.TransportBaseTimeoutSec) * time.Second,
		TimeoutStep: time.Duration(cfg.TransportTimeoutStepSec) * time.Second,
		BaseBackoff: time.Duration(cfg.TransportBaseBackoffMillis) * time.Millisecond,
		MaxJitter:   time.Duration(cfg.TransportMaxJitterMillis) * time.Millisecond,
	})
	signProvider := provider.NewAdobeSignProvider(appLogger, transport, cfg.ProviderBaseURL, cfg.ProviderAccessToken)

	gate := app.NewRateLimitGate()
	strategy := app.NewAgreementCreationStrategy(signProvider, gate, appLogger)
	verifier := app.NewRecoveryVerifier(signProvider, appLogger)
	reconciler := app.NewStatusReconciler(appLogger)
	docRepo := postgres.NewPgDocumentRepository(dbPool)
	docStorage := storage.NewLocalStorage(cfg.DocumentDir)
	signingNotifier := notifier.NewNatsNotifier(natsClient, natsNotificationSubject, appLogger)

	appService := app.NewSignatureAppService(
		docRepo, signProvider, docStorage, signingNotifier,
		strategy, verifier, reconciler, gate,
		app.RecoveryPosture(cfg.RecoveryPosture), appLogger,
	)

	if cfg.RegisterWebhook && cfg.ProviderWebhookURL != "" {
		registerWebhook(rootCtx, signProvider, cfg.ProviderWebhookURL, appLogger)
	}

	eventConsumer := app.NewProviderEventConsumer(natsClient, appService, appLogger)
	if err := eventConsumer.Start(rootCtx, natsProviderEventSubject, natsProviderEventQueue); err != nil {
		appLogger.Error("Failed to start provider event consumer", "error", err)
		os.Exit(1)
	}
	defer eventConsumer.Stop()

	router := chi.NewRouter()
	router.Use(chi_middleware.RequestID)
	router.Use(chi_middleware.RealIP)
	router.Use(chi_middleware.Recoverer)

	docHandler := httpapi.NewDocumentHandler(appService, appLogger)
	docHandler.RegisterRoutes(router)
	webhookHandler := httpapi.NewWebhookHandler(natsClient, natsProviderEventSubject, cfg.ProviderWebhookSecret, appLogger)
	router.Post("/webhooks/provider", webhookHandler.HandleProviderEvent)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		appLogger.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("Service terminated with error", "error", err)
		os.Exit(1)
	}
	appLogger.Info("Signature service stopped")
}

// registerWebhook asks the provider to deliver agreement events to this
// service. An already-registered webhook is not an error.
func registerWebhook(ctx context.Context, signProvider provider.SignatureProvider, callbackURL string, log *slog.Logger) {
	req := &provider.CreateWebhookRequest{
		Name:  "signature-service-events",
		Scope: "ACCOUNT",
		State: "ACTIVE",
		WebhookSubscriptionEvents: []string{
			"AGREEMENT_ACTION_COMPLETED",
			"AGREEMENT_ACTION_DECLINED",
			"AGREEMENT_WORKFLOW_COMPLETED",
			"AGREEMENT_EXPIRED",
		},
	}
	req.WebhookURLInfo.URL = callbackURL

	regCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := signProvider.CreateWebhook(regCtx, req); err != nil {
		var provErr *provider.ProviderError
		if errors.As(err, &provErr) && provErr.StatusCode == http.StatusConflict {
			log.Info("Provider webhook already registered", "url", callbackURL)
			return
		}
		log.Warn("Failed to register provider webhook; falling back to polling",
			"error", err, "url", callbackURL)
		return
	}
	log.Info("Registered provider webhook", "url", callbackURL)
}
