// Brokkr Broker — the multi-replica control plane that stores desired
// cluster state, queues work orders and webhook deliveries, and serves the
// poll API every registered agent talks to.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/brokkr-io/brokkr/internal/broker/audit"
	brokerconfig "github.com/brokkr-io/brokkr/internal/broker/config"
	"github.com/brokkr-io/brokkr/internal/broker/events"
	"github.com/brokkr-io/brokkr/internal/broker/httpapi"
	"github.com/brokkr-io/brokkr/internal/broker/identity"
	"github.com/brokkr-io/brokkr/internal/broker/metrics"
	"github.com/brokkr-io/brokkr/internal/broker/scheduler"
	"github.com/brokkr-io/brokkr/internal/broker/store/postgres"
	"github.com/brokkr-io/brokkr/internal/broker/targeting"
	"github.com/brokkr-io/brokkr/internal/broker/telemetry"
	"github.com/brokkr-io/brokkr/internal/broker/webhooks"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger, _ := zap.NewProduction()
	if os.Getenv("BROKKR_ENV") == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	cfg, err := brokerconfig.Load(os.Getenv("BROKKR_CONFIG_FILE"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := postgres.Open(ctx, postgres.Config{
		DSN:      cfg.DatastoreDSN,
		Schema:   cfg.DatastoreSchema,
		MaxConns: cfg.DatastoreMaxConns,
	}, logger)
	if err != nil {
		logger.Fatal("failed to open datastore", zap.Error(err))
	}
	defer store.Close()

	envelope, err := webhooks.NewEnvelope([]byte(cfg.WebhookEncryptionKey))
	if err != nil {
		logger.Fatal("failed to init webhook envelope", zap.Error(err))
	}

	bus := events.NewBus(1000)
	live := brokerconfig.NewLive(os.Getenv("BROKKR_CONFIG_FILE"), cfg)

	identityMW := identity.NewMiddleware(store, logger)
	resolver := targeting.New(store)
	webhookEngine := webhooks.New(store, bus, logger)
	auditWriter := audit.New(store, bus, logger)
	metricsRegistry := metrics.New()
	deliverer := webhooks.NewDeliverer(store, envelope, &http.Client{}, metricsRegistry)

	var telemetryProvider *telemetry.Provider
	if cfg.OTLPEndpoint != "" {
		telemetryProvider, err = telemetry.Setup(ctx, cfg.OTLPEndpoint, "brokkr-broker")
		if err != nil {
			logger.Warn("telemetry setup failed, continuing without tracing", zap.Error(err))
		}
	}

	go webhookEngine.Run(ctx, "webhook-engine")
	go auditWriter.Run(ctx, "audit-writer")

	tasks := []scheduler.Task{
		{
			Name:     "stale-claim-recovery",
			Interval: 30 * time.Second,
			Run: func(ctx context.Context) error {
				_, err := store.RecoverStaleClaims(ctx)
				return err
			},
		},
		{
			Name:     "webhook-delivery",
			Interval: time.Duration(cfg.WebhookDeliveryIntervalMS) * time.Millisecond,
			Run: func(ctx context.Context) error {
				_, err := deliverer.DeliverBatch(ctx, cfg.WebhookDeliveryBatchSize)
				return err
			},
		},
		{
			Name:     "webhook-ttl-reclaim",
			Interval: 30 * time.Second,
			Run: func(ctx context.Context) error {
				_, err := store.ReclaimExpiredDeliveries(ctx)
				return err
			},
		},
		{
			Name:     "diagnostic-cleanup",
			Interval: time.Duration(cfg.DiagnosticCleanupIntervalMS) * time.Millisecond,
			Run: func(ctx context.Context) error {
				_, err := store.ExpireStaleDiagnostics(ctx)
				return err
			},
		},
	}

	sched, err := scheduler.New(logger, tasks, "0 3 * * *", func(ctx context.Context) error {
		auditRetention := time.Duration(cfg.AuditRetentionDays) * 24 * time.Hour
		if _, err := store.PurgeAuditEvents(ctx, auditRetention); err != nil {
			return err
		}
		webhookRetention := time.Duration(cfg.WebhookCleanupRetentionDays) * 24 * time.Hour
		_, err := store.PurgeWebhookDeliveries(ctx, webhookRetention)
		return err
	})
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}
	sched.Start(ctx)
	defer sched.Stop()

	router := httpapi.NewRouter(&httpapi.Deps{
		Store:     store,
		Identity:  identityMW,
		Targeting: resolver,
		Webhooks:  webhookEngine,
		Envelope:  envelope,
		Config:    live,
		Metrics:   metricsRegistry,
		Bus:       bus,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting brokkr broker",
		zap.String("addr", cfg.ListenAddr),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	if telemetryProvider != nil {
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", zap.Error(err))
		}
	}
}
