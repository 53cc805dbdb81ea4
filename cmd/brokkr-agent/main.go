// Brokkr Agent — the single-process poll loop that reconciles one cluster
// against its broker-assigned desired state, claims work orders and
// diagnostics, and relays agent-mode webhook deliveries.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	agentclient "github.com/brokkr-io/brokkr/internal/agent/client"
	agentcluster "github.com/brokkr-io/brokkr/internal/agent/cluster"
	agentconfig "github.com/brokkr-io/brokkr/internal/agent/config"
	"github.com/brokkr-io/brokkr/internal/agent/courier"
	"github.com/brokkr-io/brokkr/internal/agent/diagnostics"
	"github.com/brokkr-io/brokkr/internal/agent/executor"
	"github.com/brokkr-io/brokkr/internal/agent/poll"
	"github.com/brokkr-io/brokkr/internal/agent/reconciler"
	"github.com/brokkr-io/brokkr/internal/agent/status"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger, _ := zap.NewProduction()
	if os.Getenv("BROKKR_AGENT_ENV") == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	cfg, err := agentconfig.Load(os.Getenv("BROKKR_AGENT_CONFIG_FILE"))
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cluster, err := agentcluster.NewFromKubeconfig(cfg.KubeconfigPath)
	if err != nil {
		logger.Fatal("failed to build cluster client", zap.Error(err))
	}

	broker := agentclient.New(cfg.BrokerURL, cfg.PAK, &http.Client{})

	principal, err := broker.AuthPAK(ctx)
	if err != nil {
		logger.Fatal("failed to authenticate with broker", zap.Error(err))
	}
	logger.Info("authenticated with broker",
		zap.String("agent_id", principal.ID),
		zap.String("cluster_name", principal.ClusterName),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	recon := reconciler.NewWithRetry(cluster, logger, cfg.ApplyMaxRetries, cfg.ApplyBackoff())
	collector := diagnostics.New(cluster)
	exec := executor.New(recon)
	deliverer := courier.New(cfg.LocalRelayURL, &http.Client{})
	statusServer := status.New(cfg.HealthAddr)

	loop := poll.New(broker, recon, collector, deliverer, exec, statusServer, principal.ID, cfg.PollingInterval(), cfg.ReportHealthPatch, logger)

	go func() {
		if err := statusServer.Run(ctx); err != nil {
			logger.Error("status server error", zap.Error(err))
		}
	}()

	logger.Info("starting poll loop", zap.Duration("interval", cfg.PollingInterval()))
	loop.Run(ctx)

	logger.Info("shutting down")
}
