package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tidemark/flotilla/pkg/api"
	"github.com/tidemark/flotilla/pkg/artifacts"
	"github.com/tidemark/flotilla/pkg/clock"
	"github.com/tidemark/flotilla/pkg/config"
	"github.com/tidemark/flotilla/pkg/dispatch"
	"github.com/tidemark/flotilla/pkg/events"
	"github.com/tidemark/flotilla/pkg/failover"
	"github.com/tidemark/flotilla/pkg/idle"
	"github.com/tidemark/flotilla/pkg/jobs"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/metrics"
	"github.com/tidemark/flotilla/pkg/probe"
	"github.com/tidemark/flotilla/pkg/quota"
	"github.com/tidemark/flotilla/pkg/registry"
	"github.com/tidemark/flotilla/pkg/storage"
	"github.com/tidemark/flotilla/pkg/types"
)

const shutdownTimeout = 15 * time.Second

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the Flotilla control plane",
	Long: `Start the control plane daemon: the job tracker, artifact store,
quota manager, failover manager, and idle manager, served over the
HTTP API with an event stream, metrics, and health probes.`,
	RunE: runDaemon,
}

func init() {
	daemonCmd.Flags().String("config", "", "path to YAML config file")
	daemonCmd.Flags().String("listen-addr", "", "API listen address (overrides config)")
	daemonCmd.Flags().String("data-dir", "", "data directory (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addr, _ := cmd.Flags().GetString("listen-addr"); addr != "" {
		cfg.Server.ListenAddr = addr
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Storage.DataDir = dir
	}

	logger := log.WithComponent("daemon")
	clk := clock.New()

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := storage.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("storage", true, "bolt store open")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	tracker, err := jobs.NewTracker(jobs.Config{MaxHistory: cfg.Jobs.MaxHistory}, clk, broker)
	if err != nil {
		return err
	}
	metrics.RegisterComponent("jobs", true, "tracker ready")

	var artifactOpts []artifacts.Option
	if cfg.Artifacts.Persist {
		artifactOpts = append(artifactOpts, artifacts.WithPersistence(store))
	}
	artifactStore, err := artifacts.NewStore(artifacts.Config{
		MaxAge:               cfg.Artifacts.MaxAge,
		MaxTotalSizeBytes:    cfg.Artifacts.MaxTotalSizeBytes,
		MaxPerJob:            cfg.Artifacts.MaxPerJob,
		MaxArtifactSizeBytes: cfg.Artifacts.MaxArtifactSizeBytes,
	}, clk, artifactOpts...)
	if err != nil {
		return err
	}
	if cfg.Artifacts.Persist {
		if err := artifactStore.Restore(); err != nil {
			return fmt.Errorf("restore artifacts: %w", err)
		}
	}
	artifactStore.StartCleanup(cfg.Artifacts.CleanupInterval)
	defer artifactStore.StopCleanup()

	quotaManager := quota.NewManager(clk, broker)

	failoverManager, err := failover.NewManager(failover.Config{}, clk, broker)
	if err != nil {
		return err
	}
	for _, rc := range cfg.Regions {
		err := failoverManager.RegisterRegion(types.RegionConfig{
			RegionID:          rc.RegionID,
			BackupRegionID:    rc.BackupRegionID,
			FailureThreshold:  rc.FailureThreshold,
			CheckInterval:     rc.CheckInterval,
			FailbackDelay:     rc.FailbackDelay,
			RecoveryThreshold: rc.RecoveryThreshold,
		})
		if err != nil {
			return fmt.Errorf("register region %s: %w", rc.RegionID, err)
		}
	}
	metrics.RegisterComponent("failover", true, fmt.Sprintf("%d regions", len(cfg.Regions)))

	idleManager, err := idle.NewManager(idle.Config{
		IdleTimeout:             cfg.Idle.IdleTimeout,
		MinSleepDuration:        cfg.Idle.MinSleepDuration,
		WakeUpTime:              cfg.Idle.WakeUpTime,
		DefaultCostPerHourCents: cfg.Idle.DefaultCostPerHourCents,
	}, clk, broker)
	if err != nil {
		return err
	}
	idleManager.StartIdleCheck(cfg.Idle.CheckInterval)
	defer idleManager.StopIdleCheck()

	nodeRegistry := registry.NewStoreRegistry(store)
	prober := probe.NewProber(clk, nodeRegistry, failoverManager)
	prober.Start()
	defer prober.Stop()

	server := api.NewServer(api.Deps{
		Dispatcher: dispatch.NewDispatcher(tracker, artifactStore, quotaManager),
		Tracker:    tracker,
		Artifacts:  artifactStore,
		Quota:      quotaManager,
		Failover:   failoverManager,
		Idle:       idleManager,
		Registry:   nodeRegistry,
		Admitter:   nodeRegistry,
		Broker:     broker,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(cfg.Server.ListenAddr)
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info().
		Str("addr", cfg.Server.ListenAddr).
		Str("data_dir", cfg.Storage.DataDir).
		Msg("flotilla daemon started")

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
