package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/opsim/internal/logger"
	"github.com/marmos91/opsim/internal/telemetry"
	opadapter "github.com/marmos91/opsim/pkg/adapter/openprotocol"
	"github.com/marmos91/opsim/pkg/api"
	"github.com/marmos91/opsim/pkg/catalog"
	"github.com/marmos91/opsim/pkg/config"
	"github.com/marmos91/opsim/pkg/metrics"
	metricsprom "github.com/marmos91/opsim/pkg/metrics/prometheus"
	"github.com/marmos91/opsim/pkg/persistence"
	"github.com/marmos91/opsim/pkg/scenario"
	"github.com/marmos91/opsim/pkg/simulator"
	"github.com/marmos91/opsim/pkg/simulator/dispatch"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the simulator",
	Long: `Start the Open Protocol simulator with the specified configuration.

The simulator opens three protocol listeners (classic, actor, viewer), the
REST control plane, and optionally a durable state store.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/opsim/config.yaml.

Examples:
  # Start with default config location
  opsim start

  # Start with custom config file
  opsim start --config /etc/opsim/config.yaml

  # Start with environment variable overrides
  OPSIM_LOGGING_LEVEL=DEBUG SIM_PROFILE=cleco opsim start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "opsim",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "opsim",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	fmt.Println("opsim - Open Protocol controller simulator")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Initialize metrics FIRST (before creating collectors that check IsEnabled)
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Load MID catalog and controller profiles
	cat, profiles, err := loadCatalog(&cfg.Simulator)
	if err != nil {
		return err
	}
	logger.Info("Catalog loaded",
		"mids", cat.Len(),
		"profiles", len(profiles.Names()),
		"active", profiles.ActiveName())

	// Hot-reload profiles when a data directory is configured
	if cfg.Simulator.DataDir != "" {
		profilesDir := filepath.Join(cfg.Simulator.DataDir, "profiles")
		if err := catalog.WatchProfiles(ctx, profilesDir, profiles); err != nil {
			logger.Warn("Profile hot-reload disabled", "dir", profilesDir, "error", err)
		} else {
			logger.Info("Profile hot-reload enabled", "dir", profilesDir)
		}
	}

	// Open the durable store (if enabled)
	var persist simulator.Persistence = simulator.NopPersistence{}
	if cfg.Simulator.Persist {
		pcfg := &persistence.Config{Type: persistence.DatabaseTypeSQLite}
		pcfg.SQLite.Path = cfg.Simulator.DBPath
		store, err := persistence.New(pcfg)
		if err != nil {
			return fmt.Errorf("failed to open state database: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("state database close error", "error", err)
			}
		}()
		persist = store
		logger.Info("Persistence enabled", "path", cfg.Simulator.DBPath)
	} else {
		logger.Info("Persistence disabled")
	}

	// Build the simulator core and the protocol dispatcher
	state := simulator.NewState(simulator.Options{
		Catalog:          cat,
		Profiles:         profiles,
		Persistence:      persist,
		KeepaliveTimeout: cfg.Simulator.KeepaliveTimeout(),
		InactivityHint:   cfg.Simulator.InactivityHintSec,
		MaxSessions:      cfg.Simulator.MaxSessions,
	})
	dispatcher := dispatch.New(state)

	// TCP adapter owns the three protocol listeners
	adapter := opadapter.New(opadapter.Config{
		Host:            cfg.Host,
		ClassicPort:     cfg.Simulator.ClassicPort,
		ActorPort:       cfg.Simulator.ActorPort,
		ViewerPort:      cfg.Simulator.ViewerPort,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, state, dispatcher, metricsprom.NewOpenProtocolMetrics())

	// Scenario replay
	lib, err := loadScenarios(&cfg.Simulator)
	if err != nil {
		return err
	}
	runner := scenario.NewRunner(lib, adapter)
	logger.Info("Scenarios loaded", "count", len(runner.Names()))

	// REST control plane
	handlers := api.NewHandlers(state, adapter, runner, Version, api.Ports{
		Classic: cfg.Simulator.ClassicPort,
		Actor:   cfg.Simulator.ActorPort,
		Viewer:  cfg.Simulator.ViewerPort,
	})
	apiServer := api.NewServer(api.APIConfig{
		Host: cfg.Host,
		Port: cfg.APIPort,
	}, handlers)

	// Start both servers in background
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return adapter.Serve(gctx) })
	g.Go(func() error { return apiServer.Start(gctx) })

	serverDone := make(chan error, 1)
	go func() { serverDone <- g.Wait() }()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Simulator is running. Press Ctrl+C to stop.",
		"classic", cfg.Simulator.ClassicPort,
		"actor", cfg.Simulator.ActorPort,
		"viewer", cfg.Simulator.ViewerPort,
		"api", cfg.APIPort)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for servers to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}
