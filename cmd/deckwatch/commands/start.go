package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/deckwatch/internal/logger"
	"github.com/marmos91/deckwatch/internal/telemetry"
	"github.com/marmos91/deckwatch/pkg/api"
	"github.com/marmos91/deckwatch/pkg/config"
	"github.com/marmos91/deckwatch/pkg/lifecycle"
	"github.com/marmos91/deckwatch/pkg/metrics"
	"github.com/marmos91/deckwatch/pkg/runtime"
)

var (
	startPassive   bool
	startInterface string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start observing the DJ Link network",
	Long: `Start the observer in the foreground.

The observer binds the announcement and status ports, tracks devices and
resolves track resources for every loaded deck. The status API and the
metrics endpoint are started when enabled in the configuration.

Examples:
  # Start with the default config location
  deckwatch start

  # Only answer from caches and archives, never query players
  deckwatch start --passive

  # Ignore traffic from other networks
  deckwatch start --interface en0

  # Override configuration with environment variables
  DECKWATCH_LOGGING_LEVEL=DEBUG deckwatch start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startPassive, "passive", false, "Never open database sessions (overrides finders.passive)")
	startCmd.Flags().StringVar(&startInterface, "interface", "", "Only accept packets from this interface's networks (overrides network.interface)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("passive") {
		cfg.Finders.Passive = startPassive
	}
	if cmd.Flags().Changed("interface") {
		cfg.Network.Interface = startInterface
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "deckwatch",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "deckwatch",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}

	svc := lifecycle.New(cfg.ShutdownTimeout)

	// The registry must exist before the runtime so its collectors land in it.
	if cfg.Metrics.Enabled {
		reg := metrics.InitRegistry()
		svc.AddServer(metrics.NewServer(cfg.Metrics.Port, reg))
		logger.Info("Metrics enabled", logger.KeyPort, cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	rt, err := runtime.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize observer: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn("Closing archives failed", logger.KeyError, err)
		}
	}()

	if cfg.API.Enabled {
		apiServer, err := api.NewServer(api.Config{
			Port:         cfg.API.Port,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
			JWTSecret:    cfg.API.JWTSecret,
		}, rt)
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		svc.AddServer(apiServer)
		logger.Info("API server enabled", logger.KeyPort, cfg.API.Port, "auth", cfg.API.JWTSecret != "")
	} else {
		logger.Info("API server disabled")
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- svc.Serve(ctx, rt)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Observer is running. Press Ctrl+C to stop.",
		"announce_port", cfg.Network.AnnouncePort,
		"status_port", cfg.Network.StatusPort,
		"passive", cfg.Finders.Passive)

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Shutdown error", logger.KeyError, err)
			return err
		}
		logger.Info("Observer stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Observer error", logger.KeyError, err)
			return err
		}
		logger.Info("Observer stopped")
	}

	return nil
}
