package config

import (
	"strings"
	"time"

	"github.com/marmos91/deckwatch/pkg/dbserver"
	"github.com/marmos91/deckwatch/pkg/devices"
	"github.com/marmos91/deckwatch/pkg/finder"
	"github.com/marmos91/deckwatch/pkg/transport"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
// Zero values are replaced with defaults; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyShutdownTimeoutDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyAPIDefaults(&cfg.API)
	applyNetworkDefaults(&cfg.Network)
	applyDBServerDefaults(&cfg.DBServer)
	applyFinderDefaults(&cfg.Finders)
	applyArchiveDefaults(&cfg.Archives)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// applyMetricsDefaults sets the port only when metrics are enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyAPIDefaults(cfg *APIConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
}

func applyNetworkDefaults(cfg *NetworkConfig) {
	if cfg.AnnouncePort == 0 {
		cfg.AnnouncePort = transport.AnnouncementPort
	}
	if cfg.StatusPort == 0 {
		cfg.StatusPort = transport.StatusPort
	}
	if cfg.KeepaliveTimeout == 0 {
		cfg.KeepaliveTimeout = devices.DefaultKeepaliveTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = cfg.KeepaliveTimeout / 5
	}
}

func applyDBServerDefaults(cfg *DBServerConfig) {
	if cfg.PortQueryPort == 0 {
		cfg.PortQueryPort = dbserver.DefaultPortQueryPort
	}
	if cfg.PosingAs == 0 {
		cfg.PosingAs = 4
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = dbserver.DefaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = dbserver.DefaultRequestTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = dbserver.DefaultIdleTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = ByteSize(dbserver.DefaultMaxMessageSize)
	}
}

func applyFinderDefaults(cfg *FindersConfig) {
	if cfg.CacheCapacity == 0 {
		cfg.CacheCapacity = finder.DefaultCacheCapacity
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = finder.DefaultQueueSize
	}
	if cfg.Enabled == nil {
		cfg.Enabled = append([]string(nil), AllFinders...)
	}
}

func applyArchiveDefaults(cfg *ArchivesConfig) {
	for i := range cfg.Sources {
		if cfg.Sources[i].Type == ArchiveSQL {
			cfg.Sources[i].SQL.ApplyDefaults()
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
// Used to generate sample configuration files and in tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
