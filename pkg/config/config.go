package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/deckwatch/pkg/archive"
	"github.com/marmos91/deckwatch/pkg/archive/sqlstore"
)

// Config represents the deckwatch configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DECKWATCH_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the HTTP status API configuration
	API APIConfig `mapstructure:"api" yaml:"api"`

	// Network selects the interface and ports DJ Link traffic arrives on
	Network NetworkConfig `mapstructure:"network" yaml:"network"`

	// DBServer configures conversations with player database services
	DBServer DBServerConfig `mapstructure:"dbserver" yaml:"dbserver"`

	// Finders configures the metadata, artwork, waveform and beat grid finders
	Finders FindersConfig `mapstructure:"finders" yaml:"finders"`

	// Archives lists offline sources consulted before asking players
	Archives ArchivesConfig `mapstructure:"archives" yaml:"archives"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the API
	// Default: 8080
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// JWTSecret enables bearer token authentication when set. Tokens are
	// minted with "deckwatch token".
	JWTSecret string `mapstructure:"jwt_secret" validate:"omitempty,min=32" yaml:"jwt_secret,omitempty"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// NetworkConfig selects where DJ Link packets are received.
type NetworkConfig struct {
	// Interface restricts packets to senders on this interface's networks.
	// Empty accepts packets from anywhere.
	Interface string `mapstructure:"interface" yaml:"interface,omitempty"`

	// AnnouncePort receives device keep-alives
	// Default: 50000
	AnnouncePort int `mapstructure:"announce_port" validate:"min=1,max=65535" yaml:"announce_port"`

	// StatusPort receives CDJ and mixer status packets
	// Default: 50002
	StatusPort int `mapstructure:"status_port" validate:"min=1,max=65535,nefield=AnnouncePort" yaml:"status_port"`

	// KeepaliveTimeout is how long a silent device stays on the network
	// Default: 10s
	KeepaliveTimeout time.Duration `mapstructure:"keepalive_timeout" validate:"gt=0" yaml:"keepalive_timeout"`

	// SweepInterval is how often silent devices are expired
	// Default: a fifth of KeepaliveTimeout
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0,ltefield=KeepaliveTimeout" yaml:"sweep_interval"`
}

// DBServerConfig configures conversations with player database services.
type DBServerConfig struct {
	// PortQueryPort is where players answer database port queries
	// Default: 12523
	PortQueryPort int `mapstructure:"port_query_port" validate:"min=1,max=65535" yaml:"port_query_port"`

	// PosingAs is the player number claimed in session setup. It must not
	// collide with a real player on the network.
	// Default: 4
	PosingAs int `mapstructure:"posing_as" validate:"min=1,max=4" yaml:"posing_as"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gt=0" yaml:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0" yaml:"request_timeout"`

	// IdleTimeout closes sessions nobody has used for this long
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gt=0" yaml:"idle_timeout"`

	// MaxMessageSize bounds a single response
	// Supports human-readable formats: "1MiB", "512KB"
	// Default: 1MiB
	MaxMessageSize ByteSize `mapstructure:"max_message_size" validate:"gte=1024" yaml:"max_message_size"`
}

// Finder kinds accepted in FindersConfig.Enabled.
const (
	FinderMetadata = "metadata"
	FinderArtwork  = "artwork"
	FinderWaveform = "waveform"
	FinderBeatGrid = "beat_grid"
)

// AllFinders lists every finder kind, metadata first.
var AllFinders = []string{FinderMetadata, FinderArtwork, FinderWaveform, FinderBeatGrid}

// FindersConfig configures the resource finders.
type FindersConfig struct {
	// CacheCapacity is the LRU size of each finder
	// Default: 100
	CacheCapacity int `mapstructure:"cache_capacity" validate:"min=1" yaml:"cache_capacity"`

	// QueueSize bounds the pending update queue of each finder
	// Default: 100
	QueueSize int `mapstructure:"queue_size" validate:"min=1" yaml:"queue_size"`

	// Passive finders answer from caches and archives only
	Passive bool `mapstructure:"passive" yaml:"passive"`

	// Enabled lists the finder kinds to run
	// Default: all of them
	Enabled []string `mapstructure:"enabled" validate:"dive,oneof=metadata artwork waveform beat_grid" yaml:"enabled"`
}

// IsEnabled reports whether kind is in Enabled.
func (c FindersConfig) IsEnabled(kind string) bool {
	for _, k := range c.Enabled {
		if k == kind {
			return true
		}
	}
	return false
}

// Archive source types.
const (
	ArchiveZip    = "zip"
	ArchiveBadger = "badger"
	ArchiveS3     = "s3"
	ArchiveSQL    = "sql"
)

// ArchivesConfig lists offline archives.
type ArchivesConfig struct {
	// Directory is watched for "<player>-<slot>.zip" archives, which are
	// attached to that slot while the file exists.
	Directory string `mapstructure:"directory" yaml:"directory,omitempty"`

	Sources []ArchiveSourceConfig `mapstructure:"sources" validate:"dive" yaml:"sources,omitempty"`
}

// ArchiveSourceConfig is one statically configured archive.
type ArchiveSourceConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=zip badger s3 sql" yaml:"type"`

	// Slot pins the archive to one media slot, e.g. "2-usb". Empty makes
	// it a fallback for every slot.
	Slot string `mapstructure:"slot" yaml:"slot,omitempty"`

	// Path is the zip file or badger directory
	Path string `mapstructure:"path" yaml:"path,omitempty"`

	S3  archive.S3Config `mapstructure:"s3" yaml:"s3,omitempty"`
	SQL sqlstore.Config  `mapstructure:"sql" yaml:"sql,omitempty"`
}

// ByteSize is a size in bytes that decodes from strings like "1MiB".
type ByteSize uint64

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// MarshalYAML writes the human-readable form.
func (b ByteSize) MarshalYAML() (any, error) { return b.String(), nil }

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DECKWATCH_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  deckwatch config init\n\n"+
				"Or specify a custom config file:\n"+
				"  deckwatch <command> --config /path/to/config.yaml",
				DefaultConfigPath())
		}
		configPath = DefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  deckwatch config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold the API secret and archive credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DECKWATCH_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DECKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings like "1MiB" or "512KB" and plain
// numbers to ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			n, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q: %w", v, err)
			}
			return ByteSize(n), nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "deckwatch")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "deckwatch")
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(DefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
