package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the simulator configuration.
//
// This structure captures the static configuration of the simulator:
//   - Logging configuration
//   - Telemetry/tracing configuration
//   - Metrics server settings
//   - The three Open Protocol listener ports and the control plane API port
//   - Optional persistence (SQLite or PostgreSQL)
//
// The controller state itself (PSets, jobs, VIN, results and so on) is
// dynamic and managed through the REST API, not through this file.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Most environment variables use the OPSIM_ prefix
// (e.g. OPSIM_LOGGING_LEVEL=DEBUG). The core serving knobs additionally
// accept the short unprefixed names the simulator has always used:
// HOST, API_PORT, SIM_CLASSIC_PORT, SIM_ACTOR_PORT, SIM_VIEWER_PORT,
// SIM_PROFILE, SIM_PERSIST, SIM_DB_PATH, SIM_MAX_SESSIONS,
// SIM_KEEPALIVE_TIMEOUT_SEC and SIM_INACTIVITY_KEEPALIVE_HINT_SEC.
type Config struct {
	// Host is the bind address shared by the protocol listeners and the API
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// APIPort is the HTTP port for the control plane REST API
	APIPort int `mapstructure:"api_port" validate:"required,min=1,max=65535" yaml:"api_port"`

	// Simulator contains the protocol listener and controller settings
	Simulator SimulatorConfig `mapstructure:"simulator" yaml:"simulator"`

	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// SimulatorConfig contains the Open Protocol listener ports and the
// controller behavior knobs.
type SimulatorConfig struct {
	// ClassicPort accepts sessions with full read/write access
	// Default: 4545
	ClassicPort int `mapstructure:"classic_port" validate:"required,min=1,max=65535" yaml:"classic_port"`

	// ActorPort accepts sessions that may issue commands; only one actor
	// may hold a started communication at a time
	// Default: 4546
	ActorPort int `mapstructure:"actor_port" validate:"required,min=1,max=65535" yaml:"actor_port"`

	// ViewerPort accepts read-only sessions; commands are rejected
	// Default: 4547
	ViewerPort int `mapstructure:"viewer_port" validate:"required,min=1,max=65535" yaml:"viewer_port"`

	// Profile selects the active controller profile at startup
	// Default: "atlas_pf"
	Profile string `mapstructure:"profile" validate:"required" yaml:"profile"`

	// Persist enables the durable state snapshot and traffic log
	// Default: false (in-memory only)
	Persist bool `mapstructure:"persist" yaml:"persist"`

	// DBPath is the SQLite database path used when Persist is enabled
	// Default: "opsim_state.db"
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// MaxSessions caps concurrent protocol sessions across all ports.
	// Connections beyond the cap are rejected with a protocol error.
	// Default: 16
	MaxSessions int `mapstructure:"max_sessions" validate:"required,min=1" yaml:"max_sessions"`

	// KeepaliveTimeoutSec is the inactivity window after which a session
	// is dropped. The protocol specifies 15 seconds of client keep-alive;
	// the simulator is more forgiving by default.
	// Default: 20
	KeepaliveTimeoutSec int `mapstructure:"keepalive_timeout_sec" validate:"required,min=1" yaml:"keepalive_timeout_sec"`

	// InactivityHintSec is the keep-alive interval advertised to clients
	// over the control plane. Advisory only.
	// Default: 10
	InactivityHintSec int `mapstructure:"inactivity_keepalive_hint_sec" validate:"required,min=1" yaml:"inactivity_keepalive_hint_sec"`

	// DataDir optionally points at a directory with catalog and profile
	// JSON overrides. When set, the files are watched and hot-reloaded.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir,omitempty"`

	// ScenarioFile optionally replaces the embedded scenario library.
	ScenarioFile string `mapstructure:"scenario_file" yaml:"scenario_file,omitempty"`
}

// KeepaliveTimeout returns the session inactivity window as a duration.
func (c *SimulatorConfig) KeepaliveTimeout() time.Duration {
	return time.Duration(c.KeepaliveTimeoutSec) * time.Second
}

// InactivityHint returns the advertised keep-alive interval as a duration.
func (c *SimulatorConfig) InactivityHint() time.Duration {
	return time.Duration(c.InactivityHintSec) * time.Second
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
// When enabled, trace data is exported to an OTLP-compatible collector
// (e.g., Jaeger, Tempo, or any OTLP receiver).
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317" (standard OTLP gRPC port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	// Default: true (for local development)
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	// Default: 1.0 (sample all)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
// When enabled, CPU and memory profiles are continuously sent to a Pyroscope
// server for flame graph visualization and performance analysis.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	// Default: false (opt-in for profiling)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040" (standard Pyroscope port)
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	// Valid values: cpu, alloc_objects, alloc_space, inuse_objects, inuse_space,
	//               goroutines, mutex_count, mutex_duration, block_count, block_duration
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead).
// Metrics are served on the API port at /metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	// Read configuration file if it exists. A missing file is fine:
	// environment variables and defaults still apply.
	if err := readConfigFile(v); err != nil {
		return nil, err
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

// MustLoad loads configuration with helpful error messages when an explicit
// config file is requested but missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  opsim config init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path.
// The configuration is saved in YAML format using proper yaml tags.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// General environment override support with the OPSIM_ prefix.
	// Example: OPSIM_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("OPSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key with its default so environment overrides are
	// visible to Unmarshal even without a config file.
	setViperDefaults(v)

	// The serving knobs also answer to their historical unprefixed names.
	v.BindEnv("host", "OPSIM_HOST", "HOST")
	v.BindEnv("api_port", "OPSIM_API_PORT", "API_PORT")
	v.BindEnv("simulator.classic_port", "OPSIM_SIMULATOR_CLASSIC_PORT", "SIM_CLASSIC_PORT")
	v.BindEnv("simulator.actor_port", "OPSIM_SIMULATOR_ACTOR_PORT", "SIM_ACTOR_PORT")
	v.BindEnv("simulator.viewer_port", "OPSIM_SIMULATOR_VIEWER_PORT", "SIM_VIEWER_PORT")
	v.BindEnv("simulator.profile", "OPSIM_SIMULATOR_PROFILE", "SIM_PROFILE")
	v.BindEnv("simulator.persist", "OPSIM_SIMULATOR_PERSIST", "SIM_PERSIST")
	v.BindEnv("simulator.db_path", "OPSIM_SIMULATOR_DB_PATH", "SIM_DB_PATH")
	v.BindEnv("simulator.max_sessions", "OPSIM_SIMULATOR_MAX_SESSIONS", "SIM_MAX_SESSIONS")
	v.BindEnv("simulator.keepalive_timeout_sec", "OPSIM_SIMULATOR_KEEPALIVE_TIMEOUT_SEC", "SIM_KEEPALIVE_TIMEOUT_SEC")
	v.BindEnv("simulator.inactivity_keepalive_hint_sec", "OPSIM_SIMULATOR_INACTIVITY_KEEPALIVE_HINT_SEC", "SIM_INACTIVITY_KEEPALIVE_HINT_SEC")
	v.BindEnv("simulator.data_dir", "OPSIM_SIMULATOR_DATA_DIR", "SIM_DATA_DIR")
	v.BindEnv("simulator.scenario_file", "OPSIM_SIMULATOR_SCENARIO_FILE", "SIM_SCENARIO_FILE")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/opsim/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// setViperDefaults mirrors ApplyDefaults at the viper layer. Viper only
// consults the environment for keys it knows about, so every key gets a
// default here.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("api_port", 8080)
	v.SetDefault("shutdown_timeout", "30s")

	v.SetDefault("simulator.classic_port", 4545)
	v.SetDefault("simulator.actor_port", 4546)
	v.SetDefault("simulator.viewer_port", 4547)
	v.SetDefault("simulator.profile", "atlas_pf")
	v.SetDefault("simulator.persist", false)
	v.SetDefault("simulator.db_path", "opsim_state.db")
	v.SetDefault("simulator.max_sessions", 16)
	v.SetDefault("simulator.keepalive_timeout_sec", 20)
	v.SetDefault("simulator.inactivity_keepalive_hint_sec", 10)
	v.SetDefault("simulator.data_dir", "")
	v.SetDefault("simulator.scenario_file", "")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.profiling.enabled", false)
	v.SetDefault("telemetry.profiling.endpoint", "http://localhost:4040")
	v.SetDefault("telemetry.profiling.profile_types", []string{})

	v.SetDefault("metrics.enabled", false)
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts strings
// to time.Duration. This enables config files to use human-readable durations
// like "30s", "5m", "1h".
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
			// YAML often deserializes numbers as float64
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
		return filepath.Join(xdgConfig, "opsim")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "opsim")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
