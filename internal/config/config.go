// Package config manages rdmabench agent and aggregator configuration
// using koanf/v2.
//
// Supports YAML files, environment variables, and CLI flags (layered on
// top by each cmd/ main after Load returns).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete rdmabench configuration. A single file format
// is shared by both binaries; each only reads the sections it needs
// (spec.md section 6.4).
type Config struct {
	Agent      AgentConfig      `koanf:"agent"`
	Aggregator AggregatorConfig `koanf:"aggregator"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Log        LogConfig        `koanf:"log"`
}

// AgentConfig holds the rdmabench-agent settings (spec.md section 6.4).
type AgentConfig struct {
	// Address is the bind host for the agent's Connect-RPC control
	// surface (spec.md section 4.7).
	Address string `koanf:"address"`
	// Port is the bind port for the same listener.
	Port int `koanf:"port"`
	// Device restricts the counter collector to a single RDMA device;
	// empty means enumerate every device present.
	Device string `koanf:"device"`
	// Frequency is the counter collector's sampling period.
	Frequency time.Duration `koanf:"frequency"`
	// StatsServer is the optional aggregator host:port the upstream
	// forwarder streams to. Empty disables forwarding.
	StatsServer string `koanf:"stats_server"`
	// Driver selects the counter family to read: "mlx" or "rxe".
	Driver string `koanf:"driver"`
	// ReportDir is where benchmark children write their JSON report
	// files (SPEC_FULL.md section C.4; spec.md section 6.2).
	ReportDir string `koanf:"report_dir"`
	// MaxConcurrentSessions bounds how many benchmark children the
	// session coordinator will run at once, across both roles (spec.md
	// section 4.6.3, Scenario 6).
	MaxConcurrentSessions int64 `koanf:"max_concurrent_sessions"`
}

// AggregatorConfig holds the rdmabench-aggregator settings.
type AggregatorConfig struct {
	// Address is the HTTP bind address serving /metrics.
	Address string `koanf:"address"`
	// GRPCAddress is the bind address for the Connect-RPC ingest
	// surface agents stream counters and reports to.
	GRPCAddress string `koanf:"grpc_address"`
}

// MetricsConfig holds the agent's self-metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ValidDrivers lists the recognized counter driver families.
var ValidDrivers = map[string]bool{
	"mlx": true,
	"rxe": true,
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Address:               "0.0.0.0",
			Port:                  7471,
			Frequency:             time.Second,
			Driver:                "mlx",
			ReportDir:             "/tmp",
			MaxConcurrentSessions: 16,
		},
		Aggregator: AggregatorConfig{
			Address:     ":9101",
			GRPCAddress: ":7472",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for rdmabench configuration.
// Variables are named RDMABENCH_<section>_<key>, e.g. RDMABENCH_AGENT_PORT.
const envPrefix = "RDMABENCH_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (RDMABENCH_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips
// the file layer and returns defaults plus env overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms RDMABENCH_AGENT_PORT -> agent.port.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"agent.address":                 defaults.Agent.Address,
		"agent.port":                    defaults.Agent.Port,
		"agent.device":                  defaults.Agent.Device,
		"agent.frequency":               defaults.Agent.Frequency.String(),
		"agent.stats_server":            defaults.Agent.StatsServer,
		"agent.driver":                  defaults.Agent.Driver,
		"agent.report_dir":              defaults.Agent.ReportDir,
		"agent.max_concurrent_sessions": defaults.Agent.MaxConcurrentSessions,
		"aggregator.address":            defaults.Aggregator.Address,
		"aggregator.grpc_address":       defaults.Aggregator.GRPCAddress,
		"metrics.addr":                  defaults.Metrics.Addr,
		"metrics.path":                  defaults.Metrics.Path,
		"log.level":                     defaults.Log.Level,
		"log.format":                    defaults.Log.Format,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrInvalidAgentPort indicates the agent RPC port is out of range.
	ErrInvalidAgentPort = errors.New("agent.port must be between 1 and 65535")

	// ErrInvalidDriver indicates an unrecognized counter driver family.
	ErrInvalidDriver = errors.New("agent.driver must be mlx or rxe")

	// ErrInvalidFrequency indicates a non-positive collector sampling period.
	ErrInvalidFrequency = errors.New("agent.frequency must be > 0")

	// ErrEmptyReportDir indicates the report directory is empty.
	ErrEmptyReportDir = errors.New("agent.report_dir must not be empty")
)

// Validate checks the configuration for logical errors. Returns the first
// validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Agent.Port < 1 || cfg.Agent.Port > 65535 {
		return ErrInvalidAgentPort
	}

	if !ValidDrivers[cfg.Agent.Driver] {
		return fmt.Errorf("%q: %w", cfg.Agent.Driver, ErrInvalidDriver)
	}

	if cfg.Agent.Frequency <= 0 {
		return ErrInvalidFrequency
	}

	if cfg.Agent.ReportDir == "" {
		return ErrEmptyReportDir
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
