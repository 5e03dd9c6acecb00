package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/rdmabench/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Agent.Address != "0.0.0.0" {
		t.Errorf("Agent.Address = %q, want %q", cfg.Agent.Address, "0.0.0.0")
	}

	if cfg.Agent.Port != 7471 {
		t.Errorf("Agent.Port = %d, want %d", cfg.Agent.Port, 7471)
	}

	if cfg.Agent.Frequency != time.Second {
		t.Errorf("Agent.Frequency = %v, want %v", cfg.Agent.Frequency, time.Second)
	}

	if cfg.Agent.Driver != "mlx" {
		t.Errorf("Agent.Driver = %q, want %q", cfg.Agent.Driver, "mlx")
	}

	if cfg.Agent.ReportDir != "/tmp" {
		t.Errorf("Agent.ReportDir = %q, want %q", cfg.Agent.ReportDir, "/tmp")
	}

	if cfg.Aggregator.Address != ":9101" {
		t.Errorf("Aggregator.Address = %q, want %q", cfg.Aggregator.Address, ":9101")
	}

	if cfg.Aggregator.GRPCAddress != ":7472" {
		t.Errorf("Aggregator.GRPCAddress = %q, want %q", cfg.Aggregator.GRPCAddress, ":7472")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
agent:
  address: "192.168.1.10"
  port: 8000
  device: "mlx5_0"
  frequency: "500ms"
  stats_server: "aggregator.local:7472"
  driver: "rxe"
  report_dir: "/var/lib/rdmabench"
aggregator:
  address: ":9200"
  grpc_address: ":7600"
metrics:
  addr: ":9300"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Agent.Address != "192.168.1.10" {
		t.Errorf("Agent.Address = %q, want %q", cfg.Agent.Address, "192.168.1.10")
	}

	if cfg.Agent.Port != 8000 {
		t.Errorf("Agent.Port = %d, want %d", cfg.Agent.Port, 8000)
	}

	if cfg.Agent.Device != "mlx5_0" {
		t.Errorf("Agent.Device = %q, want %q", cfg.Agent.Device, "mlx5_0")
	}

	if cfg.Agent.Frequency != 500*time.Millisecond {
		t.Errorf("Agent.Frequency = %v, want %v", cfg.Agent.Frequency, 500*time.Millisecond)
	}

	if cfg.Agent.StatsServer != "aggregator.local:7472" {
		t.Errorf("Agent.StatsServer = %q, want %q", cfg.Agent.StatsServer, "aggregator.local:7472")
	}

	if cfg.Agent.Driver != "rxe" {
		t.Errorf("Agent.Driver = %q, want %q", cfg.Agent.Driver, "rxe")
	}

	if cfg.Agent.ReportDir != "/var/lib/rdmabench" {
		t.Errorf("Agent.ReportDir = %q, want %q", cfg.Agent.ReportDir, "/var/lib/rdmabench")
	}

	if cfg.Aggregator.Address != ":9200" {
		t.Errorf("Aggregator.Address = %q, want %q", cfg.Aggregator.Address, ":9200")
	}

	if cfg.Aggregator.GRPCAddress != ":7600" {
		t.Errorf("Aggregator.GRPCAddress = %q, want %q", cfg.Aggregator.GRPCAddress, ":7600")
	}

	if cfg.Metrics.Addr != ":9300" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9300")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override agent.port and log.level. Everything
	// else should inherit from defaults.
	yamlContent := `
agent:
  port: 9999
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Agent.Port != 9999 {
		t.Errorf("Agent.Port = %d, want %d", cfg.Agent.Port, 9999)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Agent.Address != "0.0.0.0" {
		t.Errorf("Agent.Address = %q, want default %q", cfg.Agent.Address, "0.0.0.0")
	}

	if cfg.Agent.Driver != "mlx" {
		t.Errorf("Agent.Driver = %q, want default %q", cfg.Agent.Driver, "mlx")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "port too low",
			modify: func(cfg *config.Config) {
				cfg.Agent.Port = 0
			},
			wantErr: config.ErrInvalidAgentPort,
		},
		{
			name: "port too high",
			modify: func(cfg *config.Config) {
				cfg.Agent.Port = 70000
			},
			wantErr: config.ErrInvalidAgentPort,
		},
		{
			name: "unrecognized driver",
			modify: func(cfg *config.Config) {
				cfg.Agent.Driver = "roce"
			},
			wantErr: config.ErrInvalidDriver,
		},
		{
			name: "zero frequency",
			modify: func(cfg *config.Config) {
				cfg.Agent.Frequency = 0
			},
			wantErr: config.ErrInvalidFrequency,
		},
		{
			name: "negative frequency",
			modify: func(cfg *config.Config) {
				cfg.Agent.Frequency = -time.Second
			},
			wantErr: config.ErrInvalidFrequency,
		},
		{
			name: "empty report dir",
			modify: func(cfg *config.Config) {
				cfg.Agent.ReportDir = ""
			},
			wantErr: config.ErrEmptyReportDir,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateAcceptsBothDrivers(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"mlx", "rxe"} {
		cfg := config.DefaultConfig()
		cfg.Agent.Driver = driver

		if err := config.Validate(cfg); err != nil {
			t.Errorf("Validate() with driver %q returned error: %v", driver, err)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}

	if cfg.Agent.Port != 7471 {
		t.Errorf("Agent.Port = %d, want default %d", cfg.Agent.Port, 7471)
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
agent:
  port: 7471
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RDMABENCH_AGENT_PORT", "8080")
	t.Setenv("RDMABENCH_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Agent.Port != 8080 {
		t.Errorf("Agent.Port = %d, want %d (from env)", cfg.Agent.Port, 8080)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
agent:
  port: 7471
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("RDMABENCH_METRICS_ADDR", ":9200")
	t.Setenv("RDMABENCH_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path. The file
// is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "rdmabench.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
