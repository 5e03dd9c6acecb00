// rdmabench-agent -- per-host RDMA benchmark orchestrator and counter
// sampler.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
	"github.com/dantte-lp/rdmabench/internal/collector"
	"github.com/dantte-lp/rdmabench/internal/config"
	"github.com/dantte-lp/rdmabench/internal/forwarder"
	rdmametrics "github.com/dantte-lp/rdmabench/internal/metrics"
	"github.com/dantte-lp/rdmabench/internal/netstat"
	"github.com/dantte-lp/rdmabench/internal/rdma"
	"github.com/dantte-lp/rdmabench/internal/reportstore"
	"github.com/dantte-lp/rdmabench/internal/router"
	"github.com/dantte-lp/rdmabench/internal/rpcsvc"
	"github.com/dantte-lp/rdmabench/internal/session"
	appversion "github.com/dantte-lp/rdmabench/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge/MaxBytes bound the rolling execution trace window
// kept for post-mortem debugging of stuck sessions.
const (
	flightRecorderMinAge   = 500 * time.Millisecond
	flightRecorderMaxBytes = 2 * 1024 * 1024
)

// snapshotBuffer/reportBuffer size the channels connecting the collector,
// router, session coordinator and forwarder. A full buffer backpressures
// the producer, which is the accepted behavior documented on each of
// those packages.
const (
	snapshotBuffer = 64
	reportBuffer   = 16
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	address := flag.String("address", "", "bind host for the agent's RPC listener (overrides config)")
	port := flag.Int("port", 0, "bind port for the agent's RPC listener (overrides config)")
	device := flag.String("device", "", "restrict counter sampling to one RDMA interface (overrides config)")
	frequencyMS := flag.Int("frequency", 0, "counter sampling period in milliseconds (overrides config)")
	statsServer := flag.String("stats-server", "", "aggregator host:port to forward counters/reports to (overrides config)")
	driver := flag.String("driver", "", "counter driver family: mlx or rxe (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}
	applyFlagOverrides(cfg, *address, *port, *device, *frequencyMS, *statsServer, *driver)

	if err := config.Validate(cfg); err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration", slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	hostname, _ := os.Hostname()
	logger.Info("rdmabench-agent starting",
		slog.String("version", appversion.Version),
		slog.String("address", cfg.Agent.Address),
		slog.Int("port", cfg.Agent.Port),
		slog.String("driver", cfg.Agent.Driver),
		slog.String("hostname", hostname),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	metricsCollector := rdmametrics.NewCollector(reg)

	if err := runAgent(cfg, hostname, metricsCollector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("rdmabench-agent exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("rdmabench-agent stopped")
	return 0
}

// runAgent wires every subsystem together and supervises them under a
// single errgroup with a signal-aware context, mirroring runServers in
// _examples/dantte-lp-gobfd/cmd/gobfd/main.go.
func runAgent(
	cfg *config.Config,
	hostname string,
	metricsCollector *rdmametrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	snapshots := make(chan agentpb.CounterSnapshot, snapshotBuffer)
	reports := make(chan agentpb.Report, reportBuffer)

	provider := rdma.NewProvider("", "")
	nicStats, err := netstat.NewProvider()
	if err != nil {
		logger.Warn("ethtool stats unavailable, continuing without nic_stats enrichment", slog.String("error", err.Error()))
		nicStats = nil
	} else {
		defer func() { _ = nicStats.Close() }()
	}
	coll := collector.New(collector.Config{
		Period:   cfg.Agent.Frequency,
		Driver:   rdma.Driver(cfg.Agent.Driver),
		Device:   cfg.Agent.Device,
		Hostname: hostname,
	}, provider, snapshots, logger, collector.WithMetrics(metricsCollector), collector.WithNicStats(nicStats))

	rtr := router.New(snapshots, logger)
	store := reportstore.New(hostname, logger)
	coord := session.New(session.Config{
		ReportDir:             cfg.Agent.ReportDir,
		MaxConcurrentSessions: cfg.Agent.MaxConcurrentSessions,
	}, store, rpcsvc.NewPeerClient(), logger,
		session.WithMetrics(metricsCollector),
		session.WithReportsOut(reports),
	)

	g.Go(func() error { rtr.Run(gCtx); return nil })
	fwdIn := rtr.Register(gCtx, "forwarder", router.Filter{})
	fwd := forwarder.New(forwarder.Config{AggregatorAddress: cfg.Agent.StatsServer}, fwdIn, reports, logger)

	g.Go(func() error { return coll.Run(gCtx) })
	g.Go(func() error { store.Run(gCtx); return nil })
	g.Go(func() error { return fwd.Run(gCtx) })

	rpcSrv := newRPCServer(cfg.Agent, coord, store, rtr, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	startHTTPServers(gCtx, g, rpcSrv, metricsSrv, cfg, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, rpcSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run agent: %w", err)
	}
	return nil
}

func applyFlagOverrides(cfg *config.Config, address string, port int, device string, frequencyMS int, statsServer, driver string) {
	if address != "" {
		cfg.Agent.Address = address
	}
	if port != 0 {
		cfg.Agent.Port = port
	}
	if device != "" {
		cfg.Agent.Device = device
	}
	if frequencyMS != 0 {
		cfg.Agent.Frequency = time.Duration(frequencyMS) * time.Millisecond
	}
	if statsServer != "" {
		cfg.Agent.StatsServer = statsServer
	}
	if driver != "" {
		cfg.Agent.Driver = driver
	}
}

func startHTTPServers(ctx context.Context, g *errgroup.Group, rpcSrv, metricsSrv *http.Server, cfg *config.Config, logger *slog.Logger) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("rpc server listening", slog.String("addr", rpcSrv.Addr))
		return listenAndServe(ctx, &lc, rpcSrv, rpcSrv.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled", slog.Duration("watchdog_sec", interval), slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// handleSIGHUP reloads the log level from a fresh read of the config
// file on every SIGHUP. Unlike gobfd, there is no declarative session
// set to reconcile: sessions are created only by inbound RPCs.
func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			reloadLogLevel(configPath, logLevel, logger)
		}
	}
}

func reloadLogLevel(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Warn("failed to reload configuration", slog.String("error", err.Error()))
		return
	}
	newLevel := config.ParseLogLevel(cfg.Log.Level)
	logLevel.Set(newLevel)
	logger.Info("log level reloaded", slog.String("level", newLevel.String()))
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, fr *trace.FlightRecorder, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started", slog.Duration("min_age", flightRecorderMinAge), slog.Uint64("max_bytes", flightRecorderMaxBytes))
	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// newRPCServer mounts the agent's Connect-RPC control surface (spec.md
// section 4.7) behind h2c, the same plaintext-HTTP/2 listener every peer
// dials via agentpb.NewH2CTransport.
func newRPCServer(cfg config.AgentConfig, coord *session.Coordinator, store *reportstore.Store, rtr *router.Router, logger *slog.Logger) *http.Server {
	handler := rpcsvc.New(coord, store, rtr, logger,
		rpcsvc.LoggingInterceptorOption(logger),
		rpcsvc.RecoveryInterceptorOption(logger),
	)

	addr := net.JoinHostPort(cfg.Address, fmt.Sprintf("%d", cfg.Port))
	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
