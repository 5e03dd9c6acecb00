// rdmabench-aggregator -- central fleet-wide ingest point for agent
// counter snapshots and finished benchmark reports, exposed as
// Prometheus gauges.
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
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/rdmabench/internal/aggregator"
	"github.com/dantte-lp/rdmabench/internal/config"
	appversion "github.com/dantte-lp/rdmabench/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	address := flag.String("address", "", "bind address for the /metrics HTTP server (overrides config)")
	grpcAddress := flag.String("grpc-address", "", "bind address for the Connect-RPC ingest surface (overrides config)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration", slog.String("error", err.Error()))
		return 1
	}
	if *address != "" {
		cfg.Aggregator.Address = *address
	}
	if *grpcAddress != "" {
		cfg.Aggregator.GRPCAddress = *grpcAddress
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("rdmabench-aggregator starting",
		slog.String("version", appversion.Version),
		slog.String("address", cfg.Aggregator.Address),
		slog.String("grpc_address", cfg.Aggregator.GRPCAddress),
	)

	if err := runAggregator(cfg, logger, *configPath, logLevel); err != nil {
		logger.Error("rdmabench-aggregator exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("rdmabench-aggregator stopped")
	return 0
}

// runAggregator wires the gauge registry, ingest RPC handler, and
// /metrics server together and supervises them under an errgroup with a
// signal-aware context, following the same shape as
// cmd/rdmabench-agent's runAgent (itself grounded on
// _examples/dantte-lp-gobfd/cmd/gobfd/main.go's runServers).
func runAggregator(cfg *config.Config, logger *slog.Logger, configPath string, logLevel *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	reg := prometheus.NewRegistry()
	registry := aggregator.NewGaugeRegistry(reg)

	ingestHandler := aggregator.New(registry, logger)
	rpcSrv := &http.Server{
		Addr:              cfg.Aggregator.GRPCAddress,
		Handler:           h2c.NewHandler(ingestHandler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := aggregator.NewMetricsServer(aggregator.MetricsServerOptions{
		ListenAddress: cfg.Aggregator.Address,
		MetricsPath:   cfg.Metrics.Path,
	}, reg, logger)

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("ingest server listening", slog.String("addr", rpcSrv.Addr))
		return listenAndServe(gCtx, &lc, rpcSrv, rpcSrv.Addr)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", metricsSrv.Addr))
		return listenAndServe(gCtx, &lc, metricsSrv, metricsSrv.Addr)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, rpcSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run aggregator: %w", err)
	}
	return nil
}

// handleSIGHUP reloads only the dynamic log level: the aggregator has no
// declarative config beyond listen addresses, which cannot be changed
// without rebinding a listener and are therefore not reload targets.
func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			cfg, err := loadConfig(configPath)
			if err != nil {
				logger.Warn("failed to reload configuration", slog.String("error", err.Error()))
				continue
			}
			newLevel := config.ParseLogLevel(cfg.Log.Level)
			logLevel.Set(newLevel)
			logger.Info("log level reloaded", slog.String("level", newLevel.String()))
		}
	}
}

func gracefulShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")

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
