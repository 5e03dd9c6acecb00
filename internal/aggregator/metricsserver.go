package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// defaultScrapeTimeout bounds how long a /metrics request waits on the
// registry before returning 504, matching the scrape-timeout guard in
// _examples/yuuki-rdma_exporter/internal/server/server.go.
const defaultScrapeTimeout = 10 * time.Second

// MetricsServerOptions configures NewMetricsServer.
type MetricsServerOptions struct {
	ListenAddress string
	MetricsPath   string
	ScrapeTimeout time.Duration
}

// NewMetricsServer builds an *http.Server exposing the gauge registry at
// MetricsPath, encoding with expfmt directly (rather than promhttp.Handler)
// so a slow Gather can be bounded by ScrapeTimeout — grounded on
// _examples/yuuki-rdma_exporter/internal/server/server.go's handleMetrics.
func NewMetricsServer(opts MetricsServerOptions, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	metricsPath := opts.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	scrapeTimeout := opts.ScrapeTimeout
	if scrapeTimeout <= 0 {
		scrapeTimeout = defaultScrapeTimeout
	}

	mux := http.NewServeMux()
	mux.HandleFunc(metricsPath, handleMetrics(reg, scrapeTimeout, logger))
	mux.HandleFunc("/healthz", handleHealth)

	return &http.Server{
		Addr:              opts.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func handleMetrics(reg *prometheus.Registry, scrapeTimeout time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), scrapeTimeout)
		defer cancel()

		type gatherResult struct {
			metrics []*dto.MetricFamily
			err     error
		}

		resultCh := make(chan gatherResult, 1)
		go func() {
			mfs, err := reg.Gather()
			resultCh <- gatherResult{metrics: mfs, err: err}
		}()

		var result gatherResult
		select {
		case result = <-resultCh:
		case <-ctx.Done():
			logger.WarnContext(ctx, "metrics gather timed out", slog.Any("error", ctx.Err()))
			http.Error(w, "scrape timed out", http.StatusGatewayTimeout)
			return
		}

		if result.err != nil {
			logger.ErrorContext(ctx, "metrics gather failed", slog.Any("error", result.err))
			http.Error(w, "metrics gather failed", http.StatusInternalServerError)
			return
		}

		contentType := expfmt.Negotiate(r.Header)
		w.Header().Set("Content-Type", string(contentType))

		encoder := expfmt.NewEncoder(w, contentType)
		for _, mf := range result.metrics {
			if err := encoder.Encode(mf); err != nil {
				logger.ErrorContext(ctx, "encode metric family failed", slog.Any("error", err))
				return
			}
		}
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ListenAndServeMetrics runs srv until it is shut down, treating
// http.ErrServerClosed as a clean exit rather than an error.
func ListenAndServeMetrics(srv *http.Server) error {
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
