// Package forwarder implements the optional Upstream Forwarder (spec.md
// section 4.4): when the agent is configured with a central aggregator
// address, it opens a client-streaming RPC for counter snapshots and sends
// finalized reports one at a time over a unary RPC. Both legs are
// independent and a transport failure on either logs and exits without
// affecting the rest of the agent.
package forwarder

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

// throttle is the deliberate anti-stampede delay applied after every
// forwarded counter snapshot (spec.md section 4.2: "a 1-second sleep is
// applied after each forwarded snapshot to throttle network traffic").
const throttle = time.Second

// Config holds the forwarder's tunables.
type Config struct {
	// AggregatorAddress is host:port of the central aggregator's ingest
	// listener. Empty disables forwarding entirely (spec.md section 4.4:
	// "optional").
	AggregatorAddress string
}

// Forwarder drains a counter-snapshot channel and a report channel toward
// the configured aggregator.
type Forwarder struct {
	cfg        Config
	snapshots  <-chan agentpb.CounterSnapshot
	reports    <-chan agentpb.Report
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Forwarder. snapshots is typically a router subscription
// with no filter; reports is fed by the session coordinator whenever it
// records a finished session.
func New(cfg Config, snapshots <-chan agentpb.CounterSnapshot, reports <-chan agentpb.Report, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		cfg:        cfg,
		snapshots:  snapshots,
		reports:    reports,
		httpClient: &http.Client{Transport: agentpb.NewH2CTransport()},
		logger:     logger.With(slog.String("component", "forwarder")),
	}
}

// Run drains both channels until ctx is cancelled. If no aggregator is
// configured, Run drains both channels to keep their producers from
// blocking but never dials out.
func (f *Forwarder) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.forwardCounters(ctx) })
	g.Go(func() error { return f.forwardReports(ctx) })
	return g.Wait() //nolint:wrapcheck // errgroup already attributes the failing goroutine
}

func (f *Forwarder) baseURL() string {
	return "http://" + f.cfg.AggregatorAddress
}

func (f *Forwarder) forwardCounters(ctx context.Context) error {
	if f.cfg.AggregatorAddress == "" {
		return f.drainSnapshots(ctx)
	}

	client := connect.NewClient[agentpb.CounterSnapshot, agentpb.PushCountersResponse](
		f.httpClient, f.baseURL()+agentpb.IngestPushCountersProcedure, agentpb.CodecOption())
	stream := client.CallClientStream(ctx)

	for {
		select {
		case <-ctx.Done():
			_, _ = stream.CloseAndReceive()
			return nil //nolint:nilerr // agent shutdown, not a forwarder failure
		case snap, ok := <-f.snapshots:
			if !ok {
				_, err := stream.CloseAndReceive()
				return err //nolint:wrapcheck // connect already attributes the RPC
			}
			if err := stream.Send(&snap); err != nil {
				f.logger.WarnContext(ctx, "counter forward failed, stopping forwarder", slog.Any("error", err))
				return f.drainSnapshots(ctx)
			}
			select {
			case <-time.After(throttle):
			case <-ctx.Done():
				_, _ = stream.CloseAndReceive()
				return nil
			}
		}
	}
}

func (f *Forwarder) forwardReports(ctx context.Context) error {
	if f.cfg.AggregatorAddress == "" {
		return f.drainReports(ctx)
	}

	client := connect.NewClient[agentpb.Report, agentpb.PushReportResponse](
		f.httpClient, f.baseURL()+agentpb.IngestPushReportProcedure, agentpb.CodecOption())

	for {
		select {
		case <-ctx.Done():
			return nil
		case rep, ok := <-f.reports:
			if !ok {
				return nil
			}
			if _, err := client.CallUnary(ctx, connect.NewRequest(&rep)); err != nil {
				f.logger.WarnContext(ctx, "report forward failed, stopping forwarder", slog.Any("error", err))
				return f.drainReports(ctx)
			}
		}
	}
}

// drainSnapshots/drainReports keep the upstream producers (router
// subscription, session coordinator) from blocking on a full channel when
// no aggregator is configured or after a forwarding leg has stopped.
func (f *Forwarder) drainSnapshots(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-f.snapshots:
			if !ok {
				return nil
			}
		}
	}
}

func (f *Forwarder) drainReports(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-f.reports:
			if !ok {
				return nil
			}
		}
	}
}

