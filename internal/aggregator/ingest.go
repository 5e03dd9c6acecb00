package aggregator

import (
	"context"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

// IngestService implements the aggregator's ingest surface: a
// client-streaming RPC for counter snapshots and a unary RPC for
// finished reports, both called by every agent's Upstream Forwarder
// (internal/forwarder). Handler construction follows the same manual
// connect.NewXxxHandler + ServeMux pattern as internal/rpcsvc.Service.
type IngestService struct {
	registry *GaugeRegistry
	logger   *slog.Logger
}

// New builds the IngestService and mounts its two procedures onto a
// ServeMux ready to be wrapped in h2c.
func New(registry *GaugeRegistry, logger *slog.Logger, opts ...connect.HandlerOption) http.Handler {
	s := &IngestService{
		registry: registry,
		logger:   logger.With(slog.String("component", "aggregator")),
	}
	opts = append([]connect.HandlerOption{agentpb.CodecOption()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(agentpb.IngestPushCountersProcedure, connect.NewClientStreamHandler(
		agentpb.IngestPushCountersProcedure, s.handlePushCounters, opts...))
	mux.Handle(agentpb.IngestPushReportProcedure, connect.NewUnaryHandler(
		agentpb.IngestPushReportProcedure, s.handlePushReport, opts...))

	return mux
}

func (s *IngestService) handlePushCounters(
	ctx context.Context,
	stream *connect.ClientStream[agentpb.CounterSnapshot],
) (*connect.Response[agentpb.PushCountersResponse], error) {
	var accepted uint64
	for stream.Receive() {
		snap := *stream.Msg()
		s.registry.ObserveSnapshot(snap)
		accepted++
	}
	if err := stream.Err(); err != nil {
		s.logger.WarnContext(ctx, "counter stream ended with error", slog.Any("error", err))
	}

	return connect.NewResponse(&agentpb.PushCountersResponse{Accepted: accepted}), nil
}

func (s *IngestService) handlePushReport(
	ctx context.Context,
	req *connect.Request[agentpb.Report],
) (*connect.Response[agentpb.PushReportResponse], error) {
	s.logger.InfoContext(ctx, "report received",
		slog.String("hostname", req.Msg.Hostname),
		slog.String("uuid", req.Msg.UUID))

	s.registry.ObserveReport(*req.Msg)
	return connect.NewResponse(&agentpb.PushReportResponse{}), nil
}
