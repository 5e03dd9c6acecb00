package rpcsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/google/uuid"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
	"github.com/dantte-lp/rdmabench/internal/childproc"
	"github.com/dantte-lp/rdmabench/internal/reportstore"
	"github.com/dantte-lp/rdmabench/internal/router"
	"github.com/dantte-lp/rdmabench/internal/session"
)

// Service implements the four RPC services in spec.md section 4.7. Each
// method is a thin adapter over the session coordinator, report store and
// fan-out router — the same shape as BFDServer in
// _examples/dantte-lp-gobfd/internal/server/server.go, with the BFD
// session manager swapped for this module's domain objects.
type Service struct {
	coordinator *session.Coordinator
	store       *reportstore.Store
	router      *router.Router
	logger      *slog.Logger
}

// New builds the Service and mounts every procedure onto a ServeMux ready
// to be wrapped in h2c, mirroring newGRPCServer in
// _examples/dantte-lp-gobfd/cmd/gobfd/main.go.
func New(coord *session.Coordinator, store *reportstore.Store, rtr *router.Router, logger *slog.Logger, opts ...connect.HandlerOption) http.Handler {
	s := &Service{
		coordinator: coord,
		store:       store,
		router:      rtr,
		logger:      logger.With(slog.String("component", "rpcsvc")),
	}
	opts = append([]connect.HandlerOption{agentpb.CodecOption()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(agentpb.ServerConnectionServerProcedure, connect.NewUnaryHandler(
		agentpb.ServerConnectionServerProcedure, s.handleServer, opts...))
	mux.Handle(agentpb.InitiatorConnectionInitiatorProcedure, connect.NewUnaryHandler(
		agentpb.InitiatorConnectionInitiatorProcedure, s.handleInitiator, opts...))
	mux.Handle(agentpb.StatsManagerGetReportProcedure, connect.NewUnaryHandler(
		agentpb.StatsManagerGetReportProcedure, s.handleGetReport, opts...))
	mux.Handle(agentpb.StatsManagerListReportProcedure, connect.NewUnaryHandler(
		agentpb.StatsManagerListReportProcedure, s.handleListReport, opts...))
	mux.Handle(agentpb.StatsManagerDeleteReportProcedure, connect.NewUnaryHandler(
		agentpb.StatsManagerDeleteReportProcedure, s.handleDeleteReport, opts...))
	mux.Handle(agentpb.MonitorMonitorStreamProcedure, connect.NewServerStreamHandler(
		agentpb.MonitorMonitorStreamProcedure, s.handleMonitorStream, opts...))

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
		"rdmabench.agent.v1.ServerConnection",
		"rdmabench.agent.v1.InitiatorConnection",
		"rdmabench.agent.v1.StatsManager",
		"rdmabench.agent.v1.Monitor",
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return mux
}

func (s *Service) handleServer(ctx context.Context, req *connect.Request[agentpb.Request]) (*connect.Response[agentpb.ServerReply], error) {
	s.logger.InfoContext(ctx, "Server called", slog.String("uuid", req.Msg.UUID))

	reply, err := s.coordinator.Server(ctx, *req.Msg)
	if err != nil {
		return nil, mapCoordinatorError(err, "server")
	}
	return connect.NewResponse(&reply), nil
}

func (s *Service) handleInitiator(ctx context.Context, req *connect.Request[agentpb.Request]) (*connect.Response[agentpb.InitiatorReply], error) {
	s.logger.InfoContext(ctx, "Initiator called", slog.String("server_address", req.Msg.ServerAddress))

	reply, err := s.coordinator.Initiator(ctx, *req.Msg)
	if err != nil {
		return nil, mapCoordinatorError(err, "initiator")
	}
	return connect.NewResponse(&reply), nil
}

func (s *Service) handleGetReport(ctx context.Context, req *connect.Request[agentpb.ReportRequest]) (*connect.Response[agentpb.ReportReply], error) {
	rep, ok := s.store.Get(ctx, req.Msg.UUID, req.Msg.Suffix)
	if !ok {
		return connect.NewResponse(&agentpb.ReportReply{}), nil
	}
	return connect.NewResponse(&agentpb.ReportReply{Report: &rep}), nil
}

func (s *Service) handleListReport(ctx context.Context, _ *connect.Request[agentpb.Empty]) (*connect.Response[agentpb.ReportList], error) {
	all := s.store.List(ctx)
	reports := make(map[string]agentpb.Report, len(all))
	for key, rep := range all {
		reports[key.String()] = rep
	}
	return connect.NewResponse(&agentpb.ReportList{Reports: reports}), nil
}

func (s *Service) handleDeleteReport(ctx context.Context, req *connect.Request[agentpb.ReportRequest]) (*connect.Response[agentpb.Empty], error) {
	s.store.Remove(ctx, req.Msg.UUID, req.Msg.Suffix)
	return connect.NewResponse(&agentpb.Empty{}), nil
}

// handleMonitorStream registers a router subscriber for the lifetime of
// the stream (spec.md section 4.7: "registers a subscriber with the
// router; the server closes the outbound stream when the client
// disconnects, and the cleanup deferred by the handler unregisters").
func (s *Service) handleMonitorStream(
	ctx context.Context,
	req *connect.Request[agentpb.CounterFilter],
	stream *connect.ServerStream[agentpb.CounterSnapshot],
) error {
	filter := router.Filter{
		Interface:   req.Msg.Interface,
		Port:        req.Msg.Port,
		CounterList: req.Msg.CounterList,
	}

	id := uuid.NewString()
	ch := s.router.Register(ctx, id, filter)
	// context.WithoutCancel: the handler's ctx is about to be torn down by
	// the time this defer runs; Unregister still needs a live context to
	// deliver its command.
	defer s.router.Unregister(context.WithoutCancel(ctx), id)

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.Send(&snap); err != nil {
				return fmt.Errorf("monitor stream send: %w", err)
			}
		}
	}
}

// mapCoordinatorError translates session/childproc sentinels into
// ConnectRPC error codes, mirroring mapManagerError in
// _examples/dantte-lp-gobfd/internal/server/server.go.
func mapCoordinatorError(err error, operation string) *connect.Error {
	switch {
	case errors.Is(err, session.ErrPortAllocation):
		return connect.NewError(connect.CodeInternal, fmt.Errorf("%s: %w", operation, err))
	case errors.Is(err, childproc.ErrUnsupportedOperation), errors.Is(err, childproc.ErrUnsupportedMode):
		return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s: %w", operation, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeCanceled, fmt.Errorf("%s: %w", operation, err))
	default:
		return connect.NewError(connect.CodeInternal, fmt.Errorf("%s: %w", operation, err))
	}
}
