// Package session implements the Session Coordinator (spec.md section 4.6):
// the Server and Initiator control-plane roles that supervise one
// ib_{send,write,read,atomic}_{bw,lat} benchmark run apiece. Both entry
// points return quickly while the supervised child and its eventual report
// are handled by a background goroutine, following the same
// spawn-and-detach idiom the agent's process supervisor uses for long-lived
// subsystems (_examples/dantte-lp-gobfd/cmd/gobfd/main.go).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
	"github.com/dantte-lp/rdmabench/internal/childproc"
	"github.com/dantte-lp/rdmabench/internal/reportstore"
)

// Sentinel errors for the session package.
var (
	ErrPortAllocation = errors.New("session: port allocation failed")
	ErrPeerServer     = errors.New("session: peer server RPC failed")
)

// PeerCaller performs the nested RPC a session's Initiator role issues
// against the peer's Server endpoint (spec.md section 4.6.2, step 1). It is
// implemented by the rpcsvc package's client wrapper; session itself never
// imports an RPC transport, which keeps this package transport-agnostic and
// free of an import cycle with rpcsvc.
type PeerCaller interface {
	CallServer(ctx context.Context, peerAddress string, req agentpb.Request) (agentpb.ServerReply, error)
}

// Config holds the coordinator's tunables.
type Config struct {
	// ReportDir is where --out_json_file paths are written (spec.md
	// section 6.2); defaults to /tmp per the original design (spec.md
	// section 5, "Shared resources").
	ReportDir string
	// PollInterval is how often the Server role checks whether its
	// allocated port has been bound (spec.md section 4.6.1, step 4).
	// Defaults to one second.
	PollInterval time.Duration
	// MaxConcurrentSessions bounds how many benchmark children (Server and
	// Initiator roles combined) this coordinator will have running at
	// once (spec.md section 4.6.3, Scenario 6: concurrent sessions).
	// Defaults to 16; callers that want the previous unbounded behavior
	// can pass a large value.
	MaxConcurrentSessions int64
}

func (c Config) withDefaults() Config {
	if c.ReportDir == "" {
		c.ReportDir = "/tmp"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxConcurrentSessions <= 0 {
		c.MaxConcurrentSessions = 16
	}
	return c
}

// MetricsRecorder receives session lifecycle events for self-observability
// (internal/metrics.Collector implements this). A nil recorder is valid:
// every call site on Coordinator nil-checks before use, the same way the
// teacher's bfd.Manager defaults to a no-op MetricsReporter rather than
// requiring every caller to wire one up.
type MetricsRecorder interface {
	RegisterSession(role string)
	UnregisterSession(role string)
	IncSessionsStarted(op agentpb.Operation, mode agentpb.Mode)
	IncSessionsFailed(op agentpb.Operation, mode agentpb.Mode)
}

// Option configures optional Coordinator parameters.
type Option func(*Coordinator)

// WithMetrics attaches a MetricsRecorder. If mr is nil, metrics calls are
// skipped.
func WithMetrics(mr MetricsRecorder) Option {
	return func(c *Coordinator) {
		c.metrics = mr
	}
}

// WithReportsOut attaches a channel that receives a copy of every report
// this coordinator records, in addition to storing it. This is how the
// agent's Upstream Forwarder (internal/forwarder) learns about finished
// sessions without the session package importing a transport.
func WithReportsOut(out chan<- agentpb.Report) Option {
	return func(c *Coordinator) {
		c.reportsOut = out
	}
}

// Coordinator drives both control-plane roles described in spec.md
// section 4.6.
type Coordinator struct {
	cfg        Config
	store      *reportstore.Store
	peers      PeerCaller
	logger     *slog.Logger
	metrics    MetricsRecorder
	reportsOut chan<- agentpb.Report
	sessions   *semaphore.Weighted
}

// New creates a Coordinator. store receives completed reports; peers is
// used by the Initiator role to reach a peer's Server endpoint.
func New(cfg Config, store *reportstore.Store, peers PeerCaller, logger *slog.Logger, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		cfg:      cfg,
		store:    store,
		peers:    peers,
		logger:   logger.With(slog.String("component", "session")),
		sessions: semaphore.NewWeighted(cfg.MaxConcurrentSessions),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Server implements the Server role (spec.md section 4.6.1). It allocates
// a port, spawns the benchmark child, and blocks until the child has bound
// that port before returning — per spec.md, there is deliberately no
// overall timeout on this wait.
func (c *Coordinator) Server(ctx context.Context, req agentpb.Request) (agentpb.ServerReply, error) {
	sessionUUID := req.UUID
	if sessionUUID == "" {
		sessionUUID = uuid.NewString()
	}

	state := StateCreated
	log := c.logger.With(slog.String("uuid", sessionUUID), slog.String("role", "server"))

	port, err := AllocatePort()
	if err != nil {
		log.ErrorContext(ctx, "port allocation failed", slog.Any("error", err))
		return agentpb.ServerReply{}, fmt.Errorf("%w: %w", ErrPortAllocation, err)
	}
	state = StatePortAllocated
	req.ServerPort = uint32(port)

	path, err := childproc.BinaryPath(req.Operation, req.Mode)
	if err != nil {
		c.incFailed(req)
		return agentpb.ServerReply{}, err
	}
	args := childproc.BuildArgs(req, c.cfg.ReportDir, sessionUUID, "server", "")

	// The child must outlive this call; the request context is cancelled
	// once the RPC handler returns.
	bgCtx := context.WithoutCancel(ctx)

	if err := c.sessions.Acquire(ctx, 1); err != nil {
		return agentpb.ServerReply{}, fmt.Errorf("session: await session slot: %w", err)
	}

	child, err := childproc.Start(bgCtx, path, args, c.logger)
	if err != nil {
		c.sessions.Release(1)
		log.ErrorContext(ctx, "child spawn failed", slog.Any("error", err))
		c.incFailed(req)
		return agentpb.ServerReply{}, fmt.Errorf("session: spawn server child: %w", err)
	}
	state = StateChildSpawned
	c.incStarted(req)
	c.registerActive("server")

	if err := c.waitForBind(ctx, port); err != nil {
		c.unregisterActive("server")
		c.sessions.Release(1)
		return agentpb.ServerReply{}, err
	}
	state = StatePortBound
	log.InfoContext(ctx, "server child bound port", slog.Int("port", int(port)), slog.String("state", state.String()))

	go func() {
		defer c.unregisterActive("server")
		defer c.sessions.Release(1)
		c.awaitExit(bgCtx, log, child, sessionUUID, "server", req)
	}()

	return agentpb.ServerReply{Port: uint32(port)}, nil
}

func (c *Coordinator) incStarted(req agentpb.Request) {
	if c.metrics != nil {
		c.metrics.IncSessionsStarted(req.Operation, req.Mode)
	}
}

func (c *Coordinator) incFailed(req agentpb.Request) {
	if c.metrics != nil {
		c.metrics.IncSessionsFailed(req.Operation, req.Mode)
	}
}

func (c *Coordinator) registerActive(role string) {
	if c.metrics != nil {
		c.metrics.RegisterSession(role)
	}
}

func (c *Coordinator) unregisterActive(role string) {
	if c.metrics != nil {
		c.metrics.UnregisterSession(role)
	}
}

// waitForBind polls the allocated port every PollInterval until the
// benchmark child has bound it (spec.md section 4.6.1, step 4), or ctx is
// cancelled first.
func (c *Coordinator) waitForBind(ctx context.Context, port uint16) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if portBound(port) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("session: wait for port bind: %w", ctx.Err())
		}
	}
}

// Initiator implements the Initiator role (spec.md section 4.6.2). It
// assigns a UUID if the caller did not supply one and returns immediately;
// the nested peer RPC, child spawn, and report recording all happen in a
// detached background task.
func (c *Coordinator) Initiator(ctx context.Context, req agentpb.Request) (agentpb.InitiatorReply, error) {
	if req.UUID == "" {
		req.UUID = uuid.NewString()
	}
	sessionUUID := req.UUID
	// ServerAddress/ServerPort at this point identify the peer agent's own
	// RPC listener (spec.md section 4.6.2, step 1: "Open an RPC to
	// http://<peer-address>:<peer-port>/..."); ServerPort is rewritten to
	// the peer's allocated benchmark port once the nested call returns.
	peerHost := req.ServerAddress
	peerRPCAddress := net.JoinHostPort(req.ServerAddress, strconv.FormatUint(uint64(req.ServerPort), 10))

	go c.runInitiator(context.WithoutCancel(ctx), req, peerHost, peerRPCAddress, sessionUUID)

	return agentpb.InitiatorReply{UUID: sessionUUID}, nil
}

func (c *Coordinator) runInitiator(ctx context.Context, req agentpb.Request, peerHost, peerRPCAddress, sessionUUID string) {
	log := c.logger.With(slog.String("uuid", sessionUUID), slog.String("role", "initiator"))

	reply, err := c.peers.CallServer(ctx, peerRPCAddress, req)
	if err != nil {
		// Spec.md section 4.6.3: the Initiator RPC has already returned
		// success to the caller by the time this runs; a peer failure is
		// logged and the background task simply exits.
		log.WarnContext(ctx, "peer server rpc failed", slog.Any("error", fmt.Errorf("%w: %w", ErrPeerServer, err)))
		return
	}
	req.ServerPort = reply.Port

	path, err := childproc.BinaryPath(req.Operation, req.Mode)
	if err != nil {
		log.WarnContext(ctx, "unsupported operation/mode", slog.Any("error", err))
		c.incFailed(req)
		return
	}
	args := childproc.BuildArgs(req, c.cfg.ReportDir, sessionUUID, "initiator", peerHost)

	if err := c.sessions.Acquire(ctx, 1); err != nil {
		log.WarnContext(ctx, "await session slot failed", slog.Any("error", err))
		c.incFailed(req)
		return
	}
	defer c.sessions.Release(1)

	child, err := childproc.Start(ctx, path, args, c.logger)
	if err != nil {
		log.WarnContext(ctx, "child spawn failed", slog.Any("error", err))
		c.incFailed(req)
		return
	}
	c.incStarted(req)
	c.registerActive("initiator")
	defer c.unregisterActive("initiator")

	c.awaitExit(ctx, log, child, sessionUUID, "initiator", req)
}

// awaitExit waits for a running child to exit and, on success, hands its
// report off to the store (spec.md section 4.6.1 step 5 / 4.6.2 step 4).
// A wait failure is terminal (state FAILED); no partial report is stored.
func (c *Coordinator) awaitExit(ctx context.Context, log *slog.Logger, child *childproc.Child, sessionUUID, suffix string, req agentpb.Request) {
	if err := child.Wait(); err != nil {
		log.WarnContext(ctx, "benchmark child exited with error", slog.String("state", StateFailed.String()), slog.Any("error", err))
		c.incFailed(req)
		return
	}
	log.InfoContext(ctx, "benchmark child exited", slog.String("state", StateExited.String()))

	if err := c.store.Add(ctx, c.cfg.ReportDir, sessionUUID, suffix); err != nil {
		log.WarnContext(ctx, "report add failed", slog.Any("error", err))
		return
	}
	log.InfoContext(ctx, "report recorded", slog.String("state", StateReported.String()))

	if c.reportsOut != nil {
		if rep, ok := c.store.Get(ctx, sessionUUID, suffix); ok {
			select {
			case c.reportsOut <- rep:
			case <-ctx.Done():
			}
		}
	}
}
