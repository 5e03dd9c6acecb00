// Package reportstore implements the in-memory report table described in
// spec.md section 4.5: an actor wrapping a map keyed by (uuid, suffix),
// following the same command-channel-plus-one-shot-reply pattern as
// _examples/dantte-lp-gobfd/internal/bfd/manager.go.
package reportstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

// Key identifies a single stored report.
type Key struct {
	UUID   string
	Suffix string
}

func (k Key) String() string { return k.UUID + "-" + k.Suffix }

type addCmd struct {
	key   Key
	path  string
	reply chan<- error
}

type getCmd struct {
	key   Key
	reply chan<- getResult
}

type getResult struct {
	report agentpb.Report
	ok     bool
}

type listCmd struct {
	reply chan<- map[Key]agentpb.Report
}

type removeCmd struct {
	key   Key
	reply chan<- struct{}
}

// Store is the report-store actor handle. Values are cheap to copy and
// safe to share across RPC handler goroutines.
type Store struct {
	add      chan addCmd
	get      chan getCmd
	list     chan listCmd
	remove   chan removeCmd
	logger   *slog.Logger
	hostname string
}

// New creates a Store. Run must be called for the store to do any work.
func New(hostname string, logger *slog.Logger) *Store {
	return &Store{
		add:      make(chan addCmd),
		get:      make(chan getCmd),
		list:     make(chan listCmd),
		remove:   make(chan removeCmd),
		logger:   logger.With(slog.String("component", "reportstore")),
		hostname: hostname,
	}
}

// Run drives the store's command loop until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	reports := make(map[Key]agentpb.Report)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.add:
			rep, err := loadReport(cmd.path, s.hostname, cmd.key.UUID)
			if err != nil {
				s.logger.WarnContext(ctx, "report add failed", slog.String("key", cmd.key.String()), slog.Any("error", err))
			} else {
				reports[cmd.key] = rep
			}
			cmd.reply <- err
		case cmd := <-s.get:
			rep, ok := reports[cmd.key]
			cmd.reply <- getResult{report: rep, ok: ok}
		case cmd := <-s.list:
			snapshot := make(map[Key]agentpb.Report, len(reports))
			for k, v := range reports {
				snapshot[k] = v
			}
			cmd.reply <- snapshot
		case cmd := <-s.remove:
			delete(reports, cmd.key)
			cmd.reply <- struct{}{}
		}
	}
}

// Add reads reportDir/<uuid>-<suffix>.json, normalizes it, and inserts
// the parsed Report (spec.md section 4.5). Parse/read failures are
// logged, nothing is stored, and the error is returned to the caller.
func (s *Store) Add(ctx context.Context, reportDir, uuid, suffix string) error {
	key := Key{UUID: uuid, Suffix: suffix}
	path := filepath.Join(reportDir, fmt.Sprintf("%s-%s.json", uuid, suffix))
	reply := make(chan error, 1)
	select {
	case s.add <- addCmd{key: key, path: path, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the report for (uuid, suffix), if present.
func (s *Store) Get(ctx context.Context, uuid, suffix string) (agentpb.Report, bool) {
	reply := make(chan getResult, 1)
	select {
	case s.get <- getCmd{key: Key{UUID: uuid, Suffix: suffix}, reply: reply}:
	case <-ctx.Done():
		return agentpb.Report{}, false
	}
	select {
	case res := <-reply:
		return res.report, res.ok
	case <-ctx.Done():
		return agentpb.Report{}, false
	}
}

// List returns every stored report keyed by (uuid, suffix).
func (s *Store) List(ctx context.Context) map[Key]agentpb.Report {
	reply := make(chan map[Key]agentpb.Report, 1)
	select {
	case s.list <- listCmd{reply: reply}:
	case <-ctx.Done():
		return nil
	}
	select {
	case reports := <-reply:
		return reports
	case <-ctx.Done():
		return nil
	}
}

// Remove deletes the report for (uuid, suffix). It is idempotent
// (spec.md section 8): removing an absent key succeeds silently.
func (s *Store) Remove(ctx context.Context, uuid, suffix string) {
	reply := make(chan struct{}, 1)
	select {
	case s.remove <- removeCmd{key: Key{UUID: uuid, Suffix: suffix}, reply: reply}:
	case <-ctx.Done():
		return
	}
	<-reply
}

func loadReport(path, hostname, uuid string) (agentpb.Report, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is built from a controlled report directory and session UUID
	if err != nil {
		return agentpb.Report{}, fmt.Errorf("read report file %s: %w", path, err)
	}

	normalized := Normalize(string(raw))

	var parsed rawReport
	if err := json.Unmarshal([]byte(normalized), &parsed); err != nil {
		return agentpb.Report{}, fmt.Errorf("parse normalized report %s: %w", path, err)
	}
	return parsed.toReport(hostname, uuid), nil
}
