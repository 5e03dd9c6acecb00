// Package router implements the fan-out subscriber registry described in
// spec.md section 4.3. It follows the actor pattern documented in
// _examples/dantte-lp-gobfd/internal/bfd/manager.go: a single goroutine
// owns all mutable state, callers interact only through a command
// channel, and replies travel back over one-shot channels embedded in the
// command itself.
package router

import (
	"context"
	"log/slog"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

// Filter narrows which snapshots a subscriber receives (spec.md section 4.3).
// Only Interface and Port are evaluated; CounterList is carried but not
// applied, and a matching subscriber receives the full snapshot.
type Filter struct {
	Interface   string
	Port        *uint32
	CounterList []string
}

// Matches reports whether a snapshot passes this filter.
func (f Filter) Matches(snap agentpb.CounterSnapshot) bool {
	if f.Interface != "" && f.Interface != snap.Interface {
		return false
	}
	if f.Port != nil && *f.Port != snap.Port {
		return false
	}
	return true
}

type subscriber struct {
	ch     chan<- agentpb.CounterSnapshot
	filter Filter
}

type registerCmd struct {
	id     string
	ch     chan<- agentpb.CounterSnapshot
	filter Filter
}

type unregisterCmd struct {
	id string
}

// Router fans out collector snapshots to registered subscribers.
type Router struct {
	in         <-chan agentpb.CounterSnapshot
	register   chan registerCmd
	unregister chan unregisterCmd
	logger     *slog.Logger

	subscribers map[string]subscriber
}

// New creates a Router consuming snapshots from in. Run must be called
// for the router to do any work.
func New(in <-chan agentpb.CounterSnapshot, logger *slog.Logger) *Router {
	return &Router{
		in:          in,
		register:    make(chan registerCmd),
		unregister:  make(chan unregisterCmd),
		logger:      logger.With(slog.String("component", "router")),
		subscribers: make(map[string]subscriber),
	}
}

// Register adds a subscriber. The returned channel receives every
// snapshot matching filter, in production order, until Unregister(id) is
// called or Run exits.
func (r *Router) Register(ctx context.Context, id string, filter Filter) <-chan agentpb.CounterSnapshot {
	ch := make(chan agentpb.CounterSnapshot, 16)
	cmd := registerCmd{id: id, ch: ch, filter: filter}
	select {
	case r.register <- cmd:
	case <-ctx.Done():
		close(ch)
	}
	return ch
}

// Unregister removes a subscriber and closes its outbound channel
// (spec.md section 4.3, Teardown).
func (r *Router) Unregister(ctx context.Context, id string) {
	select {
	case r.unregister <- unregisterCmd{id: id}:
	case <-ctx.Done():
	}
}

// Run drives the fan-out loop until in is closed or ctx is cancelled, at
// which point every subscriber's channel is closed (spec.md section 4.3,
// Cancellation).
func (r *Router) Run(ctx context.Context) {
	defer r.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-r.in:
			if !ok {
				return
			}
			r.dispatch(ctx, cmd)
		case cmd := <-r.register:
			r.subscribers[cmd.id] = subscriber{ch: cmd.ch, filter: cmd.filter}
		case cmd := <-r.unregister:
			r.drop(cmd.id)
		}
	}
}

func (r *Router) dispatch(ctx context.Context, snap agentpb.CounterSnapshot) {
	for id, sub := range r.subscribers {
		if !sub.filter.Matches(snap) {
			continue
		}
		// Spec.md section 4.3: a full outbound channel blocks the whole
		// router; this is an accepted limitation, not a bug.
		select {
		case sub.ch <- snap:
		case <-ctx.Done():
			return
		}
		_ = id
	}
}

func (r *Router) drop(id string) {
	sub, ok := r.subscribers[id]
	if !ok {
		return
	}
	delete(r.subscribers, id)
	close(sub.ch)
}

func (r *Router) closeAll() {
	for id := range r.subscribers {
		r.drop(id)
	}
}
