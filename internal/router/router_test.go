package router

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustRecv(t *testing.T, ch <-chan agentpb.CounterSnapshot) agentpb.CounterSnapshot {
	t.Helper()
	select {
	case snap, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return agentpb.CounterSnapshot{}
}

// TestFanOutFilters reproduces Scenario 2 from spec.md section 8.
func TestFanOutFilters(t *testing.T) {
	in := make(chan agentpb.CounterSnapshot, 8)
	r := New(in, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	port1 := uint32(1)
	chA := r.Register(ctx, "A", Filter{Interface: "rxe0"})
	chB := r.Register(ctx, "B", Filter{Port: &port1})

	snaps := []agentpb.CounterSnapshot{
		{Interface: "rxe0", Port: 1},
		{Interface: "rxe1", Port: 1},
		{Interface: "rxe0", Port: 2},
	}
	for _, s := range snaps {
		in <- s
	}

	got := mustRecv(t, chA)
	if got.Interface != "rxe0" {
		t.Errorf("A received interface %q, want rxe0", got.Interface)
	}

	b1 := mustRecv(t, chB)
	b2 := mustRecv(t, chB)
	if b1.Port != 1 || b2.Port != 1 {
		t.Errorf("B received non-port-1 snapshot: %+v %+v", b1, b2)
	}
}

func TestUnregisterClosesChannel(t *testing.T) {
	in := make(chan agentpb.CounterSnapshot, 8)
	r := New(in, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	ch := r.Register(ctx, "A", Filter{})
	r.Unregister(ctx, "A")

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel to be closed, got a value")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed after Unregister")
	}
}

func TestRunClosesSubscribersOnCancel(t *testing.T) {
	in := make(chan agentpb.CounterSnapshot)
	r := New(in, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)

	ch := r.Register(ctx, "A", Filter{})
	cancel()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("subscriber channel was not closed after context cancellation")
	}
}
