// Package collector implements the periodic RDMA counter sampler
// (spec.md section 4.2). Its tick-loop-plus-bounded-output-channel shape
// is grounded on the actor pattern in
// _examples/dantte-lp-gobfd/internal/bfd/manager.go (RunDispatch), and its
// per-field rate derivation mirrors the invariant spelled out in spec.md
// section 3: a rate is computed only when the current value strictly
// exceeds the previous one for the same key.
package collector

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
	"github.com/dantte-lp/rdmabench/internal/netstat"
	"github.com/dantte-lp/rdmabench/internal/rdma"
)

// rateKind identifies one of the four rate-bearing counter fields
// (spec.md section 4.2).
type rateKind int

const (
	rateBytesRcv rateKind = iota
	rateBytesXmit
	ratePacketsRcv
	ratePacketsXmit
)

type historyKey struct {
	iface string
	port  uint32
	kind  rateKind
}

// Config configures a Collector (spec.md section 4.2).
type Config struct {
	Period time.Duration
	Driver rdma.Driver
	// Device restricts sampling to a single RDMA interface name (spec.md
	// section 6.4, --device). Empty samples every enumerated interface.
	Device   string
	Hostname string
}

// SampleRecorder receives one event per counter sample taken
// (internal/metrics.Collector implements this).
type SampleRecorder interface {
	IncCounterSamples(driver, iface string)
}

// Collector periodically samples RDMA counters and publishes snapshots.
type Collector struct {
	cfg      Config
	provider *rdma.Provider
	out      chan<- agentpb.CounterSnapshot
	logger   *slog.Logger
	metrics  SampleRecorder
	netstat  *netstat.Provider

	history map[historyKey]uint64
}

// Option configures optional Collector parameters.
type Option func(*Collector)

// WithMetrics attaches a SampleRecorder. If mr is nil, metrics calls are
// skipped.
func WithMetrics(mr SampleRecorder) Option {
	return func(c *Collector) {
		c.metrics = mr
	}
}

// WithNicStats attaches an ethtool-backed netstat.Provider used to
// enrich each snapshot's NicStats field (SPEC_FULL.md addition). A nil
// provider is valid and simply skips enrichment.
func WithNicStats(p *netstat.Provider) Option {
	return func(c *Collector) {
		c.netstat = p
	}
}

// New creates a Collector that publishes to out. out must be drained by
// a consumer (the router) or the collector will block on send, which is
// the intentional backpressure behavior of spec.md section 4.2.
func New(cfg Config, provider *rdma.Provider, out chan<- agentpb.CounterSnapshot, logger *slog.Logger, opts ...Option) *Collector {
	if cfg.Period <= 0 {
		cfg.Period = time.Second
	}
	if cfg.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Hostname = h
		}
	}
	c := &Collector{
		cfg:      cfg,
		provider: provider,
		out:      out,
		logger:   logger.With(slog.String("component", "collector")),
		history:  make(map[historyKey]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run enumerates interfaces once, then ticks at cfg.Period until ctx is
// cancelled. Cancellation is the only way the loop exits; a send waiting
// on a full output channel also returns once ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	ifaces, err := c.provider.Enumerate(ctx)
	if err != nil {
		return err
	}
	ifaces = c.filterDevice(ifaces)
	c.logger.InfoContext(ctx, "enumerated rdma interfaces", slog.Int("count", len(ifaces)))

	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !c.tick(ctx, ifaces) {
				return nil
			}
		}
	}
}

// filterDevice narrows ifaces to cfg.Device when set.
func (c *Collector) filterDevice(ifaces []rdma.Interface) []rdma.Interface {
	if c.cfg.Device == "" {
		return ifaces
	}
	filtered := make([]rdma.Interface, 0, 1)
	for _, iface := range ifaces {
		if iface.Name == c.cfg.Device {
			filtered = append(filtered, iface)
		}
	}
	return filtered
}

// tick samples every interface/port once and publishes a snapshot for
// each. Returns false if ctx was cancelled while a send was waiting.
func (c *Collector) tick(ctx context.Context, ifaces []rdma.Interface) bool {
	periodSeconds := c.cfg.Period.Seconds()
	for _, iface := range ifaces {
		for _, port := range iface.Ports {
			snap := c.sample(iface.Name, port, periodSeconds)
			if stats, err := c.netstat.Stats(ctx, port.NetDevice); err == nil && len(stats) > 0 {
				snap.NicStats = stats
			}
			if c.metrics != nil {
				c.metrics.IncCounterSamples(string(c.cfg.Driver), iface.Name)
			}
			select {
			case c.out <- snap:
			case <-ctx.Done():
				return false
			}
		}
	}
	return true
}

func (c *Collector) sample(iface string, port rdma.Port, periodSeconds float64) agentpb.CounterSnapshot {
	snap := agentpb.CounterSnapshot{
		Hostname:  c.cfg.Hostname,
		Interface: iface,
		Port:      port.Number,
		Driver:    string(c.cfg.Driver),
	}

	var rcvData, xmitData, rcvPackets, xmitPackets uint64

	switch c.cfg.Driver {
	case rdma.DriverRxe:
		rxe, hw := c.provider.ReadRxe(iface, port.Number, port.NetDevice)
		snap.Rxe, snap.RxeHw = &rxe, &hw
		rcvData, xmitData = rxe.RxBytes, rxe.TxBytes
		rcvPackets, xmitPackets = rxe.RxPackets, rxe.TxPackets
	default:
		mlx, hw := c.provider.ReadMlx(iface, port.Number)
		snap.Mlx, snap.MlxHw = &mlx, &hw
		rcvData, xmitData = mlx.PortRcvData, mlx.PortXmitData
		rcvPackets, xmitPackets = mlx.PortRcvPackets, mlx.PortXmitPackets
	}

	snap.PerSec = agentpb.PerSec{
		BytesRcvPerSec:    c.rate(iface, port.Number, rateBytesRcv, rcvData, periodSeconds),
		BytesXmitPerSec:   c.rate(iface, port.Number, rateBytesXmit, xmitData, periodSeconds),
		PacketsRcvPerSec:  c.rate(iface, port.Number, ratePacketsRcv, rcvPackets, periodSeconds),
		PacketsXmitPerSec: c.rate(iface, port.Number, ratePacketsXmit, xmitPackets, periodSeconds),
	}
	snap.ElapsedHi, snap.ElapsedLo = agentpb.Timestamp(time.Now())
	return snap
}

// rate implements the derivation in spec.md section 4.2: a rate is
// computed only when the current value strictly exceeds the prior one;
// otherwise it is 0 (counter resets never produce a negative rate).
func (c *Collector) rate(iface string, port uint32, kind rateKind, cur uint64, periodSeconds float64) float64 {
	key := historyKey{iface, port, kind}
	prev, ok := c.history[key]
	c.history[key] = cur

	if !ok || prev >= cur || periodSeconds <= 0 {
		return 0
	}
	return float64(cur-prev) / periodSeconds
}
