// Package netstat reads supplemental per-interface driver counters via
// ethtool -S (SPEC_FULL.md addition). The ib_* pseudo-files the main
// rdma.Provider reads never expose queue drop/error counters the NIC
// driver tracks; this package is an optional, best-effort source the
// collector can attach to enrich a CounterSnapshot with them. Grounded
// on _examples/yuuki-rdma_exporter/internal/netdev/provider.go, which
// wraps the same github.com/safchain/ethtool client behind a narrow
// statsClient interface for testability.
package netstat

import (
	"context"
	"fmt"
	"sync"
)

type statsClient interface {
	Stats(intf string) (map[string]uint64, error)
	Close()
}

// Provider reads ethtool -S counters for one or more net-devices.
type Provider struct {
	mu     sync.Mutex
	client statsClient
}

func newProvider(client statsClient) *Provider {
	return &Provider{client: client}
}

// Stats fetches driver counters for netDev. A nil Provider (no ethtool
// client available on this host) always returns a nil map and no error,
// so callers can treat it as an always-safe enrichment step.
func (p *Provider) Stats(ctx context.Context, netDev string) (map[string]uint64, error) {
	if p == nil || p.client == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stats, err := p.client.Stats(netDev)
	if err != nil {
		return nil, fmt.Errorf("read ethtool stats for %s: %w", netDev, err)
	}
	return stats, nil
}

// Close releases the underlying ethtool client, if any.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client == nil {
		return nil
	}
	p.client.Close()
	p.client = nil
	return nil
}
