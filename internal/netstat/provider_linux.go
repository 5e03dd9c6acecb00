//go:build linux

package netstat

import (
	"fmt"

	"github.com/safchain/ethtool"
)

// NewProvider opens an ethtool client and returns a Provider backed by
// it. On any open failure (permissions, no ethtool ioctl support) it
// returns a non-nil error; callers should log and continue without
// driver-stat enrichment rather than treat it as fatal.
func NewProvider() (*Provider, error) {
	client, err := ethtool.NewEthtool()
	if err != nil {
		return nil, fmt.Errorf("open ethtool client: %w", err)
	}
	return newProvider(client), nil
}
