package agentpb

import (
	"context"
	"crypto/tls"
	"net"

	"golang.org/x/net/http2"
)

// NewH2CTransport builds an http2.Transport that dials plaintext HTTP/2
// connections (no TLS), mirroring the h2c.NewHandler server side used by
// the agent's listener (_examples/dantte-lp-gobfd/cmd/gobfd/main.go's
// newGRPCServer). Every rdmabench RPC client — the session coordinator's
// peer caller, the upstream forwarder — dials its peer this way, since
// none of these connections leave a trusted cluster (spec.md section 1,
// Non-goals: "does not authenticate callers").
func NewH2CTransport() *http2.Transport {
	return &http2.Transport{
		AllowHTTP: true,
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	}
}
