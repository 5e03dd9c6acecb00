package rpcsvc

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/dantte-lp/rdmabench/internal/agentpb"
)

// PeerClient implements session.PeerCaller by issuing the nested
// ServerConnection.Server RPC a session's Initiator role needs
// (spec.md section 4.6.2, step 1).
type PeerClient struct {
	httpClient *http.Client
}

// NewPeerClient builds a PeerClient dialing peers over plaintext HTTP/2,
// matching the listener every rdmabench agent exposes.
func NewPeerClient() *PeerClient {
	return &PeerClient{httpClient: &http.Client{Transport: agentpb.NewH2CTransport()}}
}

// CallServer issues Request to peerAddress's ServerConnection.Server RPC
// and returns the peer-allocated port.
func (c *PeerClient) CallServer(ctx context.Context, peerAddress string, req agentpb.Request) (agentpb.ServerReply, error) {
	client := connect.NewClient[agentpb.Request, agentpb.ServerReply](
		c.httpClient, "http://"+peerAddress+agentpb.ServerConnectionServerProcedure, agentpb.CodecOption())

	resp, err := client.CallUnary(ctx, connect.NewRequest(&req))
	if err != nil {
		return agentpb.ServerReply{}, fmt.Errorf("call peer %s: %w", peerAddress, err)
	}
	return *resp.Msg, nil
}
