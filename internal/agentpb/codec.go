package agentpb

import (
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

// codecName is registered as the connect wire codec for every rdmabench
// RPC client and handler. connect-go's built-in "proto" and "json" codecs
// both require messages to implement proto.Message via code generation;
// this module hand-writes its wire messages instead (see the package doc
// in types.go) and therefore supplies its own connect.Codec backed by
// encoding/json. The procedure paths (procedures.go) and message shapes
// (types.go) are declared by hand in this package.
const codecName = "json"

// jsonCodec adapts encoding/json to the connect.Codec interface.
type jsonCodec struct{}

// NewCodec returns the connect.Codec used by every rdmabench RPC surface.
func NewCodec() connect.Codec {
	return jsonCodec{}
}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(msg any) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", msg, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("unmarshal %T: %w", msg, err)
	}
	return nil
}

// CodecOption wires the codec into both client and handler construction.
// connect.WithCodec returns a value satisfying both connect.ClientOption
// and connect.HandlerOption, so the same call site works on either side.
func CodecOption() connect.Option {
	return connect.WithCodec(NewCodec())
}
