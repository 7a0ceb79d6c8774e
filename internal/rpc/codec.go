package rpc

import (
	"fmt"

	"github.com/goccy/go-json"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype every call uses
// (content-type application/grpc+json).
const CodecName = "json"

// Raw carries an already-encoded JSON message through the codec untouched.
type Raw struct {
	Data []byte
}

type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	if r, ok := v.(*Raw); ok {
		return r.Data, nil
	}
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if r, ok := v.(*Raw); ok {
		r.Data = append([]byte(nil), data...)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("rpc: decode %T: %w", v, err)
	}
	return nil
}

func (Codec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(Codec{})
}
