// Package rpc defines the storage service shared by the client transport
// and the reference server: wire messages, a JSON codec for gRPC and the
// service descriptor.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of every storage call.
const CodecName = "json"

// Codec encodes messages as JSON. It is registered on import.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(Codec{})
}
