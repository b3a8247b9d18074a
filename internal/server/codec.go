package server

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// codecName is the content subtype of the Ledger service. Clients select it
// with grpc.CallContentSubtype(codecName); LedgerClient does so already.
const codecName = "json"

// jsonCodec carries the ingestion wire messages over gRPC unchanged, so NATS,
// HTTP and gRPC producers all send the same JSON bodies.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
