package litemqpb

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// CodecName is the content subtype the codec registers under. It is "proto"
// so requests from stock protobuf clients are accepted unchanged.
const CodecName = "proto"

// Codec encodes LiteMQ messages itself and defers to the protobuf runtime for
// generated messages, so services such as grpc.health.v1 keep working on a
// server that forces it.
type Codec struct{}

var _ encoding.Codec = Codec{}

func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case Message:
		return m.appendWire(nil), nil
	case proto.Message:
		return proto.Marshal(m)
	default:
		return nil, fmt.Errorf("litemqpb: cannot marshal %T", v)
	}
}

func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case Message:
		return m.unmarshalWire(data)
	case proto.Message:
		return proto.Unmarshal(data, m)
	default:
		return fmt.Errorf("litemqpb: cannot unmarshal into %T", v)
	}
}

func (Codec) Name() string { return CodecName }
