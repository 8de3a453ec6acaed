// Package litemqpb holds the LiteMQ gRPC messages, service descriptor, and
// the codec that puts them on the wire. The schema lives in
// proto/litemq.proto; encoding follows proto3 rules (default values are
// omitted, unknown fields are skipped) so stock protobuf clients interoperate.
//
// The messages are not generated types and do not implement proto.Message:
// they carry no descriptors, so the server cannot register gRPC reflection
// for the LiteMQ service. Tools such as grpcurl need proto/litemq.proto
// passed explicitly (grpcurl -proto proto/litemq.proto ...).
package litemqpb

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Message is implemented by every LiteMQ wire message.
type Message interface {
	appendWire(b []byte) []byte
	unmarshalWire(b []byte) error
}

// EnqueueRequest carries one message for a queue.
type EnqueueRequest struct {
	Queue string
	Data  []byte
}

// QueueID names a queue.
type QueueID struct {
	Queue string
}

// QueueLength is a message count.
type QueueLength struct {
	Count int64
}

// DequeueResponse carries one dequeued message.
type DequeueResponse struct {
	Data []byte
}

// Nothing is the empty message.
type Nothing struct{}

func (x *EnqueueRequest) GetQueue() string {
	if x != nil {
		return x.Queue
	}
	return ""
}

func (x *EnqueueRequest) GetData() []byte {
	if x != nil {
		return x.Data
	}
	return nil
}

func (x *QueueID) GetQueue() string {
	if x != nil {
		return x.Queue
	}
	return ""
}

func (x *QueueLength) GetCount() int64 {
	if x != nil {
		return x.Count
	}
	return 0
}

func (x *DequeueResponse) GetData() []byte {
	if x != nil {
		return x.Data
	}
	return nil
}

// ─── encoding ─────────────────────────────────────────────────────────────────

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func (x *EnqueueRequest) appendWire(b []byte) []byte {
	b = appendString(b, 1, x.Queue)
	return appendBytes(b, 2, x.Data)
}

func (x *QueueID) appendWire(b []byte) []byte { return appendString(b, 1, x.Queue) }

func (x *QueueLength) appendWire(b []byte) []byte {
	if x.Count == 0 {
		return b
	}
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(x.Count))
}

func (x *DequeueResponse) appendWire(b []byte) []byte { return appendBytes(b, 1, x.Data) }

func (x *Nothing) appendWire(b []byte) []byte { return b }

// ─── decoding ─────────────────────────────────────────────────────────────────

var errWrongType = errors.New("wrong wire type")

// fieldFunc decodes the value of field num from b and returns the bytes it
// consumed. Returning -1 skips the field as unknown.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func consumeFields(msg string, b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("litemqpb: %s: %w", msg, protowire.ParseError(n))
		}
		b = b[n:]
		n, err := fn(num, typ, b)
		if err != nil {
			return fmt.Errorf("litemqpb: %s field %d: %w", msg, num, err)
		}
		if n < 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("litemqpb: %s field %d: %w", msg, num, protowire.ParseError(n))
			}
		}
		b = b[n:]
	}
	return nil
}

// consumeBytes decodes a length-delimited value. The result aliases b.
func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errWrongType
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	v, n, err := consumeBytes(typ, b)
	if err != nil {
		return "", 0, err
	}
	if !utf8.Valid(v) {
		return "", 0, errors.New("string is not valid UTF-8")
	}
	return string(v), n, nil
}

func (x *EnqueueRequest) unmarshalWire(b []byte) error {
	*x = EnqueueRequest{}
	return consumeFields("EnqueueRequest", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			x.Queue = v
			return n, err
		case 2:
			v, n, err := consumeBytes(typ, b)
			x.Data = bytes.Clone(v)
			return n, err
		}
		return -1, nil
	})
}

func (x *QueueID) unmarshalWire(b []byte) error {
	*x = QueueID{}
	return consumeFields("QueueID", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(typ, b)
			x.Queue = v
			return n, err
		}
		return -1, nil
	})
}

func (x *QueueLength) unmarshalWire(b []byte) error {
	*x = QueueLength{}
	return consumeFields("QueueLength", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			if typ != protowire.VarintType {
				return 0, errWrongType
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			x.Count = int64(v)
			return n, nil
		}
		return -1, nil
	})
}

func (x *DequeueResponse) unmarshalWire(b []byte) error {
	*x = DequeueResponse{}
	return consumeFields("DequeueResponse", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeBytes(typ, b)
			x.Data = bytes.Clone(v)
			return n, err
		}
		return -1, nil
	})
}

func (x *Nothing) unmarshalWire(b []byte) error {
	return consumeFields("Nothing", b, func(protowire.Number, protowire.Type, []byte) (int, error) {
		return -1, nil
	})
}
