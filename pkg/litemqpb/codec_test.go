package litemqpb_test

import (
	"bytes"
	"testing"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/sneh-joshi/litemq/pkg/litemqpb"
)

var codec litemqpb.Codec

func TestCodec_KnownEncodings(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want []byte
	}{
		{"enqueue", &litemqpb.EnqueueRequest{Queue: "q", Data: []byte("hi")},
			[]byte{0x0a, 0x01, 'q', 0x12, 0x02, 'h', 'i'}},
		{"enqueue empty data", &litemqpb.EnqueueRequest{Queue: "q"},
			[]byte{0x0a, 0x01, 'q'}},
		{"queue id", &litemqpb.QueueID{Queue: "jobs"},
			[]byte{0x0a, 0x04, 'j', 'o', 'b', 's'}},
		{"length", &litemqpb.QueueLength{Count: 300},
			[]byte{0x08, 0xac, 0x02}},
		{"zero length", &litemqpb.QueueLength{}, []byte{}},
		{"dequeue", &litemqpb.DequeueResponse{Data: []byte{0}},
			[]byte{0x0a, 0x01, 0x00}},
		{"nothing", &litemqpb.Nothing{}, []byte{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := codec.Marshal(tc.msg)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tc.want) && !(len(got) == 0 && len(tc.want) == 0) {
				t.Fatalf("Marshal = %x, want %x", got, tc.want)
			}
		})
	}
}

func TestCodec_Decode(t *testing.T) {
	var req litemqpb.EnqueueRequest
	wire := []byte{0x0a, 0x01, 'q', 0x12, 0x02, 'h', 'i'}
	if err := codec.Unmarshal(wire, &req); err != nil {
		t.Fatal(err)
	}
	if req.Queue != "q" || string(req.Data) != "hi" {
		t.Fatalf("got %+v", req)
	}
	wire[5] = 'X'
	if string(req.Data) != "hi" {
		t.Fatal("decoded payload aliases the input buffer")
	}

	var n litemqpb.QueueLength
	if err := codec.Unmarshal([]byte{0x08, 0xac, 0x02}, &n); err != nil || n.Count != 300 {
		t.Fatalf("QueueLength = %+v, %v", n, err)
	}
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, "orders")
	b = protowire.AppendTag(b, 7, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future"))

	var id litemqpb.QueueID
	if err := codec.Unmarshal(b, &id); err != nil {
		t.Fatal(err)
	}
	if id.Queue != "orders" {
		t.Fatalf("Queue = %q", id.Queue)
	}
}

func TestCodec_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
		into any
	}{
		{"truncated length", []byte{0x0a, 0x05, 'a'}, &litemqpb.QueueID{}},
		{"wrong wire type", []byte{0x08, 0x01}, &litemqpb.QueueID{}},
		{"invalid utf8", []byte{0x0a, 0x01, 0xff}, &litemqpb.QueueID{}},
		{"bad tag", []byte{0x80}, &litemqpb.Nothing{}},
		{"count as bytes", []byte{0x0a, 0x00}, &litemqpb.QueueLength{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := codec.Unmarshal(tc.wire, tc.into); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestCodec_RoundTripNegativeCount(t *testing.T) {
	b, err := codec.Marshal(&litemqpb.QueueLength{Count: -1})
	if err != nil {
		t.Fatal(err)
	}
	var got litemqpb.QueueLength
	if err := codec.Unmarshal(b, &got); err != nil || got.Count != -1 {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestCodec_FallsBackToProtobuf(t *testing.T) {
	in := &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}
	b, err := codec.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out healthpb.HealthCheckResponse
	if err := codec.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v", out.GetStatus())
	}

	if _, err := codec.Marshal(struct{}{}); err == nil {
		t.Fatal("expected error for a non-message value")
	}
}
