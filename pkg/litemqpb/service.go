package litemqpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "LiteMQ"

const (
	EnqueueMethod = "/LiteMQ/Enqueue"
	DequeueMethod = "/LiteMQ/Dequeue"
	PurgeMethod   = "/LiteMQ/Purge"
	LengthMethod  = "/LiteMQ/Length"
	HealthMethod  = "/LiteMQ/Health"
	FlushMethod   = "/LiteMQ/Flush"
)

// LiteMQServer is the server API for the LiteMQ service.
type LiteMQServer interface {
	Enqueue(context.Context, *EnqueueRequest) (*QueueLength, error)
	Dequeue(context.Context, *QueueID) (*DequeueResponse, error)
	Purge(context.Context, *QueueID) (*QueueLength, error)
	Length(context.Context, *QueueID) (*QueueLength, error)
	Health(context.Context, *Nothing) (*Nothing, error)
	Flush(context.Context, *Nothing) (*Nothing, error)
}

// UnimplementedLiteMQServer answers every method with codes.Unimplemented.
type UnimplementedLiteMQServer struct{}

func (UnimplementedLiteMQServer) Enqueue(context.Context, *EnqueueRequest) (*QueueLength, error) {
	return nil, status.Error(codes.Unimplemented, "method Enqueue not implemented")
}
func (UnimplementedLiteMQServer) Dequeue(context.Context, *QueueID) (*DequeueResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Dequeue not implemented")
}
func (UnimplementedLiteMQServer) Purge(context.Context, *QueueID) (*QueueLength, error) {
	return nil, status.Error(codes.Unimplemented, "method Purge not implemented")
}
func (UnimplementedLiteMQServer) Length(context.Context, *QueueID) (*QueueLength, error) {
	return nil, status.Error(codes.Unimplemented, "method Length not implemented")
}
func (UnimplementedLiteMQServer) Health(context.Context, *Nothing) (*Nothing, error) {
	return nil, status.Error(codes.Unimplemented, "method Health not implemented")
}
func (UnimplementedLiteMQServer) Flush(context.Context, *Nothing) (*Nothing, error) {
	return nil, status.Error(codes.Unimplemented, "method Flush not implemented")
}

// RegisterLiteMQServer registers srv on s. The server must be created with
// grpc.ForceServerCodec(Codec{}).
func RegisterLiteMQServer(s grpc.ServiceRegistrar, srv LiteMQServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a MethodDesc handler for one request/response pair.
func unary[Req any, Resp any](
	fullMethod string,
	call func(srv LiteMQServer, ctx context.Context, req *Req) (*Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LiteMQServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LiteMQServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc is the grpc.ServiceDesc for the LiteMQ service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LiteMQServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Enqueue", Handler: unary(EnqueueMethod, LiteMQServer.Enqueue)},
		{MethodName: "Dequeue", Handler: unary(DequeueMethod, LiteMQServer.Dequeue)},
		{MethodName: "Purge", Handler: unary(PurgeMethod, LiteMQServer.Purge)},
		{MethodName: "Length", Handler: unary(LengthMethod, LiteMQServer.Length)},
		{MethodName: "Health", Handler: unary(HealthMethod, LiteMQServer.Health)},
		{MethodName: "Flush", Handler: unary(FlushMethod, LiteMQServer.Flush)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "proto/litemq.proto",
}

// LiteMQClient is the client API for the LiteMQ service.
type LiteMQClient interface {
	Enqueue(ctx context.Context, in *EnqueueRequest, opts ...grpc.CallOption) (*QueueLength, error)
	Dequeue(ctx context.Context, in *QueueID, opts ...grpc.CallOption) (*DequeueResponse, error)
	Purge(ctx context.Context, in *QueueID, opts ...grpc.CallOption) (*QueueLength, error)
	Length(ctx context.Context, in *QueueID, opts ...grpc.CallOption) (*QueueLength, error)
	Health(ctx context.Context, in *Nothing, opts ...grpc.CallOption) (*Nothing, error)
	Flush(ctx context.Context, in *Nothing, opts ...grpc.CallOption) (*Nothing, error)
}

type liteMQClient struct {
	cc grpc.ClientConnInterface
}

// NewLiteMQClient returns a client that encodes with Codec regardless of the
// connection's default codec.
func NewLiteMQClient(cc grpc.ClientConnInterface) LiteMQClient {
	return &liteMQClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec{})}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *liteMQClient) Enqueue(ctx context.Context, in *EnqueueRequest, opts ...grpc.CallOption) (*QueueLength, error) {
	return invoke[QueueLength](ctx, c.cc, EnqueueMethod, in, opts)
}

func (c *liteMQClient) Dequeue(ctx context.Context, in *QueueID, opts ...grpc.CallOption) (*DequeueResponse, error) {
	return invoke[DequeueResponse](ctx, c.cc, DequeueMethod, in, opts)
}

func (c *liteMQClient) Purge(ctx context.Context, in *QueueID, opts ...grpc.CallOption) (*QueueLength, error) {
	return invoke[QueueLength](ctx, c.cc, PurgeMethod, in, opts)
}

func (c *liteMQClient) Length(ctx context.Context, in *QueueID, opts ...grpc.CallOption) (*QueueLength, error) {
	return invoke[QueueLength](ctx, c.cc, LengthMethod, in, opts)
}

func (c *liteMQClient) Health(ctx context.Context, in *Nothing, opts ...grpc.CallOption) (*Nothing, error) {
	return invoke[Nothing](ctx, c.cc, HealthMethod, in, opts)
}

func (c *liteMQClient) Flush(ctx context.Context, in *Nothing, opts ...grpc.CallOption) (*Nothing, error) {
	return invoke[Nothing](ctx, c.cc, FlushMethod, in, opts)
}
