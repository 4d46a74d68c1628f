package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/fedvault/node/internal/wire"
)

// Dispatcher is the orchestrator surface this package's gRPC service calls
// into. *orchestrator.Node implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req wire.SelfRequest) wire.SelfResponse
}

// ControlServer is implemented by server, the only type registered against
// _Control_serviceDesc.
type ControlServer interface {
	Call(ctx context.Context, in *requestEnvelope) (*responseEnvelope, error)
}

func _Control_Call_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(requestEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/rpc.Control/Call"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServer).Call(ctx, req.(*requestEnvelope))
	}
	return interceptor(ctx, in, info, handler)
}

// _Control_serviceDesc is built by hand rather than generated by protoc:
// one service, one method, a single gob-encoded envelope (see codec.go).
var _Control_serviceDesc = grpc.ServiceDesc{
	ServiceName: "rpc.Control",
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: _Control_Call_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/rpc/service.go",
}

// server adapts a Dispatcher to ControlServer.
type server struct {
	node Dispatcher
}

func (s *server) Call(ctx context.Context, in *requestEnvelope) (*responseEnvelope, error) {
	resp := s.node.Dispatch(ctx, in.Request)
	env := encodeResponse(resp)
	return &env, nil
}
