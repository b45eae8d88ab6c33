// Package rpc exposes the assistant over gRPC and provides a client for it.
//
// The service carries well-known protobuf types so no generated code is
// needed:
//
//	service arogya.v1.Assistant {
//	  rpc Ask(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc History(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	}
//
// Ask takes {"message", "session_id"} and returns {"response", "session_id"}.
// History with an empty value lists sessions as {"sessions": [...]}; with a
// session ID it returns {"session_id", "messages": [...]}. Callers
// authenticate with "authorization: Bearer <token>" metadata.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "arogya.v1.Assistant"

	askMethod     = "/" + ServiceName + "/Ask"
	historyMethod = "/" + ServiceName + "/History"
)

// AssistantServer is the server API for the Assistant service.
type AssistantServer interface {
	Ask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	History(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error)
}

// RegisterAssistantServer registers srv on s.
func RegisterAssistantServer(s grpc.ServiceRegistrar, srv AssistantServer) {
	s.RegisterService(&assistantServiceDesc, srv)
}

func askHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AssistantServer).Ask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: askMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AssistantServer).Ask(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func historyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AssistantServer).History(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: historyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AssistantServer).History(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

var assistantServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AssistantServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ask", Handler: askHandler},
		{MethodName: "History", Handler: historyHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "arogya/v1/assistant.proto",
}
