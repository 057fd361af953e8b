package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name of the control plane.
const ServiceName = "selfheal.v1.ControlPlane"

// Full method names, usable with grpc.ClientConn.Invoke.
const (
	MethodTriggerRun    = "/" + ServiceName + "/TriggerRun"
	MethodListBackups   = "/" + ServiceName + "/ListBackups"
	MethodRollback      = "/" + ServiceName + "/Rollback"
	MethodLearningStats = "/" + ServiceName + "/LearningStats"
	MethodStatus        = "/" + ServiceName + "/Status"
)

// ControlPlaneServer is the server API for the control plane. Payloads use protobuf
// well-known types so no generated code is required.
type ControlPlaneServer interface {
	TriggerRun(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListBackups(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Rollback(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	LearningStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// UnimplementedControlPlaneServer can be embedded to satisfy ControlPlaneServer.
type UnimplementedControlPlaneServer struct{}

func (UnimplementedControlPlaneServer) TriggerRun(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method TriggerRun not implemented")
}

func (UnimplementedControlPlaneServer) ListBackups(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListBackups not implemented")
}

func (UnimplementedControlPlaneServer) Rollback(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Rollback not implemented")
}

func (UnimplementedControlPlaneServer) LearningStats(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method LearningStats not implemented")
}

func (UnimplementedControlPlaneServer) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Status not implemented")
}

// RegisterControlPlaneServer registers srv on s.
func RegisterControlPlaneServer(s grpc.ServiceRegistrar, srv ControlPlaneServer) {
	s.RegisterService(&ControlPlaneServiceDesc, srv)
}

// ControlPlaneServiceDesc describes the control plane for grpc.ServiceRegistrar.
var ControlPlaneServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlPlaneServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("TriggerRun", ControlPlaneServer.TriggerRun),
		unary("ListBackups", ControlPlaneServer.ListBackups),
		unary("Rollback", ControlPlaneServer.Rollback),
		unary("LearningStats", ControlPlaneServer.LearningStats),
		unary("Status", ControlPlaneServer.Status),
	},
	Streams: []grpc.StreamDesc{},
}

// unary builds a MethodDesc that decodes Req, runs the interceptor chain and calls fn.
func unary[Req any, Resp any](name string, fn func(ControlPlaneServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(ControlPlaneServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return fn(srv.(ControlPlaneServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
