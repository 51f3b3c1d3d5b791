package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Messages are google.protobuf.Struct so no generated code is needed.
// Check request:             {"action": string, "device_id"?: number, "user_id"?: number}
// Check response:            {"user_id", "action", "allowed": bool, "decision": "allow"|"deny"}
// DevicePermissions request: {"device_id": number, "user_id"?: number}
// DevicePermissions response:{"user_id", "device_id", "has_access": bool, "relationship_type", "permissions": [string]}
const AuthorizationServiceName = "smartcradle.authz.v1.AuthorizationService"

const (
	checkMethod             = "/" + AuthorizationServiceName + "/Check"
	devicePermissionsMethod = "/" + AuthorizationServiceName + "/DevicePermissions"
)

type AuthorizationServer interface {
	Check(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DevicePermissions(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterAuthorizationServer(s grpc.ServiceRegistrar, srv AuthorizationServer) {
	s.RegisterService(&AuthorizationServiceDesc, srv)
}

var AuthorizationServiceDesc = grpc.ServiceDesc{
	ServiceName: AuthorizationServiceName,
	HandlerType: (*AuthorizationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Check", Handler: unaryHandler(checkMethod, AuthorizationServer.Check)},
		{MethodName: "DevicePermissions", Handler: unaryHandler(devicePermissionsMethod, AuthorizationServer.DevicePermissions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "smartcradle/authz/v1/authz.proto",
}

func unaryHandler(fullMethod string, call func(AuthorizationServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AuthorizationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(AuthorizationServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AuthorizationClient calls the service over an established connection.
type AuthorizationClient struct {
	cc grpc.ClientConnInterface
}

func NewAuthorizationClient(cc grpc.ClientConnInterface) *AuthorizationClient {
	return &AuthorizationClient{cc: cc}
}

func (c *AuthorizationClient) Check(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, checkMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AuthorizationClient) DevicePermissions(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, devicePermissionsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
