package grpcserver

import (
	"context"
	"errors"

	"smartcradle/auth"
	"smartcradle/interceptors"
	"smartcradle/models"
	"smartcradle/services"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type authorizationServer struct {
	loader    *auth.SubjectLoader
	evaluator *auth.Evaluator
	devices   services.DeviceRegistry
	logger    *zap.Logger
}

func NewAuthorizationServer(loader *auth.SubjectLoader, evaluator *auth.Evaluator, devices services.DeviceRegistry, logger *zap.Logger) AuthorizationServer {
	return &authorizationServer{loader: loader, evaluator: evaluator, devices: devices, logger: logger.Named("authz-rpc")}
}

func (s *authorizationServer) Check(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	action := auth.Action(stringField(req, "action"))
	if action == "" {
		return nil, status.Error(codes.InvalidArgument, "action is required")
	}
	if !s.evaluator.Known(action) {
		return nil, status.Errorf(codes.InvalidArgument, "unknown action %q", action)
	}
	userID, err := s.subjectID(ctx, req)
	if err != nil {
		return nil, err
	}

	var resource auth.Resource
	if id := uintField(req, "device_id"); id != 0 {
		resource = auth.DeviceResource(id)
	}
	subject, err := s.loader.Load(ctx, userID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	decision := s.evaluator.Evaluate(subject, action, resource)

	return structpb.NewStruct(map[string]interface{}{
		"user_id":  float64(userID),
		"action":   string(action),
		"allowed":  bool(decision),
		"decision": decision.String(),
	})
}

func (s *authorizationServer) DevicePermissions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	deviceID := uintField(req, "device_id")
	if deviceID == 0 {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}
	userID, err := s.subjectID(ctx, req)
	if err != nil {
		return nil, err
	}

	subject, err := s.loader.Load(ctx, userID)
	if err != nil {
		return nil, s.toStatus(err)
	}
	grant, ok := subject.Device(deviceID)
	perms := make([]interface{}, 0, len(grant.Permissions))
	for _, p := range grant.Permissions {
		perms = append(perms, string(p))
	}

	return structpb.NewStruct(map[string]interface{}{
		"user_id":           float64(userID),
		"device_id":         float64(deviceID),
		"has_access":        ok,
		"relationship_type": string(grant.Relationship),
		"permissions":       perms,
	})
}

// subjectID returns the caller, or the requested user_id when the caller is an admin.
func (s *authorizationServer) subjectID(ctx context.Context, req *structpb.Struct) (uint, error) {
	callerID, ok := interceptors.GetUserIDFromContext(ctx)
	if !ok {
		return 0, status.Error(codes.Unauthenticated, "caller is not authenticated")
	}
	target := uintField(req, "user_id")
	if target == 0 || target == callerID {
		return callerID, nil
	}
	caller, err := s.loader.Load(ctx, callerID)
	if err != nil {
		return 0, s.toStatus(err)
	}
	if !caller.HasRole(models.RoleAdmin) {
		return 0, status.Error(codes.PermissionDenied, "only administrators may query other users")
	}
	return target, nil
}

func (s *authorizationServer) toStatus(err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, services.ErrBusinessRule):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		s.logger.Error("authorization lookup failed", zap.Error(err))
		return status.Error(codes.Internal, "internal error")
	}
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func uintField(req *structpb.Struct, name string) uint {
	v := req.GetFields()[name].GetNumberValue()
	if v <= 0 {
		return 0
	}
	return uint(v)
}
