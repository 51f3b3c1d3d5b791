// Package grpcserver exposes the authorization evaluator to internal services over gRPC.
package grpcserver

import (
	"smartcradle/auth"
	"smartcradle/interceptors"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer builds a gRPC server with auth and logging interceptors, the
// authorization service and the standard health service. The returned
// health server is already marked SERVING for the authorization service.
func NewServer(issuer *auth.TokenIssuer, authz AuthorizationServer, logger *zap.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.AuthInterceptor(issuer),
			interceptors.ZapLoggingInterceptor(logger),
		),
	)
	RegisterAuthorizationServer(srv, authz)

	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(AuthorizationServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)
	return srv, healthSrv
}
