package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartcradle/auth"
	"smartcradle/bootstrap"
	"smartcradle/config"
	"smartcradle/controllers"
	grpcserver "smartcradle/grpc_server"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"go.uber.org/zap"
)

func newLogger(level string) *zap.Logger {
	var logger *zap.Logger
	switch level {
	case "debug":
		logger, _ = zap.NewDevelopment()
	default:
		logger, _ = zap.NewProduction()
	}
	return logger
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "Smart Cradle API",
			Description: "Users, roles and device access for smart cradles",
			Version:     "1.0.0",
		},
	}
	swo.SecurityDefinitions = spec.SecurityDefinitions{
		"BearerAuth": spec.APIKeyAuth("Authorization", "header"),
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("CRADLE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync() // Make sure the buffer is flushed before the program exits

	if cfg.InsecureSecret() {
		logger.Warn("jwt_secret is the built-in default; set CRADLE_JWT_SECRET")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := bootstrap.InitInfra(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialise infrastructure", zap.Error(err))
	}
	defer infra.Close()
	if err := infra.Seed(ctx, cfg, logger); err != nil {
		logger.Fatal("Failed to seed catalog", zap.Error(err))
	}

	issuer := auth.NewTokenIssuer(cfg.JwtSecret, cfg.TokenTTL, cfg.ServiceName)
	loader := auth.NewSubjectLoader(infra.UserRoles, infra.Devices, infra.Cache, cfg.PermissionCacheTTL, logger)
	evaluator := auth.NewEvaluator()
	guard := controllers.NewGuard(loader, evaluator, logger)

	// --- REST ---
	container := restful.NewContainer()
	container.Filter(controllers.AccessLog(logger))
	for _, ctl := range []interface{ RegisterRoutes(*restful.WebService) }{
		controllers.NewAuthController(infra.Users, issuer, int64(cfg.TokenTTL/time.Second), logger),
		controllers.NewUserController(infra.Users, infra.UserRoles, infra.Devices, guard, issuer, logger),
		controllers.NewDeviceController(infra.Devices, infra.UserRoles, guard, issuer, logger),
		controllers.NewAdminController(infra.Roles, infra.Logs, guard, issuer, logger),
	} {
		ws := new(restful.WebService)
		ctl.RegisterRoutes(ws)
		container.Add(ws)
	}
	container.Add(restfulspec.NewOpenAPIService(restfulspec.Config{
		WebServices:                   container.RegisteredWebServices(),
		APIPath:                       "/apidocs.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           container,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- gRPC ---
	authz := grpcserver.NewAuthorizationServer(loader, evaluator, infra.Devices, logger)
	grpcServer, healthServer := grpcserver.NewServer(issuer, authz, logger)
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		logger.Fatal("Failed to listen for gRPC", zap.Int("port", cfg.GRPCPort), zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			errCh <- fmt.Errorf("grpc: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
	}

	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
}
