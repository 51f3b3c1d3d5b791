package controllers

import (
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

// AccessLog logs every request after it has been handled.
func AccessLog(logger *zap.Logger) restful.FilterFunction {
	logger = logger.Named("http")
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		startTime := time.Now()

		chain.ProcessFilter(req, resp)

		fields := []zap.Field{
			zap.String("client_ip", req.Request.RemoteAddr),
			zap.String("method", req.Request.Method),
			zap.String("path", req.Request.URL.Path),
			zap.Int("status_code", resp.StatusCode()),
			zap.Duration("latency", time.Since(startTime)),
			zap.String("user_agent", req.Request.UserAgent()),
		}
		if id, ok := getRequestingUserID(req); ok {
			fields = append(fields, zap.Uint("user_id", id))
		}
		logger.Info("Request", fields...)
	}
}
