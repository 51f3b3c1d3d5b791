package controllers

import (
	"context"
	"net/http"

	"smartcradle/auth"

	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

const attrSubject = "subject"

// Guard is the policy-check call site for REST handlers.
type Guard struct {
	loader    *auth.SubjectLoader
	evaluator *auth.Evaluator
	logger    *zap.Logger
}

func NewGuard(loader *auth.SubjectLoader, evaluator *auth.Evaluator, logger *zap.Logger) *Guard {
	return &Guard{loader: loader, evaluator: evaluator, logger: logger.Named("guard")}
}

// Subject loads the caller's snapshot once per request.
func (g *Guard) Subject(request *restful.Request) (*auth.Subject, error) {
	if s, ok := request.Attribute(attrSubject).(*auth.Subject); ok {
		return s, nil
	}
	userID, ok := getRequestingUserID(request)
	if !ok {
		return nil, errUnauthenticated
	}
	s, err := g.loader.Load(request.Request.Context(), userID)
	if err != nil {
		return nil, err
	}
	request.SetAttribute(attrSubject, s)
	return s, nil
}

// Allowed evaluates the action for the caller, writing the error response
// itself and returning false when the request must stop.
func (g *Guard) Allowed(request *restful.Request, response *restful.Response, action auth.Action, resource auth.Resource) bool {
	subject, err := g.Subject(request)
	if err == errUnauthenticated {
		writeMessage(response, http.StatusUnauthorized, "Unauthorized: Cannot identify requesting user")
		return false
	}
	if err != nil {
		handleServiceError(response, g.logger, err)
		return false
	}
	decision := g.evaluator.Evaluate(subject, action, resource)
	g.logger.Debug("policy check",
		zap.Uint("user_id", subject.UserID),
		zap.String("action", string(action)),
		zap.Uint("device_id", resource.DeviceID),
		zap.Stringer("decision", decision))
	if decision == auth.Deny {
		writeForbidden(response, action)
		return false
	}
	return true
}

// Require returns a filter that lets the request through only when the
// action is allowed. deviceParam names the path parameter holding the
// device id; empty for actions without a resource.
func (g *Guard) Require(action auth.Action, deviceParam string) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		var resource auth.Resource
		if deviceParam != "" {
			id, ok := pathID(req, deviceParam)
			if !ok {
				writeMessage(resp, http.StatusBadRequest, "Invalid device ID format")
				return
			}
			resource = auth.DeviceResource(id)
		}
		if !g.Allowed(req, resp, action, resource) {
			return
		}
		chain.ProcessFilter(req, resp)
	}
}

// Evaluate answers a policy question about any subject without writing a response.
func (g *Guard) Evaluate(ctx context.Context, userID uint, action auth.Action, resource auth.Resource) (auth.Decision, error) {
	s, err := g.loader.Load(ctx, userID)
	if err != nil {
		return auth.Deny, err
	}
	return g.evaluator.Evaluate(s, action, resource), nil
}
