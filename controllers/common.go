package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"smartcradle/auth"
	"smartcradle/services"

	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

var errUnauthenticated = errors.New("unauthenticated request")

// MessageResponse is the body of every error and of bodiless successes.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeMessage(response *restful.Response, status int, message string) {
	_ = response.WriteHeaderAndJson(status, MessageResponse{Message: message}, restful.MIME_JSON)
}

// getRequestingUserID extracts the user ID set by the AuthFilter.
func getRequestingUserID(request *restful.Request) (uint, bool) {
	userIDAttr := request.Attribute(auth.AttrUserID)
	if userIDAttr == nil {
		return 0, false
	}
	userID, ok := userIDAttr.(uint)
	return userID, ok
}

// actorContext carries the caller into the registries so mutations are attributed in the system log.
func actorContext(request *restful.Request) context.Context {
	ctx := request.Request.Context()
	if id, ok := getRequestingUserID(request); ok {
		ctx = services.WithActor(ctx, id)
	}
	return ctx
}

func pathID(request *restful.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(request.PathParameter(name), 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

func queryInt(request *restful.Request, name string, def int) int {
	v, err := strconv.Atoi(request.QueryParameter(name))
	if err != nil || v < 1 {
		return def
	}
	return v
}

// handleServiceError translates service errors to HTTP responses.
// Not found, rule violations and everything else never share a status.
func handleServiceError(response *restful.Response, logger *zap.Logger, err error) {
	var ruleErr *services.RuleError
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeMessage(response, http.StatusNotFound, err.Error())
	case errors.As(err, &ruleErr):
		writeMessage(response, http.StatusUnprocessableEntity, ruleErr.Msg)
	case errors.Is(err, services.ErrBusinessRule):
		writeMessage(response, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		writeMessage(response, http.StatusUnauthorized, "Invalid credentials")
	default:
		logger.Error("unhandled service error", zap.Error(err))
		writeMessage(response, http.StatusInternalServerError, "An internal error occurred")
	}
}

func writeForbidden(response *restful.Response, action auth.Action) {
	writeMessage(response, http.StatusForbidden, "Forbidden: not authorized to "+string(action))
}
