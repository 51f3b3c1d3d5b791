package controllers

import (
	"net/http"

	"smartcradle/auth"
	"smartcradle/services"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

type LoginRequest struct {
	Email    string `json:"email" description:"Login email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string       `json:"token"`
	TokenType string       `json:"token_type"`
	ExpiresIn int64        `json:"expires_in"`
	User      UserResponse `json:"user"`
}

type AuthController struct {
	users  services.UserService
	issuer *auth.TokenIssuer
	ttl    int64
	logger *zap.Logger
}

func NewAuthController(users services.UserService, issuer *auth.TokenIssuer, ttlSeconds int64, logger *zap.Logger) *AuthController {
	return &AuthController{users: users, issuer: issuer, ttl: ttlSeconds, logger: logger.Named("auth")}
}

func (ctl *AuthController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/auth").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)

	ws.Route(ws.POST("/login").To(ctl.loginHandler).
		Doc("Exchange credentials for an access token").
		Metadata(restfulspec.KeyOpenAPITags, []string{"auth"}).
		Reads(LoginRequest{}).
		Returns(http.StatusOK, "Login successful", LoginResponse{}).
		Returns(http.StatusBadRequest, "Invalid request body", MessageResponse{}).
		Returns(http.StatusUnauthorized, "Invalid credentials", MessageResponse{}))
}

// loginHandler (Handles POST /auth/login)
func (ctl *AuthController) loginHandler(request *restful.Request, response *restful.Response) {
	input := new(LoginRequest)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if input.Email == "" || input.Password == "" {
		writeMessage(response, http.StatusBadRequest, "Email and password are required")
		return
	}

	user, err := ctl.users.Authenticate(request.Request.Context(), input.Email, input.Password)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}

	token, err := ctl.issuer.GenerateToken(user)
	if err != nil {
		ctl.logger.Error("failed to sign token", zap.Uint("user_id", user.ID), zap.Error(err))
		writeMessage(response, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	_ = response.WriteHeaderAndJson(http.StatusOK, LoginResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: ctl.ttl,
		User:      mapModelToUserResponse(user),
	}, restful.MIME_JSON)
}
