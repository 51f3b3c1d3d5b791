package controllers

import (
	"context"
	"net/http"
	"time"

	"smartcradle/auth"
	"smartcradle/models"
	"smartcradle/services"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

type UserController struct {
	users     services.UserService
	userRoles services.UserRoleService
	devices   services.DeviceRegistry
	guard     *Guard
	authn     restful.FilterFunction
	logger    *zap.Logger
}

func NewUserController(users services.UserService, userRoles services.UserRoleService, devices services.DeviceRegistry, guard *Guard, issuer *auth.TokenIssuer, logger *zap.Logger) *UserController {
	return &UserController{
		users:     users,
		userRoles: userRoles,
		devices:   devices,
		guard:     guard,
		authn:     issuer.AuthFilter(),
		logger:    logger.Named("users-api"),
	}
}

// UserResponse Defines the response structure of user information
type UserResponse struct {
	ID          uint      `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Roles       []string  `json:"roles"`
	PrimaryRole string    `json:"primary_role"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type PaginatedUsersResponse struct {
	Users    []UserResponse `json:"users"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type RelationshipResponse struct {
	DeviceID         uint                      `json:"device_id"`
	UserID           uint                      `json:"user_id"`
	RelationshipType models.RelationshipType   `json:"relationship_type"`
	Permissions      []models.DevicePermission `json:"permissions"`
}

func mapModelToUserResponse(user *models.User) UserResponse {
	if user == nil {
		return UserResponse{}
	}
	return UserResponse{
		ID:          user.ID,
		Name:        user.Name,
		Email:       user.Email,
		Roles:       services.RoleSlugs(user),
		PrimaryRole: services.PrimaryRole(user),
		Permissions: services.EffectivePermissions(user),
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
}

func mapRelationships(rels []models.DeviceUser) []RelationshipResponse {
	out := make([]RelationshipResponse, len(rels))
	for i, r := range rels {
		perms := []models.DevicePermission(r.Permissions)
		if perms == nil {
			perms = []models.DevicePermission{}
		}
		out[i] = RelationshipResponse{DeviceID: r.DeviceID, UserID: r.UserID, RelationshipType: r.RelationshipType, Permissions: perms}
	}
	return out
}

// RegisterRoutes sets up the user-related routes for a go-restful WebService.
func (ctl *UserController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/users").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	tags := []string{"users"}

	ws.Route(ws.POST("/register").To(ctl.registerHandler).
		Doc("Register a new user with the default roles").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.RegisterInput{}).
		Returns(http.StatusCreated, "User created successfully", UserResponse{}).
		Returns(http.StatusBadRequest, "Invalid request body", MessageResponse{}).
		Returns(http.StatusUnprocessableEntity, "Validation failed or email already registered", MessageResponse{}))

	ws.Route(ws.GET("").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionManageUsers, "")).To(ctl.listUsersHandler).
		Doc("List users with pagination").
		Param(ws.QueryParameter("page", "Page number (default 1)").DataType("integer").DefaultValue("1")).
		Param(ws.QueryParameter("page_size", "Users per page (default 10)").DataType("integer").DefaultValue("10")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(PaginatedUsersResponse{}).
		Returns(http.StatusOK, "Users listed successfully", PaginatedUsersResponse{}).
		Returns(http.StatusUnauthorized, "Unauthorized", MessageResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))

	ws.Route(ws.GET("/me").Filter(ctl.authn).To(ctl.meHandler).
		Doc("Get the requesting user with roles and effective permissions").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(UserResponse{}).
		Returns(http.StatusOK, "User found", UserResponse{}).
		Returns(http.StatusUnauthorized, "Unauthorized", MessageResponse{}))

	ws.Route(ws.GET("/{user-id}").Filter(ctl.authn).To(ctl.getUserByIDHandler).
		Doc("Get user by ID").
		Param(ws.PathParameter("user-id", "Identifier of the user").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(UserResponse{}).
		Returns(http.StatusOK, "User found", UserResponse{}).
		Returns(http.StatusUnauthorized, "Unauthorized", MessageResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "User not found", MessageResponse{}))

	ws.Route(ws.DELETE("/{user-id}").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionManageUsers, "")).To(ctl.deleteUserHandler).
		Doc("Delete user by ID together with its role and device bindings").
		Param(ws.PathParameter("user-id", "Identifier of the user to delete").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Returns(http.StatusOK, "User deleted successfully", MessageResponse{}).
		Returns(http.StatusUnauthorized, "Unauthorized", MessageResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "User not found", MessageResponse{}))

	ws.Route(ws.GET("/{user-id}/devices").Filter(ctl.authn).To(ctl.listRelationshipsHandler).
		Doc("List the user's device relationships").
		Param(ws.PathParameter("user-id", "Identifier of the user").DataType("integer")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]RelationshipResponse{}).
		Returns(http.StatusOK, "Relationships listed", []RelationshipResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))

	ws.Route(ws.PUT("/{user-id}/roles/{role-slug}").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionManageRoles, "")).To(ctl.assignRoleHandler).
		Doc("Assign a role to the user").
		Param(ws.PathParameter("user-id", "Identifier of the user").DataType("integer")).
		Param(ws.PathParameter("role-slug", "Role slug").DataType("string")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(UserResponse{}).
		Returns(http.StatusOK, "Role assigned", UserResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "User or role not found", MessageResponse{}))

	ws.Route(ws.DELETE("/{user-id}/roles/{role-slug}").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionManageRoles, "")).To(ctl.removeRoleHandler).
		Doc("Remove a role from the user").
		Param(ws.PathParameter("user-id", "Identifier of the user").DataType("integer")).
		Param(ws.PathParameter("role-slug", "Role slug").DataType("string")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(UserResponse{}).
		Returns(http.StatusOK, "Role removed", UserResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "User not found", MessageResponse{}))
}

// registerHandler (Handles POST /users/register)
func (ctl *UserController) registerHandler(request *restful.Request, response *restful.Response) {
	input := new(services.RegisterInput)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	user, err := ctl.users.Register(request.Request.Context(), input)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusCreated, mapModelToUserResponse(user), restful.MIME_JSON)
}

// listUsersHandler (Handles GET /users)
func (ctl *UserController) listUsersHandler(request *restful.Request, response *restful.Response) {
	page := queryInt(request, "page", 1)
	pageSize := queryInt(request, "page_size", 10)

	users, total, err := ctl.users.ListUsers(request.Request.Context(), page, pageSize)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}

	userResponses := make([]UserResponse, len(users))
	for i := range users {
		userResponses[i] = mapModelToUserResponse(&users[i])
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, PaginatedUsersResponse{
		Users:    userResponses,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, restful.MIME_JSON)
}

// meHandler (Handles GET /users/me)
func (ctl *UserController) meHandler(request *restful.Request, response *restful.Response) {
	userID, ok := getRequestingUserID(request)
	if !ok {
		writeMessage(response, http.StatusUnauthorized, "Unauthorized: Cannot identify requesting user")
		return
	}
	user, err := ctl.userRoles.LoadUser(request.Request.Context(), userID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, mapModelToUserResponse(user), restful.MIME_JSON)
}

// selfOrManager lets users read their own records; anyone else needs manage_users.
func (ctl *UserController) selfOrManager(request *restful.Request, response *restful.Response) (uint, bool) {
	targetUserID, ok := pathID(request, "user-id")
	if !ok {
		writeMessage(response, http.StatusBadRequest, "Invalid user ID format")
		return 0, false
	}
	requestingUserID, ok := getRequestingUserID(request)
	if !ok {
		writeMessage(response, http.StatusUnauthorized, "Unauthorized: Cannot identify requesting user")
		return 0, false
	}
	if targetUserID != requestingUserID && !ctl.guard.Allowed(request, response, auth.ActionManageUsers, auth.Resource{}) {
		return 0, false
	}
	return targetUserID, true
}

// getUserByIDHandler (Handles GET /users/{user-id})
func (ctl *UserController) getUserByIDHandler(request *restful.Request, response *restful.Response) {
	targetUserID, ok := ctl.selfOrManager(request, response)
	if !ok {
		return
	}
	user, err := ctl.users.GetUser(request.Request.Context(), targetUserID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, mapModelToUserResponse(user), restful.MIME_JSON)
}

// listRelationshipsHandler (Handles GET /users/{user-id}/devices)
func (ctl *UserController) listRelationshipsHandler(request *restful.Request, response *restful.Response) {
	targetUserID, ok := ctl.selfOrManager(request, response)
	if !ok {
		return
	}
	rels, err := ctl.devices.Relationships(request.Request.Context(), targetUserID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, mapRelationships(rels), restful.MIME_JSON)
}

// deleteUserHandler (Handles DELETE /users/{user-id})
func (ctl *UserController) deleteUserHandler(request *restful.Request, response *restful.Response) {
	targetUserID, ok := pathID(request, "user-id")
	if !ok {
		writeMessage(response, http.StatusBadRequest, "Invalid user ID format")
		return
	}
	if requestingUserID, _ := getRequestingUserID(request); requestingUserID == targetUserID {
		writeMessage(response, http.StatusUnprocessableEntity, "Users cannot delete themselves")
		return
	}

	if err := ctl.users.DeleteUser(actorContext(request), targetUserID); err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeMessage(response, http.StatusOK, "User deleted successfully")
}

// assignRoleHandler (Handles PUT /users/{user-id}/roles/{role-slug})
func (ctl *UserController) assignRoleHandler(request *restful.Request, response *restful.Response) {
	ctl.changeRole(request, response, ctl.userRoles.AssignRole)
}

// removeRoleHandler (Handles DELETE /users/{user-id}/roles/{role-slug})
func (ctl *UserController) removeRoleHandler(request *restful.Request, response *restful.Response) {
	ctl.changeRole(request, response, ctl.userRoles.RemoveRole)
}

func (ctl *UserController) changeRole(request *restful.Request, response *restful.Response, apply func(ctx context.Context, user *models.User, slug string) error) {
	targetUserID, ok := pathID(request, "user-id")
	if !ok {
		writeMessage(response, http.StatusBadRequest, "Invalid user ID format")
		return
	}
	ctx := actorContext(request)

	user, err := ctl.userRoles.LoadUser(ctx, targetUserID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	if err := apply(ctx, user, request.PathParameter("role-slug")); err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	user, err = ctl.userRoles.LoadUser(ctx, targetUserID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, mapModelToUserResponse(user), restful.MIME_JSON)
}
