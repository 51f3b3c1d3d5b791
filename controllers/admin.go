package controllers

import (
	"context"
	"net/http"

	"smartcradle/auth"
	"smartcradle/models"
	"smartcradle/services"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

type AdminController struct {
	roles  services.RoleRegistry
	logs   services.SystemLogService
	guard  *Guard
	authn  restful.FilterFunction
	logger *zap.Logger
}

func NewAdminController(roles services.RoleRegistry, logs services.SystemLogService, guard *Guard, issuer *auth.TokenIssuer, logger *zap.Logger) *AdminController {
	return &AdminController{roles: roles, logs: logs, guard: guard, authn: issuer.AuthFilter(), logger: logger.Named("admin-api")}
}

type PermissionResponse struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Group       string `json:"group"`
	Description string `json:"description"`
}

type RoleResponse struct {
	Slug        string   `json:"slug"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsDefault   bool     `json:"is_default"`
	Permissions []string `json:"permissions"`
}

type PaginatedLogsResponse struct {
	Logs     []models.SystemLog `json:"logs"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// AuthorizeRequest asks whether a user may perform an action. UserID
// defaults to the caller; asking about someone else needs manage_users.
type AuthorizeRequest struct {
	UserID   uint   `json:"user_id,omitempty"`
	Action   string `json:"action"`
	DeviceID uint   `json:"device_id,omitempty"`
}

type AuthorizeResponse struct {
	UserID   uint   `json:"user_id"`
	Action   string `json:"action"`
	DeviceID uint   `json:"device_id,omitempty"`
	Allowed  bool   `json:"allowed"`
	Decision string `json:"decision"`
}

func mapRole(role *models.Role) RoleResponse {
	perms := make([]string, 0, len(role.Permissions))
	for _, p := range role.Permissions {
		perms = append(perms, p.Slug)
	}
	return RoleResponse{Slug: role.Slug, Name: role.Name, Description: role.Description, IsDefault: role.IsDefault, Permissions: perms}
}

func (ctl *AdminController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/admin").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	tags := []string{"admin"}
	roleParam := ws.PathParameter("role-slug", "Role slug").DataType("string")
	permParam := ws.PathParameter("permission-slug", "Permission slug").DataType("string")

	ws.Route(ws.GET("/permissions").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionManagePermissions, "")).To(ctl.listPermissionsHandler).
		Doc("List the permission catalog").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]PermissionResponse{}).
		Returns(http.StatusOK, "Permissions listed", []PermissionResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))

	ws.Route(ws.GET("/roles").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionManageRoles, "")).To(ctl.listRolesHandler).
		Doc("List roles with their permissions").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]RoleResponse{}).
		Returns(http.StatusOK, "Roles listed", []RoleResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))

	ws.Route(ws.PUT("/roles/{role-slug}/permissions/{permission-slug}").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionManagePermissions, "")).To(ctl.grantPermissionHandler).
		Doc("Grant a permission to a role").
		Param(roleParam).Param(permParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Returns(http.StatusOK, "Permission granted", RoleResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "Role or permission not found", MessageResponse{}))

	ws.Route(ws.DELETE("/roles/{role-slug}/permissions/{permission-slug}").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionManagePermissions, "")).To(ctl.revokePermissionHandler).
		Doc("Revoke a permission from a role").
		Param(roleParam).Param(permParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Returns(http.StatusOK, "Permission revoked", RoleResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "Role or permission not found", MessageResponse{}))

	ws.Route(ws.GET("/system-logs").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionViewSystemLogs, "")).To(ctl.listLogsHandler).
		Doc("List system log entries, newest first").
		Param(ws.QueryParameter("page", "Page number (default 1)").DataType("integer").DefaultValue("1")).
		Param(ws.QueryParameter("page_size", "Entries per page (default 20)").DataType("integer").DefaultValue("20")).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(PaginatedLogsResponse{}).
		Returns(http.StatusOK, "Logs listed", PaginatedLogsResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))

	ws.Route(ws.POST("/authorize").Filter(ctl.authn).To(ctl.authorizeHandler).
		Doc("Evaluate a policy decision").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(AuthorizeRequest{}).
		Returns(http.StatusOK, "Decision made", AuthorizeResponse{}).
		Returns(http.StatusBadRequest, "Unknown action", MessageResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))
}

// listPermissionsHandler (Handles GET /admin/permissions)
func (ctl *AdminController) listPermissionsHandler(request *restful.Request, response *restful.Response) {
	perms, err := ctl.roles.ListPermissions(request.Request.Context())
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	out := make([]PermissionResponse, len(perms))
	for i, p := range perms {
		out[i] = PermissionResponse{Slug: p.Slug, Name: p.Name, Group: p.Group, Description: p.Description}
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, out, restful.MIME_JSON)
}

// listRolesHandler (Handles GET /admin/roles)
func (ctl *AdminController) listRolesHandler(request *restful.Request, response *restful.Response) {
	roles, err := ctl.roles.ListRoles(request.Request.Context())
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	out := make([]RoleResponse, len(roles))
	for i := range roles {
		out[i] = mapRole(&roles[i])
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, out, restful.MIME_JSON)
}

func (ctl *AdminController) grantPermissionHandler(request *restful.Request, response *restful.Response) {
	ctl.changeRolePermission(request, response, ctl.roles.GrantPermission)
}

func (ctl *AdminController) revokePermissionHandler(request *restful.Request, response *restful.Response) {
	ctl.changeRolePermission(request, response, ctl.roles.RevokePermission)
}

func (ctl *AdminController) changeRolePermission(request *restful.Request, response *restful.Response, apply func(context.Context, *models.Role, *models.Permission) error) {
	ctx := actorContext(request)
	role, err := ctl.roles.FindRole(ctx, request.PathParameter("role-slug"))
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	perm, err := ctl.roles.FindPermission(ctx, request.PathParameter("permission-slug"))
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	if err := apply(ctx, role, perm); err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	role, err = ctl.roles.FindRole(ctx, role.Slug)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, mapRole(role), restful.MIME_JSON)
}

// listLogsHandler (Handles GET /admin/system-logs)
func (ctl *AdminController) listLogsHandler(request *restful.Request, response *restful.Response) {
	page := queryInt(request, "page", 1)
	pageSize := queryInt(request, "page_size", 20)
	logs, total, err := ctl.logs.List(request.Request.Context(), page, pageSize)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	if logs == nil {
		logs = []models.SystemLog{}
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, PaginatedLogsResponse{Logs: logs, Total: total, Page: page, PageSize: pageSize}, restful.MIME_JSON)
}

// authorizeHandler (Handles POST /admin/authorize)
func (ctl *AdminController) authorizeHandler(request *restful.Request, response *restful.Response) {
	input := new(AuthorizeRequest)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	action := auth.Action(input.Action)
	if !ctl.guard.evaluator.Known(action) {
		writeMessage(response, http.StatusBadRequest, "Unknown action: "+input.Action)
		return
	}

	callerID, ok := getRequestingUserID(request)
	if !ok {
		writeMessage(response, http.StatusUnauthorized, "Unauthorized: Cannot identify requesting user")
		return
	}
	subjectID := input.UserID
	if subjectID == 0 {
		subjectID = callerID
	}
	if subjectID != callerID && !ctl.guard.Allowed(request, response, auth.ActionManageUsers, auth.Resource{}) {
		return
	}

	var resource auth.Resource
	if input.DeviceID != 0 {
		resource = auth.DeviceResource(input.DeviceID)
	}
	decision, err := ctl.guard.Evaluate(request.Request.Context(), subjectID, action, resource)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, AuthorizeResponse{
		UserID:   subjectID,
		Action:   input.Action,
		DeviceID: input.DeviceID,
		Allowed:  bool(decision),
		Decision: decision.String(),
	}, restful.MIME_JSON)
}
