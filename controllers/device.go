package controllers

import (
	"errors"
	"net/http"
	"time"

	"smartcradle/auth"
	"smartcradle/models"
	"smartcradle/services"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

type DeviceController struct {
	devices   services.DeviceRegistry
	userRoles services.UserRoleService
	guard     *Guard
	authn     restful.FilterFunction
	logger    *zap.Logger
}

func NewDeviceController(devices services.DeviceRegistry, userRoles services.UserRoleService, guard *Guard, issuer *auth.TokenIssuer, logger *zap.Logger) *DeviceController {
	return &DeviceController{
		devices:   devices,
		userRoles: userRoles,
		guard:     guard,
		authn:     issuer.AuthFilter(),
		logger:    logger.Named("devices-api"),
	}
}

// HealthResponse is the telemetry subset readable with view_health.
type HealthResponse struct {
	DeviceID       uint                `json:"device_id"`
	Status         models.DeviceStatus `json:"status"`
	SignalStrength int                 `json:"signal_strength"`
	BatteryLevel   int                 `json:"battery_level"`
	LastSeenAt     *time.Time          `json:"last_seen_at,omitempty"`
}

// AssignUserRequest is the body of PUT /devices/{device-id}/users/{user-id}.
type AssignUserRequest struct {
	RelationshipType models.RelationshipType   `json:"relationship_type" description:"owner, caretaker or viewer"`
	Permissions      []models.DevicePermission `json:"permissions" description:"Device-scoped permissions"`
}

func (ctl *DeviceController) RegisterRoutes(ws *restful.WebService) {
	ws.Path("/devices").Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	tags := []string{"devices"}
	deviceParam := ws.PathParameter("device-id", "Identifier of the device").DataType("integer")
	userParam := ws.PathParameter("user-id", "Identifier of the user").DataType("integer")

	ws.Route(ws.POST("").Filter(ctl.authn).To(ctl.registerDeviceHandler).
		Doc("Register a cradle owned by the requesting user").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.DeviceAttrs{}).
		Returns(http.StatusCreated, "Device registered", models.Device{}).
		Returns(http.StatusUnprocessableEntity, "Validation failed, duplicate device or ownership limit reached", MessageResponse{}))

	ws.Route(ws.GET("").Filter(ctl.authn).To(ctl.listDevicesHandler).
		Doc("List the devices the requesting user is related to").
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]models.Device{}).
		Returns(http.StatusOK, "Devices listed", []models.Device{}))

	ws.Route(ws.GET("/{device-id}").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionDeviceView, "device-id")).To(ctl.getDeviceHandler).
		Doc("Get device by ID").
		Param(deviceParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(models.Device{}).
		Returns(http.StatusOK, "Device found", models.Device{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "Device not found", MessageResponse{}))

	ws.Route(ws.DELETE("/{device-id}").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionDeviceDelete, "device-id")).To(ctl.deleteDeviceHandler).
		Doc("Delete the device and all of its relationships").
		Param(deviceParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Returns(http.StatusOK, "Device deleted", MessageResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "Device not found", MessageResponse{}))

	ws.Route(ws.GET("/{device-id}/health").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionDeviceViewHealth, "device-id")).To(ctl.healthHandler).
		Doc("Read device health telemetry").
		Param(deviceParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes(HealthResponse{}).
		Returns(http.StatusOK, "Health read", HealthResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))

	ws.Route(ws.PUT("/{device-id}/controls").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionDeviceControl, "device-id")).To(ctl.controlsHandler).
		Doc("Toggle device controls").
		Param(deviceParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.ControlInput{}).
		Returns(http.StatusOK, "Controls updated", models.Device{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))

	ws.Route(ws.PUT("/{device-id}/telemetry").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionDeviceUpdate, "device-id")).To(ctl.telemetryHandler).
		Doc("Record device telemetry").
		Param(deviceParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(services.TelemetryInput{}).
		Returns(http.StatusOK, "Telemetry recorded", models.Device{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusUnprocessableEntity, "Validation failed", MessageResponse{}))

	ws.Route(ws.GET("/{device-id}/users").Filter(ctl.authn).Filter(ctl.guard.Require(auth.ActionDeviceView, "device-id")).To(ctl.listDeviceUsersHandler).
		Doc("List the users related to the device").
		Param(deviceParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Writes([]RelationshipResponse{}).
		Returns(http.StatusOK, "Relationships listed", []RelationshipResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))

	ws.Route(ws.PUT("/{device-id}/users/{user-id}").Filter(ctl.authn).To(ctl.assignUserHandler).
		Doc("Create or replace a user's relationship with the device").
		Param(deviceParam).Param(userParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Reads(AssignUserRequest{}).
		Returns(http.StatusOK, "Relationship saved", RelationshipResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}).
		Returns(http.StatusNotFound, "Device or user not found", MessageResponse{}).
		Returns(http.StatusUnprocessableEntity, "Invalid relationship or permissions", MessageResponse{}))

	ws.Route(ws.DELETE("/{device-id}/users/{user-id}").Filter(ctl.authn).To(ctl.removeUserHandler).
		Doc("Remove a user's relationship with the device").
		Param(deviceParam).Param(userParam).
		Metadata(restfulspec.KeyOpenAPITags, tags).
		Returns(http.StatusOK, "Relationship removed", MessageResponse{}).
		Returns(http.StatusForbidden, "Forbidden", MessageResponse{}))
}

// registerDeviceHandler (Handles POST /devices)
func (ctl *DeviceController) registerDeviceHandler(request *restful.Request, response *restful.Response) {
	ownerID, ok := getRequestingUserID(request)
	if !ok {
		writeMessage(response, http.StatusUnauthorized, "Unauthorized: Cannot identify requesting user")
		return
	}
	attrs := new(services.DeviceAttrs)
	if err := request.ReadEntity(attrs); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	device, err := ctl.devices.RegisterDevice(actorContext(request), *attrs, ownerID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusCreated, device, restful.MIME_JSON)
}

// listDevicesHandler (Handles GET /devices)
func (ctl *DeviceController) listDevicesHandler(request *restful.Request, response *restful.Response) {
	userID, ok := getRequestingUserID(request)
	if !ok {
		writeMessage(response, http.StatusUnauthorized, "Unauthorized: Cannot identify requesting user")
		return
	}
	devices, err := ctl.devices.ListUserDevices(request.Request.Context(), userID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, devices, restful.MIME_JSON)
}

// getDeviceHandler (Handles GET /devices/{device-id})
func (ctl *DeviceController) getDeviceHandler(request *restful.Request, response *restful.Response) {
	deviceID, _ := pathID(request, "device-id")
	device, err := ctl.devices.FindDevice(request.Request.Context(), deviceID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, device, restful.MIME_JSON)
}

// deleteDeviceHandler (Handles DELETE /devices/{device-id})
func (ctl *DeviceController) deleteDeviceHandler(request *restful.Request, response *restful.Response) {
	deviceID, _ := pathID(request, "device-id")
	if err := ctl.devices.DeleteDevice(actorContext(request), deviceID); err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeMessage(response, http.StatusOK, "Device deleted successfully")
}

// healthHandler (Handles GET /devices/{device-id}/health)
func (ctl *DeviceController) healthHandler(request *restful.Request, response *restful.Response) {
	deviceID, _ := pathID(request, "device-id")
	device, err := ctl.devices.FindDevice(request.Request.Context(), deviceID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, HealthResponse{
		DeviceID:       device.ID,
		Status:         device.Status,
		SignalStrength: device.SignalStrength,
		BatteryLevel:   device.BatteryLevel,
		LastSeenAt:     device.LastSeenAt,
	}, restful.MIME_JSON)
}

// controlsHandler (Handles PUT /devices/{device-id}/controls)
func (ctl *DeviceController) controlsHandler(request *restful.Request, response *restful.Response) {
	deviceID, _ := pathID(request, "device-id")
	input := new(services.ControlInput)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	device, err := ctl.devices.UpdateControls(actorContext(request), deviceID, *input)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, device, restful.MIME_JSON)
}

// telemetryHandler (Handles PUT /devices/{device-id}/telemetry)
func (ctl *DeviceController) telemetryHandler(request *restful.Request, response *restful.Response) {
	deviceID, _ := pathID(request, "device-id")
	input := new(services.TelemetryInput)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	device, err := ctl.devices.UpdateTelemetry(request.Request.Context(), deviceID, *input)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, device, restful.MIME_JSON)
}

// listDeviceUsersHandler (Handles GET /devices/{device-id}/users)
func (ctl *DeviceController) listDeviceUsersHandler(request *restful.Request, response *restful.Response) {
	deviceID, _ := pathID(request, "device-id")
	rels, err := ctl.devices.DeviceUsers(request.Request.Context(), deviceID)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, mapRelationships(rels), restful.MIME_JSON)
}

// authorizeMembership resolves the ids and applies the caller's check:
// managing a babysitter needs manage_babysitters, anyone else manage_users.
func (ctl *DeviceController) authorizeMembership(request *restful.Request, response *restful.Response) (deviceID, userID uint, ok bool) {
	deviceID, ok = pathID(request, "device-id")
	if !ok {
		writeMessage(response, http.StatusBadRequest, "Invalid device ID format")
		return 0, 0, false
	}
	userID, ok = pathID(request, "user-id")
	if !ok {
		writeMessage(response, http.StatusBadRequest, "Invalid user ID format")
		return 0, 0, false
	}

	target, err := ctl.userRoles.LoadUser(request.Request.Context(), userID)
	if errors.Is(err, services.ErrNotFound) {
		// Callers who may not manage the device learn nothing about the target.
		if ctl.guard.Allowed(request, response, auth.ActionDeviceManageUsers, auth.DeviceResource(deviceID)) {
			handleServiceError(response, ctl.logger, err)
		}
		return 0, 0, false
	}
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return 0, 0, false
	}
	action := auth.ActionDeviceManageUsers
	if services.HasRole(target, models.RoleBabysitter) {
		action = auth.ActionDeviceManageBabysitters
	}
	if !ctl.guard.Allowed(request, response, action, auth.DeviceResource(deviceID)) {
		return 0, 0, false
	}
	return deviceID, userID, true
}

// assignUserHandler (Handles PUT /devices/{device-id}/users/{user-id})
func (ctl *DeviceController) assignUserHandler(request *restful.Request, response *restful.Response) {
	deviceID, userID, ok := ctl.authorizeMembership(request, response)
	if !ok {
		return
	}
	input := new(AssignUserRequest)
	if err := request.ReadEntity(input); err != nil {
		writeMessage(response, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	rel, err := ctl.devices.AssignUser(actorContext(request), deviceID, userID, input.RelationshipType, input.Permissions)
	if err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	_ = response.WriteHeaderAndJson(http.StatusOK, mapRelationships([]models.DeviceUser{*rel})[0], restful.MIME_JSON)
}

// removeUserHandler (Handles DELETE /devices/{device-id}/users/{user-id})
func (ctl *DeviceController) removeUserHandler(request *restful.Request, response *restful.Response) {
	deviceID, userID, ok := ctl.authorizeMembership(request, response)
	if !ok {
		return
	}
	if err := ctl.devices.RemoveUser(actorContext(request), deviceID, userID); err != nil {
		handleServiceError(response, ctl.logger, err)
		return
	}
	writeMessage(response, http.StatusOK, "Relationship removed")
}
