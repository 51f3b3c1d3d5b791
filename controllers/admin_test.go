package controllers

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"smartcradle/models"
	"smartcradle/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminCatalog(t *testing.T) {
	srv := newTestServer(t)
	_, adminToken := srv.createUser(t, "root", models.RoleAdmin)
	_, aliceToken := srv.createUser(t, "alice", models.RoleParent)

	t.Run("Permissions", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, srv.do(t, http.MethodGet, "/admin/permissions", aliceToken, nil).Code)

		w := srv.do(t, http.MethodGet, "/admin/permissions", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		perms := decode[[]PermissionResponse](t, w)
		assert.Len(t, perms, 13)
	})

	t.Run("Roles", func(t *testing.T) {
		w := srv.do(t, http.MethodGet, "/admin/roles", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		roles := decode[[]RoleResponse](t, w)
		require.Len(t, roles, 3)
		bySlug := map[string]RoleResponse{}
		for _, r := range roles {
			bySlug[r.Slug] = r
		}
		assert.True(t, bySlug[models.RoleParent].IsDefault)
		assert.Len(t, bySlug[models.RoleAdmin].Permissions, 13)
		assert.NotContains(t, bySlug[models.RoleBabysitter].Permissions, services.PermControlDevice)
	})

	t.Run("Grant and revoke", func(t *testing.T) {
		path := fmt.Sprintf("/admin/roles/%s/permissions/%s", models.RoleBabysitter, services.PermViewSystemLogs)
		assert.Equal(t, http.StatusForbidden, srv.do(t, http.MethodPut, path, aliceToken, nil).Code)

		w := srv.do(t, http.MethodPut, path, adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Contains(t, decode[RoleResponse](t, w).Permissions, services.PermViewSystemLogs)

		w = srv.do(t, http.MethodDelete, path, adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, decode[RoleResponse](t, w).Permissions, services.PermViewSystemLogs)

		w = srv.do(t, http.MethodPut, fmt.Sprintf("/admin/roles/%s/permissions/teleport", models.RoleBabysitter), adminToken, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("System logs", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, srv.do(t, http.MethodGet, "/admin/system-logs", aliceToken, nil).Code)

		w := srv.do(t, http.MethodGet, "/admin/system-logs?page_size=5", adminToken, nil)
		require.Equal(t, http.StatusOK, w.Code)
		page := decode[PaginatedLogsResponse](t, w)
		assert.Positive(t, page.Total)
		assert.LessOrEqual(t, len(page.Logs), 5)
		// Newest first: the revoke from the previous subtest.
		assert.Equal(t, services.LogPermissionRevoked, page.Logs[0].Action)
	})
}

func TestAuthorizeEndpoint(t *testing.T) {
	srv := newTestServer(t)
	_, adminToken := srv.createUser(t, "root", models.RoleAdmin)
	alice, aliceToken := srv.createUser(t, "alice", models.RoleParent)
	bob, bobToken := srv.createUser(t, "bob", models.RoleBabysitter)

	device, err := srv.devices.RegisterDevice(context.Background(), services.DeviceAttrs{
		SerialNumber: "SC-AUTH", MACAddress: "AA:BB:CC:DD:EE:AA",
	}, alice.ID)
	require.NoError(t, err)

	ask := func(token string, req AuthorizeRequest) AuthorizeResponse {
		w := srv.do(t, http.MethodPost, "/admin/authorize", token, req)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode[AuthorizeResponse](t, w)
	}

	resp := ask(aliceToken, AuthorizeRequest{Action: "device.control", DeviceID: device.ID})
	assert.True(t, resp.Allowed)
	assert.Equal(t, "allow", resp.Decision)
	assert.Equal(t, alice.ID, resp.UserID)

	resp = ask(bobToken, AuthorizeRequest{Action: "device.view", DeviceID: device.ID})
	assert.False(t, resp.Allowed)
	assert.Equal(t, "deny", resp.Decision)

	resp = ask(adminToken, AuthorizeRequest{UserID: bob.ID, Action: "view_babysitter_dashboard"})
	assert.True(t, resp.Allowed)
	assert.Equal(t, bob.ID, resp.UserID)

	t.Run("Asking about someone else needs manage_users", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/admin/authorize", bobToken, AuthorizeRequest{UserID: alice.ID, Action: "device.view", DeviceID: device.ID})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Unknown action", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/admin/authorize", aliceToken, AuthorizeRequest{Action: "launch_rocket"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Unknown subject", func(t *testing.T) {
		w := srv.do(t, http.MethodPost, "/admin/authorize", adminToken, AuthorizeRequest{UserID: 9999, Action: "device.view", DeviceID: device.ID})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
