package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`database_driver: sqlite
database_url: %s
admin_email: root@example.com
admin_password: change-me-please
`, filepath.Join(dir, "cradle.db"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(&cli{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCradlectl(t *testing.T) {
	cfgPath := writeConfig(t)

	out, err := run(t, cfgPath, "seed")
	require.NoError(t, err, out)
	assert.Contains(t, out, "catalog seeded")

	t.Run("Seeding twice is harmless", func(t *testing.T) {
		_, err := run(t, cfgPath, "seed")
		require.NoError(t, err)
	})

	t.Run("Permissions list", func(t *testing.T) {
		out, err := run(t, cfgPath, "permissions", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "manage_alerts")
		assert.Contains(t, out, "view_health")
	})

	t.Run("Roles list", func(t *testing.T) {
		out, err := run(t, cfgPath, "roles", "list")
		require.NoError(t, err)
		assert.Contains(t, out, "babysitter")
		assert.Contains(t, out, "parent")
	})

	t.Run("Inspect, grant and revoke", func(t *testing.T) {
		out, err := run(t, cfgPath, "user", "inspect", "ROOT@example.com")
		require.NoError(t, err)
		assert.Contains(t, out, "primary role: admin")

		out, err = run(t, cfgPath, "user", "grant", "root@example.com", "parent")
		require.NoError(t, err)
		assert.Contains(t, out, "granted parent root@example.com")

		out, err = run(t, cfgPath, "user", "inspect", "root@example.com")
		require.NoError(t, err)
		assert.Contains(t, out, "roles:        admin,parent")
		assert.Contains(t, out, "primary role: admin")

		_, err = run(t, cfgPath, "user", "revoke", "root@example.com", "parent")
		require.NoError(t, err)
		out, err = run(t, cfgPath, "user", "inspect", "root@example.com")
		require.NoError(t, err)
		assert.Contains(t, out, "roles:        admin\n")
	})

	t.Run("Unknown user and role", func(t *testing.T) {
		_, err := run(t, cfgPath, "user", "inspect", "nobody@example.com")
		assert.Error(t, err)

		_, err = run(t, cfgPath, "user", "grant", "root@example.com", "wizard")
		assert.Error(t, err)
	})
}
