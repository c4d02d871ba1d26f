package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("IDCORE_APP_ENV", "test")
	t.Setenv("IDCORE_SECRETBOX_KEY", base64.StdEncoding.EncodeToString(make([]byte, 32)))
	t.Setenv("IDCORE_CONFIG", "")
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestTenantOnboard_JSON(t *testing.T) {
	out, err := run(t, "--out", "json", "tenant", "onboard", "acme", "--domain", "acme.com")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Equal(t, "acme", body["name"])
	require.NotEmpty(t, body["id"])
}

func TestKeysRotateAndSweep(t *testing.T) {
	out, err := run(t, "keys", "rotate")
	require.NoError(t, err)
	require.Contains(t, out, "kid activo:")

	out, err = run(t, "tokens", "sweep")
	require.NoError(t, err)
	require.Contains(t, out, "tokens borrados: 0")
}

func TestMigrate_MemoryIsNoop(t *testing.T) {
	out, err := run(t, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "nada que migrar")
}

func TestArgsValidated(t *testing.T) {
	_, err := run(t, "role", "create", "only-tenant")
	require.Error(t, err)

	_, err = run(t, "audit", "list", "--from", "ayer")
	require.Error(t, err)
}

func TestParseTime(t *testing.T) {
	d, err := parseTime("2024-03-01")
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	z, err := parseTime("")
	require.NoError(t, err)
	require.True(t, z.IsZero())
}
