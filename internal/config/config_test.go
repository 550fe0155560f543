package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Server.Addr)
	assert.Equal(t, "gopaque", c.Opaque.Backend)
	assert.Equal(t, "memory", c.Storage.Driver)
	assert.Equal(t, 10, c.Device.MaxDevices)
	assert.Equal(t, 5*time.Minute, Duration(c.Device.PairingMaxAge, 0))
	assert.Equal(t, "localhost", c.WebAuthn.RPID)
	assert.Equal(t, 60*time.Second, c.WebAuthn.Timeout)
}

func TestLoad_MockRequiresOptIn(t *testing.T) {
	p := writeYAML(t, "opaque:\n  backend: mock\n")
	_, err := Load(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalid))

	p = writeYAML(t, "opaque:\n  backend: mock\n  allow_insecure_mock: true\n")
	c, err := Load(p)
	require.NoError(t, err)
	assert.True(t, c.Opaque.AllowInsecureMock)
}

func TestLoad_AllowMockWithoutMockBackendIsError(t *testing.T) {
	p := writeYAML(t, "opaque:\n  allow_insecure_mock: true\n")
	_, err := Load(p)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_ProdNeverAllowsMock(t *testing.T) {
	t.Setenv("VAULT_APP_ENV", "prod")
	p := writeYAML(t, "opaque:\n  backend: mock\n  allow_insecure_mock: true\n")
	_, err := Load(p)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VAULT_STORAGE_DRIVER", "sqlite")
	t.Setenv("VAULT_STORAGE_DSN", "/tmp/vault.db")
	t.Setenv("VAULT_DEVICE_MAX_DEVICES", "3")
	t.Setenv("VAULT_WEBAUTHN_RP_ORIGINS", "https://a.example,https://b.example")

	c, err := Load(writeYAML(t, "device:\n  max_devices: 7\n"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.Storage.Driver)
	assert.Equal(t, 3, c.Device.MaxDevices)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.WebAuthn.RPOrigins)
}

func TestValidate_BadValues(t *testing.T) {
	p := writeYAML(t, "storage:\n  driver: sqlite\nsession:\n  ttl: nope\ndevice:\n  trust_threshold: 2\n")
	_, err := Load(p)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "storage.dsn")
	assert.Contains(t, msg, "session.ttl")
	assert.Contains(t, msg, "trust_threshold")
}
