package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/config"
	"github.com/dropDatabas3/vaultcore/internal/session"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.App.Env = "dev"
	cfg.Storage.Driver = "memory"
	cfg.Cache.Kind = "memory"
	cfg.Opaque.Backend = "mock"
	cfg.Opaque.AllowInsecureMock = true
	return cfg
}

func TestNewWiresMemoryStack(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	rec := httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store":"ok"`)

	rec = httptest.NewRecorder()
	a.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSweep(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = a.Sessions.CreateSession(context.Background(), "u1", session.MethodOpaque, session.CreateOptions{})
	require.NoError(t, err)
	res, err := a.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Sessions)
	assert.Zero(t, res.Devices)
}

func TestKeysRequiredOutsideDev(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.Env = "prod"
	_, err := New(context.Background(), cfg, "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "security.master_key")
}
