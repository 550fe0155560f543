package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/cache"
	"github.com/dropDatabas3/vaultcore/internal/device"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/http/client"
	devicectrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/device"
	healthctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/health"
	opaquectrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/opaque"
	sessionctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/session"
	"github.com/dropDatabas3/vaultcore/internal/http/router"
	"github.com/dropDatabas3/vaultcore/internal/jwt"
	"github.com/dropDatabas3/vaultcore/internal/opaque"
	"github.com/dropDatabas3/vaultcore/internal/session"
	"github.com/dropDatabas3/vaultcore/internal/store/adapters/memory"
)

type env struct {
	srv      *httptest.Server
	sessions *session.Manager
	client   *opaque.Client
	backend  opaque.Backend
}

func newEnv(t *testing.T) *env {
	t.Helper()
	b, err := opaque.NewBackend(opaque.BackendConfig{Name: opaque.BackendMock, AllowInsecureMock: true, MasterKey: bytes.Repeat([]byte{3}, 32)})
	require.NoError(t, err)

	conn := memory.New()
	c := cache.NewMemory("test", time.Minute)
	engine := opaque.NewServer(b, conn.Users(), opaque.ServerConfig{StateTTL: time.Minute})
	sm := session.NewManager(conn.Sessions(), session.Config{Cache: c})
	ks, err := jwt.NewEd25519()
	require.NoError(t, err)
	reg := device.NewRegistry(conn.Devices(), device.Config{Issuer: jwt.NewIssuer("vaultcore-test", ks, time.Hour)})

	h := router.New(router.Deps{
		Controllers: router.Controllers{
			Opaque:  opaquectrl.NewController(engine, sm),
			Session: sessionctrl.NewController(sm),
			Device:  devicectrl.NewController(reg),
			Health:  healthctrl.NewController("test", healthctrl.Check{Name: "store", Pinger: conn}, healthctrl.Check{Name: "cache", Pinger: c, Optional: true}),
		},
		Sessions:    sm,
		Idempotency: c,
		JWKS:        ks,
		Gatherer:    prometheus.NewRegistry(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{
		srv:      srv,
		sessions: sm,
		backend:  b,
		client:   opaque.NewClient(b, opaque.ClientConfig{StepTimeout: 5 * time.Second, Retry: opaque.RetryPolicy{Initial: time.Millisecond, Factor: 2}}),
	}
}

func (e *env) do(t *testing.T, method, path, bearer string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestRegisterLoginValidateRevoke(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr := client.New(e.srv.URL, 5*time.Second)

	userID, _, err := e.client.Register(ctx, e.client.NewFlow(opaque.KindRegistration), tr, "alice", "correct horse battery")
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	res, err := e.client.Login(ctx, e.client.NewFlow(opaque.KindAuthentication), tr, "alice", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, userID, res.UserID)
	require.NotEmpty(t, res.SessionID)

	resp := e.do(t, http.MethodPost, "/v1/sessions/validate", "", map[string]string{"session_id": res.SessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeBody(t, resp)
	assert.Equal(t, true, v["valid"])
	assert.Equal(t, userID, v["user_id"])

	resp = e.do(t, http.MethodDelete, "/v1/sessions/"+res.SessionID, res.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/v1/sessions/validate", "", map[string]string{"session_id": res.SessionID})
	v = decodeBody(t, resp)
	assert.Equal(t, false, v["valid"])
	assert.Equal(t, session.ReasonRevoked, v["reason"])
}

func TestWrongPasswordIsGeneric(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr := client.New(e.srv.URL, 5*time.Second)

	_, _, err := e.client.Register(ctx, e.client.NewFlow(opaque.KindRegistration), tr, "bob", "right password 1")
	require.NoError(t, err)

	_, err = e.client.Login(ctx, e.client.NewFlow(opaque.KindAuthentication), tr, "bob", "wrong password 2")
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidCredentials, types.CodeOf(err))

	_, err = e.client.Login(ctx, e.client.NewFlow(opaque.KindAuthentication), tr, "nobody", "whatever pw 3")
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidCredentials, types.CodeOf(err))
}

func TestProtocolStepReplayIsIdempotent(t *testing.T) {
	e := newEnv(t)
	req, _, err := e.client.StartRegistration("carol", "some long password")
	require.NoError(t, err)
	body := map[string]string{
		"message_id": "m-1",
		"username":   "carol",
		"request":    opaque.EncodeMessage(req),
	}

	first := e.do(t, http.MethodPost, "/v1/opaque/register/start", "", body)
	require.Equal(t, http.StatusOK, first.StatusCode)
	a := decodeBody(t, first)

	second := e.do(t, http.MethodPost, "/v1/opaque/register/start", "", body)
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("X-Idempotent-Replay"))
	b := decodeBody(t, second)
	assert.Equal(t, a["attempt_id"], b["attempt_id"])
}

func TestDeviceRoutesRequireFullSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp := e.do(t, http.MethodGet, "/v1/devices/", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	restricted, err := e.sessions.CreateSession(ctx, "u1", session.MethodEmergency, session.CreateOptions{
		Capabilities: []string{session.CapLimitedOperations},
	})
	require.NoError(t, err)
	resp = e.do(t, http.MethodGet, "/v1/devices/", restricted.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "RESTRICTED_SESSION", decodeBody(t, resp)["code"])

	full, err := e.sessions.CreateSession(ctx, "u1", session.MethodOpaque, session.CreateOptions{})
	require.NoError(t, err)
	resp = e.do(t, http.MethodGet, "/v1/devices/", full.ID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRevokeAllRequiresSameUser(t *testing.T) {
	e := newEnv(t)
	s, err := e.sessions.CreateSession(context.Background(), "u1", session.MethodOpaque, session.CreateOptions{})
	require.NoError(t, err)

	resp := e.do(t, http.MethodDelete, "/v1/users/u2/sessions", s.ID, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = e.do(t, http.MethodDelete, "/v1/users/u1/sessions", s.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, decodeBody(t, resp)["revoked"])
}

func TestHealthMetricsAndNotFound(t *testing.T) {
	e := newEnv(t)

	resp := e.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decodeBody(t, resp)
	assert.Equal(t, "ready", h["status"])

	resp = e.do(t, http.MethodGet, "/.well-known/jwks.json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, decodeBody(t, resp), "keys")

	resp = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeBody(t, resp)["code"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
