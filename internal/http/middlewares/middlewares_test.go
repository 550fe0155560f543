package middlewares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/cache"
	"github.com/dropDatabas3/vaultcore/internal/rate"
	"github.com/dropDatabas3/vaultcore/internal/session"
)

func postJSON(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/opaque/login/start", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	var calls atomic.Int32
	h := WithIdempotency(cache.NewMemory("t", time.Minute), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"n":1}`))
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, postJSON(`{"message_id":"abc","x":1}`))
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.JSONEq(t, `{"n":1}`, rec.Body.String())
		if i == 1 {
			assert.Equal(t, "true", rec.Header().Get(replayHeader))
		}
	}
	assert.EqualValues(t, 1, calls.Load())

	// sin message_id siempre se ejecuta
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(`{"x":1}`))
	assert.EqualValues(t, 2, calls.Load())
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	var calls atomic.Int32
	h := WithIdempotency(cache.NewMemory("t", time.Minute), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := func() *http.Request {
		r := postJSON(`{}`)
		r.Header.Set(MessageIDHeader, "retry-me")
		return r
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req())
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, calls.Load())
}

func TestIdempotency_ConcurrentDuplicateGets409(t *testing.T) {
	c := cache.NewMemory("t", time.Minute)
	release := make(chan struct{})
	entered := make(chan struct{})
	h := WithIdempotency(c, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusOK)
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(httptest.NewRecorder(), postJSON(`{"message_id":"same"}`))
	}()
	<-entered

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(`{"message_id":"same"}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "REQUEST_IN_PROGRESS")

	close(release)
	<-done
}

func TestIdempotency_BodyStillReadable(t *testing.T) {
	h := WithIdempotency(cache.NewMemory("t", time.Minute), time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b := make([]byte, 64)
		n, _ := r.Body.Read(b)
		_, _ = w.Write(b[:n])
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, postJSON(`{"message_id":"k"}`))
	assert.Equal(t, `{"message_id":"k"}`, rec.Body.String())
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (rate.Result, error) {
	return rate.Result{}, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := WithRateLimit(rate.NewKeyedLimiter(0.001, 1, time.Minute), IPOnlyRateKey)(ok)

	r := httptest.NewRequest(http.MethodPost, "/x", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// otra IP tiene su propio bucket
	r2 := httptest.NewRequest(http.MethodPost, "/x", nil)
	r2.RemoteAddr = "10.0.0.2:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r2)
	assert.Equal(t, http.StatusOK, rec.Code)

	// fail-open
	rec = httptest.NewRecorder()
	WithRateLimit(failingLimiter{}, nil)(ok).ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1"
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", clientIP(r))
}

type fakeValidator map[string]*session.Validation

func (f fakeValidator) ValidateSession(_ context.Context, id string) (*session.Validation, error) {
	if v, ok := f[id]; ok {
		return v, nil
	}
	return &session.Validation{Reason: session.ReasonNotFound}, nil
}

func TestRequireSession(t *testing.T) {
	v := fakeValidator{
		"good":       {Valid: true, UserID: "u1"},
		"restricted": {Valid: true, UserID: "u1", Capabilities: []string{session.CapRecoveryRequired}},
	}
	var seen string
	h := RequireSession(v)(RequireFullAccess()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserID(r.Context())
		require.Equal(t, "good", GetSessionID(r.Context()))
	})))

	cases := []struct {
		bearer string
		status int
	}{
		{"", http.StatusUnauthorized},
		{"bad", http.StatusUnauthorized},
		{"restricted", http.StatusForbidden},
		{"good", http.StatusOK},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.bearer != "" {
			r.Header.Set("Authorization", "Bearer "+tc.bearer)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		assert.Equal(t, tc.status, rec.Code, tc.bearer)
	}
	assert.Equal(t, "u1", seen)
}

func TestRequireServiceToken(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := RequireServiceToken("s3cret")(ok)

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	RequireServiceToken("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverWritesJSON500(t *testing.T) {
	h := WithRecover()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestCORS(t *testing.T) {
	h := WithCORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	r := httptest.NewRequest(http.MethodOptions, "/", nil)
	r.Header.Set("Origin", "https://app.example")
	r.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	r.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
