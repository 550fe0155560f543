package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

func TestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		body   string
		code   types.Code
	}{
		{http.StatusServiceUnavailable, `{"code":"SERVICE_UNAVAILABLE"}`, types.CodeNetwork},
		{http.StatusBadGateway, ``, types.CodeNetwork},
		{http.StatusConflict, `{"code":"REQUEST_IN_PROGRESS"}`, types.CodeNetwork},
		{http.StatusUnauthorized, `{"code":"INVALID_CREDENTIALS"}`, types.CodeInvalidCredentials},
		{http.StatusBadRequest, `{"code":"BAD_REQUEST","detail":"bad username"}`, types.CodeClient},
		{http.StatusTooManyRequests, `{"code":"RATE_LIMITED"}`, types.CodeRateLimited},
		{http.StatusBadRequest, `{"code":"UNKNOWN_WORD"}`, types.CodeUnknownWord},
	}
	for _, tc := range cases {
		err := statusError("op", tc.status, []byte(tc.body))
		assert.Equal(t, tc.code, types.CodeOf(err), "%d %s", tc.status, tc.body)
	}
}

func TestMessageIDStableAcrossRetries(t *testing.T) {
	var ids []string
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids = append(ids, r.Header.Get(messageIDHeader))
		if n.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"user_id":"u1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	var out struct {
		UserID string `json:"user_id"`
	}
	in := map[string]string{"a": "b"}
	err := c.post(context.Background(), "op", "/v1/x", in, &out)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.CodeNetwork))

	require.NoError(t, c.post(context.Background(), "op", "/v1/x", in, &out))
	assert.Equal(t, "u1", out.UserID)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, ids[0], ids[1])
}
