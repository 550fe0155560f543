package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{types.New(types.CodeInvalidCredentials, "login", "mac mismatch"), http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{types.New(types.CodeReplaySuspected, "login", "replay"), http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{types.New(types.CodeVerificationFailed, "pair", "sig"), http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{types.New(types.CodeClient, "x", "bad username"), http.StatusBadRequest, "BAD_REQUEST"},
		{types.New(types.CodeChecksumMismatch, "x", "checksum"), http.StatusBadRequest, "CHECKSUM_MISMATCH"},
		{types.New(types.CodeNotFound, "x", "nope"), http.StatusNotFound, "NOT_FOUND"},
		{types.New(types.CodeInvalidTransition, "x", "revoked"), http.StatusConflict, "INVALID_TRANSITION"},
		{types.New(types.CodeDeviceRevoked, "x", ""), http.StatusForbidden, "DEVICE_REVOKED"},
		{types.New(types.CodeDeviceLimit, "x", ""), http.StatusConflict, "DEVICE_LIMIT_REACHED"},
		{types.New(types.CodeRateLimited, "x", ""), http.StatusTooManyRequests, "RATE_LIMITED"},
		{types.New(types.CodeNotSupported, "x", ""), http.StatusNotImplemented, "NOT_SUPPORTED"},
		{types.New(types.CodeNetwork, "x", ""), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
		{fmt.Errorf("wrapped: %w", types.New(types.CodeTamperDetected, "x", "")), http.StatusConflict, "TAMPER_DETECTED"},
		{fmt.Errorf("plain"), http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
		{ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		require.NotNil(t, got)
		assert.Equal(t, tc.status, got.HTTPStatus, tc.err.Error())
		assert.Equal(t, tc.code, got.Code, tc.err.Error())
	}
	assert.Nil(t, FromError(nil))
}

func TestWriteErrorHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, types.New(types.CodeInvalidCredentials, "verify_authentication", "mac mismatch"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])
	assert.NotContains(t, rec.Body.String(), "mac mismatch")
}

func TestWithDetailDoesNotMutate(t *testing.T) {
	e := ErrBadRequest.WithDetail("x")
	assert.Equal(t, "x", e.Detail)
	assert.Empty(t, ErrBadRequest.Detail)
}
