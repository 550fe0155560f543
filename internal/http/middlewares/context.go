package middlewares

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/vaultcore/internal/session"
)

// Middleware es un decorador de http.Handler (compatible con chi.Router.Use).
type Middleware = func(http.Handler) http.Handler

type ctxKey string

const (
	ctxRequestIDKey ctxKey = "request_id"
	ctxSessionKey   ctxKey = "session"
	ctxSessionIDKey ctxKey = "session_id"
)

func setRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxRequestIDKey, requestID)
}

// WithSession inyecta la validación de la sesión del caller.
func WithSession(ctx context.Context, id string, v *session.Validation) context.Context {
	ctx = context.WithValue(ctx, ctxSessionIDKey, id)
	return context.WithValue(ctx, ctxSessionKey, v)
}

// GetRequestID obtiene el request ID del contexto, o "".
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxRequestIDKey).(string); ok {
		return v
	}
	return ""
}

// GetSession devuelve la sesión validada por RequireSession, o nil.
func GetSession(ctx context.Context) *session.Validation {
	if v, ok := ctx.Value(ctxSessionKey).(*session.Validation); ok {
		return v
	}
	return nil
}

// GetSessionID devuelve el id de la sesión del caller, o "".
func GetSessionID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxSessionIDKey).(string); ok {
		return v
	}
	return ""
}

// GetUserID obtiene el user ID de la sesión del caller, o "".
func GetUserID(ctx context.Context) string {
	if v := GetSession(ctx); v != nil {
		return v.UserID
	}
	return ""
}
