package middlewares

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/vaultcore/internal/http/errors"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	"github.com/dropDatabas3/vaultcore/internal/session"
)

// SessionValidator es lo que el middleware necesita del session manager.
type SessionValidator interface {
	ValidateSession(ctx context.Context, id string) (*session.Validation, error)
}

// BearerToken extrae el token de Authorization: Bearer <token>.
func BearerToken(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) < 7 || !strings.EqualFold(ah[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(ah[7:])
}

// RequireSession valida Authorization: Bearer <session_id> contra el
// session manager y guarda la validación en el contexto.
func RequireSession(v SessionValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := BearerToken(r)
			if id == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vaultcore"`)
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			res, err := v.ValidateSession(r.Context(), id)
			if err != nil {
				errors.WriteError(w, err)
				return
			}
			if !res.Valid {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vaultcore", error="invalid_token"`)
				errors.WriteError(w, errors.ErrSessionInvalid)
				return
			}
			ctx := logger.With(WithSession(r.Context(), id, res), logger.UserID(res.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireFullAccess rechaza sesiones con capacidades restrictivas (p.ej.
// las emitidas por un código de emergencia).
func RequireFullAccess() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := GetSession(r.Context())
			if s == nil {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			if len(s.Capabilities) > 0 {
				errors.WriteError(w, errors.ErrRestrictedSession)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSameUser exige que el parámetro de ruta param sea el usuario de la sesión.
func RequireSameUser(param string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := GetUserID(r.Context())
			if uid == "" || chi.URLParam(r, param) != uid {
				errors.WriteError(w, errors.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireServiceToken exige Authorization: Bearer <token> para rutas entre
// servicios. Con token vacío la ruta queda abierta.
func RequireServiceToken(token string) Middleware {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := BearerToken(r)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="vaultcore"`)
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
