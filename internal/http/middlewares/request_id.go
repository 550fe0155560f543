package middlewares

import (
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"
)

const maxRequestIDLen = 128

// WithRequestID propaga X-Request-ID o genera uno (ULID).
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if rid == "" || len(rid) > maxRequestIDLen {
				rid = ulid.Make().String()
			}
			w.Header().Set("X-Request-ID", rid)
			next.ServeHTTP(w, r.WithContext(setRequestID(r.Context(), rid)))
		})
	}
}
