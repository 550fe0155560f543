package health

import "net/http"

// JWKSSource publica las claves con las que se firman los trust tokens.
type JWKSSource interface {
	JWKSJSON() []byte
}

// JWKS maneja GET /.well-known/jwks.json
func JWKS(src JWKSSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(src.JWKSJSON())
	}
}
