package middlewares

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/cache"
	"github.com/dropDatabas3/vaultcore/internal/http/errors"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	tokens "github.com/dropDatabas3/vaultcore/internal/security/token"
)

const (
	// MessageIDHeader identifica un mensaje de protocolo; reenviar el mismo
	// id devuelve la respuesta guardada en lugar de re-ejecutar el paso.
	MessageIDHeader = "X-Message-ID"
	replayHeader    = "X-Idempotent-Replay"
	pendingMarker   = "pending"
	maxMessageIDLen = 128
)

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body"`
}

// captureWriter escribe al cliente y además guarda la respuesta.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
		c.ResponseWriter.WriteHeader(code)
	}
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.WriteHeader(http.StatusOK)
	}
	c.buf.Write(b)
	return c.ResponseWriter.Write(b)
}

// extractJSONField lee hasta max bytes del body JSON para sacar field y
// repone el body para el handler.
func extractJSONField(r *http.Request, field string, max int64) string {
	if !strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
		return ""
	}
	var buf bytes.Buffer
	_, _ = io.CopyN(&buf, r.Body, max)
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(buf.Bytes()), rest), rest}

	var tmp map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &tmp); err != nil {
		return ""
	}
	var s string
	if raw, ok := tmp[field]; ok && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func messageID(r *http.Request) string {
	id := strings.TrimSpace(r.Header.Get(MessageIDHeader))
	if id == "" {
		id = extractJSONField(r, "message_id", 1<<20)
	}
	if len(id) > maxMessageIDLen {
		return ""
	}
	return id
}

// WithIdempotency hace que cada paso de protocolo con message_id se ejecute
// una sola vez: un reenvío recibe la respuesta guardada y uno concurrente
// recibe 409. Las respuestas 5xx no se guardan, así el cliente puede
// reintentar. Si el cache falla se ejecuta el handler normalmente.
func WithIdempotency(c cache.Client, ttl time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		if c == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			id := messageID(r)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			log := logger.From(ctx)
			// La key incluye método, path y credencial: el mismo id en otro
			// paso u otra sesión no colisiona.
			key := "idem:" + tokens.SHA256Hex([]byte(r.Method+" "+r.URL.Path+"|"+BearerToken(r)+"|"+id))

			fresh, err := c.SetNX(ctx, key, []byte(pendingMarker), ttl)
			if err != nil {
				log.Warn("idempotency cache unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			if !fresh {
				replay(w, r, c, key, next)
				return
			}

			cw := &captureWriter{ResponseWriter: w}
			completed := false
			defer func() {
				if !completed {
					_ = c.Delete(ctx, key)
				}
			}()
			next.ServeHTTP(cw, r)
			completed = true

			if cw.status == 0 {
				cw.status = http.StatusOK
			}
			if cw.status >= 500 {
				_ = c.Delete(ctx, key)
				return
			}
			b, err := json.Marshal(storedResponse{
				Status:      cw.status,
				ContentType: cw.Header().Get("Content-Type"),
				Body:        cw.buf.Bytes(),
			})
			if err == nil {
				err = c.Set(ctx, key, b, ttl)
			}
			if err != nil {
				log.Warn("idempotency store failed", logger.Err(err))
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, c cache.Client, key string, next http.Handler) {
	b, err := c.Get(r.Context(), key)
	switch {
	case cache.IsNotFound(err):
		// expiró entre SetNX y Get
		next.ServeHTTP(w, r)
		return
	case err != nil:
		errors.WriteError(w, errors.ErrServiceUnavailable.WithCause(err))
		return
	case string(b) == pendingMarker:
		errors.WriteError(w, errors.ErrRequestInProgress)
		return
	}
	var sr storedResponse
	if err := json.Unmarshal(b, &sr); err != nil {
		errors.WriteError(w, errors.ErrInternalServerError.WithCause(err))
		return
	}
	if sr.ContentType != "" {
		w.Header().Set("Content-Type", sr.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(sr.Status)
	_, _ = w.Write(sr.Body)
}
