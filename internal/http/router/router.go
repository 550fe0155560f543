// Package router arma el árbol de rutas HTTP de vaultcore.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dropDatabas3/vaultcore/internal/cache"
	auditctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/audit"
	devicectrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/device"
	healthctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/health"
	opaquectrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/opaque"
	passkeyctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/passkey"
	recoveryctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/recovery"
	sessionctrl "github.com/dropDatabas3/vaultcore/internal/http/controllers/session"
	httperrors "github.com/dropDatabas3/vaultcore/internal/http/errors"
	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
	"github.com/dropDatabas3/vaultcore/internal/rate"
)

// Controllers agrupa los controllers. Los nil no registran rutas.
type Controllers struct {
	Opaque   *opaquectrl.Controller
	Session  *sessionctrl.Controller
	Device   *devicectrl.Controller
	Recovery *recoveryctrl.Controller
	Audit    *auditctrl.Controller
	Passkey  *passkeyctrl.Controller
	Health   *healthctrl.Controller
}

// Deps son las dependencias del router.
type Deps struct {
	Controllers Controllers

	Sessions mw.SessionValidator
	// ServiceToken protege /v1/sessions/validate para otras instancias.
	ServiceToken string

	// Limiter es opcional; aplica a las rutas públicas de autenticación.
	Limiter rate.Limiter

	// Idempotency es opcional; sin él los message_id se ignoran.
	Idempotency    cache.Client
	IdempotencyTTL time.Duration

	CORSOrigins []string
	JWKS        healthctrl.JWKSSource
	Gatherer    prometheus.Gatherer
}

// New devuelve el handler raíz.
func New(d Deps) http.Handler {
	if d.IdempotencyTTL <= 0 {
		d.IdempotencyTTL = 10 * time.Minute
	}
	r := chi.NewRouter()
	r.Use(
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithSecurityHeaders(),
		mw.WithCORS(d.CORSOrigins),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	registerHealthRoutes(r, d)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(mw.WithNoStore())
		registerOpaqueRoutes(v1, d)
		registerSessionRoutes(v1, d)
		registerDeviceRoutes(v1, d)
		registerRecoveryRoutes(v1, d)
		registerAuditRoutes(v1, d)
		registerPasskeyRoutes(v1, d)
	})
	return r
}

// publicChain son los middlewares de endpoints sin sesión que consumen
// material de credenciales.
func publicChain(d Deps) []mw.Middleware {
	return []mw.Middleware{
		mw.WithRateLimit(d.Limiter, mw.IPPathRateKey),
		mw.WithIdempotency(d.Idempotency, d.IdempotencyTTL),
	}
}

func authenticated(d Deps) mw.Middleware { return mw.RequireSession(d.Sessions) }

func metricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
