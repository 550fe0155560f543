// Package health expone el estado del servicio y las claves públicas.
package health

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/http/dto"
	"github.com/dropDatabas3/vaultcore/internal/http/helpers"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

// Pinger es cualquier dependencia que sabe responder si está viva.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Check es un componente con nombre. Los opcionales degradan el estado
// pero no lo vuelven unavailable.
type Check struct {
	Name     string
	Pinger   Pinger
	Optional bool
}

type Controller struct {
	version string
	timeout time.Duration
	checks  []Check
}

func NewController(version string, checks ...Check) *Controller {
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return &Controller{version: version, timeout: 2 * time.Second, checks: checks}
}

// Healthz maneja GET /healthz
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "ready", Version: c.version, Components: map[string]string{}}
	for _, ch := range c.checks {
		if ch.Pinger == nil {
			resp.Components[ch.Name] = "disabled"
			continue
		}
		if err := ch.Pinger.Ping(ctx); err != nil {
			logger.From(r.Context()).Warn("health check failed", logger.Component(ch.Name), logger.Err(err))
			resp.Components[ch.Name] = "down"
			if ch.Optional {
				if resp.Status == "ready" {
					resp.Status = "degraded"
				}
			} else {
				resp.Status = "unavailable"
			}
			continue
		}
		resp.Components[ch.Name] = "ok"
	}

	status := http.StatusOK
	if resp.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	helpers.WriteJSON(w, status, resp)
}
