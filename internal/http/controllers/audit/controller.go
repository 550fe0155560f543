// Package audit expone la verificación de la cadena de auditoría.
package audit

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	auditlog "github.com/dropDatabas3/vaultcore/internal/audit"
	httperrors "github.com/dropDatabas3/vaultcore/internal/http/errors"
	"github.com/dropDatabas3/vaultcore/internal/http/helpers"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

// Verifier recorre la cadena de un usuario (audit.Log).
type Verifier interface {
	VerifyChainIntegrity(ctx context.Context, userID string) (*auditlog.Verification, error)
}

type Controller struct {
	log Verifier
}

func NewController(v Verifier) *Controller { return &Controller{log: v} }

// Verify maneja GET /v1/audit/{userID}/verify. Una cadena rota no es un
// error HTTP: responde 200 con valid=false y el primer eslabón inválido.
func (c *Controller) Verify(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	v, err := c.log.VerifyChainIntegrity(r.Context(), userID)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if !v.Valid {
		logger.From(r.Context()).Warn("audit chain verification failed",
			logger.UserID(userID), logger.Seq(v.BrokenAt), logger.String("reason", v.Reason))
	}
	helpers.WriteJSON(w, http.StatusOK, v)
}
