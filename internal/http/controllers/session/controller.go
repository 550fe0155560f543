// Package session expone validación, extensión y revocación de sesiones.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/vaultcore/internal/http/dto"
	httperrors "github.com/dropDatabas3/vaultcore/internal/http/errors"
	"github.com/dropDatabas3/vaultcore/internal/http/helpers"
	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	sess "github.com/dropDatabas3/vaultcore/internal/session"
)

// Manager es el subconjunto de session.Manager que usa el controller.
type Manager interface {
	ValidateSession(ctx context.Context, id string) (*sess.Validation, error)
	ExtendSession(ctx context.Context, id string, additional time.Duration) (*sess.Session, error)
	RevokeSession(ctx context.Context, id string) error
	RevokeAllUserSessions(ctx context.Context, userID string) (int, error)
}

type Controller struct {
	sessions Manager
}

func NewController(m Manager) *Controller { return &Controller{sessions: m} }

// Validate maneja POST /v1/sessions/validate. Una sesión inválida es 200
// con valid=false; sólo las fallas del store son error.
func (c *Controller) Validate(w http.ResponseWriter, r *http.Request) {
	var req dto.ValidateSessionRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.SessionID == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("session_id"))
		return
	}
	ctx := r.Context()
	if r.Header.Get(sess.ForwardedHeader) != "" {
		ctx = sess.LocalOnly(ctx)
	}
	v, err := c.sessions.ValidateSession(ctx, req.SessionID)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, v)
}

// ownedBy verifica que la sesión {id} pertenezca al usuario autenticado.
// Una sesión desconocida devuelve ok=false sin escribir nada.
func (c *Controller) ownedBy(w http.ResponseWriter, r *http.Request, id string) (found, ok bool) {
	v, err := c.sessions.ValidateSession(sess.LocalOnly(r.Context()), id)
	if err != nil {
		httperrors.WriteError(w, err)
		return false, false
	}
	if v.UserID == "" {
		return false, true
	}
	if v.UserID != mw.GetUserID(r.Context()) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
		return true, false
	}
	return true, true
}

// Extend maneja POST /v1/sessions/{id}/extend
func (c *Controller) Extend(w http.ResponseWriter, r *http.Request) {
	var req dto.ExtendSessionRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	d, err := time.ParseDuration(req.Additional)
	if err != nil || d <= 0 {
		httperrors.WriteError(w, httperrors.ErrInvalidFormat.WithDetail("additional must be a positive duration"))
		return
	}
	id := chi.URLParam(r, "id")
	found, ok := c.ownedBy(w, r, id)
	if !ok {
		return
	}
	if !found {
		httperrors.WriteError(w, httperrors.ErrNotFound)
		return
	}
	s, err := c.sessions.ExtendSession(r.Context(), id, d)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, s)
}

// Revoke maneja DELETE /v1/sessions/{id}. Idempotente.
func (c *Controller) Revoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	found, ok := c.ownedBy(w, r, id)
	if !ok {
		return
	}
	if !found {
		helpers.NoContent(w)
		return
	}
	if err := c.sessions.RevokeSession(r.Context(), id); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.NoContent(w)
}

// RevokeAll maneja DELETE /v1/users/{userID}/sessions
func (c *Controller) RevokeAll(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	n, err := c.sessions.RevokeAllUserSessions(r.Context(), userID)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	logger.From(r.Context()).Info("all sessions revoked", logger.UserID(userID), logger.Count(n))
	helpers.WriteJSON(w, http.StatusOK, dto.RevokeAllResponse{Success: true, Revoked: n})
}
