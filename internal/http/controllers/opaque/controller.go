// Package opaque expone el motor OPAQUE por HTTP. Cada paso del protocolo
// es un POST; el estado del servidor entre pasos queda indexado por attempt_id.
package opaque

import (
	"context"
	"net/http"
	"strings"

	"github.com/dropDatabas3/vaultcore/internal/http/dto"
	httperrors "github.com/dropDatabas3/vaultcore/internal/http/errors"
	"github.com/dropDatabas3/vaultcore/internal/http/helpers"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	engine "github.com/dropDatabas3/vaultcore/internal/opaque"
	"github.com/dropDatabas3/vaultcore/internal/session"
)

// Engine es el lado servidor del motor (opaque.Server).
type Engine interface {
	BeginRegistration(ctx context.Context, username string, request []byte) (string, []byte, error)
	FinishRegistration(ctx context.Context, attemptID string, upload *engine.RegistrationUpload) (string, error)
	BeginLogin(ctx context.Context, username string, ke1 []byte) (string, []byte, error)
	FinishLogin(ctx context.Context, attemptID string, ke3 []byte) (*engine.AuthResult, error)
}

// SessionCreator emite la sesión al terminar un login.
type SessionCreator interface {
	CreateSession(ctx context.Context, userID, method string, opts session.CreateOptions) (*session.Session, error)
}

type Controller struct {
	engine   Engine
	sessions SessionCreator
}

func NewController(e Engine, s SessionCreator) *Controller {
	return &Controller{engine: e, sessions: s}
}

func decodeMessages(fields ...*string) ([][]byte, error) {
	out := make([][]byte, len(fields))
	for i, f := range fields {
		if strings.TrimSpace(*f) == "" {
			return nil, httperrors.ErrMissingFields
		}
		b, err := engine.DecodeMessage(*f)
		if err != nil {
			return nil, httperrors.ErrInvalidFormat.WithDetail("protocol messages must be base64").WithCause(err)
		}
		out[i] = b
	}
	return out, nil
}

// RegisterStart maneja POST /v1/opaque/register/start
func (c *Controller) RegisterStart(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterStartRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	msgs, err := decodeMessages(&req.Request)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	attempt, resp, err := c.engine.BeginRegistration(r.Context(), req.Username, msgs[0])
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.RegisterStartResponse{AttemptID: attempt, Response: engine.EncodeMessage(resp)})
}

// RegisterFinish maneja POST /v1/opaque/register/finish
func (c *Controller) RegisterFinish(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Component("controller"), logger.Op("OpaqueController.RegisterFinish"))

	var req dto.RegisterFinishRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.AttemptID == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("attempt_id"))
		return
	}
	msgs, err := decodeMessages(&req.Upload)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	userID, err := c.engine.FinishRegistration(r.Context(), req.AttemptID, &engine.RegistrationUpload{
		Message:       msgs[0],
		ExportKeyHash: req.ExportKeyHash,
	})
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	log.Info("user registered", logger.UserID(userID))
	helpers.WriteJSON(w, http.StatusCreated, dto.RegisterFinishResponse{Success: true, UserID: userID})
}

// LoginStart maneja POST /v1/opaque/login/start
func (c *Controller) LoginStart(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginStartRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	msgs, err := decodeMessages(&req.KE1)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	attempt, ke2, err := c.engine.BeginLogin(r.Context(), req.Username, msgs[0])
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.LoginStartResponse{AttemptID: attempt, KE2: engine.EncodeMessage(ke2)})
}

// LoginFinish maneja POST /v1/opaque/login/finish. El session key del
// protocolo no sale del servidor; el cliente recibe un session id.
func (c *Controller) LoginFinish(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Component("controller"), logger.Op("OpaqueController.LoginFinish"))

	var req dto.LoginFinishRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	msgs, err := decodeMessages(&req.KE3)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	res, err := c.engine.FinishLogin(r.Context(), req.AttemptID, msgs[0])
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	clear(res.SessionKey)

	s, err := c.sessions.CreateSession(r.Context(), res.UserID, session.MethodOpaque, session.CreateOptions{ExportKeyHash: res.ExportKeyHash})
	if err != nil {
		log.Error("session creation failed after login", logger.UserID(res.UserID), logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.SessionResponse{Success: true, Session: s, Method: session.MethodOpaque})
}
