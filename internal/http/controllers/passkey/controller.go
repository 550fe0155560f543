// Package passkey expone las ceremonias WebAuthn del autenticador de navegador.
package passkey

import (
	"context"
	"net/http"

	"github.com/dropDatabas3/vaultcore/internal/credential"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/http/dto"
	httperrors "github.com/dropDatabas3/vaultcore/internal/http/errors"
	"github.com/dropDatabas3/vaultcore/internal/http/helpers"
	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
	"github.com/dropDatabas3/vaultcore/internal/session"
)

// Ceremonies es el subconjunto de credential.Service que usa el controller.
type Ceremonies interface {
	BeginPasskeyRegistration(ctx context.Context, userID, userName string) (string, []byte, error)
	FinishPasskeyRegistration(ctx context.Context, ceremonyID string, response []byte) (*repository.Credential, error)
	BeginPasskeyLogin(ctx context.Context, allowed []string) (string, []byte, error)
	FinishPasskeyLogin(ctx context.Context, ceremonyID string, response []byte) (*credential.AssertionResult, error)
}

// UserLookup da el username para el display de la ceremonia.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
}

type SessionCreator interface {
	CreateSession(ctx context.Context, userID, method string, opts session.CreateOptions) (*session.Session, error)
}

type Controller struct {
	creds    Ceremonies
	users    UserLookup
	sessions SessionCreator
}

func NewController(c Ceremonies, u UserLookup, s SessionCreator) *Controller {
	return &Controller{creds: c, users: u, sessions: s}
}

// RegisterStart maneja POST /v1/passkeys/register/start (sesión completa).
func (c *Controller) RegisterStart(w http.ResponseWriter, r *http.Request) {
	uid := mw.GetUserID(r.Context())
	u, err := c.users.GetByID(r.Context(), uid)
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized.WithCause(err))
		return
	}
	id, opts, err := c.creds.BeginPasskeyRegistration(r.Context(), uid, u.Username)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.CeremonyResponse{CeremonyID: id, Options: opts})
}

// RegisterFinish maneja POST /v1/passkeys/register/finish
func (c *Controller) RegisterFinish(w http.ResponseWriter, r *http.Request) {
	var req dto.PasskeyFinishRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.CeremonyID == "" || len(req.Response) == 0 {
		httperrors.WriteError(w, httperrors.ErrMissingFields)
		return
	}
	cred, err := c.creds.FinishPasskeyRegistration(r.Context(), req.CeremonyID, req.Response)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if cred.OwnerUserID != mw.GetUserID(r.Context()) {
		httperrors.WriteError(w, httperrors.ErrForbidden)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, dto.NewCredentialView(cred))
}

// LoginStart maneja POST /v1/passkeys/login/start
func (c *Controller) LoginStart(w http.ResponseWriter, r *http.Request) {
	var req dto.PasskeyLoginStartRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	id, opts, err := c.creds.BeginPasskeyLogin(r.Context(), req.CredentialIDs)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.CeremonyResponse{CeremonyID: id, Options: opts})
}

// LoginFinish maneja POST /v1/passkeys/login/finish y emite una sesión.
func (c *Controller) LoginFinish(w http.ResponseWriter, r *http.Request) {
	var req dto.PasskeyFinishRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.CeremonyID == "" || len(req.Response) == 0 {
		httperrors.WriteError(w, httperrors.ErrMissingFields)
		return
	}
	res, err := c.creds.FinishPasskeyLogin(r.Context(), req.CeremonyID, req.Response)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	s, err := c.sessions.CreateSession(r.Context(), res.UserID, session.MethodPasskey, session.CreateOptions{})
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.PasskeyLoginResponse{Success: true, Session: s, Credential: res})
}
