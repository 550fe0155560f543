package dto

import (
	"encoding/json"
	"time"

	"github.com/dropDatabas3/vaultcore/internal/credential"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/session"
)

// CeremonyResponse lleva las opciones WebAuthn tal cual para navigator.credentials.
type CeremonyResponse struct {
	CeremonyID string          `json:"ceremony_id"`
	Options    json.RawMessage `json:"options"`
}

type PasskeyFinishRequest struct {
	Envelope
	CeremonyID string          `json:"ceremony_id"`
	Response   json.RawMessage `json:"response"`
}

type PasskeyLoginStartRequest struct {
	Envelope
	CredentialIDs []string `json:"credential_ids,omitempty"`
}

type CredentialView struct {
	ID            string                   `json:"id"`
	PlatformClass repository.PlatformClass `json:"platform_class"`
	SignCount     uint32                   `json:"sign_count"`
	CreatedAt     time.Time                `json:"created_at"`
}

func NewCredentialView(c *repository.Credential) CredentialView {
	return CredentialView{ID: c.ID, PlatformClass: c.PlatformClass, SignCount: c.SignCount, CreatedAt: c.CreatedAt}
}

type PasskeyLoginResponse struct {
	Success    bool                        `json:"success"`
	Session    *session.Session            `json:"session"`
	Credential *credential.AssertionResult `json:"credential"`
}
