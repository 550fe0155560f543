package repository

import (
	"context"
	"time"
)

// PlatformClass identifica la familia de autenticador que produjo la credencial.
type PlatformClass string

const (
	PlatformEnclave  PlatformClass = "enclave"
	PlatformKeystore PlatformClass = "keystore"
	PlatformBrowser  PlatformClass = "browser"
)

// Credential es una credencial de clave pública normalizada.
type Credential struct {
	ID            string // credentialId en base64url
	OwnerUserID   string
	PublicKey     []byte
	SignCount     uint32
	PlatformClass PlatformClass
	Transports    []string
	CreatedAt     time.Time
	LastUsedAt    time.Time
}

// CredentialRepository define operaciones sobre credenciales de plataforma.
type CredentialRepository interface {
	// Create inserta una credencial. ErrConflict si el ID ya existe.
	Create(ctx context.Context, c *Credential) error

	// Get obtiene una credencial por ID.
	Get(ctx context.Context, id string) (*Credential, error)

	// ListByUser lista las credenciales de un usuario.
	ListByUser(ctx context.Context, userID string) ([]Credential, error)

	// UpdateCounter avanza el sign counter con compare-and-set sobre el valor
	// previo. Retorna ErrPreconditionFailed si otro assertion ganó la carrera.
	UpdateCounter(ctx context.Context, id string, expected, next uint32, usedAt time.Time) error
}
