package repository

import (
	"context"
	"time"
)

// UserRepository persiste identidades y su registro OPAQUE.
// El password nunca llega a esta capa en ninguna forma.
type UserRepository interface {
	// Create crea el usuario y su registro OPAQUE en una sola operación.
	// Retorna ErrConflict si el username ya existe.
	Create(ctx context.Context, user *User, record *OpaqueRecord) error

	// GetByID obtiene un usuario por ID.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByUsername obtiene un usuario por username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetRecord obtiene el registro OPAQUE asociado al username.
	GetRecord(ctx context.Context, username string) (*OpaqueRecord, error)

	// ResetRecord reemplaza el registro OPAQUE (solo account-reset explícito).
	// El login nunca llama a este método.
	ResetRecord(ctx context.Context, username string, record *OpaqueRecord) error
}

// User representa una identidad. ExportKeyHash es un hash del export key
// derivado en el cliente, nunca el password.
type User struct {
	ID            string
	Username      string
	ExportKeyHash string
	CreatedAt     time.Time
}

// OpaqueRecord es el registro ciego que guarda el servidor.
// Envelope es opaco para el store: lo produce y consume el backend OPAQUE.
type OpaqueRecord struct {
	UserID    string
	Username  string
	Backend   string // "gopaque" | "mock"
	Envelope  []byte // registro serializado (sellado con secretbox si hay master key)
	Salt      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}
