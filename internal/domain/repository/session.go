package repository

import (
	"context"
	"time"
)

// SessionRepository define operaciones para gestionar sesiones.
// Las sesiones se indexan por el hash del session id, nunca por el token en claro.
type SessionRepository interface {
	// Create crea una nueva sesión. ErrConflict si el hash ya existe.
	Create(ctx context.Context, s *Session) error

	// Get obtiene una sesión por su hash de session_id.
	Get(ctx context.Context, idHash string) (*Session, error)

	// Update reemplaza la sesión si y solo si la versión almacenada es
	// expectedVersion. Incrementa Version. ErrPreconditionFailed si no coincide.
	Update(ctx context.Context, s *Session, expectedVersion int64) error

	// Delete elimina una sesión. No falla si no existe.
	Delete(ctx context.Context, idHash string) error

	// ListByUser lista las sesiones de un usuario (incluye revocadas).
	ListByUser(ctx context.Context, userID string) ([]Session, error)

	// RevokeAllByUser revoca todas las sesiones activas de un usuario.
	// Retorna el número de sesiones revocadas.
	RevokeAllByUser(ctx context.Context, userID string, at time.Time) (int, error)

	// DeleteExpired elimina sesiones expiradas o revocadas antes de now.
	// Retorna el número de sesiones eliminadas.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Session representa una sesión persistida.
type Session struct {
	IDHash        string
	UserID        string
	ExportKeyHash string
	Method        string   // "opaque" | "passkey" | "recovery" | "emergency"
	Capabilities  []string // vacío = acceso completo

	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	RevokedAt *time.Time

	// Version es el token de compare-and-set.
	Version int64
}

// Expired indica si la sesión ya pasó su expiresAt.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
