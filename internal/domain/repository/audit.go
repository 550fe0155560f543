package repository

import (
	"context"
	"time"
)

// AuditEvent es un eslabón de la cadena de auditoría de un usuario.
// Append-only: ningún adapter expone operaciones de update.
type AuditEvent struct {
	ID            string
	UserID        string // seudonimizado
	Seq           int64  // posición 0-based en la cadena del usuario
	Type          string
	Severity      string
	Timestamp     time.Time
	Details       []byte // JSON canónico ya depurado de PII
	RemovedFields []string
	PreviousHash  string
	IntegrityHash string
}

// AuditRepository persiste la cadena de auditoría.
type AuditRepository interface {
	// Append inserta el evento. ErrConflict si (user, seq) ya existe.
	Append(ctx context.Context, e *AuditEvent) error

	// Last retorna el último evento del usuario. ErrNotFound si no hay eventos.
	Last(ctx context.Context, userID string) (*AuditEvent, error)

	// Range retorna hasta limit eventos con seq >= fromSeq, en orden ascendente.
	Range(ctx context.Context, userID string, fromSeq int64, limit int) ([]AuditEvent, error)
}
