package repository

import (
	"context"
	"time"
)

// RecoveryMaterial guarda solo verificadores y metadata, nunca el secreto,
// la frase ni las shares.
type RecoveryMaterial struct {
	UserID          string
	SetID           string // identifica el share-set vigente
	ValidationLevel int
	Verifier        string // hash del secreto raíz
	Threshold       int
	ShareCount      int

	EmergencyCodeHash  string
	EmergencyIssuedAt  *time.Time
	EmergencyExpiresAt *time.Time
	EmergencyUsedAt    *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecoveryRepository persiste material de recuperación.
type RecoveryRepository interface {
	// Put crea o reemplaza el material de recuperación del usuario.
	Put(ctx context.Context, m *RecoveryMaterial) error

	// Get obtiene el material del usuario.
	Get(ctx context.Context, userID string) (*RecoveryMaterial, error)

	// SetEmergencyCode reemplaza el código de emergencia (y resetea used_at).
	SetEmergencyCode(ctx context.Context, userID, codeHash string, issuedAt, expiresAt time.Time) error

	// ConsumeEmergencyCode marca el código como usado si todavía no lo estaba.
	// ErrPreconditionFailed si ya fue consumido.
	ConsumeEmergencyCode(ctx context.Context, userID string, at time.Time) error

	// PutBackup guarda un backup nuevo. ErrConflict si el ID ya existe.
	PutBackup(ctx context.Context, b *KeyBackup) error

	// ListBackups devuelve los backups del usuario ordenados por CreatedAt.
	ListBackups(ctx context.Context, userID string) ([]KeyBackup, error)

	// DeleteBackup borra un backup del usuario. ErrNotFound si no existe.
	DeleteBackup(ctx context.Context, userID, id string) error

	// PurgeBackups borra todos los backups del usuario que no pertenecen a
	// setID y retorna cuántos borró.
	PurgeBackups(ctx context.Context, userID, keepSetID string) (int, error)
}

// KeyBackup es una clave del usuario sellada bajo una clave derivada del
// secreto raíz del share-set SetID. Sin el secreto no se puede abrir.
type KeyBackup struct {
	ID        string
	UserID    string
	SetID     string
	DeviceID  string
	Label     string
	Sealed    []byte
	CreatedAt time.Time
}

// ThrottleRepository mantiene contadores fixed-window persistentes,
// de modo que el throttling sobreviva reinicios del proceso.
type ThrottleRepository interface {
	// Hit incrementa el contador de key para la ventana que contiene now.
	// Retorna el conteo actual y el fin de la ventana.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error)

	// Peek devuelve el conteo de la ventana que contiene now sin
	// incrementarlo (0 si no hay contador o es de otra ventana).
	Peek(ctx context.Context, key string, window time.Duration, now time.Time) (int64, time.Time, error)

	// Reset borra el contador de key.
	Reset(ctx context.Context, key string) error
}
