package repository

import (
	"context"
	"time"
)

// TrustState es el estado de confianza de un dispositivo.
type TrustState string

const (
	TrustPending TrustState = "pending"
	TrustTrusted TrustState = "trusted"
	TrustRevoked TrustState = "revoked"
	TrustExpired TrustState = "expired"
)

// Device es un dispositivo vinculado a una cuenta.
type Device struct {
	ID            string
	OwnerUserID   string
	Name          string
	Type          string
	PublicKey     []byte
	TrustState    TrustState
	TrustToken    string
	TrustScore    float64
	PredecessorID string // dispositivo revocado que este re-enrolamiento reemplaza
	LastSyncAt    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeviceRepository define operaciones del registro de dispositivos.
type DeviceRepository interface {
	// CreatePending inserta el dispositivo en estado Pending verificando, en la
	// misma operación atómica, que el dueño tenga menos de maxDevices
	// dispositivos activos (Pending o Trusted). ErrLimitReached si no hay lugar.
	CreatePending(ctx context.Context, d *Device, maxDevices int) error

	// Get obtiene un dispositivo por ID.
	Get(ctx context.Context, id string) (*Device, error)

	// ListByOwner lista todos los dispositivos del usuario.
	ListByOwner(ctx context.Context, ownerUserID string) ([]Device, error)

	// Transition cambia el estado si el estado actual está en from.
	// ErrPreconditionFailed si el estado actual no es uno de from.
	Transition(ctx context.Context, id string, from []TrustState, to TrustState, score float64, at time.Time) (*Device, error)

	// Touch actualiza lastSyncAt de un dispositivo activo.
	Touch(ctx context.Context, id string, at time.Time) error

	// ExpireStale pasa a Expired los dispositivos Pending/Trusted cuyo
	// lastSyncAt es anterior a cutoff. Retorna cuántos cambiaron.
	ExpireStale(ctx context.Context, cutoff, at time.Time) (int, error)
}
