package dto

import (
	"time"

	"github.com/dropDatabas3/vaultcore/internal/device"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
)

type PairDeviceRequest struct {
	Envelope
	// ResponderDeviceID vacío: responde el server.
	ResponderDeviceID string                 `json:"responder_device_id,omitempty"`
	Request           *device.PairingRequest `json:"request"`
}

type FinalizePairingRequest struct {
	Envelope
	Validated bool `json:"validated"`
}

type ReenrollDeviceRequest struct {
	Envelope
	Request *device.PairingRequest `json:"request"`
}

// DeviceView nunca expone el trust token.
type DeviceView struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Type          string                `json:"type"`
	TrustState    repository.TrustState `json:"trust_state"`
	TrustScore    float64               `json:"trust_score"`
	PredecessorID string                `json:"predecessor_id,omitempty"`
	LastSyncAt    time.Time             `json:"last_sync_at"`
	CreatedAt     time.Time             `json:"created_at"`
}

func NewDeviceView(d *repository.Device) DeviceView {
	return DeviceView{
		ID:            d.ID,
		Name:          d.Name,
		Type:          d.Type,
		TrustState:    d.TrustState,
		TrustScore:    d.TrustScore,
		PredecessorID: d.PredecessorID,
		LastSyncAt:    d.LastSyncAt,
		CreatedAt:     d.CreatedAt,
	}
}

type DeviceListResponse struct {
	Devices []DeviceView  `json:"devices"`
	Stats   *device.Stats `json:"stats"`
}
