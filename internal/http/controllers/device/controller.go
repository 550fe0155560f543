// Package device expone el registro de dispositivos confiables.
package device

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	registry "github.com/dropDatabas3/vaultcore/internal/device"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/http/dto"
	httperrors "github.com/dropDatabas3/vaultcore/internal/http/errors"
	"github.com/dropDatabas3/vaultcore/internal/http/helpers"
	mw "github.com/dropDatabas3/vaultcore/internal/http/middlewares"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

// DeviceTokenHeader lleva el trust token de un dispositivo ya confiable.
const DeviceTokenHeader = "X-Device-Token"

// Registry es el subconjunto de device.Registry que usa el controller.
type Registry interface {
	ProcessPairingRequest(ctx context.Context, ownerUserID, responderDeviceID string, req *registry.PairingRequest) (*registry.PairingResponse, error)
	FinalizePairing(ctx context.Context, deviceID string, validated bool) (*repository.Device, error)
	RevokeDevice(ctx context.Context, deviceID string) error
	ReenrollDevice(ctx context.Context, deviceID string, req *registry.PairingRequest) (*registry.PairingResponse, error)
	UpdateDeviceSync(ctx context.Context, deviceID string) error
	GetDevice(ctx context.Context, deviceID string) (*repository.Device, error)
	ListDevices(ctx context.Context, ownerUserID string) ([]repository.Device, error)
	ValidateDeviceAuth(ctx context.Context, deviceID, token string) bool
	Stats(ctx context.Context, ownerUserID string) (*registry.Stats, error)
}

type Controller struct {
	registry Registry
}

func NewController(r Registry) *Controller { return &Controller{registry: r} }

// owned carga el dispositivo {id} y verifica que sea del usuario de la
// sesión. Un dispositivo ajeno responde 404, igual que uno inexistente.
func (c *Controller) owned(w http.ResponseWriter, r *http.Request) (*repository.Device, bool) {
	d, err := c.registry.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httperrors.WriteError(w, err)
		return nil, false
	}
	if d.OwnerUserID != mw.GetUserID(r.Context()) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
		return nil, false
	}
	return d, true
}

// List maneja GET /v1/devices
func (c *Controller) List(w http.ResponseWriter, r *http.Request) {
	uid := mw.GetUserID(r.Context())
	ds, err := c.registry.ListDevices(r.Context(), uid)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	st, err := c.registry.Stats(r.Context(), uid)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	out := dto.DeviceListResponse{Devices: make([]dto.DeviceView, 0, len(ds)), Stats: st}
	for i := range ds {
		out.Devices = append(out.Devices, dto.NewDeviceView(&ds[i]))
	}
	helpers.WriteJSON(w, http.StatusOK, out)
}

// Pair maneja POST /v1/devices/pair. Si responde un dispositivo confiable,
// debe presentar su trust token en X-Device-Token.
func (c *Controller) Pair(w http.ResponseWriter, r *http.Request) {
	log := logger.From(r.Context()).With(logger.Component("controller"), logger.Op("DeviceController.Pair"))

	var req dto.PairDeviceRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Request == nil {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("request"))
		return
	}
	if req.ResponderDeviceID != "" &&
		!c.registry.ValidateDeviceAuth(r.Context(), req.ResponderDeviceID, r.Header.Get(DeviceTokenHeader)) {
		log.Warn("responder device failed authentication", logger.DeviceID(req.ResponderDeviceID))
		httperrors.WriteError(w, httperrors.ErrForbidden.WithDetail("responder device not authenticated"))
		return
	}
	resp, err := c.registry.ProcessPairingRequest(r.Context(), mw.GetUserID(r.Context()), req.ResponderDeviceID, req.Request)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, resp)
}

// Finalize maneja POST /v1/devices/{id}/finalize
func (c *Controller) Finalize(w http.ResponseWriter, r *http.Request) {
	var req dto.FinalizePairingRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	d, ok := c.owned(w, r)
	if !ok {
		return
	}
	d, err := c.registry.FinalizePairing(r.Context(), d.ID, req.Validated)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, dto.NewDeviceView(d))
}

// Revoke maneja POST /v1/devices/{id}/revoke
func (c *Controller) Revoke(w http.ResponseWriter, r *http.Request) {
	d, ok := c.owned(w, r)
	if !ok {
		return
	}
	if err := c.registry.RevokeDevice(r.Context(), d.ID); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.NoContent(w)
}

// Reenroll maneja POST /v1/devices/{id}/reenroll
func (c *Controller) Reenroll(w http.ResponseWriter, r *http.Request) {
	var req dto.ReenrollDeviceRequest
	if err := helpers.ReadJSON(w, r, &req); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	if req.Request == nil {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("request"))
		return
	}
	d, ok := c.owned(w, r)
	if !ok {
		return
	}
	resp, err := c.registry.ReenrollDevice(r.Context(), d.ID, req.Request)
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, resp)
}

// Sync maneja POST /v1/devices/{id}/sync. Lo llama el propio dispositivo
// con su trust token; no requiere sesión.
func (c *Controller) Sync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !c.registry.ValidateDeviceAuth(r.Context(), id, r.Header.Get(DeviceTokenHeader)) {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}
	if err := c.registry.UpdateDeviceSync(r.Context(), id); err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.NoContent(w)
}
