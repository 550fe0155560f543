// Package device mantiene el registro de dispositivos confiables de cada
// cuenta: pairing con prueba de posesión, trust tokens firmados, revocación
// y re-enrolamiento.
//
// Estados: pending → trusted | revoked; trusted → revoked | expired;
// expired → revoked. revoked es terminal; re-enrolar crea un registro nuevo.
package device

import (
	"context"
	"crypto/ed25519"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/jwt"
	"github.com/dropDatabas3/vaultcore/internal/metrics"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

// Puntajes de confianza por estado.
const (
	scorePending = 0.5
	scoreTrusted = 1.0
	scoreNone    = 0.0
)

const futureSkew = 30 * time.Second

// TrustClaims es el payload del trust token: sub = dispositivo candidato.
type TrustClaims struct {
	Owner     string `json:"own"`
	Responder string `json:"rsp,omitempty"`
	jwtv5.RegisteredClaims
}

type Config struct {
	MaxDevices     int
	PairingMaxAge  time.Duration
	TrustThreshold float64
	// Issuer firma trust tokens y respuestas de pairing. Requerido.
	Issuer *jwt.Issuer
	Audit  audit.Recorder
	Now    func() time.Time
}

// Registry implementa el registro de dispositivos sobre el repositorio.
type Registry struct {
	repo  repository.DeviceRepository
	cfg   Config
	audit audit.Recorder
	sf    singleflight.Group
	log   *zap.Logger
}

func NewRegistry(repo repository.DeviceRepository, cfg Config) *Registry {
	if cfg.MaxDevices <= 0 {
		cfg.MaxDevices = 10
	}
	if cfg.PairingMaxAge <= 0 {
		cfg.PairingMaxAge = 5 * time.Minute
	}
	if cfg.TrustThreshold <= 0 {
		cfg.TrustThreshold = 0.5
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		repo:  repo,
		cfg:   cfg,
		audit: cfg.Audit,
		log:   logger.Named("device"),
	}
}

// ResponderPublicKey es la clave con la que se verifican las respuestas de pairing.
func (r *Registry) ResponderPublicKey() ed25519.PublicKey { return r.cfg.Issuer.Keys.Pub }

// ProcessPairingRequest valida el request del candidato y lo registra como
// Pending. responderDeviceID vacío significa que responde el server (primer
// dispositivo de la cuenta); si no, debe ser un dispositivo confiable del
// mismo dueño.
func (r *Registry) ProcessPairingRequest(ctx context.Context, ownerUserID, responderDeviceID string, req *PairingRequest) (*PairingResponse, error) {
	const op = "process_pairing"
	if ownerUserID == "" || req == nil {
		return nil, types.New(types.CodeClient, op, "owner and request required")
	}
	now := r.cfg.Now().UTC()
	if err := r.checkRequest(op, req, now); err != nil {
		metrics.PairingOutcomes.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if responderDeviceID != "" {
		if err := r.checkResponder(ctx, op, ownerUserID, responderDeviceID); err != nil {
			metrics.PairingOutcomes.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}
	return r.createPending(ctx, op, ownerUserID, responderDeviceID, "", req, now)
}

func (r *Registry) checkRequest(op string, req *PairingRequest, now time.Time) error {
	if err := req.verify(); err != nil {
		return types.Wrap(types.CodeClient, op, err)
	}
	if now.Sub(req.Timestamp) > r.cfg.PairingMaxAge {
		return types.New(types.CodeClient, op, "pairing request expired")
	}
	if req.Timestamp.Sub(now) > futureSkew {
		return types.New(types.CodeClient, op, "pairing request from the future")
	}
	return nil
}

func (r *Registry) checkResponder(ctx context.Context, op, ownerUserID, responderID string) error {
	d, err := r.repo.Get(ctx, responderID)
	if err != nil {
		if repository.IsNotFound(err) {
			return types.New(types.CodeClient, op, "unknown responder device")
		}
		return types.Wrap(types.CodeServer, op, err)
	}
	if d.OwnerUserID != ownerUserID || d.TrustState != repository.TrustTrusted || d.TrustScore < r.cfg.TrustThreshold {
		return types.New(types.CodeClient, op, "responder device is not trusted")
	}
	return nil
}

// createPending persiste el registro Pending antes de devolver el token: si
// el proceso cae en el medio, el dispositivo queda Pending y nunca Trusted.
func (r *Registry) createPending(ctx context.Context, op, ownerUserID, responderID, predecessorID string, req *PairingRequest, now time.Time) (*PairingResponse, error) {
	token, err := r.cfg.Issuer.Sign(TrustClaims{
		Owner:            ownerUserID,
		Responder:        responderID,
		RegisteredClaims: r.cfg.Issuer.Registered(req.DeviceID, uuid.NewString(), now),
	})
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	d := &repository.Device{
		ID:            req.DeviceID,
		OwnerUserID:   ownerUserID,
		Name:          req.DeviceName,
		Type:          req.DeviceType,
		PublicKey:     req.PublicKey,
		TrustState:    repository.TrustPending,
		TrustToken:    token,
		TrustScore:    scorePending,
		PredecessorID: predecessorID,
		LastSyncAt:    now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.repo.CreatePending(ctx, d, r.cfg.MaxDevices); err != nil {
		switch {
		case repository.IsLimitReached(err):
			metrics.PairingOutcomes.WithLabelValues("limit_reached").Inc()
			r.log.Info("device limit reached", logger.UserID(ownerUserID), logger.Int("max_devices", r.cfg.MaxDevices))
			return nil, types.Newf(types.CodeDeviceLimit, op, "account already has %d active devices", r.cfg.MaxDevices)
		case repository.IsConflict(err):
			metrics.PairingOutcomes.WithLabelValues("rejected").Inc()
			return nil, types.New(types.CodeClient, op, "device id already registered")
		}
		return nil, types.Wrap(types.CodeServer, op, err)
	}

	resp := &PairingResponse{
		DeviceID:          req.DeviceID,
		ResponderDeviceID: responderID,
		SharedSecretHash:  sharedSecretHash(req, responderID),
		DeviceTrustToken:  token,
		Timestamp:         now,
	}
	resp.ResponseSignature = ed25519.Sign(r.cfg.Issuer.Keys.Priv, resp.signedBytes())

	metrics.PairingOutcomes.WithLabelValues("pending").Inc()
	r.log.Info("device pairing pending", logger.UserID(ownerUserID), logger.DeviceID(req.DeviceID), logger.String("responder", responderID))
	details := map[string]any{"device_id": req.DeviceID, "device_type": req.DeviceType, "responder": responderID}
	if predecessorID != "" {
		details["predecessor"] = predecessorID
		_, _ = r.audit.LogEvent(ctx, ownerUserID, audit.EventDeviceReenrolled, details)
	} else {
		_, _ = r.audit.LogEvent(ctx, ownerUserID, audit.EventPairingRequested, details)
	}
	return resp, nil
}

// FinalizePairing aplica el resultado de la validación del candidato. El
// flag validated es autoritativo: true → trusted, false → revoked. Sólo es
// legal desde pending.
func (r *Registry) FinalizePairing(ctx context.Context, deviceID string, validated bool) (*repository.Device, error) {
	const op = "finalize_pairing"
	to, score, event, outcome := repository.TrustRevoked, scoreNone, audit.EventDeviceRejected, "rejected"
	if validated {
		to, score, event, outcome = repository.TrustTrusted, scoreTrusted, audit.EventDeviceTrusted, "trusted"
	}
	d, err := r.repo.Transition(ctx, deviceID, []repository.TrustState{repository.TrustPending}, to, score, r.cfg.Now().UTC())
	if err != nil {
		return nil, r.transitionError(ctx, op, deviceID, err)
	}
	metrics.PairingOutcomes.WithLabelValues(outcome).Inc()
	r.log.Info("device pairing finalized", logger.UserID(d.OwnerUserID), logger.DeviceID(deviceID), logger.State(string(to)))
	_, _ = r.audit.LogEvent(ctx, d.OwnerUserID, event, map[string]any{"device_id": deviceID})
	return d, nil
}

// transitionError traduce el fallo de CAS al estado real del registro.
func (r *Registry) transitionError(ctx context.Context, op, deviceID string, err error) error {
	if repository.IsNotFound(err) {
		return types.New(types.CodeNotFound, op, "device not found")
	}
	if !repository.IsPreconditionFailed(err) {
		return types.Wrap(types.CodeServer, op, err)
	}
	cur, gerr := r.repo.Get(ctx, deviceID)
	if gerr != nil {
		return types.Wrap(types.CodeServer, op, gerr)
	}
	if cur.TrustState == repository.TrustRevoked {
		return types.New(types.CodeDeviceRevoked, op, "device is revoked")
	}
	return types.Newf(types.CodeInvalidTransition, op, "device is %s", cur.TrustState)
}

// RevokeDevice revoca sin condiciones. Revocar un revocado no es error.
func (r *Registry) RevokeDevice(ctx context.Context, deviceID string) error {
	const op = "revoke_device"
	from := []repository.TrustState{repository.TrustPending, repository.TrustTrusted, repository.TrustExpired}
	d, err := r.repo.Transition(ctx, deviceID, from, repository.TrustRevoked, scoreNone, r.cfg.Now().UTC())
	if err != nil {
		terr := r.transitionError(ctx, op, deviceID, err)
		if types.HasCode(terr, types.CodeDeviceRevoked) {
			return nil
		}
		return terr
	}
	r.log.Warn("device revoked", logger.UserID(d.OwnerUserID), logger.DeviceID(deviceID))
	_, _ = r.audit.LogEvent(ctx, d.OwnerUserID, audit.EventDeviceRevoked, map[string]any{"device_id": deviceID})
	return nil
}

// ReenrollDevice da de alta un registro nuevo para un dispositivo revocado.
// El registro viejo queda revocado para siempre; el nuevo arranca Pending con
// PredecessorID apuntando al viejo.
func (r *Registry) ReenrollDevice(ctx context.Context, deviceID string, req *PairingRequest) (*PairingResponse, error) {
	const op = "reenroll_device"
	if req == nil {
		return nil, types.New(types.CodeClient, op, "pairing request required")
	}
	old, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, types.New(types.CodeNotFound, op, "device not found")
		}
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	if old.TrustState != repository.TrustRevoked {
		return nil, types.Newf(types.CodeInvalidTransition, op, "device is %s, not revoked", old.TrustState)
	}
	if req.DeviceID == old.ID {
		return nil, types.New(types.CodeClient, op, "re-enrollment requires a new device id")
	}
	now := r.cfg.Now().UTC()
	if err := r.checkRequest(op, req, now); err != nil {
		return nil, err
	}
	return r.createPending(ctx, op, old.OwnerUserID, "", old.ID, req, now)
}

// CleanupExpiredDevices pasa a expired los dispositivos activos sin sync en
// ttl. Idempotente; corridas concurrentes se colapsan en una.
func (r *Registry) CleanupExpiredDevices(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		return 0, types.New(types.CodeClient, "cleanup_devices", "ttl must be positive")
	}
	v, err, _ := r.sf.Do("cleanup", func() (any, error) {
		now := r.cfg.Now().UTC()
		return r.repo.ExpireStale(ctx, now.Add(-ttl), now)
	})
	if err != nil {
		return 0, types.Wrap(types.CodeServer, "cleanup_devices", err)
	}
	n := v.(int)
	if n > 0 {
		r.log.Info("devices expired", logger.Count(n))
		_, _ = r.audit.LogEvent(ctx, audit.SystemSubject, audit.EventDevicesExpired, map[string]any{"count": n})
	}
	return n, nil
}

// UpdateDeviceSync marca actividad del dispositivo.
func (r *Registry) UpdateDeviceSync(ctx context.Context, deviceID string) error {
	const op = "update_device_sync"
	if err := r.repo.Touch(ctx, deviceID, r.cfg.Now().UTC()); err != nil {
		return r.transitionError(ctx, op, deviceID, err)
	}
	return nil
}

// GetDevice devuelve el dispositivo tal como está en el store.
func (r *Registry) GetDevice(ctx context.Context, deviceID string) (*repository.Device, error) {
	d, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, types.New(types.CodeNotFound, "get_device", "device not found")
		}
		return nil, types.Wrap(types.CodeServer, "get_device", err)
	}
	return d, nil
}

// GetDeviceStatus devuelve el estado de confianza actual.
func (r *Registry) GetDeviceStatus(ctx context.Context, deviceID string) (repository.TrustState, error) {
	d, err := r.GetDevice(ctx, deviceID)
	if err != nil {
		return "", err
	}
	return d.TrustState, nil
}

// ListDevices lista todos los dispositivos del usuario.
func (r *Registry) ListDevices(ctx context.Context, ownerUserID string) ([]repository.Device, error) {
	ds, err := r.repo.ListByOwner(ctx, ownerUserID)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, "list_devices", err)
	}
	return ds, nil
}

// ListTrustedDevices filtra trusted con score por encima del umbral.
func (r *Registry) ListTrustedDevices(ctx context.Context, ownerUserID string) ([]repository.Device, error) {
	ds, err := r.ListDevices(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	out := ds[:0]
	for _, d := range ds {
		if d.TrustState == repository.TrustTrusted && d.TrustScore >= r.cfg.TrustThreshold {
			out = append(out, d)
		}
	}
	return out, nil
}

// ValidateDeviceAuth verifica que token sea el trust token vigente del
// dispositivo y que éste siga confiable.
func (r *Registry) ValidateDeviceAuth(ctx context.Context, deviceID, token string) bool {
	var claims TrustClaims
	if err := r.cfg.Issuer.Parse(token, &claims, r.cfg.Now()); err != nil {
		r.log.Debug("trust token rejected", logger.DeviceID(deviceID), logger.Err(err))
		return false
	}
	if claims.Subject != deviceID {
		return false
	}
	d, err := r.repo.Get(ctx, deviceID)
	if err != nil {
		return false
	}
	return d.TrustState == repository.TrustTrusted &&
		d.TrustScore >= r.cfg.TrustThreshold &&
		d.TrustToken == token &&
		d.OwnerUserID == claims.Owner
}

// Stats resume el registro de un usuario.
type Stats struct {
	Total        int  `json:"total"`
	Pending      int  `json:"pending"`
	Trusted      int  `json:"trusted"`
	Revoked      int  `json:"revoked"`
	Expired      int  `json:"expired"`
	MaxDevices   int  `json:"max_devices"`
	LimitReached bool `json:"limit_reached"`
}

func (r *Registry) Stats(ctx context.Context, ownerUserID string) (*Stats, error) {
	ds, err := r.ListDevices(ctx, ownerUserID)
	if err != nil {
		return nil, err
	}
	st := &Stats{Total: len(ds), MaxDevices: r.cfg.MaxDevices}
	for _, d := range ds {
		switch d.TrustState {
		case repository.TrustPending:
			st.Pending++
		case repository.TrustTrusted:
			st.Trusted++
		case repository.TrustRevoked:
			st.Revoked++
		case repository.TrustExpired:
			st.Expired++
		}
	}
	st.LimitReached = st.Pending+st.Trusted >= st.MaxDevices
	return st, nil
}
