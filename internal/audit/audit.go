// Package audit implementa el log de auditoría tamper-evident.
//
// Cada usuario tiene su propia cadena: el IntegrityHash de un evento se
// calcula sobre su contenido canónico más el hash del evento anterior, de
// modo que editar o borrar un eslabón rompe la cadena desde ese punto.
//
// Los detalles pasan siempre por Scrub antes de persistirse; el evento
// registra qué campos se quitaron.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

// Tipos de evento.
const (
	EventUserRegistered       = "opaque.registered"
	EventRegistrationReset    = "opaque.reset"
	EventLoginSucceeded       = "opaque.login_succeeded"
	EventLoginFailed          = "opaque.login_failed"
	EventCredentialRegistered = "credential.registered"
	EventCredentialRejected   = "credential.rejected"
	EventCredentialAsserted   = "credential.asserted"
	EventReplaySuspected      = "credential.replay_suspected"
	EventPairingRequested     = "device.pairing_requested"
	EventDeviceTrusted        = "device.trusted"
	EventDeviceRejected       = "device.rejected"
	EventDeviceRevoked        = "device.revoked"
	EventDeviceReenrolled     = "device.reenrolled"
	EventDevicesExpired       = "device.expired"
	EventRecoverySetup        = "recovery.setup"
	EventRecoverySucceeded    = "recovery.succeeded"
	EventRecoveryFailed       = "recovery.failed"
	EventRecoveryThrottled    = "recovery.throttled"
	EventEmergencyIssued      = "recovery.emergency_issued"
	EventEmergencyRedeemed    = "recovery.emergency_redeemed"
	EventRollbackBlocked      = "recovery.rollback_blocked"
	EventBackupCreated        = "recovery.backup_created"
	EventBackupRemoved        = "recovery.backup_removed"
	EventBackupUnsealFailed   = "recovery.backup_unseal_failed"
	EventThrottleReset        = "recovery.throttle_reset"
	EventSessionCreated       = "session.created"
	EventSessionRevoked       = "session.revoked"
	EventSessionsRevokedAll   = "session.revoked_all"
	EventTamperDetected       = "audit.tamper_detected"
)

// SystemSubject agrupa los eventos sin usuario conocido (username
// inexistente, credencial desconocida).
const SystemSubject = "_system"

// Severidades.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severities = map[string]string{
	EventLoginFailed:        SeverityWarning,
	EventCredentialRejected: SeverityWarning,
	EventDeviceRejected:     SeverityWarning,
	EventRecoveryFailed:     SeverityWarning,
	EventRollbackBlocked:    SeverityWarning,
	EventRecoveryThrottled:  SeverityHigh,
	EventReplaySuspected:    SeverityHigh,
	EventEmergencyRedeemed:  SeverityHigh,
	EventDeviceRevoked:      SeverityHigh,
	EventBackupUnsealFailed: SeverityHigh,
	EventThrottleReset:      SeverityWarning,
	EventTamperDetected:     SeverityCritical,
}

// SeverityOf retorna la severidad asignada al tipo de evento.
func SeverityOf(eventType string) string {
	if s, ok := severities[eventType]; ok {
		return s
	}
	return SeverityInfo
}

// Recorder es lo que los componentes necesitan del log.
type Recorder interface {
	LogEvent(ctx context.Context, userID, eventType string, details map[string]any) (*repository.AuditEvent, error)
}

// Nop descarta los eventos. Útil en tests de otros paquetes.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, map[string]any) (*repository.AuditEvent, error) {
	return &repository.AuditEvent{}, nil
}

// Option configura un Log.
type Option func(*Log)

// WithPseudonymKey activa la seudonimización HMAC de los user ids.
func WithPseudonymKey(key []byte) Option {
	return func(l *Log) { l.pseudoKey = key }
}

// WithAlerter fija el destino de las alertas de seguridad.
func WithAlerter(a Alerter) Option {
	return func(l *Log) { l.alerter = a }
}

// WithClock reemplaza time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// Log es el log de auditoría encadenado.
type Log struct {
	repo      repository.AuditRepository
	alerter   Alerter
	pseudoKey []byte
	now       func() time.Time
	log       *zap.Logger

	// locks por franja: los appends de una misma cadena se serializan dentro
	// del proceso. Entre procesos manda el unique (user, seq) del store.
	locks [lockStripes]sync.Mutex
}

const (
	lockStripes = 64
	// appendRetries acota los reintentos cuando otro proceso ganó el seq.
	appendRetries = 32
)

// New crea el log sobre el repositorio dado.
func New(repo repository.AuditRepository, opts ...Option) *Log {
	l := &Log{
		repo:    repo,
		alerter: LogAlerter{},
		now:     time.Now,
		log:     logger.Named("audit"),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func stripe(subject string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	return h.Sum32() % lockStripes
}

func (l *Log) lock(subject string) func() {
	mu := &l.locks[stripe(subject)]
	mu.Lock()
	return mu.Unlock
}

// Subject retorna el identificador con el que se indexa la cadena de userID.
func (l *Log) Subject(userID string) string {
	return Pseudonymize(l.pseudoKey, userID)
}

// LogEvent depura details, lo encadena al último evento del usuario y lo persiste.
func (l *Log) LogEvent(ctx context.Context, userID, eventType string, details map[string]any) (*repository.AuditEvent, error) {
	return l.append(ctx, userID, eventType, SeverityOf(eventType), details)
}

func (l *Log) append(ctx context.Context, userID, eventType, severity string, details map[string]any) (*repository.AuditEvent, error) {
	if eventType == "" {
		return nil, fmt.Errorf("audit: event type required")
	}
	subject := l.Subject(userID)
	clean, removed := Scrub(details)
	raw, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal details: %w", err)
	}

	unlock := l.lock(subject)
	defer unlock()

	ts := l.now().UTC().Truncate(time.Millisecond)
	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		e, err := l.chain(ctx, subject, eventType, severity, ts, raw, removed)
		if err != nil {
			return nil, err
		}
		err = l.repo.Append(ctx, e)
		if err == nil {
			l.log.Debug("audit event",
				logger.Subject(subject),
				logger.String("type", eventType),
				logger.String("severity", severity),
				logger.Seq(e.Seq),
			)
			return e, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			lastErr = err
			break
		}
		// otro proceso escribió ese seq: se re-encadena sobre la cabeza nueva
		lastErr = err
	}
	l.log.Error("audit event lost",
		logger.Subject(subject),
		logger.String("type", eventType),
		logger.String("severity", severity),
		logger.Err(lastErr),
	)
	return nil, fmt.Errorf("audit: append: %w", lastErr)
}

// chain arma el evento sobre la cabeza actual de la cadena del subject.
func (l *Log) chain(ctx context.Context, subject, eventType, severity string, ts time.Time, raw []byte, removed []string) (*repository.AuditEvent, error) {
	prevHash, seq := GenesisHash, int64(0)
	last, err := l.repo.Last(ctx, subject)
	switch {
	case err == nil:
		prevHash, seq = last.IntegrityHash, last.Seq+1
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("audit: last event: %w", err)
	}
	e := &repository.AuditEvent{
		ID:            ulid.Make().String(),
		UserID:        subject,
		Seq:           seq,
		Type:          eventType,
		Severity:      severity,
		Timestamp:     ts,
		Details:       raw,
		RemovedFields: removed,
		PreviousHash:  prevHash,
	}
	e.IntegrityHash = ComputeHash(e, prevHash)
	return e, nil
}
