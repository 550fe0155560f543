// Package session emite, valida, extiende y revoca sesiones.
//
// El store es la única fuente de verdad: toda mutación es un compare-and-set
// sobre Session.Version y toda validación positiva lee el store. El cache sólo
// guarda tombstones de sesiones terminales (revocadas o expiradas), que nunca
// pueden volver a ser válidas.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/cache"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/metrics"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	tokens "github.com/dropDatabas3/vaultcore/internal/security/token"
)

// Métodos de autenticación que originan una sesión.
const (
	MethodOpaque    = "opaque"
	MethodPasskey   = "passkey"
	MethodRecovery  = "recovery"
	MethodEmergency = "emergency"
)

// Capacidades restrictivas. Una sesión sin capacidades tiene acceso completo.
const (
	CapLimitedOperations = "limited_operations"
	CapRecoveryRequired  = "recovery_required"
)

// Motivos de invalidez.
const (
	ReasonNotFound = "not_found"
	ReasonExpired  = "expired"
	ReasonRevoked  = "revoked"
)

const casRetries = 5

// Session es la vista pública de una sesión. ID sólo se conoce al crearla.
type Session struct {
	ID           string    `json:"session_id,omitempty"`
	UserID       string    `json:"user_id"`
	Method       string    `json:"method"`
	Capabilities []string  `json:"capabilities,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Validation es el resultado de ValidateSession.
type Validation struct {
	Valid        bool      `json:"valid"`
	UserID       string    `json:"user_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Method       string    `json:"method,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Validator valida un session id en otro proceso (fallback server-side).
type Validator interface {
	Validate(ctx context.Context, sessionID string) (*Validation, error)
}

// CreateOptions ajusta una sesión nueva.
type CreateOptions struct {
	TTL           time.Duration
	Capabilities  []string
	ExportKeyHash string
}

// Config del manager.
type Config struct {
	TTL    time.Duration // default de CreateSession
	MaxTTL time.Duration // tope absoluto desde IssuedAt
	// TombstoneTTL es cuánto se recuerda en cache una sesión terminal.
	TombstoneTTL time.Duration
	Cache        cache.Client
	Fallback     Validator
	Audit        audit.Recorder
	Now          func() time.Time
}

// Manager es el dueño exclusivo de las sesiones.
type Manager struct {
	repo  repository.SessionRepository
	cfg   Config
	sf    singleflight.Group
	log   *zap.Logger
	audit audit.Recorder
}

// NewManager crea el manager sobre el repositorio de sesiones.
func NewManager(repo repository.SessionRepository, cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 7 * 24 * time.Hour
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	a := cfg.Audit
	if a == nil {
		a = audit.Nop{}
	}
	return &Manager{repo: repo, cfg: cfg, log: logger.Named("session"), audit: a}
}

type localOnlyKey struct{}

// LocalOnly marca ctx para que ValidateSession no consulte el Fallback.
func LocalOnly(ctx context.Context) context.Context {
	return context.WithValue(ctx, localOnlyKey{}, true)
}

func isLocalOnly(ctx context.Context) bool {
	v, _ := ctx.Value(localOnlyKey{}).(bool)
	return v
}

func tombKey(h string) string { return "sess:tomb:" + h }

func (m *Manager) tombstone(ctx context.Context, h, reason string) {
	if m.cfg.Cache == nil {
		return
	}
	if err := m.cfg.Cache.Set(ctx, tombKey(h), []byte(reason), m.cfg.TombstoneTTL); err != nil {
		m.log.Warn("tombstone write failed", logger.SessionHash(h), logger.Err(err))
	}
}

func (m *Manager) tombstoned(ctx context.Context, h string) (string, bool) {
	if m.cfg.Cache == nil {
		return "", false
	}
	v, err := m.cfg.Cache.Get(ctx, tombKey(h))
	if err != nil {
		return "", false
	}
	return string(v), true
}

func view(s *repository.Session) *Session {
	return &Session{
		UserID:       s.UserID,
		Method:       s.Method,
		Capabilities: append([]string(nil), s.Capabilities...),
		IssuedAt:     s.IssuedAt,
		ExpiresAt:    s.ExpiresAt,
	}
}

// CreateSession emite una sesión nueva y devuelve el token en claro.
// El store sólo guarda su hash.
func (m *Manager) CreateSession(ctx context.Context, userID, method string, opts CreateOptions) (*Session, error) {
	const op = "create_session"
	if userID == "" {
		return nil, types.New(types.CodeClient, op, "user id required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.cfg.TTL
	}
	if ttl > m.cfg.MaxTTL {
		ttl = m.cfg.MaxTTL
	}
	id, err := tokens.GenerateOpaqueToken(32)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	now := m.cfg.Now().UTC()
	rec := &repository.Session{
		IDHash:        tokens.SHA256Base64URL(id),
		UserID:        userID,
		ExportKeyHash: opts.ExportKeyHash,
		Method:        method,
		Capabilities:  opts.Capabilities,
		IssuedAt:      now,
		ExpiresAt:     now.Add(ttl),
	}
	if err := m.repo.Create(ctx, rec); err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	metrics.SessionsActive.Inc()
	_, _ = m.audit.LogEvent(ctx, userID, audit.EventSessionCreated, map[string]any{
		"method":       method,
		"capabilities": opts.Capabilities,
		"ttl_seconds":  int64(ttl / time.Second),
	})
	out := view(rec)
	out.ID = id
	return out, nil
}

// ValidateSession confirma la sesión contra el store. Si no existe localmente
// y hay Fallback, delega la decisión al servidor remoto.
func (m *Manager) ValidateSession(ctx context.Context, id string) (v *Validation, err error) {
	defer func() {
		if err == nil {
			result := "valid"
			if !v.Valid {
				result = v.Reason
			}
			metrics.SessionValidations.WithLabelValues(result).Inc()
		}
	}()
	if id == "" {
		return &Validation{Reason: ReasonNotFound}, nil
	}
	h := tokens.SHA256Base64URL(id)
	if reason, ok := m.tombstoned(ctx, h); ok {
		return &Validation{Reason: reason}, nil
	}

	s, err := m.repo.Get(ctx, h)
	if err != nil {
		if !repository.IsNotFound(err) {
			return nil, types.Wrap(types.CodeServer, "validate_session", err)
		}
		if m.cfg.Fallback == nil || isLocalOnly(ctx) {
			return &Validation{Reason: ReasonNotFound}, nil
		}
		rv, ferr := m.cfg.Fallback.Validate(ctx, id)
		if ferr != nil {
			m.log.Warn("fallback validation failed", logger.SessionHash(h), logger.Err(ferr))
			return nil, ferr
		}
		return rv, nil
	}

	now := m.cfg.Now()
	switch {
	case s.Revoked:
		m.tombstone(ctx, h, ReasonRevoked)
		return &Validation{UserID: s.UserID, Reason: ReasonRevoked}, nil
	case s.Expired(now):
		// borrado lazy
		if err := m.repo.Delete(ctx, h); err == nil {
			metrics.SessionsActive.Dec()
		}
		m.tombstone(ctx, h, ReasonExpired)
		return &Validation{UserID: s.UserID, Reason: ReasonExpired}, nil
	}
	return &Validation{
		Valid:        true,
		UserID:       s.UserID,
		Method:       s.Method,
		Capabilities: s.Capabilities,
		ExpiresAt:    s.ExpiresAt,
	}, nil
}

// mutate aplica fn con compare-and-set, reintentando si otro escritor ganó.
func (m *Manager) mutate(ctx context.Context, op, id string, fn func(s *repository.Session) (bool, error)) (*repository.Session, error) {
	h := tokens.SHA256Base64URL(id)
	for i := 0; i < casRetries; i++ {
		s, err := m.repo.Get(ctx, h)
		if err != nil {
			if repository.IsNotFound(err) {
				return nil, types.New(types.CodeNotFound, op, "session not found")
			}
			return nil, types.Wrap(types.CodeServer, op, err)
		}
		write, err := fn(s)
		if err != nil || !write {
			return s, err
		}
		err = m.repo.Update(ctx, s, s.Version)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, repository.ErrPreconditionFailed) {
			return nil, types.Wrap(types.CodeServer, op, err)
		}
	}
	return nil, types.New(types.CodeServer, op, "too much contention")
}

// ExtendSession suma additional a la expiración, sin pasar MaxTTL.
func (m *Manager) ExtendSession(ctx context.Context, id string, additional time.Duration) (*Session, error) {
	const op = "extend_session"
	if additional <= 0 {
		return nil, types.New(types.CodeClient, op, "additional must be positive")
	}
	s, err := m.mutate(ctx, op, id, func(s *repository.Session) (bool, error) {
		now := m.cfg.Now()
		if s.Revoked {
			return false, types.New(types.CodeInvalidTransition, op, "session revoked")
		}
		if s.Expired(now) {
			return false, types.New(types.CodeInvalidTransition, op, "session expired")
		}
		next := s.ExpiresAt.Add(additional)
		if limit := s.IssuedAt.Add(m.cfg.MaxTTL); next.After(limit) {
			next = limit
		}
		s.ExpiresAt = next
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return view(s), nil
}

// RevokeSession revoca la sesión en el store. Idempotente.
func (m *Manager) RevokeSession(ctx context.Context, id string) error {
	const op = "revoke_session"
	fresh := false
	s, err := m.mutate(ctx, op, id, func(s *repository.Session) (bool, error) {
		if s.Revoked {
			return false, nil
		}
		at := m.cfg.Now().UTC()
		s.Revoked = true
		s.RevokedAt = &at
		fresh = true
		return true, nil
	})
	if err != nil {
		return err
	}
	m.tombstone(ctx, s.IDHash, ReasonRevoked)
	if fresh {
		metrics.SessionsActive.Dec()
		_, _ = m.audit.LogEvent(ctx, s.UserID, audit.EventSessionRevoked, map[string]any{"method": s.Method})
	}
	return nil
}

// RevokeAllUserSessions revoca todas las sesiones activas del usuario.
func (m *Manager) RevokeAllUserSessions(ctx context.Context, userID string) (int, error) {
	const op = "revoke_all_sessions"
	if userID == "" {
		return 0, types.New(types.CodeClient, op, "user id required")
	}
	list, err := m.repo.ListByUser(ctx, userID)
	if err != nil {
		return 0, types.Wrap(types.CodeServer, op, err)
	}
	n, err := m.repo.RevokeAllByUser(ctx, userID, m.cfg.Now().UTC())
	if err != nil {
		return 0, types.Wrap(types.CodeServer, op, err)
	}
	for i := range list {
		m.tombstone(ctx, list[i].IDHash, ReasonRevoked)
	}
	metrics.SessionsActive.Sub(float64(n))
	_, _ = m.audit.LogEvent(ctx, userID, audit.EventSessionsRevokedAll, map[string]any{"count": n})
	return n, nil
}

// Cleanup borra del store las sesiones expiradas o revocadas. Dos llamadas
// concurrentes comparten una sola pasada; una segunda llamada sin cambios
// de estado no borra nada.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	v, err, _ := m.sf.Do("cleanup", func() (any, error) {
		return m.repo.DeleteExpired(ctx, m.cfg.Now())
	})
	if err != nil {
		return 0, types.Wrap(types.CodeServer, "cleanup", err)
	}
	n := v.(int)
	if n > 0 {
		m.log.Info("sessions cleaned", logger.Count(n))
	}
	return n, nil
}

// Run ejecuta Cleanup cada every hasta que ctx termine.
func (m *Manager) Run(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := m.Cleanup(ctx); err != nil {
				m.log.Warn("session cleanup failed", logger.Err(err))
			}
		}
	}
}
