package opaque

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/metrics"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	"github.com/dropDatabas3/vaultcore/internal/security/secretbox"
)

// SystemSubject es la cadena de auditoría para eventos sin usuario conocido.
const SystemSubject = audit.SystemSubject

const maxUsernameLen = 128

// RegistrationUpload es lo que el cliente manda al terminar el registro.
type RegistrationUpload struct {
	Message       []byte `json:"message"`
	ExportKeyHash string `json:"export_key_hash"`
}

// AuthResult es lo único que sale de un login exitoso del lado servidor.
type AuthResult struct {
	SessionKey    []byte
	UserID        string
	ExportKeyHash string
}

// ServerRegistrationState vive entre ProcessRegistration y StoreRegistration.
type ServerRegistrationState struct {
	username string
	inner    serverRegistration
	created  time.Time
	used     atomic.Bool
}

// ServerAuthState vive entre ProcessAuthentication y VerifyAuthentication.
type ServerAuthState struct {
	username      string
	userID        string
	exportKeyHash string
	ticket        uint64
	inner         serverAuthentication
	created       time.Time
	used          atomic.Bool
}

// ServerConfig agrupa las dependencias opcionales del servidor.
type ServerConfig struct {
	// StateTTL vence los estados pendientes (auth y registro).
	StateTTL time.Duration
	// Box sella el registro en reposo. nil: se guarda sin sellar.
	Box   *secretbox.Box
	Audit audit.Recorder
	Now   func() time.Time
}

// Server es el lado servidor del motor OPAQUE.
type Server struct {
	backend  Backend
	users    repository.UserRepository
	box      *secretbox.Box
	audit    audit.Recorder
	gate     *Gate
	pending  *gocache.Cache
	stateTTL time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewServer crea el servidor sobre el backend y el repositorio de usuarios.
func NewServer(backend Backend, users repository.UserRepository, cfg ServerConfig) *Server {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	g := NewGate(cfg.StateTTL)
	g.now = cfg.Now
	return &Server{
		backend:  backend,
		users:    users,
		box:      cfg.Box,
		audit:    cfg.Audit,
		gate:     g,
		pending:  gocache.New(cfg.StateTTL, cfg.StateTTL),
		stateTTL: cfg.StateTTL,
		now:      cfg.Now,
		log:      logger.Named("opaque").With(logger.Backend(backend.Name())),
	}
}

// Gate expone el gate de logins (tests/métricas).
func (s *Server) Gate() *Gate { return s.gate }

func validUsername(op, username string) error {
	if strings.TrimSpace(username) == "" || len(username) > maxUsernameLen {
		return types.New(types.CodeClient, op, "invalid username")
	}
	return nil
}

func observe(step string, start time.Time) {
	metrics.OpaqueStepLatency.WithLabelValues(step).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func outcome(flow string, err error) {
	o := "success"
	if err != nil {
		o = string(types.CodeOf(err))
	}
	metrics.OpaqueOutcomes.WithLabelValues(flow, o).Inc()
}

func recordAAD(username string, salt []byte) []byte {
	return append([]byte("opaque-record|"+username+"|"), salt...)
}

// ─── Registro ───

// ProcessRegistration evalúa el OPRF sobre el request ciego del cliente.
func (s *Server) ProcessRegistration(ctx context.Context, username string, request []byte) ([]byte, *ServerRegistrationState, error) {
	const op = "process_registration"
	defer observe(op, time.Now())
	if err := validUsername(op, username); err != nil {
		return nil, nil, err
	}
	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return nil, nil, types.New(types.CodeClient, op, "username not available")
	} else if !repository.IsNotFound(err) {
		return nil, nil, types.Wrap(types.CodeServer, op, err)
	}
	resp, inner, err := s.backend.processRegistration(username, request)
	if err != nil {
		return nil, nil, err
	}
	return resp, &ServerRegistrationState{username: username, inner: inner, created: s.now()}, nil
}

func (s *Server) sealRecord(op, username string, st *ServerRegistrationState, upload *RegistrationUpload) (*repository.OpaqueRecord, error) {
	if st == nil || upload == nil {
		return nil, types.New(types.CodeClient, op, "missing state")
	}
	if st.username != username {
		return nil, types.New(types.CodeClient, op, "state belongs to another username")
	}
	if !st.used.CompareAndSwap(false, true) {
		return nil, types.New(types.CodeClient, op, "registration state already used")
	}
	if s.now().Sub(st.created) > s.stateTTL {
		return nil, types.New(types.CodeClient, op, "registration state expired")
	}
	raw, err := st.inner.finish(upload.Message)
	if err != nil {
		return nil, err
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	envelope := raw
	if s.box != nil {
		if envelope, err = s.box.Seal(raw, recordAAD(username, salt)); err != nil {
			return nil, types.Wrap(types.CodeServer, op, err)
		}
	}
	now := s.now().UTC()
	return &repository.OpaqueRecord{
		Username:  username,
		Backend:   s.backend.Name(),
		Envelope:  envelope,
		Salt:      salt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// StoreRegistration persiste el registro y crea la identidad. Es la única
// vía de alta; el login nunca reescribe el registro.
func (s *Server) StoreRegistration(ctx context.Context, username string, st *ServerRegistrationState, upload *RegistrationUpload, userID string) (err error) {
	const op = "store_registration"
	defer observe(op, time.Now())
	defer func() { outcome("registration", err) }()

	if userID == "" {
		return types.New(types.CodeClient, op, "user id required")
	}
	rec, err := s.sealRecord(op, username, st, upload)
	if err != nil {
		return err
	}
	rec.UserID = userID
	user := &repository.User{ID: userID, Username: username, ExportKeyHash: upload.ExportKeyHash, CreatedAt: rec.CreatedAt}
	if err := s.users.Create(ctx, user, rec); err != nil {
		if repository.IsConflict(err) {
			return types.New(types.CodeClient, op, "username not available")
		}
		return types.Wrap(types.CodeServer, op, err)
	}
	s.log.Info("user registered", logger.UserID(userID))
	_, _ = s.audit.LogEvent(ctx, userID, audit.EventUserRegistered, map[string]any{"backend": rec.Backend})
	return nil
}

// ResetRegistration reemplaza el registro de un usuario existente (account reset).
func (s *Server) ResetRegistration(ctx context.Context, username string, st *ServerRegistrationState, upload *RegistrationUpload) error {
	const op = "reset_registration"
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if repository.IsNotFound(err) {
			return types.New(types.CodeNotFound, op, "user not found")
		}
		return types.Wrap(types.CodeServer, op, err)
	}
	rec, err := s.sealRecord(op, username, st, upload)
	if err != nil {
		return err
	}
	rec.UserID = user.ID
	if err := s.users.ResetRecord(ctx, username, rec); err != nil {
		return types.Wrap(types.CodeServer, op, err)
	}
	_, _ = s.audit.LogEvent(ctx, user.ID, audit.EventRegistrationReset, nil)
	return nil
}

// ─── Autenticación ───

func (s *Server) openRecord(ctx context.Context, username string) (record []byte, user *repository.User, err error) {
	rec, err := s.users.GetRecord(ctx, username)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	if rec.Backend != s.backend.Name() {
		return nil, nil, errors.New("record was created by backend " + rec.Backend)
	}
	record = rec.Envelope
	if s.box != nil {
		if record, err = s.box.Open(rec.Envelope, recordAAD(username, rec.Salt)); err != nil {
			return nil, nil, err
		}
	}
	if user, err = s.users.GetByID(ctx, rec.UserID); err != nil {
		return nil, nil, err
	}
	return record, user, nil
}

// ProcessAuthentication responde KE2. Un username inexistente recibe una
// respuesta del mismo tamaño construida con un registro falso.
func (s *Server) ProcessAuthentication(ctx context.Context, username string, ke1 []byte) ([]byte, *ServerAuthState, error) {
	const op = "process_authentication"
	defer observe(op, time.Now())
	if err := validUsername(op, username); err != nil {
		return nil, nil, err
	}
	record, user, err := s.openRecord(ctx, username)
	if err != nil {
		s.log.Error("open record failed", logger.Op(op), logger.Err(err))
		return nil, nil, types.Wrap(types.CodeServer, op, err)
	}
	ke2, inner, err := s.backend.processAuthentication(username, ke1, record)
	if err != nil {
		return nil, nil, err
	}
	st := &ServerAuthState{username: username, inner: inner, created: s.now()}
	if user != nil {
		st.userID, st.exportKeyHash = user.ID, user.ExportKeyHash
	}
	st.ticket = s.gate.Begin(username)
	return ke2, st, nil
}

// VerifyAuthentication valida KE3. Sólo el intento vigente del username
// puede terminar; los reemplazados o vencidos fallan con INVALID_CREDENTIALS.
func (s *Server) VerifyAuthentication(ctx context.Context, st *ServerAuthState, ke3 []byte) (res *AuthResult, err error) {
	const op = "verify_authentication"
	defer observe(op, time.Now())
	defer func() { outcome("authentication", err) }()

	if st == nil {
		return nil, types.New(types.CodeClient, op, "missing state")
	}
	if !st.used.CompareAndSwap(false, true) {
		return nil, types.New(types.CodeClient, op, "authentication state already used")
	}

	fail := func(reason string, cause error) error {
		s.gate.Release(st.username, st.ticket)
		subject := st.userID
		if subject == "" {
			subject = SystemSubject
		}
		_, _ = s.audit.LogEvent(ctx, subject, audit.EventLoginFailed, map[string]any{"reason": reason})
		s.log.Info("login rejected", logger.UserID(st.userID), logger.String("reason", reason))
		if cause != nil && types.CodeOf(cause) != types.CodeInvalidCredentials {
			return cause
		}
		// mensaje genérico; la causa precisa queda en audit
		return types.New(types.CodeInvalidCredentials, op, "invalid credentials")
	}

	if s.now().Sub(st.created) > s.stateTTL {
		return nil, fail("state_expired", nil)
	}
	sessionKey, err := st.inner.finish(ke3)
	if err != nil {
		reason := "verification_failed"
		if st.userID == "" {
			reason = "unknown_user"
		}
		return nil, fail(reason, err)
	}
	if st.userID == "" {
		return nil, fail("unknown_user", nil)
	}
	if !s.gate.Commit(st.username, st.ticket) {
		return nil, fail("superseded", nil)
	}

	_, _ = s.audit.LogEvent(ctx, st.userID, audit.EventLoginSucceeded, map[string]any{"backend": s.backend.Name()})
	return &AuthResult{SessionKey: sessionKey, UserID: st.userID, ExportKeyHash: st.exportKeyHash}, nil
}

// ─── Intentos indexados (transporte HTTP) ───

// BeginRegistration es ProcessRegistration guardando el estado bajo un attempt id.
func (s *Server) BeginRegistration(ctx context.Context, username string, request []byte) (string, []byte, error) {
	resp, st, err := s.ProcessRegistration(ctx, username, request)
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	s.pending.Set("reg:"+id, st, s.stateTTL)
	return id, resp, nil
}

// FinishRegistration completa el alta del attempt id y devuelve el user id nuevo.
func (s *Server) FinishRegistration(ctx context.Context, attemptID string, upload *RegistrationUpload) (string, error) {
	st, ok := s.take("reg:" + attemptID).(*ServerRegistrationState)
	if !ok {
		return "", types.New(types.CodeClient, "store_registration", "unknown or expired attempt")
	}
	userID := uuid.NewString()
	if err := s.StoreRegistration(ctx, st.username, st, upload, userID); err != nil {
		return "", err
	}
	return userID, nil
}

// BeginLogin es ProcessAuthentication guardando el estado bajo un attempt id.
func (s *Server) BeginLogin(ctx context.Context, username string, ke1 []byte) (string, []byte, error) {
	ke2, st, err := s.ProcessAuthentication(ctx, username, ke1)
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	s.pending.Set("auth:"+id, st, s.stateTTL)
	return id, ke2, nil
}

// FinishLogin verifica KE3 para el attempt id. El estado se consume aunque falle.
func (s *Server) FinishLogin(ctx context.Context, attemptID string, ke3 []byte) (*AuthResult, error) {
	st, ok := s.take("auth:" + attemptID).(*ServerAuthState)
	if !ok {
		outcome("authentication", types.E(types.CodeInvalidCredentials))
		return nil, types.New(types.CodeInvalidCredentials, "verify_authentication", "invalid credentials")
	}
	return s.VerifyAuthentication(ctx, st, ke3)
}

func (s *Server) take(key string) any {
	v, ok := s.pending.Get(key)
	if !ok {
		return nil
	}
	s.pending.Delete(key)
	return v
}
