// Package recovery implementa las tres vías de recuperación de cuenta
// (frase BIP-39, shares de Shamir y código de emergencia), todas derivadas
// de un único secreto raíz generado en Setup. El server guarda sólo un
// verificador del secreto y el hash del código de emergencia.
package recovery

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/email"
	"github.com/dropDatabas3/vaultcore/internal/metrics"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
	"github.com/dropDatabas3/vaultcore/internal/rate"
	"github.com/dropDatabas3/vaultcore/internal/security/password"
	"github.com/dropDatabas3/vaultcore/internal/session"
)

const secretSize = 32

// Vías de recuperación.
const (
	MethodMnemonic  = "mnemonic"
	MethodShares    = "shares"
	MethodEmergency = "emergency"
)

// ValidationLevel define qué vías están habilitadas para la cuenta.
type ValidationLevel int

const (
	LevelBasic     ValidationLevel = iota + 1 // sólo frase
	LevelStandard                             // frase + shares
	LevelEnhanced                             // frase + shares + código de emergencia
	LevelEmergency                            // como enhanced, con demora obligatoria para el código
)

// emergencyLevelDelay es la demora mínima del código en LevelEmergency.
const emergencyLevelDelay = 24 * time.Hour

func (l ValidationLevel) Valid() bool { return l >= LevelBasic && l <= LevelEmergency }

func (l ValidationLevel) allows(method string) bool {
	switch method {
	case MethodMnemonic:
		return true
	case MethodShares:
		return l >= LevelStandard
	case MethodEmergency:
		return l >= LevelEnhanced
	}
	return false
}

func (l ValidationLevel) String() string {
	switch l {
	case LevelBasic:
		return "basic"
	case LevelStandard:
		return "standard"
	case LevelEnhanced:
		return "enhanced"
	case LevelEmergency:
		return "emergency"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseValidationLevel acepta el nombre del nivel ("basic", "standard"...).
func ParseValidationLevel(s string) (ValidationLevel, error) {
	for l := LevelBasic; l <= LevelEmergency; l++ {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, types.Newf(types.CodeClient, "parse_validation_level", "unknown level %q", s)
}

// SessionIssuer es lo que recovery necesita del session manager.
type SessionIssuer interface {
	CreateSession(ctx context.Context, userID, method string, opts session.CreateOptions) (*session.Session, error)
}

type Config struct {
	MaxAttempts int
	Window      time.Duration
	// Throttle reemplaza al limitador sobre el store (ej: RedisLimiter).
	Throttle rate.ResettableLimiter

	EmergencyTTL        time.Duration
	EmergencyMinDelay   time.Duration
	EmergencySessionTTL time.Duration
	RecoverySessionTTL  time.Duration
	DefaultLevel        ValidationLevel
	HashParams          password.Params

	Sessions SessionIssuer
	Mailer   email.Sender
	Audit    audit.Recorder
	Now      func() time.Time
}

// Service orquesta setup y las tres vías de recuperación.
type Service struct {
	repo     repository.RecoveryRepository
	throttle rate.ResettableLimiter
	cfg      Config
	audit    audit.Recorder
	log      *zap.Logger
}

// NewService arma el servicio. Sin cfg.Throttle, el throttling por cuenta
// usa el ThrottleRepository del store, que persiste entre reinicios.
func NewService(repo repository.RecoveryRepository, throttle repository.ThrottleRepository, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.EmergencyTTL <= 0 {
		cfg.EmergencyTTL = 72 * time.Hour
	}
	if cfg.EmergencySessionTTL <= 0 {
		cfg.EmergencySessionTTL = 15 * time.Minute
	}
	if cfg.HashParams == (password.Params{}) {
		cfg.HashParams = password.Default
	}
	if !cfg.DefaultLevel.Valid() {
		cfg.DefaultLevel = LevelEnhanced
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{repo: repo, cfg: cfg, audit: cfg.Audit, log: logger.Named("recovery")}
	s.throttle = cfg.Throttle
	if s.throttle == nil {
		sl := rate.NewStoreLimiter(throttle, "recovery:", cfg.MaxAttempts, cfg.Window)
		sl.Now = cfg.Now
		s.throttle = sl
	}
	return s
}

// Kit es lo que el usuario recibe una sola vez en Setup. Nada de esto se
// persiste en claro.
type Kit struct {
	SetID              string       `json:"set_id"`
	Phrase             string       `json:"phrase"`
	Shares             []string     `json:"shares"`
	Threshold          int          `json:"threshold"`
	EmergencyCode      string       `json:"emergency_code"`
	EmergencyExpiresAt time.Time    `json:"emergency_expires_at"`
	Level              string       `json:"level"`
	Backups            []BackupInfo `json:"backups,omitempty"`
}

// Setup genera el secreto raíz y deriva de él la frase, las shares (t de n)
// y el código de emergencia. Reemplaza cualquier material previo; los
// backups del set anterior dejan de poder abrirse y se borran. Las claves en
// backups quedan selladas bajo el secreto nuevo.
func (s *Service) Setup(ctx context.Context, userID string, t, n int, backups ...BackupInput) (*Kit, error) {
	const op = "recovery_setup"
	if userID == "" {
		return nil, types.New(types.CodeClient, op, "user id required")
	}
	if len(backups) > maxBackupsPerUser {
		return nil, types.Newf(types.CodeClient, op, "at most %d backups per account", maxBackupsPerUser)
	}
	for _, in := range backups {
		if err := validateBackupInput(op, in); err != nil {
			return nil, err
		}
	}
	secret := make([]byte, secretSize)
	defer clear(secret)
	if _, err := rand.Read(secret); err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}

	shares, err := CreateShares(secret, t, n)
	if err != nil {
		return nil, err
	}
	setID := shares[0].SetID.String()
	phrase, err := phraseFromSecret(secret)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	code, err := deriveEmergencyCode(secret, setID)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	codeHash, err := password.Hash(s.cfg.HashParams, normalizeCode(code))
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}

	now := s.cfg.Now().UTC()
	exp := now.Add(s.cfg.EmergencyTTL)
	level := s.cfg.DefaultLevel
	if cur, err := s.repo.Get(ctx, userID); err == nil {
		level = ValidationLevel(cur.ValidationLevel)
	}
	m := &repository.RecoveryMaterial{
		UserID:             userID,
		SetID:              setID,
		ValidationLevel:    int(level),
		Verifier:           verifier(secret, userID),
		Threshold:          t,
		ShareCount:         n,
		EmergencyCodeHash:  codeHash,
		EmergencyIssuedAt:  &now,
		EmergencyExpiresAt: &exp,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Put(ctx, m); err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	if n, err := s.repo.PurgeBackups(ctx, userID, setID); err != nil {
		s.log.Warn("stale backups not purged", logger.UserID(userID), logger.Err(err))
	} else if n > 0 {
		s.log.Info("stale backups purged", logger.UserID(userID), logger.Int("count", n))
	}

	kit := &Kit{
		SetID:              setID,
		Phrase:             phrase,
		Threshold:          t,
		EmergencyCode:      code,
		EmergencyExpiresAt: exp,
		Level:              level.String(),
	}
	for _, sh := range shares {
		kit.Shares = append(kit.Shares, sh.String())
	}
	for _, in := range backups {
		info, err := s.sealBackup(ctx, op, userID, setID, secret, in)
		if err != nil {
			return nil, err
		}
		kit.Backups = append(kit.Backups, *info)
	}
	s.log.Info("recovery material created", logger.UserID(userID), logger.Int("threshold", t), logger.Int("share_count", n))
	_, _ = s.audit.LogEvent(ctx, userID, audit.EventRecoverySetup, map[string]any{
		"threshold": t, "share_count": n, "level": level.String(),
	})
	return kit, nil
}

// verifier es HMAC(secreto, userID): el secreto tiene 256 bits, no hace
// falta un KDF lento.
func verifier(secret []byte, userID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte("vaultcore/recovery-verifier/v1\x00"))
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

func verifierMatches(secret []byte, userID, want string) bool {
	got := verifier(secret, userID)
	return hmac.Equal([]byte(got), []byte(want))
}

// SetValidationLevel cambia las vías habilitadas de la cuenta.
func (s *Service) SetValidationLevel(ctx context.Context, userID string, level ValidationLevel) error {
	const op = "set_validation_level"
	if !level.Valid() {
		return types.Newf(types.CodeClient, op, "unknown validation level %d", int(level))
	}
	m, err := s.material(ctx, op, userID)
	if err != nil {
		return err
	}
	m.ValidationLevel = int(level)
	m.UpdatedAt = s.cfg.Now().UTC()
	if err := s.repo.Put(ctx, m); err != nil {
		return types.Wrap(types.CodeServer, op, err)
	}
	return nil
}

// Result de una recuperación exitosa. Secret y Backups quedan vacíos para el
// código de emergencia, que no toca el secreto raíz.
type Result struct {
	UserID     string
	Method     string
	Secret     []byte
	Backups    []RecoveredKey
	Session    *session.Session
	Restricted bool
}

// RecoverWithMnemonic valida la frase y la compara contra el verificador.
func (s *Service) RecoverWithMnemonic(ctx context.Context, userID, phrase string) (*Result, error) {
	const op = "recover_mnemonic"
	m, err := s.begin(ctx, op, userID, MethodMnemonic)
	if err != nil {
		return nil, err
	}
	secret, err := entropyFromPhrase(phrase)
	if err != nil {
		return nil, s.fail(ctx, userID, MethodMnemonic, string(types.CodeOf(err)), err)
	}
	if !verifierMatches(secret, userID, m.Verifier) {
		clear(secret)
		return nil, s.fail(ctx, userID, MethodMnemonic, "verifier_mismatch",
			types.New(types.CodeInvalidCredentials, op, "recovery phrase does not match"))
	}
	return s.succeedWithBackups(ctx, op, userID, MethodMnemonic, m.SetID, secret)
}

// RecoverWithShares reconstruye el secreto y lo compara contra el
// verificador. Shares de un set anterior se rechazan.
func (s *Service) RecoverWithShares(ctx context.Context, userID string, shares []Share) (*Result, error) {
	const op = "recover_shares"
	m, err := s.begin(ctx, op, userID, MethodShares)
	if err != nil {
		return nil, err
	}
	// el umbral viaja en la share; el que manda es el registrado en Setup
	for _, sh := range shares {
		if sh.Threshold != m.Threshold {
			return nil, s.fail(ctx, userID, MethodShares, "threshold_mismatch",
				types.Newf(types.CodeInsufficientShares, op, "shares carry threshold %d, account requires %d", sh.Threshold, m.Threshold))
		}
	}
	secret, err := ReconstructSecret(shares)
	if err != nil {
		return nil, s.fail(ctx, userID, MethodShares, string(types.CodeOf(err)), err)
	}
	if shares[0].SetID.String() != m.SetID {
		clear(secret)
		return nil, s.fail(ctx, userID, MethodShares, "superseded_share_set",
			types.New(types.CodeMixedShareSets, op, "shares do not belong to the current set"))
	}
	if !verifierMatches(secret, userID, m.Verifier) {
		clear(secret)
		return nil, s.fail(ctx, userID, MethodShares, "verifier_mismatch",
			types.New(types.CodeInvalidCredentials, op, "shares do not reconstruct the recovery secret"))
	}
	return s.succeedWithBackups(ctx, op, userID, MethodShares, m.SetID, secret)
}

// RecoverWithEmergencyCode canjea el código (una sola vez) por una sesión
// restringida que obliga a completar la recuperación.
func (s *Service) RecoverWithEmergencyCode(ctx context.Context, userID, code string) (*Result, error) {
	const op = "recover_emergency"
	m, err := s.begin(ctx, op, userID, MethodEmergency)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now().UTC()
	switch {
	case m.EmergencyCodeHash == "":
		return nil, s.fail(ctx, userID, MethodEmergency, "no_code",
			types.New(types.CodeInvalidCredentials, op, "emergency code invalid"))
	case m.EmergencyUsedAt != nil:
		return nil, s.fail(ctx, userID, MethodEmergency, "already_used",
			types.New(types.CodeInvalidCredentials, op, "emergency code invalid"))
	case m.EmergencyExpiresAt != nil && now.After(*m.EmergencyExpiresAt):
		return nil, s.fail(ctx, userID, MethodEmergency, "expired",
			types.New(types.CodeInvalidCredentials, op, "emergency code invalid"))
	}
	ok, err := password.Verify(normalizeCode(code), m.EmergencyCodeHash)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	if !ok {
		return nil, s.fail(ctx, userID, MethodEmergency, "code_mismatch",
			types.New(types.CodeInvalidCredentials, op, "emergency code invalid"))
	}
	if delay := s.emergencyDelay(ValidationLevel(m.ValidationLevel)); delay > 0 && m.EmergencyIssuedAt != nil {
		if unlock := m.EmergencyIssuedAt.Add(delay); now.Before(unlock) {
			s.log.Info("emergency code redeemed before delay", logger.UserID(userID), logger.Duration(unlock.Sub(now)))
			return nil, types.Newf(types.CodeRecoveryUnavailable, op, "emergency code usable after %s", unlock.Format(time.RFC3339))
		}
	}
	if err := s.repo.ConsumeEmergencyCode(ctx, userID, now); err != nil {
		if repository.IsPreconditionFailed(err) {
			return nil, s.fail(ctx, userID, MethodEmergency, "already_used",
				types.New(types.CodeInvalidCredentials, op, "emergency code invalid"))
		}
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	return s.succeed(ctx, op, userID, MethodEmergency, nil)
}

func (s *Service) emergencyDelay(level ValidationLevel) time.Duration {
	d := s.cfg.EmergencyMinDelay
	if level == LevelEmergency && d < emergencyLevelDelay {
		d = emergencyLevelDelay
	}
	return d
}

// EmergencyIssue describe un código recién emitido. Code queda vacío si se
// entregó por mail.
type EmergencyIssue struct {
	Code      string    `json:"code,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
	Delivered bool      `json:"delivered"`
}

// IssueEmergencyCode rota el código de emergencia. Con recipient y Mailer
// configurados lo envía por mail y no lo devuelve.
func (s *Service) IssueEmergencyCode(ctx context.Context, userID, recipient string) (*EmergencyIssue, error) {
	const op = "issue_emergency_code"
	m, err := s.material(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if !ValidationLevel(m.ValidationLevel).allows(MethodEmergency) {
		return nil, types.New(types.CodeRecoveryUnavailable, op, "emergency codes disabled for this account")
	}
	code, err := randomEmergencyCode()
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	hash, err := password.Hash(s.cfg.HashParams, normalizeCode(code))
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	now := s.cfg.Now().UTC()
	exp := now.Add(s.cfg.EmergencyTTL)
	if err := s.repo.SetEmergencyCode(ctx, userID, hash, now, exp); err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}

	out := &EmergencyIssue{Code: code, ExpiresAt: exp}
	if recipient != "" && s.cfg.Mailer != nil {
		subject, body, err := email.RenderEmergencyCode(code, exp)
		if err != nil {
			return nil, types.Wrap(types.CodeServer, op, err)
		}
		if err := s.cfg.Mailer.Send([]string{recipient}, subject, body, ""); err != nil {
			return nil, types.Wrap(types.CodeNetwork, op, err)
		}
		out.Code, out.Delivered = "", true
	}
	s.log.Info("emergency code issued", logger.UserID(userID), logger.Bool("delivered", out.Delivered))
	_, _ = s.audit.LogEvent(ctx, userID, audit.EventEmergencyIssued, map[string]any{"delivered": out.Delivered})
	return out, nil
}

// CheckRollback valida la seguridad de volver a target y audita los bloqueos.
func (s *Service) CheckRollback(ctx context.Context, userID string, current VersionedKey, target KeyVersion, migration *Migration) RollbackDecision {
	d := ValidateRollbackSafety(current, target, migration, s.cfg.Now())
	if !d.Safe {
		s.log.Warn("rollback blocked", logger.UserID(userID), zap.Strings("reasons", d.Reasons))
		_, _ = s.audit.LogEvent(ctx, userID, audit.EventRollbackBlocked, map[string]any{
			"target_version": target.String(), "reasons": d.Reasons,
		})
	}
	return d
}

// Status resume el material de recuperación sin exponer nada sensible.
type Status struct {
	SetID            string     `json:"set_id"`
	Level            string     `json:"level"`
	Threshold        int        `json:"threshold"`
	ShareCount       int        `json:"share_count"`
	EmergencyActive  bool       `json:"emergency_active"`
	EmergencyExpires *time.Time `json:"emergency_expires_at,omitempty"`
	Backups          int        `json:"backups"`

	// Estado del throttle por cuenta en la ventana actual.
	Attempts          int64 `json:"attempts"`
	MaxAttempts       int   `json:"max_attempts"`
	Locked            bool  `json:"locked"`
	RetryAfterSeconds int64 `json:"retry_after_seconds,omitempty"`
}

func (s *Service) Status(ctx context.Context, userID string) (*Status, error) {
	m, err := s.material(ctx, "recovery_status", userID)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Now()
	active := m.EmergencyCodeHash != "" && m.EmergencyUsedAt == nil &&
		(m.EmergencyExpiresAt == nil || now.Before(*m.EmergencyExpiresAt))
	st := &Status{
		SetID:            m.SetID,
		Level:            ValidationLevel(m.ValidationLevel).String(),
		Threshold:        m.Threshold,
		ShareCount:       m.ShareCount,
		EmergencyActive:  active,
		EmergencyExpires: m.EmergencyExpiresAt,
		MaxAttempts:      s.cfg.MaxAttempts,
	}
	backups, err := s.repo.ListBackups(ctx, userID)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, "recovery_status", err)
	}
	for _, b := range backups {
		if b.SetID == m.SetID {
			st.Backups++
		}
	}
	if in, ok := s.throttle.(rate.InspectableLimiter); ok {
		res, err := in.Peek(ctx, userID)
		if err != nil {
			return nil, types.Wrap(types.CodeServer, "recovery_status", err)
		}
		st.Attempts = res.CurrentHits
		st.Locked = !res.Allowed
		st.RetryAfterSeconds = int64(res.RetryAfter.Seconds())
	}
	return st, nil
}

// ResetAttempts limpia el throttle de la cuenta. Es una operación de
// administración: queda auditada.
func (s *Service) ResetAttempts(ctx context.Context, userID string) error {
	const op = "recovery_reset_attempts"
	if userID == "" {
		return types.New(types.CodeClient, op, "user id required")
	}
	if err := s.throttle.Reset(ctx, userID); err != nil {
		return types.Wrap(types.CodeServer, op, err)
	}
	s.log.Warn("recovery throttle reset", logger.UserID(userID))
	_, _ = s.audit.LogEvent(ctx, userID, audit.EventThrottleReset, nil)
	return nil
}

// ─── internos ───

const msgNoMaterial = "no recovery material"

// IsNoMaterial indica que la cuenta nunca configuró recuperación.
func IsNoMaterial(err error) bool {
	var te *types.Error
	return errors.As(err, &te) && te.Code == types.CodeRecoveryUnavailable && te.Msg == msgNoMaterial
}

func (s *Service) material(ctx context.Context, op, userID string) (*repository.RecoveryMaterial, error) {
	if userID == "" {
		return nil, types.New(types.CodeClient, op, "user id required")
	}
	m, err := s.repo.Get(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, types.New(types.CodeRecoveryUnavailable, op, msgNoMaterial)
		}
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	return m, nil
}

// begin cuenta el intento contra el límite por cuenta y chequea que la vía
// esté habilitada. Todo intento cuenta; el éxito resetea el contador.
func (s *Service) begin(ctx context.Context, op, userID, method string) (*repository.RecoveryMaterial, error) {
	if userID == "" {
		return nil, types.New(types.CodeClient, op, "user id required")
	}
	res, err := s.throttle.Allow(ctx, userID)
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	if !res.Allowed {
		metrics.RecoveryAttempts.WithLabelValues(method, "throttled").Inc()
		s.log.Warn("recovery throttled", logger.UserID(userID), logger.Flow(method), logger.Duration(res.RetryAfter))
		_, _ = s.audit.LogEvent(ctx, userID, audit.EventRecoveryThrottled, map[string]any{
			"method": method, "attempts": res.CurrentHits,
		})
		return nil, types.Newf(types.CodeRateLimited, op, "too many recovery attempts, retry in %s", res.RetryAfter.Round(time.Second))
	}
	m, err := s.material(ctx, op, userID)
	if err != nil {
		return nil, err
	}
	if !ValidationLevel(m.ValidationLevel).allows(method) {
		return nil, s.fail(ctx, userID, method, "method_disabled",
			types.Newf(types.CodeRecoveryUnavailable, op, "%s recovery disabled for this account", method))
	}
	return m, nil
}

func (s *Service) fail(ctx context.Context, userID, method, reason string, err error) error {
	metrics.RecoveryAttempts.WithLabelValues(method, "failed").Inc()
	s.log.Info("recovery attempt failed", logger.UserID(userID), logger.Flow(method), logger.String("reason", reason))
	_, _ = s.audit.LogEvent(ctx, userID, audit.EventRecoveryFailed, map[string]any{"method": method, "reason": reason})
	return err
}

func (s *Service) succeedWithBackups(ctx context.Context, op, userID, method, setID string, secret []byte) (*Result, error) {
	keys, err := s.openBackups(ctx, op, userID, setID, secret)
	if err != nil {
		clear(secret)
		return nil, err
	}
	res, err := s.succeed(ctx, op, userID, method, secret)
	if err != nil {
		return nil, err
	}
	res.Backups = keys
	return res, nil
}

func (s *Service) succeed(ctx context.Context, op, userID, method string, secret []byte) (*Result, error) {
	if err := s.throttle.Reset(ctx, userID); err != nil {
		s.log.Warn("throttle reset failed", logger.UserID(userID), logger.Err(err))
	}
	res := &Result{UserID: userID, Method: method, Secret: secret}

	event := audit.EventRecoverySucceeded
	opts := session.CreateOptions{TTL: s.cfg.RecoverySessionTTL}
	sessMethod := session.MethodRecovery
	if method == MethodEmergency {
		event = audit.EventEmergencyRedeemed
		res.Restricted = true
		sessMethod = session.MethodEmergency
		opts = session.CreateOptions{
			TTL:          s.cfg.EmergencySessionTTL,
			Capabilities: []string{session.CapLimitedOperations, session.CapRecoveryRequired},
		}
	}
	if s.cfg.Sessions != nil {
		sess, err := s.cfg.Sessions.CreateSession(ctx, userID, sessMethod, opts)
		if err != nil {
			return nil, err
		}
		res.Session = sess
	}
	metrics.RecoveryAttempts.WithLabelValues(method, "succeeded").Inc()
	s.log.Info("recovery succeeded", logger.UserID(userID), logger.Flow(method), logger.Op(op))
	_, _ = s.audit.LogEvent(ctx, userID, event, map[string]any{"method": method, "restricted": res.Restricted})
	return res, nil
}
