package credential

import (
	"context"
	"crypto/rand"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/observability/logger"
)

const maxCounterRetries = 3

// Config agrupa las dependencias del Service.
type Config struct {
	// Authenticators en orden de preferencia ante empate de capacidades.
	Authenticators []PlatformAuthenticator
	// WebAuthn habilita las ceremonias de navegador por HTTP. Opcional.
	WebAuthn *WebAuthn
	Audit    audit.Recorder
	Now      func() time.Time
}

// Service registra y verifica credenciales de plataforma.
type Service struct {
	repo           repository.CredentialRepository
	authenticators []PlatformAuthenticator
	webauthn       *WebAuthn
	audit          audit.Recorder
	now            func() time.Time
	log            *zap.Logger
}

func NewService(repo repository.CredentialRepository, cfg Config) *Service {
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		repo:           repo,
		authenticators: cfg.Authenticators,
		webauthn:       cfg.WebAuthn,
		audit:          cfg.Audit,
		now:            cfg.Now,
		log:            logger.Named("credential"),
	}
}

// Select elige el autenticador que cubre hint.Require con más capacidades.
// Nunca mira el nombre de la plataforma.
func (s *Service) Select(hint PlatformHint) (PlatformAuthenticator, error) {
	var (
		best  PlatformAuthenticator
		score = -1
	)
	for _, a := range s.authenticators {
		caps := a.Capabilities()
		if !caps.Satisfies(hint.Require) {
			continue
		}
		if sc := caps.score(); sc > score {
			best, score = a, sc
		}
	}
	if best == nil {
		return nil, ErrNotSupported
	}
	return best, nil
}

func challenge() ([]byte, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	return b, err
}

// RegisterCredential crea una credencial en el autenticador elegido por
// capacidades y la persiste. Sin user verification se rechaza.
func (s *Service) RegisterCredential(ctx context.Context, userID string, hint PlatformHint) (*repository.Credential, error) {
	const op = "register_credential"
	if userID == "" {
		return nil, types.New(types.CodeClient, op, "user id required")
	}
	a, err := s.Select(hint)
	if err != nil {
		return nil, err
	}
	ch, err := challenge()
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	att, err := a.Create(ctx, CreationOptions{UserID: userID, UserName: userID, Challenge: ch, RequireUserVerification: true})
	if err != nil {
		return nil, passthrough(op, err)
	}
	if len(att.Signature) > 0 {
		if err := verifySignature(att.PublicKey, creationMessage(ch, att.CredentialID, userID), att.Signature); err != nil {
			return nil, s.reject(ctx, op, userID, "bad_attestation_signature", err)
		}
	} else if isPKIX(att.PublicKey) {
		return nil, s.reject(ctx, op, userID, "missing_attestation_signature", nil)
	}
	return s.store(ctx, op, userID, a.Class(), att)
}

// AuthenticateWithCredential pide una aserción al primer autenticador que
// tenga alguna de las credenciales permitidas (vacío = cualquiera).
func (s *Service) AuthenticateWithCredential(ctx context.Context, allowed []string) (*AssertionResult, error) {
	const op = "authenticate_credential"
	for _, a := range s.authenticators {
		ch, err := challenge()
		if err != nil {
			return nil, types.Wrap(types.CodeServer, op, err)
		}
		as, err := a.Assert(ctx, AssertionOptions{Challenge: ch, AllowCredentials: allowed, RequireUserVerification: true})
		if err != nil {
			if types.HasCode(err, types.CodeNotSupported) {
				continue
			}
			return nil, passthrough(op, err)
		}
		var msg []byte
		if len(as.SignedData) == 0 {
			msg = assertionMessage(ch, as.CredentialID, as.SignCount, as.UserVerified)
		}
		return s.verifyAssertion(ctx, op, as, msg, allowed, a.Capabilities())
	}
	return nil, ErrNotSupported
}

// ─── Ceremonias WebAuthn por HTTP ───

func (s *Service) requireWebAuthn(op string) error {
	if s.webauthn == nil {
		return types.New(types.CodeNotSupported, op, "webauthn not configured")
	}
	return nil
}

func (s *Service) BeginPasskeyRegistration(ctx context.Context, userID, userName string) (string, []byte, error) {
	if err := s.requireWebAuthn("begin_passkey_registration"); err != nil {
		return "", nil, err
	}
	return s.webauthn.BeginRegistration(ctx, userID, userName)
}

func (s *Service) FinishPasskeyRegistration(ctx context.Context, ceremonyID string, response []byte) (*repository.Credential, error) {
	const op = "finish_passkey_registration"
	if err := s.requireWebAuthn(op); err != nil {
		return nil, err
	}
	att, userID, err := s.webauthn.FinishRegistration(ctx, ceremonyID, response)
	if err != nil {
		if types.HasCode(err, types.CodeVerificationFailed) {
			return nil, s.reject(ctx, op, userID, "webauthn_registration_invalid", err)
		}
		return nil, err
	}
	return s.store(ctx, op, userID, repository.PlatformBrowser, att)
}

func (s *Service) BeginPasskeyLogin(ctx context.Context, allowed []string) (string, []byte, error) {
	if err := s.requireWebAuthn("begin_passkey_login"); err != nil {
		return "", nil, err
	}
	return s.webauthn.BeginLogin(ctx, allowed)
}

func (s *Service) FinishPasskeyLogin(ctx context.Context, ceremonyID string, response []byte) (*AssertionResult, error) {
	const op = "finish_passkey_login"
	if err := s.requireWebAuthn(op); err != nil {
		return nil, err
	}
	as, err := s.webauthn.FinishLogin(ctx, ceremonyID, response)
	if err != nil {
		if types.HasCode(err, types.CodeVerificationFailed) {
			return nil, s.reject(ctx, op, "", "webauthn_assertion_invalid", err)
		}
		return nil, err
	}
	return s.verifyAssertion(ctx, op, as, nil, nil, PlatformCapabilities{WebAuthn: true, Passkeys: true})
}

// ─── internos ───

func (s *Service) store(ctx context.Context, op, userID string, class repository.PlatformClass, att *Attestation) (*repository.Credential, error) {
	if !att.UserVerified {
		return nil, s.reject(ctx, op, userID, "user_not_verified", nil)
	}
	if len(att.CredentialID) == 0 || len(att.PublicKey) == 0 {
		return nil, s.reject(ctx, op, userID, "incomplete_attestation", nil)
	}
	now := s.now().UTC()
	cred := &repository.Credential{
		ID:            EncodeID(att.CredentialID),
		OwnerUserID:   userID,
		PublicKey:     att.PublicKey,
		SignCount:     att.SignCount,
		PlatformClass: class,
		Transports:    att.Transports,
		CreatedAt:     now,
		LastUsedAt:    now,
	}
	if err := s.repo.Create(ctx, cred); err != nil {
		if repository.IsConflict(err) {
			return nil, types.New(types.CodeClient, op, "credential already registered")
		}
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	s.log.Info("credential registered", logger.UserID(userID), logger.CredentialID(cred.ID), logger.Platform(string(class)))
	_, _ = s.audit.LogEvent(ctx, userID, audit.EventCredentialRegistered, map[string]any{
		"credential_id": cred.ID, "platform_class": string(class),
	})
	return cred, nil
}

// verifyAssertion verifica firma, UV y contador. msg es lo firmado por
// autenticadores nativos; nil si la aserción trae su SignedData.
func (s *Service) verifyAssertion(ctx context.Context, op string, as *Assertion, msg []byte, allowed []string, caps PlatformCapabilities) (*AssertionResult, error) {
	id := EncodeID(as.CredentialID)
	if len(allowed) > 0 && !slices.Contains(allowed, id) {
		return nil, s.reject(ctx, op, "", "credential_not_allowed", nil)
	}
	cred, err := s.repo.Get(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, s.reject(ctx, op, "", "unknown_credential", nil)
		}
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	if len(as.UserHandle) > 0 && string(as.UserHandle) != cred.OwnerUserID {
		return nil, s.reject(ctx, op, cred.OwnerUserID, "user_handle_mismatch", nil)
	}
	if !as.UserVerified {
		return nil, s.reject(ctx, op, cred.OwnerUserID, "user_not_verified", nil)
	}
	signed := as.SignedData
	if len(signed) == 0 {
		signed = msg
	}
	if err := verifySignature(cred.PublicKey, signed, as.Signature); err != nil {
		return nil, s.reject(ctx, op, cred.OwnerUserID, "bad_signature", err)
	}
	if err := s.advanceCounter(ctx, op, cred, as.SignCount); err != nil {
		return nil, err
	}

	_, _ = s.audit.LogEvent(ctx, cred.OwnerUserID, audit.EventCredentialAsserted, map[string]any{"credential_id": id})
	return &AssertionResult{
		CredentialID:  id,
		UserID:        cred.OwnerUserID,
		SignCount:     as.SignCount,
		PlatformClass: cred.PlatformClass,
		Capabilities:  caps,
	}, nil
}

// advanceCounter aplica la regla del contador con CAS en el store: debe
// crecer estrictamente, salvo el centinela 0/0 de los autenticadores sin
// contador.
func (s *Service) advanceCounter(ctx context.Context, op string, cred *repository.Credential, presented uint32) error {
	stored := cred.SignCount
	for i := 0; i < maxCounterRetries; i++ {
		counterless := presented == 0 && stored == 0
		if !counterless && presented <= stored {
			return s.replay(ctx, op, cred, stored, presented)
		}
		err := s.repo.UpdateCounter(ctx, cred.ID, stored, presented, s.now().UTC())
		if err == nil {
			return nil
		}
		if !repository.IsPreconditionFailed(err) {
			return types.Wrap(types.CodeServer, op, err)
		}
		// otra aserción avanzó el contador en paralelo
		cur, err := s.repo.Get(ctx, cred.ID)
		if err != nil {
			return types.Wrap(types.CodeServer, op, err)
		}
		stored = cur.SignCount
	}
	return s.replay(ctx, op, cred, stored, presented)
}

func (s *Service) replay(ctx context.Context, op string, cred *repository.Credential, stored, presented uint32) error {
	s.log.Warn("signature counter replay suspected",
		logger.UserID(cred.OwnerUserID), logger.CredentialID(cred.ID),
		logger.Int("stored", int(stored)), logger.Int("presented", int(presented)))
	_, _ = s.audit.LogEvent(ctx, cred.OwnerUserID, audit.EventReplaySuspected, map[string]any{
		"credential_id": cred.ID, "stored_counter": stored, "presented_counter": presented,
	})
	return types.Newf(types.CodeReplaySuspected, op, "counter %d does not advance %d", presented, stored)
}

// reject audita la causa precisa y devuelve VERIFICATION_FAILED genérico.
func (s *Service) reject(ctx context.Context, op, userID, reason string, cause error) error {
	subject := userID
	if subject == "" {
		subject = audit.SystemSubject
	}
	s.log.Info("credential rejected", logger.Op(op), logger.UserID(userID), logger.String("reason", reason), logger.Err(cause))
	_, _ = s.audit.LogEvent(ctx, subject, audit.EventCredentialRejected, map[string]any{"reason": reason})
	return types.New(types.CodeVerificationFailed, op, "credential verification failed")
}

// passthrough deja pasar los errores tipados de los autenticadores y
// envuelve el resto como SERVER_ERROR.
func passthrough(op string, err error) error {
	var te *types.Error
	if errors.As(err, &te) {
		return err
	}
	return types.Wrap(types.CodeServer, op, err)
}
