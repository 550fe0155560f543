package credential

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// WebAuthnConfig configura el relying party.
type WebAuthnConfig struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
	// Timeout vence las ceremonias pendientes.
	Timeout time.Duration
}

const (
	ceremonyRegistration = "registration"
	ceremonyLogin        = "login"
)

type ceremony struct {
	kind     string
	userID   string
	userName string
	data     webauthn.SessionData
}

// WebAuthn corre las ceremonias del autenticador de navegador sobre
// go-webauthn. Las SessionData pendientes viven en memoria con TTL.
type WebAuthn struct {
	wa         *webauthn.WebAuthn
	repo       repository.CredentialRepository
	ceremonies *gocache.Cache
	ttl        time.Duration
}

func NewWebAuthn(cfg WebAuthnConfig, repo repository.CredentialRepository) (*WebAuthn, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn: %w", err)
	}
	return &WebAuthn{
		wa:         wa,
		repo:       repo,
		ceremonies: gocache.New(cfg.Timeout, cfg.Timeout),
		ttl:        cfg.Timeout,
	}, nil
}

type webauthnUser struct {
	id          string
	name        string
	credentials []webauthn.Credential
}

func (u *webauthnUser) WebAuthnID() []byte                         { return []byte(u.id) }
func (u *webauthnUser) WebAuthnName() string                       { return u.name }
func (u *webauthnUser) WebAuthnDisplayName() string                { return u.name }
func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// loadUser arma el usuario WebAuthn con sus credenciales COSE guardadas.
func (w *WebAuthn) loadUser(ctx context.Context, userID, name string) (*webauthnUser, error) {
	records, err := w.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	u := &webauthnUser{id: userID, name: name}
	if u.name == "" {
		u.name = userID
	}
	for _, r := range records {
		if isPKIX(r.PublicKey) {
			continue
		}
		id, err := DecodeID(r.ID)
		if err != nil {
			continue
		}
		u.credentials = append(u.credentials, webauthn.Credential{
			ID:            id,
			PublicKey:     r.PublicKey,
			Authenticator: webauthn.Authenticator{SignCount: r.SignCount},
		})
	}
	return u, nil
}

func (w *WebAuthn) put(c *ceremony) string {
	id := uuid.NewString()
	w.ceremonies.Set(id, c, w.ttl)
	return id
}

func (w *WebAuthn) take(id, kind string) (*ceremony, error) {
	v, ok := w.ceremonies.Get(id)
	if !ok {
		return nil, types.New(types.CodeClient, "webauthn", "unknown or expired ceremony")
	}
	w.ceremonies.Delete(id)
	c := v.(*ceremony)
	if c.kind != kind {
		return nil, types.New(types.CodeClient, "webauthn", "ceremony kind mismatch")
	}
	return c, nil
}

// BeginRegistration devuelve el id de ceremonia y las opciones de creación
// (JSON para navigator.credentials.create). Exige user verification y
// credencial residente.
func (w *WebAuthn) BeginRegistration(ctx context.Context, userID, userName string) (string, []byte, error) {
	const op = "webauthn_begin_registration"
	if strings.TrimSpace(userID) == "" {
		return "", nil, types.New(types.CodeClient, op, "user id required")
	}
	u, err := w.loadUser(ctx, userID, userName)
	if err != nil {
		return "", nil, types.Wrap(types.CodeServer, op, err)
	}
	opts := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationRequired,
		}),
	}
	if len(u.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(u.credentials).CredentialDescriptors()))
	}
	creation, data, err := w.wa.BeginRegistration(u, opts...)
	if err != nil {
		return "", nil, types.Wrap(types.CodeServer, op, err)
	}
	options, err := json.Marshal(creation)
	if err != nil {
		return "", nil, types.Wrap(types.CodeServer, op, err)
	}
	return w.put(&ceremony{kind: ceremonyRegistration, userID: userID, userName: u.name, data: *data}), options, nil
}

// FinishRegistration valida la respuesta del navegador y la normaliza.
func (w *WebAuthn) FinishRegistration(ctx context.Context, ceremonyID string, response []byte) (*Attestation, string, error) {
	const op = "webauthn_finish_registration"
	c, err := w.take(ceremonyID, ceremonyRegistration)
	if err != nil {
		return nil, "", err
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return nil, "", types.Wrap(types.CodeClient, op, err)
	}
	u, err := w.loadUser(ctx, c.userID, c.userName)
	if err != nil {
		return nil, "", types.Wrap(types.CodeServer, op, err)
	}
	cred, err := w.wa.CreateCredential(u, c.data, parsed)
	if err != nil {
		return nil, "", types.Wrap(types.CodeVerificationFailed, op, err)
	}
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &Attestation{
		CredentialID: cred.ID,
		PublicKey:    cred.PublicKey,
		SignCount:    cred.Authenticator.SignCount,
		UserVerified: cred.Flags.UserVerified,
		Transports:   transports,
	}, c.userID, nil
}

// BeginLogin abre una ceremonia discoverable, opcionalmente restringida a
// allowed (ids base64url).
func (w *WebAuthn) BeginLogin(ctx context.Context, allowed []string) (string, []byte, error) {
	const op = "webauthn_begin_login"
	opts := []webauthn.LoginOption{webauthn.WithUserVerification(protocol.VerificationRequired)}
	if len(allowed) > 0 {
		descs := make([]protocol.CredentialDescriptor, 0, len(allowed))
		for _, a := range allowed {
			id, err := DecodeID(a)
			if err != nil {
				return "", nil, err
			}
			descs = append(descs, protocol.CredentialDescriptor{Type: protocol.PublicKeyCredentialType, CredentialID: id})
		}
		opts = append(opts, webauthn.WithAllowedCredentials(descs))
	}
	assertion, data, err := w.wa.BeginDiscoverableLogin(opts...)
	if err != nil {
		return "", nil, types.Wrap(types.CodeServer, op, err)
	}
	options, err := json.Marshal(assertion)
	if err != nil {
		return "", nil, types.Wrap(types.CodeServer, op, err)
	}
	return w.put(&ceremony{kind: ceremonyLogin, data: *data}), options, nil
}

// FinishLogin valida la aserción (challenge, origin, firma) y la normaliza.
// El control del contador queda para el Service.
func (w *WebAuthn) FinishLogin(ctx context.Context, ceremonyID string, response []byte) (*Assertion, error) {
	const op = "webauthn_finish_login"
	c, err := w.take(ceremonyID, ceremonyLogin)
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return nil, types.Wrap(types.CodeClient, op, err)
	}
	handler := func(rawID, userHandle []byte) (webauthn.User, error) {
		return w.loadUser(ctx, string(userHandle), "")
	}
	_, cred, err := w.wa.ValidatePasskeyLogin(handler, c.data, parsed)
	if err != nil {
		return nil, types.Wrap(types.CodeVerificationFailed, op, err)
	}

	raw := parsed.Raw.AssertionResponse
	clientHash := sha256.Sum256(raw.ClientDataJSON)
	signed := append(append([]byte(nil), raw.AuthenticatorData...), clientHash[:]...)
	return &Assertion{
		CredentialID: cred.ID,
		UserHandle:   parsed.Response.UserHandle,
		SignCount:    parsed.Response.AuthenticatorData.Counter,
		UserVerified: parsed.Response.AuthenticatorData.Flags.HasUserVerified(),
		SignedData:   signed,
		Signature:    raw.Signature,
	}, nil
}

// BrowserClient es el lado navegador: recibe las opciones JSON y devuelve
// la respuesta JSON de navigator.credentials.create/get. Un rechazo del
// usuario (NotAllowedError) debe volver como ErrUserCancelled.
type BrowserClient interface {
	Create(ctx context.Context, options []byte) ([]byte, error)
	Get(ctx context.Context, options []byte) ([]byte, error)
}

// BrowserAuthenticator es la variante WebAuthn. El challenge lo genera la
// ceremonia, no el Service.
type BrowserAuthenticator struct {
	w      *WebAuthn
	client BrowserClient
	flags  PlatformFlags
}

func NewBrowserAuthenticator(w *WebAuthn, client BrowserClient, flags PlatformFlags) *BrowserAuthenticator {
	flags.WebAuthnAPI = true
	return &BrowserAuthenticator{w: w, client: client, flags: flags}
}

func (b *BrowserAuthenticator) Class() repository.PlatformClass { return repository.PlatformBrowser }

func (b *BrowserAuthenticator) Capabilities() PlatformCapabilities {
	return NormalizeCapabilities(b.flags)
}

func (b *BrowserAuthenticator) Create(ctx context.Context, opts CreationOptions) (*Attestation, error) {
	id, options, err := b.w.BeginRegistration(ctx, opts.UserID, opts.UserName)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Create(ctx, options)
	if err != nil {
		return nil, err
	}
	att, _, err := b.w.FinishRegistration(ctx, id, resp)
	return att, err
}

func (b *BrowserAuthenticator) Assert(ctx context.Context, opts AssertionOptions) (*Assertion, error) {
	id, options, err := b.w.BeginLogin(ctx, opts.AllowCredentials)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Get(ctx, options)
	if err != nil {
		return nil, err
	}
	return b.w.FinishLogin(ctx, id, resp)
}
