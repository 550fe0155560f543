package credential

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/vaultcore/internal/audit"
	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
	"github.com/dropDatabas3/vaultcore/internal/store/adapters/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) LogEvent(_ context.Context, _, eventType string, _ map[string]any) (*repository.AuditEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return &repository.AuditEvent{Type: eventType}, nil
}

func (r *recorder) has(t string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == t {
			return true
		}
	}
	return false
}

var (
	iphone  = PlatformFlags{SecureEnclave: true, UserVerifying: true, BiometryEnrolled: true, ResidentKeys: true}
	android = PlatformFlags{TEE: true, UserVerifying: true, ResidentKeys: true}
)

func TestNormalizeCapabilities(t *testing.T) {
	assert.Equal(t, PlatformCapabilities{Passkeys: true, Biometrics: true, HardwareBacked: true}, NormalizeCapabilities(iphone))
	assert.Equal(t, PlatformCapabilities{Passkeys: true, HardwareBacked: true}, NormalizeCapabilities(android))
	assert.Equal(t, PlatformCapabilities{WebAuthn: true}, NormalizeCapabilities(PlatformFlags{WebAuthnAPI: true}))
	assert.Equal(t, PlatformCapabilities{}, NormalizeCapabilities(PlatformFlags{ResidentKeys: true}))
}

func TestSelectByCapabilities(t *testing.T) {
	enclave := NewEnclaveAuthenticator(iphone, nil)
	keystore := NewKeystoreAuthenticator(android, nil)
	s := NewService(memory.New().Credentials(), Config{Authenticators: []PlatformAuthenticator{keystore, enclave}})

	a, err := s.Select(PlatformHint{})
	require.NoError(t, err)
	assert.Same(t, enclave, a, "more capabilities wins")

	a, err = s.Select(PlatformHint{Require: PlatformCapabilities{Biometrics: true}})
	require.NoError(t, err)
	assert.Equal(t, repository.PlatformEnclave, a.Class())

	_, err = s.Select(PlatformHint{Require: PlatformCapabilities{WebAuthn: true}})
	assert.True(t, types.HasCode(err, types.CodeNotSupported))
}

func TestRegisterAndAuthenticate_Enclave(t *testing.T) {
	rec := &recorder{}
	repo := memory.New().Credentials()
	s := NewService(repo, Config{Authenticators: []PlatformAuthenticator{NewEnclaveAuthenticator(iphone, nil)}, Audit: rec})
	ctx := context.Background()

	cred, err := s.RegisterCredential(ctx, "u1", PlatformHint{Require: PlatformCapabilities{HardwareBacked: true}})
	require.NoError(t, err)
	assert.Equal(t, repository.PlatformEnclave, cred.PlatformClass)
	assert.Equal(t, uint32(0), cred.SignCount)

	// sin contador: 0/0 es el centinela válido, una y otra vez
	for i := 0; i < 2; i++ {
		res, err := s.AuthenticateWithCredential(ctx, []string{cred.ID})
		require.NoError(t, err)
		assert.Equal(t, "u1", res.UserID)
		assert.Equal(t, cred.ID, res.CredentialID)
		assert.True(t, res.Capabilities.HardwareBacked)
	}
	assert.True(t, rec.has(audit.EventCredentialRegistered))
	assert.True(t, rec.has(audit.EventCredentialAsserted))
}

func TestRegisterAndAuthenticate_KeystoreCounterAdvances(t *testing.T) {
	repo := memory.New().Credentials()
	s := NewService(repo, Config{Authenticators: []PlatformAuthenticator{NewKeystoreAuthenticator(android, nil)}})
	ctx := context.Background()

	cred, err := s.RegisterCredential(ctx, "u1", PlatformHint{})
	require.NoError(t, err)

	for want := uint32(1); want <= 3; want++ {
		res, err := s.AuthenticateWithCredential(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, want, res.SignCount)
	}
	stored, err := repo.Get(ctx, cred.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), stored.SignCount)
}

func TestRegister_WithoutUserVerificationRejected(t *testing.T) {
	rec := &recorder{}
	notVerified := func(context.Context, string) (bool, error) { return false, nil }
	repo := memory.New().Credentials()
	s := NewService(repo, Config{Authenticators: []PlatformAuthenticator{NewKeystoreAuthenticator(android, notVerified)}, Audit: rec})

	_, err := s.RegisterCredential(context.Background(), "u1", PlatformHint{})
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.CodeVerificationFailed))
	assert.True(t, rec.has(audit.EventCredentialRejected))

	list, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegister_AuthenticatorWithoutUV(t *testing.T) {
	s := NewService(memory.New().Credentials(), Config{Authenticators: []PlatformAuthenticator{
		NewKeystoreAuthenticator(PlatformFlags{TEE: true}, nil),
	}})
	_, err := s.RegisterCredential(context.Background(), "u1", PlatformHint{})
	assert.True(t, types.HasCode(err, types.CodeNotSupported))
}

func TestRegister_UserCancelled(t *testing.T) {
	cancel := func(context.Context, string) (bool, error) { return false, ErrUserCancelled }
	s := NewService(memory.New().Credentials(), Config{Authenticators: []PlatformAuthenticator{NewEnclaveAuthenticator(iphone, cancel)}})
	_, err := s.RegisterCredential(context.Background(), "u1", PlatformHint{})
	assert.True(t, types.HasCode(err, types.CodeUserCancelled))
}

func TestAuthenticate_NoMatchingCredential(t *testing.T) {
	s := NewService(memory.New().Credentials(), Config{Authenticators: []PlatformAuthenticator{NewEnclaveAuthenticator(iphone, nil)}})
	_, err := s.AuthenticateWithCredential(context.Background(), []string{"bm9wZQ"})
	assert.True(t, types.HasCode(err, types.CodeNotSupported))
}

// cloned simula un autenticador clonado: firma bien pero con un contador
// que controla el test.
type cloned struct {
	priv    ed25519.PrivateKey
	id      []byte
	counter uint32
	badSig  bool
}

func newCloned(t *testing.T) *cloned {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &cloned{priv: priv, id: []byte("cloned-credential")}
}

func (c *cloned) Class() repository.PlatformClass    { return repository.PlatformKeystore }
func (c *cloned) Capabilities() PlatformCapabilities { return PlatformCapabilities{HardwareBacked: true} }

func (c *cloned) Create(_ context.Context, opts CreationOptions) (*Attestation, error) {
	pub, err := x509.MarshalPKIXPublicKey(c.priv.Public())
	if err != nil {
		return nil, err
	}
	sig, _ := c.priv.Sign(rand.Reader, creationMessage(opts.Challenge, c.id, opts.UserID), crypto.Hash(0))
	return &Attestation{CredentialID: c.id, PublicKey: pub, SignCount: c.counter, UserVerified: true, Signature: sig}, nil
}

func (c *cloned) Assert(_ context.Context, opts AssertionOptions) (*Assertion, error) {
	sig, _ := c.priv.Sign(rand.Reader, assertionMessage(opts.Challenge, c.id, c.counter, true), crypto.Hash(0))
	if c.badSig {
		sig[0] ^= 0xff
	}
	return &Assertion{CredentialID: c.id, SignCount: c.counter, UserVerified: true, Signature: sig}, nil
}

func TestAuthenticate_ReplayedCounter(t *testing.T) {
	rec := &recorder{}
	c := newCloned(t)
	s := NewService(memory.New().Credentials(), Config{Authenticators: []PlatformAuthenticator{c}, Audit: rec})
	ctx := context.Background()

	_, err := s.RegisterCredential(ctx, "u1", PlatformHint{})
	require.NoError(t, err)

	c.counter = 5
	_, err = s.AuthenticateWithCredential(ctx, nil)
	require.NoError(t, err)

	// mismo contador: replay, no falla de firma
	_, err = s.AuthenticateWithCredential(ctx, nil)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.CodeReplaySuspected))
	assert.False(t, types.HasCode(err, types.CodeVerificationFailed))
	assert.True(t, rec.has(audit.EventReplaySuspected))
	assert.Equal(t, audit.SeverityHigh, audit.SeverityOf(audit.EventReplaySuspected))

	// volver a 0 tras haber avanzado tampoco es el centinela
	c.counter = 0
	_, err = s.AuthenticateWithCredential(ctx, nil)
	assert.True(t, types.HasCode(err, types.CodeReplaySuspected))
}

func TestAuthenticate_BadSignatureIsVerificationFailure(t *testing.T) {
	c := newCloned(t)
	s := NewService(memory.New().Credentials(), Config{Authenticators: []PlatformAuthenticator{c}})
	ctx := context.Background()
	_, err := s.RegisterCredential(ctx, "u1", PlatformHint{})
	require.NoError(t, err)

	c.counter, c.badSig = 1, true
	_, err = s.AuthenticateWithCredential(ctx, nil)
	assert.True(t, types.HasCode(err, types.CodeVerificationFailed))
}

func TestAuthenticate_ConcurrentSameCounterOnlyOneWins(t *testing.T) {
	c := newCloned(t)
	s := NewService(memory.New().Credentials(), Config{Authenticators: []PlatformAuthenticator{c}})
	ctx := context.Background()
	_, err := s.RegisterCredential(ctx, "u1", PlatformHint{})
	require.NoError(t, err)
	c.counter = 7

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		ok, replays int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AuthenticateWithCredential(ctx, nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case types.HasCode(err, types.CodeReplaySuspected):
				replays++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, ok)
	assert.Equal(t, 5, replays)
}

func TestWebAuthnCeremonies(t *testing.T) {
	repo := memory.New().Credentials()
	w, err := NewWebAuthn(WebAuthnConfig{
		RPID:          "localhost",
		RPDisplayName: "vaultcore",
		RPOrigins:     []string{"http://localhost:8080"},
		Timeout:       time.Minute,
	}, repo)
	require.NoError(t, err)
	s := NewService(repo, Config{WebAuthn: w})
	ctx := context.Background()

	id, options, err := s.BeginPasskeyRegistration(ctx, "u1", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Contains(t, string(options), `"userVerification":"required"`)
	assert.Contains(t, string(options), `"challenge"`)

	_, err = s.FinishPasskeyRegistration(ctx, id, []byte(`{"garbage":true}`))
	assert.True(t, types.HasCode(err, types.CodeClient))

	// la ceremonia se consume aunque falle
	_, err = s.FinishPasskeyRegistration(ctx, id, []byte(`{}`))
	assert.True(t, types.HasCode(err, types.CodeClient))

	loginID, options, err := s.BeginPasskeyLogin(ctx, nil)
	require.NoError(t, err)
	assert.Contains(t, string(options), `"challenge"`)
	_, err = s.FinishPasskeyRegistration(ctx, loginID, []byte(`{}`))
	assert.True(t, types.HasCode(err, types.CodeClient), "login ceremony cannot finish a registration")
}

func TestWebAuthnNotConfigured(t *testing.T) {
	s := NewService(memory.New().Credentials(), Config{})
	_, _, err := s.BeginPasskeyLogin(context.Background(), nil)
	assert.True(t, types.HasCode(err, types.CodeNotSupported))
}

type fakeBrowser struct {
	seen     []byte
	response []byte
	err      error
}

func (f *fakeBrowser) Create(_ context.Context, options []byte) ([]byte, error) {
	f.seen = options
	return f.response, f.err
}

func (f *fakeBrowser) Get(_ context.Context, options []byte) ([]byte, error) {
	f.seen = options
	return f.response, f.err
}

func TestBrowserAuthenticator(t *testing.T) {
	repo := memory.New().Credentials()
	w, err := NewWebAuthn(WebAuthnConfig{
		RPID:          "localhost",
		RPDisplayName: "vaultcore",
		RPOrigins:     []string{"http://localhost:8080"},
		Timeout:       time.Minute,
	}, repo)
	require.NoError(t, err)

	browser := &fakeBrowser{err: ErrUserCancelled}
	b := NewBrowserAuthenticator(w, browser, PlatformFlags{UserVerifying: true, ResidentKeys: true})
	assert.Equal(t, repository.PlatformBrowser, b.Class())
	assert.True(t, b.Capabilities().WebAuthn)
	assert.True(t, b.Capabilities().Passkeys)

	s := NewService(repo, Config{Authenticators: []PlatformAuthenticator{b}})
	hint := PlatformHint{Require: PlatformCapabilities{WebAuthn: true}}
	_, err = s.RegisterCredential(context.Background(), "u1", hint)
	assert.True(t, types.HasCode(err, types.CodeUserCancelled))
	assert.Contains(t, string(browser.seen), `"challenge"`)

	browser.err, browser.response = nil, []byte(`{"garbage":true}`)
	_, err = s.RegisterCredential(context.Background(), "u1", hint)
	assert.True(t, types.HasCode(err, types.CodeClient))

	browser.response = []byte(`{}`)
	_, err = s.AuthenticateWithCredential(context.Background(), nil)
	assert.Error(t, err)
}
