package credential

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"slices"
	"sync"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// Prompt pide al usuario que se verifique (biometría o PIN). Devuelve si la
// verificación ocurrió; ErrUserCancelled si el usuario la rechazó.
type Prompt func(ctx context.Context, reason string) (verified bool, err error)

type nativeKey struct {
	userID  string
	signer  crypto.Signer
	counter uint32
}

// native es la base de los autenticadores de plataforma nativos: las claves
// viven en el autenticador y nunca salen de él.
type native struct {
	class       repository.PlatformClass
	flags       PlatformFlags
	prompt      Prompt
	counterless bool
	generate    func() (crypto.Signer, error)

	mu   sync.Mutex
	keys map[string]*nativeKey
}

func (n *native) Class() repository.PlatformClass { return n.class }

func (n *native) Capabilities() PlatformCapabilities { return NormalizeCapabilities(n.flags) }

func (n *native) verifyUser(ctx context.Context, reason string) (bool, error) {
	if n.prompt == nil {
		return n.flags.UserVerifying, nil
	}
	ok, err := n.prompt(ctx, reason)
	if err != nil {
		return false, err
	}
	return ok && n.flags.UserVerifying, nil
}

func (n *native) Create(ctx context.Context, opts CreationOptions) (*Attestation, error) {
	const op = "create_credential"
	if opts.RequireUserVerification && !n.flags.UserVerifying {
		return nil, types.New(types.CodeNotSupported, op, "authenticator cannot verify the user")
	}
	uv, err := n.verifyUser(ctx, "register")
	if err != nil {
		return nil, err
	}
	signer, err := n.generate()
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	pub, err := x509.MarshalPKIXPublicKey(signer.Public())
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	sig, err := signer.Sign(rand.Reader, creationMessage(opts.Challenge, id, opts.UserID), crypto.Hash(0))
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}

	n.mu.Lock()
	n.keys[EncodeID(id)] = &nativeKey{userID: opts.UserID, signer: signer}
	n.mu.Unlock()

	return &Attestation{
		CredentialID: id,
		PublicKey:    pub,
		UserVerified: uv,
		Transports:   []string{"internal"},
		Signature:    sig,
	}, nil
}

func (n *native) Assert(ctx context.Context, opts AssertionOptions) (*Assertion, error) {
	const op = "assert_credential"
	n.mu.Lock()
	var (
		id string
		k  *nativeKey
	)
	for kid, key := range n.keys {
		if len(opts.AllowCredentials) == 0 || slices.Contains(opts.AllowCredentials, kid) {
			id, k = kid, key
			break
		}
	}
	n.mu.Unlock()
	if k == nil {
		return nil, types.New(types.CodeNotSupported, op, "no matching credential on this authenticator")
	}

	uv, err := n.verifyUser(ctx, "authenticate")
	if err != nil {
		return nil, err
	}

	n.mu.Lock()
	if !n.counterless {
		k.counter++
	}
	counter := k.counter
	n.mu.Unlock()

	rawID, _ := DecodeID(id)
	sig, err := k.signer.Sign(rand.Reader, assertionMessage(opts.Challenge, rawID, counter, uv), crypto.Hash(0))
	if err != nil {
		return nil, types.Wrap(types.CodeServer, op, err)
	}
	return &Assertion{
		CredentialID: rawID,
		UserHandle:   []byte(k.userID),
		SignCount:    counter,
		UserVerified: uv,
		Signature:    sig,
	}, nil
}

// EnclaveAuthenticator es la variante respaldada por secure enclave: claves
// P-256 no exportables, sin contador de firmas (reporta siempre 0).
type EnclaveAuthenticator struct{ *native }

func NewEnclaveAuthenticator(flags PlatformFlags, prompt Prompt) *EnclaveAuthenticator {
	return &EnclaveAuthenticator{&native{
		class:       repository.PlatformEnclave,
		flags:       flags,
		prompt:      prompt,
		counterless: true,
		keys:        map[string]*nativeKey{},
		generate: func() (crypto.Signer, error) {
			return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		},
	}}
}

// KeystoreAuthenticator es la variante de keystore de hardware: claves
// ed25519 con contador monotónico por credencial.
type KeystoreAuthenticator struct{ *native }

func NewKeystoreAuthenticator(flags PlatformFlags, prompt Prompt) *KeystoreAuthenticator {
	return &KeystoreAuthenticator{&native{
		class:  repository.PlatformKeystore,
		flags:  flags,
		prompt: prompt,
		keys:   map[string]*nativeKey{},
		generate: func() (crypto.Signer, error) {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			return priv, err
		},
	}}
}
