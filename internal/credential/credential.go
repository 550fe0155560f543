// Package credential normaliza credenciales de clave pública de distintos
// autenticadores de plataforma (enclave, keystore, navegador) a un único
// modelo. El Service nunca decide por nombre de plataforma: sólo mira las
// capacidades reportadas.
package credential

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"errors"

	"github.com/go-webauthn/webauthn/protocol/webauthncose"

	"github.com/dropDatabas3/vaultcore/internal/domain/repository"
	"github.com/dropDatabas3/vaultcore/internal/domain/types"
)

// PlatformCapabilities es el resumen normalizado de lo que puede hacer un
// autenticador, independiente de quién lo fabricó.
type PlatformCapabilities struct {
	WebAuthn       bool `json:"webauthn"`
	Passkeys       bool `json:"passkeys"`
	Biometrics     bool `json:"biometrics"`
	HardwareBacked bool `json:"hardware_backed"`
}

// Satisfies indica si c cubre todo lo que req pide en true.
func (c PlatformCapabilities) Satisfies(req PlatformCapabilities) bool {
	return (!req.WebAuthn || c.WebAuthn) &&
		(!req.Passkeys || c.Passkeys) &&
		(!req.Biometrics || c.Biometrics) &&
		(!req.HardwareBacked || c.HardwareBacked)
}

func (c PlatformCapabilities) score() int {
	n := 0
	for _, b := range []bool{c.WebAuthn, c.Passkeys, c.Biometrics, c.HardwareBacked} {
		if b {
			n++
		}
	}
	return n
}

// PlatformFlags son los flags crudos que reporta cada plataforma.
type PlatformFlags struct {
	SecureEnclave    bool // iOS/macOS
	StrongBox        bool // Android
	TEE              bool // Android sin StrongBox
	UserVerifying    bool // autenticador de plataforma con verificación de usuario
	BiometryEnrolled bool
	ResidentKeys     bool
	WebAuthnAPI      bool
}

// NormalizeCapabilities traduce flags de plataforma a PlatformCapabilities.
func NormalizeCapabilities(f PlatformFlags) PlatformCapabilities {
	hw := f.SecureEnclave || f.StrongBox || f.TEE
	return PlatformCapabilities{
		WebAuthn:       f.WebAuthnAPI,
		Passkeys:       f.ResidentKeys && (hw || f.WebAuthnAPI),
		Biometrics:     f.UserVerifying && f.BiometryEnrolled,
		HardwareBacked: hw,
	}
}

// PlatformHint expresa lo que el llamador necesita del autenticador.
type PlatformHint struct {
	Require PlatformCapabilities `json:"require"`
}

// CreationOptions es lo que el Service le pide al autenticador al registrar.
type CreationOptions struct {
	UserID                  string
	UserName                string
	Challenge               []byte
	RequireUserVerification bool
}

// AssertionOptions es lo que el Service le pide al autenticador al autenticar.
type AssertionOptions struct {
	Challenge               []byte
	AllowCredentials        []string // base64url; vacío = discoverable
	RequireUserVerification bool
}

// Attestation es la forma normalizada de una credencial recién creada.
// PublicKey es PKIX DER (enclave/keystore) o COSE (WebAuthn).
type Attestation struct {
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	UserVerified bool
	Transports   []string
	// Signature es la prueba de posesión sobre creationMessage. Vacía cuando
	// la ceremonia WebAuthn ya verificó la atestación.
	Signature []byte
}

// Assertion es la forma normalizada de una aserción.
type Assertion struct {
	CredentialID []byte
	UserHandle   []byte
	SignCount    uint32
	UserVerified bool
	// SignedData es lo firmado cuando el formato lo define el autenticador
	// (authenticatorData || sha256(clientDataJSON) en WebAuthn). Vacío para
	// los autenticadores nativos: el Service arma assertionMessage.
	SignedData []byte
	Signature  []byte
}

// AssertionResult es lo que devuelve una autenticación exitosa.
type AssertionResult struct {
	CredentialID  string                   `json:"credential_id"`
	UserID        string                   `json:"user_id"`
	SignCount     uint32                   `json:"sign_count"`
	PlatformClass repository.PlatformClass `json:"platform_class"`
	Capabilities  PlatformCapabilities     `json:"capabilities"`
}

// PlatformAuthenticator es el contrato común de las variantes.
type PlatformAuthenticator interface {
	Class() repository.PlatformClass
	Capabilities() PlatformCapabilities
	Create(ctx context.Context, opts CreationOptions) (*Attestation, error)
	Assert(ctx context.Context, opts AssertionOptions) (*Assertion, error)
}

var (
	ErrNotSupported       = types.New(types.CodeNotSupported, "credential", "capability not supported")
	ErrUserCancelled      = types.New(types.CodeUserCancelled, "credential", "user cancelled")
	ErrVerificationFailed = types.New(types.CodeVerificationFailed, "credential", "verification failed")
	ErrReplaySuspected    = types.New(types.CodeReplaySuspected, "credential", "signature counter did not increase")
)

// EncodeID / DecodeID son la codificación base64url (sin padding) de los ids.
func EncodeID(id []byte) string { return base64.RawURLEncoding.EncodeToString(id) }

func DecodeID(s string) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, types.Wrap(types.CodeClient, "decode_credential_id", err)
	}
	return b, nil
}

// creationMessage es lo que firma un autenticador nativo al crear la credencial.
func creationMessage(challenge, credentialID []byte, userID string) []byte {
	h := sha256.New()
	h.Write([]byte("vaultcore/credential/create\x00"))
	h.Write(challenge)
	h.Write(credentialID)
	h.Write([]byte(userID))
	return h.Sum(nil)
}

// assertionMessage es lo que firma un autenticador nativo al autenticar.
// El contador y el flag UV quedan cubiertos por la firma.
func assertionMessage(challenge, credentialID []byte, counter uint32, uv bool) []byte {
	var tail [5]byte
	binary.BigEndian.PutUint32(tail[:4], counter)
	if uv {
		tail[4] = 1
	}
	h := sha256.New()
	h.Write([]byte("vaultcore/credential/assert\x00"))
	h.Write(challenge)
	h.Write(credentialID)
	h.Write(tail[:])
	return h.Sum(nil)
}

// isPKIX distingue DER (SEQUENCE, 0x30) de COSE (mapa CBOR, 0xa0..0xbf).
func isPKIX(key []byte) bool { return len(key) > 0 && key[0] == 0x30 }

// verifySignature verifica sig sobre msg con la clave guardada.
func verifySignature(publicKey, msg, sig []byte) error {
	if len(publicKey) == 0 || len(sig) == 0 {
		return errors.New("missing key or signature")
	}
	if !isPKIX(publicKey) {
		key, err := webauthncose.ParsePublicKey(publicKey)
		if err != nil {
			return err
		}
		ok, err := webauthncose.VerifySignature(key, msg, sig)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("bad signature")
		}
		return nil
	}

	pub, err := x509.ParsePKIXPublicKey(publicKey)
	if err != nil {
		return err
	}
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(k, msg, sig) {
			return errors.New("bad signature")
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(k, msg, sig) {
			return errors.New("bad signature")
		}
	default:
		return errors.New("unsupported key type")
	}
	return nil
}
