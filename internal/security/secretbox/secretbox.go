// Package secretbox cifra blobs en reposo con AES-256-GCM.
//
// vaultcore lo usa para los registros OPAQUE del servidor y los verificadores
// de recovery. El formato binario es nonce(12) || ciphertext; el formato texto
// (para config y CLI) es base64(nonce)|base64(ciphertext).
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	nonceSizeGCM = 12
	KeySize      = 32
	sep          = "|"
)

var (
	ErrInvalidKey = errors.New("secretbox: clave inválida")
	ErrMalformed  = errors.New("secretbox: formato inválido")
	ErrAuthFailed = errors.New("secretbox: autenticación fallida")
)

// Box es un AEAD con clave fija. Seguro para uso concurrente.
type Box struct {
	aead cipher.AEAD
}

// New crea un Box a partir de una clave cruda de 32 bytes.
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes (requiere %d)", ErrInvalidKey, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// ParseKey acepta base64 (std o raw) o hex de 64 chars.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: vacía; genere una con: vaultcore keys gen", ErrInvalidKey)
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == KeySize {
			return b, nil
		}
	}
	if len(s) == 2*KeySize {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: no decodifica a %d bytes", ErrInvalidKey, KeySize)
}

// NewFromString es ParseKey + New.
func NewFromString(key string) (*Box, error) {
	k, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	return New(k)
}

// GenerateKey devuelve una clave aleatoria codificada en base64.
func GenerateKey() (string, error) {
	k := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}

// Seal cifra plain ligándolo a aad (p.ej. el username dueño del registro).
func (b *Box) Seal(plain, aad []byte) ([]byte, error) {
	nonce := make([]byte, nonceSizeGCM, nonceSizeGCM+len(plain)+b.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce random: %w", err)
	}
	return b.aead.Seal(nonce, nonce, plain, aad), nil
}

// Open revierte Seal. Cualquier alteración o aad distinto devuelve ErrAuthFailed.
func (b *Box) Open(sealed, aad []byte) ([]byte, error) {
	if len(sealed) < nonceSizeGCM+b.aead.Overhead() {
		return nil, ErrMalformed
	}
	pt, err := b.aead.Open(nil, sealed[:nonceSizeGCM], sealed[nonceSizeGCM:], aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return pt, nil
}

// EncryptString cifra y devuelve base64(nonce)|base64(ciphertext).
func (b *Box) EncryptString(plain string) (string, error) {
	sealed, err := b.Seal([]byte(plain), nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed[:nonceSizeGCM]) + sep +
		base64.StdEncoding.EncodeToString(sealed[nonceSizeGCM:]), nil
}

// DecryptString revierte EncryptString.
func (b *Box) DecryptString(s string) (string, error) {
	parts := strings.Split(s, sep)
	if len(parts) != 2 {
		return "", ErrMalformed
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSizeGCM {
		return "", ErrMalformed
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrMalformed
	}
	pt, err := b.Open(append(nonce, ct...), nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
