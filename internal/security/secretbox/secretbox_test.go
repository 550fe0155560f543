package secretbox

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

func testKey(seed byte) []byte {
	k := make([]byte, KeySize)
	for i := range k {
		k[i] = seed + byte(i)
	}
	return k
}

func TestSealOpen_RoundTrip(t *testing.T) {
	t.Parallel()
	b, err := New(testKey(1))
	if err != nil {
		t.Fatalf("New err: %v", err)
	}
	sealed, err := b.Seal([]byte("envelope"), []byte("alice"))
	if err != nil {
		t.Fatalf("Seal err: %v", err)
	}
	pt, err := b.Open(sealed, []byte("alice"))
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	if string(pt) != "envelope" {
		t.Fatalf("plaintext mismatch: %q", pt)
	}
}

func TestOpen_RejectsOtherAAD(t *testing.T) {
	t.Parallel()
	b, _ := New(testKey(2))
	sealed, _ := b.Seal([]byte("envelope"), []byte("alice"))
	if _, err := b.Open(sealed, []byte("mallory")); !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("expected ErrAuthFailed, got %v", err)
	}
}

func TestOpen_DetectsTamper(t *testing.T) {
	t.Parallel()
	b, _ := New(testKey(3))
	sealed, _ := b.Seal([]byte("top secret"), nil)
	sealed[len(sealed)-1] ^= 0x01
	if _, err := b.Open(sealed, nil); err == nil {
		t.Fatalf("expected auth error, got nil")
	}
	if _, err := b.Open(sealed[:4], nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestStringForm(t *testing.T) {
	t.Parallel()
	b, _ := New(testKey(4))
	s, err := b.EncryptString("hola mundo")
	if err != nil {
		t.Fatal(err)
	}
	pt, err := b.DecryptString(s)
	if err != nil || pt != "hola mundo" {
		t.Fatalf("got %q, %v", pt, err)
	}
	if _, err := b.DecryptString("sin-separador"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestParseKey(t *testing.T) {
	t.Parallel()
	k := testKey(5)
	for _, in := range []string{
		base64.StdEncoding.EncodeToString(k),
		base64.RawStdEncoding.EncodeToString(k),
		hex.EncodeToString(k),
	} {
		got, err := ParseKey(in)
		if err != nil || string(got) != string(k) {
			t.Fatalf("ParseKey(%q) = %v", in, err)
		}
	}
	if _, err := ParseKey(""); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for empty key")
	}
	if _, err := ParseKey("short"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for short key")
	}
	gen, err := GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewFromString(gen); err != nil {
		t.Fatalf("generated key rejected: %v", err)
	}
}
