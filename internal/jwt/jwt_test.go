package jwt

import (
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	ks, err := NewEd25519()
	require.NoError(t, err)
	iss := NewIssuer("vaultcore", ks, time.Hour)
	now := time.Now()

	tok, err := iss.Sign(iss.Registered("dev-1", "jti-1", now))
	require.NoError(t, err)

	var got jwtv5.RegisteredClaims
	require.NoError(t, iss.Parse(tok, &got, now))
	assert.Equal(t, "dev-1", got.Subject)
	assert.Equal(t, "jti-1", got.ID)

	// vencido
	err = iss.Parse(tok, &jwtv5.RegisteredClaims{}, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, ErrInvalidToken)

	// otro issuer
	other := NewIssuer("someone-else", ks, time.Hour)
	assert.ErrorIs(t, other.Parse(tok, &jwtv5.RegisteredClaims{}, now), ErrInvalidIssuer)

	// otra clave
	ks2, err := NewEd25519()
	require.NoError(t, err)
	assert.Error(t, NewIssuer("vaultcore", ks2, time.Hour).Parse(tok, &jwtv5.RegisteredClaims{}, now))
}

func TestKeySetFromSeed(t *testing.T) {
	ks, err := NewEd25519()
	require.NoError(t, err)

	for _, enc := range []string{
		base64.StdEncoding.EncodeToString(ks.Seed()),
		base64.RawURLEncoding.EncodeToString(ks.Seed()),
		hex.EncodeToString(ks.Seed()),
	} {
		seed, err := ParseSeed(enc)
		require.NoError(t, err, enc)
		again, err := KeySetFromSeed(seed)
		require.NoError(t, err)
		assert.Equal(t, ks.KID, again.KID)
		assert.Equal(t, ks.Pub, again.Pub)
	}

	_, err = ParseSeed("short")
	assert.Error(t, err)
	assert.Contains(t, string(ks.JWKSJSON()), `"kid":"`+ks.KID+`"`)
}
