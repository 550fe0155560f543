package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Issuer firma tokens EdDSA con la clave activa del KeySet.
type Issuer struct {
	Iss  string  // "iss"
	Keys *KeySet // clave de firma
	TTL  time.Duration
}

func NewIssuer(iss string, ks *KeySet, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 90 * 24 * time.Hour
	}
	return &Issuer{Iss: iss, Keys: ks, TTL: ttl}
}

// Keyfunc devuelve un jwt.Keyfunc que exige el kid activo.
func (i *Issuer) Keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" && kid != i.Keys.KID {
			return nil, ErrUnknownKID
		}
		return i.Keys.Pub, nil
	}
}

// Sign firma claims tipados, seteando header kid/typ.
func (i *Issuer) Sign(claims jwtv5.Claims) (string, error) {
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = i.Keys.KID
	tk.Header["typ"] = "JWT"
	return tk.SignedString(i.Keys.Priv)
}

// SignRaw firma un MapClaims arbitrario.
func (i *Issuer) SignRaw(claims jwtv5.MapClaims) (string, error) {
	return i.Sign(claims)
}

// Registered arma los claims estándar para sub con el TTL del issuer.
func (i *Issuer) Registered(sub, jti string, now time.Time) jwtv5.RegisteredClaims {
	now = now.UTC()
	return jwtv5.RegisteredClaims{
		Issuer:    i.Iss,
		Subject:   sub,
		ID:        jti,
		IssuedAt:  jwtv5.NewNumericDate(now),
		NotBefore: jwtv5.NewNumericDate(now),
		ExpiresAt: jwtv5.NewNumericDate(now.Add(i.TTL)),
	}
}

// JWKSJSON expone el JWKS actual.
func (i *Issuer) JWKSJSON() []byte { return i.Keys.JWKSJSON() }

var (
	ErrInvalidIssuer = errors.New("invalid_issuer")
	ErrUnknownKID    = errors.New("unknown_kid")
	ErrInvalidToken  = errors.New("invalid_jwt")
)
