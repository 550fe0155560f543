package jwt

import (
	"errors"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Parse valida firma (sólo EdDSA, kid activo), iss y exp/nbf con 30s de
// tolerancia, y llena claims.
func (i *Issuer) Parse(token string, claims jwtv5.Claims, now time.Time) error {
	opts := []jwtv5.ParserOption{
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithLeeway(30 * time.Second),
		jwtv5.WithTimeFunc(func() time.Time { return now }),
	}
	if i.Iss != "" {
		opts = append(opts, jwtv5.WithIssuer(i.Iss))
	}
	tok, err := jwtv5.ParseWithClaims(token, claims, i.Keyfunc(), opts...)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenInvalidIssuer) {
			return ErrInvalidIssuer
		}
		return errors.Join(ErrInvalidToken, err)
	}
	if !tok.Valid {
		return ErrInvalidToken
	}
	return nil
}
