// Package token verifies the HS256 access tokens issued by the medidash API.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/medidash/internal/domain"
)

type Verifier struct {
	secret []byte
	issuer string
	clock  clockwork.Clock
}

// NewVerifier creates a verifier for tokens signed with secret. An empty
// issuer accepts tokens from any issuer.
func NewVerifier(secret, issuer string, clock clockwork.Clock) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, clock: clock}
}

// Verify checks signature, algorithm, expiry and issuer and returns the
// subject (the account email). Every rejection wraps domain.ErrInvalidToken.
func (v *Verifier) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", domain.ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.clock.Now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token has expired", domain.ErrInvalidToken)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", domain.ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject not found in token", domain.ErrInvalidToken)
	}

	return claims.Subject, nil
}

// Issue signs a token for subject valid for ttl. Used by tests and local tooling.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := v.clock.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if v.issuer != "" {
		claims.Issuer = v.issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
