package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/medidash/internal/domain"
	"golang.org/x/sync/singleflight"
)

// lookupTimeout bounds a shared principal lookup, which outlives the request
// that started it.
const lookupTimeout = 5 * time.Second

// Authenticator verifies a token and resolves its subject to a principal.
type Authenticator struct {
	principals  domain.PrincipalRepository
	verifier    domain.TokenVerifier
	lookupGroup singleflight.Group
}

func NewAuthenticator(principals domain.PrincipalRepository, verifier domain.TokenVerifier) *Authenticator {
	return &Authenticator{principals: principals, verifier: verifier}
}

// Authenticate returns the active principal the token belongs to.
// Errors: domain.ErrMissingToken, domain.ErrInvalidToken,
// domain.ErrPrincipalNotFound, domain.ErrPrincipalInactive, or a wrapped
// storage error.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*domain.Principal, error) {
	if token == "" {
		return nil, domain.ErrMissingToken
	}

	subject, err := a.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, domain.ErrMissingToken) || errors.Is(err, domain.ErrInvalidToken) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}

	// Reconnect storms open many sockets for one account at once; resolve
	// the subject once per burst.
	v, err, shared := a.lookupGroup.Do(subject, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return a.principals.GetByEmail(lookupCtx, subject)
	})
	if err != nil {
		if errors.Is(err, domain.ErrPrincipalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve principal: %w", err)
	}
	if shared {
		slog.DebugContext(ctx, "Principal lookup shared", "subject", subject)
	}

	principal := v.(*domain.Principal)
	if !principal.IsActive {
		return nil, domain.ErrPrincipalInactive
	}

	// Callers get their own copy; the shared result may be handed to others.
	p := *principal
	return &p, nil
}

func (a *Authenticator) LookupPrincipal(ctx context.Context, id domain.PrincipalID) (*domain.Principal, error) {
	p, err := a.principals.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrPrincipalNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lookup principal %d: %w", id, err)
	}
	return p, nil
}
