package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pscheid92/medidash/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock implementations ---

type mockPrincipalRepo struct {
	getByIDFn    func(ctx context.Context, id domain.PrincipalID) (*domain.Principal, error)
	getByEmailFn func(ctx context.Context, email string) (*domain.Principal, error)
}

func (m *mockPrincipalRepo) GetByID(ctx context.Context, id domain.PrincipalID) (*domain.Principal, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, fmt.Errorf("not implemented")
}

func (m *mockPrincipalRepo) GetByEmail(ctx context.Context, email string) (*domain.Principal, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, fmt.Errorf("not implemented")
}

type mockVerifier struct {
	verifyFn func(token string) (string, error)
}

func (m *mockVerifier) Verify(token string) (string, error) {
	if m.verifyFn != nil {
		return m.verifyFn(token)
	}
	return "", domain.ErrInvalidToken
}

func acceptAll(token string) (string, error) { return token, nil }

func ada() *domain.Principal {
	return &domain.Principal{ID: 7, Email: "ada@example.com", FullName: "Ada", Role: domain.RoleCustomer, IsActive: true}
}

// --- Tests ---

func TestAuthenticate_Success(t *testing.T) {
	repo := &mockPrincipalRepo{getByEmailFn: func(_ context.Context, email string) (*domain.Principal, error) {
		assert.Equal(t, "ada@example.com", email)
		return ada(), nil
	}}
	a := NewAuthenticator(repo, &mockVerifier{verifyFn: acceptAll})

	p, err := a.Authenticate(context.Background(), "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.PrincipalID(7), p.ID)
}

func TestAuthenticate_Errors(t *testing.T) {
	notFound := &mockPrincipalRepo{getByEmailFn: func(context.Context, string) (*domain.Principal, error) {
		return nil, domain.ErrPrincipalNotFound
	}}
	inactive := &mockPrincipalRepo{getByEmailFn: func(context.Context, string) (*domain.Principal, error) {
		p := ada()
		p.IsActive = false
		return p, nil
	}}
	dbDown := &mockPrincipalRepo{getByEmailFn: func(context.Context, string) (*domain.Principal, error) {
		return nil, errors.New("connection refused")
	}}

	tests := []struct {
		name     string
		repo     *mockPrincipalRepo
		verifier *mockVerifier
		token    string
		wantErr  error
	}{
		{"missing token", notFound, &mockVerifier{verifyFn: acceptAll}, "", domain.ErrMissingToken},
		{"invalid token", notFound, &mockVerifier{}, "garbage", domain.ErrInvalidToken},
		{"verifier failure is invalid token", notFound, &mockVerifier{verifyFn: func(string) (string, error) {
			return "", errors.New("parse error")
		}}, "x", domain.ErrInvalidToken},
		{"unknown subject", notFound, &mockVerifier{verifyFn: acceptAll}, "ghost@example.com", domain.ErrPrincipalNotFound},
		{"inactive principal", inactive, &mockVerifier{verifyFn: acceptAll}, "ada@example.com", domain.ErrPrincipalInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAuthenticator(tt.repo, tt.verifier)
			_, err := a.Authenticate(context.Background(), tt.token)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("storage failure", func(t *testing.T) {
		a := NewAuthenticator(dbDown, &mockVerifier{verifyFn: acceptAll})
		_, err := a.Authenticate(context.Background(), "ada@example.com")
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrPrincipalNotFound)
		assert.Contains(t, err.Error(), "resolve principal")
	})
}

func TestAuthenticate_CollapsesConcurrentLookups(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	repo := &mockPrincipalRepo{getByEmailFn: func(context.Context, string) (*domain.Principal, error) {
		calls.Add(1)
		<-release
		return ada(), nil
	}}
	a := NewAuthenticator(repo, &mockVerifier{verifyFn: acceptAll})

	var wg sync.WaitGroup
	results := make([]*domain.Principal, 5)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := a.Authenticate(context.Background(), "ada@example.com")
			if err == nil {
				results[i] = p
			}
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(5))
	for _, p := range results {
		require.NotNil(t, p)
		assert.Equal(t, domain.PrincipalID(7), p.ID)
	}
	results[0].FullName = "mutated"
	assert.Equal(t, "Ada", results[1].FullName)
}

func TestAuthenticate_SharedLookupSurvivesFirstCallerCancel(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	repo := &mockPrincipalRepo{getByEmailFn: func(ctx context.Context, _ string) (*domain.Principal, error) {
		calls.Add(1)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return ada(), nil
	}}
	a := NewAuthenticator(repo, &mockVerifier{verifyFn: acceptAll})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = a.Authenticate(firstCtx, "ada@example.com")
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	var (
		second    *domain.Principal
		secondErr error
	)
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		second, secondErr = a.Authenticate(context.Background(), "ada@example.com")
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	close(release)
	<-firstDone
	<-secondDone

	require.NoError(t, secondErr)
	assert.Equal(t, domain.PrincipalID(7), second.ID)
}

func TestLookupPrincipal(t *testing.T) {
	repo := &mockPrincipalRepo{getByIDFn: func(_ context.Context, id domain.PrincipalID) (*domain.Principal, error) {
		if id == 7 {
			return ada(), nil
		}
		return nil, domain.ErrPrincipalNotFound
	}}
	a := NewAuthenticator(repo, &mockVerifier{})

	p, err := a.LookupPrincipal(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.FullName)

	_, err = a.LookupPrincipal(context.Background(), 8)
	require.ErrorIs(t, err, domain.ErrPrincipalNotFound)
}
