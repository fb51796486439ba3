package adminsession

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/appadook/portfolio-website-sub001/internal/auth"
	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/observability"
)

type stubVerifier struct {
	claims *auth.Claims
	err    error
}

func (v stubVerifier) Verify(context.Context, string) (*auth.Claims, error) {
	return v.claims, v.err
}

type stubProfiles struct {
	user *domain.User
	err  error
}

func (p stubProfiles) Me(context.Context, string) (*domain.User, error) {
	return p.user, p.err
}

func TestResolveResults(t *testing.T) {
	claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user_1"}}
	profile := &domain.User{ID: "user_1", Email: "admin@example.com"}

	tests := []struct {
		name     string
		token    string
		verifier stubVerifier
		profiles stubProfiles
		want     string
	}{
		{"empty token", "", stubVerifier{claims: claims}, stubProfiles{user: profile}, "no_token"},
		{"rejected token", "t", stubVerifier{err: fmt.Errorf("%w: expired", domain.ErrInvalidToken)}, stubProfiles{}, "invalid"},
		{"verifier failure", "t", stubVerifier{err: errors.New("key store offline")}, stubProfiles{}, "error"},
		{"profile loaded", "t", stubVerifier{claims: claims}, stubProfiles{user: profile}, "ok"},
		{"profile unavailable", "t", stubVerifier{claims: claims}, stubProfiles{err: domain.ErrUnavailable}, "claims_only"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(Config{Verifier: tt.verifier, Profiles: tt.profiles, Logger: observability.Discard()})

			_, result, _ := res.resolve(context.Background(), tt.token)

			assert.Equal(t, tt.want, result)
		})
	}
}
