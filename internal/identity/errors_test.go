package identity_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appadook/portfolio-website-sub001/internal/domain"
	"github.com/appadook/portfolio-website-sub001/internal/identity"
)

func TestErrorPayloadShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"message field", `{"message":"Account locked"}`, "Account locked"},
		{"error string", `{"error":"Invalid credentials"}`, "Invalid credentials"},
		{"nested error object", `{"error":{"message":"Password too short"}}`, "Password too short"},
		{"oauth style", `{"error":"invalid_grant","error_description":"Refresh token expired"}`, "Refresh token expired"},
		{"empty body", ``, "Invalid email or password."},
		{"non-json body", `<html>nope</html>`, "Invalid email or password."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client, err := identity.New(identity.Config{BaseURL: srv.URL})
			require.NoError(t, err)

			_, err = client.Login(context.Background(), "a@example.com", "pw")

			assert.Equal(t, tt.want, identity.NormalizeError(err))
		})
	}
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"conflict without message", &identity.APIError{Status: http.StatusConflict}, "An account with this email already exists."},
		{"rate limited", &identity.APIError{Status: http.StatusTooManyRequests}, "Too many attempts. Please wait a moment and try again."},
		{"server error", fmt.Errorf("login: %w", &identity.APIError{Status: 503}), "The sign-in service is unavailable. Please try again shortly."},
		{"teapot", &identity.APIError{Status: http.StatusTeapot}, "Request failed with status 418."},
		{"missing input", fmt.Errorf("login: %w", domain.ErrInvalidInput), "Email and password are required."},
		{"deadline", fmt.Errorf("login: %w: %w", domain.ErrNetwork, context.DeadlineExceeded), "The sign-in service took too long to respond. Please try again."},
		{"transport", fmt.Errorf("login: %w: dial tcp", domain.ErrNetwork), "Unable to reach the sign-in service. Check your connection and try again."},
		{"unknown", errors.New("boom"), "Something went wrong. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, identity.NormalizeError(tt.err))
		})
	}
}

func TestAPIErrorClassification(t *testing.T) {
	assert.ErrorIs(t, &identity.APIError{Status: 401}, domain.ErrNetwork)
	assert.NotErrorIs(t, &identity.APIError{Status: 401}, domain.ErrUnavailable)
	assert.ErrorIs(t, &identity.APIError{Status: 500}, domain.ErrUnavailable)
}
