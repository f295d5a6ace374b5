package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/research-auth/internal/domain"
)

func TestToDomainErrorMapsKinds(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("exchange: %w", domain.ErrProviderCommunication), "AUTHENTICATION_FAILED", http.StatusBadGateway},
		{domain.ErrInvalidIdentityToken, "INVALID_TOKEN", http.StatusBadRequest},
		{domain.ErrUnverifiedEmail, "INVALID_TOKEN", http.StatusBadRequest},
		{domain.ErrDomainNotAllowed, "DOMAIN_NOT_ALLOWED", http.StatusForbidden},
		{fmt.Errorf("rotate: %w", domain.ErrRefreshTokenRevoked), "REFRESH_TOKEN_REVOKED", http.StatusUnauthorized},
		{domain.ErrTokenExpired, "UNAUTHENTICATED", http.StatusUnauthorized},
		{domain.ErrRateLimited, "RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
		{domain.ErrConfigInvalid, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable},
		{errors.New("boom"), "INTERNAL_ERROR", http.StatusInternalServerError},
		{fiber.NewError(http.StatusNotFound, "route missing"), "NOT_FOUND", http.StatusNotFound},
	}
	for _, tc := range tests {
		got := ToDomainError(tc.err)
		if got.Code != tc.code || got.HTTPStatus != tc.status {
			t.Errorf("ToDomainError(%v) = %s/%d, want %s/%d", tc.err, got.Code, got.HTTPStatus, tc.code, tc.status)
		}
	}
}

func TestToDomainErrorKeepsCause(t *testing.T) {
	cause := fmt.Errorf("token endpoint: %w", domain.ErrProviderCommunication)
	got := ToDomainError(cause)
	if !errors.Is(got, domain.ErrProviderCommunication) {
		t.Fatal("expected wrapped kind to survive mapping")
	}
	if got.Message != "authentication failed" {
		t.Fatalf("expected generic message, got %q", got.Message)
	}
}

func TestToDomainErrorPassThrough(t *testing.T) {
	original := NewForbidden("nope")
	if got := ToDomainError(original); got != original {
		t.Fatalf("expected same DomainError, got %+v", got)
	}
	if ToDomainError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
