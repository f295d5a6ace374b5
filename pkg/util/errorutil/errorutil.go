package errorutil

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/research-auth/internal/domain"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_ERROR", message, http.StatusBadRequest, details)
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHENTICATED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("ACCESS_DENIED", message, http.StatusForbidden, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// kindMappings translate domain sentinels into client-facing errors.
// Messages stay generic; the wrapped cause is only logged.
var kindMappings = []struct {
	kind    error
	code    string
	message string
	status  int
}{
	{domain.ErrProviderCommunication, "AUTHENTICATION_FAILED", "authentication failed", http.StatusBadGateway},
	{domain.ErrInvalidIdentityToken, "INVALID_TOKEN", "authentication failed", http.StatusBadRequest},
	{domain.ErrUnverifiedEmail, "INVALID_TOKEN", "provider email is not verified", http.StatusBadRequest},
	{domain.ErrDomainNotAllowed, "DOMAIN_NOT_ALLOWED", "email domain not allowed", http.StatusForbidden},
	{domain.ErrRefreshTokenRevoked, "REFRESH_TOKEN_REVOKED", "refresh token expired or missing", http.StatusUnauthorized},
	{domain.ErrTokenExpired, "UNAUTHENTICATED", "token expired", http.StatusUnauthorized},
	{domain.ErrTokenInvalid, "UNAUTHENTICATED", "invalid token", http.StatusUnauthorized},
	{domain.ErrRateLimited, "RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests},
	{domain.ErrConfigInvalid, "SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable},
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	for _, m := range kindMappings {
		if errors.Is(err, m.kind) {
			return &DomainError{Code: m.code, Message: m.message, HTTPStatus: m.status, Err: err}
		}
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := strings.ToUpper(strings.ReplaceAll(http.StatusText(fiberErr.Code), " ", "_"))
		return &DomainError{Code: code, Message: fiberErr.Message, HTTPStatus: fiberErr.Code}
	}
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}
