package domain

import "errors"

var (
	ErrProviderCommunication = errors.New("identity provider unavailable")
	ErrInvalidIdentityToken  = errors.New("invalid identity token")
	ErrUnverifiedEmail       = errors.New("provider email not verified")
	ErrDomainNotAllowed      = errors.New("email domain not allowed")
	ErrConfigInvalid         = errors.New("invalid configuration")

	// ErrRefreshTokenRevoked covers unknown, expired and already rotated tokens alike.
	ErrRefreshTokenRevoked = errors.New("refresh token expired or revoked")

	ErrTokenInvalid = errors.New("access token invalid")
	ErrTokenExpired = errors.New("access token expired")

	ErrRateLimited = errors.New("rate limit exceeded")
)
