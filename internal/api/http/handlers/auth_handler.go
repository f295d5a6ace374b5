package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/spec-kit/research-auth/internal/api/dto"
	"github.com/spec-kit/research-auth/internal/domain"
	"github.com/spec-kit/research-auth/internal/service"
)

// AuthFlows is the slice of the auth service the HTTP layer drives.
type AuthFlows interface {
	Login(ctx context.Context, code string) (*service.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*service.RefreshResult, error)
	Logout(ctx context.Context, refreshToken string) error
}

// ConsentURLBuilder builds the provider consent URL for a state value.
type ConsentURLBuilder interface {
	AuthCodeURL(state string) string
}

// CookieConfig controls the refresh token cookie.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
	// SameSite is one of fiber's CookieSameSite* values.
	SameSite string
}

// NewCookieConfig applies the environment rule: production cookies are
// Secure and SameSite=Strict, others SameSite=Lax.
func NewCookieConfig(name string, production bool) CookieConfig {
	cfg := CookieConfig{Name: name, Path: "/api/auth/", SameSite: fiber.CookieSameSiteLaxMode}
	if production {
		cfg.Secure = true
		cfg.SameSite = fiber.CookieSameSiteStrictMode
	}
	return cfg
}

// AuthHandler exposes the login, refresh and logout endpoints.
type AuthHandler struct {
	auth    AuthFlows
	consent ConsentURLBuilder
	cookie  CookieConfig
	now     func() time.Time
}

// NewAuthHandler constructs handler.
func NewAuthHandler(auth AuthFlows, consent ConsentURLBuilder, cookie CookieConfig) *AuthHandler {
	return &AuthHandler{auth: auth, consent: consent, cookie: cookie, now: time.Now}
}

// AuthorizeURL handles GET /api/auth/google/url.
func (h *AuthHandler) AuthorizeURL(c *fiber.Ctx) error {
	state := uuid.NewString()
	return c.JSON(dto.AuthorizeURLResponse{URL: h.consent.AuthCodeURL(state), State: state})
}

// GoogleLogin handles POST /api/auth/google.
func (h *AuthHandler) GoogleLogin(c *fiber.Ctx) error {
	var req dto.GoogleLoginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	result, err := h.auth.Login(c.UserContext(), req.Code)
	if err != nil {
		return err
	}

	h.setRefreshCookie(c, result.RefreshToken, result.RefreshExpiresAt)
	return c.JSON(dto.LoginResponse{
		AccessToken: result.AccessToken,
		ExpiresAt:   result.AccessExpiresAt,
		User:        dto.NewUserResponse(result.Account),
	})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	result, err := h.auth.Refresh(c.UserContext(), c.Cookies(h.cookie.Name))
	if err != nil {
		if errors.Is(err, domain.ErrRefreshTokenRevoked) {
			h.clearRefreshCookie(c)
		}
		return err
	}

	h.setRefreshCookie(c, result.RefreshToken, result.RefreshExpiresAt)
	return c.JSON(dto.RefreshResponse{
		AccessToken: result.AccessToken,
		ExpiresAt:   result.AccessExpiresAt,
	})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.auth.Logout(c.UserContext(), c.Cookies(h.cookie.Name)); err != nil {
		return err
	}
	h.clearRefreshCookie(c)
	return c.SendStatus(http.StatusNoContent)
}

func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, value string, expiresAt time.Time) {
	maxAge := int(expiresAt.Sub(h.now()).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     h.cookie.Path,
		MaxAge:   maxAge,
		Expires:  expiresAt,
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     h.cookie.Name,
		Value:    "",
		Path:     h.cookie.Path,
		Expires:  time.Unix(0, 0).UTC(),
		HTTPOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: h.cookie.SameSite,
	})
}
