package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/research-auth/internal/domain"
	apperrors "github.com/spec-kit/research-auth/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// Principal represents the authenticated caller as asserted by its access token.
type Principal struct {
	AccountID    string
	Email        string
	FullName     string
	Role         domain.Role
	DepartmentID *int64
}

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	Verify(token string) (*Claims, error)
}

// AuthMiddleware validates bearer tokens and stores the principal on the request.
type AuthMiddleware struct {
	tokens TokenVerifier
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get(fiber.HeaderAuthorization)
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.Verify(strings.TrimSpace(parts[1]))
	if err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			return apperrors.NewUnauthorized("token expired")
		}
		return apperrors.NewUnauthorized("invalid token")
	}

	c.Locals(principalKey, &Principal{
		AccountID:    claims.AccountID(),
		Email:        claims.Email,
		FullName:     claims.FullName,
		Role:         claims.Role,
		DepartmentID: claims.DepartmentID,
	})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
