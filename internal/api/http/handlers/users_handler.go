package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/research-auth/internal/api/dto"
	"github.com/spec-kit/research-auth/internal/auth"
	apperrors "github.com/spec-kit/research-auth/pkg/util/errorutil"
)

// UsersHandler exposes endpoints about the signed-in user.
type UsersHandler struct{}

// NewUsersHandler constructs handler.
func NewUsersHandler() *UsersHandler {
	return &UsersHandler{}
}

// Me handles GET /api/users/me. The answer comes from the access token
// claims alone.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	return c.JSON(dto.UserResponse{
		ID:           principal.AccountID,
		Email:        principal.Email,
		FullName:     principal.FullName,
		Role:         principal.Role,
		DepartmentID: principal.DepartmentID,
	})
}
