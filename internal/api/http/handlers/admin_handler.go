package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/research-auth/internal/api/dto"
	"github.com/spec-kit/research-auth/internal/auth"
	"github.com/spec-kit/research-auth/internal/policy"
	apperrors "github.com/spec-kit/research-auth/pkg/util/errorutil"
)

// ReloadFunc re-reads the privileged registry and publishes it on success.
type ReloadFunc func(ctx context.Context) (*policy.Registry, error)

// AdminHandler exposes super admin operations.
type AdminHandler struct {
	reload ReloadFunc
	logger *zap.Logger
}

// NewAdminHandler constructs handler.
func NewAdminHandler(reload ReloadFunc, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{reload: reload, logger: logger}
}

// ReloadPrivileged handles POST /api/admin/privileged/reload.
func (h *AdminHandler) ReloadPrivileged(c *fiber.Ctx) error {
	reg, err := h.reload(c.UserContext())
	if err != nil {
		h.logger.Warn("privileged registry reload rejected", zap.Error(err))
		return apperrors.NewDomainError("INVALID_REGISTRY", "privileged registry rejected; previous registry kept",
			http.StatusUnprocessableEntity, map[string]any{"reason": err.Error()})
	}

	fields := []zap.Field{zap.Int("privileged_users", reg.Size())}
	if principal, ok := auth.PrincipalFromContext(c); ok {
		fields = append(fields, zap.String("by", principal.AccountID))
	}
	h.logger.Info("privileged registry reloaded", fields...)

	return c.JSON(dto.RegistryReloadResponse{
		PrivilegedUsers: reg.Size(),
		DepartmentIDs:   reg.DepartmentIDs(),
	})
}
