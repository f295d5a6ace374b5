package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	apperrors "github.com/spec-kit/research-auth/pkg/util/errorutil"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// bindAndValidate parses the JSON body into dst and checks its validate tags.
func bindAndValidate(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			details := make(map[string]any, len(ve))
			for _, fe := range ve {
				details[lowerFirst(fe.Field())] = fieldError(fe)
			}
			return apperrors.NewValidationError("invalid payload", details)
		}
		return apperrors.NewValidationError("invalid payload", nil)
	}
	return nil
}

func fieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed validation (%s)", fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
