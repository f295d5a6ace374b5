package http

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/research-auth/internal/observability"
	apperrors "github.com/spec-kit/research-auth/pkg/util/errorutil"
)

// RegisterMiddlewares attaches global middlewares: trace id, request logging,
// error rendering and the request timeout, outermost first. The request
// logger wraps error handling so it observes the rendered status.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, timeout time.Duration) {
	app.Use(observability.TraceID())
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics))
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
}

// ErrorHandler renders errors that escape the middleware chain, such as
// those raised by fiber before routing.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		domainErr := apperrors.ToDomainError(err)
		if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
			logger.Error("unhandled request error",
				zap.String("trace_id", observability.TraceIDFromContext(c)), zap.Error(err))
		}
		return writeError(c, domainErr)
	}
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					zap.String("trace_id", observability.TraceIDFromContext(c)),
					zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := apperrors.ToDomainError(err)
				metrics.RecordError(c.Route().Path, c.Method(), domainErr.Code)
				if domainErr.HTTPStatus >= fiber.StatusInternalServerError {
					logger.Error("request failed",
						zap.String("trace_id", observability.TraceIDFromContext(c)),
						zap.String("code", domainErr.Code),
						zap.Error(domainErr))
				}
				_ = writeError(c, domainErr)
				err = nil
			}
		}()
		return c.Next()
	}
}

func writeError(c *fiber.Ctx, domainErr *apperrors.DomainError) error {
	body := fiber.Map{
		"code":    domainErr.Code,
		"message": domainErr.Message,
	}
	if len(domainErr.Details) > 0 {
		body["details"] = domainErr.Details
	}
	return c.Status(domainErr.HTTPStatus).JSON(fiber.Map{"error": body})
}
