package observability

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/research-auth/internal/config"
)

const (
	// TraceHeader carries the request trace id in both directions.
	TraceHeader = "X-Trace-Id"

	traceLocalsKey = "trace_id"
	traceIDLength  = 12
	maxTraceLength = 64
)

// NewLogger creates a structured zap.Logger configured via env settings.
func NewLogger(cfg config.LoggerConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
		Level:    zap.NewAtomicLevelAt(level),
		Encoding: "json",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey: "message",
			LevelKey:   "level",
			TimeKey:    "ts",
			NameKey:    "logger",
			EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
				enc.AppendString(l.String())
			},
			EncodeTime: zapcore.ISO8601TimeEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return zapCfg.Build()
}

// TraceID accepts a well-formed inbound X-Trace-Id or generates one, stores
// it on the request and echoes it on the response.
func TraceID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		traceID := c.Get(TraceHeader)
		if !validTraceID(traceID) {
			traceID = newTraceID()
		}
		c.Locals(traceLocalsKey, traceID)
		c.Set(TraceHeader, traceID)
		return c.Next()
	}
}

// TraceIDFromContext returns the trace id set by TraceID.
func TraceIDFromContext(c *fiber.Ctx) string {
	id, _ := c.Locals(traceLocalsKey).(string)
	return id
}

// RequestLogger logs and meters every request once its response is final.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		route := c.Route().Path
		metrics.RecordRequest(route, c.Method(), status, latency)

		fields := []zap.Field{
			zap.String("trace_id", TraceIDFromContext(c)),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.String("ip", c.IP()),
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			logger.Error("request", fields...)
		case status >= fiber.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
		return err
	}
}

func newTraceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:traceIDLength]
}

func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
