package events

import (
	"context"

	"go.uber.org/zap"
)

// RegisterAuditLog writes every auth event to logger.
func RegisterAuditLog(d Dispatcher, logger *zap.Logger) {
	audit := logger.Named("audit")
	for _, eventType := range AllEventTypes {
		d.Subscribe(eventType, func(_ context.Context, event Event) error {
			fields := []zap.Field{
				zap.String("event_id", event.ID),
				zap.String("event", string(event.Type)),
				zap.Time("at", event.Timestamp),
			}
			if event.AccountID != "" {
				fields = append(fields, zap.String("account_id", event.AccountID))
			}
			if event.Payload != nil {
				fields = append(fields, zap.Any("payload", event.Payload))
			}
			audit.Info("auth event", fields...)
			return nil
		})
	}
}
