package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SessionPurger deletes expired refresh sessions.
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// TokenCleanupWorker periodically removes expired refresh sessions.
type TokenCleanupWorker struct {
	purger   SessionPurger
	interval time.Duration
	logger   *zap.Logger
}

// NewTokenCleanupWorker builds a worker running every interval. A
// non-positive interval disables it.
func NewTokenCleanupWorker(purger SessionPurger, interval time.Duration, logger *zap.Logger) *TokenCleanupWorker {
	return &TokenCleanupWorker{purger: purger, interval: interval, logger: logger.Named("token_cleanup")}
}

// Run purges once immediately and then on every tick until ctx is cancelled.
func (w *TokenCleanupWorker) Run(ctx context.Context) {
	if w.purger == nil || w.interval <= 0 {
		w.logger.Info("refresh token cleanup disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.purge(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.purge(ctx)
		}
	}
}

func (w *TokenCleanupWorker) purge(ctx context.Context) {
	n, err := w.purger.PurgeExpiredSessions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("purge expired sessions", zap.Error(err))
		}
		return
	}
	if n > 0 {
		w.logger.Info("purged expired sessions", zap.Int64("count", n))
	}
}
