package identity

import (
	"context"
	"time"

	"github.com/ashureev/careerguide/internal/store"
	"go.uber.org/zap"
)

// RunExpiryWorker periodically deletes expired access tokens. It blocks
// until ctx is cancelled.
func RunExpiryWorker(ctx context.Context, repo store.Repository, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("token expiry worker started", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			sweepExpiredTokens(ctx, repo, logger)
		case <-ctx.Done():
			logger.Info("token expiry worker shutting down", zap.NamedError("reason", ctx.Err()))
			return
		}
	}
}

func sweepExpiredTokens(ctx context.Context, repo store.Repository, logger *zap.Logger) {
	deleted, err := repo.DeleteExpiredTokens(ctx, time.Now())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("token expiry worker failed to delete expired tokens", zap.Error(err))
		return
	}
	if deleted > 0 {
		logger.Info("token expiry worker removed expired tokens", zap.Int64("count", deleted))
	}
}
