// Package maxruntime implements an optional hard ceiling on total process
// runtime, used by the CLI's --max-runtime flag for bounded test/demo runs.
package maxruntime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"chatarchiver/internal/infra/logger"
)

// StartTimer spawns a goroutine that calls cancelFunc once timeoutSeconds
// elapses, or does nothing if timeoutSeconds <= 0 or cancelFunc is nil.
// Returns immediately; the timer itself runs in the background and exits
// early if ctx is cancelled first.
func StartTimer(ctx context.Context, timeoutSeconds int, cancelFunc context.CancelFunc) {
	if timeoutSeconds <= 0 || cancelFunc == nil {
		return
	}

	duration := time.Duration(timeoutSeconds) * time.Second

	go func() {
		logger.Info("max-runtime timer started", zap.Duration("timeout", duration))

		timer := time.NewTimer(duration)
		defer timer.Stop()

		select {
		case <-timer.C:
			logger.Info("max-runtime reached, initiating shutdown")
			cancelFunc()
		case <-ctx.Done():
			logger.Debug("max-runtime timer cancelled: context done")
		}
	}()
}
