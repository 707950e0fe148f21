package coordinator

import (
	"context"
	"time"

	"github.com/lbeltrame/go_lingo/internal/logger"
)

// StartRefreshScheduler runs a goroutine that periodically reloads every
// known collection from the backing store, as a safety net under the change
// feed. A zero interval disables it. Returns a channel that is closed when
// the scheduler has shut down.
func StartRefreshScheduler(ctx context.Context, coord *Coordinator, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return done
	}

	logger.WithComponent("refresh").Debugf("starting refresh scheduler with interval: %v", interval)
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.WithComponent("refresh").Info("refresh scheduler stopped")
				return
			case <-ticker.C:
				logger.WithComponent("refresh").Debugf("refresh scheduler tick")
				if err := coord.ReloadAll(ctx); err != nil {
					logger.WithComponent("refresh").Errorf("scheduled reload failed: %v", err)
				}
			}
		}
	}()
	return done
}
