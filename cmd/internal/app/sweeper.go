package app

import (
	"context"
	"time"

	"warden/cmd/internal/store"
)

// sweeper is the part of lifecycle.Service the sweep loop needs.
type sweeper interface {
	Sweep(ctx context.Context) (store.SweepStats, error)
}

// runSweeper calls s.Sweep every interval until ctx is done. Failures are
// logged by the service and retried on the next tick.
func runSweeper(ctx context.Context, log Logger, s sweeper, interval time.Duration) error {
	if interval <= 0 {
		log.Info("sweeper.disabled")
		return nil
	}

	log.Info("sweeper.start", "interval", interval.String())
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sweeper.stop")
			return nil
		case <-t.C:
			_, _ = s.Sweep(ctx)
		}
	}
}
