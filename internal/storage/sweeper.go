package storage

import (
	"context"
	"time"

	"github.com/dgellow/forgegate/internal/log"
)

// Sweeper periodically removes expired authorization states. Consume already
// rejects expired entries, the sweep only reclaims the ones never consumed.
type Sweeper struct {
	store    StateStore
	interval time.Duration
}

// NewSweeper creates a sweeper for store running every interval
func NewSweeper(store StateStore, interval time.Duration) *Sweeper {
	return &Sweeper{store: store, interval: interval}
}

// Run sweeps immediately, then on every tick until ctx is done. It always
// returns nil so it can run in an errgroup next to the server.
func (sw *Sweeper) Run(ctx context.Context) error {
	log.LogInfoWithFields("sweeper", "Starting state sweeper", map[string]any{
		"interval": sw.interval.String(),
	})

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			sw.Sweep(ctx)
		case <-ctx.Done():
			log.LogInfoWithFields("sweeper", "State sweeper stopped", nil)
			return nil
		}
	}
}

// Sweep runs a single pass and returns the number of states removed
func (sw *Sweeper) Sweep(ctx context.Context) int {
	count, err := sw.store.SweepExpiredStates(ctx)
	if err != nil {
		log.LogErrorWithFields("sweeper", "Failed to sweep expired states", map[string]any{
			"error": err.Error(),
		})
		return count
	}

	if count > 0 {
		log.LogDebugWithFields("sweeper", "Swept expired states", map[string]any{
			"count": count,
		})
	}
	return count
}
