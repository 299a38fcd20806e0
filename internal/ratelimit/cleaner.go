package ratelimit

import (
	"context"
	"log"
	"time"
)

// StartCleaner periodically drops rate-limit rows whose timestamps have all
// aged out of the window. Runs until the context is cancelled.
func StartCleaner(ctx context.Context, store *SQLStore, window, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.PruneStale(ctx, window); err != nil {
					log.Printf("prune rate limits: %v", err)
				}
			}
		}
	}()
}
