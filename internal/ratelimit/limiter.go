// Package ratelimit implements the per-user sliding-window courtesy limit
// gating every assist action.
package ratelimit

import (
	"context"
	"time"
)

// Store persists the per-user list of call timestamps. Implementations are
// injected so the limiter carries no process-wide state.
type Store interface {
	Load(ctx context.Context, userID int64) ([]time.Time, error)
	Save(ctx context.Context, userID int64, stamps []time.Time) error
}

// Limiter enforces at most limit calls per user within a trailing window.
//
// The check is read-modify-write with no cross-process locking: overlapping
// requests from the same user can race past the limit. That is accepted for
// a courtesy limit.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration

	now func() time.Time
}

// New builds a limiter over the given store.
func New(store Store, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: store, limit: limit, window: window, now: time.Now}
}

// SetClock overrides the limiter's time source, used by tests.
func (l *Limiter) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Allow reports whether the user may make another assist call right now.
// Entries older than the window are pruned first; a denied call leaves the
// stored list untouched, an allowed call persists the pruned list plus the
// new timestamp.
func (l *Limiter) Allow(ctx context.Context, userID int64) (bool, error) {
	stamps, err := l.store.Load(ctx, userID)
	if err != nil {
		return false, err
	}

	now := l.now()
	cutoff := now.Add(-l.window)
	recent := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= l.limit {
		return false, nil
	}

	recent = append(recent, now)
	if err := l.store.Save(ctx, userID, recent); err != nil {
		return false, err
	}
	return true, nil
}

// Limit reports the configured per-window call budget.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window reports the trailing interval length.
func (l *Limiter) Window() time.Duration {
	return l.window
}
