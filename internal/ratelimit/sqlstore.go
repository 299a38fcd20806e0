package ratelimit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLStore keeps rate-limit timestamps in the rate_limits table, one row per
// user holding a JSON array of unix-millisecond stamps.
type SQLStore struct {
	db       *sql.DB
	saveStmt string
}

// NewSQLStore builds a store over the shared database handle. The driver
// picks the upsert dialect, mirroring the per-driver migrations.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	s := &SQLStore{db: db}
	switch strings.ToLower(driver) {
	case "mysql":
		s.saveStmt = `INSERT INTO rate_limits (user_id, timestamps)
			 VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE timestamps = VALUES(timestamps)`
	default:
		s.saveStmt = `INSERT INTO rate_limits (user_id, timestamps)
			 VALUES (?, ?)
			 ON CONFLICT(user_id) DO UPDATE SET timestamps = excluded.timestamps`
	}
	return s
}

// Load returns the stored timestamps for the user, empty when no row exists.
func (s *SQLStore) Load(ctx context.Context, userID int64) ([]time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT timestamps FROM rate_limits WHERE user_id = ?`, userID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load rate limits: %w", err)
	}
	var millis []int64
	if err := json.Unmarshal([]byte(raw), &millis); err != nil {
		return nil, fmt.Errorf("decode rate limits: %w", err)
	}
	stamps := make([]time.Time, 0, len(millis))
	for _, ms := range millis {
		stamps = append(stamps, time.UnixMilli(ms))
	}
	return stamps, nil
}

// Save upserts the user's timestamp list.
func (s *SQLStore) Save(ctx context.Context, userID int64, stamps []time.Time) error {
	millis := make([]int64, 0, len(stamps))
	for _, ts := range stamps {
		millis = append(millis, ts.UnixMilli())
	}
	raw, err := json.Marshal(millis)
	if err != nil {
		return fmt.Errorf("encode rate limits: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.saveStmt, userID, string(raw))
	if err != nil {
		return fmt.Errorf("store rate limits: %w", err)
	}
	return nil
}

// PruneStale deletes rows whose newest stamp fell out of the window. The
// background cleaner calls this so abandoned accounts do not accumulate rows.
func (s *SQLStore) PruneStale(ctx context.Context, window time.Duration) error {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, timestamps FROM rate_limits`)
	if err != nil {
		return fmt.Errorf("scan rate limits: %w", err)
	}
	defer rows.Close()

	cutoff := time.Now().Add(-window).UnixMilli()
	var stale []int64
	for rows.Next() {
		var userID int64
		var raw string
		if err := rows.Scan(&userID, &raw); err != nil {
			return fmt.Errorf("scan rate limit row: %w", err)
		}
		var millis []int64
		if err := json.Unmarshal([]byte(raw), &millis); err != nil {
			stale = append(stale, userID)
			continue
		}
		live := false
		for _, ms := range millis {
			if ms > cutoff {
				live = true
				break
			}
		}
		if !live {
			stale = append(stale, userID)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	for _, userID := range stale {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("prune rate limits: %w", err)
		}
	}
	return nil
}
