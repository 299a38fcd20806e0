package mediation

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"accordgo/internal/models"
)

// ChangePublisher pushes record changes onto the case change feed. Writes
// succeed even when publishing fails; the feed is best-effort.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev models.ChangeEvent) error
}

// Service owns case records and everything scoped to them: participants,
// contexts, transcript, agreement, files.
type Service struct {
	db     *sql.DB
	driver string
	feed   ChangePublisher
}

// NewService builds a mediation service. The driver selects SQL dialect
// where sqlite and mysql differ; feed may be nil in tests.
func NewService(db *sql.DB, driver string, feed ChangePublisher) *Service {
	return &Service{db: db, driver: strings.ToLower(driver), feed: feed}
}

// DB exposes the underlying handle for components sharing the store.
func (s *Service) DB() *sql.DB {
	return s.db
}

func (s *Service) publish(ctx context.Context, caseID int64, entity models.ChangeEntity, payload interface{}) {
	if s.feed == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("encode change event: %v", err)
		return
	}
	ev := models.ChangeEvent{CaseID: caseID, Entity: entity, Payload: raw}
	if err := s.feed.PublishChange(ctx, ev); err != nil {
		log.Printf("publish change event case=%d entity=%s: %v", caseID, entity, err)
	}
}

// RegisterUser creates an account. The display name is later required as the
// exact signing confirmation phrase.
func (s *Service) RegisterUser(ctx context.Context, email, displayName, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	displayName = strings.TrimSpace(displayName)
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}
	if displayName == "" {
		displayName = email
	}

	hash := hashPassword(password)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, display_name, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		email, displayName, hash, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, Email: email, DisplayName: displayName, PasswordHash: hash, CreatedAt: now}, nil
}

// Login validates credentials and returns the user profile.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return nil, errors.New("email and password are required")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, password_hash, created_at FROM users WHERE email = ?`, email,
	)
	var user models.User
	if err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid credentials")
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	if user.PasswordHash != hashPassword(password) {
		return nil, errors.New("invalid credentials")
	}
	return &user, nil
}

// GetUser fetches a user profile by id.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, display_name, created_at FROM users WHERE id = ?`, id,
	).Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// DeleteUser removes a user and cascaded data.
func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	if id <= 0 {
		return errors.New("invalid user id")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func hashPassword(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
