package mediation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"accordgo/internal/models"
)

// ErrNotParticipant is returned when a user acts on a case they do not belong to.
var ErrNotParticipant = errors.New("not a participant of this case")

// CreateDraftCase opens a new case in draft status and enrolls the creator
// as the initiator.
func (s *Service) CreateDraftCase(ctx context.Context, userID int64, title, description, caseType string) (*models.Case, error) {
	title = strings.TrimSpace(title)
	caseType = strings.TrimSpace(caseType)
	if title == "" {
		return nil, errors.New("title is required")
	}
	if caseType == "" {
		return nil, errors.New("type is required")
	}

	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO cases (title, description, case_type, status, ai_summary, created_by, created_at)
		 VALUES (?, ?, ?, 'draft', '', ?, ?)`,
		title, description, caseType, userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}
	caseID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("case id: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO case_participants (case_id, user_id, role) VALUES (?, ?, ?)`,
		caseID, userID, models.RoleInitiator,
	); err != nil {
		return nil, fmt.Errorf("enroll initiator: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit create case: %w", err)
	}

	c := &models.Case{
		ID:          caseID,
		Title:       title,
		Description: description,
		Type:        caseType,
		Status:      models.CaseDraft,
		CreatedBy:   userID,
		CreatedAt:   now,
	}
	s.publish(ctx, caseID, models.EntityCase, c)
	return c, nil
}

// GenerateInvite mints an invite token for the case and records the invitee
// address. Only the initiator may invite.
func (s *Service) GenerateInvite(ctx context.Context, userID, caseID int64, inviteEmail string) (string, error) {
	role, err := s.participantRole(ctx, caseID, userID)
	if err != nil {
		return "", err
	}
	if role != models.RoleInitiator {
		return "", errors.New("only the initiator can send invites")
	}

	token := uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cases SET invite_token = ?, invite_email = ? WHERE id = ?`,
		token, strings.TrimSpace(inviteEmail), caseID,
	); err != nil {
		return "", fmt.Errorf("store invite: %w", err)
	}
	if c, err := s.GetCase(ctx, caseID); err == nil {
		s.publish(ctx, caseID, models.EntityCase, c)
	}
	return token, nil
}

// ValidateInviteToken resolves an invite token to its case.
func (s *Service) ValidateInviteToken(ctx context.Context, token string) (*models.Case, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("invite token is required")
	}
	return s.scanCase(s.db.QueryRowContext(ctx,
		caseSelect+` WHERE invite_token = ?`, token,
	))
}

// JoinCase enrolls the user as the invited party on the case behind the token.
func (s *Service) JoinCase(ctx context.Context, userID int64, token string) (*models.Case, error) {
	c, err := s.ValidateInviteToken(ctx, token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.New("invalid invite token")
		}
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO case_participants (case_id, user_id, role) VALUES (?, ?, ?)`,
		c.ID, userID, models.RoleInvitedParty,
	); err != nil {
		return nil, fmt.Errorf("join case: %w", err)
	}
	if p, perr := s.getParticipant(ctx, c.ID, userID); perr == nil {
		s.publish(ctx, c.ID, models.EntityParticipant, p)
	}
	return c, nil
}

// ActivateCase moves a draft case to active once onboarding is done.
func (s *Service) ActivateCase(ctx context.Context, userID, caseID int64) error {
	if _, err := s.participantRole(ctx, caseID, userID); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = 'active' WHERE id = ? AND status = 'draft'`, caseID,
	)
	if err != nil {
		return fmt.Errorf("activate case: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return errors.New("case is not in draft status")
	}
	if c, err := s.GetCase(ctx, caseID); err == nil {
		s.publish(ctx, caseID, models.EntityCase, c)
	}
	return nil
}

// SetAISummary stores the latest AI-generated situation summary on the case.
func (s *Service) SetAISummary(ctx context.Context, caseID int64, summary string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE cases SET ai_summary = ? WHERE id = ?`, summary, caseID,
	); err != nil {
		return fmt.Errorf("store summary: %w", err)
	}
	if c, err := s.GetCase(ctx, caseID); err == nil {
		s.publish(ctx, caseID, models.EntityCase, c)
	}
	return nil
}

// ListCases returns every case the user participates in, newest first.
func (s *Service) ListCases(ctx context.Context, userID int64) ([]models.Case, error) {
	rows, err := s.db.QueryContext(ctx,
		caseSelect+` JOIN case_participants p ON p.case_id = cases.id
		 WHERE p.user_id = ? ORDER BY cases.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var cases []models.Case
	for rows.Next() {
		c, err := scanCaseRow(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, rows.Err()
}

// GetCase fetches one case by id.
func (s *Service) GetCase(ctx context.Context, caseID int64) (*models.Case, error) {
	return s.scanCase(s.db.QueryRowContext(ctx, caseSelect+` WHERE cases.id = ?`, caseID))
}

// ListParticipants returns the case roster.
func (s *Service) ListParticipants(ctx context.Context, caseID int64) ([]models.Participant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, user_id, role, has_signed, signed_at
		 FROM case_participants WHERE case_id = ? ORDER BY id`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []models.Participant
	for rows.Next() {
		var p models.Participant
		var signedAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.CaseID, &p.UserID, &p.Role, &p.HasSigned, &signedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		if signedAt.Valid {
			t := signedAt.Time
			p.SignedAt = &t
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// RequireParticipant verifies case membership for the user.
func (s *Service) RequireParticipant(ctx context.Context, caseID, userID int64) error {
	_, err := s.participantRole(ctx, caseID, userID)
	return err
}

func (s *Service) participantRole(ctx context.Context, caseID, userID int64) (models.ParticipantRole, error) {
	var role models.ParticipantRole
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM case_participants WHERE case_id = ? AND user_id = ?`,
		caseID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotParticipant
		}
		return "", fmt.Errorf("lookup participant: %w", err)
	}
	return role, nil
}

func (s *Service) getParticipant(ctx context.Context, caseID, userID int64) (*models.Participant, error) {
	var p models.Participant
	var signedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, user_id, role, has_signed, signed_at
		 FROM case_participants WHERE case_id = ? AND user_id = ?`,
		caseID, userID,
	).Scan(&p.ID, &p.CaseID, &p.UserID, &p.Role, &p.HasSigned, &signedAt)
	if err != nil {
		return nil, err
	}
	if signedAt.Valid {
		t := signedAt.Time
		p.SignedAt = &t
	}
	return &p, nil
}

const caseSelect = `SELECT cases.id, cases.title, cases.description, cases.case_type, cases.status,
	cases.ai_summary, cases.invite_token, cases.invite_email, cases.created_by, cases.created_at
	FROM cases`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Service) scanCase(row rowScanner) (*models.Case, error) {
	c, err := scanCaseRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	return c, nil
}

func scanCaseRow(row rowScanner) (*models.Case, error) {
	var c models.Case
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Type, &c.Status,
		&c.AISummary, &c.InviteToken, &c.InviteEmail, &c.CreatedBy, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
