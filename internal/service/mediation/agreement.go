package mediation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"accordgo/internal/models"
)

var (
	// ErrAgreementFinalized is returned by mutations against a frozen agreement.
	ErrAgreementFinalized = errors.New("agreement already finalized")
	// ErrNameMismatch is returned when the signing confirmation phrase does
	// not exactly match the signer's display name.
	ErrNameMismatch = errors.New("entered name does not match your display name")
)

// GetAgreement returns the case agreement, or nil when none exists yet.
func (s *Service) GetAgreement(ctx context.Context, caseID int64) (*models.Agreement, error) {
	var a models.Agreement
	var finalizedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, draft_text, finalized_text, status, finalized_at
		 FROM agreements WHERE case_id = ?`,
		caseID,
	).Scan(&a.ID, &a.CaseID, &a.DraftText, &a.FinalizedText, &a.Status, &finalizedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get agreement: %w", err)
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		a.FinalizedAt = &t
	}
	return &a, nil
}

// UpsertDraft creates the agreement lazily on first draft generation, or
// replaces the draft text in place. A finalized agreement is frozen; its
// draft is never touched again. Last write wins between concurrent drafters.
func (s *Service) UpsertDraft(ctx context.Context, caseID int64, draftText string) (*models.Agreement, error) {
	draftText = strings.TrimSpace(draftText)
	if draftText == "" {
		return nil, errors.New("draft text cannot be empty")
	}

	existing, err := s.GetAgreement(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == models.AgreementFinalized {
		return nil, ErrAgreementFinalized
	}

	_, err = s.db.ExecContext(ctx, s.agreementUpsertStmt(), caseID, draftText)
	if err != nil {
		return nil, fmt.Errorf("upsert agreement: %w", err)
	}

	a, err := s.GetAgreement(ctx, caseID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, caseID, models.EntityAgreement, a)
	return a, nil
}

// agreementUpsertStmt returns the draft upsert in the driver's dialect. Both
// variants only touch the draft while the agreement is still in draft status.
func (s *Service) agreementUpsertStmt() string {
	if s.driver == "mysql" {
		return `INSERT INTO agreements (case_id, draft_text, finalized_text, status)
		 VALUES (?, ?, '', 'draft')
		 ON DUPLICATE KEY UPDATE draft_text = IF(status = 'draft', VALUES(draft_text), draft_text)`
	}
	return `INSERT INTO agreements (case_id, draft_text, finalized_text, status)
	 VALUES (?, ?, '', 'draft')
	 ON CONFLICT(case_id) DO UPDATE SET draft_text = excluded.draft_text
	 WHERE agreements.status = 'draft'`
}

// FinalizeAgreement copies the draft into finalized text and freezes the
// record. The status guard makes finalization happen at most once.
func (s *Service) FinalizeAgreement(ctx context.Context, userID, caseID int64) (*models.Agreement, error) {
	if err := s.RequireParticipant(ctx, caseID, userID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE agreements SET finalized_text = draft_text, status = 'finalized', finalized_at = ?
		 WHERE case_id = ? AND status = 'draft'`,
		now, caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("finalize agreement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		existing, gerr := s.GetAgreement(ctx, caseID)
		if gerr != nil {
			return nil, gerr
		}
		if existing == nil {
			return nil, errors.New("no agreement to finalize")
		}
		return nil, ErrAgreementFinalized
	}

	a, err := s.GetAgreement(ctx, caseID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, caseID, models.EntityAgreement, a)
	return a, nil
}

// SignAgreement marks the participant as signed after an exact, case-sensitive
// match of the typed confirmation against their display name. When the last
// participant signs, the case is resolved through a single conditional update
// computed from a fresh unsigned count, so two concurrent signers cannot
// leave a fully-signed case unresolved.
func (s *Service) SignAgreement(ctx context.Context, userID, caseID int64, typedName string) (*models.Participant, error) {
	p, err := s.getParticipant(ctx, caseID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotParticipant
		}
		return nil, fmt.Errorf("lookup participant: %w", err)
	}

	agreement, err := s.GetAgreement(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if agreement == nil || agreement.Status != models.AgreementFinalized {
		return nil, errors.New("agreement is not finalized")
	}

	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup signer: %w", err)
	}
	if typedName != user.DisplayName {
		return nil, ErrNameMismatch
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE case_participants SET has_signed = 1, signed_at = ? WHERE id = ?`,
		now, p.ID,
	); err != nil {
		return nil, fmt.Errorf("record signature: %w", err)
	}
	p.HasSigned = true
	p.SignedAt = &now
	s.publish(ctx, caseID, models.EntityParticipant, p)

	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = 'resolved'
		 WHERE id = ? AND status = 'active'
		   AND (SELECT COUNT(*) FROM case_participants WHERE case_id = ? AND has_signed = 0) = 0`,
		caseID, caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("resolve case: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		if c, err := s.GetCase(ctx, caseID); err == nil {
			s.publish(ctx, caseID, models.EntityCase, c)
		}
	}
	return p, nil
}
