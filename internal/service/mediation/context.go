package mediation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"accordgo/internal/models"
)

// InsertContext records a participant's private background statement during
// onboarding. One per participant per case; there is no update path.
func (s *Service) InsertContext(ctx context.Context, userID, caseID int64, pc models.PartyContext) (*models.PartyContext, error) {
	if err := s.RequireParticipant(ctx, caseID, userID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(pc.Background) == "" {
		return nil, errors.New("background is required")
	}
	if pc.SensitivityLevel == "" {
		pc.SensitivityLevel = "normal"
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO case_contexts (case_id, user_id, background, goals, acceptable_outcome, constraints_text, sensitivity_level, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		caseID, userID, pc.Background, pc.Goals, pc.AcceptableOutcome, pc.Constraints, pc.SensitivityLevel, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert context: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("context id: %w", err)
	}
	pc.ID = id
	pc.CaseID = caseID
	pc.UserID = userID
	pc.CreatedAt = now
	s.publish(ctx, caseID, models.EntityContext, &pc)
	return &pc, nil
}

// ListContexts returns the party contexts recorded for a case.
func (s *Service) ListContexts(ctx context.Context, caseID int64) ([]models.PartyContext, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, user_id, background, goals, acceptable_outcome, constraints_text, sensitivity_level, created_at
		 FROM case_contexts WHERE case_id = ? ORDER BY id`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var contexts []models.PartyContext
	for rows.Next() {
		var pc models.PartyContext
		if err := rows.Scan(&pc.ID, &pc.CaseID, &pc.UserID, &pc.Background, &pc.Goals,
			&pc.AcceptableOutcome, &pc.Constraints, &pc.SensitivityLevel, &pc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		contexts = append(contexts, pc)
	}
	return contexts, rows.Err()
}

// PartyContextsForPrompt maps stored contexts to neutral party labels for the
// prompt builder.
func (s *Service) PartyContextsForPrompt(ctx context.Context, caseID int64) ([]PartyLabelContext, error) {
	contexts, err := s.ListContexts(ctx, caseID)
	if err != nil {
		return nil, err
	}
	participants, err := s.ListParticipants(ctx, caseID)
	if err != nil {
		return nil, err
	}
	roleByUser := make(map[int64]models.ParticipantRole, len(participants))
	for _, p := range participants {
		roleByUser[p.UserID] = p.Role
	}

	out := make([]PartyLabelContext, 0, len(contexts))
	for _, pc := range contexts {
		out = append(out, PartyLabelContext{
			Party:             partyLabel(roleByUser[pc.UserID]),
			Background:        pc.Background,
			Goals:             pc.Goals,
			AcceptableOutcome: pc.AcceptableOutcome,
			Constraints:       pc.Constraints,
		})
	}
	return out, nil
}

// PartyLabelContext is a context record with the user replaced by a neutral
// party label, safe to hand to the prompt builder.
type PartyLabelContext struct {
	Party             string
	Background        string
	Goals             string
	AcceptableOutcome string
	Constraints       string
}

func partyLabel(role models.ParticipantRole) string {
	if role == models.RoleInitiator {
		return "Party A"
	}
	return "Party B"
}
