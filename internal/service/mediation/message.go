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

// AppendUserMessage stores a plain chat message from a participant.
func (s *Service) AppendUserMessage(ctx context.Context, userID, caseID int64, content string) (*models.Message, error) {
	if err := s.RequireParticipant(ctx, caseID, userID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	return s.insertMessage(ctx, models.Message{
		CaseID:       caseID,
		SenderUserID: userID,
		SenderType:   models.SenderUser,
		MessageType:  models.MessagePlain,
		Content:      content,
	})
}

// AppendAIMessage stores an AI suggestion in the transcript.
func (s *Service) AppendAIMessage(ctx context.Context, caseID int64, content string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}
	return s.insertMessage(ctx, models.Message{
		CaseID:      caseID,
		SenderType:  models.SenderAI,
		MessageType: models.MessageAISuggestion,
		Content:     content,
	})
}

func (s *Service) insertMessage(ctx context.Context, msg models.Message) (*models.Message, error) {
	now := time.Now().UTC()
	var sender interface{}
	if msg.SenderUserID > 0 {
		sender = msg.SenderUserID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (case_id, sender_user_id, sender_type, message_type, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.CaseID, sender, msg.SenderType, msg.MessageType, msg.Content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	s.publish(ctx, msg.CaseID, models.EntityMessage, &msg)
	return &msg, nil
}

// ListMessages returns the full case transcript in creation order.
func (s *Service) ListMessages(ctx context.Context, caseID int64) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, sender_user_id, sender_type, message_type, content, created_at
		 FROM messages WHERE case_id = ? ORDER BY created_at ASC, id ASC`,
		caseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RecentTurns returns the newest limit messages as labelled transcript turns
// for the prompt builder: Party A / Party B for participants, AI Mediator
// for assistant entries.
func (s *Service) RecentTurns(ctx context.Context, caseID int64, limit int) ([]LabelledTurn, error) {
	messages, err := s.ListMessages(ctx, caseID)
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

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	turns := make([]LabelledTurn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, LabelledTurn{
			Sender:  senderLabel(m, roleByUser),
			Content: m.Content,
		})
	}
	return turns, nil
}

// LastUserMessage returns the newest participant-authored message, or nil
// when the transcript has none.
func (s *Service) LastUserMessage(ctx context.Context, caseID int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, sender_user_id, sender_type, message_type, content, created_at
		 FROM messages WHERE case_id = ? AND sender_type = 'user'
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		caseID,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// LabelledTurn pairs a neutral sender label with message content.
type LabelledTurn struct {
	Sender  string
	Content string
}

func senderLabel(m *models.Message, roles map[int64]models.ParticipantRole) string {
	if m.SenderType == models.SenderAI {
		return "AI Mediator"
	}
	if role, ok := roles[m.SenderUserID]; ok {
		return partyLabel(role)
	}
	return "Unknown"
}

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	var sender *int64
	if err := row.Scan(&m.ID, &m.CaseID, &sender, &m.SenderType, &m.MessageType, &m.Content, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	if sender != nil {
		m.SenderUserID = *sender
	}
	return &m, nil
}
