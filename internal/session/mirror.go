package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"accordgo/internal/models"
)

// Loader bulk-loads the current persisted state of one case.
type Loader interface {
	GetCase(ctx context.Context, caseID int64) (*models.Case, error)
	ListMessages(ctx context.Context, caseID int64) ([]*models.Message, error)
	ListParticipants(ctx context.Context, caseID int64) ([]models.Participant, error)
	ListContexts(ctx context.Context, caseID int64) ([]models.PartyContext, error)
	GetAgreement(ctx context.Context, caseID int64) (*models.Agreement, error)
}

// Mirror is the in-memory view of a single case: the transcript, the
// participants, their contexts, and the agreement. It is seeded with a bulk
// load and then kept current by applying change events. Nothing is ever
// removed; applying an event twice leaves the mirror unchanged.
type Mirror struct {
	caseID int64

	mu           sync.RWMutex
	kase         *models.Case
	messages     []*models.Message
	messageIndex map[int64]int
	participants map[int64]*models.Participant
	contexts     map[int64]*models.PartyContext
	agreement    *models.Agreement
}

// NewMirror creates an empty mirror for the case.
func NewMirror(caseID int64) *Mirror {
	return &Mirror{
		caseID:       caseID,
		messageIndex: make(map[int64]int),
		participants: make(map[int64]*models.Participant),
		contexts:     make(map[int64]*models.PartyContext),
	}
}

// Load replaces the mirror contents with the case's persisted state.
func (m *Mirror) Load(ctx context.Context, src Loader) error {
	kase, err := src.GetCase(ctx, m.caseID)
	if err != nil {
		return fmt.Errorf("load case: %w", err)
	}
	messages, err := src.ListMessages(ctx, m.caseID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	participants, err := src.ListParticipants(ctx, m.caseID)
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	contexts, err := src.ListContexts(ctx, m.caseID)
	if err != nil {
		return fmt.Errorf("load contexts: %w", err)
	}
	agreement, err := src.GetAgreement(ctx, m.caseID)
	if err != nil {
		return fmt.Errorf("load agreement: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.kase = kase
	m.messages = m.messages[:0]
	m.messageIndex = make(map[int64]int, len(messages))
	for _, msg := range messages {
		m.messageIndex[msg.ID] = len(m.messages)
		m.messages = append(m.messages, msg)
	}
	m.participants = make(map[int64]*models.Participant, len(participants))
	for i := range participants {
		p := participants[i]
		m.participants[p.ID] = &p
	}
	m.contexts = make(map[int64]*models.PartyContext, len(contexts))
	for i := range contexts {
		pc := contexts[i]
		m.contexts[pc.UserID] = &pc
	}
	m.agreement = agreement
	return nil
}

// Apply merges one change event into the mirror. Events for other cases and
// malformed payloads are rejected; an already-seen record updates in place.
func (m *Mirror) Apply(event models.ChangeEvent) error {
	if event.CaseID != m.caseID {
		return fmt.Errorf("event for case %d applied to mirror of case %d", event.CaseID, m.caseID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch event.Entity {
	case models.EntityMessage:
		var msg models.Message
		if err := json.Unmarshal(event.Payload, &msg); err != nil {
			return fmt.Errorf("decode message event: %w", err)
		}
		if idx, ok := m.messageIndex[msg.ID]; ok {
			m.messages[idx] = &msg
		} else {
			m.messageIndex[msg.ID] = len(m.messages)
			m.messages = append(m.messages, &msg)
		}
	case models.EntityParticipant:
		var p models.Participant
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return fmt.Errorf("decode participant event: %w", err)
		}
		m.participants[p.ID] = &p
	case models.EntityContext:
		var pc models.PartyContext
		if err := json.Unmarshal(event.Payload, &pc); err != nil {
			return fmt.Errorf("decode context event: %w", err)
		}
		m.contexts[pc.UserID] = &pc
	case models.EntityAgreement:
		var a models.Agreement
		if err := json.Unmarshal(event.Payload, &a); err != nil {
			return fmt.Errorf("decode agreement event: %w", err)
		}
		m.agreement = &a
	case models.EntityCase:
		var c models.Case
		if err := json.Unmarshal(event.Payload, &c); err != nil {
			return fmt.Errorf("decode case event: %w", err)
		}
		m.kase = &c
	default:
		return fmt.Errorf("unknown change entity %q", event.Entity)
	}
	return nil
}

// CaseID reports which case this mirror tracks.
func (m *Mirror) CaseID() int64 {
	return m.caseID
}

// Case returns the mirrored case record, or nil before the first load.
func (m *Mirror) Case() *models.Case {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.kase == nil {
		return nil
	}
	c := *m.kase
	return &c
}

// Messages returns a copy of the transcript in arrival order. Successive
// calls never return a shorter list.
func (m *Mirror) Messages() []*models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Participants returns the mirrored participants ordered by id.
func (m *Mirror) Participants() []models.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Participant, 0, len(m.participants))
	for _, p := range m.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContextFor returns the mirrored context for one participant, or nil.
func (m *Mirror) ContextFor(userID int64) *models.PartyContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.contexts[userID]
	if !ok {
		return nil
	}
	out := *pc
	return &out
}

// Contexts returns the mirrored party contexts ordered by id.
func (m *Mirror) Contexts() []models.PartyContext {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.PartyContext, 0, len(m.contexts))
	for _, pc := range m.contexts {
		out = append(out, *pc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Agreement returns the mirrored agreement, or nil when none exists.
func (m *Mirror) Agreement() *models.Agreement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.agreement == nil {
		return nil
	}
	a := *m.agreement
	return &a
}
