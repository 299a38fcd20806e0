package models

import "time"

// CaseStatus tracks the mediation lifecycle.
type CaseStatus string

const (
	CaseDraft    CaseStatus = "draft"
	CaseActive   CaseStatus = "active"
	CaseResolved CaseStatus = "resolved"
)

// Case is a mediation matter between two parties.
type Case struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Type        string     `json:"type"`
	Status      CaseStatus `json:"status"`
	AISummary   string     `json:"ai_summary,omitempty"`
	InviteToken string     `json:"invite_token,omitempty"`
	InviteEmail string     `json:"invite_email,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ParticipantRole is fixed at creation time and never changes.
type ParticipantRole string

const (
	RoleInitiator    ParticipantRole = "initiator"
	RoleInvitedParty ParticipantRole = "invited_party"
)

// Participant links a user to a case together with their signing state.
type Participant struct {
	ID        int64           `json:"id"`
	CaseID    int64           `json:"case_id"`
	UserID    int64           `json:"user_id"`
	Role      ParticipantRole `json:"role"`
	HasSigned bool            `json:"has_signed"`
	SignedAt  *time.Time      `json:"signed_at,omitempty"`
}

// PartyContext is a participant's private background statement, written once
// during onboarding.
type PartyContext struct {
	ID                int64     `json:"id"`
	CaseID            int64     `json:"case_id"`
	UserID            int64     `json:"user_id"`
	Background        string    `json:"background"`
	Goals             string    `json:"goals"`
	AcceptableOutcome string    `json:"acceptable_outcome"`
	Constraints       string    `json:"constraints"`
	SensitivityLevel  string    `json:"sensitivity_level"`
	CreatedAt         time.Time `json:"created_at"`
}
