package models

import "time"

type AgreementStatus string

const (
	AgreementDraft     AgreementStatus = "draft"
	AgreementFinalized AgreementStatus = "finalized"
)

// Agreement is the evolving settlement text for a case, one per case.
// It is created lazily on the first draft generation and mutated in place
// until finalized, after which the text is frozen.
type Agreement struct {
	ID            int64           `json:"id"`
	CaseID        int64           `json:"case_id"`
	DraftText     string          `json:"draft_text"`
	FinalizedText string          `json:"finalized_text,omitempty"`
	Status        AgreementStatus `json:"status"`
	FinalizedAt   *time.Time      `json:"finalized_at,omitempty"`
}
