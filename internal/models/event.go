package models

import "encoding/json"

// ChangeEntity names the record kind carried by a ChangeEvent.
type ChangeEntity string

const (
	EntityMessage     ChangeEntity = "message"
	EntityParticipant ChangeEntity = "participant"
	EntityContext     ChangeEntity = "context"
	EntityAgreement   ChangeEntity = "agreement"
	EntityCase        ChangeEntity = "case"
)

// ChangeEvent is one record change pushed over the case change feed.
// Only inserts and updates exist; nothing in a case is ever deleted.
type ChangeEvent struct {
	CaseID  int64           `json:"case_id"`
	Entity  ChangeEntity    `json:"entity"`
	Payload json.RawMessage `json:"payload"`
}
