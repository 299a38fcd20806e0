package models

import "time"

type SenderType string

const (
	SenderUser SenderType = "user"
	SenderAI   SenderType = "ai"
)

type MessageType string

const (
	MessagePlain        MessageType = "plain"
	MessageAISuggestion MessageType = "ai_suggestion"
)

// Message is one turn of the case transcript. The transcript is append-only;
// messages are never mutated or deleted. SenderUserID is zero for AI turns.
type Message struct {
	ID           int64       `json:"id"`
	CaseID       int64       `json:"case_id"`
	SenderUserID int64       `json:"sender_user_id,omitempty"`
	SenderType   SenderType  `json:"sender_type"`
	MessageType  MessageType `json:"message_type"`
	Content      string      `json:"content"`
	CreatedAt    time.Time   `json:"created_at"`
}
