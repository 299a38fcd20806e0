package models

import "time"

// CaseFile is a document uploaded by a participant as case evidence.
type CaseFile struct {
	ID         int64     `json:"id"`
	CaseID     int64     `json:"case_id"`
	UserID     int64     `json:"user_id"`
	FileName   string    `json:"file_name"`
	StoredPath string    `json:"stored_path"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}
