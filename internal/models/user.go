package models

import "time"

// User is a registered account. DisplayName doubles as the confirmation
// phrase a participant must type when signing an agreement.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
