package model

import "time"

type Session struct {
	ID          string        `db:"session_id" json:"sessionId"`
	Status      SessionStatus `db:"status" json:"status"`
	PhoneNumber *string       `db:"phone_number" json:"phoneNumber,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updatedAt"`
}

// SessionSnapshot is the live view of a session, overlaying in-memory
// connection state on the persisted record.
type SessionSnapshot struct {
	SessionID   string        `json:"sessionId"`
	Status      SessionStatus `json:"status"`
	PhoneNumber string        `json:"phoneNumber,omitempty"`
	Live        bool          `json:"live"`
	HasQR       bool          `json:"hasQr"`
	ConnectedAt *time.Time    `json:"connectedAt,omitempty"`
}
