package model

import "time"

type Message struct {
	ID        int64            `db:"id" json:"id"`
	SessionID string           `db:"session_id" json:"sessionId"`
	Direction MessageDirection `db:"direction" json:"direction"`
	From      string           `db:"from_address" json:"from"`
	To        string           `db:"to_address" json:"to"`
	Text      *string          `db:"text" json:"text,omitempty"`
	MediaType *MediaType       `db:"media_type" json:"mediaType,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

type CreateMessageParams struct {
	SessionID string
	Direction MessageDirection
	From      string
	To        string
	Text      *string
	MediaType *MediaType
	CreatedAt time.Time
}

type HistoryParams struct {
	SessionID string
	Limit     int
	// Oldest-first instead of newest-first, over the same newest window.
	Reverse bool
}
