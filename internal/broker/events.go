package broker

import (
	"encoding/json"
	"time"

	"github.com/openclaw/wa-relay-go/internal/model"
)

const (
	EventPairingArtifact   = "pairing-artifact"
	EventSessionStatus     = "session-status"
	EventMessageReceived   = "message-received"
	EventMessageSent       = "message-sent"
	EventBroadcastProgress = "broadcast-progress"
	EventBroadcastComplete = "broadcast-complete"
	EventSessions          = "sessions"
	EventResult            = "result"
	EventError             = "error"
)

type Event struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent marshals payload into an event. Payloads are plain structs, so
// marshalling cannot fail in practice.
func NewEvent(eventType, sessionID string, payload any) Event {
	data, _ := json.Marshal(payload)
	return Event{Type: eventType, SessionID: sessionID, Data: data}
}

type PairingArtifactPayload struct {
	SessionID string `json:"sessionId"`
	Artifact  string `json:"artifact"`
	Code      string `json:"code"`
}

type SessionStatusPayload struct {
	SessionID   string              `json:"sessionId"`
	Status      model.SessionStatus `json:"status"`
	PhoneNumber string              `json:"phoneNumber,omitempty"`
}

type MessageReceivedPayload struct {
	SessionID string    `json:"sessionId"`
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Chat      string    `json:"chat"`
	PushName  string    `json:"pushName,omitempty"`
	Text      string    `json:"text"`
	MediaType string    `json:"mediaType,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageSentPayload struct {
	SessionID string    `json:"sessionId"`
	RequestID string    `json:"requestId,omitempty"`
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Message   string    `json:"message"`
	MediaType string    `json:"mediaType,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	OutcomeSent  = "sent"
	OutcomeError = "error"
)

type BroadcastProgressPayload struct {
	SessionID string `json:"sessionId"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Target    string `json:"target"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

type BroadcastCompletePayload struct {
	SessionID    string `json:"sessionId"`
	Total        int    `json:"total"`
	SuccessCount int    `json:"successCount"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Command   string `json:"command,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ResultPayload is the directed reply to a command that succeeded.
type ResultPayload struct {
	Command   string `json:"command"`
	RequestID string `json:"requestId,omitempty"`
	Data      any    `json:"data,omitempty"`
}
