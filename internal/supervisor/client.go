package supervisor

import (
	"context"
	"time"

	"github.com/openclaw/wa-relay-go/internal/broker"
	"github.com/openclaw/wa-relay-go/internal/credential"
	"github.com/openclaw/wa-relay-go/internal/model"
)

// Client is one protocol connection for one session. Addresses passed in are
// already normalized.
type Client interface {
	// Connect opens the connection. Pairing and authentication progress is
	// reported on Events.
	Connect(ctx context.Context) error
	Events() <-chan Event
	// Close disconnects and drops every event subscription. Safe to call twice.
	Close()
	// Logout revokes the linked device on the network side.
	Logout(ctx context.Context) error

	SendText(ctx context.Context, to, text string) (SendResult, error)
	SendMedia(ctx context.Context, to string, media Media) (SendResult, error)

	JoinedGroups(ctx context.Context) ([]model.Group, error)
	CreateGroup(ctx context.Context, name string, participants []string) (*model.Group, error)
	UpdateParticipants(ctx context.Context, group string, participants []string, action model.ParticipantAction) error
	LeaveGroup(ctx context.Context, group string) error
	GroupInviteLink(ctx context.Context, group string, reset bool) (string, error)

	SetPresence(ctx context.Context, presence model.Presence) error
	SendTyping(ctx context.Context, chat string, typing bool) error
	SubscribePresence(ctx context.Context, address string) error
	SetStatusMessage(ctx context.Context, text string) error
	ProfilePictureURL(ctx context.Context, address string) (string, error)
	CheckNumbers(ctx context.Context, phones []string) ([]model.NumberCheck, error)
}

// ClientFactory builds a client from stored credentials. creds is nil for a
// session that has never paired, which starts a fresh pairing flow.
type ClientFactory interface {
	NewClient(ctx context.Context, sessionID string, creds *credential.Credentials) (Client, error)
}

type Publisher interface {
	Publish(ctx context.Context, event broker.Event) error
}

type SendResult struct {
	ID        string
	Timestamp time.Time
}

type Media struct {
	MimeType string
	Data     []byte
	Caption  string
	FileName string
}

// Event is anything a Client reports about its connection.
type Event interface {
	isEvent()
}

// QREvent carries a new pairing code. Artifact is the code rendered for display.
type QREvent struct {
	Code     string
	Artifact string
}

// ConnectedEvent fires once the connection is authenticated.
type ConnectedEvent struct {
	Phone string
}

// DisconnectedEvent is a recoverable drop.
type DisconnectedEvent struct {
	Reason string
}

// LoggedOutEvent means the stored credentials were revoked remotely.
type LoggedOutEvent struct {
	Reason string
}

// CredentialsEvent fires when pairing produced a new device identity.
type CredentialsEvent struct {
	DeviceID string
}

type MessageEvent struct {
	ID        string
	From      string
	Chat      string
	PushName  string
	Text      string
	MediaType model.MediaType
	Timestamp time.Time
}

func (QREvent) isEvent()           {}
func (ConnectedEvent) isEvent()    {}
func (DisconnectedEvent) isEvent() {}
func (LoggedOutEvent) isEvent()    {}
func (CredentialsEvent) isEvent()  {}
func (MessageEvent) isEvent()      {}
