// Package gateway validates external commands and hands them to the
// supervisor. REST handlers call the typed methods; socket transports feed
// raw commands through Dispatch and get an event back.
package gateway

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/audit"
	"github.com/openclaw/wa-relay-go/internal/broker"
	apperrors "github.com/openclaw/wa-relay-go/internal/errors"
	"github.com/openclaw/wa-relay-go/internal/model"
	"github.com/openclaw/wa-relay-go/internal/supervisor"
	"github.com/openclaw/wa-relay-go/internal/util"
)

// Supervisor is the part of the connection supervisor the gateway drives.
type Supervisor interface {
	Start(ctx context.Context, sessionID string) (*model.SessionSnapshot, error)
	RequestPairingArtifact(ctx context.Context, sessionID string) (*supervisor.PairingState, error)
	Status(ctx context.Context, sessionID string) (*model.SessionSnapshot, error)
	List(ctx context.Context) ([]model.Session, error)
	History(ctx context.Context, params model.HistoryParams) ([]model.Message, error)
	Logout(ctx context.Context, sessionID string, purge bool) error
	Active(sessionID string) error

	Send(ctx context.Context, sessionID, to, text string) (*supervisor.MessageResult, error)
	SendMedia(ctx context.Context, sessionID, to string, media supervisor.Media) (*supervisor.MessageResult, error)
	Broadcast(ctx context.Context, sessionID string, recipients []string, text string) (*supervisor.BroadcastResult, error)

	ListGroups(ctx context.Context, sessionID string) ([]model.Group, error)
	CachedGroups(sessionID string) ([]model.Group, error)
	CreateGroup(ctx context.Context, sessionID, name string, participants []string) (*model.Group, error)
	UpdateParticipants(ctx context.Context, sessionID, group string, participants []string, action model.ParticipantAction) error
	LeaveGroup(ctx context.Context, sessionID, group string) error
	GroupInviteLink(ctx context.Context, sessionID, group string, reset bool) (string, error)

	SetPresence(ctx context.Context, sessionID string, presence model.Presence) error
	SendTyping(ctx context.Context, sessionID, to string, typing bool) error
	SubscribePresence(ctx context.Context, sessionID, to string) error
	SetStatusMessage(ctx context.Context, sessionID, text string) error
	ProfilePicture(ctx context.Context, sessionID, target string) (string, error)
	CheckNumbers(ctx context.Context, sessionID string, phones []string) ([]model.NumberCheck, error)
}

// Publisher carries failures of background work to observers.
type Publisher interface {
	Publish(ctx context.Context, event broker.Event) error
}

const (
	maxBroadcastRecipients = 500
	maxCheckNumbers        = 50
)

type Gateway struct {
	sup            Supervisor
	publisher      Publisher
	defaultSession string
	maxMediaBytes  int64

	// background tracks broadcasts that outlive the command that started them.
	background sync.WaitGroup
}

// New builds a gateway. publisher may be nil, in which case background
// failures are only logged.
func New(sup Supervisor, publisher Publisher, defaultSession string, maxMediaBytes int64) *Gateway {
	return &Gateway{
		sup:            sup,
		publisher:      publisher,
		defaultSession: defaultSession,
		maxMediaBytes:  maxMediaBytes,
	}
}

// Wait blocks until every background broadcast has finished.
func (g *Gateway) Wait() {
	g.background.Wait()
}

// SessionID resolves an optional session id against the configured default.
func (g *Gateway) SessionID(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = g.defaultSession
	}
	if !util.IsValidSessionID(sessionID) {
		return "", apperrors.InvalidInput("sessionId", "must be 1-64 letters, digits, '.', '_' or '-'")
	}
	return sessionID, nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return apperrors.MissingRequired(field)
	}
	return nil
}

func (g *Gateway) StartSession(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	snap, err := g.sup.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	audit.LogContext(ctx, audit.Event{Type: audit.EventSessionStart, SessionID: id})
	return snap, nil
}

func (g *Gateway) RequestPairing(ctx context.Context, sessionID string) (*supervisor.PairingState, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return g.sup.RequestPairingArtifact(ctx, id)
}

func (g *Gateway) SessionStatus(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	return g.sup.Status(ctx, id)
}

func (g *Gateway) ListSessions(ctx context.Context) ([]model.Session, error) {
	return g.sup.List(ctx)
}

func (g *Gateway) History(ctx context.Context, sessionID string, limit int, reverse bool) ([]model.Message, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, apperrors.InvalidInput("limit", "must be positive")
	}
	return g.sup.History(ctx, model.HistoryParams{SessionID: id, Limit: limit, Reverse: reverse})
}

func (g *Gateway) Logout(ctx context.Context, sessionID string, purge bool) error {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return err
	}
	if err := g.sup.Logout(ctx, id, purge); err != nil {
		return err
	}

	eventType := audit.EventSessionLogout
	if purge {
		eventType = audit.EventSessionPurge
	}
	audit.LogContext(ctx, audit.Event{Type: eventType, SessionID: id})
	return nil
}

func (g *Gateway) Send(ctx context.Context, sessionID, to, message string) (*supervisor.MessageResult, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if err := required("to", to); err != nil {
		return nil, err
	}
	if err := required("message", message); err != nil {
		return nil, err
	}
	return g.sup.Send(ctx, id, to, message)
}

func (g *Gateway) SendMedia(ctx context.Context, sessionID, to string, media supervisor.Media) (*supervisor.MessageResult, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if err := required("to", to); err != nil {
		return nil, err
	}
	if err := required("mime", media.MimeType); err != nil {
		return nil, err
	}
	if len(media.Data) == 0 {
		return nil, apperrors.MissingRequired("data")
	}
	if g.maxMediaBytes > 0 && int64(len(media.Data)) > g.maxMediaBytes {
		return nil, apperrors.InvalidInput("data", "exceeds the upload limit")
	}
	return g.sup.SendMedia(ctx, id, to, media)
}

func (g *Gateway) validateBroadcast(sessionID string, recipients []string, message string) (string, []string, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return "", nil, err
	}
	if err := required("message", message); err != nil {
		return "", nil, err
	}

	cleaned := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	if len(cleaned) == 0 {
		return "", nil, apperrors.MissingRequired("recipients")
	}
	if len(cleaned) > maxBroadcastRecipients {
		return "", nil, apperrors.InvalidInput("recipients", "too many recipients")
	}
	return id, cleaned, nil
}

// Broadcast runs the whole broadcast before returning.
func (g *Gateway) Broadcast(ctx context.Context, sessionID string, recipients []string, message string) (*supervisor.BroadcastResult, error) {
	id, cleaned, err := g.validateBroadcast(sessionID, recipients, message)
	if err != nil {
		return nil, err
	}
	return g.sup.Broadcast(ctx, id, cleaned, message)
}

// BroadcastAsync validates and checks the session is connected, then returns
// at once; progress arrives as events. The broadcast keeps running after ctx
// is cancelled. If it fails later an error event is published for the session.
func (g *Gateway) BroadcastAsync(ctx context.Context, sessionID string, recipients []string, message string) (string, int, error) {
	id, cleaned, err := g.validateBroadcast(sessionID, recipients, message)
	if err != nil {
		return "", 0, err
	}
	if err := g.sup.Active(id); err != nil {
		return "", 0, err
	}

	audit.LogContext(ctx, audit.Event{
		Type:      audit.EventBroadcastAccepted,
		SessionID: id,
		Details:   map[string]any{"total": len(cleaned)},
	})

	bg := context.WithoutCancel(ctx)
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		if _, err := g.sup.Broadcast(bg, id, cleaned, message); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("broadcast failed")
			g.publishFailure(bg, id, CmdBroadcast, err)
		}
	}()
	return id, len(cleaned), nil
}

func (g *Gateway) publishFailure(ctx context.Context, sessionID, command string, err error) {
	if g.publisher == nil {
		return
	}
	event := broker.NewEvent(broker.EventError, sessionID, errorPayload(command, "", err))
	if err := g.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to publish broadcast failure")
	}
}

// ListGroups fetches joined groups, or with cached set returns the snapshot
// from the last fetch without a network call.
func (g *Gateway) ListGroups(ctx context.Context, sessionID string, cached bool) ([]model.Group, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if cached {
		return g.sup.CachedGroups(id)
	}
	return g.sup.ListGroups(ctx, id)
}

func (g *Gateway) CreateGroup(ctx context.Context, sessionID, name string, participants []string) (*model.Group, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if err := required("name", name); err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, apperrors.MissingRequired("participants")
	}
	return g.sup.CreateGroup(ctx, id, name, participants)
}

func (g *Gateway) UpdateParticipants(ctx context.Context, sessionID, group string, participants []string, action string) error {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return err
	}
	if err := required("group", group); err != nil {
		return err
	}
	if len(participants) == 0 {
		return apperrors.MissingRequired("participants")
	}
	if err := required("action", action); err != nil {
		return err
	}
	return g.sup.UpdateParticipants(ctx, id, group, participants, model.ParticipantAction(action))
}

func (g *Gateway) LeaveGroup(ctx context.Context, sessionID, group string) error {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return err
	}
	if err := required("group", group); err != nil {
		return err
	}
	return g.sup.LeaveGroup(ctx, id, group)
}

func (g *Gateway) GroupInviteLink(ctx context.Context, sessionID, group string, reset bool) (string, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return "", err
	}
	if err := required("group", group); err != nil {
		return "", err
	}
	return g.sup.GroupInviteLink(ctx, id, group, reset)
}

func (g *Gateway) SetPresence(ctx context.Context, sessionID, presence string) error {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return err
	}
	if err := required("presence", presence); err != nil {
		return err
	}
	return g.sup.SetPresence(ctx, id, model.Presence(presence))
}

func (g *Gateway) SendTyping(ctx context.Context, sessionID, to string, typing bool) error {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return err
	}
	if err := required("to", to); err != nil {
		return err
	}
	return g.sup.SendTyping(ctx, id, to, typing)
}

func (g *Gateway) SubscribePresence(ctx context.Context, sessionID, to string) error {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return err
	}
	if err := required("to", to); err != nil {
		return err
	}
	return g.sup.SubscribePresence(ctx, id, to)
}

func (g *Gateway) SetStatusMessage(ctx context.Context, sessionID, text string) error {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return err
	}
	if err := required("message", text); err != nil {
		return err
	}
	return g.sup.SetStatusMessage(ctx, id, text)
}

func (g *Gateway) ProfilePicture(ctx context.Context, sessionID, target string) (string, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return "", err
	}
	if err := required("target", target); err != nil {
		return "", err
	}
	return g.sup.ProfilePicture(ctx, id, target)
}

func (g *Gateway) CheckNumbers(ctx context.Context, sessionID string, phones []string) ([]model.NumberCheck, error) {
	id, err := g.SessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if len(phones) == 0 {
		return nil, apperrors.MissingRequired("phones")
	}
	if len(phones) > maxCheckNumbers {
		return nil, apperrors.InvalidInput("phones", "too many numbers")
	}
	return g.sup.CheckNumbers(ctx, id, phones)
}
