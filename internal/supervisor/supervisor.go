// Package supervisor owns every live messaging connection. It drives each
// session through loading, qr_pending, connected, disconnected and
// logged_out, reconnects after recoverable drops, and mirrors every change
// into the session and message stores and onto the event broker.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/credential"
	apperrors "github.com/openclaw/wa-relay-go/internal/errors"
	"github.com/openclaw/wa-relay-go/internal/model"
	"github.com/openclaw/wa-relay-go/internal/repository"
)

type Options struct {
	ReconnectDelay time.Duration
	// MaxReconnectAttempts of zero retries forever.
	MaxReconnectAttempts int
	// BroadcastDelay is the pause between consecutive broadcast sends.
	BroadcastDelay   time.Duration
	CountryCode      string
	OperationTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 30 * time.Second
	}
	return o
}

type Supervisor struct {
	factory   ClientFactory
	creds     credential.Store
	sessions  repository.SessionRepository
	messages  repository.MessageRepository
	publisher Publisher
	opts      Options

	mu     sync.Mutex
	conns  map[string]*connection
	closed bool
}

func New(
	factory ClientFactory,
	creds credential.Store,
	sessions repository.SessionRepository,
	messages repository.MessageRepository,
	publisher Publisher,
	opts Options,
) *Supervisor {
	return &Supervisor{
		factory:   factory,
		creds:     creds,
		sessions:  sessions,
		messages:  messages,
		publisher: publisher,
		opts:      opts.withDefaults(),
		conns:     make(map[string]*connection),
	}
}

// Start brings a session online. A session that already has a connection is
// left alone; a caller arriving while another start is in flight waits for
// that start and shares its outcome.
func (s *Supervisor) Start(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperrors.Internal("supervisor is shutting down")
	}
	c, exists := s.conns[sessionID]
	if !exists {
		c = newConnection(sessionID)
		s.conns[sessionID] = c
	}
	s.mu.Unlock()

	if exists {
		return s.join(ctx, c)
	}

	log.Info().Str("session_id", sessionID).Msg("starting session")

	err := s.open(ctx, c)
	c.mu.Lock()
	c.opening = false
	c.mu.Unlock()
	c.startErr = err
	close(c.ready)

	if err != nil {
		s.retryAfter(c, err)
		return nil, err
	}

	snap := c.snapshot()
	return &snap, nil
}

func (s *Supervisor) join(ctx context.Context, c *connection) (*model.SessionSnapshot, error) {
	select {
	case <-c.ready:
		// A finished connection waiting out its retry delay is retried now.
		if c.idle() {
			if err := s.reconnect(ctx, c); err != nil {
				return nil, err
			}
		}
	default:
		select {
		case <-c.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if c.startErr != nil {
			return nil, c.startErr
		}
	}

	snap := c.snapshot()
	return &snap, nil
}

// PairingState is the current pairing artifact of a session, if any.
type PairingState struct {
	SessionID string              `json:"sessionId"`
	Status    model.SessionStatus `json:"status"`
	Artifact  string              `json:"artifact,omitempty"`
	Code      string              `json:"code,omitempty"`
}

// RequestPairingArtifact returns the cached artifact, starting the session
// when none is cached. A freshly started session delivers its artifact later
// as a pairing-artifact event.
func (s *Supervisor) RequestPairingArtifact(ctx context.Context, sessionID string) (*PairingState, error) {
	if c := s.lookup(sessionID); c != nil {
		if state := c.pairingState(); state.Artifact != "" {
			return &state, nil
		}
	}

	if _, err := s.Start(ctx, sessionID); err != nil {
		return nil, err
	}

	c := s.lookup(sessionID)
	if c == nil {
		return nil, apperrors.SessionNotActive(sessionID)
	}
	state := c.pairingState()
	return &state, nil
}

func (c *connection) pairingState() PairingState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return PairingState{
		SessionID: c.sessionID,
		Status:    c.status,
		Artifact:  c.artifact,
		Code:      c.qrCode,
	}
}

// Logout tears a session down for good: best-effort protocol logout, the
// connection is dropped, any pending reconnect is cancelled and the record
// is marked logged_out. purge also deletes the credentials and the record.
func (s *Supervisor) Logout(ctx context.Context, sessionID string, purge bool) error {
	c := s.lookup(sessionID)
	if c == nil {
		record, err := s.sessions.FindByID(ctx, sessionID)
		if err != nil {
			return apperrors.Store(err)
		}
		if record == nil {
			return apperrors.NotFound("Session")
		}
	}

	if c != nil {
		s.remove(c)
		if client := c.shutdown(); client != nil {
			if err := client.Logout(ctx); err != nil {
				log.Warn().Err(err).Str("session_id", sessionID).Msg("protocol logout failed, continuing")
			}
			client.Close()
		}
		s.transition(ctx, c, model.SessionStatusLoggedOut, "")
	} else {
		s.persistStatus(ctx, sessionID, model.SessionStatusLoggedOut, "")
		s.publishStatus(ctx, sessionID, model.SessionStatusLoggedOut, "")
	}

	log.Info().Str("session_id", sessionID).Bool("purge", purge).Msg("session logged out")

	if !purge {
		return nil
	}
	if err := s.creds.Delete(ctx, sessionID); err != nil {
		return apperrors.Store(err)
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return apperrors.Store(err)
	}
	return nil
}

// Status returns the live view of a session, or its stored record when no
// connection exists.
func (s *Supervisor) Status(ctx context.Context, sessionID string) (*model.SessionSnapshot, error) {
	if c := s.lookup(sessionID); c != nil {
		snap := c.snapshot()
		return &snap, nil
	}

	record, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	if record == nil {
		return nil, apperrors.NotFound("Session")
	}

	snap := model.SessionSnapshot{SessionID: record.ID, Status: record.Status}
	if record.PhoneNumber != nil {
		snap.PhoneNumber = *record.PhoneNumber
	}
	return &snap, nil
}

// List returns every session record with live status laid over it.
func (s *Supervisor) List(ctx context.Context) ([]model.Session, error) {
	sessions, err := s.sessions.List(ctx)
	if err != nil {
		return nil, apperrors.Store(err)
	}

	for i := range sessions {
		if c := s.lookup(sessions[i].ID); c != nil {
			snap := c.snapshot()
			sessions[i].Status = snap.Status
			if snap.PhoneNumber != "" {
				phone := snap.PhoneNumber
				sessions[i].PhoneNumber = &phone
			}
		}
	}
	return sessions, nil
}

func (s *Supervisor) History(ctx context.Context, params model.HistoryParams) ([]model.Message, error) {
	msgs, err := s.messages.History(ctx, params)
	if err != nil {
		return nil, apperrors.Store(err)
	}
	return msgs, nil
}

// RestoreAll starts every stored session that was not logged out.
func (s *Supervisor) RestoreAll(ctx context.Context) error {
	sessions, err := s.sessions.ListRestorable(ctx)
	if err != nil {
		return apperrors.Store(err)
	}

	for _, session := range sessions {
		if _, err := s.Start(ctx, session.ID); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to restore session")
		}
	}

	log.Info().Int("count", len(sessions)).Msg("sessions restored")
	return nil
}

// Shutdown closes every connection without logging out, so the sessions
// come back on the next start.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	s.closed = true
	conns := s.conns
	s.conns = make(map[string]*connection)
	s.mu.Unlock()

	for _, c := range conns {
		if client := c.shutdown(); client != nil {
			client.Close()
		}
	}

	log.Info().Int("count", len(conns)).Msg("supervisor stopped")
}

// LiveCount is the number of sessions with a connection in the registry.
func (s *Supervisor) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Supervisor) lookup(sessionID string) *connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[sessionID]
}

// remove deletes c from the registry unless it was already replaced.
func (s *Supervisor) remove(c *connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[c.sessionID] == c {
		delete(s.conns, c.sessionID)
	}
}
