package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/broker"
	apperrors "github.com/openclaw/wa-relay-go/internal/errors"
	"github.com/openclaw/wa-relay-go/internal/model"
	"github.com/openclaw/wa-relay-go/internal/util"
)

// connection is the in-memory state of one session. Callers never see it.
type connection struct {
	sessionID string
	createdAt time.Time

	// ready is closed once the first open attempt has finished; startErr is
	// its outcome.
	ready    chan struct{}
	startErr error

	// writeMu orders status persistence and publication so observers see
	// transitions in the order they happened.
	writeMu sync.Mutex

	mu          sync.Mutex
	client      Client
	stop        chan struct{}
	status      model.SessionStatus
	phone       string
	qrCode      string
	artifact    string
	connectedAt *time.Time
	groups      []model.Group
	attempts    int
	retry       *time.Timer
	opening     bool
	closed      bool
}

func newConnection(sessionID string) *connection {
	return &connection{
		sessionID: sessionID,
		createdAt: time.Now(),
		ready:     make(chan struct{}),
		status:    model.SessionStatusLoading,
		opening:   true,
	}
}

func (c *connection) snapshot() model.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.SessionSnapshot{
		SessionID:   c.sessionID,
		Status:      c.status,
		PhoneNumber: c.phone,
		Live:        !c.closed && c.client != nil,
		HasQR:       c.artifact != "",
		ConnectedAt: c.connectedAt,
	}
}

// attach installs client as the current protocol handle unless the
// connection was torn down meanwhile.
func (c *connection) attach(client Client, stop chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.client = client
	c.stop = stop
	return true
}

func (c *connection) owns(client Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.client == client
}

// idle reports whether the connection sits in disconnected waiting for a retry.
func (c *connection) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.opening && c.status == model.SessionStatusDisconnected
}

// shutdown marks the connection dead and hands back the client to close.
func (c *connection) shutdown() Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	client := c.client
	c.client = nil
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	return client
}

func (c *connection) ownAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phone == "" {
		return c.sessionID
	}
	return c.phone + "@" + util.UserServer
}

// open loads credentials, builds a client and connects it. The caller's
// cancellation does not reach the connection itself.
func (s *Supervisor) open(ctx context.Context, c *connection) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.OperationTimeout)
	defer cancel()

	s.transition(ctx, c, model.SessionStatusLoading, "")

	creds, err := s.creds.Load(ctx, c.sessionID)
	if err != nil {
		return apperrors.ConnectionInit(c.sessionID, err)
	}

	client, err := s.factory.NewClient(ctx, c.sessionID, creds)
	if err != nil {
		return apperrors.ConnectionInit(c.sessionID, err)
	}

	stop := make(chan struct{})
	if !c.attach(client, stop) {
		client.Close()
		return apperrors.SessionNotActive(c.sessionID)
	}
	go s.watch(c, client, stop)

	if err := client.Connect(ctx); err != nil {
		s.detach(c, client)
		return apperrors.ConnectionInit(c.sessionID, err)
	}

	log.Info().
		Str("session_id", c.sessionID).
		Bool("has_credentials", creds != nil).
		Msg("connection opened")

	return nil
}

// detach closes client and forgets it if it is still the current handle.
func (s *Supervisor) detach(c *connection, client Client) {
	c.mu.Lock()
	if c.client == client {
		c.client = nil
		if c.stop != nil {
			close(c.stop)
			c.stop = nil
		}
	}
	c.mu.Unlock()
	client.Close()
}

// watch consumes one client's events until the client is replaced or closed.
func (s *Supervisor) watch(c *connection, client Client, stop <-chan struct{}) {
	events := client.Events()
	for {
		select {
		case <-stop:
			return
		case evt, ok := <-events:
			if !ok || !c.owns(client) {
				return
			}
			s.handle(c, client, evt)
		}
	}
}

func (s *Supervisor) handle(c *connection, client Client, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OperationTimeout)
	defer cancel()

	switch e := evt.(type) {
	case QREvent:
		c.mu.Lock()
		c.qrCode = e.Code
		c.artifact = e.Artifact
		pending := c.status == model.SessionStatusQRPending
		c.mu.Unlock()

		if !pending {
			s.transition(ctx, c, model.SessionStatusQRPending, "")
		}
		s.publish(ctx, broker.NewEvent(broker.EventPairingArtifact, c.sessionID, broker.PairingArtifactPayload{
			SessionID: c.sessionID,
			Artifact:  e.Artifact,
			Code:      e.Code,
		}))

	case ConnectedEvent:
		now := time.Now()
		c.mu.Lock()
		c.qrCode = ""
		c.artifact = ""
		c.attempts = 0
		c.connectedAt = &now
		c.mu.Unlock()

		s.transition(ctx, c, model.SessionStatusConnected, e.Phone)
		log.Info().
			Str("session_id", c.sessionID).
			Str("phone", util.MaskPhone(e.Phone)).
			Msg("session connected")

	case CredentialsEvent:
		if err := s.creds.Save(ctx, c.sessionID, e.DeviceID); err != nil {
			log.Error().Err(apperrors.Store(err)).Str("session_id", c.sessionID).Msg("failed to save credentials")
		}

	case DisconnectedEvent:
		log.Warn().Str("session_id", c.sessionID).Str("reason", e.Reason).Msg("connection dropped")
		s.detach(c, client)
		s.transition(ctx, c, model.SessionStatusDisconnected, "")
		s.scheduleReconnect(c)

	case LoggedOutEvent:
		log.Warn().
			Err(apperrors.CredentialsInvalidated(c.sessionID)).
			Str("reason", e.Reason).
			Msg("credentials invalidated")
		s.remove(c)
		if stale := c.shutdown(); stale != nil {
			stale.Close()
		}
		if err := s.creds.Delete(ctx, c.sessionID); err != nil {
			log.Error().Err(apperrors.Store(err)).Str("session_id", c.sessionID).Msg("failed to clear credentials")
		}
		s.transition(ctx, c, model.SessionStatusLoggedOut, "")

	case MessageEvent:
		s.receive(ctx, c, e)
	}
}

func (s *Supervisor) receive(ctx context.Context, c *connection, e MessageEvent) {
	params := model.CreateMessageParams{
		SessionID: c.sessionID,
		Direction: model.DirectionIn,
		From:      e.From,
		To:        c.ownAddress(),
		CreatedAt: e.Timestamp,
	}
	if e.Text != "" {
		params.Text = &e.Text
	}
	if e.MediaType != "" {
		mediaType := e.MediaType
		params.MediaType = &mediaType
	}

	if _, err := s.messages.Insert(ctx, params); err != nil {
		log.Error().Err(apperrors.Store(err)).Str("session_id", c.sessionID).Msg("failed to record inbound message")
	}

	s.publish(ctx, broker.NewEvent(broker.EventMessageReceived, c.sessionID, broker.MessageReceivedPayload{
		SessionID: c.sessionID,
		ID:        e.ID,
		From:      e.From,
		Chat:      e.Chat,
		PushName:  e.PushName,
		Text:      e.Text,
		MediaType: string(e.MediaType),
		Timestamp: e.Timestamp,
	}))
}

// transition records a status change and tells observers. A torn-down
// connection only accepts the final logged_out transition.
func (s *Supervisor) transition(ctx context.Context, c *connection, status model.SessionStatus, phone string) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	if c.closed && status != model.SessionStatusLoggedOut {
		c.mu.Unlock()
		return
	}
	c.status = status
	if phone != "" {
		c.phone = phone
	}
	phone = c.phone
	c.mu.Unlock()

	s.persistStatus(ctx, c.sessionID, status, phone)
	s.publishStatus(ctx, c.sessionID, status, phone)
}

func (s *Supervisor) persistStatus(ctx context.Context, sessionID string, status model.SessionStatus, phone string) {
	var err error
	if status == model.SessionStatusLoading {
		_, err = s.sessions.Upsert(ctx, sessionID, status)
	} else {
		var phonePtr *string
		if phone != "" {
			phonePtr = &phone
		}
		err = s.sessions.UpdateStatus(ctx, sessionID, status, phonePtr)
	}
	if err != nil {
		log.Error().
			Err(apperrors.Store(err)).
			Str("session_id", sessionID).
			Str("status", string(status)).
			Msg("failed to persist session status")
	}
}

func (s *Supervisor) publishStatus(ctx context.Context, sessionID string, status model.SessionStatus, phone string) {
	s.publish(ctx, broker.NewEvent(broker.EventSessionStatus, sessionID, broker.SessionStatusPayload{
		SessionID:   sessionID,
		Status:      status,
		PhoneNumber: phone,
	}))
}

func (s *Supervisor) publish(ctx context.Context, event broker.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("type", event.Type).Str("session_id", event.SessionID).Msg("failed to publish event")
	}
}

// scheduleReconnect arms a single retry after the fixed delay, replacing any
// pending one.
func (s *Supervisor) scheduleReconnect(c *connection) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempt := c.attempts
	if s.opts.MaxReconnectAttempts > 0 && attempt > s.opts.MaxReconnectAttempts {
		c.mu.Unlock()
		s.abandon(c)
		return
	}
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = time.AfterFunc(s.opts.ReconnectDelay, func() {
		if err := s.reconnect(context.Background(), c); err != nil {
			log.Warn().Err(err).Str("session_id", c.sessionID).Msg("reconnect attempt failed")
		}
	})
	c.mu.Unlock()

	log.Info().
		Str("session_id", c.sessionID).
		Int("attempt", attempt).
		Dur("delay", s.opts.ReconnectDelay).
		Msg("reconnect scheduled")
}

// reconnect reopens an idle disconnected connection. Concurrent callers
// collapse into one attempt.
func (s *Supervisor) reconnect(ctx context.Context, c *connection) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.SessionNotActive(c.sessionID)
	}
	if c.opening || c.status != model.SessionStatusDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.opening = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.mu.Unlock()

	err := s.open(ctx, c)

	c.mu.Lock()
	c.opening = false
	c.mu.Unlock()

	if err != nil {
		s.retryAfter(c, err)
		return err
	}
	return nil
}

// retryAfter sends a failed open back through the reconnection path.
func (s *Supervisor) retryAfter(c *connection, err error) {
	if apperrors.HasCode(err, apperrors.ErrCodeSessionNotActive) {
		return
	}
	log.Warn().Err(err).Str("session_id", c.sessionID).Msg("connection init failed")

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.OperationTimeout)
	defer cancel()
	s.transition(ctx, c, model.SessionStatusDisconnected, "")
	s.scheduleReconnect(c)
}

// abandon gives up on a session after too many failed retries. The record
// stays disconnected; a later start builds a fresh connection.
func (s *Supervisor) abandon(c *connection) {
	s.remove(c)
	if client := c.shutdown(); client != nil {
		client.Close()
	}
	log.Error().
		Str("session_id", c.sessionID).
		Int("max_attempts", s.opts.MaxReconnectAttempts).
		Msg("reconnect attempts exhausted")
}
