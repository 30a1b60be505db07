package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/broker"
	apperrors "github.com/openclaw/wa-relay-go/internal/errors"
	"github.com/openclaw/wa-relay-go/internal/model"
	"github.com/openclaw/wa-relay-go/internal/util"
)

type MessageResult struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

type BroadcastItem struct {
	Target  string `json:"target"`
	Outcome string `json:"outcome"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

type BroadcastResult struct {
	SessionID    string          `json:"sessionId"`
	Total        int             `json:"total"`
	SuccessCount int             `json:"successCount"`
	Results      []BroadcastItem `json:"results"`
}

// live returns the connection and client of a connected session.
func (s *Supervisor) live(sessionID string) (*connection, Client, error) {
	c := s.lookup(sessionID)
	if c == nil {
		return nil, nil, apperrors.SessionNotActive(sessionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.client == nil || c.status != model.SessionStatusConnected {
		return nil, nil, apperrors.SessionNotActive(sessionID)
	}
	return c, c.client, nil
}

// Active reports SessionNotActive unless the session is connected.
func (s *Supervisor) Active(sessionID string) error {
	_, _, err := s.live(sessionID)
	return err
}

func (s *Supervisor) recipient(to string) (string, error) {
	address, err := util.NormalizeRecipient(to, s.opts.CountryCode)
	if err != nil {
		return "", apperrors.InvalidInput("to", err.Error())
	}
	return address, nil
}

// Send delivers a text message and appends it to the message log.
func (s *Supervisor) Send(ctx context.Context, sessionID, to, text string) (*MessageResult, error) {
	c, client, err := s.live(sessionID)
	if err != nil {
		return nil, err
	}
	address, err := s.recipient(to)
	if err != nil {
		return nil, err
	}

	res, err := client.SendText(ctx, address, text)
	if err != nil {
		return nil, apperrors.SendFailed(address, err)
	}

	s.record(ctx, c, address, &text, nil, res.Timestamp)

	log.Debug().Str("session_id", sessionID).Str("to", address).Str("id", res.ID).Msg("message sent")
	return &MessageResult{ID: res.ID, SessionID: sessionID, To: address, Timestamp: res.Timestamp}, nil
}

func (s *Supervisor) SendMedia(ctx context.Context, sessionID, to string, media Media) (*MessageResult, error) {
	c, client, err := s.live(sessionID)
	if err != nil {
		return nil, err
	}
	address, err := s.recipient(to)
	if err != nil {
		return nil, err
	}

	res, err := client.SendMedia(ctx, address, media)
	if err != nil {
		return nil, apperrors.SendFailed(address, err)
	}

	mediaType := model.MediaTypeFromMime(media.MimeType)
	var caption *string
	if media.Caption != "" {
		caption = &media.Caption
	}
	s.record(ctx, c, address, caption, &mediaType, res.Timestamp)

	log.Debug().
		Str("session_id", sessionID).
		Str("to", address).
		Str("media_type", string(mediaType)).
		Int("size", len(media.Data)).
		Msg("media sent")
	return &MessageResult{ID: res.ID, SessionID: sessionID, To: address, Timestamp: res.Timestamp}, nil
}

// record appends an outbound message. Store failures never fail the send.
func (s *Supervisor) record(ctx context.Context, c *connection, to string, text *string, mediaType *model.MediaType, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.messages.Insert(ctx, model.CreateMessageParams{
		SessionID: c.sessionID,
		Direction: model.DirectionOut,
		From:      c.ownAddress(),
		To:        to,
		Text:      text,
		MediaType: mediaType,
		CreatedAt: at,
	})
	if err != nil {
		log.Error().Err(apperrors.Store(err)).Str("session_id", c.sessionID).Msg("failed to record outbound message")
	}
}

// Broadcast sends text to each recipient in turn. Every recipient gets a
// progress event whatever its outcome; a failure never stops the loop.
func (s *Supervisor) Broadcast(ctx context.Context, sessionID string, recipients []string, text string) (*BroadcastResult, error) {
	if _, _, err := s.live(sessionID); err != nil {
		return nil, err
	}

	result := &BroadcastResult{
		SessionID: sessionID,
		Total:     len(recipients),
		Results:   make([]BroadcastItem, 0, len(recipients)),
	}

	for i, target := range recipients {
		if i > 0 && s.opts.BroadcastDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.opts.BroadcastDelay):
			}
		}

		item := BroadcastItem{Target: target, Outcome: broker.OutcomeSent}
		res, err := s.Send(ctx, sessionID, target, text)
		if err != nil {
			item.Outcome = broker.OutcomeError
			item.Error = err.Error()
			if appErr, ok := apperrors.AsAppError(err); ok {
				item.Error = appErr.Message
			}
		} else {
			item.ID = res.ID
			result.SuccessCount++
		}
		result.Results = append(result.Results, item)

		s.publish(ctx, broker.NewEvent(broker.EventBroadcastProgress, sessionID, broker.BroadcastProgressPayload{
			SessionID: sessionID,
			Index:     i + 1,
			Total:     result.Total,
			Target:    target,
			Outcome:   item.Outcome,
			Error:     item.Error,
		}))
	}

	s.publish(ctx, broker.NewEvent(broker.EventBroadcastComplete, sessionID, broker.BroadcastCompletePayload{
		SessionID:    sessionID,
		Total:        result.Total,
		SuccessCount: result.SuccessCount,
	}))

	log.Info().
		Str("session_id", sessionID).
		Int("total", result.Total).
		Int("success", result.SuccessCount).
		Msg("broadcast finished")
	return result, nil
}

// operate runs a pass-through protocol call on a connected session.
func (s *Supervisor) operate(sessionID, operation string, fn func(Client) error) error {
	_, client, err := s.live(sessionID)
	if err != nil {
		return err
	}
	if err := fn(client); err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		return apperrors.OperationFailed(operation, err)
	}
	return nil
}

func (s *Supervisor) participants(addresses []string) ([]string, error) {
	out := make([]string, 0, len(addresses))
	for _, a := range addresses {
		address, err := util.NormalizeRecipient(a, s.opts.CountryCode)
		if err != nil {
			return nil, apperrors.InvalidInput("participants", err.Error())
		}
		out = append(out, address)
	}
	return out, nil
}

func group(input string) (string, error) {
	address, err := util.NormalizeGroup(input)
	if err != nil {
		return "", apperrors.InvalidInput("group", err.Error())
	}
	return address, nil
}

// ListGroups fetches joined groups and refreshes the cached snapshot.
func (s *Supervisor) ListGroups(ctx context.Context, sessionID string) ([]model.Group, error) {
	var groups []model.Group
	err := s.operate(sessionID, "list-groups", func(client Client) error {
		var err error
		groups, err = client.JoinedGroups(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	if c := s.lookup(sessionID); c != nil {
		c.mu.Lock()
		c.groups = groups
		c.mu.Unlock()
	}
	return groups, nil
}

// CachedGroups returns the last group snapshot without a network call.
func (s *Supervisor) CachedGroups(sessionID string) ([]model.Group, error) {
	c := s.lookup(sessionID)
	if c == nil {
		return nil, apperrors.SessionNotActive(sessionID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Group(nil), c.groups...), nil
}

func (s *Supervisor) CreateGroup(ctx context.Context, sessionID, name string, participants []string) (*model.Group, error) {
	addresses, err := s.participants(participants)
	if err != nil {
		return nil, err
	}

	var created *model.Group
	err = s.operate(sessionID, "create-group", func(client Client) error {
		var err error
		created, err = client.CreateGroup(ctx, name, addresses)
		return err
	})
	if err != nil {
		return nil, err
	}

	if c := s.lookup(sessionID); c != nil && created != nil {
		c.mu.Lock()
		c.groups = append(c.groups, *created)
		c.mu.Unlock()
	}
	return created, nil
}

func (s *Supervisor) UpdateParticipants(ctx context.Context, sessionID, groupID string, participants []string, action model.ParticipantAction) error {
	if !action.Valid() {
		return apperrors.InvalidInput("action", "must be add, remove, promote or demote")
	}
	address, err := group(groupID)
	if err != nil {
		return err
	}
	addresses, err := s.participants(participants)
	if err != nil {
		return err
	}
	return s.operate(sessionID, "update-participants", func(client Client) error {
		return client.UpdateParticipants(ctx, address, addresses, action)
	})
}

func (s *Supervisor) LeaveGroup(ctx context.Context, sessionID, groupID string) error {
	address, err := group(groupID)
	if err != nil {
		return err
	}
	return s.operate(sessionID, "leave-group", func(client Client) error {
		return client.LeaveGroup(ctx, address)
	})
}

func (s *Supervisor) GroupInviteLink(ctx context.Context, sessionID, groupID string, reset bool) (string, error) {
	address, err := group(groupID)
	if err != nil {
		return "", err
	}
	var link string
	err = s.operate(sessionID, "group-invite-link", func(client Client) error {
		var err error
		link, err = client.GroupInviteLink(ctx, address, reset)
		return err
	})
	return link, err
}

func (s *Supervisor) SetPresence(ctx context.Context, sessionID string, presence model.Presence) error {
	if presence != model.PresenceAvailable && presence != model.PresenceUnavailable {
		return apperrors.InvalidInput("presence", "must be available or unavailable")
	}
	return s.operate(sessionID, "set-presence", func(client Client) error {
		return client.SetPresence(ctx, presence)
	})
}

func (s *Supervisor) SendTyping(ctx context.Context, sessionID, to string, typing bool) error {
	address, err := s.recipient(to)
	if err != nil {
		return err
	}
	return s.operate(sessionID, "typing", func(client Client) error {
		return client.SendTyping(ctx, address, typing)
	})
}

func (s *Supervisor) SubscribePresence(ctx context.Context, sessionID, to string) error {
	address, err := s.recipient(to)
	if err != nil {
		return err
	}
	return s.operate(sessionID, "subscribe-presence", func(client Client) error {
		return client.SubscribePresence(ctx, address)
	})
}

func (s *Supervisor) SetStatusMessage(ctx context.Context, sessionID, text string) error {
	return s.operate(sessionID, "set-status", func(client Client) error {
		return client.SetStatusMessage(ctx, text)
	})
}

func (s *Supervisor) ProfilePicture(ctx context.Context, sessionID, target string) (string, error) {
	address := target
	if !util.IsGroupAddress(target) {
		var err error
		if address, err = s.recipient(target); err != nil {
			return "", err
		}
	}
	var url string
	err := s.operate(sessionID, "profile-picture", func(client Client) error {
		var err error
		url, err = client.ProfilePictureURL(ctx, address)
		return err
	})
	return url, err
}

// CheckNumbers asks the network which phones are registered.
func (s *Supervisor) CheckNumbers(ctx context.Context, sessionID string, phones []string) ([]model.NumberCheck, error) {
	queries := make([]string, 0, len(phones))
	for _, p := range phones {
		address, err := s.recipient(p)
		if err != nil {
			return nil, err
		}
		queries = append(queries, "+"+util.PhoneFromAddress(address))
	}

	var results []model.NumberCheck
	err := s.operate(sessionID, "check-numbers", func(client Client) error {
		var err error
		results, err = client.CheckNumbers(ctx, queries)
		return err
	})
	return results, err
}
