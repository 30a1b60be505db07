package gateway

import (
	"context"
	"encoding/base64"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/broker"
	apperrors "github.com/openclaw/wa-relay-go/internal/errors"
	"github.com/openclaw/wa-relay-go/internal/supervisor"
)

const (
	CmdStartSession       = "start-session"
	CmdRequestPairing     = "request-pairing"
	CmdSessionStatus      = "session-status"
	CmdListSessions       = "list-sessions"
	CmdLogout             = "logout"
	CmdSendMessage        = "send-message"
	CmdSendMedia          = "send-media"
	CmdBroadcast          = "broadcast"
	CmdListGroups         = "list-groups"
	CmdCreateGroup        = "create-group"
	CmdUpdateParticipants = "update-participants"
	CmdLeaveGroup         = "leave-group"
	CmdGroupInviteLink    = "group-invite-link"
	CmdSetPresence        = "set-presence"
	CmdTyping             = "typing"
	CmdSubscribePresence  = "subscribe-presence"
	CmdSetStatus          = "set-status"
	CmdProfilePicture     = "profile-picture"
	CmdCheckNumbers       = "check-numbers"
)

// Command is one inbound request from a socket transport. Fields a command
// does not use are ignored.
type Command struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	To      string `json:"to,omitempty"`
	Message string `json:"message,omitempty"`

	Mime     string `json:"mime,omitempty"`
	Data     string `json:"data,omitempty"` // base64
	FileName string `json:"fileName,omitempty"`

	Recipients []string `json:"recipients,omitempty"`
	Purge      bool     `json:"purge,omitempty"`

	Group        string   `json:"group,omitempty"`
	Name         string   `json:"name,omitempty"`
	Participants []string `json:"participants,omitempty"`
	Action       string   `json:"action,omitempty"`
	Reset        bool     `json:"reset,omitempty"`
	Cached       bool     `json:"cached,omitempty"`

	Presence string   `json:"presence,omitempty"`
	Typing   *bool    `json:"typing,omitempty"`
	Target   string   `json:"target,omitempty"`
	Phones   []string `json:"phones,omitempty"`
}

// Dispatch runs cmd and returns the event owed to its sender. Failures come
// back as error events; Dispatch never panics on bad input.
func (g *Gateway) Dispatch(ctx context.Context, cmd Command) broker.Event {
	data, err := g.run(ctx, &cmd)
	if err != nil {
		return g.errorEvent(cmd, err)
	}

	if res, ok := data.(*supervisor.MessageResult); ok {
		payload := broker.MessageSentPayload{
			SessionID: res.SessionID,
			RequestID: cmd.RequestID,
			ID:        res.ID,
			To:        res.To,
			Message:   cmd.Message,
			Timestamp: res.Timestamp,
		}
		if cmd.Type == CmdSendMedia {
			payload.MediaType = cmd.Mime
		}
		return broker.NewEvent(broker.EventMessageSent, res.SessionID, payload)
	}

	return broker.NewEvent(broker.EventResult, cmd.SessionID, broker.ResultPayload{
		Command:   cmd.Type,
		RequestID: cmd.RequestID,
		Data:      data,
	})
}

func (g *Gateway) errorEvent(cmd Command, err error) broker.Event {
	if apperrors.IsAppError(err) {
		log.Debug().Err(err).Str("command", cmd.Type).Str("session_id", cmd.SessionID).Msg("command rejected")
	} else {
		log.Error().Err(err).Str("command", cmd.Type).Msg("command failed")
	}
	return broker.NewEvent(broker.EventError, cmd.SessionID, errorPayload(cmd.Type, cmd.RequestID, err))
}

// errorPayload hides the detail of errors that are not AppErrors.
func errorPayload(command, requestID string, err error) broker.ErrorPayload {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}
	return broker.ErrorPayload{
		Message:   appErr.Message,
		Code:      string(appErr.Code),
		Command:   command,
		RequestID: requestID,
	}
}

// run resolves the session id in place so replies carry the effective id.
func (g *Gateway) run(ctx context.Context, cmd *Command) (any, error) {
	if cmd.Type != CmdListSessions {
		id, err := g.SessionID(cmd.SessionID)
		if err != nil {
			return nil, err
		}
		cmd.SessionID = id
	}

	switch cmd.Type {
	case CmdStartSession:
		return g.StartSession(ctx, cmd.SessionID)

	case CmdRequestPairing:
		return g.RequestPairing(ctx, cmd.SessionID)

	case CmdSessionStatus:
		return g.SessionStatus(ctx, cmd.SessionID)

	case CmdListSessions:
		return g.ListSessions(ctx)

	case CmdLogout:
		return nil, g.Logout(ctx, cmd.SessionID, cmd.Purge)

	case CmdSendMessage:
		return g.Send(ctx, cmd.SessionID, cmd.To, cmd.Message)

	case CmdSendMedia:
		if cmd.Data == "" {
			return nil, apperrors.MissingRequired("data")
		}
		payload, err := base64.StdEncoding.DecodeString(cmd.Data)
		if err != nil {
			return nil, apperrors.InvalidInput("data", "must be base64")
		}
		return g.SendMedia(ctx, cmd.SessionID, cmd.To, supervisor.Media{
			MimeType: cmd.Mime,
			Data:     payload,
			Caption:  cmd.Message,
			FileName: cmd.FileName,
		})

	case CmdBroadcast:
		id, total, err := g.BroadcastAsync(ctx, cmd.SessionID, cmd.Recipients, cmd.Message)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sessionId": id, "total": total, "accepted": true}, nil

	case CmdListGroups:
		return g.ListGroups(ctx, cmd.SessionID, cmd.Cached)

	case CmdCreateGroup:
		return g.CreateGroup(ctx, cmd.SessionID, cmd.Name, cmd.Participants)

	case CmdUpdateParticipants:
		return nil, g.UpdateParticipants(ctx, cmd.SessionID, cmd.Group, cmd.Participants, cmd.Action)

	case CmdLeaveGroup:
		return nil, g.LeaveGroup(ctx, cmd.SessionID, cmd.Group)

	case CmdGroupInviteLink:
		link, err := g.GroupInviteLink(ctx, cmd.SessionID, cmd.Group, cmd.Reset)
		if err != nil {
			return nil, err
		}
		return map[string]string{"link": link}, nil

	case CmdSetPresence:
		return nil, g.SetPresence(ctx, cmd.SessionID, cmd.Presence)

	case CmdTyping:
		typing := true
		if cmd.Typing != nil {
			typing = *cmd.Typing
		}
		return nil, g.SendTyping(ctx, cmd.SessionID, cmd.To, typing)

	case CmdSubscribePresence:
		return nil, g.SubscribePresence(ctx, cmd.SessionID, cmd.To)

	case CmdSetStatus:
		return nil, g.SetStatusMessage(ctx, cmd.SessionID, cmd.Message)

	case CmdProfilePicture:
		url, err := g.ProfilePicture(ctx, cmd.SessionID, cmd.Target)
		if err != nil {
			return nil, err
		}
		return map[string]string{"url": url}, nil

	case CmdCheckNumbers:
		return g.CheckNumbers(ctx, cmd.SessionID, cmd.Phones)

	case "":
		return nil, apperrors.MissingRequired("type")
	}

	return nil, apperrors.ValidationError("Unknown command " + cmd.Type)
}
