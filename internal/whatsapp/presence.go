package whatsapp

import (
	"context"
	"errors"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"

	"github.com/openclaw/wa-relay-go/internal/model"
)

func (c *Client) SetPresence(ctx context.Context, presence model.Presence) error {
	if presence == model.PresenceUnavailable {
		return c.wa.SendPresence(ctx, types.PresenceUnavailable)
	}
	return c.wa.SendPresence(ctx, types.PresenceAvailable)
}

// SendTyping shows or clears the composing indicator in chat.
func (c *Client) SendTyping(ctx context.Context, chat string, typing bool) error {
	jid, err := parseJID(chat)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return c.wa.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

func (c *Client) SubscribePresence(ctx context.Context, address string) error {
	jid, err := parseJID(address)
	if err != nil {
		return err
	}
	return c.wa.SubscribePresence(ctx, jid)
}

func (c *Client) SetStatusMessage(ctx context.Context, text string) error {
	return c.wa.SetStatusMessage(ctx, text)
}

// ProfilePictureURL returns "" when the target has no visible picture.
func (c *Client) ProfilePictureURL(ctx context.Context, address string) (string, error) {
	jid, err := parseJID(address)
	if err != nil {
		return "", err
	}
	info, err := c.wa.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if errors.Is(err, whatsmeow.ErrProfilePictureNotSet) || errors.Is(err, whatsmeow.ErrProfilePictureUnauthorized) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if info == nil {
		return "", nil
	}
	return info.URL, nil
}

func (c *Client) CheckNumbers(ctx context.Context, phones []string) ([]model.NumberCheck, error) {
	responses, err := c.wa.IsOnWhatsApp(ctx, phones)
	if err != nil {
		return nil, err
	}
	results := make([]model.NumberCheck, 0, len(responses))
	for _, r := range responses {
		check := model.NumberCheck{Query: r.Query, Exists: r.IsIn}
		if r.IsIn {
			check.Address = r.JID.String()
		}
		results = append(results, check)
	}
	return results, nil
}
