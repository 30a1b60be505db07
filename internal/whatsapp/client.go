package whatsapp

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/openclaw/wa-relay-go/internal/model"
	"github.com/openclaw/wa-relay-go/internal/supervisor"
)

const eventBuffer = 64

// Client is one whatsmeow connection. Its event stream lives from
// construction until Close.
type Client struct {
	sessionID string
	wa        *whatsmeow.Client
	events    chan supervisor.Event
	handlerID uint32

	// ctx outlives any single call; the pairing code channel is bound to it.
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newClient(sessionID string, wa *whatsmeow.Client) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		sessionID: sessionID,
		wa:        wa,
		events:    make(chan supervisor.Event, eventBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.handlerID = wa.AddEventHandler(c.onEvent)
	return c
}

// Connect opens the socket. An unpaired device first subscribes to pairing
// codes, which arrive as QR events.
func (c *Client) Connect(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		codes, err := c.wa.GetQRChannel(c.ctx)
		if err != nil {
			return fmt.Errorf("subscribe to pairing codes: %w", err)
		}
		go c.pumpCodes(codes)
	}
	return c.wa.Connect()
}

func (c *Client) Events() <-chan supervisor.Event {
	return c.events
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wa.RemoveEventHandler(c.handlerID)
		c.wa.Disconnect()
	})
}

func (c *Client) Logout(ctx context.Context) error {
	if c.wa.Store.ID == nil {
		return nil
	}
	return c.wa.Logout(ctx)
}

func (c *Client) onEvent(evt any) {
	if translated := translate(evt, c.wa.Store.ID); translated != nil {
		c.emit(translated)
	}
}

// emit blocks while the buffer is full so no status change is lost, and
// gives up once the client is closed.
func (c *Client) emit(evt supervisor.Event) {
	select {
	case c.events <- evt:
	case <-c.ctx.Done():
	}
}

func (c *Client) pumpCodes(codes <-chan whatsmeow.QRChannelItem) {
	for item := range codes {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			artifact, err := renderArtifact(item.Code)
			if err != nil {
				log.Error().Err(err).Str("session_id", c.sessionID).Msg("failed to render pairing code")
			}
			c.emit(supervisor.QREvent{Code: item.Code, Artifact: artifact})
		case whatsmeow.QRChannelSuccess.Event:
			return
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(supervisor.DisconnectedEvent{Reason: "pairing timed out"})
			return
		case whatsmeow.QRChannelEventError:
			c.emit(supervisor.DisconnectedEvent{Reason: fmt.Sprintf("pairing failed: %v", item.Error)})
			return
		default:
			log.Warn().Str("session_id", c.sessionID).Str("event", item.Event).Msg("unexpected pairing event")
		}
	}
}

func parseJID(address string) (types.JID, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse address %q: %w", address, err)
	}
	return jid, nil
}

func parseJIDs(addresses []string) ([]types.JID, error) {
	jids := make([]types.JID, 0, len(addresses))
	for _, a := range addresses {
		jid, err := parseJID(a)
		if err != nil {
			return nil, err
		}
		jids = append(jids, jid)
	}
	return jids, nil
}

func (c *Client) send(ctx context.Context, to string, msg *waE2E.Message) (supervisor.SendResult, error) {
	jid, err := parseJID(to)
	if err != nil {
		return supervisor.SendResult{}, err
	}
	resp, err := c.wa.SendMessage(ctx, jid, msg)
	if err != nil {
		return supervisor.SendResult{}, err
	}
	return supervisor.SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *Client) SendText(ctx context.Context, to, text string) (supervisor.SendResult, error) {
	return c.send(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
}

// SendMedia uploads the payload and sends it as the kind its MIME type implies.
func (c *Client) SendMedia(ctx context.Context, to string, media supervisor.Media) (supervisor.SendResult, error) {
	kind := model.MediaTypeFromMime(media.MimeType)
	uploaded, err := c.wa.Upload(ctx, media.Data, uploadKind(kind))
	if err != nil {
		return supervisor.SendResult{}, fmt.Errorf("upload media: %w", err)
	}
	return c.send(ctx, to, mediaMessage(kind, media, uploaded))
}

func uploadKind(kind model.MediaType) whatsmeow.MediaType {
	switch kind {
	case model.MediaTypeImage:
		return whatsmeow.MediaImage
	case model.MediaTypeVideo:
		return whatsmeow.MediaVideo
	case model.MediaTypeAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func mediaMessage(kind model.MediaType, media supervisor.Media, up whatsmeow.UploadResponse) *waE2E.Message {
	var caption *string
	if media.Caption != "" {
		caption = proto.String(media.Caption)
	}

	switch kind {
	case model.MediaTypeImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       caption,
		}}
	case model.MediaTypeVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Caption:       caption,
		}}
	case model.MediaTypeAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		fileName := media.FileName
		if fileName == "" {
			fileName = "file"
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			Mimetype:      proto.String(media.MimeType),
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			FileName:      proto.String(fileName),
			Title:         proto.String(fileName),
			Caption:       caption,
		}}
	}
}

var _ supervisor.Client = (*Client)(nil)
var _ supervisor.ClientFactory = (*Factory)(nil)
