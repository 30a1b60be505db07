package whatsapp

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/openclaw/wa-relay-go/internal/model"
	"github.com/openclaw/wa-relay-go/internal/supervisor"
)

// translate maps a whatsmeow event onto the supervisor's event set. self is
// the paired account, nil before pairing. Events with no counterpart yield nil.
func translate(evt any, self *types.JID) supervisor.Event {
	switch e := evt.(type) {
	case *events.PairSuccess:
		return supervisor.CredentialsEvent{DeviceID: e.ID.String()}

	case *events.Connected:
		phone := ""
		if self != nil {
			phone = self.User
		}
		return supervisor.ConnectedEvent{Phone: phone}

	case *events.Disconnected:
		return supervisor.DisconnectedEvent{Reason: "connection closed"}

	case *events.StreamReplaced:
		return supervisor.DisconnectedEvent{Reason: "stream replaced"}

	case *events.TemporaryBan:
		return supervisor.DisconnectedEvent{Reason: e.String()}

	// Both close the socket without a Disconnected event following.
	case *events.ClientOutdated:
		return supervisor.DisconnectedEvent{Reason: "client version outdated"}

	case *events.CATRefreshError:
		reason := e.PermanentDisconnectDescription()
		if e.Error != nil {
			reason += ": " + e.Error.Error()
		}
		return supervisor.DisconnectedEvent{Reason: reason}

	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return supervisor.LoggedOutEvent{Reason: e.Reason.String()}
		}
		return supervisor.DisconnectedEvent{Reason: e.Reason.String()}

	case *events.LoggedOut:
		return supervisor.LoggedOutEvent{Reason: e.Reason.String()}

	case *events.Message:
		return inbound(e)
	}
	return nil
}

func inbound(e *events.Message) supervisor.Event {
	if e.Info.IsFromMe || e.Info.Chat == types.StatusBroadcastJID {
		return nil
	}

	text := messageText(e.Message)
	mediaType := messageMediaType(e.Message)
	if text == "" && mediaType == "" {
		return nil
	}

	return supervisor.MessageEvent{
		ID:        e.Info.ID,
		From:      e.Info.Sender.ToNonAD().String(),
		Chat:      e.Info.Chat.String(),
		PushName:  e.Info.PushName,
		Text:      text,
		MediaType: mediaType,
		Timestamp: e.Info.Timestamp,
	}
}

// messageText returns the body of a text message or the caption of a media one.
func messageText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func messageMediaType(msg *waE2E.Message) model.MediaType {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetImageMessage() != nil:
		return model.MediaTypeImage
	case msg.GetVideoMessage() != nil:
		return model.MediaTypeVideo
	case msg.GetAudioMessage() != nil:
		return model.MediaTypeAudio
	case msg.GetDocumentMessage() != nil:
		return model.MediaTypeDocument
	}
	return ""
}
