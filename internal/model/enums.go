package model

import "strings"

type SessionStatus string

const (
	SessionStatusLoading      SessionStatus = "loading"
	SessionStatusQRPending    SessionStatus = "qr_pending"
	SessionStatusConnected    SessionStatus = "connected"
	SessionStatusDisconnected SessionStatus = "disconnected"
	SessionStatusLoggedOut    SessionStatus = "logged_out"
)

// IsTerminal reports whether no connection should be restored for the status.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusLoggedOut
}

type MessageDirection string

const (
	DirectionIn  MessageDirection = "in"
	DirectionOut MessageDirection = "out"
)

type MediaType string

const (
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeDocument MediaType = "document"
)

// MediaTypeFromMime maps a MIME type onto the media kinds the network knows.
// Anything that is not image, video or audio is sent as a document.
func MediaTypeFromMime(mime string) MediaType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MediaTypeImage
	case strings.HasPrefix(mime, "video/"):
		return MediaTypeVideo
	case strings.HasPrefix(mime, "audio/"):
		return MediaTypeAudio
	default:
		return MediaTypeDocument
	}
}
