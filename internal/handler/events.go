package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/broker"
	"github.com/openclaw/wa-relay-go/internal/model"
)

// SessionLister provides the snapshot sent to an observer when it connects.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]model.Session, error)
}

type EventsHandler struct {
	broker    *broker.Broker
	sessions  SessionLister
	heartbeat time.Duration
}

func NewEventsHandler(b *broker.Broker, sessions SessionLister) *EventsHandler {
	return &EventsHandler{
		broker:    b,
		sessions:  sessions,
		heartbeat: broker.HeartbeatInterval,
	}
}

// ServeHTTP streams broker events as server-sent events. ?sessionId= narrows
// the stream to one session.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	sessionID := r.URL.Query().Get("sessionId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	client := h.broker.Subscribe(sessionID)
	defer h.broker.Unsubscribe(client)

	ctx := r.Context()

	if sessions, err := h.sessions.ListSessions(ctx); err != nil {
		log.Error().Err(err).Msg("failed to load sessions for event stream")
	} else {
		if err := sendEvent(w, flusher, broker.NewEvent(broker.EventSessions, "", map[string]any{"sessions": sessions})); err != nil {
			return
		}
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("client_id", client.ID).
				Msg("event stream closed by client")
			return

		case <-client.Done:
			log.Debug().
				Str("client_id", client.ID).
				Msg("event stream closed by broker")
			return

		case event := <-client.Events:
			if err := sendEvent(w, flusher, event); err != nil {
				log.Debug().Err(err).Str("client_id", client.ID).Msg("failed to write event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("client_id", client.ID).
					Msg("heartbeat failed, closing event stream")
				return
			}
			flusher.Flush()
		}
	}
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, event broker.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
