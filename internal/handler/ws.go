package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/audit"
	"github.com/openclaw/wa-relay-go/internal/broker"
	"github.com/openclaw/wa-relay-go/internal/config"
	apperrors "github.com/openclaw/wa-relay-go/internal/errors"
	"github.com/openclaw/wa-relay-go/internal/gateway"
)

// Dispatcher runs one socket command and returns the reply for its sender.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd gateway.Command) broker.Event
	SessionLister
}

type WSHandler struct {
	broker   *broker.Broker
	gateway  Dispatcher
	upgrader websocket.Upgrader
	timeout  time.Duration
}

func NewWSHandler(b *broker.Broker, gw Dispatcher, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		broker:  b,
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		timeout: config.OperationTimeout,
	}
}

// checkOrigin accepts everything when no origins are configured. The socket
// is key-gated like the rest of the API, so the origin is not the only guard.
func checkOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, origin := range allowed {
		set[origin] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeHTTP upgrades the request and serves the command protocol: every text
// frame is a JSON command, every outbound frame is a broker event. The socket
// also receives global events, narrowed by ?sessionId= when given.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := h.broker.Subscribe(r.URL.Query().Get("sessionId"))

	log.Info().
		Str("client_id", client.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("websocket connected")

	ctx, cancel := context.WithCancel(audit.WithCaller(context.Background(), audit.CallerFromRequest(r, "ws")))

	if sessions, err := h.gateway.ListSessions(ctx); err != nil {
		log.Error().Err(err).Msg("failed to load sessions for websocket")
	} else {
		h.broker.Reply(client, broker.NewEvent(broker.EventSessions, "", map[string]any{"sessions": sessions}))
	}

	go h.writePump(conn, client)
	h.readPump(ctx, cancel, conn, client)
}

func (h *WSHandler) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *broker.Client) {
	var pending sync.WaitGroup
	defer func() {
		cancel()
		pending.Wait()
		h.broker.Unsubscribe(client)
		conn.Close()
		log.Info().Str("client_id", client.ID).Msg("websocket disconnected")
	}()

	conn.SetReadLimit(config.WSMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", client.ID).Msg("websocket read error")
			}
			return
		}

		var cmd gateway.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.broker.Reply(client, broker.NewEvent(broker.EventError, "", broker.ErrorPayload{
				Message: "Invalid command payload",
				Code:    string(apperrors.ErrCodeValidation),
			}))
			continue
		}

		// Commands run concurrently so a slow start does not stall the socket.
		pending.Add(1)
		go func() {
			defer pending.Done()
			cmdCtx, cmdCancel := context.WithTimeout(ctx, h.timeout)
			defer cmdCancel()
			h.broker.Reply(client, h.gateway.Dispatch(cmdCtx, cmd))
		}()
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, client *broker.Client) {
	ticker := time.NewTicker(config.WSPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-client.Done:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case event := <-client.Events:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := conn.WriteJSON(event); err != nil {
				log.Debug().Err(err).Str("client_id", client.ID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
