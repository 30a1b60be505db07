package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-relay-go/internal/broker"
	"github.com/openclaw/wa-relay-go/internal/gateway"
	"github.com/openclaw/wa-relay-go/internal/model"
)

func TestSendEvent(t *testing.T) {
	t.Run("writes event and data lines", func(t *testing.T) {
		rec := httptest.NewRecorder()

		err := sendEvent(rec, rec, broker.Event{
			Type: "message-received",
			Data: json.RawMessage(`{"text":"hello"}`),
		})

		assert.NoError(t, err)
		body := rec.Body.String()
		assert.Contains(t, body, "event: message-received\n")
		assert.Contains(t, body, `data: {"text":"hello"}`)
		assert.True(t, strings.HasSuffix(body, "\n\n"))
	})
}

// readEvent returns the next event name and data line, skipping comments.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var name, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && name != "":
			return name, data
		}
	}
}

func TestEventsHandler_ServeHTTP(t *testing.T) {
	setup := func(t *testing.T) (*broker.Broker, *httptest.Server) {
		sup := new(mockSupervisor)
		sup.On("List", mock.Anything).Return([]model.Session{{ID: "default", Status: model.SessionStatusConnected}}, nil)

		b := broker.NewBroker(nil)
		srv := httptest.NewServer(NewEventsHandler(b, gateway.New(sup, nil, "default", 0)))
		t.Cleanup(func() {
			b.Close()
			srv.Close()
		})
		return b, srv
	}

	open := func(t *testing.T, url string) *bufio.Reader {
		t.Helper()
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
		return bufio.NewReader(resp.Body)
	}

	waitSubscribed := func(t *testing.T, b *broker.Broker, sessionID string) {
		t.Helper()
		require.Eventually(t, func() bool { return b.ClientCount(sessionID) == 1 }, time.Second, 5*time.Millisecond)
	}

	t.Run("sends the session snapshot on connect", func(t *testing.T) {
		_, srv := setup(t)

		name, data := readEvent(t, open(t, srv.URL))

		assert.Equal(t, broker.EventSessions, name)
		assert.Contains(t, data, `"sessionId":"default"`)
	})

	t.Run("streams published events", func(t *testing.T) {
		b, srv := setup(t)
		r := open(t, srv.URL)
		readEvent(t, r)
		waitSubscribed(t, b, broker.AllSessions)

		require.NoError(t, b.Publish(context.Background(), broker.NewEvent(broker.EventSessionStatus, "default",
			broker.SessionStatusPayload{SessionID: "default", Status: model.SessionStatusConnected})))

		name, data := readEvent(t, r)
		assert.Equal(t, broker.EventSessionStatus, name)
		assert.Contains(t, data, `"status":"connected"`)
	})

	t.Run("sessionId narrows the stream", func(t *testing.T) {
		b, srv := setup(t)
		r := open(t, srv.URL+"?sessionId=sales")
		readEvent(t, r)
		waitSubscribed(t, b, "sales")

		ctx := context.Background()
		require.NoError(t, b.Publish(ctx, broker.NewEvent(broker.EventSessionStatus, "support",
			broker.SessionStatusPayload{SessionID: "support", Status: model.SessionStatusLoading})))
		require.NoError(t, b.Publish(ctx, broker.NewEvent(broker.EventSessionStatus, "sales",
			broker.SessionStatusPayload{SessionID: "sales", Status: model.SessionStatusLoading})))

		_, data := readEvent(t, r)
		assert.Contains(t, data, `"sessionId":"sales"`)
	})

	t.Run("heartbeats keep the stream alive", func(t *testing.T) {
		b := broker.NewBroker(nil)
		sup := new(mockSupervisor)
		sup.On("List", mock.Anything).Return([]model.Session{}, nil)
		h := NewEventsHandler(b, gateway.New(sup, nil, "default", 0))
		h.heartbeat = 10 * time.Millisecond
		srv := httptest.NewServer(h)
		t.Cleanup(func() {
			b.Close()
			srv.Close()
		})

		r := open(t, srv.URL)
		readEvent(t, r)

		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, ": ping\n", line)
	})
}
