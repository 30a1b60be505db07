package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLog(t *testing.T) {
	t.Run("writes structured audit fields", func(t *testing.T) {
		buf := captureLog(t)

		Log(context.Background(), Event{
			Type:      EventSessionLogout,
			SessionID: "sales",
			Details:   map[string]any{"purge": true, "attempts": 2},
		})

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, true, entry["audit"])
		assert.Equal(t, "session_logout", entry["event_type"])
		assert.Equal(t, "sales", entry["session_id"])
		assert.Equal(t, true, entry["purge"])
		assert.Equal(t, float64(2), entry["attempts"])
	})

	t.Run("omits empty identity fields", func(t *testing.T) {
		buf := captureLog(t)

		Log(context.Background(), Event{Type: EventAuthFailure})

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.NotContains(t, entry, "session_id")
		assert.NotContains(t, entry, "ip")
	})
}

func TestClientIP(t *testing.T) {
	t.Run("prefers X-Forwarded-For", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
		r.Header.Set("X-Real-IP", "198.51.100.1")
		assert.Equal(t, "203.0.113.7", ClientIP(r))
	})

	t.Run("falls back to the remote address", func(t *testing.T) {
		r := httptest.NewRequest("GET", "/", nil)
		r.RemoteAddr = "192.0.2.1:5555"
		assert.Equal(t, "192.0.2.1:5555", ClientIP(r))
	})
}

func TestLogContext(t *testing.T) {
	t.Run("takes identity from the caller on the context", func(t *testing.T) {
		buf := captureLog(t)

		r := httptest.NewRequest("GET", "/ws", nil)
		r.RemoteAddr = "192.0.2.9:4000"
		r.Header.Set("User-Agent", "relay-test")
		ctx := WithCaller(context.Background(), CallerFromRequest(r, "ws"))

		LogContext(ctx, Event{Type: EventSessionStart, SessionID: "sales"})

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "session_start", entry["event_type"])
		assert.Equal(t, "192.0.2.9:4000", entry["ip"])
		assert.Equal(t, "relay-test", entry["user_agent"])
		assert.Equal(t, "ws", entry["transport"])
	})

	t.Run("logs without a caller", func(t *testing.T) {
		buf := captureLog(t)

		LogContext(context.Background(), Event{Type: EventSessionLogout, SessionID: "sales"})

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "sales", entry["session_id"])
		assert.NotContains(t, entry, "transport")
	})

	t.Run("middleware attaches the caller", func(t *testing.T) {
		var got Caller
		h := Middleware("rest")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ = CallerFrom(r.Context())
		}))

		r := httptest.NewRequest("POST", "/send", nil)
		r.RemoteAddr = "192.0.2.3:1234"
		h.ServeHTTP(httptest.NewRecorder(), r)

		assert.Equal(t, "rest", got.Transport)
		assert.Equal(t, "192.0.2.3:1234", got.IP)
	})
}
