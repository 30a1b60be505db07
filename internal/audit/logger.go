package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventAuthFailure       EventType = "auth_failure"
	EventRateLimitExceed   EventType = "rate_limit_exceeded"
	EventSessionStart      EventType = "session_start"
	EventSessionLogout     EventType = "session_logout"
	EventSessionPurge      EventType = "session_purge"
	EventBroadcastAccepted EventType = "broadcast_accepted"
)

type Event struct {
	Type      EventType
	SessionID string
	IP        string
	UserAgent string
	Transport string
	Details   map[string]any
}

// Caller identifies who issued a command, whichever transport carried it.
type Caller struct {
	IP        string
	UserAgent string
	Transport string
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFrom(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}

func CallerFromRequest(r *http.Request, transport string) Caller {
	return Caller{IP: ClientIP(r), UserAgent: r.UserAgent(), Transport: transport}
}

// Middleware attaches the request's Caller to its context.
func Middleware(transport string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithCaller(r.Context(), CallerFromRequest(r, transport))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LogContext fills the identity fields from the Caller on ctx, if any.
func LogContext(ctx context.Context, event Event) {
	if caller, ok := CallerFrom(ctx); ok {
		event.IP = caller.IP
		event.UserAgent = caller.UserAgent
		event.Transport = caller.Transport
	}
	Log(ctx, event)
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Bool("audit", true).
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}
	if event.Transport != "" {
		logger = logger.With().Str("transport", event.Transport).Logger()
	}

	logEvent := logger.Info().Ctx(ctx)
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("security audit event")
}

func addField(e *zerolog.Event, key string, value any) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = ClientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// ClientIP prefers proxy headers. Behind chi's RealIP middleware RemoteAddr
// already carries the forwarded address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
