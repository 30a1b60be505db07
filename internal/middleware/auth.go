package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/audit"
	apperrors "github.com/openclaw/wa-relay-go/internal/errors"
	"github.com/openclaw/wa-relay-go/internal/httputil"
	"github.com/openclaw/wa-relay-go/internal/util"
)

const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware gates every request behind the shared secret. The
// configured key may be plain text or a bcrypt hash of the key.
type APIKeyMiddleware struct {
	key      string
	isBcrypt bool

	// Keys that already passed bcrypt, by sha256, so each request does not
	// pay the bcrypt cost.
	mu       sync.RWMutex
	verified map[string]bool

	failures *AuthFailureLimiter
}

func NewAPIKeyMiddleware(key string, failures *AuthFailureLimiter) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		key:      key,
		isBcrypt: util.IsBcryptHash(key),
		verified: make(map[string]bool),
		failures: failures,
	}
}

func (m *APIKeyMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientHost(r)
		if m.failures != nil && m.failures.Blocked(ip) {
			w.Header().Set("Retry-After", "60")
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		key := extractKey(r)
		if key == "" {
			m.reject(w, r, "missing")
			return
		}

		if !m.valid(key) {
			m.reject(w, r, "mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *APIKeyMiddleware) reject(w http.ResponseWriter, r *http.Request, reason string) {
	if m.failures != nil {
		m.failures.RecordFailure(clientHost(r))
	}
	log.Warn().Str("path", r.URL.Path).Str("reason", reason).Msg("api key rejected")
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventAuthFailure,
		Details: map[string]any{"reason": reason, "path": r.URL.Path},
	})
	httputil.WriteError(w, apperrors.Unauthorized("Invalid or missing API key"))
}

func (m *APIKeyMiddleware) valid(key string) bool {
	if !m.isBcrypt {
		return util.ConstantTimeEqual(key, m.key)
	}

	sum := util.HashToken(key)
	m.mu.RLock()
	ok := m.verified[sum]
	m.mu.RUnlock()
	if ok {
		return true
	}

	if !util.CheckPasswordHash(key, m.key) {
		return false
	}

	m.mu.Lock()
	m.verified[sum] = true
	m.mu.Unlock()
	return true
}

// extractKey reads the header, then ?key=, then a bearer token. The query
// form exists for EventSource and browser websockets, which cannot set
// headers.
func extractKey(r *http.Request) string {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return key
	}

	if key := r.URL.Query().Get("key"); key != "" {
		return key
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
