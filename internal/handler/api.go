package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/wa-relay-go/internal/audit"
	apperrors "github.com/openclaw/wa-relay-go/internal/errors"
	"github.com/openclaw/wa-relay-go/internal/gateway"
	"github.com/openclaw/wa-relay-go/internal/supervisor"
)

type APIHandler struct {
	gateway        *gateway.Gateway
	maxUploadBytes int64
}

func NewAPIHandler(gw *gateway.Gateway, maxUploadBytes int64) *APIHandler {
	return &APIHandler{
		gateway:        gw,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *APIHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(audit.Middleware("rest"))

	r.Get("/sessions", h.ListSessions)
	r.Route("/sessions/{sessionId}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/start", h.StartSession)
		r.Get("/qr", h.GetPairingArtifact)
		r.Delete("/", h.Logout)
		r.Get("/groups", h.ListGroups)
		r.Post("/groups", h.CreateGroup)
	})
	r.Get("/messages", h.ListMessages)
	r.Post("/send", h.Send)
	r.Post("/send-media", h.SendMedia)
	r.Post("/broadcast", h.Broadcast)

	return r
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}

// GET /sessions
func (h *APIHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.gateway.ListSessions(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list sessions")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// GET /sessions/{sessionId}
func (h *APIHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.gateway.SessionStatus(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

// POST /sessions/{sessionId}/start
func (h *APIHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.gateway.StartSession(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, snap)
}

// GET /sessions/{sessionId}/qr
// Returns 202 while no pairing code has arrived yet. format=png serves the
// image itself.
func (h *APIHandler) GetPairingArtifact(w http.ResponseWriter, r *http.Request) {
	state, err := h.gateway.RequestPairing(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, err)
		return
	}

	if state.Artifact == "" {
		writeJSON(w, http.StatusAccepted, state)
		return
	}

	if r.URL.Query().Get("format") == "png" {
		_, encoded, _ := strings.Cut(state.Artifact, ",")
		png, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			log.Error().Err(err).Str("session_id", state.SessionID).Msg("corrupt pairing artifact")
			writeError(w, apperrors.Internal("Pairing artifact unavailable"))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		w.Write(png)
		return
	}

	writeJSON(w, http.StatusOK, state)
}

// DELETE /sessions/{sessionId}?purge=true
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	purge, _ := strconv.ParseBool(r.URL.Query().Get("purge"))
	sessionID := chi.URLParam(r, "sessionId")

	if err := h.gateway.Logout(r.Context(), sessionID, purge); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "purged": purge})
}

// GET /sessions/{sessionId}/groups?cached=true
func (h *APIHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	cached, _ := strconv.ParseBool(r.URL.Query().Get("cached"))
	groups, err := h.gateway.ListGroups(r.Context(), chi.URLParam(r, "sessionId"), cached)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// POST /sessions/{sessionId}/groups
func (h *APIHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string   `json:"name"`
		Participants []string `json:"participants"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	group, err := h.gateway.CreateGroup(r.Context(), chi.URLParam(r, "sessionId"), req.Name, req.Participants)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, group)
}

// GET /messages?sessionId=&limit=&order=asc
func (h *APIHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	page := ParsePagination(r)

	messages, err := h.gateway.History(r.Context(), r.URL.Query().Get("sessionId"), page.Limit, page.Reverse)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "limit": page.Limit})
}

// POST /send
func (h *APIHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"sessionId"`
		To        string `json:"to"`
		Message   string `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.gateway.Send(r.Context(), req.SessionID, req.To, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": result})
}

// POST /send-media
// Multipart form: sessionId, to, caption, optional mime, and the file itself.
func (h *APIHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	// Room for the other form fields on top of the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Request body too large"})
			return
		}
		writeError(w, apperrors.ValidationError("Expected a multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperrors.MissingRequired("file"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		log.Error().Err(err).Msg("failed to read upload")
		writeError(w, apperrors.ValidationError("Could not read file"))
		return
	}

	caption := r.FormValue("caption")
	if caption == "" {
		caption = r.FormValue("message")
	}

	result, err := h.gateway.SendMedia(r.Context(), r.FormValue("sessionId"), r.FormValue("to"), supervisor.Media{
		MimeType: uploadMime(r.FormValue("mime"), header.Header.Get("Content-Type"), data),
		Data:     data,
		Caption:  caption,
		FileName: header.Filename,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": result})
}

// uploadMime prefers an explicit mime field, then the part header, then sniffing.
func uploadMime(explicit, header string, data []byte) string {
	if explicit != "" {
		return explicit
	}
	if header != "" && header != "application/octet-stream" {
		return header
	}
	return http.DetectContentType(data)
}

// POST /broadcast
// Returns at once; progress is streamed on /events.
func (h *APIHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID  string   `json:"sessionId"`
		Recipients []string `json:"recipients"`
		Message    string   `json:"message"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sessionID, total, err := h.gateway.BroadcastAsync(r.Context(), req.SessionID, req.Recipients, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":  true,
		"sessionId": sessionID,
		"total":     total,
	})
}
