package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandy-echo/echo-backend/internal/blob"
	"github.com/sandy-echo/echo-backend/internal/models"
	"github.com/sandy-echo/echo-backend/internal/reveal"
	"github.com/sandy-echo/echo-backend/internal/services"
	"github.com/sandy-echo/echo-backend/internal/store"
)

// Multipart uploads are capped well above any realistic voice clip
const maxUploadBytes = 32 << 20 // 32MB

// VoiceHandler contains HTTP handlers for the voice-thread API.
// Handlers only extract parameters, substitute defaults and map component
// results to status codes; business logic lives in the service.
type VoiceHandler struct {
	voiceService *services.VoiceService
}

// NewVoiceHandler creates a new VoiceHandler instance.
func NewVoiceHandler(voiceService *services.VoiceService) *VoiceHandler {
	return &VoiceHandler{voiceService: voiceService}
}

// Upload handles POST /api/upload
// Multipart form: "voice" audio blob plus privacy, expiry, senderId,
// senderName and an optional threadId to extend an existing thread.
func (h *VoiceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeFail(w, http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("voice")
	if err != nil {
		writeFail(w, http.StatusBadRequest)
		return
	}
	defer file.Close()

	res, err := h.voiceService.Upload(r.Context(), services.UploadParams{
		ThreadID:   r.FormValue("threadId"),
		SenderID:   r.FormValue("senderId"),
		SenderName: r.FormValue("senderName"),
		Privacy:    parsePrivacy(r.FormValue("privacy")),
		Expiry:     parseExpiry(r.FormValue("expiry")),
		Audio:      file,
	})
	if err != nil {
		log.Printf("[API] Upload failed: %v", err)
		writeFail(w, statusFor(err))
		return
	}

	resp := models.UploadResponse{
		OK:       true,
		Link:     res.Link,
		ThreadID: res.ThreadID,
	}
	if res.SenderGenerated {
		resp.SenderID = res.SenderID
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetThread handles GET /api/voice/{id}
// Returns the receiver-facing thread document; the sender name is withheld
// until reveal is approved.
func (h *VoiceHandler) GetThread(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")

	thread, err := h.voiceService.GetThread(r.Context(), threadID)
	if err != nil {
		writeFail(w, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, thread)
}

// Play handles GET /play/{file}
// Streams the stored audio bytes.
func (h *VoiceHandler) Play(w http.ResponseWriter, r *http.Request) {
	fileKey := chi.URLParam(r, "file")

	rc, err := h.voiceService.Play(r.Context(), fileKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		log.Printf("[API] Play failed for %s: %v", fileKey, err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "audio/webm")
	if _, err := io.Copy(w, rc); err != nil {
		log.Printf("[API] Streaming %s interrupted: %v", fileKey, err)
	}
}

// TrackOpen handles POST /api/open/{id}
// Increments the thread's open counter, best-effort.
func (h *VoiceHandler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	h.voiceService.TrackOpen(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, http.StatusOK, models.StatusResponse{OK: true})
}

// TrackPlay handles POST /api/play/{id}/{msgId}
// Increments a message's play counter, best-effort: a failed increment never
// fails playback.
func (h *VoiceHandler) TrackPlay(w http.ResponseWriter, r *http.Request) {
	h.voiceService.TrackPlay(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "msgId"))
	writeJSON(w, http.StatusOK, models.StatusResponse{OK: true})
}

// RequestReveal handles POST /api/request-reveal/{id}
func (h *VoiceHandler) RequestReveal(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")

	if err := h.voiceService.RequestReveal(r.Context(), threadID); err != nil {
		writeFail(w, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{OK: true})
}

// ApproveReveal handles POST /api/approve-reveal/{id}
// An optional JSON body {"senderId": "..."} attributes the approval; when
// present it must match the thread owner.
func (h *VoiceHandler) ApproveReveal(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")

	var body struct {
		SenderID string `json:"senderId"`
	}
	// No body at all is fine; the transport carries no identity
	json.NewDecoder(r.Body).Decode(&body)

	if err := h.voiceService.ApproveReveal(r.Context(), threadID, body.SenderID); err != nil {
		writeFail(w, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, models.StatusResponse{OK: true})
}

// Dashboard handles GET /api/dashboard/{senderId}
// Lists the sender's threads, newest first.
func (h *VoiceHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "senderId")

	list, err := h.voiceService.Dashboard(r.Context(), ownerID)
	if err != nil {
		writeFail(w, statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, list)
}

// parsePrivacy maps the form value to a privacy mode, defaulting to
// anonymous for anything unrecognized.
func parsePrivacy(v string) models.PrivacyMode {
	switch models.PrivacyMode(v) {
	case models.PrivacyRevealOnRequest:
		return models.PrivacyRevealOnRequest
	case models.PrivacyAutoReveal:
		return models.PrivacyAutoReveal
	default:
		return models.PrivacyAnonymous
	}
}

// parseExpiry maps the form value to an expiry policy, defaulting to
// permanent.
func parseExpiry(v string) models.ExpiryPolicy {
	if models.ExpiryPolicy(v) == models.Expiry24h {
		return models.Expiry24h
	}
	return models.ExpiryPermanent
}

// statusFor maps component errors to HTTP status codes. Internal error text
// never reaches the client; responses carry only the generic failure body.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, reveal.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON is a helper function to write JSON responses.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeFail writes the generic {ok:false} failure body.
func writeFail(w http.ResponseWriter, status int) {
	writeJSON(w, status, models.StatusResponse{OK: false})
}
