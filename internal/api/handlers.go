package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/verbaly/emma/internal/models"
	"github.com/verbaly/emma/internal/orchestrator"
	"github.com/verbaly/emma/internal/session"
)

// maxAudioUploadBytes caps one captured utterance; larger uploads are
// rejected with 413. Browser MediaRecorder opus at default bitrate stays
// well under this for any reasonable turn.
const maxAudioUploadBytes = 25 << 20

type Handler struct {
	sessions *session.Manager
	orch     *orchestrator.Orchestrator
	gateway  orchestrator.Gateway // used directly by the stateless proxy routes
	personas PersonaSource
}

func NewHandler(sessions *session.Manager, orch *orchestrator.Orchestrator, gateway orchestrator.Gateway, personas PersonaSource) *Handler {
	return &Handler{
		sessions: sessions,
		orch:     orch,
		gateway:  gateway,
		personas: personas,
	}
}

// CreateSession handles POST /v1/sessions
// Creates a conversation seeded with the persona's welcome turn.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var persona *models.Persona
	var err error
	if req.PersonaID != nil {
		persona, err = h.personas.GetPersona(r.Context(), *req.PersonaID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Persona not found")
			return
		}
	} else {
		persona, err = h.personas.GetDefaultPersona(r.Context())
		if err != nil {
			respondError(w, http.StatusInternalServerError, "Failed to get default persona")
			return
		}
	}

	sess := h.sessions.Create(*persona)
	respondJSON(w, http.StatusCreated, sessionResponse(sess))
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse(sess))
}

// EndSession handles DELETE /v1/sessions/{id}
// Ends the conversation and discards the session — nothing is persisted.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid session ID")
		return
	}

	h.sessions.Remove(sessionID)
	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

// BeginCapture handles POST /v1/sessions/{id}/capture
// Moves an idle session into the capturing phase; rejected while a turn
// is in flight.
func (h *Handler) BeginCapture(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	if err := sess.BeginCapture(); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]models.Phase{"phase": sess.Phase()})
}

// CreateTurn handles POST /v1/sessions/{id}/turns
// Accepts the captured audio as multipart form field "audio" and runs one
// full conversational turn.
func (h *Handler) CreateTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	audio, mimeType, ok := readAudioUpload(w, r)
	if !ok {
		return
	}

	resp, err := h.orch.ProcessUtterance(r.Context(), sess, audio, mimeType)
	if err != nil {
		respondTurnError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// Speech handles POST /v1/sessions/{id}/speech
// Synthesizes a tutor turn and returns the audio bytes for playback.
func (h *Handler) Speech(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var req models.SpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TurnID == uuid.Nil {
		respondError(w, http.StatusBadRequest, "turn_id is required")
		return
	}

	resp, err := h.orch.Speak(r.Context(), sess, req.TurnID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNoSuchTurn):
			respondError(w, http.StatusNotFound, "Turn not found")
		case errors.Is(err, orchestrator.ErrSessionEnded):
			respondError(w, http.StatusConflict, "Conversation has ended")
		default:
			respondError(w, http.StatusBadGateway, "Failed to generate speech")
		}
		return
	}

	writeAudio(w, resp.ContentType(), resp.AudioData)
}

// Playback handles POST /v1/sessions/{id}/playback
// Signals that external playback finished — successfully or not, the
// session returns to idle.
func (h *Handler) Playback(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.lookupSession(w, r)
	if !ok {
		return
	}

	var req models.PlaybackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Status != "" && req.Status != "completed" && req.Status != "error" {
		respondError(w, http.StatusBadRequest, "Invalid playback status. Allowed: completed, error")
		return
	}

	h.orch.PlaybackFinished(sess)
	respondJSON(w, http.StatusOK, map[string]models.Phase{"phase": sess.Phase()})
}

// ListPersonas handles GET /v1/personas
func (h *Handler) ListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.personas.ListPersonas(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to list personas")
		return
	}

	respondJSON(w, http.StatusOK, models.ListPersonasResponse{Personas: personas})
}

// Helper methods

func (h *Handler) lookupSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid session ID")
		return nil, false
	}

	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		respondError(w, http.StatusNotFound, "Session not found")
		return nil, false
	}
	return sess, true
}

func sessionResponse(sess *session.Session) models.SessionResponse {
	return models.SessionResponse{
		SessionID: sess.ID,
		Persona:   sess.Persona.Slug,
		Phase:     sess.Phase(),
		Connected: sess.Connected(),
		Turns:     sess.History(),
	}
}

// readAudioUpload extracts the "audio" multipart field. Responds with 400
// and returns ok=false when the upload is missing or unreadable.
func readAudioUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUploadBytes)
	if err := r.ParseMultipartForm(maxAudioUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "Audio file too large")
			return nil, "", false
		}
		respondError(w, http.StatusBadRequest, "Invalid multipart body")
		return nil, "", false
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "No audio file provided")
		return nil, "", false
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil || len(audio) == 0 {
		respondError(w, http.StatusBadRequest, "Could not read audio file")
		return nil, "", false
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/webm" // browser MediaRecorder default
	}
	return audio, mimeType, true
}

// respondTurnError maps orchestrator failures onto the visible-failure
// statuses: the client shows the message as status text, never a crash.
func respondTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		respondError(w, http.StatusConflict, "A turn is already in progress")
	case errors.Is(err, orchestrator.ErrSessionEnded):
		respondError(w, http.StatusConflict, "Conversation has ended")
	case errors.Is(err, orchestrator.ErrTranscription):
		respondError(w, http.StatusBadGateway, "Failed to transcribe audio")
	case errors.Is(err, orchestrator.ErrConversation):
		respondError(w, http.StatusBadGateway, "Failed to get AI response")
	default:
		respondError(w, http.StatusInternalServerError, "Error processing request")
	}
}

func writeAudio(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
