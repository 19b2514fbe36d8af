package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/verbaly/emma/internal/models"
)

// Compatibility routes mirroring the original per-step endpoints. Clients
// that drive the turn themselves call these three in sequence instead of
// the session API; they carry no session state.

// SpeechToText handles POST /v1/speech-to-text
// Multipart "audio" in, transcript out. An inaudible utterance returns
// empty text rather than an error.
func (h *Handler) SpeechToText(w http.ResponseWriter, r *http.Request) {
	audio, mimeType, ok := readAudioUpload(w, r)
	if !ok {
		return
	}

	text, err := h.gateway.Transcribe(r.Context(), audio, mimeType)
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to transcribe audio")
		return
	}

	respondJSON(w, http.StatusOK, models.TranscriptResponse{Text: strings.TrimSpace(text)})
}

// Chat handles POST /v1/chat
// Runs grammar analysis, reply generation, and translation over a
// caller-supplied history.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		respondError(w, http.StatusBadRequest, "No messages provided")
		return
	}

	persona, err := h.personas.GetDefaultPersona(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to get default persona")
		return
	}

	resp, err := h.orch.Exchange(r.Context(), *persona, req.Messages)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Error processing request")
		return
	}

	respondJSON(w, http.StatusOK, resp)
}

// TextToSpeech handles POST /v1/text-to-speech
// Synthesizes the given text with the default persona's voice and streams
// the audio back.
func (h *Handler) TextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req models.SynthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "No text provided")
		return
	}

	var voiceID string
	if persona, err := h.personas.GetDefaultPersona(r.Context()); err == nil {
		voiceID = persona.VoiceID
	}

	resp, err := h.orch.Synthesize(r.Context(), req.Text, voiceID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "Failed to generate speech")
		return
	}

	writeAudio(w, resp.ContentType(), resp.AudioData)
}
