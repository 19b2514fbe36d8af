package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Enums

// Speaker identifies which side of the conversation produced a turn.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerTutor Speaker = "tutor"
)

// Phase is the orchestrator's current step in the
// capture -> transcribe -> analyze -> synthesize -> speak cycle.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseCapturing    Phase = "capturing"
	PhaseTranscribing Phase = "transcribing"
	PhaseAnalyzing    Phase = "analyzing"
	PhaseSynthesizing Phase = "synthesizing"
	PhaseSpeaking     Phase = "speaking"
)

// TranslationUnavailable is stored on a tutor turn when the translation
// call fails. Clients must treat it as "no translation", not a real one.
const TranslationUnavailable = "Translation not available"

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

// GrammarNote is the correction/explanation pair attached to a user turn
// when the grammar analysis found the utterance not well-formed.
type GrammarNote struct {
	CorrectedText string `json:"corrected_text"`
	Explanation   string `json:"explanation"`
}

// Turn is one utterance-and-response unit in the conversation.
// User turns may gain a GrammarNote after the analysis call returns;
// tutor turns are appended fully formed and never edited.
type Turn struct {
	ID                     uuid.UUID    `json:"id"`
	Speaker                Speaker      `json:"speaker"`
	Text                   string       `json:"text"`
	GrammarNote            *GrammarNote `json:"grammar_note,omitempty"`            // user turns only
	Translation            *string      `json:"translation,omitempty"`             // tutor turns only
	TranslationUnavailable bool         `json:"translation_unavailable,omitempty"` // true when Translation holds the sentinel
	CreatedAt              time.Time    `json:"created_at"`
}

// GrammarReport is the structured object the grammar-analysis model is
// asked to emit. Parsed out of free-form model text by internal/extract.
type GrammarReport struct {
	HasErrors         bool    `json:"hasErrors"`
	CorrectedSentence *string `json:"correctedSentence"`
	Explanation       *string `json:"explanation"`
}

// ChatMessage is one entry of the conversation history sent to the
// text-generation service.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Persona describes a tutor personality: the system prompt driving the
// conversational replies plus voice and language settings.
type Persona struct {
	ID             uuid.UUID `json:"id"`
	Slug           string    `json:"slug"`         // Machine name, e.g. "emma"
	DisplayName    string    `json:"display_name"` // Human-readable, e.g. "Emma"
	SystemPrompt   string    `json:"system_prompt"`
	VoiceID        string    `json:"voice_id"`        // TTS voice for this persona
	SourceLanguage string    `json:"source_language"` // Language being practiced (STT hint), ISO 639-1
	TargetLanguage string    `json:"target_language"` // Translation overlay language, ISO 639-1
	WelcomeMessage string    `json:"welcome_message"`
	VoiceProfile   JSONB     `json:"voice_profile,omitempty"` // Provider-specific voice settings
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DTOs for API responses

type CreateSessionRequest struct {
	PersonaID *uuid.UUID `json:"persona_id,omitempty"`
}

type SessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Persona   string    `json:"persona"`
	Phase     Phase     `json:"phase"`
	Connected bool      `json:"connected"`
	Turns     []Turn    `json:"turns"`
}

// TurnResponse is the result of one orchestrated turn. Empty is set when
// the transcription came back blank and no turns were created.
type TurnResponse struct {
	Empty     bool  `json:"empty,omitempty"`
	UserTurn  *Turn `json:"user_turn,omitempty"`
	TutorTurn *Turn `json:"tutor_turn,omitempty"`
	Phase     Phase `json:"phase"`
}

type SpeechRequest struct {
	TurnID uuid.UUID `json:"turn_id"`
}

type PlaybackRequest struct {
	Status string `json:"status"` // "completed" or "error" — both return the session to idle
}

type ListPersonasResponse struct {
	Personas []Persona `json:"personas"`
}

// Compatibility DTOs for the stateless proxy routes (the original web
// client's /api/speech-to-text, /api/chat, /api/text-to-speech shapes).

type TranscriptResponse struct {
	Text string `json:"text"`
}

type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

type ChatResponse struct {
	Response          string  `json:"response"`
	GrammarCorrection *string `json:"grammar_correction,omitempty"`
	Explanation       *string `json:"explanation,omitempty"`
	Translation       string  `json:"translation"`
}

type SynthesizeRequest struct {
	Text string `json:"text"`
}
