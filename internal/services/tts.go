package services

import (
	"bytes"
	"context"
)

// ---------------------------------------------------------------------------
// TTSService — common interface for text-to-speech providers
// Both ElevenLabs and the OpenAI speech endpoint implement this interface
// so the orchestrator can use whichever is configured without knowing the
// underlying provider.
// ---------------------------------------------------------------------------

// TTSResponse is the common response type from any TTS provider.
type TTSResponse struct {
	AudioData  []byte
	DurationMs int
	Format     string // "mp3", "wav", etc.
}

// ContentType returns the HTTP content type for the audio payload.
func (r *TTSResponse) ContentType() string {
	if r.Format == "wav" {
		return "audio/wav"
	}
	return "audio/mpeg"
}

// TTSService is the interface that any TTS provider must implement.
type TTSService interface {
	// Provider is a stable tag identifying the backing provider. Cached
	// audio is keyed by it so one provider's output is never served for
	// another's voice of the same name.
	Provider() string

	// Synthesize converts text to audio. voiceID overrides the provider's
	// default voice when non-empty; providers that do not support the
	// given ID fall back to their default.
	Synthesize(ctx context.Context, text, voiceID string) (*TTSResponse, error)
}

// estimateAudioDuration estimates duration based on text length and speed.
// Average speaking rate is ~150 words per minute at normal conversational pace.
func estimateAudioDuration(text string, speed float64) int {
	words := len(bytes.Fields([]byte(text)))
	baseWPM := 150.0

	// Lower speed = fewer WPM = longer duration
	actualWPM := baseWPM * speed

	minutes := float64(words) / actualWPM
	return int(minutes * 60 * 1000)
}
