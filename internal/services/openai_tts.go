package services

import (
	"context"
	"fmt"
	"io"
	"log"

	openai "github.com/sashabaranov/go-openai"
)

// ---------------------------------------------------------------------------
// OpenAI Text-to-Speech Service
// Fallback synthesizer using the /v1/audio/speech endpoint.
// Model: tts-1, default voice "nova", slightly slowed for learners.
// ---------------------------------------------------------------------------

const (
	openaiTTSDefaultVoice = "nova" // alloy | echo | fable | onyx | nova | shimmer
	openaiTTSSpeed        = 0.9    // Slightly slower for language learners
)

// OpenAITTSService handles text-to-speech via the OpenAI speech endpoint.
type OpenAITTSService struct {
	client *openai.Client
	voice  string
}

// Ensure OpenAITTSService implements TTSService at compile time.
var _ TTSService = (*OpenAITTSService)(nil)

// NewOpenAITTSService creates an OpenAI TTS service. voice overrides the
// default "nova" when non-empty.
func NewOpenAITTSService(apiKey, voice string) *OpenAITTSService {
	if voice == "" {
		voice = openaiTTSDefaultVoice
	}
	return &OpenAITTSService{
		client: openai.NewClient(apiKey),
		voice:  voice,
	}
}

// Provider identifies this service for cache keying.
func (s *OpenAITTSService) Provider() string { return "openai" }

// Synthesize converts text to speech using the tts-1 model.
// Implements the TTSService interface.
func (s *OpenAITTSService) Synthesize(ctx context.Context, text, voiceID string) (*TTSResponse, error) {
	effectiveVoice := s.voice
	if voiceID != "" {
		effectiveVoice = voiceID
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(effectiveVoice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          openaiTTSSpeed,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read openai speech response: %w", err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf("openai speech returned empty audio")
	}

	durationMs := estimateAudioDuration(text, openaiTTSSpeed)

	log.Printf("[OpenAI TTS] Speech generated (voice=%s, %d bytes, estimated %dms)",
		effectiveVoice, len(audioData), durationMs)

	return &TTSResponse{
		AudioData:  audioData,
		DurationMs: durationMs,
		Format:     "mp3",
	}, nil
}
