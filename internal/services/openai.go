package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/verbaly/emma/internal/models"
)

const (
	chatModel = openai.GPT4o

	// Grammar analysis wants deterministic, terse JSON output.
	grammarTemperature = 0.3
	grammarMaxTokens   = 200

	// Conversational replies stay short — this is a voice exchange.
	converseTemperature = 0.8
	converseMaxTokens   = 150

	translateTemperature = 0.3
	translateMaxTokens   = 100
)

// OpenAIService covers the chat-based gateway operations (grammar
// analysis, conversation, translation fallback) plus Whisper
// transcription.
type OpenAIService struct {
	client     *openai.Client
	sourceLang string // fixed source-language hint for Whisper
}

func NewOpenAIService(apiKey, sourceLang string) *OpenAIService {
	if sourceLang == "" {
		sourceLang = "en"
	}
	return &OpenAIService{
		client:     openai.NewClient(apiKey),
		sourceLang: sourceLang,
	}
}

// Transcribe sends captured audio to Whisper and returns the transcript
// text. An empty transcript is not an error — the caller drops the
// utterance silently.
func (s *OpenAIService) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: filenameHint(mimeType), // Filename hint for the API (required by the library)
		Language: s.sourceLang,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	log.Printf("[Whisper] Transcribed %d bytes of %s (text: %q)", len(audio), mimeType, truncateString(text, 80))
	return text, nil
}

// AnalyzeGrammar asks the model to judge one utterance and returns the
// raw model text. The caller runs it through the extractor; any parse
// failure means "utterance is fine".
func (s *OpenAIService) AnalyzeGrammar(ctx context.Context, utterance string) (string, error) {
	prompt := fmt.Sprintf(`Analyze this sentence for grammatical errors: "%s"

If there are grammatical mistakes, respond with ONLY a JSON object in this exact format:
{
  "hasErrors": true,
  "correctedSentence": "The grammatically correct version here",
  "explanation": "Brief explanation of what was wrong"
}

If the sentence is grammatically correct, respond with:
{
  "hasErrors": false,
  "correctedSentence": null,
  "explanation": null
}

Do not include any other text outside the JSON.`, utterance)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: grammarTemperature,
		MaxTokens:   grammarMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("grammar analysis failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from grammar analysis")
	}

	return resp.Choices[0].Message.Content, nil
}

// Converse generates the tutor's conversational reply to the full
// history, constrained by the persona's system prompt.
func (s *OpenAIService) Converse(ctx context.Context, systemPrompt string, history []models.ChatMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       chatModel,
		Messages:    messages,
		Temperature: converseTemperature,
		MaxTokens:   converseMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	log.Printf("[OpenAI chat] Reply generated (history=%d, text: %q)", len(history), truncateString(reply, 80))
	return reply, nil
}

// Ensure OpenAIService implements Translator at compile time.
var _ Translator = (*OpenAIService)(nil)

// Translate renders text into the target language. Fallback provider
// when Gemini is not configured.
func (s *OpenAIService) Translate(ctx context.Context, text, targetLang string) (string, error) {
	prompt := fmt.Sprintf(`Translate this text to %s: "%s"

Respond with ONLY the %s translation, no other text.`, LanguageName(targetLang), text, LanguageName(targetLang))

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: translateTemperature,
		MaxTokens:   translateMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("translation failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from translation")
	}

	return strings.Trim(strings.TrimSpace(resp.Choices[0].Message.Content), "`"), nil
}

// filenameHint maps the uploaded MIME type to the filename the OpenAI
// library requires for format detection.
func filenameHint(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "webm"):
		return "audio.webm"
	case strings.Contains(mimeType, "ogg"):
		return "audio.ogg"
	case strings.Contains(mimeType, "wav"):
		return "audio.wav"
	case strings.Contains(mimeType, "mp4"):
		return "audio.mp4"
	case strings.Contains(mimeType, "mpeg"), strings.Contains(mimeType, "mp3"):
		return "audio.mp3"
	default:
		return "audio.webm" // browser MediaRecorder default
	}
}

// truncateString truncates a string to maxLen and appends "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
