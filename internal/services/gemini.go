package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Gemini Translation Service
// Uses the Google Gen AI SDK for the translation overlay. Preferred over
// the OpenAI fallback when a Gemini key is configured.
// ---------------------------------------------------------------------------

const geminiTranslateModel = "gemini-2.0-flash"

// GeminiService translates tutor replies via the Gemini API.
type GeminiService struct {
	apiKey string
	model  string
}

// Ensure GeminiService implements Translator at compile time.
var _ Translator = (*GeminiService)(nil)

// NewGeminiService creates a Gemini translation service.
// model is the Gemini model to use (empty string defaults to gemini-2.0-flash).
func NewGeminiService(apiKey, model string) *GeminiService {
	if model == "" {
		model = geminiTranslateModel
	}
	return &GeminiService{
		apiKey: apiKey,
		model:  model,
	}
}

// Translate renders text into the target language.
func (s *GeminiService) Translate(ctx context.Context, text, targetLang string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	prompt := fmt.Sprintf(`Translate this text to %s: "%s"

Respond with ONLY the %s translation, no other text.`, LanguageName(targetLang), text, LanguageName(targetLang))

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.3),
		MaxOutputTokens: 100,
	}

	resp, err := client.Models.GenerateContent(ctx, s.model, genai.Text(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini translation failed: %w", err)
	}

	translated := strings.Trim(strings.TrimSpace(resp.Text()), "`")
	if translated == "" {
		return "", fmt.Errorf("gemini returned empty translation")
	}

	log.Printf("[Gemini] Translated to %s (textLen=%d)", targetLang, len(translated))
	return translated, nil
}
