package services

import "context"

// ---------------------------------------------------------------------------
// Translator — common interface for translation providers
// Gemini is preferred when a key is configured, with the OpenAI chat
// model as fallback. Either way the target language is fixed per persona.
// ---------------------------------------------------------------------------

// Translator renders text into a target language identified by an
// ISO 639-1 code.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// languageNames maps the ISO 639-1 codes the personas use to the English
// language names the translation prompts spell out.
var languageNames = map[string]string{
	"ar": "Arabic",
	"bn": "Bengali",
	"de": "German",
	"en": "English",
	"es": "Spanish",
	"fa": "Persian",
	"fr": "French",
	"hi": "Hindi",
	"id": "Indonesian",
	"it": "Italian",
	"ja": "Japanese",
	"ko": "Korean",
	"pt": "Portuguese",
	"ru": "Russian",
	"tr": "Turkish",
	"ur": "Urdu",
	"vi": "Vietnamese",
	"zh": "Chinese",
}

// LanguageName resolves a language code to its English name, falling
// back to the code itself for anything unmapped.
func LanguageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return code
}
