package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database (optional — personas fall back to the built-in catalog)
	DatabaseURL string

	// Redis (optional — speech caching is skipped when unset)
	RedisURL string

	// OpenAI (transcription, grammar analysis, reply generation, fallback TTS)
	OpenAIKey      string
	OpenAITTSVoice string

	// Gemini (preferred translation provider — OpenAI used when unset)
	GeminiKey string

	// ElevenLabs (preferred TTS provider — OpenAI TTS used when unset)
	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// Languages
	SourceLanguage string // language the student practices (transcription hint)
	TargetLanguage string // language tutor replies are translated into

	// Sessions
	SessionIdleTimeoutMin int // minutes of inactivity before a session is swept
	SpeechCacheTTLHours   int // how long synthesized audio stays cached
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", ""),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAITTSVoice:        getEnv("OPENAI_TTS_VOICE", "nova"),
		GeminiKey:             getEnv("GEMINI_API_KEY", ""),
		ElevenLabsKey:         getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID:     getEnv("ELEVENLABS_VOICE_ID", ""),
		SourceLanguage:        getEnv("SOURCE_LANGUAGE", "en"),
		TargetLanguage:        getEnv("TARGET_LANGUAGE", "ur"),
		SessionIdleTimeoutMin: getEnvInt("SESSION_IDLE_TIMEOUT_MIN", 30),
		SpeechCacheTTLHours:   getEnvInt("SPEECH_CACHE_TTL_HOURS", 24),
	}

	// Validate required fields
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}

	if cfg.SessionIdleTimeoutMin <= 0 {
		return nil, fmt.Errorf("SESSION_IDLE_TIMEOUT_MIN must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}
