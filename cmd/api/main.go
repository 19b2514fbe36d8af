package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verbaly/emma/internal/api"
	"github.com/verbaly/emma/internal/cache"
	"github.com/verbaly/emma/internal/config"
	"github.com/verbaly/emma/internal/db"
	"github.com/verbaly/emma/internal/orchestrator"
	"github.com/verbaly/emma/internal/services"
	"github.com/verbaly/emma/internal/session"
)

func main() {
	log.Println("Starting Emma API...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Persona directory — Postgres when configured, built-in catalog otherwise
	var personas api.PersonaSource
	if cfg.DatabaseURL != "" {
		database, err := db.New(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()
		personas = database
		log.Println("Connected to database")
	} else {
		personas = api.NewBuiltinPersonas(cfg.TargetLanguage)
		log.Println("No DATABASE_URL set — using built-in persona catalog")
	}

	// Speech cache — optional, a nil cache just means more TTS calls
	var speechCache orchestrator.SpeechCache
	if cfg.RedisURL != "" {
		c, err := cache.New(cfg.RedisURL, time.Duration(cfg.SpeechCacheTTLHours)*time.Hour)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer c.Close()
		speechCache = c
		log.Println("Connected to Redis speech cache")
	} else {
		log.Println("No REDIS_URL set — speech caching disabled")
	}

	// OpenAI handles transcription, grammar analysis, and reply generation
	openaiSvc := services.NewOpenAIService(cfg.OpenAIKey, cfg.SourceLanguage)

	// TTS provider — ElevenLabs preferred, OpenAI TTS as fallback
	var ttsSvc services.TTSService
	if cfg.ElevenLabsKey != "" {
		ttsSvc = services.NewElevenLabsService(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID)
		log.Printf("TTS provider: ElevenLabs (voice: %s, model: eleven_flash_v2_5)", cfg.ElevenLabsVoiceID)
	} else {
		ttsSvc = services.NewOpenAITTSService(cfg.OpenAIKey, cfg.OpenAITTSVoice)
		log.Printf("TTS provider: OpenAI (voice: %s, model: tts-1)", cfg.OpenAITTSVoice)
	}

	// Translation provider — Gemini preferred, OpenAI as fallback
	var translator services.Translator
	if cfg.GeminiKey != "" {
		translator = services.NewGeminiService(cfg.GeminiKey, "gemini-2.0-flash")
		log.Println("Translation provider: Gemini (model: gemini-2.0-flash)")
	} else {
		translator = openaiSvc
		log.Println("Translation provider: OpenAI")
	}

	// Session manager sweeps abandoned sessions in the background
	sessions := session.NewManager(time.Duration(cfg.SessionIdleTimeoutMin) * time.Minute)
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	go sessions.Start(sweepCtx)

	orch := orchestrator.New(openaiSvc, translator, ttsSvc, speechCache)

	// Create API handler
	handler := api.NewHandler(sessions, orch, openaiSvc, personas)
	router := api.NewRouter(handler, api.RouterConfig{
		BackendAPIKey:      cfg.BackendAPIKey,
		CorsAllowedOrigins: cfg.CorsAllowedOrigins,
	})

	if cfg.BackendAPIKey != "" {
		log.Println("API key authentication enabled")
	} else {
		log.Println("WARNING: No BACKEND_API_KEY set — API is unprotected (dev mode)")
	}

	// Start HTTP server
	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Printf("API server listening on :%s", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	sweepCancel()

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
