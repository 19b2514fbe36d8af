// Package orchestrator drives one conversational turn: transcribe the
// captured utterance, analyze its grammar, generate the tutor reply,
// translate it, and hand the reply text to the synthesizer. Failures
// fall into two buckets: silent (grammar analysis, translation — a
// default is substituted) and visible (transcription, reply generation,
// synthesis — the turn aborts and the session returns to idle). No
// failure leaves the session in an inconsistent state.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/verbaly/emma/internal/extract"
	"github.com/verbaly/emma/internal/models"
	"github.com/verbaly/emma/internal/services"
	"github.com/verbaly/emma/internal/session"
)

// ReplyFallback is spoken when the generation service returns empty text.
const ReplyFallback = "I didn't understand that. Could you try again?"

// Visible failures — the current turn aborts, the phase resets to idle,
// and the handler surfaces a human-readable status. Silent failures
// (grammar analysis, translation) never produce an error.
var (
	ErrTranscription = errors.New("could not transcribe audio")
	ErrConversation  = errors.New("could not generate a reply")
	ErrSynthesis     = errors.New("could not generate speech")
	ErrSessionEnded  = errors.New("conversation has ended")
	ErrNoSuchTurn    = errors.New("no such tutor turn")
)

// Gateway covers the text-side upstream operations consumed per turn.
type Gateway interface {
	// Transcribe converts captured audio into text with a fixed
	// source-language hint. Empty text means the utterance is dropped.
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)

	// AnalyzeGrammar returns raw model text expected to embed a
	// models.GrammarReport JSON object.
	AnalyzeGrammar(ctx context.Context, utterance string) (string, error)

	// Converse generates the tutor reply to the full history under the
	// persona's system prompt.
	Converse(ctx context.Context, systemPrompt string, history []models.ChatMessage) (string, error)
}

// SpeechCache stores synthesized audio keyed by voice+text. Optional —
// a nil cache means every Speak call hits the provider.
type SpeechCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
}

type Orchestrator struct {
	gateway    Gateway
	translator services.Translator
	tts        services.TTSService
	speech     SpeechCache // nil when no cache is configured
}

func New(gateway Gateway, translator services.Translator, tts services.TTSService, speech SpeechCache) *Orchestrator {
	return &Orchestrator{
		gateway:    gateway,
		translator: translator,
		tts:        tts,
		speech:     speech,
	}
}

// ProcessUtterance runs the transcribe -> analyze -> reply -> translate
// steps of one turn. On success the session holds one new user turn
// (possibly annotated) and one new tutor turn (translation set, possibly
// the sentinel), and the phase is synthesizing — awaiting Speak.
func (o *Orchestrator) ProcessUtterance(ctx context.Context, sess *session.Session, audio []byte, mimeType string) (*models.TurnResponse, error) {
	if err := sess.BeginTurn(); err != nil {
		if errors.Is(err, session.ErrNotConnected) {
			return nil, ErrSessionEnded
		}
		return nil, err
	}

	text, err := o.gateway.Transcribe(ctx, audio, mimeType)
	if err != nil {
		sess.SetPhase(models.PhaseIdle)
		return nil, fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	if !sess.Connected() {
		return nil, ErrSessionEnded // late result, discard
	}
	if strings.TrimSpace(text) == "" {
		// Silence or noise — drop the utterance without creating a turn.
		sess.SetPhase(models.PhaseIdle)
		return &models.TurnResponse{Empty: true, Phase: models.PhaseIdle}, nil
	}

	// The user turn is visible before the reply is requested.
	userRef := sess.AppendUser(text)
	sess.SetPhase(models.PhaseAnalyzing)

	history := sess.ChatHistory()

	var reply string
	g, gctx := errgroup.WithContext(ctx)

	// Grammar analysis is recoverable-silent: any failure, parse miss, or
	// hasErrors=false simply leaves the turn unannotated.
	g.Go(func() error {
		raw, err := o.gateway.AnalyzeGrammar(gctx, text)
		if err != nil {
			log.Printf("[Orchestrator] Grammar analysis failed (ignored): %v", err)
			return nil
		}

		var report models.GrammarReport
		if !extract.Decode(raw, &report) || !report.HasErrors || report.CorrectedSentence == nil {
			return nil
		}

		note := models.GrammarNote{CorrectedText: *report.CorrectedSentence}
		if report.Explanation != nil {
			note.Explanation = *report.Explanation
		}
		sess.Annotate(userRef, note)
		return nil
	})

	// Reply generation is the turn's only visible error source here.
	g.Go(func() error {
		r, err := o.gateway.Converse(gctx, sess.Persona.SystemPrompt, history)
		if err != nil {
			return err
		}
		reply = r
		return nil
	})

	if err := g.Wait(); err != nil {
		// The user turn stays in history; no tutor turn is appended.
		sess.SetPhase(models.PhaseIdle)
		return nil, fmt.Errorf("%w: %v", ErrConversation, err)
	}
	if !sess.Connected() {
		return nil, ErrSessionEnded
	}

	if strings.TrimSpace(reply) == "" {
		reply = ReplyFallback
	}

	// Translation is recoverable-silent: the sentinel stands in for a
	// missing translation and is flagged so clients don't render it as one.
	translation, unavailable := o.translate(ctx, reply, sess.Persona.TargetLanguage)

	tutorRef := sess.AppendTutor(reply, &translation, unavailable)
	sess.SetPhase(models.PhaseSynthesizing)

	userTurn, _ := sess.Turn(userRef.ID)
	tutorTurn, _ := sess.Turn(tutorRef.ID)

	return &models.TurnResponse{
		UserTurn:  &userTurn,
		TutorTurn: &tutorTurn,
		Phase:     sess.Phase(),
	}, nil
}

func (o *Orchestrator) translate(ctx context.Context, text, targetLang string) (string, bool) {
	translated, err := o.translator.Translate(ctx, text, targetLang)
	if err != nil {
		log.Printf("[Orchestrator] Translation failed (substituting sentinel): %v", err)
		return models.TranslationUnavailable, true
	}
	if strings.TrimSpace(translated) == "" {
		log.Printf("[Orchestrator] Translation returned empty text (substituting sentinel)")
		return models.TranslationUnavailable, true
	}
	return translated, false
}

// Speak synthesizes a tutor turn's text. On success the phase moves to
// speaking; on failure it resets to idle but the tutor turn stays in
// history — the text exchange succeeded even if the audio did not.
func (o *Orchestrator) Speak(ctx context.Context, sess *session.Session, turnID uuid.UUID) (*services.TTSResponse, error) {
	if !sess.Connected() {
		return nil, ErrSessionEnded
	}

	turn, ok := sess.Turn(turnID)
	if !ok || turn.Speaker != models.SpeakerTutor {
		return nil, ErrNoSuchTurn
	}

	voice := sess.Persona.VoiceID
	key := speechKey(o.tts.Provider(), voice, turn.Text)

	if o.speech != nil {
		if data, ok := o.speech.Get(ctx, key); ok {
			log.Printf("[Orchestrator] Speech cache hit for turn %s (%d bytes)", turnID, len(data))
			sess.SetPhase(models.PhaseSpeaking)
			return &services.TTSResponse{AudioData: data, Format: "mp3"}, nil
		}
	}

	resp, err := o.tts.Synthesize(ctx, turn.Text, voice)
	if err != nil {
		sess.SetPhase(models.PhaseIdle)
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	if o.speech != nil {
		o.speech.Set(ctx, key, resp.AudioData)
	}

	if !sess.Connected() {
		return nil, ErrSessionEnded // ended mid-synthesis, discard playback
	}

	sess.SetPhase(models.PhaseSpeaking)
	return resp, nil
}

// PlaybackFinished returns the session to idle once external playback
// signals completion or error — the outcome does not matter.
func (o *Orchestrator) PlaybackFinished(sess *session.Session) {
	if sess.Connected() {
		sess.SetPhase(models.PhaseIdle)
	}
}

// Exchange is the stateless variant used by the compatibility /v1/chat
// route: grammar analysis on the last user message, a reply to the given
// history, and a translation — with the same silent/visible failure
// split as the session flow.
func (o *Orchestrator) Exchange(ctx context.Context, persona models.Persona, history []models.ChatMessage) (*models.ChatResponse, error) {
	var userText string
	if len(history) > 0 {
		userText = history[len(history)-1].Content
	}

	resp := &models.ChatResponse{}

	if strings.TrimSpace(userText) != "" {
		raw, err := o.gateway.AnalyzeGrammar(ctx, userText)
		if err != nil {
			log.Printf("[Orchestrator] Grammar analysis failed (ignored): %v", err)
		} else {
			var report models.GrammarReport
			if extract.Decode(raw, &report) && report.HasErrors && report.CorrectedSentence != nil {
				resp.GrammarCorrection = report.CorrectedSentence
				resp.Explanation = report.Explanation
			}
		}
	}

	reply, err := o.gateway.Converse(ctx, persona.SystemPrompt, history)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConversation, err)
	}
	if strings.TrimSpace(reply) == "" {
		reply = ReplyFallback
	}
	resp.Response = reply

	resp.Translation, _ = o.translate(ctx, reply, persona.TargetLanguage)

	return resp, nil
}

// speechKey derives the cache key for a provider+voice+text triple.
// The provider tag keeps one provider's cached audio from being served
// after switching to another. Hashing keeps keys bounded regardless of
// reply length.
func speechKey(provider, voiceID, text string) string {
	sum := sha256.Sum256([]byte(provider + "|" + voiceID + "|" + text))
	return "speech:" + hex.EncodeToString(sum[:])
}

// Synthesize converts arbitrary text to speech for the compatibility
// /v1/text-to-speech route, going through the same cache as Speak.
func (o *Orchestrator) Synthesize(ctx context.Context, text, voiceID string) (*services.TTSResponse, error) {
	key := speechKey(o.tts.Provider(), voiceID, text)

	if o.speech != nil {
		if data, ok := o.speech.Get(ctx, key); ok {
			return &services.TTSResponse{AudioData: data, Format: "mp3"}, nil
		}
	}

	resp, err := o.tts.Synthesize(ctx, text, voiceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	if o.speech != nil {
		o.speech.Set(ctx, key, resp.AudioData)
	}
	return resp, nil
}
