package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/verbaly/emma/internal/models"
	"github.com/verbaly/emma/internal/services"
	"github.com/verbaly/emma/internal/session"
)

// fakeGateway scripts the upstream responses for one test.
type fakeGateway struct {
	transcript    string
	transcribeErr error
	grammarRaw    string
	grammarErr    error
	reply         string
	converseErr   error

	converseHistory []models.ChatMessage
}

func (f *fakeGateway) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	return f.transcript, f.transcribeErr
}

func (f *fakeGateway) AnalyzeGrammar(ctx context.Context, utterance string) (string, error) {
	return f.grammarRaw, f.grammarErr
}

func (f *fakeGateway) Converse(ctx context.Context, systemPrompt string, history []models.ChatMessage) (string, error) {
	f.converseHistory = history
	return f.reply, f.converseErr
}

type fakeTranslator struct {
	translation string
	err         error
}

func (f *fakeTranslator) Translate(ctx context.Context, text, targetLang string) (string, error) {
	return f.translation, f.err
}

type fakeTTS struct {
	provider string
	audio    []byte
	err      error
	calls    int
}

func (f *fakeTTS) Provider() string {
	if f.provider == "" {
		return "fake"
	}
	return f.provider
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, voiceID string) (*services.TTSResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &services.TTSResponse{AudioData: f.audio, Format: "mp3"}, nil
}

type fakeCache struct {
	entries map[string][]byte
}

func newFakeCache() *fakeCache { return &fakeCache{entries: make(map[string][]byte)} }

func (f *fakeCache) Get(ctx context.Context, key string) ([]byte, bool) {
	data, ok := f.entries[key]
	return data, ok
}

func (f *fakeCache) Set(ctx context.Context, key string, data []byte) {
	f.entries[key] = data
}

func testSession() *session.Session {
	return session.New(models.Persona{
		ID:             uuid.New(),
		Slug:           "emma",
		DisplayName:    "Emma",
		SystemPrompt:   "You are Emma, a friendly English tutor.",
		TargetLanguage: "ur",
		WelcomeMessage: "Hi! Ready to practice?",
	})
}

func TestFullTurnCycle(t *testing.T) {
	gw := &fakeGateway{
		transcript: "He go to school every day.",
		grammarRaw: `{"hasErrors": true, "correctedSentence": "He goes to school every day.", "explanation": "subject-verb agreement"}`,
		reply:      "That sounds like a busy routine! What does he study?",
	}
	tr := &fakeTranslator{translation: "یہ ایک مصروف معمول لگتا ہے!"}
	o := New(gw, tr, &fakeTTS{audio: []byte("mp3")}, nil)
	sess := testSession()

	resp, err := o.ProcessUtterance(context.Background(), sess, []byte("opus"), "audio/webm")
	if err != nil {
		t.Fatalf("turn failed: %v", err)
	}

	if resp.UserTurn == nil || resp.TutorTurn == nil {
		t.Fatalf("expected both turns, got %+v", resp)
	}
	if resp.UserTurn.GrammarNote == nil {
		t.Fatal("expected grammar note on the user turn")
	}
	if got := resp.UserTurn.GrammarNote.CorrectedText; got != "He goes to school every day." {
		t.Errorf("unexpected corrected text: %q", got)
	}
	if resp.TutorTurn.Translation == nil || *resp.TutorTurn.Translation != tr.translation {
		t.Errorf("unexpected translation: %v", resp.TutorTurn.Translation)
	}
	if resp.TutorTurn.TranslationUnavailable {
		t.Error("translation should not be flagged unavailable")
	}
	if sess.Phase() != models.PhaseSynthesizing {
		t.Errorf("expected synthesizing phase awaiting speech, got %s", sess.Phase())
	}

	// Welcome + user + tutor.
	if got := len(sess.History()); got != 3 {
		t.Errorf("expected 3 turns in history, got %d", got)
	}

	// The user turn was part of the history sent to the generation service.
	last := gw.converseHistory[len(gw.converseHistory)-1]
	if last.Role != "user" || last.Content != gw.transcript {
		t.Errorf("user turn not visible to converse: %+v", last)
	}
}

func TestEmptyTranscriptDropsUtterance(t *testing.T) {
	gw := &fakeGateway{transcript: "   "}
	o := New(gw, &fakeTranslator{}, &fakeTTS{}, nil)
	sess := testSession()

	resp, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("empty utterance must not be an error: %v", err)
	}
	if !resp.Empty {
		t.Error("expected empty turn response")
	}
	if got := len(sess.History()); got != 1 {
		t.Errorf("no turn should be added, history has %d", got)
	}
	if sess.Phase() != models.PhaseIdle {
		t.Errorf("expected idle, got %s", sess.Phase())
	}
}

func TestTranscriptionFailureAbortsTurn(t *testing.T) {
	gw := &fakeGateway{transcribeErr: errors.New("upstream 502")}
	o := New(gw, &fakeTranslator{}, &fakeTTS{}, nil)
	sess := testSession()

	_, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("expected ErrTranscription, got %v", err)
	}
	if got := len(sess.History()); got != 1 {
		t.Errorf("no turn should be added, history has %d", got)
	}
	if sess.Phase() != models.PhaseIdle {
		t.Errorf("expected idle, got %s", sess.Phase())
	}
}

func TestConverseFailureKeepsUserTurn(t *testing.T) {
	gw := &fakeGateway{
		transcript:  "Hello there",
		grammarRaw:  `{"hasErrors": false, "correctedSentence": null, "explanation": null}`,
		converseErr: errors.New("rate limited"),
	}
	o := New(gw, &fakeTranslator{}, &fakeTTS{}, nil)
	sess := testSession()

	_, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if !errors.Is(err, ErrConversation) {
		t.Fatalf("expected ErrConversation, got %v", err)
	}

	history := sess.History()
	if len(history) != 2 {
		t.Fatalf("expected welcome + user turn, got %d turns", len(history))
	}
	if history[1].Speaker != models.SpeakerUser {
		t.Errorf("surviving turn should be the user's, got %s", history[1].Speaker)
	}
	if sess.Phase() != models.PhaseIdle {
		t.Errorf("expected idle, got %s", sess.Phase())
	}
}

func TestGrammarFailureIsSilent(t *testing.T) {
	gw := &fakeGateway{
		transcript: "I am fine",
		grammarErr: errors.New("quota exceeded"),
		reply:      "Glad to hear it!",
	}
	o := New(gw, &fakeTranslator{translation: "x"}, &fakeTTS{}, nil)
	sess := testSession()

	resp, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("grammar failure must be absorbed: %v", err)
	}
	if resp.UserTurn.GrammarNote != nil {
		t.Error("turn must be left unannotated after analysis failure")
	}
}

func TestUnparseableGrammarLeavesTurnUnannotated(t *testing.T) {
	gw := &fakeGateway{
		transcript: "I am fine",
		grammarRaw: "the sentence looks good to me!",
		reply:      "Great!",
	}
	o := New(gw, &fakeTranslator{translation: "x"}, &fakeTTS{}, nil)
	sess := testSession()

	resp, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("parse miss must be absorbed: %v", err)
	}
	if resp.UserTurn.GrammarNote != nil {
		t.Error("unparseable analysis must leave the turn unannotated")
	}
}

func TestTranslationFailureStoresSentinel(t *testing.T) {
	gw := &fakeGateway{
		transcript: "Hello",
		grammarRaw: `{"hasErrors": false}`,
		reply:      "Hi! How's your day going?",
	}
	o := New(gw, &fakeTranslator{err: errors.New("timeout")}, &fakeTTS{}, nil)
	sess := testSession()

	resp, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("translation failure must be absorbed: %v", err)
	}
	if resp.TutorTurn.Translation == nil || *resp.TutorTurn.Translation != models.TranslationUnavailable {
		t.Errorf("expected sentinel translation, got %v", resp.TutorTurn.Translation)
	}
	if !resp.TutorTurn.TranslationUnavailable {
		t.Error("sentinel must be flagged unavailable")
	}
}

func TestEmptyTranslationStoresSentinel(t *testing.T) {
	gw := &fakeGateway{
		transcript: "Hello",
		grammarRaw: `{"hasErrors": false}`,
		reply:      "Hi! How are you today?",
	}
	o := New(gw, &fakeTranslator{translation: "   "}, &fakeTTS{}, nil)
	sess := testSession()

	resp, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("empty translation must be absorbed: %v", err)
	}
	if resp.TutorTurn.Translation == nil || *resp.TutorTurn.Translation != models.TranslationUnavailable {
		t.Errorf("expected sentinel translation, got %v", resp.TutorTurn.Translation)
	}
	if !resp.TutorTurn.TranslationUnavailable {
		t.Error("sentinel must be flagged unavailable")
	}
}

func TestEmptyReplyUsesFallback(t *testing.T) {
	gw := &fakeGateway{
		transcript: "Hmm",
		grammarRaw: `{"hasErrors": false}`,
		reply:      "  ",
	}
	o := New(gw, &fakeTranslator{translation: "x"}, &fakeTTS{}, nil)
	sess := testSession()

	resp, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if err != nil {
		t.Fatalf("empty reply must not fail the turn: %v", err)
	}
	if resp.TutorTurn.Text != ReplyFallback {
		t.Errorf("expected fallback reply, got %q", resp.TutorTurn.Text)
	}
}

// blockingGateway parks Transcribe until released so a test can hold one
// turn in flight while issuing another.
type blockingGateway struct {
	fakeGateway
	entered chan struct{}
	release chan struct{}
}

func (b *blockingGateway) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.transcript, nil
}

func TestConcurrentTurnRequestRejectedWhileInFlight(t *testing.T) {
	gw := &blockingGateway{
		fakeGateway: fakeGateway{
			transcript: "hello",
			grammarRaw: `{"hasErrors": false}`,
			reply:      "hi there!",
		},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	o := New(gw, &fakeTranslator{translation: "x"}, &fakeTTS{}, nil)
	sess := testSession()

	done := make(chan error, 1)
	go func() {
		_, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
		done <- err
	}()

	<-gw.entered // first turn is inside the transcription call

	if _, err := o.ProcessUtterance(context.Background(), sess, []byte("y"), "audio/webm"); !errors.Is(err, session.ErrBusy) {
		t.Fatalf("expected ErrBusy for a second in-flight turn, got %v", err)
	}

	close(gw.release)
	if err := <-done; err != nil {
		t.Fatalf("first turn failed: %v", err)
	}

	// Welcome + exactly one user/tutor pair.
	if got := len(sess.History()); got != 3 {
		t.Errorf("expected 3 turns, got %d", got)
	}
}

func TestBusyGuardRejectsConcurrentTurn(t *testing.T) {
	o := New(&fakeGateway{}, &fakeTranslator{}, &fakeTTS{}, nil)
	sess := testSession()
	sess.SetPhase(models.PhaseAnalyzing)

	_, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm")
	if !errors.Is(err, session.ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestSpeakMovesToSpeaking(t *testing.T) {
	tts := &fakeTTS{audio: []byte("mp3 bytes")}
	o := New(&fakeGateway{}, &fakeTranslator{}, tts, nil)
	sess := testSession()
	ref := sess.AppendTutor("Nice to meet you!", nil, false)

	resp, err := o.Speak(context.Background(), sess, ref.ID)
	if err != nil {
		t.Fatalf("speak failed: %v", err)
	}
	if string(resp.AudioData) != "mp3 bytes" {
		t.Errorf("unexpected audio: %q", resp.AudioData)
	}
	if sess.Phase() != models.PhaseSpeaking {
		t.Errorf("expected speaking, got %s", sess.Phase())
	}
}

func TestSpeakFailureKeepsTutorTurn(t *testing.T) {
	o := New(&fakeGateway{}, &fakeTranslator{}, &fakeTTS{err: errors.New("tts down")}, nil)
	sess := testSession()
	ref := sess.AppendTutor("Nice to meet you!", nil, false)

	_, err := o.Speak(context.Background(), sess, ref.ID)
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if sess.Phase() != models.PhaseIdle {
		t.Errorf("expected idle after synthesis failure, got %s", sess.Phase())
	}
	if _, ok := sess.Turn(ref.ID); !ok {
		t.Error("tutor turn must survive a synthesis failure")
	}
}

func TestSpeakRejectsUserTurn(t *testing.T) {
	o := New(&fakeGateway{}, &fakeTranslator{}, &fakeTTS{}, nil)
	sess := testSession()
	ref := sess.AppendUser("hello")

	if _, err := o.Speak(context.Background(), sess, ref.ID); !errors.Is(err, ErrNoSuchTurn) {
		t.Fatalf("expected ErrNoSuchTurn, got %v", err)
	}
}

func TestSpeakUsesCache(t *testing.T) {
	tts := &fakeTTS{audio: []byte("fresh audio")}
	cache := newFakeCache()
	o := New(&fakeGateway{}, &fakeTranslator{}, tts, cache)
	sess := testSession()
	ref := sess.AppendTutor("Welcome back!", nil, false)

	if _, err := o.Speak(context.Background(), sess, ref.ID); err != nil {
		t.Fatalf("first speak failed: %v", err)
	}
	if tts.calls != 1 {
		t.Fatalf("expected one provider call, got %d", tts.calls)
	}

	o.PlaybackFinished(sess)
	if _, err := o.Speak(context.Background(), sess, ref.ID); err != nil {
		t.Fatalf("second speak failed: %v", err)
	}
	if tts.calls != 1 {
		t.Errorf("second speak should be served from cache, provider called %d times", tts.calls)
	}
}

func TestSpeechCacheKeyedByProvider(t *testing.T) {
	cache := newFakeCache()
	sess := testSession()
	ref := sess.AppendTutor("Hello there!", nil, false)

	first := &fakeTTS{provider: "elevenlabs", audio: []byte("eleven audio")}
	o1 := New(&fakeGateway{}, &fakeTranslator{}, first, cache)
	if _, err := o1.Speak(context.Background(), sess, ref.ID); err != nil {
		t.Fatalf("first speak failed: %v", err)
	}

	// Switching providers must not serve the old provider's audio.
	second := &fakeTTS{provider: "openai", audio: []byte("openai audio")}
	o2 := New(&fakeGateway{}, &fakeTranslator{}, second, cache)
	sess.SetPhase(models.PhaseIdle)

	resp, err := o2.Speak(context.Background(), sess, ref.ID)
	if err != nil {
		t.Fatalf("second speak failed: %v", err)
	}
	if second.calls != 1 {
		t.Errorf("provider switch should miss the cache, provider called %d times", second.calls)
	}
	if string(resp.AudioData) != "openai audio" {
		t.Errorf("served stale audio: %q", resp.AudioData)
	}
}

func TestPlaybackFinishedReturnsToIdle(t *testing.T) {
	o := New(&fakeGateway{}, &fakeTranslator{}, &fakeTTS{}, nil)
	sess := testSession()
	sess.SetPhase(models.PhaseSpeaking)

	o.PlaybackFinished(sess)
	if sess.Phase() != models.PhaseIdle {
		t.Errorf("expected idle, got %s", sess.Phase())
	}
}

func TestDisconnectedSessionRejectsTurn(t *testing.T) {
	o := New(&fakeGateway{transcript: "hi"}, &fakeTranslator{}, &fakeTTS{}, nil)
	sess := testSession()
	sess.Disconnect()

	if _, err := o.ProcessUtterance(context.Background(), sess, []byte("x"), "audio/webm"); !errors.Is(err, ErrSessionEnded) {
		t.Fatalf("expected ErrSessionEnded, got %v", err)
	}
}

func TestExchangeMirrorsOriginalChatRoute(t *testing.T) {
	gw := &fakeGateway{
		grammarRaw: "```json\n{\"hasErrors\": true, \"correctedSentence\": \"I went there yesterday.\", \"explanation\": \"past tense\"}\n```",
		reply:      "That sounds fun! What did you do there?",
	}
	o := New(gw, &fakeTranslator{translation: "یہ مزے کی بات ہے!"}, &fakeTTS{}, nil)

	persona := models.Persona{SystemPrompt: "You are Emma.", TargetLanguage: "ur"}
	resp, err := o.Exchange(context.Background(), persona, []models.ChatMessage{
		{Role: "user", Content: "I go there yesterday."},
	})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if resp.GrammarCorrection == nil || *resp.GrammarCorrection != "I went there yesterday." {
		t.Errorf("unexpected correction: %v", resp.GrammarCorrection)
	}
	if !strings.Contains(resp.Response, "What did you do") {
		t.Errorf("unexpected reply: %q", resp.Response)
	}
	if resp.Translation == models.TranslationUnavailable {
		t.Error("translation should have succeeded")
	}
}
