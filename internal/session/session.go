// Package session holds the per-conversation state: the ordered turn
// history, the current orchestration phase, and the connected flag that
// gates capture. One Session is created per conversation and discarded
// when the conversation ends — nothing is persisted.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/verbaly/emma/internal/models"
)

var (
	// ErrBusy is returned when a capture is requested while a turn is in flight.
	ErrBusy = errors.New("session is busy")

	// ErrNotConnected is returned for operations on an ended conversation.
	ErrNotConnected = errors.New("session is not connected")
)

// TurnRef identifies a turn in a session's history. References are handed
// out by the append operations so that the one permitted mutation
// (attaching a grammar note) can be targeted at a specific turn and
// silently dropped when it arrives late.
type TurnRef struct {
	ID uuid.UUID
}

type Session struct {
	ID      uuid.UUID
	Persona models.Persona

	mu         sync.Mutex
	turns      []models.Turn
	phase      models.Phase
	connected  bool
	lastUserID uuid.UUID // most recent user turn, the only valid Annotate target
	lastActive time.Time
}

// New creates a connected session seeded with the persona's synthetic
// welcome turn.
func New(persona models.Persona) *Session {
	s := &Session{
		ID:         uuid.New(),
		Persona:    persona,
		phase:      models.PhaseIdle,
		connected:  true,
		lastActive: time.Now(),
	}
	s.turns = append(s.turns, models.Turn{
		ID:        uuid.New(),
		Speaker:   models.SpeakerTutor,
		Text:      persona.WelcomeMessage,
		CreatedAt: time.Now(),
	})
	return s
}

// AppendUser appends a user turn with the transcribed text. The turn is
// visible in History immediately, before any grammar note is known.
func (s *Session) AppendUser(text string) TurnRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := models.Turn{
		ID:        uuid.New(),
		Speaker:   models.SpeakerUser,
		Text:      text,
		CreatedAt: s.nextTimestamp(),
	}
	s.turns = append(s.turns, turn)
	s.lastUserID = turn.ID
	s.lastActive = time.Now()
	return TurnRef{ID: turn.ID}
}

// Annotate attaches a grammar note to the referenced user turn. It is the
// single permitted in-place update, and only the most recent unannotated
// user turn is a valid target: a stale reference (a newer user turn has
// been appended, or the turn already carries a note) is a no-op. This
// keeps a late-resolving analysis call from corrupting a later turn.
// Returns whether the note was applied.
func (s *Session) Annotate(ref TurnRef, note models.GrammarNote) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected || ref.ID != s.lastUserID {
		return false
	}
	for i := range s.turns {
		if s.turns[i].ID != ref.ID {
			continue
		}
		if s.turns[i].Speaker != models.SpeakerUser || s.turns[i].GrammarNote != nil {
			return false
		}
		noteCopy := note
		s.turns[i].GrammarNote = &noteCopy
		s.lastActive = time.Now()
		return true
	}
	return false
}

// AppendTutor appends a fully formed tutor turn. translation may be nil
// (synthetic turns); unavailable marks a sentinel translation stored
// after a failed translation call.
func (s *Session) AppendTutor(text string, translation *string, unavailable bool) TurnRef {
	s.mu.Lock()
	defer s.mu.Unlock()

	turn := models.Turn{
		ID:                     uuid.New(),
		Speaker:                models.SpeakerTutor,
		Text:                   text,
		TranslationUnavailable: unavailable,
		CreatedAt:              s.nextTimestamp(),
	}
	if translation != nil {
		t := *translation
		turn.Translation = &t
	}
	s.turns = append(s.turns, turn)
	s.lastActive = time.Now()
	return TurnRef{ID: turn.ID}
}

// Turn returns a copy of the turn with the given ID.
func (s *Session) Turn(id uuid.UUID) (models.Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.turns {
		if s.turns[i].ID == id {
			return cloneTurn(s.turns[i]), true
		}
	}
	return models.Turn{}, false
}

// History returns a read-only snapshot of the turn sequence in
// conversation order.
func (s *Session) History() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Turn, len(s.turns))
	for i := range s.turns {
		out[i] = cloneTurn(s.turns[i])
	}
	return out
}

// ChatHistory converts the turn sequence into the message shape the
// text-generation service consumes.
func (s *Session) ChatHistory() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.ChatMessage, 0, len(s.turns))
	for i := range s.turns {
		role := "user"
		if s.turns[i].Speaker == models.SpeakerTutor {
			role = "assistant"
		}
		out = append(out, models.ChatMessage{Role: role, Content: s.turns[i].Text})
	}
	return out
}

func (s *Session) Phase() models.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) SetPhase(phase models.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.lastActive = time.Now()
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// BeginCapture moves an idle session to the capturing phase. Any new
// capture request while a turn is in flight is rejected.
func (s *Session) BeginCapture() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	if s.phase != models.PhaseIdle {
		return ErrBusy
	}
	s.phase = models.PhaseCapturing
	s.lastActive = time.Now()
	return nil
}

// BeginTurn claims the session for one turn, moving idle or capturing to
// transcribing. The check and the transition happen under one lock hold
// so concurrent turn requests cannot both pass the busy guard.
func (s *Session) BeginTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}
	switch s.phase {
	case models.PhaseIdle, models.PhaseCapturing:
		s.phase = models.PhaseTranscribing
		s.lastActive = time.Now()
		return nil
	default:
		return ErrBusy
	}
}

// Disconnect ends the conversation. In-flight upstream calls are not
// cancelled, but their late results are discarded by the connected checks
// in the orchestrator and in Annotate.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	s.phase = models.PhaseIdle
}

// nextTimestamp keeps CreatedAt monotonically non-decreasing across the
// turn sequence even if the clock steps backwards. Caller holds s.mu.
func (s *Session) nextTimestamp() time.Time {
	now := time.Now()
	if n := len(s.turns); n > 0 && now.Before(s.turns[n-1].CreatedAt) {
		return s.turns[n-1].CreatedAt
	}
	return now
}

func cloneTurn(t models.Turn) models.Turn {
	if t.GrammarNote != nil {
		note := *t.GrammarNote
		t.GrammarNote = &note
	}
	if t.Translation != nil {
		tr := *t.Translation
		t.Translation = &tr
	}
	return t
}

// Manager owns the live sessions. Sessions live in memory only and are
// dropped on DELETE or after sitting idle past the configured timeout.
type Manager struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*Session
	idleTimeout time.Duration
}

func NewManager(idleTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[uuid.UUID]*Session),
		idleTimeout: idleTimeout,
	}
}

func (m *Manager) Create(persona models.Persona) *Session {
	s := New(persona)
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove disconnects and drops the session. Safe to call twice.
func (m *Manager) Remove(id uuid.UUID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		s.Disconnect()
	}
}

// Start runs the idle-session sweep until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActive.Before(cutoff)
		s.mu.Unlock()
		if idle {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Disconnect()
		log.Printf("[Session] Expired idle session %s", s.ID)
	}
}
