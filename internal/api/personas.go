package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/verbaly/emma/internal/models"
)

// PersonaSource resolves tutor personas. Backed by Postgres when a
// DATABASE_URL is configured, otherwise by the built-in catalog.
type PersonaSource interface {
	ListPersonas(ctx context.Context) ([]models.Persona, error)
	GetPersona(ctx context.Context, id uuid.UUID) (*models.Persona, error)
	GetDefaultPersona(ctx context.Context) (*models.Persona, error)
}

// emmaSystemPrompt is the default tutor persona instruction. Replies stay
// short and conversational because they are spoken aloud.
const emmaSystemPrompt = `You are Emma, a friendly and encouraging English conversation tutor. You're having a natural voice conversation with a student.

IMPORTANT GUIDELINES:
- Keep responses SHORT (1-2 sentences max) since this is a voice conversation
- Speak naturally and conversationally, like you're talking to a friend
- Use contractions (I'm, you're, that's, etc.) to sound more natural
- Ask engaging follow-up questions to keep the conversation flowing
- Be encouraging and supportive about their English practice
- Vary topics: daily life, hobbies, interests, experiences
- Respond as if you're having a real-time voice chat
- Keep the energy positive and engaging
- Use simple, clear language appropriate for language learners
- DO NOT mention grammar corrections in your response - that's handled separately
- Just respond naturally to what they said

Remember: This is a VOICE conversation, so keep it natural and conversational!`

const emmaWelcomeMessage = "Hi! I'm Emma, your English conversation partner. Ready to practice? Just click the microphone and start talking!"

// BuiltinPersonas is the no-database fallback: a single default tutor.
type BuiltinPersonas struct {
	personas []models.Persona
}

// Ensure BuiltinPersonas implements PersonaSource at compile time.
var _ PersonaSource = (*BuiltinPersonas)(nil)

// NewBuiltinPersonas creates the built-in catalog with the given
// translation target language.
func NewBuiltinPersonas(targetLang string) *BuiltinPersonas {
	now := time.Now()
	return &BuiltinPersonas{
		personas: []models.Persona{
			{
				ID:             uuid.NewSHA1(uuid.NameSpaceOID, []byte("persona:emma")),
				Slug:           "emma",
				DisplayName:    "Emma",
				SystemPrompt:   emmaSystemPrompt,
				SourceLanguage: "en",
				TargetLanguage: targetLang,
				WelcomeMessage: emmaWelcomeMessage,
				CreatedAt:      now,
				UpdatedAt:      now,
			},
		},
	}
}

func (b *BuiltinPersonas) ListPersonas(ctx context.Context) ([]models.Persona, error) {
	out := make([]models.Persona, len(b.personas))
	copy(out, b.personas)
	return out, nil
}

func (b *BuiltinPersonas) GetPersona(ctx context.Context, id uuid.UUID) (*models.Persona, error) {
	for i := range b.personas {
		if b.personas[i].ID == id {
			p := b.personas[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("persona not found")
}

func (b *BuiltinPersonas) GetDefaultPersona(ctx context.Context) (*models.Persona, error) {
	p := b.personas[0]
	return &p, nil
}
