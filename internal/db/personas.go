package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/verbaly/emma/internal/models"
)

const personaColumns = `
	id, slug, display_name, system_prompt, voice_id,
	source_language, target_language, welcome_message, voice_profile,
	created_at, updated_at
`

func scanPersona(row interface{ Scan(...interface{}) error }) (*models.Persona, error) {
	p := &models.Persona{}
	err := row.Scan(
		&p.ID, &p.Slug, &p.DisplayName, &p.SystemPrompt, &p.VoiceID,
		&p.SourceLanguage, &p.TargetLanguage, &p.WelcomeMessage, &p.VoiceProfile,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPersonas returns all tutor personas ordered by creation date.
func (db *DB) ListPersonas(ctx context.Context) ([]models.Persona, error) {
	query := `SELECT ` + personaColumns + ` FROM personas ORDER BY created_at`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list personas: %w", err)
	}
	defer rows.Close()

	var personas []models.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan persona: %w", err)
		}
		personas = append(personas, *p)
	}

	return personas, rows.Err()
}

// GetPersona retrieves a persona by ID.
func (db *DB) GetPersona(ctx context.Context, id uuid.UUID) (*models.Persona, error) {
	query := `SELECT ` + personaColumns + ` FROM personas WHERE id = $1`

	p, err := scanPersona(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("persona not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get persona: %w", err)
	}

	return p, nil
}

// GetDefaultPersona returns the oldest persona, used when session
// creation names none.
func (db *DB) GetDefaultPersona(ctx context.Context) (*models.Persona, error) {
	query := `SELECT ` + personaColumns + ` FROM personas ORDER BY created_at LIMIT 1`

	p, err := scanPersona(db.QueryRowContext(ctx, query))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no default persona found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default persona: %w", err)
	}

	return p, nil
}
