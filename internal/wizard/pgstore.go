package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pitabwire/surety/model"
)

// Schema creates the table used by PgStore.
const Schema = `
CREATE TABLE IF NOT EXISTS wizard_states (
	session_id TEXT        NOT NULL,
	wizard_id  TEXT        NOT NULL,
	state      JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, wizard_id)
)`

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL wizard store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Migrate creates the wizard_states table if it is missing.
func (s *PgStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create wizard_states: %w", err)
	}
	return nil
}

// Load reads a wizard state.
func (s *PgStore) Load(ctx context.Context, sessionID, wizardID string) (*model.WizardState, bool, error) {
	var stateJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT state FROM wizard_states
		WHERE session_id = $1 AND wizard_id = $2`,
		sessionID, wizardID,
	).Scan(&stateJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query wizard state: %w", err)
	}

	var state model.WizardState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, false, fmt.Errorf("unmarshal wizard state: %w", err)
	}
	return &state, true, nil
}

// Save upserts a wizard state.
func (s *PgStore) Save(ctx context.Context, state *model.WizardState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal wizard state: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO wizard_states (session_id, wizard_id, state, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id, wizard_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
		state.SessionID, state.WizardID, stateJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert wizard state: %w", err)
	}
	return nil
}

// Delete removes one wizard's state.
func (s *PgStore) Delete(ctx context.Context, sessionID, wizardID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM wizard_states WHERE session_id = $1 AND wizard_id = $2`,
		sessionID, wizardID,
	)
	if err != nil {
		return fmt.Errorf("delete wizard state: %w", err)
	}
	return nil
}

// DeleteAll removes every wizard state of the session.
func (s *PgStore) DeleteAll(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM wizard_states WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete wizard states: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
