package wizard

import (
	"context"

	"github.com/pitabwire/surety/model"
)

// Store persists wizard form state per session. Writes are last-write-wins.
type Store interface {
	// Load returns the state of one wizard for a session. found is false
	// when nothing has been saved yet.
	Load(ctx context.Context, sessionID, wizardID string) (state *model.WizardState, found bool, err error)

	// Save replaces the stored state.
	Save(ctx context.Context, state *model.WizardState) error

	// Delete removes one wizard's state for a session.
	Delete(ctx context.Context, sessionID, wizardID string) error

	// DeleteAll removes every wizard's state for a session.
	DeleteAll(ctx context.Context, sessionID string) error
}
