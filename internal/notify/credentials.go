package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/pitabwire/surety/internal/session"
	"github.com/pitabwire/surety/model"
)

// ErrNoCredential is returned by Connect when no access token is stored.
var ErrNoCredential = errors.New("no access token available")

// Credentials supplies the bearer token and the admin identity used to join
// the admin room.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Actor(ctx context.Context) (model.User, error)
}

// SessionCredentials reads credentials for one subject from a session store.
type SessionCredentials struct {
	store     session.Store
	subjectID string
}

// NewSessionCredentials returns credentials for subjectID.
func NewSessionCredentials(store session.Store, subjectID string) *SessionCredentials {
	return &SessionCredentials{store: store, subjectID: subjectID}
}

// Token returns the stored access token or ErrNoCredential.
func (c *SessionCredentials) Token(ctx context.Context) (string, error) {
	tokens, found, err := c.store.Tokens(ctx, c.subjectID)
	if err != nil {
		return "", fmt.Errorf("read tokens: %w", err)
	}
	if !found || tokens.AccessToken == "" {
		return "", ErrNoCredential
	}
	return tokens.AccessToken, nil
}

// Actor returns the cached user record. A missing record yields an actor
// with only the subject id so the join message still identifies the admin.
func (c *SessionCredentials) Actor(ctx context.Context) (model.User, error) {
	user, found, err := c.store.User(ctx, c.subjectID)
	if err != nil {
		return model.User{}, fmt.Errorf("read user: %w", err)
	}
	if !found {
		return model.User{ID: c.subjectID}, nil
	}
	return user, nil
}

// NewKeyringCredentials returns credentials held in the OS keyring for
// subjectID, as written by the CLI login command.
func NewKeyringCredentials(ring keyring.Keyring, subjectID string) *SessionCredentials {
	return NewSessionCredentials(session.NewKeyringStore(ring), subjectID)
}
