package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/surety/model"
)

// PostLoginRoute is where the portal goes after a successful sign-in.
const PostLoginRoute = "/policy-purchase/personal-information/personalDetails"

// Authenticator exchanges credentials for tokens with the insurance API.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (model.Tokens, model.User, error)
}

// UserSetter publishes the signed-in user to whoever renders it.
type UserSetter func(ctx context.Context, user model.User) error

// LoginResult is returned to the portal after a successful sign-in.
type LoginResult struct {
	User   model.User   `json:"user"`
	Tokens model.Tokens `json:"tokens"`
	Route  string       `json:"route"`
}

// LoginService signs users in and caches their credentials.
type LoginService struct {
	auth   Authenticator
	store  Store
	logger *zap.Logger

	// SetUser receives the user record after tokens are stored. It defaults
	// to caching the record in the store.
	SetUser UserSetter
}

// NewLoginService creates a login service.
func NewLoginService(auth Authenticator, store Store, logger *zap.Logger) *LoginService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &LoginService{auth: auth, store: store, logger: logger}
	s.SetUser = func(ctx context.Context, user model.User) error {
		return store.SaveUser(ctx, user.ID, user)
	}
	return s
}

// Login authenticates against the API, stores the tokens under the user's
// id, publishes the user record and returns the next route.
func (s *LoginService) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return LoginResult{}, model.NewBadRequestError("email and password are required")
	}

	tokens, user, err := s.auth.Login(ctx, email, password)
	if err != nil {
		s.logger.Info("login failed", zap.String("email", email), zap.Error(err))
		return LoginResult{}, err
	}
	if user.ID == "" {
		return LoginResult{}, fmt.Errorf("login response for %q has no user id", email)
	}

	if err := s.store.SaveTokens(ctx, user.ID, tokens); err != nil {
		return LoginResult{}, fmt.Errorf("store tokens: %w", err)
	}
	if err := s.SetUser(ctx, user); err != nil {
		return LoginResult{}, fmt.Errorf("set user: %w", err)
	}

	s.logger.Info("user signed in", zap.String("user_id", user.ID))
	return LoginResult{User: user, Tokens: tokens, Route: PostLoginRoute}, nil
}

// Logout forgets everything stored for the subject.
func (s *LoginService) Logout(ctx context.Context, subjectID string) error {
	if err := s.store.Delete(ctx, subjectID); err != nil {
		return fmt.Errorf("logout %q: %w", subjectID, err)
	}
	return nil
}
