package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/pitabwire/surety/model"
)

const keyringService = "surety"

// KeyringConfig selects where the CLI keeps credentials.
type KeyringConfig struct {
	// FileDir is used by the encrypted file backend when no OS keychain is
	// available.
	FileDir string
	// FilePassword unlocks the file backend.
	FilePassword string
}

// OpenKeyring opens the OS keyring, falling back to an encrypted file.
func OpenKeyring(cfg KeyringConfig) (keyring.Keyring, error) {
	dir := cfg.FileDir
	if dir == "" {
		dir = "~/.config/surety/credentials"
	}
	password := cfg.FilePassword
	if password == "" {
		password = "surety-file-key"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(password),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringStore is a Store backed by the OS keyring, used by the CLI where
// there is one signed-in user per workstation.
type KeyringStore struct {
	ring keyring.Keyring
}

// NewKeyringStore wraps an opened keyring.
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

func (s *KeyringStore) get(key string, v any) (bool, error) {
	item, err := s.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting credential %q: %w", key, err)
	}
	if err := json.Unmarshal(item.Data, v); err != nil {
		return false, fmt.Errorf("unmarshal credential %q: %w", key, err)
	}
	return true, nil
}

func (s *KeyringStore) set(key, label string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal credential %q: %w", key, err)
	}
	if err := s.ring.Set(keyring.Item{Key: key, Data: data, Label: label}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// SaveTokens stores the credential pair.
func (s *KeyringStore) SaveTokens(_ context.Context, subjectID string, tokens model.Tokens) error {
	return s.set(tokensKey(subjectID), "Surety access token", tokens)
}

// Tokens returns the stored credential pair.
func (s *KeyringStore) Tokens(_ context.Context, subjectID string) (model.Tokens, bool, error) {
	var t model.Tokens
	found, err := s.get(tokensKey(subjectID), &t)
	return t, found, err
}

// SaveUser stores the user record.
func (s *KeyringStore) SaveUser(_ context.Context, subjectID string, user model.User) error {
	return s.set(userKey(subjectID), "Surety user", user)
}

// User returns the stored user record.
func (s *KeyringStore) User(_ context.Context, subjectID string) (model.User, bool, error) {
	var u model.User
	found, err := s.get(userKey(subjectID), &u)
	return u, found, err
}

// Delete removes the subject's credentials.
func (s *KeyringStore) Delete(_ context.Context, subjectID string) error {
	for _, key := range []string{tokensKey(subjectID), userKey(subjectID)} {
		if err := s.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("deleting credential %q: %w", key, err)
		}
	}
	return nil
}
