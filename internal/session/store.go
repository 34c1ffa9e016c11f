package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/surety/model"
)

// Store keeps the signed-in user's credentials and cached user record.
// Keys are "session:{subjectId}:tokens" and "session:{subjectId}:user".
type Store interface {
	SaveTokens(ctx context.Context, subjectID string, tokens model.Tokens) error
	Tokens(ctx context.Context, subjectID string) (tokens model.Tokens, found bool, err error)
	SaveUser(ctx context.Context, subjectID string, user model.User) error
	User(ctx context.Context, subjectID string) (user model.User, found bool, err error)
	// Delete removes everything stored for the subject.
	Delete(ctx context.Context, subjectID string) error
}

func tokensKey(subjectID string) string { return fmt.Sprintf("session:%s:tokens", subjectID) }
func userKey(subjectID string) string   { return fmt.Sprintf("session:%s:user", subjectID) }

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support. Suitable for testing
// and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]memEntry
}

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory session store. A zero ttl keeps
// entries until they are deleted.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, entries: make(map[string]memEntry)}
}

func (s *MemoryStore) get(key string) ([]byte, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return e.data, true
}

func (s *MemoryStore) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	e := memEntry{data: data}
	if s.ttl > 0 {
		e.expiresAt = time.Now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// SaveTokens stores the credential pair.
func (s *MemoryStore) SaveTokens(_ context.Context, subjectID string, tokens model.Tokens) error {
	return s.put(tokensKey(subjectID), tokens)
}

// Tokens returns the stored credential pair.
func (s *MemoryStore) Tokens(_ context.Context, subjectID string) (model.Tokens, bool, error) {
	var t model.Tokens
	found, err := decodeEntry(s.get, tokensKey(subjectID), &t)
	return t, found, err
}

// SaveUser stores the user record.
func (s *MemoryStore) SaveUser(_ context.Context, subjectID string, user model.User) error {
	return s.put(userKey(subjectID), user)
}

// User returns the stored user record.
func (s *MemoryStore) User(_ context.Context, subjectID string) (model.User, bool, error) {
	var u model.User
	found, err := decodeEntry(s.get, userKey(subjectID), &u)
	return u, found, err
}

// Delete removes the subject's tokens and user record.
func (s *MemoryStore) Delete(_ context.Context, subjectID string) error {
	s.mu.Lock()
	delete(s.entries, tokensKey(subjectID))
	delete(s.entries, userKey(subjectID))
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func decodeEntry(get func(string) ([]byte, bool), key string, v any) (bool, error) {
	raw, ok := get(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("unmarshal %q: %w", key, err)
	}
	return true, nil
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store with TTL.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) get(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("unmarshal %q: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// SaveTokens stores the credential pair.
func (s *RedisStore) SaveTokens(ctx context.Context, subjectID string, tokens model.Tokens) error {
	return s.set(ctx, tokensKey(subjectID), tokens)
}

// Tokens returns the stored credential pair.
func (s *RedisStore) Tokens(ctx context.Context, subjectID string) (model.Tokens, bool, error) {
	var t model.Tokens
	found, err := s.get(ctx, tokensKey(subjectID), &t)
	return t, found, err
}

// SaveUser stores the user record.
func (s *RedisStore) SaveUser(ctx context.Context, subjectID string, user model.User) error {
	return s.set(ctx, userKey(subjectID), user)
}

// User returns the stored user record.
func (s *RedisStore) User(ctx context.Context, subjectID string) (model.User, bool, error) {
	var u model.User
	found, err := s.get(ctx, userKey(subjectID), &u)
	return u, found, err
}

// Delete removes the subject's tokens and user record.
func (s *RedisStore) Delete(ctx context.Context, subjectID string) error {
	if err := s.client.Del(ctx, tokensKey(subjectID), userKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("redis del session %q: %w", subjectID, err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
