package wizard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/surety/model"
)

// RedisStore is a Redis-backed Store. Keys are "wizard:{sessionId}:{wizardId}"
// and expire after the configured TTL of inactivity. Each session's keys are
// also listed in the set "wizard-index:{sessionId}" so DeleteAll never has
// to pattern-match on a caller-supplied id.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed wizard store.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func stateKey(sessionID, wizardID string) string {
	return fmt.Sprintf("wizard:%s:%s", sessionID, wizardID)
}

func indexKey(sessionID string) string {
	return "wizard-index:" + sessionID
}

// Load reads a wizard state from Redis.
func (s *RedisStore) Load(ctx context.Context, sessionID, wizardID string) (*model.WizardState, bool, error) {
	key := stateKey(sessionID, wizardID)
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var state model.WizardState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("unmarshal wizard state %q: %w", key, err)
	}
	return &state, true, nil
}

// Save writes a wizard state to Redis and refreshes its TTL.
func (s *RedisStore) Save(ctx context.Context, state *model.WizardState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal wizard state: %w", err)
	}
	key := stateKey(state.SessionID, state.WizardID)
	index := indexKey(state.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, s.ttl)
		pipe.SAdd(ctx, index, key)
		if s.ttl > 0 {
			pipe.Expire(ctx, index, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes one wizard's state.
func (s *RedisStore) Delete(ctx context.Context, sessionID, wizardID string) error {
	key := stateKey(sessionID, wizardID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.SRem(ctx, indexKey(sessionID), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// DeleteAll removes every wizard state of the session, as listed in its
// index set.
func (s *RedisStore) DeleteAll(ctx context.Context, sessionID string) error {
	index := indexKey(sessionID)
	keys, err := s.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("redis smembers %q: %w", index, err)
	}
	if err := s.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
