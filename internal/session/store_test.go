package session

import (
	"context"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/surety/model"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory":  NewMemoryStore(time.Hour),
		"redis":   NewRedisStore(client, time.Hour),
		"keyring": NewKeyringStore(keyring.NewArrayKeyring(nil)),
	}
}

func TestStore_round_trip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, found, err := s.Tokens(ctx, "user-1")
			mustNoErr(t, err)
			if found {
				t.Fatal("Tokens() found before save")
			}

			mustNoErr(t, s.SaveTokens(ctx, "user-1", model.Tokens{AccessToken: "at", RefreshToken: "rt"}))
			mustNoErr(t, s.SaveUser(ctx, "user-1", model.User{ID: "user-1", Name: "Ada", Role: "admin"}))

			tokens, found, err := s.Tokens(ctx, "user-1")
			mustNoErr(t, err)
			if !found {
				t.Fatal("Tokens() not found after save")
			}
			if tokens.AccessToken != "at" || tokens.RefreshToken != "rt" {
				t.Errorf("tokens = %+v", tokens)
			}

			user, found, err := s.User(ctx, "user-1")
			mustNoErr(t, err)
			if !found {
				t.Fatal("User() not found after save")
			}
			if user.Name != "Ada" || user.Role != "admin" {
				t.Errorf("user = %+v", user)
			}

			mustNoErr(t, s.Delete(ctx, "user-1"))
			_, found, err = s.User(ctx, "user-1")
			mustNoErr(t, err)
			if found {
				t.Error("User() found after Delete")
			}

			// Deleting again is not an error.
			mustNoErr(t, s.Delete(ctx, "user-1"))
		})
	}
}

func TestMemoryStore_expiry(t *testing.T) {
	s := NewMemoryStore(time.Millisecond)
	ctx := context.Background()
	mustNoErr(t, s.SaveTokens(ctx, "user-1", model.Tokens{AccessToken: "at"}))

	time.Sleep(5 * time.Millisecond)

	_, found, err := s.Tokens(ctx, "user-1")
	mustNoErr(t, err)
	if found {
		t.Error("Tokens() found after expiry")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestRedisStore_ttl(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, time.Minute)
	ctx := context.Background()
	mustNoErr(t, s.SaveTokens(ctx, "user-1", model.Tokens{AccessToken: "at"}))

	mr.FastForward(2 * time.Minute)

	_, found, err := s.Tokens(ctx, "user-1")
	mustNoErr(t, err)
	if found {
		t.Error("Tokens() found after ttl")
	}
	mustNoErr(t, s.Ping(ctx))
}
