package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testSessions(t *testing.T, ttl time.Duration) (*Sessions, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewSessions(client, ttl), mr
}

func TestSessionCreateValidateDestroy(t *testing.T) {
	s, _ := testSessions(t, 30*time.Minute)
	ctx := context.Background()

	token, err := s.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}

	user, err := s.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if user != "alice" {
		t.Fatalf("expected alice, got %q", user)
	}

	if err := s.Destroy(ctx, token); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := s.Validate(ctx, token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after destroy, got %v", err)
	}
}

func TestSessionUnknownToken(t *testing.T) {
	s, _ := testSessions(t, 30*time.Minute)

	if _, err := s.Validate(context.Background(), "not-a-token"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := s.Validate(context.Background(), ""); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession for empty token, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	s, mr := testSessions(t, time.Minute)
	ctx := context.Background()

	token, err := s.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := s.Validate(ctx, token); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestSessionSlidingExpiry(t *testing.T) {
	s, mr := testSessions(t, time.Minute)
	ctx := context.Background()

	token, err := s.Create(ctx, "alice")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Activity just before expiry keeps the session alive past its
	// original deadline.
	mr.FastForward(45 * time.Second)
	if _, err := s.Validate(ctx, token); err != nil {
		t.Fatalf("validate at 45s: %v", err)
	}
	mr.FastForward(45 * time.Second)
	user, err := s.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate at 90s: %v", err)
	}
	if user != "alice" {
		t.Fatalf("expected alice, got %q", user)
	}
}
