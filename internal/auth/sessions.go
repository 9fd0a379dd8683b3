package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when a token is unknown or has expired.
var ErrNoSession = errors.New("no such session")

// Sessions stores login sessions in Redis with a sliding expiry: every
// successful validation pushes the expiry out by the configured TTL.
type Sessions struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessions builds a session store with the given idle TTL.
func NewSessions(client *redis.Client, ttl time.Duration) *Sessions {
	return &Sessions{client: client, ttl: ttl}
}

func sessionKey(token string) string {
	return "session:" + token
}

// Create issues a new session token for the user.
func (s *Sessions) Create(ctx context.Context, userID string) (string, error) {
	token := uuid.New().String()
	if err := s.client.Set(ctx, sessionKey(token), userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Validate resolves a token to its user and slides the expiry forward.
func (s *Sessions) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrNoSession
	}
	userID, err := s.client.Get(ctx, sessionKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	// Sliding timeout: activity keeps the session alive.
	if err := s.client.Expire(ctx, sessionKey(token), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("refresh session: %w", err)
	}
	return userID, nil
}

// Destroy removes a session token.
func (s *Sessions) Destroy(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionKey(token)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
