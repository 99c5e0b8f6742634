// Package session remembers which workspace identity a browser session is
// bound to.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL matches the lifetime of the browser session cookie.
const DefaultTTL = 24 * time.Hour

var ErrNotFound = errors.New("session not found")

// Binding is what is stored for each session.
type Binding struct {
	Identity  string    `json:"identity"`
	BoundAt   time.Time `json:"bound_at"`
	Anonymous bool      `json:"anonymous"`
}

type Store interface {
	Bind(ctx context.Context, sessionID string, binding Binding) error
	// Lookup returns ErrNotFound for unknown or expired sessions and extends
	// the lifetime of live ones.
	Lookup(ctx context.Context, sessionID string) (Binding, error)
	Unbind(ctx context.Context, sessionID string) error
}

// RedisStore keeps bindings in Redis with a sliding expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a new Redis-backed session store
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "livedit:session:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *RedisStore) Bind(ctx context.Context, sessionID string, binding Binding) error {
	if binding.BoundAt.IsZero() {
		binding.BoundAt = time.Now()
	}
	jsonData, err := json.Marshal(binding)
	if err != nil {
		return fmt.Errorf("marshal session binding: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session binding: %w", err)
	}
	return nil
}

func (s *RedisStore) Lookup(ctx context.Context, sessionID string) (Binding, error) {
	jsonData, err := s.client.GetEx(ctx, s.key(sessionID), s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return Binding{}, ErrNotFound
	}
	if err != nil {
		return Binding{}, fmt.Errorf("lookup session binding: %w", err)
	}

	var binding Binding
	if err := json.Unmarshal([]byte(jsonData), &binding); err != nil {
		return Binding{}, fmt.Errorf("unmarshal session binding: %w", err)
	}
	return binding, nil
}

func (s *RedisStore) Unbind(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session binding: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
