package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces progress keys.
const DefaultRedisPrefix = "formpipe:progress:"

// RedisStore keeps progress in Redis as JSON so flows survive restarts. Entries expire
// after the configured TTL, which abandons flows nobody finished.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiration of progress entries. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore connects to the Redis server at addr.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	slog.Debug("Creating RedisStore", "prefix", s.prefix, "ttl", s.ttl)
	return s
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	return nil
}

// Load returns the state stored under key or ErrNotFound.
func (s *RedisStore) Load(ctx context.Context, key string) (*State, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, ErrNotFound
		}
		slog.Error("RedisStore Load failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to get progress from redis: %w", err)
	}

	var st State
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		slog.Error("RedisStore Load decode failed", "error", err, "key", key)
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	if st.Answers == nil {
		st.Answers = make(Answers)
	}
	return &st, nil
}

// Save writes state, refreshing its TTL.
func (s *RedisStore) Save(ctx context.Context, state *State) error {
	if state == nil || state.UserID == "" {
		return errors.New("cannot save progress without a user id")
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	if err := s.client.Set(ctx, s.key(state.Key()), data, s.ttl).Err(); err != nil {
		slog.Error("RedisStore Save failed", "error", err, "key", state.Key())
		return fmt.Errorf("failed to save progress to redis: %w", err)
	}
	slog.Debug("RedisStore Save", "key", state.Key(), "position", state.Position, "status", state.Status)
	return nil
}

// Delete evicts the user's state.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete progress from redis: %w", err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
