package kvstore

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis instance. Documents are plain string
// keys under a configurable prefix and never expire; TTL semantics (lease
// locks, ack slots) are layered on top by the owning components, not here.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// RedisStoreConfig holds connection settings for the Redis store.
type RedisStoreConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     20,
		MinIdleConns: 5,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "tcsgo:doc"
	}

	log.Printf("[RedisStore] Initialized - DB:%d, prefix:%s", cfg.DB, keyPrefix)
	return &RedisStore{client: client, keyPrefix: keyPrefix}, nil
}

func (s *RedisStore) docKey(key string) string {
	return s.keyPrefix + ":" + key
}

// Get retrieves a document by key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.docKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %q: %w", key, err)
	}
	return value, nil
}

// Set stores a document under key with no expiry.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.docKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set document %q: %w", key, err)
	}
	return nil
}

// Delete removes a document by key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.docKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete document %q: %w", key, err)
	}
	return nil
}

// Exists checks whether a key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.docKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
