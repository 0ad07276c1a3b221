package ack

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"tcsgo-engine/internal/model"
)

// slotTTL bounds how long a published result stays pollable. Payloads are
// transient by contract; anything older than this is stale for every waiter.
const slotTTL = 60 * time.Second

// RedisBroker implements Broker on Redis: result slots are short-TTL keys
// per job kind, pushes go over a pub/sub channel. The two paths are
// independent, which is what makes the dual-ack pattern raise delivery odds
// without promising delivery.
type RedisBroker struct {
	client    *redis.Client
	keyPrefix string
	channel   string
}

// RedisBrokerConfig holds connection settings for the broker.
type RedisBrokerConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisBroker connects and verifies the Redis connection.
func NewRedisBroker(cfg RedisBrokerConfig) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "tcsgo:ack"
	}

	log.Printf("[RedisBroker] Initialized - DB:%d, prefix:%s", cfg.DB, keyPrefix)
	return &RedisBroker{
		client:    client,
		keyPrefix: keyPrefix,
		channel:   keyPrefix + ":events",
	}, nil
}

func (b *RedisBroker) slotKey(kind model.JobKind) string {
	return fmt.Sprintf("%s:slot:%s", b.keyPrefix, kind)
}

// Publish writes the slot key and publishes to the pub/sub channel.
func (b *RedisBroker) Publish(ctx context.Context, payload model.AckPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode ack payload: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.slotKey(payload.Type), raw, slotTTL)
	pipe.Publish(ctx, b.channel, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish ack %s: %w", payload.EventID, err)
	}
	return nil
}

// ReadSlot returns the current payload for a job kind.
func (b *RedisBroker) ReadSlot(ctx context.Context, kind model.JobKind) (*model.AckPayload, error) {
	raw, err := b.client.Get(ctx, b.slotKey(kind)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ack slot %s: %w", kind, err)
	}

	var payload model.AckPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("corrupt ack slot %s: %w", kind, err)
	}
	return &payload, nil
}

// Subscribe delivers pub/sub payloads until ctx is cancelled.
func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan model.AckPayload, error) {
	sub := b.client.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}

	out := make(chan model.AckPayload, 16)
	go func() {
		defer sub.Close()
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var payload model.AckPayload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					log.Printf("[RedisBroker] Dropping corrupt ack payload: %v", err)
					continue
				}
				select {
				case out <- payload:
				default:
				}
			}
		}
	}()

	return out, nil
}

// Close closes the Redis connection.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}

var _ Broker = (*RedisBroker)(nil)
