package editstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "overlay:edits:"

type redisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisStore keeps the record as one JSON string under a per-device key.
func NewRedisStore(redisURL, deviceID string) (Store, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device ID is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRecordStore(&redisBackend{client: client, key: redisKeyPrefix + deviceID}), nil
}

func (b *redisBackend) name() string { return "redis" }

func (b *redisBackend) get(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", b.key, err)
	}
	return data, nil
}

func (b *redisBackend) put(ctx context.Context, record []byte) error {
	if err := b.client.Set(ctx, b.key, record, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", b.key, err)
	}
	return nil
}

func (b *redisBackend) delete(ctx context.Context) error {
	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", b.key, err)
	}
	return nil
}

func (b *redisBackend) close() error {
	return b.client.Close()
}
