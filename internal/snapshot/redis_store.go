package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultRedisKey     = "stridelink:widget:snapshot"
	DefaultRedisChannel = "stridelink:widget:refresh"
)

// RedisStore keeps the snapshot as one JSON value. A single SET replaces it,
// so readers see either the old or the new document.
type RedisStore struct {
	client  *redis.Client
	key     string
	channel string
}

func NewRedisStore(client *redis.Client, key, channel string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisStore{client: client, key: key, channel: channel}
}

func (s *RedisStore) Write(ctx context.Context, snap WidgetSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context) (WidgetSnapshot, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return WidgetSnapshot{}, ErrNoSnapshot
		}
		return WidgetSnapshot{}, fmt.Errorf("failed to get snapshot: %w", err)
	}
	var snap WidgetSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return WidgetSnapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// Refresh notifies subscribed display processes that a new snapshot exists.
func (s *RedisStore) Refresh(ctx context.Context) error {
	return s.client.Publish(ctx, s.channel, s.key).Err()
}

// Channel is the pub/sub channel carrying refresh notices.
func (s *RedisStore) Channel() string {
	return s.channel
}
