// File: store/redis.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"counsel/config"

	"github.com/go-redis/redis/v8"
)

const snapshotKeyPrefix = "counsel:session:"

// redisStore survives agent restarts; snapshots expire on their own so an
// abandoned booking never lingers.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis using the app configuration and verifies
// the connection with a ping.
func NewRedisStore(ttl time.Duration) (SessionStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisSessionDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis (sessions): %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisStore{client: client, ttl: ttl}, nil
}

// NewStore builds a session store from a driver name ("memory" or "redis").
func NewStore(driver string, ttl time.Duration) (SessionStore, error) {
	switch driver {
	case "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ttl)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
	}
}

func (s *redisStore) Save(ctx context.Context, snap *Snapshot) error {
	cp := *snap
	cp.UpdatedAt = time.Now()
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKeyPrefix+snap.BookingID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session snapshot: %w", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, bookingID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, snapshotKeyPrefix+bookingID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to parse session snapshot: %w", err)
	}
	return &snap, nil
}

func (s *redisStore) Delete(ctx context.Context, bookingID string) error {
	return s.client.Del(ctx, snapshotKeyPrefix+bookingID).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
