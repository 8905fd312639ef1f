package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires idle venue state; zero keeps it forever.
	TTL time.Duration
}

// RedisVenues keeps venue state in Redis so that several replay workers
// share one view of each venue.
type RedisVenues struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisVenues connects to Redis and checks the connection
func NewRedisVenues(cfg RedisConfig) (*RedisVenues, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pamflow"
	}

	return &RedisVenues{client: client, keyPrefix: prefix, ttl: cfg.TTL}, nil
}

func (r *RedisVenues) key(venue string) string {
	return fmt.Sprintf("%s:venue:%s", r.keyPrefix, venue)
}

func (r *RedisVenues) LastTrigger(ctx context.Context, venue string) (string, error) {
	trigger, err := r.client.Get(ctx, r.key(venue)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read venue state: %w", err)
	}
	return trigger, nil
}

func (r *RedisVenues) SetLastTrigger(ctx context.Context, venue, trigger string) error {
	if err := r.client.Set(ctx, r.key(venue), trigger, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write venue state: %w", err)
	}
	return nil
}

func (r *RedisVenues) ResetVenue(ctx context.Context, venue string) error {
	if err := r.client.Del(ctx, r.key(venue)).Err(); err != nil {
		return fmt.Errorf("failed to reset venue state: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisVenues) Close() error {
	return r.client.Close()
}
