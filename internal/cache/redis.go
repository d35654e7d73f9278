// Package cache provides a tiny Redis client wrapper for memoizing
// prediction results
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "neurotone:prediction:"

// Cache wraps a Redis client for prediction storage
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a new Cache instance connected to the specified Redis address
// If addr is empty, defaults to localhost:6379
func New(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // No password by default
		DB:       0,  // Default DB
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Set stores a probability under key with the configured TTL
func (c *Cache) Set(ctx context.Context, key string, probability float64) error {
	if c.client == nil {
		return fmt.Errorf("cache client is nil")
	}

	val := strconv.FormatFloat(probability, 'g', -1, 64)
	if err := c.client.Set(ctx, keyPrefix+key, val, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set prediction %s: %w", key, err)
	}

	return nil
}

// Get retrieves a stored probability. ok is false when the key is absent.
func (c *Cache) Get(ctx context.Context, key string) (probability float64, ok bool, err error) {
	if c.client == nil {
		return 0, false, fmt.Errorf("cache client is nil")
	}

	data, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil // Key does not exist
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get prediction %s: %w", key, err)
	}

	probability, err = strconv.ParseFloat(data, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt prediction %s: %w", key, err)
	}
	return probability, true, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
