package domain

import (
	"context"
	"time"
)

// CacheBackend is the optional second cache tier behind the in-process RiskCache.
// Get returns nil, nil when the key is absent.
type CacheBackend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory", "redis" or "badger"
	Type string `validate:"oneof=memory redis badger"`

	// In-process LRU settings
	MaxEntries int           `validate:"gte=0"`
	TTL        time.Duration `validate:"gte=0"`

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Badger settings
	BadgerPath string
}
