package cache

import (
	"fmt"

	"github.com/rival420/donwatcher/internal/domain"
)

// NewBackend creates the second cache tier based on configuration.
// "memory" has no second tier and returns nil.
func NewBackend(cfg domain.CacheConfig) (domain.CacheBackend, error) {
	switch cfg.Type {
	case "memory", "":
		return nil, nil

	case "redis":
		return NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "badger":
		return NewBadgerBackend(cfg.BadgerPath)

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Options translates configuration into RiskCache options.
func Options(cfg domain.CacheConfig, backend domain.CacheBackend) []Option {
	opts := []Option{
		WithMaxEntries(cfg.MaxEntries),
		WithTTL(cfg.TTL),
	}
	if backend != nil {
		opts = append(opts, WithBackend(backend))
	}
	return opts
}
