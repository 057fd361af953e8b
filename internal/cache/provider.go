package cache

import (
	"context"
	"errors"
	"time"
)

// Provider is the key/value surface the run lock and dependency probes need.
type Provider interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

var (
	_ Provider = (*MemoryProvider)(nil)
	_ Provider = (*ValkeyProvider)(nil)
)
