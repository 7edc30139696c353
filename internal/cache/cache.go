// Package cache defines the ephemeral key-value contract shared by the
// redis and in-memory backends.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrMiss = errors.New("cache miss")

type Store interface {
	// SetEx writes value and (re)starts its TTL.
	SetEx(ctx context.Context, key string, ttl time.Duration, value []byte) error
	// Get returns ErrMiss for absent or expired keys.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set overwrites an existing key and keeps whatever TTL it already had.
	// It returns ErrMiss, writing nothing, when the key is absent or expired.
	Set(ctx context.Context, key string, value []byte) error
}
