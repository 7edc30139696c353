package memory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/draftwise/backend/internal/cache"
)

// Store keeps entries in process. It stands in for redis in development and tests.
type Store struct {
	cache *gocache.Cache
}

func NewStore(cleanupInterval time.Duration) *Store {
	return &Store{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func (s *Store) SetEx(_ context.Context, key string, ttl time.Duration, value []byte) error {
	s.cache.Set(key, clone(value), ttl)
	return nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	v, found := s.cache.Get(key)
	if !found {
		return nil, cache.ErrMiss
	}
	return clone(v.([]byte)), nil
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	_, expires, found := s.cache.GetWithExpiration(key)
	if !found {
		return cache.ErrMiss
	}
	if expires.IsZero() {
		s.cache.Set(key, clone(value), gocache.NoExpiration)
		return nil
	}

	remaining := time.Until(expires)
	if remaining <= 0 {
		s.cache.Delete(key)
		return cache.ErrMiss
	}
	s.cache.Set(key, clone(value), remaining)
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ cache.Store = (*Store)(nil)
