package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwise/backend/internal/cache"
)

func TestStore_SetExAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Minute)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, s.SetEx(ctx, "k", time.Minute, []byte("v1")))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Minute)

	require.NoError(t, s.SetEx(ctx, "k", 30*time.Millisecond, []byte("v")))
	time.Sleep(60 * time.Millisecond)

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestStore_SetKeepsTTL(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Minute)

	require.NoError(t, s.SetEx(ctx, "k", time.Hour, []byte("v1")))
	_, before, _ := s.cache.GetWithExpiration("k")

	require.NoError(t, s.Set(ctx, "k", []byte("v2")))
	_, after, found := s.cache.GetWithExpiration("k")
	require.True(t, found)

	assert.WithinDuration(t, before, after, time.Second)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Minute)

	value := []byte("abc")
	require.NoError(t, s.SetEx(ctx, "k", time.Minute, value))
	value[0] = 'z'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestStore_SetNeverCreatesKeys(t *testing.T) {
	ctx := context.Background()
	s := NewStore(time.Minute)

	assert.ErrorIs(t, s.Set(ctx, "absent", []byte("v")), cache.ErrMiss)
	_, err := s.Get(ctx, "absent")
	assert.ErrorIs(t, err, cache.ErrMiss)

	require.NoError(t, s.SetEx(ctx, "k", 20*time.Millisecond, []byte("v1")))
	time.Sleep(40 * time.Millisecond)

	assert.ErrorIs(t, s.Set(ctx, "k", []byte("v2")), cache.ErrMiss)
	_, found := s.cache.Get("k")
	assert.False(t, found, "an expired key must not come back without a TTL")
}
