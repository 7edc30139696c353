package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwise/backend/internal/cache/memory"
	"github.com/draftwise/backend/pkg/config"
)

func TestOpenSQLiteBackedChunkStore(t *testing.T) {
	db, err := OpenSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "b.db")})
	require.NoError(t, err)
	defer db.Close()

	store, closeFn, err := OpenChunkStore(context.Background(), config.VectorConfig{Backend: "sqlite"}, db)
	require.NoError(t, err)
	assert.Same(t, db, store)
	assert.NoError(t, closeFn())

	_, _, err = OpenChunkStore(context.Background(), config.VectorConfig{Backend: "faiss"}, db)
	assert.Error(t, err)
}

func TestOpenCacheWithoutRedis(t *testing.T) {
	store, closeFn, err := OpenCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, store)
	assert.NoError(t, closeFn())
}
