// Package bootstrap builds the backends shared by the server and the CLIs
// from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/cache"
	"github.com/draftwise/backend/internal/cache/memory"
	"github.com/draftwise/backend/internal/cache/redis"
	"github.com/draftwise/backend/internal/ingestion"
	"github.com/draftwise/backend/internal/retrieval"
	"github.com/draftwise/backend/internal/storage/postgres"
	"github.com/draftwise/backend/internal/storage/sqlite"
	"github.com/draftwise/backend/internal/vector/milvus"
	"github.com/draftwise/backend/pkg/config"
	"github.com/draftwise/backend/pkg/logger"
)

// ChunkStore is what ingestion writes and retrieval reads.
type ChunkStore interface {
	ingestion.ChunkWriter
	retrieval.ChunkStore
}

func nopClose() error { return nil }

// OpenSQLite opens the durable store and applies the schema.
func OpenSQLite(cfg config.SQLiteConfig) (*sqlite.Client, error) {
	db, err := sqlite.NewClient(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create SQLite client: %w", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// OpenCache returns redis when enabled, else an in-process store.
func OpenCache(cfg config.RedisConfig) (cache.Store, func() error, error) {
	if !cfg.Enabled {
		logger.Info("Redis disabled, using in-memory cache")
		return memory.NewStore(time.Minute), nopClose, nil
	}
	rc, err := redis.NewClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	return rc, rc.Close, nil
}

// OpenChunkStore selects the vector backend. The sqlite backend reuses db.
func OpenChunkStore(ctx context.Context, cfg config.VectorConfig, db *sqlite.Client) (ChunkStore, func() error, error) {
	logger.Info("Opening chunk store", zap.String("backend", cfg.Backend))

	switch cfg.Backend {
	case "pgvector":
		pg, err := postgres.NewClient(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil

	case "milvus":
		store, err := milvus.NewStore(ctx, cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureCollection(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil

	case "sqlite", "":
		return db, nopClose, nil

	default:
		return nil, nil, fmt.Errorf("unsupported vector backend %q", cfg.Backend)
	}
}

// Embedder wraps next with the query-embedding cache.
func Embedder(cfg *config.Config, next retrieval.Embedder, store cache.Store) *retrieval.CachedEmbedder {
	ttl := time.Duration(cfg.Retrieval.EmbeddingCacheTTLSec) * time.Second
	return retrieval.NewCachedEmbedder(next, store, cfg.LLM.EmbeddingModel, ttl)
}

// InitLogger configures the global logger from cfg.Logging.
func InitLogger(cfg config.LoggingConfig) error {
	return logger.Init(cfg.Level, cfg.Format, cfg.OutputPath, logger.RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	})
}
