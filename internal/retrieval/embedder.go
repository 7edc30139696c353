package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/cache"
	"github.com/draftwise/backend/internal/metrics"
	"github.com/draftwise/backend/pkg/logger"
	"github.com/draftwise/backend/pkg/utils"
)

// CachedEmbedder memoises embeddings by model and text. Cache failures fall
// through to the wrapped embedder.
type CachedEmbedder struct {
	next  Embedder
	store cache.Store
	model string
	ttl   time.Duration
}

func NewCachedEmbedder(next Embedder, store cache.Store, model string, ttl time.Duration) *CachedEmbedder {
	return &CachedEmbedder{next: next, store: store, model: model, ttl: ttl}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := "embedding:" + utils.HashString(c.model+"\x00"+text)

	if data, err := c.store.Get(ctx, key); err == nil {
		var embedding []float32
		if err := json.Unmarshal(data, &embedding); err == nil {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return embedding, nil
		}
		logger.Warn("Discarding undecodable cached embedding", zap.String("key", key))
	} else if !errors.Is(err, cache.ErrMiss) {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	}
	metrics.CacheMisses.WithLabelValues("embedding").Inc()

	embedding, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(embedding); err == nil {
		if err := c.store.SetEx(ctx, key, c.ttl, data); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}
	return embedding, nil
}
