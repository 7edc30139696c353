// Package milvus stores reference chunks in a Milvus collection. Candidates
// are fetched by scope and ranked in Go with the shared hybrid score.
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/search/hybrid"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/pkg/logger"
)

const (
	fieldChunkID     = "chunk_id"
	fieldReferenceID = "reference_id"
	fieldScopeID     = "scope_id"
	fieldChunkIndex  = "chunk_index"
	fieldText        = "text"
	fieldEmbedding   = "embedding"
	fieldCreatedAt   = "created_at"
)

var outputFields = []string{
	fieldChunkID, fieldReferenceID, fieldScopeID, fieldChunkIndex, fieldText, fieldEmbedding, fieldCreatedAt,
}

// API is the subset of the Milvus client the store uses.
type API interface {
	HasCollection(ctx context.Context, collName string) (bool, error)
	CreateCollection(ctx context.Context, schema *entity.Schema, shardsNum int32, opts ...client.CreateCollectionOption) error
	CreateIndex(ctx context.Context, collName string, fieldName string, idx entity.Index, async bool, opts ...client.IndexOption) error
	LoadCollection(ctx context.Context, collName string, async bool, opts ...client.LoadCollectionOption) error
	Insert(ctx context.Context, collName string, partitionName string, columns ...entity.Column) (entity.Column, error)
	Flush(ctx context.Context, collName string, async bool, opts ...client.FlushOption) error
	Delete(ctx context.Context, collName string, partitionName string, expr string) error
	Query(ctx context.Context, collectionName string, partitionNames []string, expr string, outputFields []string, opts ...client.SearchQueryOptionFunc) (client.ResultSet, error)
	Close() error
}

type Store struct {
	api            API
	collectionName string
	vectorDim      int
}

func NewStore(ctx context.Context, endpoint, collectionName string, vectorDim int) (*Store, error) {
	c, err := client.NewGrpcClient(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)
	return NewFromAPI(c, collectionName, vectorDim), nil
}

func NewFromAPI(api API, collectionName string, vectorDim int) *Store {
	return &Store{api: api, collectionName: collectionName, vectorDim: vectorDim}
}

func (s *Store) Close() error {
	return s.api.Close()
}

// EnsureCollection creates, indexes and loads the chunk collection if needed.
func (s *Store) EnsureCollection(ctx context.Context) error {
	has, err := s.api.HasCollection(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		logger.Info("Collection already exists", zap.String("collection", s.collectionName))
		return s.api.LoadCollection(ctx, s.collectionName, false)
	}

	schema := &entity.Schema{
		CollectionName: s.collectionName,
		Description:    "reference chunk embeddings",
		Fields: []*entity.Field{
			varchar(fieldChunkID, 160).WithIsPrimaryKey(true),
			varchar(fieldReferenceID, 64),
			varchar(fieldScopeID, 128),
			{Name: fieldChunkIndex, DataType: entity.FieldTypeInt64},
			varchar(fieldText, 8192),
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(s.vectorDim)},
			},
			{Name: fieldCreatedAt, DataType: entity.FieldTypeInt64},
		},
	}

	if err := s.api.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.COSINE, 1024)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := s.api.CreateIndex(ctx, s.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	if err := s.api.LoadCollection(ctx, s.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", s.collectionName))
	return nil
}

func varchar(name string, maxLen int) *entity.Field {
	return &entity.Field{
		Name:       name,
		DataType:   entity.FieldTypeVarChar,
		TypeParams: map[string]string{"max_length": strconv.Itoa(maxLen)},
	}
}

func (s *Store) InsertChunk(ctx context.Context, chunk *models.Chunk) error {
	if len(chunk.Embedding) != s.vectorDim {
		return fmt.Errorf("embedding has %d dimensions, collection expects %d", len(chunk.Embedding), s.vectorDim)
	}
	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}

	_, err := s.api.Insert(ctx, s.collectionName, "",
		entity.NewColumnVarChar(fieldChunkID, []string{chunk.ID}),
		entity.NewColumnVarChar(fieldReferenceID, []string{chunk.ReferenceID}),
		entity.NewColumnVarChar(fieldScopeID, []string{chunk.ScopeID}),
		entity.NewColumnInt64(fieldChunkIndex, []int64{int64(chunk.ChunkIndex)}),
		entity.NewColumnVarChar(fieldText, []string{chunk.Text}),
		entity.NewColumnFloatVector(fieldEmbedding, s.vectorDim, [][]float32{chunk.Embedding}),
		entity.NewColumnInt64(fieldCreatedAt, []int64{chunk.CreatedAt.Unix()}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	if err := s.api.Flush(ctx, s.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// DeleteChunks removes every chunk of a reference by primary key.
func (s *Store) DeleteChunks(ctx context.Context, referenceID string) (int64, error) {
	chunks, err := s.query(ctx, eq(fieldReferenceID, referenceID))
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	ids := make([]string, len(chunks))
	for i, ch := range chunks {
		ids[i] = strconv.Quote(ch.ID)
	}
	expr := fmt.Sprintf("%s in [%s]", fieldChunkID, strings.Join(ids, ", "))
	if err := s.api.Delete(ctx, s.collectionName, "", expr); err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return int64(len(chunks)), nil
}

func (s *Store) SearchChunks(ctx context.Context, scopeID, query string, embedding []float32, topK int) ([]models.ScoredChunk, error) {
	chunks, err := s.query(ctx, eq(fieldScopeID, scopeID))
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Chunk, len(chunks))
	candidates := make([]hybrid.Candidate, 0, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
		candidates = append(candidates, hybrid.Candidate{
			ID:          ch.ID,
			ReferenceID: ch.ReferenceID,
			Text:        ch.Text,
			Embedding:   ch.Embedding,
		})
	}

	ranked := hybrid.Rank(query, embedding, candidates, topK)
	out := make([]models.ScoredChunk, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, models.ScoredChunk{
			Chunk:        byID[r.ID],
			Score:        r.Score,
			VectorScore:  r.Vector,
			LexicalScore: r.Lexical,
		})
	}

	logger.Debug("Milvus search completed",
		zap.String("scope_id", scopeID),
		zap.Int("candidates", len(candidates)),
		zap.Int("results", len(out)),
	)
	return out, nil
}

func (s *Store) query(ctx context.Context, expr string) ([]models.Chunk, error) {
	rs, err := s.api.Query(ctx, s.collectionName, nil, expr, outputFields)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	return decodeResult(rs)
}

func decodeResult(rs client.ResultSet) ([]models.Chunk, error) {
	idCol := rs.GetColumn(fieldChunkID)
	if idCol == nil {
		return nil, nil
	}

	chunks := make([]models.Chunk, 0, idCol.Len())
	for i := 0; i < idCol.Len(); i++ {
		var ch models.Chunk
		var err error
		if ch.ID, err = stringAt(rs, fieldChunkID, i); err != nil {
			return nil, err
		}
		if ch.ReferenceID, err = stringAt(rs, fieldReferenceID, i); err != nil {
			return nil, err
		}
		if ch.ScopeID, err = stringAt(rs, fieldScopeID, i); err != nil {
			return nil, err
		}
		if ch.Text, err = stringAt(rs, fieldText, i); err != nil {
			return nil, err
		}
		idx, err := int64At(rs, fieldChunkIndex, i)
		if err != nil {
			return nil, err
		}
		ch.ChunkIndex = int(idx)
		created, err := int64At(rs, fieldCreatedAt, i)
		if err != nil {
			return nil, err
		}
		ch.CreatedAt = time.Unix(created, 0)

		if col := rs.GetColumn(fieldEmbedding); col != nil {
			v, err := col.Get(i)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", fieldEmbedding, err)
			}
			if vec, ok := v.([]float32); ok {
				ch.Embedding = vec
			}
		}
		chunks = append(chunks, ch)
	}
	return chunks, nil
}

func stringAt(rs client.ResultSet, field string, i int) (string, error) {
	col := rs.GetColumn(field)
	if col == nil {
		return "", fmt.Errorf("missing column %s", field)
	}
	return col.GetAsString(i)
}

func int64At(rs client.ResultSet, field string, i int) (int64, error) {
	col := rs.GetColumn(field)
	if col == nil {
		return 0, fmt.Errorf("missing column %s", field)
	}
	return col.GetAsInt64(i)
}

func eq(field, value string) string {
	return fmt.Sprintf("%s == %s", field, strconv.Quote(value))
}
