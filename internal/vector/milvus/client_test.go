package milvus

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwise/backend/internal/storage/models"
)

type row map[string]any

type fakeAPI struct {
	mu         sync.Mutex
	created    bool
	loaded     bool
	index      entity.Index
	rows       []row
	deleteExpr []string
}

func (f *fakeAPI) HasCollection(context.Context, string) (bool, error) { return f.created, nil }

func (f *fakeAPI) CreateCollection(_ context.Context, _ *entity.Schema, _ int32, _ ...client.CreateCollectionOption) error {
	f.created = true
	return nil
}

func (f *fakeAPI) CreateIndex(_ context.Context, _ string, _ string, idx entity.Index, _ bool, _ ...client.IndexOption) error {
	f.index = idx
	return nil
}

func (f *fakeAPI) LoadCollection(context.Context, string, bool, ...client.LoadCollectionOption) error {
	f.loaded = true
	return nil
}

func (f *fakeAPI) Insert(_ context.Context, _ string, _ string, columns ...entity.Column) (entity.Column, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := row{}
	for _, col := range columns {
		v, err := col.Get(0)
		if err != nil {
			return nil, err
		}
		r[col.Name()] = v
	}
	f.rows = append(f.rows, r)
	return nil, nil
}

func (f *fakeAPI) Flush(context.Context, string, bool, ...client.FlushOption) error { return nil }

func (f *fakeAPI) Delete(_ context.Context, _ string, _ string, expr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteExpr = append(f.deleteExpr, expr)

	list := strings.TrimSuffix(strings.TrimPrefix(expr, fieldChunkID+" in ["), "]")
	drop := map[string]bool{}
	for _, q := range strings.Split(list, ", ") {
		id, err := strconv.Unquote(q)
		if err != nil {
			return err
		}
		drop[id] = true
	}
	kept := f.rows[:0]
	for _, r := range f.rows {
		if !drop[r[fieldChunkID].(string)] {
			kept = append(kept, r)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakeAPI) Query(_ context.Context, _ string, _ []string, expr string, _ []string, _ ...client.SearchQueryOptionFunc) (client.ResultSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	field, quoted, _ := strings.Cut(expr, " == ")
	value, err := strconv.Unquote(quoted)
	if err != nil {
		return nil, err
	}

	var ids, refs, scopes, texts []string
	var idxs, created []int64
	var vecs [][]float32
	for _, r := range f.rows {
		if r[field] != value {
			continue
		}
		ids = append(ids, r[fieldChunkID].(string))
		refs = append(refs, r[fieldReferenceID].(string))
		scopes = append(scopes, r[fieldScopeID].(string))
		texts = append(texts, r[fieldText].(string))
		idxs = append(idxs, r[fieldChunkIndex].(int64))
		created = append(created, r[fieldCreatedAt].(int64))
		vecs = append(vecs, r[fieldEmbedding].([]float32))
	}
	return client.ResultSet{
		entity.NewColumnVarChar(fieldChunkID, ids),
		entity.NewColumnVarChar(fieldReferenceID, refs),
		entity.NewColumnVarChar(fieldScopeID, scopes),
		entity.NewColumnInt64(fieldChunkIndex, idxs),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnFloatVector(fieldEmbedding, 2, vecs),
		entity.NewColumnInt64(fieldCreatedAt, created),
	}, nil
}

func (f *fakeAPI) Close() error { return nil }

func chunk(ref, scope string, i int, text string, emb ...float32) *models.Chunk {
	return &models.Chunk{
		ID:          ref + "_chunk_" + strconv.Itoa(i),
		ReferenceID: ref,
		ScopeID:     scope,
		ChunkIndex:  i,
		Text:        text,
		Embedding:   emb,
	}
}

func TestEnsureCollection(t *testing.T) {
	api := &fakeAPI{}
	store := NewFromAPI(api, "chunks", 2)

	require.NoError(t, store.EnsureCollection(context.Background()))
	assert.True(t, api.created)
	assert.True(t, api.loaded)
	require.NotNil(t, api.index)
}

func TestInsertAndSearch(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	store := NewFromAPI(api, "chunks", 2)

	require.NoError(t, store.InsertChunk(ctx, chunk("ref-1", "doc-1", 0, "Solar pumps cut diesel costs.", 1, 0)))
	require.NoError(t, store.InsertChunk(ctx, chunk("ref-1", "doc-1", 1, "Training for pump mechanics.", 0, 1)))
	require.NoError(t, store.InsertChunk(ctx, chunk("ref-2", "doc-2", 0, "Solar pumps elsewhere.", 1, 0)))

	results, err := store.SearchChunks(ctx, "doc-1", "solar pumps", []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "ref-1_chunk_0", results[0].ID)
	assert.InDelta(t, 1.0, results[0].VectorScore, 1e-9)
	assert.Greater(t, results[0].LexicalScore, 0.0)
	assert.Equal(t, 0.0, results[1].LexicalScore)
	assert.Equal(t, 1, results[1].ChunkIndex)
	for _, r := range results {
		assert.Equal(t, "doc-1", r.ScopeID)
	}
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	store := NewFromAPI(&fakeAPI{}, "chunks", 2)
	err := store.InsertChunk(context.Background(), chunk("ref-1", "doc-1", 0, "x", 1, 2, 3))
	assert.Error(t, err)
}

func TestDeleteChunks(t *testing.T) {
	ctx := context.Background()
	api := &fakeAPI{}
	store := NewFromAPI(api, "chunks", 2)

	require.NoError(t, store.InsertChunk(ctx, chunk("ref-1", "doc-1", 0, "a", 1, 0)))
	require.NoError(t, store.InsertChunk(ctx, chunk("ref-1", "doc-1", 1, "b", 1, 0)))
	require.NoError(t, store.InsertChunk(ctx, chunk("ref-2", "doc-1", 0, "c", 1, 0)))

	n, err := store.DeleteChunks(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, api.rows, 1)

	n, err = store.DeleteChunks(ctx, "ref-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, api.deleteExpr, 1)
}
