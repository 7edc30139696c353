package ingestion

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/internal/storage/sqlite"
)

type fakeEmbedder struct {
	failOn   string
	delay    time.Duration
	inFlight atomic.Int64
	maxSeen  atomic.Int64
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, errors.New("embedding timeout")
	}
	return []float32{float32(len(text)), 1}, nil
}

func newDB(t *testing.T) *sqlite.Client {
	t.Helper()
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })
	return db
}

func sentences(n int, prefix string) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s sentence number %d describes the programme in some detail. ", prefix, i)
	}
	return b.String()
}

func TestPipeline_ReingestionReplacesChunks(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	p := NewPipeline(&fakeEmbedder{}, db, db, 200, 3)

	first, err := p.Ingest(ctx, Input{ReferenceID: "ref-1", ScopeID: "scope", Text: sentences(20, "First")})
	require.NoError(t, err)
	assert.Zero(t, first.Deleted)
	assert.Equal(t, first.Produced, first.Stored)

	n, err := db.CountChunks(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, first.Produced, n)

	second, err := p.Ingest(ctx, Input{ReferenceID: "ref-1", ScopeID: "scope", Text: sentences(6, "Second")})
	require.NoError(t, err)
	assert.Equal(t, int64(first.Stored), second.Deleted)

	n, err = db.CountChunks(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, second.Produced, n, "chunk count equals the fresh chunk count, not the sum")

	chunks, err := db.ListChunks(ctx, "ref-1")
	require.NoError(t, err)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c.Text, "Second"), c.Text)
		assert.LessOrEqual(t, len(c.Text), 200)
		assert.Equal(t, "scope", c.ScopeID)
	}

	ref, err := db.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReferenceReady, ref.Status)
	assert.Equal(t, second.Stored, ref.ChunkCount)
}

func TestPipeline_PartialFailureSkipsChunks(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	text := "Alpha is fine. Beta will fail. Gamma is fine too."
	p := NewPipeline(&fakeEmbedder{failOn: "Beta"}, db, db, 16, 2)

	report, err := p.Ingest(ctx, Input{ReferenceID: "ref-1", ScopeID: "scope", Text: text})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Produced)
	assert.Equal(t, 2, report.Stored)
	assert.Equal(t, 1, report.Failed)

	ref, err := db.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReferenceReady, ref.Status, "individual chunk failures do not flag the reference")
	assert.Equal(t, 2, ref.ChunkCount)
}

func TestPipeline_BoundedConcurrency(t *testing.T) {
	db := newDB(t)
	emb := &fakeEmbedder{delay: 5 * time.Millisecond}
	p := NewPipeline(emb, db, db, 80, 3)

	report, err := p.Ingest(context.Background(), Input{ReferenceID: "ref-1", ScopeID: "scope", Text: sentences(30, "Chunk")})
	require.NoError(t, err)
	assert.Equal(t, 30, report.Produced)
	assert.LessOrEqual(t, emb.maxSeen.Load(), int64(3))
}

type failingChunks struct {
	sqliteChunks *sqlite.Client
}

func (f failingChunks) DeleteChunks(context.Context, string) (int64, error) {
	return 0, errors.New("disk full")
}

func (f failingChunks) InsertChunk(ctx context.Context, c *models.Chunk) error {
	return f.sqliteChunks.InsertChunk(ctx, c)
}

func TestPipeline_FailureMarksReference(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)

	p := NewPipeline(&fakeEmbedder{}, failingChunks{db}, db, 100, 2)
	_, err := p.Ingest(ctx, Input{ReferenceID: "ref-1", ScopeID: "scope", Text: "Some text."})
	require.Error(t, err)

	ref, err := db.GetReference(ctx, "ref-1")
	require.NoError(t, err)
	assert.Equal(t, models.ReferenceError, ref.Status)
	assert.Contains(t, ref.Error, "disk full")

	p = NewPipeline(&fakeEmbedder{}, db, db, 100, 2)
	_, err = p.Ingest(ctx, Input{ReferenceID: "ref-2", ScopeID: "scope", Text: "   "})
	assert.ErrorIs(t, err, ErrNoContent)

	_, err = p.Ingest(ctx, Input{ScopeID: "scope", Text: "x"})
	assert.Error(t, err)
}

func TestPipeline_ConcurrentReferences(t *testing.T) {
	ctx := context.Background()
	db := newDB(t)
	p := NewPipeline(&fakeEmbedder{}, db, db, 120, 5)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Ingest(ctx, Input{ReferenceID: fmt.Sprintf("ref-%d", i), ScopeID: "scope", Text: sentences(5, "Doc")})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		n, err := db.CountChunks(ctx, fmt.Sprintf("ref-%d", i))
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	}
}
