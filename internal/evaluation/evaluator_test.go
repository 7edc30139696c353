package evaluation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/internal/storage/sqlite"
)

// axisEmbedder maps texts onto fixed vectors so similarity is predictable.
type axisEmbedder map[string][]float32

func (a axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := a[text]
	if !ok {
		return nil, errors.New("no embedding for text")
	}
	return v, nil
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		similarity float64
		overlap    float64
		want       string
	}{
		{"both high", 0.9, 0.8, Grounded},
		{"similar but new wording", 0.9, 0.1, PartiallyGrounded},
		{"shared words only", 0.2, 0.3, PartiallyGrounded},
		{"unrelated", 0.1, 0.0, Ungrounded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.similarity, tt.overlap))
		})
	}
}

func TestLexicalOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, LexicalOverlap("Solar pumps serve villages.", "The pumps serve villages"), 1e-9)
	assert.InDelta(t, 0.5, LexicalOverlap("Solar pumps.", "solar wind"), 1e-9)
	assert.Zero(t, LexicalOverlap("anything", "the of and"))
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "eval.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	logs := []struct {
		id, ctxText, answer string
	}{
		{"log-a", "Solar pumps serve villages.", "Solar pumps serve villages."},
		{"log-b", "Solar pumps serve villages.", "Budget covers staff."},
		{"log-c", "", "Ungrounded text."},
		{"log-d", "Unembeddable context.", "Unembeddable answer."},
	}
	for _, l := range logs {
		require.NoError(t, db.InsertRetrievalLog(ctx, &models.RetrievalLog{
			ID: l.id, ScopeID: "doc-1", Query: "q", RetrievedContext: l.ctxText,
		}))
		require.NoError(t, db.SetRetrievalAnswer(ctx, l.id, l.answer))
	}

	emb := axisEmbedder{
		"Solar pumps serve villages.": {1, 0},
		"Budget covers staff.":        {0, 1},
	}

	report, err := NewEvaluator(db, emb).Run(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.GroundedCount)
	assert.Equal(t, 2, report.UngroundedCount)
	assert.Contains(t, report.String(), "Grounded: 1")

	remaining, err := db.ListAnsweredLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "log-d", remaining[0].ID)
}
