package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeSections = `{
  "name": "abc",
  "sections": [
    {"name": "A", "format_type": "text", "instructions": "write a", "limit": {"type": "word", "value": 100}},
    {"name": "B", "format_type": "number", "instructions": "count b", "limit": {"type": "char", "value": 10}},
    {"name": "C", "format_type": "fixed_text", "fixed_text": "constant c"}
  ]
}`

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestResolver_Load(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "abc.json", threeSections)

	r := NewResolver(dir, []string{"abc.json"})
	tpl, err := r.Load("abc.json")
	require.NoError(t, err)

	assert.Equal(t, "abc", tpl.Name)
	assert.Equal(t, []string{"A", "B", "C"}, tpl.SectionNames())

	c, err := tpl.Section("C")
	require.NoError(t, err)
	assert.Equal(t, FormatFixedText, c.FormatType)
	assert.Equal(t, "constant c", c.Text())

	again, err := r.Load("abc.json")
	require.NoError(t, err)
	assert.Same(t, tpl, again)
}

func TestResolver_RejectsBeforeFileAccess(t *testing.T) {
	dir := t.TempDir()
	// A real file sits behind the traversal path; it must still be rejected.
	writeTemplate(t, dir, "secrets.json", threeSections)
	sub := filepath.Join(dir, "templates")
	require.NoError(t, os.Mkdir(sub, 0o755))

	r := NewResolver(sub, []string{"proposal.json", "../secrets.json"})

	for _, name := range []string{"../secrets.json", "secrets.json", "", "a/b.json", `..\secrets.json`, "unknown.json"} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Load(name)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrTemplateNotFound)
			assert.True(t, IsConfigError(err))
		})
	}
}

func TestResolver_InvalidTemplates(t *testing.T) {
	cases := map[string]string{
		"malformed.json": `{"sections": [`,
		"empty.json":     `{"name": "x", "sections": []}`,
		"dupe.json":      `{"sections": [{"name": "A", "format_type": "text"}, {"name": "A", "format_type": "text"}]}`,
		"format.json":    `{"sections": [{"name": "A", "format_type": "chart"}]}`,
		"limit.json":     `{"sections": [{"name": "A", "format_type": "text", "limit": {"type": "pages", "value": 2}}]}`,
	}

	dir := t.TempDir()
	allowed := []string{"missing.json"}
	for name, body := range cases {
		writeTemplate(t, dir, name, body)
		allowed = append(allowed, name)
	}
	r := NewResolver(dir, allowed)

	for name := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := r.Load(name)
			assert.ErrorIs(t, err, ErrTemplateInvalid)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := r.Load("missing.json")
		assert.ErrorIs(t, err, ErrTemplateInvalid)
	})
}

func TestTemplate_SectionNotFound(t *testing.T) {
	tpl := &Template{Sections: []Section{{Name: "A", FormatType: FormatText}}}
	_, err := tpl.Section("Z")
	assert.ErrorIs(t, err, ErrSectionNotFound)
}

func TestTemplate_IsComplete(t *testing.T) {
	tpl := &Template{Sections: []Section{{Name: "A"}, {Name: "B"}, {Name: "C"}}}

	tests := []struct {
		name     string
		sections map[string]string
		complete bool
		missing  []string
	}{
		{"partial", map[string]string{"A": "x", "B": "y"}, false, []string{"C"}},
		{"exact", map[string]string{"A": "x", "B": "y", "C": "z"}, true, nil},
		{"same size different names", map[string]string{"A": "x", "B": "y", "D": "z"}, false, []string{"C"}},
		{"extra key", map[string]string{"A": "x", "B": "y", "C": "z", "D": "w"}, false, nil},
		{"empty", nil, false, []string{"A", "B", "C"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.complete, tpl.IsComplete(tt.sections))
			assert.Equal(t, tt.missing, tpl.Missing(tt.sections))
		})
	}
}

func TestBundledTemplates(t *testing.T) {
	r := NewResolver(filepath.Join("..", "..", "templates"), []string{"proposal.json", "knowledge_card.json"})
	for _, name := range []string{"proposal.json", "knowledge_card.json"} {
		tpl, err := r.Load(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, tpl.Sections)
	}
}

func TestLimit_String(t *testing.T) {
	assert.Equal(t, "at most 100 words", Limit{Type: LimitWords, Value: 100}.String())
	assert.Equal(t, "at most 20 characters", Limit{Type: LimitChars, Value: 20}.String())
	assert.Equal(t, "no explicit limit", Limit{}.String())
}
