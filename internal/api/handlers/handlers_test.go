package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftwise/backend/internal/generation"
	"github.com/draftwise/backend/internal/ingestion"
	"github.com/draftwise/backend/internal/retrieval"
	"github.com/draftwise/backend/internal/session"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/internal/template"
)

type fakeGeneration struct {
	sessions map[string]*session.Session
	lastArgs []string
}

func (f *fakeGeneration) StoreBaseData(_ context.Context, in generation.BaseData) (*session.Session, error) {
	if in.TemplateRef != "proposal.json" {
		return nil, template.ErrTemplateNotFound
	}
	s := &session.Session{ID: "sess-1", TemplateRef: in.TemplateRef, FormData: in.FormData}
	f.sessions[s.ID] = s
	return s, nil
}

func (f *fakeGeneration) GetBaseData(_ context.Context, id string) (*session.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return s, nil
}

func (f *fakeGeneration) PatchBaseData(ctx context.Context, id string, formData map[string]string, desc *string) (*session.Session, error) {
	s, err := f.GetBaseData(ctx, id)
	if err != nil {
		return nil, err
	}
	for k, v := range formData {
		s.FormData[k] = v
	}
	if desc != nil {
		s.ProjectDescription = *desc
	}
	return s, nil
}

func (f *fakeGeneration) GenerateSection(_ context.Context, sessionID, section, proposalID string) (*generation.SectionResult, error) {
	f.lastArgs = []string{sessionID, section, proposalID}
	return f.result(sessionID, section)
}

func (f *fakeGeneration) RegenerateSection(_ context.Context, sessionID, section, concise, proposalID string) (*generation.SectionResult, error) {
	f.lastArgs = []string{sessionID, section, concise, proposalID}
	return f.result(sessionID, section)
}

func (f *fakeGeneration) result(sessionID, section string) (*generation.SectionResult, error) {
	switch {
	case f.sessions[sessionID] == nil:
		return nil, session.ErrSessionNotFound
	case section == "Unknown":
		return nil, template.ErrSectionNotFound
	case section == "Broken":
		return nil, errors.New("disk full")
	}
	return &generation.SectionResult{
		Message:       generation.MessageGenerated,
		GeneratedText: "Text for " + section,
		Section:       section,
	}, nil
}

func (f *fakeGeneration) DocumentCompleteness(_ context.Context, docID string) (*generation.Completeness, error) {
	if docID != "doc-1" {
		return nil, models.ErrNotFound
	}
	return &generation.Completeness{DocumentID: docID, Missing: []string{"Budget"}}, nil
}

type fakePreview struct{}

func (fakePreview) Render(_ context.Context, docID string) ([]byte, error) {
	return []byte("<h1>" + docID + "</h1>"), nil
}

type fakeIngester struct {
	got ingestion.Input
}

func (f *fakeIngester) Ingest(_ context.Context, in ingestion.Input) (*ingestion.Report, error) {
	f.got = in
	return &ingestion.Report{ReferenceID: in.ReferenceID, Produced: 2, Stored: 2}, nil
}

type fakeFetcher struct{}

func (fakeFetcher) Fetch(_ context.Context, rawURL string) (ingestion.SourceType, *ingestion.Extracted, error) {
	if strings.Contains(rawURL, "down") {
		return "", nil, errors.New("connection refused")
	}
	if strings.Contains(rawURL, "169.254") {
		return "", nil, fmt.Errorf("failed to fetch %s: %w", rawURL, ingestion.ErrBlockedAddress)
	}
	return ingestion.SourceHTML, &ingestion.Extracted{Title: "Remote", Text: "Fetched text."}, nil
}

type fakeRetriever struct{}

func (fakeRetriever) Retrieve(_ context.Context, query, scopeID string) (*retrieval.Result, error) {
	return &retrieval.Result{
		LogID:   "log-1",
		Context: "[1] " + query,
		Chunks: []models.ScoredChunk{{
			Chunk: models.Chunk{ID: "ref_chunk_0", ReferenceID: "ref", ScopeID: scopeID, Text: "t"},
			Score: 0.7,
		}},
	}, nil
}

type fakeTemplates struct{}

func (fakeTemplates) Load(name string) (*template.Template, error) {
	if name != "proposal.json" {
		return nil, template.ErrTemplateNotFound
	}
	return &template.Template{Name: "proposal", Sections: []template.Section{{Name: "Summary", FormatType: template.FormatText}}}, nil
}

func newTestApp(gen *fakeGeneration, ing *fakeIngester) *fiber.App {
	app := fiber.New()
	api := app.Group("/api/v1")

	sessions := NewSessionHandler(gen)
	api.Post("/sessions", sessions.Create)
	api.Get("/sessions/:id", sessions.Get)
	api.Patch("/sessions/:id", sessions.Patch)

	sections := NewSectionHandler(gen)
	api.Post("/sections/generate", sections.Generate)
	api.Post("/sections/regenerate", sections.Regenerate)

	api.Post("/retrieve", NewRetrievalHandler(fakeRetriever{}).Retrieve)
	api.Post("/references", NewReferenceHandler(ing, fakeFetcher{}).Upload)
	api.Get("/templates/:name", NewTemplateHandler(fakeTemplates{}).Get)

	docs := NewDocumentHandler(gen, fakePreview{})
	api.Get("/documents/:id/completeness", docs.Completeness)
	api.Get("/documents/:id/preview", docs.Preview)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestSessionRoutes(t *testing.T) {
	gen := &fakeGeneration{sessions: map[string]*session.Session{}}
	app := newTestApp(gen, &fakeIngester{})

	resp, body := doJSON(t, app, "POST", "/api/v1/sessions", map[string]any{
		"template_ref": "proposal.json",
		"form_data":    map[string]string{"org": "Acme"},
	})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "sess-1", body["session_id"])

	resp, _ = doJSON(t, app, "POST", "/api/v1/sessions", map[string]any{"template_ref": "../etc/passwd"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/api/v1/sessions", map[string]any{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, app, "PATCH", "/api/v1/sessions/sess-1", map[string]any{"project_description": "New."})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "New.", body["project_description"])

	resp, _ = doJSON(t, app, "GET", "/api/v1/sessions/nope", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSectionRoutes(t *testing.T) {
	gen := &fakeGeneration{sessions: map[string]*session.Session{"sess-1": {ID: "sess-1"}}}
	app := newTestApp(gen, &fakeIngester{})

	tests := []struct {
		name    string
		path    string
		body    map[string]any
		status  int
		message string
	}{
		{"generate", "/api/v1/sections/generate", map[string]any{"session_id": "sess-1", "section": "Summary", "proposal_id": "doc-1"}, fiber.StatusOK, ""},
		{"regenerate", "/api/v1/sections/regenerate", map[string]any{"session_id": "sess-1", "section": "Summary", "concise_input": "shorter"}, fiber.StatusOK, ""},
		{"regenerate without input", "/api/v1/sections/regenerate", map[string]any{"session_id": "sess-1", "section": "Summary"}, fiber.StatusBadRequest, ""},
		{"unknown session", "/api/v1/sections/generate", map[string]any{"session_id": "nope", "section": "Summary"}, fiber.StatusNotFound, "session not found"},
		{"unknown section", "/api/v1/sections/generate", map[string]any{"session_id": "sess-1", "section": "Unknown"}, fiber.StatusBadRequest, "section not found in template"},
		{"internal error hidden", "/api/v1/sections/generate", map[string]any{"session_id": "sess-1", "section": "Broken"}, fiber.StatusInternalServerError, "Failed to generate section"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := doJSON(t, app, "POST", tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == fiber.StatusOK {
				assert.Equal(t, "Text for Summary", body["generated_text"])
				assert.Equal(t, generation.MessageGenerated, body["message"])
			}
			if tt.message != "" {
				assert.Equal(t, tt.message, body["error"])
			}
		})
	}

	doJSON(t, app, "POST", "/api/v1/sections/regenerate", map[string]any{"session_id": "sess-1", "section": "Summary", "concise_input": "formal", "proposal_id": "doc-9"})
	assert.Equal(t, []string{"sess-1", "Summary", "formal", "doc-9"}, gen.lastArgs)
}

func TestRetrieveRoute(t *testing.T) {
	app := newTestApp(&fakeGeneration{sessions: map[string]*session.Session{}}, &fakeIngester{})

	resp, body := doJSON(t, app, "POST", "/api/v1/retrieve", map[string]any{"query": "pumps", "scope_id": "doc-1"})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "log-1", body["log_id"])
	chunks := body["chunks"].([]any)
	require.Len(t, chunks, 1)
	assert.Equal(t, "ref_chunk_0", chunks[0].(map[string]any)["id"])

	resp, _ = doJSON(t, app, "POST", "/api/v1/retrieve", map[string]any{"query": "pumps"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestReferenceUpload(t *testing.T) {
	ing := &fakeIngester{}
	app := newTestApp(&fakeGeneration{sessions: map[string]*session.Session{}}, ing)

	resp, body := doJSON(t, app, "POST", "/api/v1/references", map[string]any{
		"reference_id": "ref-1", "scope_id": "doc-1", "title": "Notes", "text": "Plain text.",
	})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ref-1", body["reference_id"])
	assert.Equal(t, ingestion.SourceText, ing.got.SourceType)
	assert.Equal(t, "Plain text.", ing.got.Text)

	resp, _ = doJSON(t, app, "POST", "/api/v1/references", map[string]any{"scope_id": "doc-1"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/api/v1/references", map[string]any{"scope_id": "doc-1", "url": "not a url"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/api/v1/references", map[string]any{"scope_id": "doc-1", "url": "https://down.example.org/x"})
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/api/v1/references", map[string]any{"scope_id": "doc-1", "url": "http://169.254.169.254/latest/meta-data"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, "POST", "/api/v1/references", map[string]any{"scope_id": "doc-1", "url": "https://example.org/report"})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Remote", ing.got.Title)
	assert.Equal(t, "Fetched text.", ing.got.Text)
	assert.Equal(t, ingestion.SourceHTML, ing.got.SourceType)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("scope_id", "doc-2"))
	fw, err := mw.CreateFormFile("file", "report.html")
	require.NoError(t, err)
	_, err = fw.Write([]byte("<html><head><title>Annual report</title></head><body><p>Pumps were repaired.</p></body></html>"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/references", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "doc-2", ing.got.ScopeID)
	assert.Equal(t, ingestion.SourceHTML, ing.got.SourceType)
	assert.Equal(t, "Annual report", ing.got.Title)
	assert.Contains(t, ing.got.Text, "Pumps were repaired.")
	assert.NotEmpty(t, ing.got.ReferenceID)
}

func TestTemplateAndDocumentRoutes(t *testing.T) {
	app := newTestApp(&fakeGeneration{sessions: map[string]*session.Session{}}, &fakeIngester{})

	resp, body := doJSON(t, app, "GET", "/api/v1/templates/proposal.json", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "proposal", body["name"])

	resp, _ = doJSON(t, app, "GET", "/api/v1/templates/other.json", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, app, "GET", "/api/v1/documents/doc-1/completeness", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"Budget"}, body["missing"])

	resp, _ = doJSON(t, app, "GET", "/api/v1/documents/doc-2/completeness", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	req := httptest.NewRequest("GET", "/api/v1/documents/doc-1/preview", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
}

func TestWebSocketProcess(t *testing.T) {
	gen := &fakeGeneration{sessions: map[string]*session.Session{"sess-1": {ID: "sess-1"}}}
	h := NewWebSocketHandler(gen)

	var statuses []wsFrame
	record := func(f wsFrame) error {
		statuses = append(statuses, f)
		return nil
	}

	frame := h.process(context.Background(), wsRequest{Type: "generate", SessionID: "sess-1", Section: "Summary"}, record)
	assert.Equal(t, "complete", frame.Type)
	require.NotNil(t, frame.Result)
	assert.Equal(t, "Text for Summary", frame.Result.GeneratedText)
	require.Len(t, statuses, 1)
	assert.Equal(t, "status", statuses[0].Type)

	frame = h.process(context.Background(), wsRequest{Type: "regenerate", SessionID: "sess-1", Section: "Summary"}, record)
	assert.Equal(t, "error", frame.Type)
	assert.Len(t, statuses, 1)

	frame = h.process(context.Background(), wsRequest{Type: "generate", SessionID: "nope", Section: "Summary"}, record)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, "session not found", frame.Error)
}
