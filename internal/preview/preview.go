// Package preview renders a document's generated sections as HTML.
package preview

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/internal/template"
)

type Documents interface {
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

type Templates interface {
	Load(name string) (*template.Template, error)
}

type Renderer struct {
	documents Documents
	templates Templates
	md        goldmark.Markdown
}

func NewRenderer(documents Documents, templates Templates) *Renderer {
	return &Renderer{
		documents: documents,
		templates: templates,
		md:        goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Markdown lays the document out in template order. Sections that have not
// been generated yet are listed as pending.
func Markdown(tpl *template.Template, sections map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", tpl.Name)
	for _, name := range tpl.SectionNames() {
		fmt.Fprintf(&b, "## %s\n\n", name)
		text, ok := sections[name]
		if !ok || strings.TrimSpace(text) == "" {
			b.WriteString("_Not generated yet._\n\n")
			continue
		}
		b.WriteString(strings.TrimSpace(text))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (r *Renderer) Render(ctx context.Context, docID string) ([]byte, error) {
	doc, err := r.documents.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	tpl, err := r.templates.Load(doc.TemplateRef)
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	if err := r.md.Convert([]byte(Markdown(tpl, doc.GeneratedSections)), &body); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}

	var page bytes.Buffer
	fmt.Fprintf(&page, pageHead, html.EscapeString(tpl.Name))
	page.Write(body.Bytes())
	page.WriteString(pageFoot)
	return page.Bytes(), nil
}

const pageHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>%s</title>
<style>
body { font-family: 'Segoe UI', Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 0 auto; padding: 40px 20px; color: #333; }
table { border-collapse: collapse; width: 100%%; margin: 20px 0; }
th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
</style>
</head>
<body>
`

const pageFoot = `</body>
</html>
`
