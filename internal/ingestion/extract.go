package ingestion

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

type SourceType string

const (
	SourcePDF  SourceType = "pdf"
	SourceHTML SourceType = "html"
	SourceXLSX SourceType = "xlsx"
	SourceText SourceType = "text"
)

const maxPDFPages = 500

var whitespaceRe = regexp.MustCompile(`\s+`)

// DetectSourceType picks an extractor from the file extension, then the
// content type. Unknown inputs are treated as plain text.
func DetectSourceType(filename, contentType string) SourceType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return SourcePDF
	case ".html", ".htm":
		return SourceHTML
	case ".xlsx":
		return SourceXLSX
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return SourcePDF
	case strings.Contains(ct, "html"):
		return SourceHTML
	case strings.Contains(ct, "spreadsheetml"):
		return SourceXLSX
	}
	return SourceText
}

type Extracted struct {
	Title string
	Text  string
}

func Extract(sourceType SourceType, data []byte) (*Extracted, error) {
	switch sourceType {
	case SourcePDF:
		return extractPDF(data)
	case SourceHTML:
		return extractHTML(data)
	case SourceXLSX:
		return extractXLSX(data)
	case SourceText, "":
		return &Extracted{Text: strings.TrimSpace(string(data))}, nil
	default:
		return nil, fmt.Errorf("unsupported source type %q", sourceType)
	}
}

func extractHTML(data []byte) (*Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	doc.Find("script, style, nav, footer, header, aside, noscript").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	// Block elements end sentences even when the markup has no punctuation.
	doc.Find("p, li, h1, h2, h3, h4, h5, h6, td, th, div, br").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml(" ")
	})

	text := whitespaceRe.ReplaceAllString(doc.Find("body").Text(), " ")
	return &Extracted{Title: title, Text: strings.TrimSpace(text)}, nil
}

func extractPDF(data []byte) (*Extracted, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	if total > maxPDFPages {
		return nil, fmt.Errorf("PDF has too many pages (%d), max allowed is %d", total, maxPDFPages)
	}

	var b strings.Builder
	for n := 1; n <= total; n++ {
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(whitespaceRe.ReplaceAllString(strings.ReplaceAll(text, "\x00", ""), " "))
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(text)
	}

	return &Extracted{Text: b.String()}, nil
}

// extractXLSX renders each row as "header: value" pairs so a row reads as
// one sentence.
func extractXLSX(data []byte) (*Extracted, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}

		headers := rows[0]
		for _, row := range rows[1:] {
			var pairs []string
			for i, cell := range row {
				cell = strings.TrimSpace(cell)
				if cell == "" {
					continue
				}
				if i < len(headers) && strings.TrimSpace(headers[i]) != "" {
					pairs = append(pairs, strings.TrimSpace(headers[i])+": "+cell)
				} else {
					pairs = append(pairs, cell)
				}
			}
			if len(pairs) == 0 {
				continue
			}
			fmt.Fprintf(&b, "%s: %s.\n", sheet, strings.Join(pairs, "; "))
		}
	}

	return &Extracted{Text: strings.TrimSpace(b.String())}, nil
}
