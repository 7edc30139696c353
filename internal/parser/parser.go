// Package parser turns noisy model output into structured agent payloads and
// display-ready section text.
package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/draftwise/backend/internal/template"
)

var (
	ErrNoJSON         = errors.New("no JSON object found in model output")
	ErrMissingContent = errors.New("model output has no generated_content")
)

var (
	fenceRe  = regexp.MustCompile("(?s)```[A-Za-z]*[ \t]*\r?\n?(.*?)```")
	numberRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// Payload is the structured answer every agent role returns.
type Payload struct {
	Content  string
	Status   string
	Feedback string
}

// Sanitize drops ASCII control characters and backticks. Line breaks and tabs
// become spaces so words on either side stay apart.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r == '`' || r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ExtractJSON locates exactly one JSON object in raw model text. Fenced code
// block contents are preferred over the surrounding prose.
func ExtractJSON(raw string) (string, error) {
	objs := candidates(raw)
	if len(objs) == 0 {
		return "", ErrNoJSON
	}
	return objs[0], nil
}

// candidates lists every valid top-level JSON object in raw, fenced block
// contents first.
func candidates(raw string) []string {
	sources := make([]string, 0, 2)
	if m := fenceRe.FindStringSubmatch(raw); m != nil && strings.Contains(m[1], "{") {
		sources = append(sources, m[1])
	}
	sources = append(sources, raw)

	var out []string
	for _, src := range sources {
		out = append(out, objects(Sanitize(src))...)
	}
	return out
}

// objects returns the balanced {...} spans of s that are valid JSON, in order.
// Objects nested inside a valid span are not listed separately.
func objects(s string) []string {
	var out []string
	for from := 0; from < len(s); {
		start, end, ok := balancedSpan(s, from)
		if !ok {
			break
		}
		if gjson.Valid(s[start:end]) {
			out = append(out, s[start:end])
			from = end
			continue
		}
		from = start + 1
	}
	return out
}

// balancedSpan finds the first '{' at or after from and the index just past
// its matching '}'. Braces inside JSON strings are ignored. An unterminated
// span moves on to the next opening brace.
func balancedSpan(s string, from int) (int, int, bool) {
	for {
		idx := strings.IndexByte(s[from:], '{')
		if idx < 0 {
			return 0, 0, false
		}
		start := from + idx

		depth := 0
		inString, escaped := false, false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return start, i + 1, true
				}
			}
		}
		from = start + 1
	}
}

// ParsePayload extracts the agent payload. An object-valued generated_content
// is kept as its raw JSON so table sections can be reconstructed from it.
func ParsePayload(raw string) (Payload, error) {
	objs := candidates(raw)
	if len(objs) == 0 {
		return Payload{}, ErrNoJSON
	}

	// Models sometimes show an example object before the real answer.
	var res, gc gjson.Result
	for _, obj := range objs {
		res = gjson.Parse(obj)
		if gc = res.Get("generated_content"); gc.Exists() {
			break
		}
	}
	if !gc.Exists() {
		return Payload{}, ErrMissingContent
	}

	var content string
	switch gc.Type {
	case gjson.String:
		content = gc.Str
	case gjson.Null:
		content = ""
	default:
		content = gc.Raw
	}

	return Payload{
		Content:  strings.TrimSpace(content),
		Status:   strings.TrimSpace(res.Get("evaluation_status").String()),
		Feedback: strings.TrimSpace(res.Get("feedback").String()),
	}, nil
}

// ExtractNumber returns the first decimal run in text, or "0" when there is none.
func ExtractNumber(text string) string {
	if m := numberRe.FindString(text); m != "" {
		return m
	}
	return "0"
}

// Normalize shapes successful agent content for the section's format type.
func Normalize(section template.Section, content string) (string, error) {
	switch section.FormatType {
	case template.FormatTable:
		return ReconstructTable(section.Name, content), nil
	case template.FormatNumber:
		return ExtractNumber(content), nil
	case template.FormatFixedText:
		return section.Text(), nil
	case template.FormatText:
		return strings.TrimSpace(content), nil
	default:
		return "", fmt.Errorf("%w: unknown format_type %q", template.ErrTemplateInvalid, section.FormatType)
	}
}
