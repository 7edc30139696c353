package parser

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ReconstructTable renders the {<section>: {table: [...], notes: "..."}}
// payload embedded in text as a Markdown table, keeping any prose before and
// after the JSON. Text without a non-empty table comes back untouched.
func ReconstructTable(section, text string) string {
	start, end, ok := tableSpan(text)
	if !ok {
		return text
	}

	payload, ok := locateTable(gjson.Parse(text[start:end]), section)
	if !ok {
		return text
	}

	rows := payload.Get("table")
	if !rows.IsArray() {
		return text
	}
	table := renderTable(rows)
	if table == "" {
		return text
	}

	parts := make([]string, 0, 4)
	if pre := strings.TrimSpace(text[:start]); pre != "" {
		parts = append(parts, pre)
	}
	parts = append(parts, table)
	if notes := strings.TrimSpace(payload.Get("notes").String()); notes != "" {
		parts = append(parts, notes)
	}
	if post := strings.TrimSpace(text[end:]); post != "" {
		parts = append(parts, post)
	}
	return strings.Join(parts, "\n\n")
}

func tableSpan(text string) (int, int, bool) {
	for from := 0; from < len(text); {
		start, end, ok := balancedSpan(text, from)
		if !ok {
			return 0, 0, false
		}
		if gjson.Valid(text[start:end]) {
			return start, end, true
		}
		from = start + 1
	}
	return 0, 0, false
}

// locateTable finds the object holding "table": the value under the section
// name, the object itself, a wrapped agent payload, or a lone nested object.
func locateTable(obj gjson.Result, section string) (gjson.Result, bool) {
	if !obj.IsObject() {
		return gjson.Result{}, false
	}

	var named, folded gjson.Result
	obj.ForEach(func(key, value gjson.Result) bool {
		if !value.IsObject() {
			return true
		}
		if key.String() == section {
			named = value
			return false
		}
		if !folded.Exists() && strings.EqualFold(strings.TrimSpace(key.String()), strings.TrimSpace(section)) {
			folded = value
		}
		return true
	})
	if named.Exists() {
		return locateTable(named, section)
	}
	if folded.Exists() {
		return locateTable(folded, section)
	}

	if obj.Get("table").Exists() {
		return obj, true
	}

	if gc := obj.Get("generated_content"); gc.Exists() {
		switch {
		case gc.IsObject():
			return locateTable(gc, section)
		case gc.Type == gjson.String && gjson.Valid(gc.Str):
			return locateTable(gjson.Parse(gc.Str), section)
		}
	}

	var nested []gjson.Result
	obj.ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() && value.Get("table").Exists() {
			nested = append(nested, value)
		}
		return true
	})
	if len(nested) == 1 {
		return nested[0], true
	}
	return gjson.Result{}, false
}

// renderTable takes column headers from the key order of the first row.
// Keys that later rows add are dropped; keys they lack render empty.
func renderTable(rows gjson.Result) string {
	var headers []string
	var body [][]string

	rows.ForEach(func(_, row gjson.Result) bool {
		if !row.IsObject() {
			return true
		}
		if headers == nil {
			row.ForEach(func(key, _ gjson.Result) bool {
				headers = append(headers, key.String())
				return true
			})
			if len(headers) == 0 {
				headers = nil
				return true
			}
		}
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = cellText(row, h)
		}
		body = append(body, cells)
		return true
	})

	if len(headers) == 0 || len(body) == 0 {
		return ""
	}

	var b strings.Builder
	writeRow(&b, escapeCells(headers))
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	b.WriteByte('\n')
	writeRow(&b, sep)
	for _, cells := range body {
		b.WriteByte('\n')
		writeRow(&b, cells)
	}
	return b.String()
}

// cellText looks the key up by iteration; gjson paths would treat dots and
// wildcards in column names as syntax.
func cellText(row gjson.Result, key string) string {
	var out string
	row.ForEach(func(k, v gjson.Result) bool {
		if k.String() != key {
			return true
		}
		switch v.Type {
		case gjson.Null:
			out = ""
		case gjson.String:
			out = v.Str
		default:
			out = v.Raw
		}
		return false
	})
	return escapeCell(out)
}

func escapeCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = escapeCell(c)
	}
	return out
}

func escapeCell(s string) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "|", `\|`).Replace(s)
	return strings.TrimSpace(s)
}

func writeRow(b *strings.Builder, cells []string) {
	b.WriteString("| ")
	b.WriteString(strings.Join(cells, " | "))
	b.WriteString(" |")
}
