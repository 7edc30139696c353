// Package template loads document templates and exposes the per-section
// generation contract.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/draftwise/backend/pkg/logger"
)

var (
	// ErrTemplateNotFound covers unknown and unsafe identifiers.
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateInvalid  = errors.New("template invalid")
	ErrSectionNotFound  = errors.New("section not found in template")
)

type FormatType string

const (
	FormatText      FormatType = "text"
	FormatFixedText FormatType = "fixed_text"
	FormatNumber    FormatType = "number"
	FormatTable     FormatType = "table"
)

func (f FormatType) Valid() bool {
	switch f {
	case FormatText, FormatFixedText, FormatNumber, FormatTable:
		return true
	}
	return false
}

type LimitType string

const (
	LimitWords LimitType = "word"
	LimitChars LimitType = "char"
)

type Limit struct {
	Type  LimitType `json:"type"`
	Value int       `json:"value"`
}

func (l Limit) String() string {
	if l.Value <= 0 {
		return "no explicit limit"
	}
	unit := "words"
	if l.Type == LimitChars {
		unit = "characters"
	}
	return fmt.Sprintf("at most %d %s", l.Value, unit)
}

type Section struct {
	Name         string     `json:"name"`
	FormatType   FormatType `json:"format_type"`
	Instructions string     `json:"instructions"`
	Limit        Limit      `json:"limit"`
	Columns      []string   `json:"columns,omitempty"`
	Rows         []string   `json:"rows,omitempty"`
	FixedText    string     `json:"fixed_text,omitempty"`
}

// Text returns the verbatim content of a fixed_text section.
func (s Section) Text() string {
	if s.FixedText != "" {
		return s.FixedText
	}
	return s.Instructions
}

type Template struct {
	Name     string    `json:"name"`
	Sections []Section `json:"sections"`
}

func (t *Template) Section(name string) (Section, error) {
	for _, s := range t.Sections {
		if s.Name == name {
			return s, nil
		}
	}
	return Section{}, fmt.Errorf("%w: %q", ErrSectionNotFound, name)
}

func (t *Template) SectionNames() []string {
	names := make([]string, len(t.Sections))
	for i, s := range t.Sections {
		names[i] = s.Name
	}
	return names
}

// IsComplete reports whether sections covers exactly the template's section names.
func (t *Template) IsComplete(sections map[string]string) bool {
	if len(sections) != len(t.Sections) {
		return false
	}
	for _, s := range t.Sections {
		if _, ok := sections[s.Name]; !ok {
			return false
		}
	}
	return true
}

// Missing lists template sections absent from sections, in template order.
func (t *Template) Missing(sections map[string]string) []string {
	var missing []string
	for _, s := range t.Sections {
		if _, ok := sections[s.Name]; !ok {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

func (t *Template) validate() error {
	if len(t.Sections) == 0 {
		return fmt.Errorf("%w: no sections", ErrTemplateInvalid)
	}
	seen := make(map[string]bool, len(t.Sections))
	for i, s := range t.Sections {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%w: section %d has no name", ErrTemplateInvalid, i)
		}
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate section %q", ErrTemplateInvalid, s.Name)
		}
		seen[s.Name] = true
		if !s.FormatType.Valid() {
			return fmt.Errorf("%w: section %q has unknown format_type %q", ErrTemplateInvalid, s.Name, s.FormatType)
		}
		if s.Limit.Value > 0 && s.Limit.Type != LimitWords && s.Limit.Type != LimitChars {
			return fmt.Errorf("%w: section %q has unknown limit type %q", ErrTemplateInvalid, s.Name, s.Limit.Type)
		}
	}
	return nil
}

// Resolver loads templates from dir. Only allow-listed identifiers are ever
// turned into file paths. Loaded templates are immutable and cached.
type Resolver struct {
	dir     string
	allowed map[string]bool

	mu    sync.RWMutex
	cache map[string]*Template
}

func NewResolver(dir string, allowed []string) *Resolver {
	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allow[name] = true
	}
	return &Resolver{
		dir:     dir,
		allowed: allow,
		cache:   make(map[string]*Template),
	}
}

func (r *Resolver) Allowed(name string) bool {
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return false
	}
	return r.allowed[name]
}

func (r *Resolver) Load(name string) (*Template, error) {
	if !r.Allowed(name) {
		logger.Warn("Rejected template identifier", zap.String("template", name))
		return nil, fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}

	r.mu.RLock()
	tpl, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	data, err := os.ReadFile(filepath.Join(r.dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %q: %v", ErrTemplateInvalid, name, err)
	}

	var parsed Template
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %q: %v", ErrTemplateInvalid, name, err)
	}
	if err := parsed.validate(); err != nil {
		return nil, fmt.Errorf("template %q: %w", name, err)
	}
	if parsed.Name == "" {
		parsed.Name = strings.TrimSuffix(name, filepath.Ext(name))
	}

	r.mu.Lock()
	r.cache[name] = &parsed
	r.mu.Unlock()

	logger.Info("Template loaded", zap.String("template", name), zap.Int("sections", len(parsed.Sections)))
	return &parsed, nil
}

// IsConfigError reports whether err is a fatal, non-retryable template problem.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) || errors.Is(err, ErrTemplateInvalid) || errors.Is(err, ErrSectionNotFound)
}
