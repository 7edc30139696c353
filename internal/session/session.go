// Package session keeps in-progress generation state in a TTL-bound cache and
// merges finished sections into the durable document row.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/cache"
	"github.com/draftwise/backend/internal/metrics"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/pkg/logger"
	"github.com/draftwise/backend/pkg/retry"
)

var ErrSessionNotFound = errors.New("session not found")

const keyPrefix = "session:"

type Session struct {
	ID                 string            `json:"session_id"`
	FormData           map[string]string `json:"form_data"`
	ProjectDescription string            `json:"project_description"`
	TemplateRef        string            `json:"template_ref"`
	GeneratedSections  map[string]string `json:"generated_sections"`
	OwnerID            string            `json:"owner_id"`
	DocumentID         string            `json:"document_id,omitempty"`
	ScopeID            string            `json:"scope_id,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type CreateInput struct {
	FormData           map[string]string
	ProjectDescription string
	TemplateRef        string
	OwnerID            string
	DocumentID         string
	ScopeID            string
}

// DocumentStore is the durable per-document sections map.
type DocumentStore interface {
	GetSections(ctx context.Context, docID string) (map[string]string, int64, error)
	SetSections(ctx context.Context, docID string, sections map[string]string, version int64, status models.DocumentStatus) error
}

type Manager struct {
	store     cache.Store
	documents DocumentStore
	ttl       time.Duration
	syncRetry retry.Config

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

type Option func(*Manager)

// WithSyncRetry overrides the retry budget for version conflicts.
func WithSyncRetry(cfg retry.Config) Option {
	return func(m *Manager) { m.syncRetry = cfg }
}

func NewManager(store cache.Store, documents DocumentStore, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		documents: documents,
		ttl:       ttl,
		syncRetry: retry.Config{
			MaxAttempts:    8,
			InitialDelay:   20 * time.Millisecond,
			MaxDelay:       500 * time.Millisecond,
			Multiplier:     2.0,
			JitterFraction: 0.5,
			Logger:         logger.GetLogger(),
		},
		locks: make(map[string]*sessionLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Create(ctx context.Context, in CreateInput) (*Session, error) {
	now := time.Now().UTC()
	s := &Session{
		ID:                 uuid.New().String(),
		FormData:           copyMap(in.FormData),
		ProjectDescription: in.ProjectDescription,
		TemplateRef:        in.TemplateRef,
		GeneratedSections:  map[string]string{},
		OwnerID:            in.OwnerID,
		DocumentID:         in.DocumentID,
		ScopeID:            in.ScopeID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := m.write(ctx, s); err != nil {
		return nil, err
	}

	logger.Info("Session created",
		zap.String("session_id", s.ID),
		zap.String("template", s.TemplateRef),
		zap.Int("form_fields", len(s.FormData)),
	)
	return s, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	data, err := m.store.Get(ctx, keyPrefix+id)
	if errors.Is(err, cache.ErrMiss) {
		metrics.CacheMisses.WithLabelValues("session").Inc()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	metrics.CacheHits.WithLabelValues("session").Inc()

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	if s.GeneratedSections == nil {
		s.GeneratedSections = map[string]string{}
	}
	if s.FormData == nil {
		s.FormData = map[string]string{}
	}
	return &s, nil
}

// UpdateSection stores one section's text and restarts the session TTL.
func (m *Manager) UpdateSection(ctx context.Context, id, name, text string) (*Session, error) {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.GeneratedSections[name] = text
	s.UpdatedAt = time.Now().UTC()

	if err := m.write(ctx, s); err != nil {
		return nil, err
	}

	logger.Debug("Session section updated", zap.String("session_id", id), zap.String("section", name))
	return s, nil
}

// PatchFormData merges form fields and, when description is non-nil,
// replaces the project description. The session TTL is left running.
func (m *Manager) PatchFormData(ctx context.Context, id string, formData map[string]string, description *string) (*Session, error) {
	unlock := m.lock(id)
	defer unlock()

	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	for k, v := range formData {
		s.FormData[k] = v
	}
	if description != nil {
		s.ProjectDescription = *description
	}
	s.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.Set(ctx, keyPrefix+id, data); err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to write session: %w", err)
	}
	return s, nil
}

// SyncToDocument merges one section into the document's durable map with an
// optimistic version check, retrying when another writer won the race.
// isComplete decides the document status and may be nil.
func (m *Manager) SyncToDocument(ctx context.Context, docID, name, text string, isComplete func(map[string]string) bool) (map[string]string, error) {
	var merged map[string]string

	err := retry.Do(ctx, m.syncRetry, func(ctx context.Context) error {
		sections, version, err := m.documents.GetSections(ctx, docID)
		if err != nil {
			return retry.Permanent(err)
		}
		if sections == nil {
			sections = map[string]string{}
		}
		sections[name] = text

		status := models.DocumentDraft
		if isComplete != nil && isComplete(sections) {
			status = models.DocumentComplete
		}

		err = m.documents.SetSections(ctx, docID, sections, version, status)
		if errors.Is(err, models.ErrVersionConflict) {
			metrics.DocumentSyncConflicts.Inc()
			return err
		}
		if err != nil {
			return retry.Permanent(err)
		}
		merged = sections
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync section %q to document %s: %w", name, docID, err)
	}

	logger.Debug("Section synced to document",
		zap.String("doc_id", docID),
		zap.String("section", name),
		zap.Int("sections", len(merged)),
	)
	return merged, nil
}

func (m *Manager) write(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := m.store.SetEx(ctx, keyPrefix+s.ID, m.ttl, data); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

// lock serialises writers of one session inside this process.
func (m *Manager) lock(id string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.locksMu.Unlock()
	}
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
