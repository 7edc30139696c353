package models

import (
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("document version conflict")
)

type DocumentStatus string

const (
	DocumentDraft    DocumentStatus = "draft"
	DocumentComplete DocumentStatus = "complete"
)

type Document struct {
	ID                string
	OwnerID           string
	TemplateRef       string
	FormData          map[string]string
	GeneratedSections map[string]string
	Status            DocumentStatus
	// Version increases on every write to GeneratedSections.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ReferenceStatus string

const (
	ReferenceProcessing ReferenceStatus = "processing"
	ReferenceReady      ReferenceStatus = "ready"
	ReferenceError      ReferenceStatus = "error"
)

type Reference struct {
	ID         string
	ScopeID    string
	Title      string
	SourceType string
	Status     ReferenceStatus
	Error      string
	ChunkCount int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Chunk struct {
	ID          string
	ReferenceID string
	ScopeID     string
	ChunkIndex  int
	Text        string
	Embedding   []float32
	CreatedAt   time.Time
}

type ScoredChunk struct {
	Chunk
	Score        float64
	VectorScore  float64
	LexicalScore float64
}

type RetrievalLog struct {
	ID               string
	ScopeID          string
	Query            string
	RetrievedContext string
	ChunkIDs         []string
	Answer           string
	CreatedAt        time.Time
	AnsweredAt       *time.Time
}

type EvaluationResult struct {
	ID                int
	LogID             string
	ContextSimilarity float64
	LexicalOverlap    float64
	Classification    string
	CreatedAt         time.Time
}
