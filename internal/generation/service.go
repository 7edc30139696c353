// Package generation is the entry point the HTTP layer calls: it resolves the
// section contract, grounds and runs the agent pipeline, normalises the
// result and persists it to the session and the document.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/agent"
	"github.com/draftwise/backend/internal/llm"
	"github.com/draftwise/backend/internal/metrics"
	"github.com/draftwise/backend/internal/parser"
	"github.com/draftwise/backend/internal/retrieval"
	"github.com/draftwise/backend/internal/search/hybrid"
	"github.com/draftwise/backend/internal/session"
	"github.com/draftwise/backend/internal/storage/models"
	"github.com/draftwise/backend/internal/template"
	"github.com/draftwise/backend/pkg/logger"
)

const (
	MessageGenerated   = "Section generated successfully"
	MessageRevised     = "Section generated and revised after review"
	MessageRegenerated = "Section regenerated successfully"
	MessageFixed       = "Fixed section text applied"
	MessageFallback    = "Section could not be generated; placeholder text returned"
)

var ErrDocumentRequired = errors.New("document id is required")

type Templates interface {
	Load(name string) (*template.Template, error)
}

type Drafter interface {
	Generate(ctx context.Context, in llm.Inputs) agent.Result
	Regenerate(ctx context.Context, in llm.Inputs) agent.Result
}

type Sessions interface {
	Create(ctx context.Context, in session.CreateInput) (*session.Session, error)
	Get(ctx context.Context, id string) (*session.Session, error)
	UpdateSection(ctx context.Context, id, name, text string) (*session.Session, error)
	PatchFormData(ctx context.Context, id string, formData map[string]string, description *string) (*session.Session, error)
	SyncToDocument(ctx context.Context, docID, name, text string, isComplete func(map[string]string) bool) (map[string]string, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query, scopeID string) (*retrieval.Result, error)
	RecordAnswer(ctx context.Context, logID, answer string) error
}

type Documents interface {
	EnsureDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
}

type SectionResult struct {
	Message       string `json:"message"`
	GeneratedText string `json:"generated_text"`
	Section       string `json:"section"`
	State         string `json:"state"`
	Fallback      bool   `json:"fallback"`
	DocumentID    string `json:"document_id,omitempty"`
	Synced        bool   `json:"synced"`
}

type BaseData struct {
	FormData           map[string]string
	ProjectDescription string
	TemplateRef        string
	OwnerID            string
	DocumentID         string
	ScopeID            string
}

type Completeness struct {
	DocumentID string                `json:"document_id"`
	Template   string                `json:"template"`
	Complete   bool                  `json:"complete"`
	Missing    []string              `json:"missing"`
	Status     models.DocumentStatus `json:"status"`
}

type Service struct {
	templates Templates
	sessions  Sessions
	drafter   Drafter
	retriever Retriever
	documents Documents
}

// NewService wires the generation flow. retriever may be nil, which disables
// grounding.
func NewService(templates Templates, sessions Sessions, drafter Drafter, retriever Retriever, documents Documents) *Service {
	return &Service{
		templates: templates,
		sessions:  sessions,
		drafter:   drafter,
		retriever: retriever,
		documents: documents,
	}
}

// StoreBaseData validates the template, opens a session and, when a document
// id is given, makes sure the durable row exists.
func (s *Service) StoreBaseData(ctx context.Context, in BaseData) (*session.Session, error) {
	if _, err := s.templates.Load(in.TemplateRef); err != nil {
		return nil, err
	}

	sess, err := s.sessions.Create(ctx, session.CreateInput{
		FormData:           in.FormData,
		ProjectDescription: in.ProjectDescription,
		TemplateRef:        in.TemplateRef,
		OwnerID:            in.OwnerID,
		DocumentID:         in.DocumentID,
		ScopeID:            in.ScopeID,
	})
	if err != nil {
		return nil, err
	}

	if in.DocumentID != "" {
		err := s.documents.EnsureDocument(ctx, &models.Document{
			ID:          in.DocumentID,
			OwnerID:     in.OwnerID,
			TemplateRef: in.TemplateRef,
			FormData:    in.FormData,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create document: %w", err)
		}
	}

	return sess, nil
}

func (s *Service) GetBaseData(ctx context.Context, sessionID string) (*session.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *Service) PatchBaseData(ctx context.Context, sessionID string, formData map[string]string, description *string) (*session.Session, error) {
	return s.sessions.PatchFormData(ctx, sessionID, formData, description)
}

// GenerateSection never returns an empty GeneratedText: it is the section
// text, the template's fixed text, or the fallback message. Only
// configuration problems and unknown sessions are returned as errors.
func (s *Service) GenerateSection(ctx context.Context, sessionID, sectionName, proposalID string) (*SectionResult, error) {
	return s.run(ctx, "generate", sessionID, sectionName, proposalID, func(in llm.Inputs, _ *session.Session) agent.Result {
		return s.drafter.Generate(ctx, in)
	})
}

// RegenerateSection rewrites the section's current text following the
// author's conciseInput.
func (s *Service) RegenerateSection(ctx context.Context, sessionID, sectionName, conciseInput, proposalID string) (*SectionResult, error) {
	return s.run(ctx, "regenerate", sessionID, sectionName, proposalID, func(in llm.Inputs, sess *session.Session) agent.Result {
		in.Draft = sess.GeneratedSections[sectionName]
		in.ConciseInput = conciseInput
		return s.drafter.Regenerate(ctx, in)
	})
}

func (s *Service) run(ctx context.Context, mode, sessionID, sectionName, proposalID string, draft func(llm.Inputs, *session.Session) agent.Result) (*SectionResult, error) {
	start := time.Now()
	log := logger.GetLogger().With(
		zap.String("session_id", sessionID),
		zap.String("section", sectionName),
		zap.String("mode", mode),
	)

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	tpl, err := s.templates.Load(sess.TemplateRef)
	var sec template.Section
	if err == nil {
		sec, err = tpl.Section(sectionName)
	}
	if err != nil {
		if template.IsConfigError(err) {
			metrics.SectionTotal.WithLabelValues(mode, "config_error").Inc()
		}
		return nil, err
	}

	docID := proposalID
	if docID == "" {
		docID = sess.DocumentID
	}

	result := &SectionResult{Section: sectionName, DocumentID: docID}

	if sec.FormatType == template.FormatFixedText {
		result.GeneratedText = sec.Text()
		result.Message = MessageFixed
		result.State = agent.StateDrafted.String()
	} else {
		in := inputsFor(sec, sess)
		logID := s.ground(ctx, log, &in, sess, proposalID)

		out := draft(in, sess)
		result.State = out.State.String()
		result.GeneratedText, result.Fallback = finalText(log, sec, out)
		result.Message = messageFor(mode, out, result.Fallback)

		if s.retriever != nil && logID != "" {
			if err := s.retriever.RecordAnswer(ctx, logID, result.GeneratedText); err != nil {
				log.Warn("Failed to back-fill retrieval log", zap.String("log_id", logID), zap.Error(err))
			}
		}
	}

	if _, err := s.sessions.UpdateSection(ctx, sessionID, sectionName, result.GeneratedText); err != nil {
		log.Error("Failed to update session", zap.Error(err))
	}

	if docID != "" {
		err := s.ensureDocument(ctx, docID, sess)
		if err == nil {
			_, err = s.sessions.SyncToDocument(ctx, docID, sectionName, result.GeneratedText, tpl.IsComplete)
		}
		if err != nil {
			log.Error("Failed to sync section to document", zap.String("doc_id", docID), zap.Error(err))
		} else {
			result.Synced = true
		}
	}

	outcome := "ok"
	if result.Fallback {
		outcome = "fallback"
	}
	metrics.SectionTotal.WithLabelValues(mode, outcome).Inc()
	metrics.SectionDuration.WithLabelValues(string(sec.FormatType), mode).Observe(time.Since(start).Seconds())

	log.Info("Section processed",
		zap.String("state", result.State),
		zap.Bool("fallback", result.Fallback),
		zap.Bool("synced", result.Synced),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// ground fills in.Context from the retrieval tool and returns the log id to
// back-fill. Any retrieval failure means no grounding, never a failed request.
func (s *Service) ground(ctx context.Context, log *zap.Logger, in *llm.Inputs, sess *session.Session, proposalID string) string {
	if s.retriever == nil {
		return ""
	}
	scope := sess.ScopeID
	if scope == "" {
		scope = proposalID
	}
	if scope == "" {
		return ""
	}

	query := groundingQuery(sess)
	if query == "" {
		query = in.SectionName
	}
	res, err := s.retriever.Retrieve(ctx, query, scope)
	if err != nil {
		log.Warn("Retrieval failed, continuing without grounding", zap.String("scope_id", scope), zap.Error(err))
		return ""
	}
	in.Context = res.Context
	return res.LogID
}

// ensureDocument creates the row for a proposal id that was first seen on a
// generate call rather than in the base data.
func (s *Service) ensureDocument(ctx context.Context, docID string, sess *session.Session) error {
	_, err := s.documents.GetDocument(ctx, docID)
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	err = s.documents.EnsureDocument(ctx, &models.Document{
		ID:          docID,
		OwnerID:     sess.OwnerID,
		TemplateRef: sess.TemplateRef,
		FormData:    sess.FormData,
	})
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func inputsFor(sec template.Section, sess *session.Session) llm.Inputs {
	return llm.Inputs{
		SectionName:        sec.Name,
		FormatType:         string(sec.FormatType),
		Instructions:       sec.Instructions,
		Limit:              sec.Limit.String(),
		Columns:            sec.Columns,
		Rows:               sec.Rows,
		FormData:           sess.FormData,
		ProjectDescription: sess.ProjectDescription,
	}
}

// finalText applies the format rules to successful content only. The
// fallback message is never run through them.
func finalText(log *zap.Logger, sec template.Section, out agent.Result) (string, bool) {
	if out.Fallback {
		return agent.FallbackMessage, true
	}
	text, err := parser.Normalize(sec, out.Text)
	if err != nil {
		log.Warn("Failed to normalise section text", zap.Error(err))
		return agent.FallbackMessage, true
	}
	if strings.TrimSpace(text) == "" {
		return agent.FallbackMessage, true
	}
	return text, false
}

func messageFor(mode string, out agent.Result, fallback bool) string {
	switch {
	case fallback:
		return MessageFallback
	case mode == "regenerate":
		return MessageRegenerated
	case out.State == agent.StateRegenerated:
		return MessageRevised
	default:
		return MessageGenerated
	}
}

// DocumentCompleteness reports whether the document has exactly the
// template's sections.
func (s *Service) DocumentCompleteness(ctx context.Context, docID string) (*Completeness, error) {
	if docID == "" {
		return nil, ErrDocumentRequired
	}
	doc, err := s.documents.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.Load(doc.TemplateRef)
	if err != nil {
		return nil, err
	}

	missing := tpl.Missing(doc.GeneratedSections)
	if missing == nil {
		missing = []string{}
	}
	return &Completeness{
		DocumentID: docID,
		Template:   doc.TemplateRef,
		Complete:   tpl.IsComplete(doc.GeneratedSections),
		Missing:    missing,
		Status:     doc.Status,
	}, nil
}

// Lexical rank is a boolean AND over query terms, so the grounding query is
// kept to a few project keywords.
const maxGroundingTerms = 4

var titleKeys = []string{"title", "project_title", "project_name"}

// groundingQuery takes its terms from the project title, then the project
// description. Section names and instructions describe the form rather than
// the project and are left out.
func groundingQuery(sess *session.Session) string {
	var sources []string
	for _, key := range titleKeys {
		if v := strings.TrimSpace(sess.FormData[key]); v != "" {
			sources = append(sources, v)
			break
		}
	}
	sources = append(sources, sess.ProjectDescription)

	terms := hybrid.Terms(strings.Join(sources, " "))
	if len(terms) > maxGroundingTerms {
		terms = terms[:maxGroundingTerms]
	}
	return strings.Join(terms, " ")
}
