// Package agent sequences the generator, evaluator and regenerator roles for
// a single section.
package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/draftwise/backend/internal/llm"
	"github.com/draftwise/backend/internal/metrics"
	"github.com/draftwise/backend/pkg/logger"
	"github.com/draftwise/backend/pkg/utils"
)

// FallbackMessage replaces content the pipeline could not produce. It is
// never empty so an author always sees that the section needs attention.
const FallbackMessage = "This section could not be generated automatically. Please edit it manually or try regenerating it."

const maxLoggedRaw = 2000

type Invoker interface {
	Invoke(ctx context.Context, role llm.Role, in llm.Inputs) (string, error)
}

type State int

const (
	StateDrafted State = iota
	StateRegenerated
)

func (s State) String() string {
	if s == StateRegenerated {
		return "regenerated"
	}
	return "drafted"
}

type Result struct {
	Text     string
	State    State
	Fallback bool
	// Verdict is the last evaluator outcome that ran.
	Verdict Outcome
	// Regenerations counts regenerator passes, at most one.
	Regenerations int
}

type Pipeline struct {
	invoker Invoker
}

func NewPipeline(invoker Invoker) *Pipeline {
	return &Pipeline{invoker: invoker}
}

// Generate drafts a section, evaluates it and, if the evaluator flags the
// draft with feedback, runs exactly one regeneration pass seeded with that
// feedback. The second verdict is recorded but never acted on.
func (p *Pipeline) Generate(ctx context.Context, in llm.Inputs) Result {
	start := time.Now()
	log := logger.GetLogger().With(zap.String("section", in.SectionName))

	draft := p.call(ctx, llm.RoleGenerator, in)
	if !draft.Usable() {
		logOutcome(log, llm.RoleGenerator, draft)
		return fallback()
	}

	verdict := p.evaluate(ctx, in, draft.Content)
	if verdict.Kind != OutcomeParsed {
		logOutcome(log, llm.RoleEvaluator, verdict)
		return fallback()
	}

	result := Result{
		Text:    reviewedText(verdict, draft),
		State:   StateDrafted,
		Verdict: verdict,
	}

	if !verdict.Flagged() {
		log.Info("Section drafted",
			zap.String("status", verdict.Status),
			zap.Duration("duration", time.Since(start)),
		)
		return result
	}

	metrics.Regenerations.WithLabelValues("evaluator").Inc()
	log.Info("Section flagged, regenerating once", zap.String("feedback", verdict.Feedback))

	regen := in
	regen.Draft = result.Text
	regen.ConciseInput = verdict.Feedback

	next, ok := p.rewrite(ctx, log, regen)
	result.Regenerations = 1
	if !ok {
		log.Warn("Regeneration failed, keeping drafted content")
		return result
	}

	result.Text = next.Text
	result.State = StateRegenerated
	result.Verdict = next.Verdict

	log.Info("Section regenerated",
		zap.String("status", next.Verdict.Status),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

// Regenerate is the user-initiated pass: the caller supplies the previous
// text in in.Draft and free-text guidance in in.ConciseInput. Its verdict is
// never acted on.
func (p *Pipeline) Regenerate(ctx context.Context, in llm.Inputs) Result {
	log := logger.GetLogger().With(zap.String("section", in.SectionName))
	metrics.Regenerations.WithLabelValues("user").Inc()

	next, ok := p.rewrite(ctx, log, in)
	if !ok {
		return fallback()
	}
	next.Regenerations = 1
	return next
}

// rewrite runs regenerator then evaluator. A regenerator that produces
// nothing usable fails the pass; an evaluator failure afterwards keeps the
// regenerated text.
func (p *Pipeline) rewrite(ctx context.Context, log *zap.Logger, in llm.Inputs) (Result, bool) {
	rewritten := p.call(ctx, llm.RoleRegenerator, in)
	if !rewritten.Usable() {
		logOutcome(log, llm.RoleRegenerator, rewritten)
		return Result{}, false
	}

	verdict := p.evaluate(ctx, in, rewritten.Content)
	if verdict.Kind != OutcomeParsed {
		logOutcome(log, llm.RoleEvaluator, verdict)
		return Result{Text: rewritten.Content, State: StateRegenerated, Verdict: verdict}, true
	}

	return Result{
		Text:    reviewedText(verdict, rewritten),
		State:   StateRegenerated,
		Verdict: verdict,
	}, true
}

func (p *Pipeline) evaluate(ctx context.Context, in llm.Inputs, draft string) Outcome {
	review := in
	review.Draft = draft
	review.ConciseInput = ""
	return p.call(ctx, llm.RoleEvaluator, review)
}

func (p *Pipeline) call(ctx context.Context, role llm.Role, in llm.Inputs) Outcome {
	raw, err := p.invoker.Invoke(ctx, role, in)
	if err != nil {
		return failedOutcome(err)
	}
	out := parseOutcome(raw)
	if out.Kind == OutcomeParsed && out.Content == "" && role != llm.RoleEvaluator {
		out.Err = errEmptyContent
	}
	return out
}

// reviewedText prefers the evaluator's echo of the content and falls back to
// the writer's text when the evaluator left it empty.
func reviewedText(verdict, written Outcome) string {
	if verdict.Usable() {
		return verdict.Content
	}
	return written.Content
}

func fallback() Result {
	return Result{Text: FallbackMessage, Fallback: true}
}

func logOutcome(log *zap.Logger, role llm.Role, out Outcome) {
	log.Warn("Agent produced no usable content",
		zap.String("role", string(role)),
		zap.String("kind", out.Kind.String()),
		zap.String("raw", utils.Truncate(out.Raw, maxLoggedRaw)),
		zap.Error(out.Err),
	)
}
