package agent

import (
	"errors"
	"strings"

	"github.com/draftwise/backend/internal/parser"
)

type OutcomeKind int

const (
	// OutcomeParsed means the agent answered with a well-formed payload.
	OutcomeParsed OutcomeKind = iota
	// OutcomeMalformed means the agent answered but no payload could be parsed.
	OutcomeMalformed
	// OutcomeFailed means the call itself failed: timeout, open breaker, upstream error.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeParsed:
		return "parsed"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is one agent exchange.
type Outcome struct {
	Kind     OutcomeKind
	Content  string
	Status   string
	Feedback string
	Raw      string
	Err      error
}

func parseOutcome(raw string) Outcome {
	p, err := parser.ParsePayload(raw)
	if err != nil {
		return Outcome{Kind: OutcomeMalformed, Raw: raw, Err: err}
	}
	return Outcome{
		Kind:     OutcomeParsed,
		Content:  p.Content,
		Status:   p.Status,
		Feedback: p.Feedback,
		Raw:      raw,
	}
}

func failedOutcome(err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Err: err}
}

// Usable reports whether the outcome carries content that can be shown.
func (o Outcome) Usable() bool {
	return o.Kind == OutcomeParsed && strings.TrimSpace(o.Content) != ""
}

// Flagged is the only transition trigger: status "flagged" in any case with
// non-empty feedback.
func (o Outcome) Flagged() bool {
	return o.Kind == OutcomeParsed &&
		strings.EqualFold(strings.TrimSpace(o.Status), "flagged") &&
		strings.TrimSpace(o.Feedback) != ""
}

var errEmptyContent = errors.New("agent returned empty generated_content")
