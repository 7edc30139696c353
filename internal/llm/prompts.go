package llm

import (
	"fmt"
	"sort"
	"strings"
)

type Role string

const (
	RoleGenerator   Role = "generator"
	RoleEvaluator   Role = "evaluator"
	RoleRegenerator Role = "regenerator"
)

func (r Role) temperature() float32 {
	if r == RoleEvaluator {
		return 0.1
	}
	return 0.4
}

// NoGrounding is handed to writers when retrieval found nothing for the scope.
const NoGrounding = "No grounding available."

// Inputs is the section contract plus document context for one agent call.
type Inputs struct {
	SectionName        string
	FormatType         string
	Instructions       string
	Limit              string
	Columns            []string
	Rows               []string
	FormData           map[string]string
	ProjectDescription string
	Context            string
	// Draft is the text under review (evaluator) or being rewritten (regenerator).
	Draft        string
	ConciseInput string
}

const payloadContract = `Respond with exactly one JSON object and nothing else:
{"generated_content": <content>, "evaluation_status": "", "feedback": ""}`

const generatorSystem = `You are a senior proposal writer. You draft one section of a structured document at a time.
Write only what the section instructions ask for, in the voice of the applicant organisation.
Stay within the stated length limit. Use the reference context when it is relevant and never invent figures that are not supported by the form data or the context.
` + payloadContract

const regeneratorSystem = `You are a senior proposal editor. You rewrite one section of a structured document.
Apply the requested changes to the previous draft while keeping everything that was already correct.
Stay within the stated length limit and never invent figures that are not supported by the form data or the context.
` + payloadContract

const evaluatorSystem = `You are a strict reviewer of proposal sections.
Check the draft against the section instructions, the length limit and the form data.
Return the draft unchanged in "generated_content".
Set "evaluation_status" to "approved" when the draft is acceptable, or "flagged" when it must be rewritten.
When flagged, "feedback" must state concisely what to change. When approved, "feedback" may be empty.
Respond with exactly one JSON object and nothing else.`

func buildPrompt(role Role, in Inputs) (string, string, error) {
	switch role {
	case RoleGenerator:
		return generatorSystem, writerPrompt(in, false), nil
	case RoleRegenerator:
		return regeneratorSystem, writerPrompt(in, true), nil
	case RoleEvaluator:
		return evaluatorSystem, evaluatorPrompt(in), nil
	default:
		return "", "", fmt.Errorf("unknown agent role %q", role)
	}
}

func writerPrompt(in Inputs, rewrite bool) string {
	var b strings.Builder

	writeContract(&b, in)

	b.WriteString("\nReference context:\n")
	if strings.TrimSpace(in.Context) == "" {
		b.WriteString(NoGrounding)
	} else {
		b.WriteString(in.Context)
	}
	b.WriteString("\n")

	if rewrite {
		fmt.Fprintf(&b, "\nPrevious draft:\n%s\n", in.Draft)
		fmt.Fprintf(&b, "\nRequested changes:\n%s\n", in.ConciseInput)
	}

	b.WriteString("\n")
	b.WriteString(contentShape(in))
	return b.String()
}

func evaluatorPrompt(in Inputs) string {
	var b strings.Builder
	writeContract(&b, in)
	fmt.Fprintf(&b, "\nDraft to review:\n%s\n", in.Draft)
	b.WriteString("\n")
	b.WriteString(contentShape(in))
	return b.String()
}

func writeContract(b *strings.Builder, in Inputs) {
	fmt.Fprintf(b, "Section: %s\n", in.SectionName)
	fmt.Fprintf(b, "Format: %s\n", in.FormatType)
	fmt.Fprintf(b, "Length limit: %s\n", in.Limit)
	fmt.Fprintf(b, "Instructions: %s\n", in.Instructions)

	b.WriteString("\nProject description:\n")
	b.WriteString(in.ProjectDescription)
	b.WriteString("\n")

	if len(in.FormData) > 0 {
		b.WriteString("\nForm data:\n")
		keys := make([]string, 0, len(in.FormData))
		for k := range in.FormData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(b, "- %s: %s\n", k, in.FormData[k])
		}
	}
}

func contentShape(in Inputs) string {
	switch in.FormatType {
	case "table":
		var b strings.Builder
		fmt.Fprintf(&b, `"generated_content" must be an object of the form {%q: {"table": [<row object>, ...], "notes": "<optional notes>"}}.`, in.SectionName)
		if len(in.Columns) > 0 {
			fmt.Fprintf(&b, "\nEvery row object uses these keys in this order: %s.", strings.Join(in.Columns, ", "))
		}
		if len(in.Rows) > 0 {
			fmt.Fprintf(&b, "\nInclude one row for each of: %s.", strings.Join(in.Rows, ", "))
		}
		return b.String()
	case "number":
		return `"generated_content" must be a string holding a single number without units or separators.`
	default:
		return `"generated_content" must be a string of plain prose.`
	}
}
