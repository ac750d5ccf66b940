package llmreview

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/types"
)

// issuePayload is the wire shape of one finding inside the model's JSON
// response, validated against findingsSchema before being mapped onto
// domain.Issue.
type issuePayload struct {
	File            string   `json:"file" jsonschema:"required"`
	StartLine       int      `json:"start_line" jsonschema:"required"`
	Severity        string   `json:"severity" jsonschema:"required,enum=critical,enum=major,enum=minor,enum=info"`
	Title           string   `json:"title" jsonschema:"required"`
	Suggestion      string   `json:"suggestion,omitempty"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty"`
}

// findingsPayload is the top-level Findings document the adapter expects
// the model to emit once streaming completes.
type findingsPayload struct {
	Issues      []issuePayload `json:"issues"`
	TestSummary string         `json:"test_summary,omitempty"`
}

var findingsResolved *jsonschema.Resolved

func init() {
	s, err := jsonschema.For[findingsPayload](nil)
	if err != nil {
		panic(fmt.Sprintf("llmreview: build findings schema: %v", err))
	}
	r, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("llmreview: resolve findings schema: %v", err))
	}
	findingsResolved = r
}

// parseFindings cleans markdown fences from raw, validates it against the
// Findings JSON schema, and unmarshals it. Both validation and unmarshal
// failures are reported as types.CodeLLMSchemaInvalid.
func parseFindings(raw string) (findingsPayload, error) {
	clean := types.CleanJSONFromMarkdown(raw)

	var generic any
	if err := json.Unmarshal([]byte(clean), &generic); err != nil {
		return findingsPayload{}, types.SchemaError("findings response is not valid JSON", err)
	}
	if err := findingsResolved.Validate(generic); err != nil {
		return findingsPayload{}, types.SchemaError("findings response failed schema validation", err)
	}

	var payload findingsPayload
	if err := json.Unmarshal([]byte(clean), &payload); err != nil {
		return findingsPayload{}, types.SchemaError("findings response could not be decoded", err)
	}
	return payload, nil
}

// ToIssues maps the validated wire payload onto domain.Issue values for the
// Finding Aggregator (C8). Unrecognized severities pass through as-is;
// the aggregator's severity histogram buckets them as unknown.
func (p findingsPayload) ToIssues() []domain.Issue {
	issues := make([]domain.Issue, 0, len(p.Issues))
	for _, ip := range p.Issues {
		issues = append(issues, domain.Issue{
			File:            ip.File,
			StartLine:       ip.StartLine,
			Severity:        domain.Severity(ip.Severity),
			Title:           ip.Title,
			Suggestion:      ip.Suggestion,
			ConfidenceScore: ip.ConfidenceScore,
		})
	}
	return issues
}

// TestSummaryLine returns the one-line test outcome the aggregator folds
// into its composed summary, or "" if the model reported none.
func (p findingsPayload) TestSummaryLine() string { return p.TestSummary }
