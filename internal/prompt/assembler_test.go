package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/enrich"
	"pr-review-automation/internal/ticket"
)

func TestAssemble_DiffSectionAlwaysPresent(t *testing.T) {
	diff := domain.DiffDocument{Raw: "--- a/f.go\n+++ b/f.go\n@@ -1,1 +1,1 @@\n-old\n+new\n"}
	res := Assemble(diff, nil, ticket.Context{}, nil, nil, nil, DefaultConfig())
	require.Contains(t, res.User, "[SECTION:DIFF]")
}

func TestAssemble_SectionOrderHighestPriorityFirst(t *testing.T) {
	diff := domain.DiffDocument{Raw: "diff text"}
	matches := []domain.ContextMatch{{Path: "a.go", Reason: domain.ReasonSamePackage, Confidence: 0.8}}
	tk := ticket.Context{Key: "PROJ-1", Title: "t", Description: "d"}
	files := []enrich.ExpandedFile{{Path: "b.go", Content: "package b"}}
	policies := []enrich.PolicyDocument{{Name: "contributing", Path: "CONTRIBUTING.md", Content: "guide"}}
	res := Assemble(diff, matches, tk, files, policies, nil, DefaultConfig())

	order := []string{"[SECTION:DIFF]", "[SECTION:CONTEXT]", "[SECTION:TICKET]", "[SECTION:FILES]", "[SECTION:POLICIES]"}
	last := -1
	for _, marker := range order {
		idx := strings.Index(res.User, marker)
		require.NotEqual(t, -1, idx, "expected section %s present", marker)
		require.GreaterOrEqual(t, idx, last, "section %s appeared out of priority order", marker)
		last = idx
	}
}

func TestAssemble_DropsLowerPrioritySectionsWhenOverBudget(t *testing.T) {
	diff := domain.DiffDocument{Raw: strings.Repeat("x", 100)}
	policies := []enrich.PolicyDocument{{Name: "security_policy", Path: "SECURITY.md", Content: strings.Repeat("y", 1000)}}
	cfg := Config{MaxChars: 150, TopK: 20}
	res := Assemble(diff, nil, ticket.Context{}, nil, policies, nil, cfg)
	require.NotContains(t, res.User, "[SECTION:POLICIES]", "expected POLICIES section dropped under tight budget")
	require.Contains(t, res.User, "[SECTION:DIFF]", "expected DIFF section retained even under tight budget")
}

func TestAssemble_TopKLimitsContextMatches(t *testing.T) {
	diff := domain.DiffDocument{Raw: "d"}
	matches := []domain.ContextMatch{
		{Path: "a.go", Confidence: 0.9},
		{Path: "b.go", Confidence: 0.8},
		{Path: "c.go", Confidence: 0.7},
	}
	cfg := Config{MaxChars: 0, TopK: 2}
	res := Assemble(diff, matches, ticket.Context{}, nil, nil, nil, cfg)
	require.NotContains(t, res.User, "c.go", "expected only top 2 matches included")
	require.Contains(t, res.User, "a.go")
	require.Contains(t, res.User, "b.go")
}

func TestAssemble_RuleGuidanceInjectedIntoSystemPrompt(t *testing.T) {
	diff := domain.DiffDocument{Raw: "d"}
	res := Assemble(diff, nil, ticket.Context{}, nil, nil, []string{"sql"}, DefaultConfig())
	require.Contains(t, res.System, "injection", "expected SQL rule guidance injected into system prompt")
}

func TestDetectRules_FlagsGoFile(t *testing.T) {
	diff := domain.DiffDocument{Files: []domain.FileModification{{OldPath: "f.go", NewPath: "f.go"}}}
	rules := DetectRules(diff)
	require.Contains(t, rules, "go", "expected go rule detected")
}

func TestDetectRules_FlagsSQLContentInAddedLines(t *testing.T) {
	diff := domain.DiffDocument{Files: []domain.FileModification{{
		OldPath: "f.txt", NewPath: "f.txt",
		Hunks: []domain.DiffHunk{{Lines: []domain.DiffLine{
			{Marker: domain.MarkerAdded, Text: "SELECT * FROM users"},
		}}},
	}}}
	rules := DetectRules(diff)
	require.Contains(t, rules, "sql", "expected sql rule detected from content")
}
