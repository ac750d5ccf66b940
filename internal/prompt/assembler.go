// Package prompt implements the Prompt Assembler (C6): budgeted system/user
// prompt construction from the diff, context matches, ticket context,
// expanded files, and repository policies.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/enrich"
	"pr-review-automation/internal/ticket"
)

// Config bounds total prompt size.
type Config struct {
	MaxChars int // 0 means unbounded
	TopK     int // context matches considered, highest confidence first
}

// DefaultConfig mirrors spec §6's documented defaults.
func DefaultConfig() Config {
	return Config{MaxChars: 60000, TopK: 20}
}

const systemPreamble = "You are an automated code reviewer. Identify concrete, actionable issues in the diff below. Respond as JSON matching the provided schema."

// section is one candidate block, already rendered with its
// [SECTION:NAME]...[/SECTION:NAME] markers, in priority order highest-first.
type section struct {
	name string
	body string
}

// Assemble builds the system and user prompt strings per spec §4.5:
// diff, then top-K context matches, then ticket context, then expanded
// files, then policies, each framed by literal [SECTION:NAME]...[/SECTION:NAME]
// markers. The DIFF section is always kept; each later section is kept
// only if it still fits in cfg.MaxChars, otherwise it is dropped whole.
// A DIFF section that alone exceeds the budget is kept untruncated, so
// TotalChars can then exceed cfg.MaxChars.
func Assemble(diff domain.DiffDocument, matches []domain.ContextMatch, ticketCtx ticket.Context, expanded []enrich.ExpandedFile, policies []enrich.PolicyDocument, rules []string, cfg Config) domain.PromptResult {
	sections := []section{
		{name: "DIFF", body: frame("DIFF", diff.Raw)},
	}
	if ctxBody := renderContextMatches(matches, topK(cfg.TopK)); ctxBody != "" {
		sections = append(sections, section{name: "CONTEXT", body: frame("CONTEXT", ctxBody)})
	}
	if ticketBody := renderTicket(ticketCtx); ticketBody != "" {
		sections = append(sections, section{name: "TICKET", body: frame("TICKET", ticketBody)})
	}
	if filesBody := renderExpandedFiles(expanded); filesBody != "" {
		sections = append(sections, section{name: "FILES", body: frame("FILES", filesBody)})
	}
	if policyBody := renderPolicies(policies); policyBody != "" {
		sections = append(sections, section{name: "POLICIES", body: frame("POLICIES", policyBody)})
	}

	system := systemPreamble
	if guidance := RuleGuidance(rules); guidance != "" {
		system = system + "\n\n" + guidance
	}

	user := fitWithinBudget(sections, cfg.MaxChars-len(system))

	total := len(system) + len(user)
	return domain.PromptResult{System: system, User: user, TotalChars: total}
}

func topK(k int) int {
	if k <= 0 {
		return 20
	}
	return k
}

// fitWithinBudget walks sections in priority order, always keeping the
// first and keeping each later one whole (never truncating mid-section)
// only if it and its separator still fit budget; a section that does not
// fit is skipped and later, smaller ones are still tried. budget<=0 means
// unbounded.
func fitWithinBudget(sections []section, budget int) string {
	if budget <= 0 {
		return joinSections(sections)
	}
	kept := make([]section, 0, len(sections))
	total := 0
	for _, s := range sections {
		need := len(s.body)
		if len(kept) > 0 {
			need += len("\n\n") // separator written by joinSections
		}
		if total+need > budget && len(kept) > 0 {
			continue
		}
		kept = append(kept, s)
		total += need
	}
	return joinSections(kept)
}

func joinSections(sections []section) string {
	var sb strings.Builder
	for i, s := range sections {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(s.body)
	}
	return sb.String()
}

func frame(name, body string) string {
	return fmt.Sprintf("[SECTION:%s]\n%s\n[/SECTION:%s]", name, body, name)
}

func renderContextMatches(matches []domain.ContextMatch, k int) string {
	if len(matches) == 0 {
		return ""
	}
	sorted := make([]domain.ContextMatch, len(matches))
	copy(sorted, matches)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	if k < len(sorted) {
		sorted = sorted[:k]
	}
	var sb strings.Builder
	for _, m := range sorted {
		fmt.Fprintf(&sb, "- %s (%s, confidence %.2f): %s\n", m.Path, m.Reason, m.Confidence, m.Evidence)
	}
	return sb.String()
}

func renderTicket(t ticket.Context) string {
	if t.Key == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s\n%s", t.Key, t.Title, t.Description)
}

func renderExpandedFiles(files []enrich.ExpandedFile) string {
	if len(files) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, f := range files {
		fmt.Fprintf(&sb, "--- %s ---\n%s\n", f.Path, f.Content)
	}
	return sb.String()
}

func renderPolicies(policies []enrich.PolicyDocument) string {
	if len(policies) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range policies {
		fmt.Fprintf(&sb, "--- %s (%s) ---\n%s\n", p.Name, p.Path, p.Content)
	}
	return sb.String()
}

// DetectRules runs the default RuleDetector over diff.
func DetectRules(diff domain.DiffDocument) []string {
	return NewRuleDetector().Detect(diff)
}
