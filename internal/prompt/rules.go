package prompt

import (
	"path/filepath"
	"regexp"
	"strings"

	"pr-review-automation/internal/domain"
)

// RuleDetector flags domain-specific review rules to inject into the
// system prompt, based on extension, filename, and content heuristics.
type RuleDetector struct {
	extRules      map[string]string
	filenameRules map[string]string
	contentRules  map[string]*regexp.Regexp
}

// NewRuleDetector returns a detector seeded with the languages and
// content signatures this reviewer has canned guidance for.
func NewRuleDetector() *RuleDetector {
	return &RuleDetector{
		extRules: map[string]string{
			".go":   "go",
			".py":   "py", ".pyi": "py", ".pyw": "py",
			".java": "java",
			".sql":  "sql",
		},
		filenameRules: map[string]string{
			"Dockerfile": "docker",
		},
		contentRules: map[string]*regexp.Regexp{
			"sql": regexp.MustCompile(`(?i)(SELECT\s+.+\s+FROM|INSERT\s+INTO|UPDATE\s+.+\s+SET|CREATE\s+TABLE|DELETE\s+FROM)`),
			"k8s": regexp.MustCompile(`(?i)^\+?\s*(apiVersion:|kind:\s+(Deployment|Service|Pod|ConfigMap|Secret|Ingress))`),
		},
	}
}

var ruleText = map[string]string{
	"go":     "Flag missing error checks, unguarded goroutine leaks, and exported identifiers without doc comments.",
	"py":     "Flag bare except clauses, mutable default arguments, and missing type hints on public functions.",
	"java":   "Flag resource leaks (unclosed Closeable), raw generic types, and string-concatenated SQL.",
	"sql":    "Flag string-built queries that could admit injection and missing parameter binding.",
	"docker": "Flag running as root, unpinned base image tags, and missing multi-stage build separation.",
	"k8s":    "Flag missing resource limits, containers running as root, and absent liveness/readiness probes.",
}

// Detect returns the distinct rule names triggered by diff, scanning
// extension, filename, and (for rules not already detected) added-line
// content.
func (d *RuleDetector) Detect(diff domain.DiffDocument) []string {
	detected := make(map[string]bool)
	var order []string
	mark := func(rule string) {
		if !detected[rule] {
			detected[rule] = true
			order = append(order, rule)
		}
	}

	for _, f := range diff.Files {
		p := f.EffectivePath()
		base := filepath.Base(p)
		ext := strings.ToLower(filepath.Ext(p))

		for prefix, rule := range d.filenameRules {
			if strings.HasPrefix(base, prefix) {
				mark(rule)
			}
		}
		if rule, ok := d.extRules[ext]; ok {
			mark(rule)
		}
		for _, h := range f.Hunks {
			for _, line := range h.Lines {
				if line.Marker != domain.MarkerAdded {
					continue
				}
				for rule, pattern := range d.contentRules {
					if detected[rule] {
						continue
					}
					if pattern.MatchString(line.Text) {
						mark(rule)
					}
				}
			}
		}
	}
	return order
}

// RuleGuidance renders the detected rules' canned guidance, or "" if none
// triggered.
func RuleGuidance(rules []string) string {
	if len(rules) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Domain specific rules:\n")
	for _, r := range rules {
		if text, ok := ruleText[r]; ok {
			sb.WriteString("- ")
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
