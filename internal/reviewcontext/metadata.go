package reviewcontext

import (
	"context"
	"regexp"
	"strings"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/scm"
)

var (
	goImportPattern   = regexp.MustCompile(`^\+\s*"([^"]+)"\s*$|^\+\s*import\s+"([^"]+)"`)
	jsImportPattern   = regexp.MustCompile(`^\+.*\bimport\b.*from\s+['"]([^'"]+)['"]`)
	javaImportPattern = regexp.MustCompile(`^\+\s*import\s+(?:static\s+)?([\w.]+)\s*;`)
	pyImportPattern   = regexp.MustCompile(`^\+\s*(?:from\s+([\w.]+)\s+import|import\s+([\w.]+))`)
	qualifiedRefPattern = regexp.MustCompile(`\b([a-z][a-zA-Z0-9]*)\.([A-Z][a-zA-Z0-9]*)\b`)
)

// MetadataStrategy nominates files referenced by import statements and
// package-qualified type usage added in the diff, per spec §4.3.
type MetadataStrategy struct{}

func (MetadataStrategy) Name() string  { return "metadata" }
func (MetadataStrategy) Priority() int { return 2 }

func (MetadataStrategy) Run(_ context.Context, diff domain.DiffDocument, _ scm.Client) ([]domain.ContextMatch, error) {
	imports := map[string]string{} // alias -> derived candidate path
	var matches []domain.ContextMatch
	seen := map[string]bool{}

	addMatch := func(candidate, evidence string, reason domain.ContextMatchReason) {
		if candidate == "" || seen[candidate+string(reason)] {
			return
		}
		seen[candidate+string(reason)] = true
		matches = append(matches, domain.ContextMatch{
			Path:       candidate,
			Reason:     reason,
			Confidence: reason.BaselineConfidence(),
			Evidence:   evidence,
		})
	}

	for _, line := range strings.Split(diff.Raw, "\n") {
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		if m := goImportPattern.FindStringSubmatch(line); m != nil {
			target := firstNonEmpty(m[1], m[2])
			candidate := target + ".go"
			alias := lastSegment(target, "/")
			imports[alias] = candidate
			addMatch(candidate, "imported: "+target, domain.ReasonDirectImport)
			continue
		}
		if m := jsImportPattern.FindStringSubmatch(line); m != nil {
			candidate := strings.TrimSuffix(m[1], "/") + ".ts"
			alias := lastSegment(m[1], "/")
			imports[alias] = candidate
			addMatch(candidate, "imported: "+m[1], domain.ReasonDirectImport)
			continue
		}
		if m := javaImportPattern.FindStringSubmatch(line); m != nil {
			candidate := strings.ReplaceAll(m[1], ".", "/") + ".java"
			alias := lastSegment(m[1], ".")
			imports[alias] = candidate
			addMatch(candidate, "imported: "+m[1], domain.ReasonDirectImport)
			continue
		}
		if m := pyImportPattern.FindStringSubmatch(line); m != nil {
			target := firstNonEmpty(m[1], m[2])
			candidate := strings.ReplaceAll(target, ".", "/") + ".py"
			alias := lastSegment(target, ".")
			imports[alias] = candidate
			addMatch(candidate, "imported: "+target, domain.ReasonDirectImport)
			continue
		}
	}

	if len(imports) == 0 {
		return matches, nil
	}

	for _, line := range strings.Split(diff.Raw, "\n") {
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}
		for _, m := range qualifiedRefPattern.FindAllStringSubmatch(line, -1) {
			alias := m[1]
			candidate, ok := imports[alias]
			if !ok {
				continue
			}
			addMatch(candidate, "referenced as "+alias+"."+m[2], domain.ReasonTypeReference)
		}
	}

	return matches, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func lastSegment(s, sep string) string {
	parts := strings.Split(s, sep)
	return parts[len(parts)-1]
}
