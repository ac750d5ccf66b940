package enrich

import (
	"context"
	"log/slog"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/resilience"
	"pr-review-automation/internal/scm"
)

// PolicyDocument is one resolved entry from scm.DefaultPolicyFiles.
type PolicyDocument struct {
	Name      string
	Path      string
	Content   string
	Truncated bool
}

// PolicyConfig bounds the Policy Provider's per-document content budget.
type PolicyConfig struct {
	MaxChars int
}

// DefaultPolicyConfig mirrors spec §6's documented defaults.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{MaxChars: 4000}
}

// FetchPolicies resolves each entry in scm.DefaultPolicyFiles by trying its
// candidate paths in order and keeping the first one that resolves.
// Documents with none of their candidates present are silently skipped.
func FetchPolicies(ctx context.Context, ref domain.ChangeRequestRef, client scm.Client, cfg PolicyConfig, logger *slog.Logger) []PolicyDocument {
	if client == nil {
		return nil
	}
	var out []PolicyDocument
	for _, pf := range scm.DefaultPolicyFiles {
		doc, ok := resolvePolicy(ctx, ref, client, pf, cfg, logger)
		if ok {
			out = append(out, doc)
		}
	}
	return out
}

func resolvePolicy(ctx context.Context, ref domain.ChangeRequestRef, client scm.Client, pf scm.PolicyFile, cfg PolicyConfig, logger *slog.Logger) (PolicyDocument, bool) {
	for _, candidate := range pf.Candidate {
		content := resilience.BestEffort(ctx, logger, "policy-provider", func(c context.Context) (string, error) {
			return client.FetchFileContent(c, ref, candidate)
		})
		if content == "" {
			continue
		}
		truncated, wasTruncated := truncateChars(content, cfg.MaxChars)
		return PolicyDocument{Name: pf.Name, Path: candidate, Content: truncated, Truncated: wasTruncated}, true
	}
	return PolicyDocument{}, false
}

func truncateChars(content string, maxChars int) (string, bool) {
	if maxChars <= 0 || len(content) <= maxChars {
		return content, false
	}
	return content[:maxChars] + truncationMarker, true
}
