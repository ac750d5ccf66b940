// Package enrich implements the Diff Expander, Policy Provider, and Ticket
// Extractor (C5): three independent best-effort fetchers that decorate an
// enriched diff with current file contents, repository policy documents,
// and linked ticket context before the Prompt Assembler runs.
package enrich

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/resilience"
	"pr-review-automation/internal/scm"
)

// ExpandedFile is the current-head content of one modified file, truncated
// to ExpanderConfig.MaxLines when it exceeds the budget.
type ExpandedFile struct {
	Path      string
	Content   string
	Truncated bool
}

// ExpanderConfig bounds the Diff Expander's cost per spec §4.4.
type ExpanderConfig struct {
	MaxLines      int      // lines kept per file before truncation
	MaxFiles      int      // cap on the count of expanded files
	AllowExt      []string // if non-empty, only these extensions are expanded
	DenyExt       []string // these extensions are never expanded, regardless of AllowExt
}

// DefaultExpanderConfig mirrors spec §6's documented defaults.
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{MaxLines: 500, MaxFiles: 20}
}

const truncationMarker = "\n... [truncated]"

func allowed(p string, cfg ExpanderConfig) bool {
	ext := strings.ToLower(path.Ext(p))
	for _, d := range cfg.DenyExt {
		if strings.EqualFold(d, ext) {
			return false
		}
	}
	if len(cfg.AllowExt) == 0 {
		return true
	}
	for _, a := range cfg.AllowExt {
		if strings.EqualFold(a, ext) {
			return true
		}
	}
	return false
}

func truncate(content string, maxLines int) (string, bool) {
	if maxLines <= 0 {
		return content, false
	}
	lines := strings.Split(content, "\n")
	if len(lines) <= maxLines {
		return content, false
	}
	return strings.Join(lines[:maxLines], "\n") + truncationMarker, true
}

// Expand fetches current contents for every modified, non-created,
// non-deleted file in diff, up to cfg.MaxFiles, running fetches
// concurrently with a bounded degree equal to the cap. Each fetch is
// best-effort: a failing file is silently omitted rather than failing the
// whole expansion.
func Expand(ctx context.Context, ref domain.ChangeRequestRef, diff domain.DiffDocument, client scm.Client, cfg ExpanderConfig, logger *slog.Logger) []ExpandedFile {
	if client == nil {
		return nil
	}

	var candidates []string
	for _, f := range diff.Files {
		if f.IsCreated() || f.IsDeleted() {
			continue
		}
		p := f.EffectivePath()
		if p == "" || !allowed(p, cfg) {
			continue
		}
		candidates = append(candidates, p)
		if cfg.MaxFiles > 0 && len(candidates) >= cfg.MaxFiles {
			break
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(len(candidates), 1))
	results := make([]ExpandedFile, len(candidates))
	var mu sync.Mutex

	for i, p := range candidates {
		i, p := i, p
		g.Go(func() error {
			content := resilience.BestEffort(gctx, logger, "expander", func(c context.Context) (string, error) {
				return client.FetchFileContent(c, ref, p)
			})
			if content == "" {
				return nil
			}
			truncated, wasTruncated := truncate(content, cfg.MaxLines)
			mu.Lock()
			results[i] = ExpandedFile{Path: p, Content: truncated, Truncated: wasTruncated}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]ExpandedFile, 0, len(results))
	for _, r := range results {
		if r.Path != "" {
			out = append(out, r)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
