package reviewcontext

import (
	"context"
	"path"
	"strings"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/scm"
)

// layerKeywords is the closed set of layer suffixes RELATED_LAYER compares
// across, per spec §4.3.
var layerKeywords = []string{
	"controller", "service", "repository", "dao", "model", "entity", "dto", "mapper", "adapter", "port",
}

// PathPatternStrategy nominates related files purely from the path shapes
// of the files already present in the diff: test/main counterparts, same
// directory, shared base name across architectural layers, and directory
// containment. It makes no SCM calls.
type PathPatternStrategy struct{}

func (PathPatternStrategy) Name() string  { return "path-pattern" }
func (PathPatternStrategy) Priority() int { return 0 }

func (PathPatternStrategy) Run(_ context.Context, diff domain.DiffDocument, _ scm.Client) ([]domain.ContextMatch, error) {
	paths := make([]string, 0, len(diff.Files))
	seen := make(map[string]bool)
	for _, f := range diff.Files {
		p := f.EffectivePath()
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}

	var matches []domain.ContextMatch
	for i, a := range paths {
		for j, b := range paths {
			if i == j {
				continue
			}
			if reason, evidence, ok := classifyPair(a, b); ok {
				matches = append(matches, domain.ContextMatch{
					Path:       b,
					Reason:     reason,
					Confidence: reason.BaselineConfidence(),
					Evidence:   evidence,
				})
			}
		}
	}
	return matches, nil
}

// classifyPair returns the most specific reason relating path b to path a,
// evaluated in the spec's specificity order: TEST_COUNTERPART, SAME_PACKAGE,
// RELATED_LAYER, PARENT_PACKAGE, SIBLING_FILE.
func classifyPair(a, b string) (domain.ContextMatchReason, string, bool) {
	if isTestCounterpart(a, b) {
		return domain.ReasonTestCounterpart, "test/main counterpart of " + a, true
	}
	dirA, dirB := path.Dir(a), path.Dir(b)
	if dirA == dirB {
		return domain.ReasonSamePackage, "same directory as " + a, true
	}
	if core, keywordA, keywordB, ok := relatedLayer(a, b); ok {
		return domain.ReasonRelatedLayer, "shares base \"" + core + "\" with layer " + keywordA + " vs " + keywordB, true
	}
	if strings.HasPrefix(dirB+"/", dirA+"/") || strings.HasPrefix(dirA+"/", dirB+"/") {
		return domain.ReasonParentPackage, "directory contains " + a, true
	}
	if path.Dir(dirA) != "" && path.Dir(dirA) == path.Dir(dirB) {
		return domain.ReasonSiblingFile, "shares a parent directory with " + a, true
	}
	return "", "", false
}

func isTestCounterpart(a, b string) bool {
	for _, candidate := range testCounterpartCandidates(a) {
		if candidate == b {
			return true
		}
	}
	return false
}

// testCounterpartCandidates generates plausible test/main counterpart
// paths for p: Go's "_test.go" suffix, a Java-style "main"<->"test"
// directory segment swap paired with a "Foo"<->"FooTest" name swap.
func testCounterpartCandidates(p string) []string {
	var out []string
	dir, base := path.Dir(p), path.Base(p)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	if strings.HasSuffix(stem, "_test") {
		out = append(out, path.Join(dir, strings.TrimSuffix(stem, "_test")+ext))
	} else {
		out = append(out, path.Join(dir, stem+"_test"+ext))
	}

	swappedDir := swapSegment(dir, "main", "test")
	if swappedDir != dir {
		if strings.HasSuffix(stem, "Test") {
			out = append(out, path.Join(swappedDir, strings.TrimSuffix(stem, "Test")+ext))
		} else {
			out = append(out, path.Join(swappedDir, stem+"Test"+ext))
		}
	}
	swappedDir = swapSegment(dir, "test", "main")
	if swappedDir != dir {
		if strings.HasSuffix(stem, "Test") {
			out = append(out, path.Join(swappedDir, strings.TrimSuffix(stem, "Test")+ext))
		}
	}
	return out
}

func swapSegment(dir, from, to string) string {
	segments := strings.Split(dir, "/")
	changed := false
	for i, s := range segments {
		if s == from {
			segments[i] = to
			changed = true
		}
	}
	if !changed {
		return dir
	}
	return strings.Join(segments, "/")
}

// relatedLayer reports whether a and b share a base name with the known
// layer keyword stripped, but carry different layer keywords.
func relatedLayer(a, b string) (core, keywordA, keywordB string, ok bool) {
	coreA, kwA, okA := stripLayerKeyword(path.Base(a))
	coreB, kwB, okB := stripLayerKeyword(path.Base(b))
	if !okA || !okB {
		return "", "", "", false
	}
	if !strings.EqualFold(coreA, coreB) {
		return "", "", "", false
	}
	if strings.EqualFold(kwA, kwB) {
		return "", "", "", false
	}
	return coreA, kwA, kwB, true
}

func stripLayerKeyword(base string) (core, keyword string, ok bool) {
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	lower := strings.ToLower(stem)
	for _, kw := range layerKeywords {
		if strings.HasSuffix(lower, kw) && len(stem) > len(kw) {
			return stem[:len(stem)-len(kw)], kw, true
		}
	}
	return "", "", false
}
