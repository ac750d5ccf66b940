package diffcompress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"pr-review-automation/internal/diffparser"
)

func parse(t *testing.T, raw string) (result string) {
	t.Helper()
	doc, err := diffparser.Parse(raw)
	require.NoError(t, err)
	p := NewDiffPreprocessor(DefaultPreprocessOptions())
	return p.Preprocess(doc)
}

func TestPreprocess_FoldsLongDeleteRuns(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("--- a/f.go\n+++ b/f.go\n@@ -1,40 +1,1 @@\n")
	for i := 0; i < 40; i++ {
		sb.WriteString("-old line\n")
	}
	sb.WriteString("+new line\n")

	out := parse(t, sb.String())
	require.Contains(t, out, "[... 40 lines deleted ...]")
	require.NotContains(t, out, "old line")
	require.Contains(t, out, "+new line")
}

func TestPreprocess_CollapsesRepeatedContextLines(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("--- a/f.go\n+++ b/f.go\n@@ -1,20 +1,21 @@\n")
	for i := 0; i < 10; i++ {
		sb.WriteString(" context line\n")
	}
	sb.WriteString("+added\n")

	out := parse(t, sb.String())
	require.Contains(t, out, "[... context lines omitted ...]")

	kept := 0
	for _, line := range strings.Split(out, "\n") {
		if line == " context line" {
			kept++
		}
	}
	require.Equal(t, 5, kept)
}

func TestPreprocess_SkipsPureWhitespaceHunks(t *testing.T) {
	// Every changed line is blank once trimmed (a blank line inserted),
	// matching the narrow "whitespace only" heuristic kept from the teacher.
	diff := "--- a/f.go\n+++ b/f.go\n@@ -1,2 +1,3 @@\n context\n+   \n context\n"
	out := parse(t, diff)
	require.Contains(t, out, "[WHITESPACE ONLY - SKIPPED]")
}

func TestPreprocess_PreservesHeaderSuffixAndShortHunks(t *testing.T) {
	diff := "--- a/f.go\n+++ b/f.go\n@@ -10,7 +10,7 @@ func Example() {\n context\n-old\n+new\n context\n"
	out := parse(t, diff)
	require.Contains(t, out, "@@ -10,7 +10,7 @@ func Example() {")
	require.Contains(t, out, "-old")
	require.Contains(t, out, "+new")
}

func TestPreprocess_LeavesOriginalDocumentUntouched(t *testing.T) {
	raw := "--- a/f.go\n+++ b/f.go\n@@ -1,1 +1,1 @@\n-old\n+new\n"
	doc, err := diffparser.Parse(raw)
	require.NoError(t, err)

	p := NewDiffPreprocessor(DefaultPreprocessOptions())
	_ = p.Preprocess(doc)

	require.Equal(t, raw, doc.Raw, "Preprocess must never mutate the DiffDocument used for position mapping")
}
