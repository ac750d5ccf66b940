// Package diffcompress shrinks a parsed diff for the Prompt Assembler's
// DIFF section: folding long delete runs and collapsing repeated context
// lines so the token budget goes toward the lines an LLM review actually
// needs. Unlike the teacher's regex-based line splitter, it walks
// diffparser's own domain.DiffDocument/DiffHunk/DiffLine tree rather than
// re-deriving file/hunk boundaries from raw text, so it can never
// disagree with diffparser about where a hunk starts or ends. It never
// mutates the DiffDocument used for position mapping — diffparser.Parse
// and publisher.Publish always see the untouched original, so inline
// comment line numbers stay correct; Preprocess only reads doc and
// renders a fresh, shrunk copy of the text.
package diffcompress

import (
	"regexp"
	"strconv"
	"strings"

	"pr-review-automation/internal/domain"
)

// PreprocessOptions configures diff preprocessing behavior.
type PreprocessOptions struct {
	MaxContextLines int  // Max consecutive context lines to keep per hunk (default: 5)
	FoldDeletesOver int  // Fold consecutive deletes over N lines into a summary (default: 30)
	SkipWhitespace  bool // Replace a file's hunks with a skip marker when every added/removed line is blank (default: true)
	CompressSpaces  bool // Compress consecutive spaces to a single space (default: true)
}

// DefaultPreprocessOptions returns sensible defaults.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		MaxContextLines: 5,
		FoldDeletesOver: 30,
		SkipWhitespace:  true,
		CompressSpaces:  true,
	}
}

// DiffPreprocessor preprocesses a parsed diff to reduce token usage.
type DiffPreprocessor struct {
	opts PreprocessOptions
}

// NewDiffPreprocessor creates a new preprocessor with given options.
func NewDiffPreprocessor(opts PreprocessOptions) *DiffPreprocessor {
	if opts.MaxContextLines <= 0 {
		opts.MaxContextLines = 5
	}
	if opts.FoldDeletesOver <= 0 {
		opts.FoldDeletesOver = 30
	}
	return &DiffPreprocessor{opts: opts}
}

// Preprocess walks doc's already-parsed files/hunks/lines and renders a
// shrunk unified-diff-shaped text for the prompt. A file with no hunks
// (e.g. a binary diff, which diffparser never materializes a hunk for)
// contributes nothing.
func (p *DiffPreprocessor) Preprocess(doc domain.DiffDocument) string {
	var out []string
	for _, f := range doc.Files {
		if rendered := p.processFile(f); rendered != "" {
			out = append(out, rendered)
		}
	}
	result := strings.Join(out, "\n")
	if p.opts.CompressSpaces {
		result = p.compressSpaces(result)
	}
	return result
}

func (p *DiffPreprocessor) processFile(f domain.FileModification) string {
	if len(f.Hunks) == 0 {
		return ""
	}
	if p.opts.SkipWhitespace && isPureWhitespaceChange(f) {
		return fileHeader(f) + "\n[WHITESPACE ONLY - SKIPPED]"
	}

	var sb strings.Builder
	sb.WriteString(fileHeader(f))
	for _, h := range f.Hunks {
		sb.WriteByte('\n')
		sb.WriteString(hunkHeader(h))
		sb.WriteString(p.foldHunkLines(h.Lines))
	}
	return sb.String()
}

func fileHeader(f domain.FileModification) string {
	oldDisplay, newDisplay := "/dev/null", "/dev/null"
	if f.OldPath != "" {
		oldDisplay = "a/" + f.OldPath
	}
	if f.NewPath != "" {
		newDisplay = "b/" + f.NewPath
	}
	return "--- " + oldDisplay + "\n+++ " + newDisplay
}

func hunkHeader(h domain.DiffHunk) string {
	header := "@@ -" + strconv.Itoa(h.OldStart) + "," + strconv.Itoa(h.OldCount) +
		" +" + strconv.Itoa(h.NewStart) + "," + strconv.Itoa(h.NewCount) + " @@"
	if h.HeaderSuffix != "" {
		header += " " + h.HeaderSuffix
	}
	return header
}

// foldHunkLines folds runs of deleted lines longer than FoldDeletesOver
// into a one-line summary, and collapses repeated context lines beyond
// MaxContextLines, within a single hunk's body.
func (p *DiffPreprocessor) foldHunkLines(lines []domain.DiffLine) string {
	var sb strings.Builder
	consecutiveContext := 0
	var deleteRun []domain.DiffLine

	writeLine := func(l domain.DiffLine) {
		sb.WriteByte('\n')
		sb.WriteByte(byte(l.Marker))
		sb.WriteString(l.Text)
	}

	flushDeletes := func() {
		if len(deleteRun) == 0 {
			return
		}
		if len(deleteRun) > p.opts.FoldDeletesOver {
			sb.WriteString("\n- [... " + strconv.Itoa(len(deleteRun)) + " lines deleted ...]")
		} else {
			for _, l := range deleteRun {
				writeLine(l)
			}
		}
		deleteRun = nil
	}

	for _, l := range lines {
		if l.Marker == domain.MarkerRemoved {
			deleteRun = append(deleteRun, l)
			consecutiveContext = 0
			continue
		}
		flushDeletes()

		if l.Marker == domain.MarkerContext {
			consecutiveContext++
			switch {
			case consecutiveContext <= p.opts.MaxContextLines:
				writeLine(l)
			case consecutiveContext == p.opts.MaxContextLines+1:
				sb.WriteString("\n [... context lines omitted ...]")
			}
			continue
		}

		consecutiveContext = 0
		writeLine(l)
	}
	flushDeletes()
	return sb.String()
}

// isPureWhitespaceChange reports whether every added/removed line in f is
// blank once trimmed. A line whose only change is its indentation is not
// blank, so such a file is not reported.
func isPureWhitespaceChange(f domain.FileModification) bool {
	for _, h := range f.Hunks {
		for _, l := range h.Lines {
			if l.Marker != domain.MarkerAdded && l.Marker != domain.MarkerRemoved {
				continue
			}
			if strings.TrimSpace(l.Text) != "" {
				return false
			}
		}
	}
	return true
}

// compressSpaces compresses consecutive spaces/tabs to a single space,
// preserving each line's leading indentation.
func (p *DiffPreprocessor) compressSpaces(input string) string {
	lines := strings.Split(input, "\n")
	var result []string

	spacePattern := regexp.MustCompile(`[ \t]{2,}`)

	for _, line := range lines {
		if len(line) == 0 {
			result = append(result, line)
			continue
		}

		leadingSpaces := 0
		for i, ch := range line {
			if ch == ' ' || ch == '\t' {
				leadingSpaces = i + 1
			} else {
				break
			}
		}

		if leadingSpaces > 0 && leadingSpaces < len(line) {
			leading := line[:leadingSpaces]
			rest := spacePattern.ReplaceAllString(line[leadingSpaces:], " ")
			result = append(result, leading+rest)
		} else {
			result = append(result, spacePattern.ReplaceAllString(line, " "))
		}
	}

	return strings.Join(result, "\n")
}
