// Package diffparser parses unified-diff text into the domain.DiffDocument
// tree (C1) and maps (file, newLine) pairs to 1-based diff positions (C2).
//
// The grammar recognized is the restricted subset the review pipeline
// actually needs: "--- "/"+++ " file headers, "@@ ... @@" hunk headers, and
// hunk body lines. Extended git headers ("diff --git", "index", rename/mode
// lines) are tolerated between file boundaries but not reproduced by
// Render — callers that need the original bytes keep DiffDocument.Raw.
package diffparser

import (
	"regexp"
	"strconv"
	"strings"

	"pr-review-automation/internal/domain"
	"pr-review-automation/internal/types"
)

var hunkHeaderPattern = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(?: (.*))?$`)

// Parse parses raw unified-diff text into a DiffDocument. It is pure,
// total on any syntactically valid input, and restartable — calling Parse
// twice on the same text yields equal documents.
func Parse(raw string) (domain.DiffDocument, error) {
	doc := domain.DiffDocument{Raw: raw}
	lines := strings.Split(raw, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1] // the final newline terminates the last line; it does not start a new one
	}

	var cur *domain.FileModification
	var curHunk *domain.DiffHunk
	pendingOld := ""

	flushHunk := func() {
		if cur != nil && curHunk != nil {
			cur.Hunks = append(cur.Hunks, *curHunk)
			curHunk = nil
		}
	}
	flushFile := func() {
		flushHunk()
		if cur != nil {
			doc.Files = append(doc.Files, *cur)
			cur = nil
		}
	}

	for i, line := range lines {
		lineNo := i + 1
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flushFile()
		case strings.HasPrefix(line, "--- "):
			flushFile()
			pendingOld = headerPath(line[len("--- "):], "a/")
		case strings.HasPrefix(line, "+++ "):
			newPath := headerPath(line[len("+++ "):], "b/")
			cur = &domain.FileModification{OldPath: pendingOld, NewPath: newPath}
			pendingOld = ""
		case strings.HasPrefix(line, "@@"):
			if cur == nil {
				return domain.DiffDocument{}, types.DiffMalformedError(lineNo, "hunk header before any file header")
			}
			flushHunk()
			h, err := parseHunkHeader(line, lineNo)
			if err != nil {
				return domain.DiffDocument{}, err
			}
			curHunk = &h
		default:
			if curHunk == nil {
				continue // extended header line (index/mode/rename) or trailing blank
			}
			curHunk.Lines = append(curHunk.Lines, splitMarker(line))
		}
	}
	flushFile()

	if len(doc.Files) == 0 && strings.TrimSpace(raw) != "" {
		return domain.DiffDocument{}, types.DiffMalformedError(1, "no file modifications found in non-empty diff")
	}
	return doc, nil
}

// headerPath extracts the path from a "--- "/"+++ " header's remainder,
// recognizing /dev/null (creation/deletion) and stripping exactly one
// leading git prefix ("a/" or "b/"). A trailing tab (git timestamp suffix)
// is discarded.
func headerPath(rest string, prefix string) string {
	if idx := strings.IndexByte(rest, '\t'); idx >= 0 {
		rest = rest[:idx]
	}
	rest = strings.TrimRight(rest, "\r")
	if rest == "/dev/null" {
		return ""
	}
	return strings.TrimPrefix(rest, prefix)
}

func parseHunkHeader(line string, lineNo int) (domain.DiffHunk, error) {
	m := hunkHeaderPattern.FindStringSubmatch(line)
	if m == nil {
		return domain.DiffHunk{}, types.DiffMalformedError(lineNo, "malformed hunk header: "+line)
	}
	oldStart, _ := strconv.Atoi(m[1])
	oldCount := 1
	if m[2] != "" {
		oldCount, _ = strconv.Atoi(m[2])
	}
	newStart, _ := strconv.Atoi(m[3])
	newCount := 1
	if m[4] != "" {
		newCount, _ = strconv.Atoi(m[4])
	}
	return domain.DiffHunk{
		OldStart:     oldStart,
		OldCount:     oldCount,
		NewStart:     newStart,
		NewCount:     newCount,
		HeaderSuffix: m[5],
	}, nil
}

func splitMarker(line string) domain.DiffLine {
	if line == "" {
		return domain.DiffLine{Marker: domain.MarkerContext, Text: ""}
	}
	switch line[0] {
	case '+', '-', ' ', '\\':
		return domain.DiffLine{Marker: domain.DiffLineMarker(line[0]), Text: line[1:]}
	default:
		return domain.DiffLine{Marker: domain.MarkerContext, Text: line}
	}
}
