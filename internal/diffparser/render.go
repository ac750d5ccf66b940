package diffparser

import (
	"strconv"
	"strings"

	"pr-review-automation/internal/domain"
)

// Render reproduces unified-diff text from a DiffDocument over the
// restricted grammar Parse recognizes (file headers, hunk headers
// including their optional trailing context, hunk body lines).
// Render(Parse(d)) == d modulo a trailing newline for any d that only
// uses that grammar.
func Render(doc domain.DiffDocument) string {
	var sb strings.Builder
	for _, f := range doc.Files {
		oldDisplay := "/dev/null"
		if f.OldPath != "" {
			oldDisplay = "a/" + f.OldPath
		}
		newDisplay := "/dev/null"
		if f.NewPath != "" {
			newDisplay = "b/" + f.NewPath
		}
		sb.WriteString("--- ")
		sb.WriteString(oldDisplay)
		sb.WriteString("\n+++ ")
		sb.WriteString(newDisplay)
		sb.WriteString("\n")
		for _, h := range f.Hunks {
			sb.WriteString(formatHunkHeader(h))
			sb.WriteString("\n")
			for _, l := range h.Lines {
				sb.WriteByte(byte(l.Marker))
				sb.WriteString(l.Text)
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func formatHunkHeader(h domain.DiffHunk) string {
	var sb strings.Builder
	sb.WriteString("@@ -")
	sb.WriteString(strconv.Itoa(h.OldStart))
	if h.OldCount != 1 {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(h.OldCount))
	}
	sb.WriteString(" +")
	sb.WriteString(strconv.Itoa(h.NewStart))
	if h.NewCount != 1 {
		sb.WriteByte(',')
		sb.WriteString(strconv.Itoa(h.NewCount))
	}
	sb.WriteString(" @@")
	if h.HeaderSuffix != "" {
		sb.WriteByte(' ')
		sb.WriteString(h.HeaderSuffix)
	}
	return sb.String()
}
