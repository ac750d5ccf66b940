package diffparser

import "pr-review-automation/internal/domain"

// PositionFor returns the 1-based position of line newLine of file path
// within doc's raw diff, counting each hunk header as one position and
// every hunk body line as one position. Returns -1 when no such line
// exists (deletion-only line, unknown path, or out-of-range newLine).
//
// Runs in O(diff size) time and O(1) extra memory: a single forward walk
// over files/hunks/lines with two running counters.
func PositionFor(doc domain.DiffDocument, path string, newLine int) int {
	position := 0
	for _, f := range doc.Files {
		match := f.EffectivePath() == path
		for _, h := range f.Hunks {
			position++ // hunk header line
			current := h.NewStart - 1
			for _, l := range h.Lines {
				position++
				switch l.Marker {
				case domain.MarkerAdded, domain.MarkerContext:
					current++
					if match && current == newLine {
						return position
					}
				}
			}
		}
	}
	return -1
}
