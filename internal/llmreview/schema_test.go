package llmreview

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFindings_ValidJSONRoundTrips(t *testing.T) {
	raw := `{"issues":[{"file":"f.go","start_line":3,"severity":"critical","title":"sql injection"}]}`
	payload, err := parseFindings(raw)
	require.NoError(t, err)
	require.Len(t, payload.Issues, 1)
	require.Equal(t, "f.go", payload.Issues[0].File)
}

func TestParseFindings_StripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"issues\":[]}\n```"
	payload, err := parseFindings(raw)
	require.NoError(t, err)
	require.Empty(t, payload.Issues)
}

func TestParseFindings_RejectsMissingRequiredField(t *testing.T) {
	raw := `{"issues":[{"file":"f.go","start_line":3}]}` // missing severity/title
	_, err := parseFindings(raw)
	require.Error(t, err, "expected schema validation error for missing required fields")
}

func TestParseFindings_RejectsInvalidSeverityEnum(t *testing.T) {
	raw := `{"issues":[{"file":"f.go","start_line":3,"severity":"catastrophic","title":"x"}]}`
	_, err := parseFindings(raw)
	require.Error(t, err, "expected schema validation error for invalid severity enum")
}

func TestParseFindings_RejectsNonJSON(t *testing.T) {
	_, err := parseFindings("not json at all")
	require.Error(t, err, "expected error for non-JSON input")
}
