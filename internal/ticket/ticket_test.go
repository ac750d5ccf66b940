package ticket

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractKey_FromTitle(t *testing.T) {
	require.Equal(t, "PROJ-123", ExtractKey("[PROJ-123] Fix login bug", "no ticket here"))
}

func TestExtractKey_FallsBackToDescription(t *testing.T) {
	require.Equal(t, "ABC-9", ExtractKey("Fix login bug", "Relates to [ABC-9]"))
}

func TestExtractKey_NoMatch(t *testing.T) {
	require.Empty(t, ExtractKey("Fix login bug", "no ticket reference"))
}
