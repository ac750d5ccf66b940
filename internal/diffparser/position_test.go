package diffparser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPositionFor_SQLInjectionDiff(t *testing.T) {
	doc, err := Parse(sqlInjectionDiff)
	require.NoError(t, err)
	path := "src/main/java/com/example/dao/UserDAO.java"

	pos := PositionFor(doc, path, 11) // newStart(10)+1, per the seed scenario
	require.Greater(t, pos, 0)
}

func TestPositionFor_UnknownPathReturnsNegativeOne(t *testing.T) {
	doc, err := Parse(sqlInjectionDiff)
	require.NoError(t, err)
	require.Equal(t, -1, PositionFor(doc, "does/not/exist.go", 11))
}

func TestPositionFor_LineOutsideEveryHunkReturnsNegativeOne(t *testing.T) {
	diff := "--- a/f.go\n+++ b/f.go\n@@ -1,3 +1,2 @@\n context\n-removed\n context\n"
	doc, err := Parse(diff)
	require.NoError(t, err)
	// new line numbers present are 1 (context) and 2 (context); line 99 never exists.
	require.Equal(t, -1, PositionFor(doc, "f.go", 99))
}

func TestPositionFor_CountsHunkHeaderAndEveryLine(t *testing.T) {
	// Single hunk: header (1) + 1 body line; new line 1 is the first body line.
	diff := "--- a/f.go\n+++ b/f.go\n@@ -1,1 +1,1 @@\n+only line\n"
	doc, err := Parse(diff)
	require.NoError(t, err)
	require.Equal(t, 2, PositionFor(doc, "f.go", 1), "header=1, body=2")
}

func TestPositionFor_FirstMatchWinsAcrossMultipleHunks(t *testing.T) {
	diff := "--- a/f.go\n+++ b/f.go\n@@ -1,1 +1,1 @@\n+a\n@@ -5,1 +5,1 @@\n+b\n"
	doc, err := Parse(diff)
	require.NoError(t, err)
	require.Equal(t, 2, PositionFor(doc, "f.go", 1), "expected first hunk's match to win")
}
