package scanner

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFindCandidatesStopsDescentUnderMatchedDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Book One", "disc1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "Book One", "disc1", "01.mp3"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "loose.mp3"), []byte("x"), 0o644))

	pattern := regexp.MustCompile(`^(Book One|loose\.mp3)$`)
	got, err := findCandidates(root, pattern)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byRel := map[string]candidate{}
	for _, c := range got {
		byRel[c.relPath] = c
	}
	require.True(t, byRel["Book One"].isDir)
	require.False(t, byRel["loose.mp3"].isDir)
}

func TestMostRecentChangeRecursesIntoDirectory(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	old := filepath.Join(sub, "old.mp3")
	newer := filepath.Join(sub, "new.mp3")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(newer, []byte("x"), 0o644))

	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	got, err := mostRecentChange(root)
	require.NoError(t, err)
	require.True(t, got.After(past))
}
