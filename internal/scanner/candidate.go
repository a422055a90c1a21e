package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
	"github.com/vorleser/vorleser-server/internal/fswalk"
)

// candidate is a filesystem entry matched against a library's
// audiobook_pattern: a file or directory root of a candidate book.
type candidate struct {
	path    string // absolute
	relPath string // relative to library.location, forward-slash separated
	isDir   bool
}

// findCandidates walks root with symlinks followed, returning every entry
// whose path relative to root matches pattern. Descent stops once a
// directory is classified as a candidate.
func findCandidates(root string, pattern *regexp.Regexp) ([]candidate, error) {
	var out []candidate

	err := fswalk.Walk(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // per-entry errors are logged by the caller, walk continues
		}
		if path == root {
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !pattern.MatchString(rel) {
			return nil
		}

		isDir := d.IsDir()
		if !isDir && d.Type()&fs.ModeSymlink != 0 {
			if info, statErr := os.Stat(path); statErr == nil {
				isDir = info.IsDir()
			}
		}

		out = append(out, candidate{path: path, relPath: rel, isDir: isDir})
		if isDir {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, vorlerrors.Io("walking library for candidates", err)
	}
	return out, nil
}

// mostRecentChange returns the most recent modification time under path:
// path's own mtime for a file, or the recursive maximum mtime of every
// entry under path for a directory.
func mostRecentChange(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, vorlerrors.Io("stat for mtime", err)
	}
	if !info.IsDir() {
		return info.ModTime(), nil
	}

	latest := info.ModTime()
	walkErr := fswalk.Walk(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		fi, statErr := d.Info()
		if statErr != nil {
			return nil
		}
		if fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
		return nil
	})
	if walkErr != nil {
		return time.Time{}, vorlerrors.Io("walking directory for mtime", walkErr)
	}
	return latest, nil
}
