// Package fswalk provides a symlink-following variant of filepath.WalkDir.
//
// filepath.WalkDir "does not follow symbolic links found in directories,"
// but every tree this core walks (a library root, a multi-file book
// directory, a watched subtree) must follow them: a book nested under a
// symlinked subdirectory is exactly as real as one reached directly. The
// original implementation's walkdir crate is configured with
// follow_links(true) at every one of its traversal sites for the same
// reason.
package fswalk

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Walk walks the tree rooted at root, calling fn for root and every entry
// beneath it, exactly like filepath.WalkDir except that a directory reached
// through a symbolic link is descended into rather than reported as a leaf.
// A link whose target is a directory already entered through a symlink on
// the current descent (a symlink cycle) is visited once and not followed
// again; a link back to a plain, non-symlinked ancestor is followed for one
// more lap before the cycle is caught.
func Walk(root string, fn fs.WalkDirFunc) error {
	info, err := os.Lstat(root)
	if err != nil {
		return fn(root, nil, err)
	}
	return walk(root, fs.FileInfoToDirEntry(info), nil, fn)
}

// walk mirrors the algorithm behind filepath.WalkDir, with one addition:
// a symlink is resolved and, if it targets a directory, treated as one.
// ancestors holds the resolved real paths of every symlinked directory
// already descended into on this branch, so a cycle is caught rather than
// followed forever.
func walk(path string, d fs.DirEntry, ancestors []string, fn fs.WalkDirFunc) error {
	isDir, resolved, statErr := direntDir(path, d)

	if err := fn(path, d, statErr); err != nil || !isDir {
		if err == filepath.SkipDir && isDir {
			err = nil
		}
		return err
	}

	if resolved != "" {
		for _, a := range ancestors {
			if a == resolved {
				return nil
			}
		}
		ancestors = append(ancestors[:len(ancestors):len(ancestors)], resolved)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if err2 := fn(path, d, err); err2 != nil {
			if err2 == filepath.SkipDir {
				return nil
			}
			return err2
		}
		return nil
	}

	for _, entry := range entries {
		childPath := filepath.Join(path, entry.Name())
		if err := walk(childPath, entry, ancestors, fn); err != nil {
			if err == filepath.SkipDir {
				break
			}
			return err
		}
	}
	return nil
}

// direntDir reports whether path should be descended into (true for a real
// directory, or a symlink whose target is one) and, for a symlink, its
// resolved real path for cycle detection.
func direntDir(path string, d fs.DirEntry) (isDir bool, resolved string, err error) {
	if d == nil {
		return false, "", nil
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return d.IsDir(), "", nil
	}

	target, evalErr := filepath.EvalSymlinks(path)
	if evalErr != nil {
		return false, "", evalErr
	}
	info, statErr := os.Stat(target)
	if statErr != nil {
		return false, "", statErr
	}
	if !info.IsDir() {
		return false, "", nil
	}
	return true, target, nil
}
