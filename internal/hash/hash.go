// Package hash provides content-addressed fingerprinting of files and
// directories, the Hasher component of the catalog core.
package hash

import (
	"crypto/sha256"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
	"github.com/vorleser/vorleser-server/internal/fswalk"
)

const blockSize = 4096

// File streams path's bytes through a SHA-256 context in fixed-size blocks
// and returns the resulting 32-byte digest.
func File(path string) ([32]byte, error) {
	var digest [32]byte

	f, err := os.Open(path)
	if err != nil {
		return digest, vorlerrors.Io("opening file for hashing", err)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return digest, vorlerrors.Io("reading file for hashing", err)
	}

	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// Directory walks root with symlinks followed, visiting entries in humane
// order. For each regular file it feeds the file's bytes then its path
// relative to root into the digest context; directories contribute only
// their relative path. The result depends only on contents and relative
// names, so identical trees under different roots hash equal.
func Directory(root string) ([32]byte, error) {
	var digest [32]byte

	paths, err := walkSorted(root)
	if err != nil {
		return digest, err
	}

	h := sha256.New()
	buf := make([]byte, blockSize)
	for _, p := range paths {
		info, err := os.Lstat(p)
		if err != nil {
			return digest, vorlerrors.Io("stat during directory hash", err)
		}

		target := p
		isFile := info.Mode().IsRegular()
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, err := filepath.EvalSymlinks(p)
			if err != nil {
				return digest, vorlerrors.Io("resolving symlink during directory hash", err)
			}
			rinfo, err := os.Stat(resolved)
			if err != nil {
				return digest, vorlerrors.Io("stat symlink target during directory hash", err)
			}
			isFile = rinfo.Mode().IsRegular()
			target = resolved
		}

		if isFile {
			f, err := os.Open(target)
			if err != nil {
				return digest, vorlerrors.Io("opening file during directory hash", err)
			}
			_, err = io.CopyBuffer(h, f, buf)
			f.Close()
			if err != nil {
				return digest, vorlerrors.Io("reading file during directory hash", err)
			}
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return digest, vorlerrors.Io("relativizing path during directory hash", err)
		}
		h.Write([]byte(rel))
	}

	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// walkSorted returns every entry under root (files and directories, symlinks
// followed, root itself excluded) ordered by HumaneCompare of their full path.
func walkSorted(root string) ([]string, error) {
	var paths []string
	err := fswalk.Walk(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, vorlerrors.Io("walking directory for hashing", err)
	}

	sort.Slice(paths, func(i, j int) bool {
		return HumaneCompare(paths[i], paths[j]) < 0
	})
	return paths, nil
}
