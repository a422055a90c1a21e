// Package scanner reconciles a library's filesystem tree with the Catalog:
// the content-addressed, idempotent scan loop that discovers new books,
// resurrects moved ones, tombstones missing ones, and keeps each book's
// cached playable artifact in sync with its catalog row.
package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vorleser/vorleser-server/internal/catalog"
	"github.com/vorleser/vorleser-server/internal/domain"
	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
	"github.com/vorleser/vorleser-server/internal/fswalk"
	"github.com/vorleser/vorleser-server/internal/hash"
	"github.com/vorleser/vorleser-server/internal/media"
	"github.com/vorleser/vorleser-server/internal/media/images"
	"github.com/vorleser/vorleser-server/internal/mux"
)

// Scanner holds the catalog handle and data directory the algorithm in §4.6
// of the core operates against; the library, and with it the compiled
// audiobook pattern, is passed to each Scan call.
type Scanner struct {
	cat     *catalog.Catalog
	dataDir string
	logger  *slog.Logger
}

// New constructs a Scanner persisting cached artifacts under dataDir.
func New(cat *catalog.Catalog, dataDir string, logger *slog.Logger) *Scanner {
	return &Scanner{cat: cat, dataDir: dataDir, logger: logger}
}

// Scan runs one pass of the algorithm against lib: recover tombstones, walk
// for candidates, ingest what should_scan selects, sweep tombstones, and
// persist last_scan. Per-entry errors are logged and the walk continues;
// only a whole-scan fatal error aborts.
func (s *Scanner) Scan(ctx context.Context, lib *domain.Library, full bool, lockMode LockMode) error {
	release, err := acquireLock(filepath.Join(s.dataDir, "scan.lock"), lockMode)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			s.logger.Error("releasing scan.lock", "error", err)
		}
	}()

	pattern, err := regexp.Compile(lib.AudiobookPattern)
	if err != nil {
		return vorlerrors.InvalidInputf("invalid audiobook_pattern: %v", err)
	}

	now := time.Now()

	if err := s.recoverTombstones(ctx, lib); err != nil {
		return err
	}

	candidates, err := findCandidates(lib.Location, pattern)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		should, err := s.shouldScan(ctx, lib, c, full)
		if err != nil {
			s.logger.Error("should_scan check failed", "path", c.path, "error", err)
			continue
		}
		if !should {
			continue
		}

		book, err := s.processCandidate(ctx, lib, c)
		if err != nil {
			s.logger.Error("processing candidate failed", "path", c.path, "error", err)
			continue
		}

		if err := s.ensureArtifact(ctx, lib, book, c); err != nil {
			s.logger.Error("ensuring cached artifact failed", "book_id", book.ID, "error", err)
		}
	}

	if err := s.tombstoneSweep(ctx, lib); err != nil {
		return err
	}

	if err := s.cat.UpdateLibraryLastScan(ctx, lib.ID, now); err != nil {
		return vorlerrors.DbError("persisting last_scan", err)
	}
	return nil
}

// recoverTombstones clears the deleted flag on any book whose location now
// exists on disk and rehashes to its stored hash.
func (s *Scanner) recoverTombstones(ctx context.Context, lib *domain.Library) error {
	books, err := s.cat.ListBooks(ctx, lib.ID, true)
	if err != nil {
		return vorlerrors.DbError("listing books for tombstone recovery", err)
	}

	for _, b := range books {
		if !b.Deleted {
			continue
		}
		abs := filepath.Join(lib.Location, b.Location)
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}

		var digest [32]byte
		if info.IsDir() {
			digest, err = hash.Directory(abs)
		} else {
			digest, err = hash.File(abs)
		}
		if err != nil {
			s.logger.Error("rehashing tombstoned book", "book_id", b.ID, "error", err)
			continue
		}

		if string(digest[:]) == string(b.Hash) {
			if err := s.cat.MarkDeleted(ctx, b.ID, false); err != nil {
				s.logger.Error("clearing tombstone", "book_id", b.ID, "error", err)
			}
		}
	}
	return nil
}

// shouldScan applies the incremental/full mtime test of §4.6.
func (s *Scanner) shouldScan(ctx context.Context, lib *domain.Library, c candidate, full bool) (bool, error) {
	if full {
		return true, nil
	}

	existing, err := s.cat.FindBookByLocation(ctx, lib.ID, c.relPath, false)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, nil
	}
	if lib.LastScan == nil {
		return true, nil
	}

	changed, err := mostRecentChange(c.path)
	if err != nil {
		return false, err
	}
	return !changed.Before(*lib.LastScan), nil
}

// processCandidate dispatches to single- or multi-file ingest.
func (s *Scanner) processCandidate(ctx context.Context, lib *domain.Library, c candidate) (*domain.Book, error) {
	if c.isDir {
		return s.createMultifileAudiobook(ctx, lib, c)
	}
	return s.createAudiobook(ctx, lib, c)
}

// createAudiobook implements single-file ingest.
func (s *Scanner) createAudiobook(ctx context.Context, lib *domain.Library, c candidate) (*domain.Book, error) {
	digest, err := hash.File(c.path)
	if err != nil {
		return nil, err
	}

	if existing, err := s.cat.FindBookByHash(ctx, lib.ID, digest[:]); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.Location != c.relPath {
			if err := s.cat.UpdateBookLocation(ctx, existing.ID, c.relPath); err != nil {
				return nil, err
			}
			existing.Location = c.relPath
		}
		return existing, nil
	}

	probe, err := media.Open(ctx, c.path)
	if err != nil {
		return nil, err
	}
	if !probe.HasAudioTrack() {
		return nil, vorlerrors.NotAnAudioFile(c.path)
	}

	meta := probe.Metadata()
	title := meta["title"]
	if title == "" {
		title = filepath.Base(c.path)
	}

	// A non-deleted book already at this location whose hash didn't match
	// above means its content changed in place; its id is preserved per
	// the "content change in place" invariant rather than minted fresh.
	bookID := uuid.NewString()
	contentChanged := false
	if inPlace, err := s.cat.FindBookByLocation(ctx, lib.ID, c.relPath, false); err != nil {
		return nil, err
	} else if inPlace != nil {
		bookID = inPlace.ID
		contentChanged = true
	}

	book := &domain.Book{
		ID:            bookID,
		LibraryID:     lib.ID,
		Location:      c.relPath,
		Title:         title,
		Artist:        meta["artist"],
		Length:        probe.Duration(),
		Hash:          digest[:],
		FileExtension: extensionOf(c.path),
		Deleted:       false,
	}

	chapters := probeChapters(book.ID, probe)

	var result *domain.Book
	err = s.cat.WithTx(ctx, func(tx *sql.Tx) error {
		if contentChanged {
			result, err = s.cat.UpdateBookContent(ctx, tx, book)
		} else {
			result, err = s.cat.UpsertBook(ctx, tx, book)
		}
		if err != nil {
			return err
		}
		if err := s.cat.ReplaceChapters(ctx, tx, result.ID, chapters); err != nil {
			return err
		}
		return s.saveCoverArt(ctx, result.ID, probe)
	})
	if err != nil {
		return nil, err
	}

	if err := s.symlinkArtifact(result, c.path); err != nil {
		return nil, err
	}
	return result, nil
}

// createMultifileAudiobook implements multi-file (directory) ingest.
func (s *Scanner) createMultifileAudiobook(ctx context.Context, lib *domain.Library, c candidate) (*domain.Book, error) {
	digest, err := hash.Directory(c.path)
	if err != nil {
		return nil, err
	}

	if existing, err := s.cat.FindBookByHash(ctx, lib.ID, digest[:]); err != nil {
		return nil, err
	} else if existing != nil {
		if existing.Location != c.relPath {
			if err := s.cat.UpdateBookLocation(ctx, existing.ID, c.relPath); err != nil {
				return nil, err
			}
			existing.Location = c.relPath
		}
		return existing, nil
	}

	ext, err := dominantExtension(c.path)
	if err != nil {
		return nil, err
	}

	files, err := humaneOrderedFiles(c.path, ext)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, vorlerrors.InvalidInputf("%s: no files with extension %q", c.path, ext)
	}

	// A non-deleted book already at this location whose hash didn't match
	// above means its content changed in place; its id is preserved per
	// the "content change in place" invariant rather than minted fresh.
	bookID := uuid.NewString()
	contentChanged := false
	if inPlace, err := s.cat.FindBookByLocation(ctx, lib.ID, c.relPath, false); err != nil {
		return nil, err
	} else if inPlace != nil {
		bookID = inPlace.ID
		contentChanged = true
	}

	var (
		chapters    []*domain.Chapter
		muxInputs   []string
		startTime   float64
		chapterIdx  int
		lastTitle   string
		haveChapter bool
		title       string
		artist      string
		coverProbe  *media.Probe
	)

	for i, f := range files {
		probe, err := media.Open(ctx, f)
		if err != nil {
			s.logger.Error("probing multi-file chapter", "path", f, "error", err)
			continue
		}

		if i == 0 {
			meta := probe.Metadata()
			title = meta["album"]
			artist = meta["artist"]
			coverProbe = probe
		}

		// A new chapter starts whenever the title tag changes from the
		// previous file's, or this is the first file: comparing against a
		// bool rather than seeding lastTitle with "" keeps "no title tag yet"
		// distinct from "title tag is the empty string", so chapter 0 is
		// always emitted even when the first file carries no title at all.
		chapTitle := probe.Metadata()["title"]
		if !haveChapter || chapTitle != lastTitle {
			chapters = append(chapters, &domain.Chapter{
				ID:        uuid.NewString(),
				BookID:    bookID,
				Number:    chapterIdx,
				Title:     chapTitle,
				StartTime: startTime,
			})
			chapterIdx++
			lastTitle = chapTitle
			haveChapter = true
		}

		muxInputs = append(muxInputs, f)
		startTime += probe.Duration()
	}

	if title == "" {
		title = filepath.Base(c.path)
	}

	tempTarget := filepath.Join(s.dataDir, fmt.Sprintf("%s.%s", uuid.NewString(), ext))
	if err := mux.Merge(ctx, tempTarget, muxInputs); err != nil {
		return nil, err
	}

	book := &domain.Book{
		ID:            bookID,
		LibraryID:     lib.ID,
		Location:      c.relPath,
		Title:         title,
		Artist:        artist,
		Length:        startTime,
		Hash:          digest[:],
		FileExtension: ext,
		Deleted:       false,
	}

	finalTarget := s.artifactPath(book)

	var result *domain.Book
	err = s.cat.WithTx(ctx, func(tx *sql.Tx) error {
		if contentChanged {
			result, err = s.cat.UpdateBookContent(ctx, tx, book)
		} else {
			result, err = s.cat.UpsertBook(ctx, tx, book)
		}
		if err != nil {
			return err
		}
		if err := s.cat.UpdateBookLength(ctx, tx, result.ID, startTime); err != nil {
			return err
		}
		if err := s.cat.ReplaceChapters(ctx, tx, result.ID, chapters); err != nil {
			return err
		}
		if err := os.Rename(tempTarget, finalTarget); err != nil {
			return vorlerrors.Io("renaming muxed artifact into place", err)
		}
		if coverProbe != nil {
			return s.saveCoverArt(ctx, result.ID, coverProbe)
		}
		return nil
	})
	if err != nil {
		os.Remove(tempTarget)
		return nil, err
	}
	return result, nil
}

// tombstoneSweep marks every non-deleted book in lib whose location no
// longer exists on disk as deleted. Chapters and cached artifacts are never
// cascade-deleted.
func (s *Scanner) tombstoneSweep(ctx context.Context, lib *domain.Library) error {
	books, err := s.cat.ListBooks(ctx, lib.ID, false)
	if err != nil {
		return vorlerrors.DbError("listing books for tombstone sweep", err)
	}

	for _, b := range books {
		abs := filepath.Join(lib.Location, b.Location)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			if err := s.cat.MarkDeleted(ctx, b.ID, true); err != nil {
				s.logger.Error("tombstoning missing book", "book_id", b.ID, "error", err)
			}
		}
	}
	return nil
}

// ensureArtifact restores a book's cached artifact if missing: symlink for
// single-file books, remux for multi-file books.
func (s *Scanner) ensureArtifact(ctx context.Context, lib *domain.Library, book *domain.Book, c candidate) error {
	target := s.artifactPath(book)
	if _, err := os.Lstat(target); err == nil {
		return nil
	}

	if !c.isDir {
		return s.symlinkArtifact(book, c.path)
	}

	ext := book.FileExtension
	files, err := humaneOrderedFiles(c.path, ext)
	if err != nil {
		return err
	}
	return mux.Merge(ctx, target, files)
}

func (s *Scanner) artifactPath(book *domain.Book) string {
	if book.FileExtension == "" {
		return filepath.Join(s.dataDir, book.ID)
	}
	return filepath.Join(s.dataDir, fmt.Sprintf("%s.%s", book.ID, book.FileExtension))
}

// symlinkArtifact links a book's cached artifact to its absolute source
// path. The target must be absolute: a relative symlink target resolves
// against the symlink's own directory, not the library root.
func (s *Scanner) symlinkArtifact(book *domain.Book, sourceAbsPath string) error {
	target := s.artifactPath(book)
	if _, err := os.Lstat(target); err == nil {
		return nil
	}
	if err := os.Symlink(sourceAbsPath, target); err != nil {
		return vorlerrors.Io("symlinking cached artifact", err)
	}
	return nil
}

func (s *Scanner) saveCoverArt(ctx context.Context, bookID string, probe *media.Probe) error {
	data, ok, err := probe.CoverArt(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	imgDir := filepath.Join(s.dataDir, "img")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return vorlerrors.Io("creating cover art directory", err)
	}
	if err := os.WriteFile(filepath.Join(imgDir, bookID), data, 0o644); err != nil {
		return vorlerrors.Io("writing cover art", err)
	}

	if hash, err := images.ComputeBlurHash(data); err != nil {
		s.logger.Warn("blurhash computation failed", "book_id", bookID, "error", err)
	} else if err := os.WriteFile(filepath.Join(imgDir, bookID+".blurhash"), []byte(hash), 0o644); err != nil {
		s.logger.Warn("writing blurhash failed", "book_id", bookID, "error", err)
	}

	return nil
}

func probeChapters(bookID string, probe *media.Probe) []*domain.Chapter {
	chapters := probe.Chapters()
	out := make([]*domain.Chapter, 0, len(chapters))
	for i, c := range chapters {
		out = append(out, &domain.Chapter{
			ID:        uuid.NewString(),
			BookID:    bookID,
			Number:    i,
			Title:     c.Title,
			StartTime: c.StartTime.Seconds(),
		})
	}
	return out
}

func extensionOf(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return ext[1:]
}

// dominantExtension returns the most common file extension under path,
// ties broken by lexicographic order for determinism.
func dominantExtension(path string) (string, error) {
	counts := map[string]int{}
	err := fswalk.Walk(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		counts[extensionOf(p)]++
		return nil
	})
	if err != nil {
		return "", vorlerrors.Io("walking directory for dominant extension", err)
	}

	best, bestCount := "", -1
	exts := make([]string, 0, len(counts))
	for ext := range counts {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		if counts[ext] > bestCount {
			best, bestCount = ext, counts[ext]
		}
	}
	return best, nil
}

// humaneOrderedFiles returns every regular file under dir with the given
// extension, in humane order.
func humaneOrderedFiles(dir, ext string) ([]string, error) {
	var files []string
	err := fswalk.Walk(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if extensionOf(p) != ext {
			return nil
		}
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, vorlerrors.Io("walking directory for chapter files", err)
	}

	sort.Slice(files, func(i, j int) bool {
		return hash.HumaneCompare(files[i], files[j]) < 0
	})
	return files, nil
}
