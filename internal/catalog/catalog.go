// Package catalog provides SQLite-backed persistence for libraries,
// audiobooks, and chapters: the typed store the scanner reconciles against.
package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vorleser/vorleser-server/internal/domain"
	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
	"github.com/vorleser/vorleser-server/internal/validation"
)

//go:embed schema.sql
var schemaSQL string

// Catalog is the transactional relational store of §3's entities.
type Catalog struct {
	db        *sql.DB
	logger    *slog.Logger
	validator *validation.Validator
}

// Open opens (creating if absent) a SQLite catalog at path, configuring WAL
// mode and per-connection pragmas, and applying the schema.
func Open(path string, logger *slog.Logger) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, vorlerrors.DbError("open sqlite", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, vorlerrors.DbError(fmt.Sprintf("exec pragma %q", pragma), err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, vorlerrors.DbError("exec schema", err)
	}

	return &Catalog{db: db, logger: logger, validator: validation.New()}, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// --- Libraries ---------------------------------------------------------

const libraryColumns = `id, location, audiobook_pattern, last_scan`

func scanLibrary(scanner interface{ Scan(dest ...any) error }) (*domain.Library, error) {
	var lib domain.Library
	var lastScan sql.NullString
	if err := scanner.Scan(&lib.ID, &lib.Location, &lib.AudiobookPattern, &lastScan); err != nil {
		return nil, err
	}
	ts, err := parseNullableTime(lastScan)
	if err != nil {
		return nil, err
	}
	lib.LastScan = ts
	return &lib, nil
}

// CreateLibrary inserts a new library row. location must be absolute and
// audiobook_pattern must be a valid regex: both are validated here so the
// invariant holds at insert time regardless of caller.
func (c *Catalog) CreateLibrary(ctx context.Context, lib *domain.Library) error {
	if err := c.validator.Validate(lib); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO libraries (id, location, audiobook_pattern, last_scan) VALUES (?, ?, ?, ?)`,
		lib.ID, lib.Location, lib.AudiobookPattern, nullTimePtrString(lib.LastScan),
	)
	if err != nil {
		return vorlerrors.DbError("insert library", err)
	}
	return nil
}

// GetLibrary fetches a library by id.
func (c *Catalog) GetLibrary(ctx context.Context, id string) (*domain.Library, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+libraryColumns+` FROM libraries WHERE id = ?`, id)
	lib, err := scanLibrary(row)
	if err == sql.ErrNoRows {
		return nil, vorlerrors.NotFoundf("library %s", id)
	}
	if err != nil {
		return nil, vorlerrors.DbError("scan library", err)
	}
	return lib, nil
}

// ListLibraries returns every library, in no particular order.
func (c *Catalog) ListLibraries(ctx context.Context) ([]*domain.Library, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+libraryColumns+` FROM libraries`)
	if err != nil {
		return nil, vorlerrors.DbError("list libraries", err)
	}
	defer rows.Close()

	var out []*domain.Library
	for rows.Next() {
		lib, err := scanLibrary(rows)
		if err != nil {
			return nil, vorlerrors.DbError("scan library", err)
		}
		out = append(out, lib)
	}
	return out, rows.Err()
}

// UpdateLibraryLastScan persists the timestamp of the most recently
// completed scan.
func (c *Catalog) UpdateLibraryLastScan(ctx context.Context, libraryID string, ts time.Time) error {
	_, err := c.db.ExecContext(ctx,
		`UPDATE libraries SET last_scan = ? WHERE id = ?`, formatTime(ts), libraryID,
	)
	if err != nil {
		return vorlerrors.DbError("update library last_scan", err)
	}
	return nil
}

func nullTimePtrString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// --- Books ---------------------------------------------------------------

const bookColumns = `id, library_id, location, title, artist, length, hash, file_extension, deleted`

func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, error) {
	var b domain.Book
	var artist sql.NullString
	var deleted int
	if err := scanner.Scan(&b.ID, &b.LibraryID, &b.Location, &b.Title, &artist, &b.Length, &b.Hash, &b.FileExtension, &deleted); err != nil {
		return nil, err
	}
	if artist.Valid {
		b.Artist = artist.String
	}
	b.Deleted = deleted != 0
	return &b, nil
}

// FindBookByHash returns the non-deleted book with the given content hash in
// lib, or nil if absent.
func (c *Catalog) FindBookByHash(ctx context.Context, libraryID string, hash []byte) (*domain.Book, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM audiobooks WHERE library_id = ? AND hash = ? AND deleted = 0`,
		libraryID, hash,
	)
	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, vorlerrors.DbError("scan book by hash", err)
	}
	return b, nil
}

// FindBookByLocation returns the book at (libraryID, relPath). Deleted
// (tombstoned) books are excluded unless includeDeleted is set.
func (c *Catalog) FindBookByLocation(ctx context.Context, libraryID, relPath string, includeDeleted bool) (*domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM audiobooks WHERE library_id = ? AND location = ?`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	row := c.db.QueryRowContext(ctx, query, libraryID, relPath)
	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, vorlerrors.DbError("scan book by location", err)
	}
	return b, nil
}

// FindBookByID returns the book with the given id, including tombstoned
// ones (callers that must not serve a tombstoned book check Deleted).
func (c *Catalog) FindBookByID(ctx context.Context, bookID string) (*domain.Book, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM audiobooks WHERE id = ?`, bookID)
	b, err := scanBook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, vorlerrors.DbError("scan book by id", err)
	}
	return b, nil
}

// UpsertBook inserts book if no book with (library_id, hash) exists;
// otherwise returns the existing row unchanged. Atomic via INSERT ... ON
// CONFLICT(library_id, hash) DO NOTHING plus a follow-up read in the same
// transaction.
func (c *Catalog) UpsertBook(ctx context.Context, tx *sql.Tx, book *domain.Book) (*domain.Book, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO audiobooks (id, library_id, location, title, artist, length, hash, file_extension, deleted)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(library_id, hash) DO NOTHING`,
		book.ID, book.LibraryID, book.Location, book.Title, nullableString(book.Artist),
		book.Length, book.Hash, book.FileExtension, boolToInt(book.Deleted),
	)
	if err != nil {
		return nil, vorlerrors.DbError("upsert book", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM audiobooks WHERE library_id = ? AND hash = ?`,
		book.LibraryID, book.Hash,
	)
	existing, err := scanBook(row)
	if err != nil {
		return nil, vorlerrors.DbError("reload upserted book", err)
	}
	return existing, nil
}

// UpdateBookContent updates hash, title, artist, length, and file_extension
// on an existing row in place. Used for the "content change in place" case
// (id unchanged, content replaced at the same location): UpsertBook's
// insert would otherwise collide with book.ID's own primary key once hash
// no longer matches the stored row.
func (c *Catalog) UpdateBookContent(ctx context.Context, tx *sql.Tx, book *domain.Book) (*domain.Book, error) {
	_, err := tx.ExecContext(ctx,
		`UPDATE audiobooks SET hash = ?, title = ?, artist = ?, length = ?, file_extension = ? WHERE id = ?`,
		book.Hash, book.Title, nullableString(book.Artist), book.Length, book.FileExtension, book.ID,
	)
	if err != nil {
		return nil, vorlerrors.DbError("update book content", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM audiobooks WHERE id = ?`, book.ID)
	updated, err := scanBook(row)
	if err != nil {
		return nil, vorlerrors.DbError("reload updated book", err)
	}
	return updated, nil
}

// UpdateBookLocation updates a book's location field, used by the scanner's
// fast path when a matching hash is found at a new path.
func (c *Catalog) UpdateBookLocation(ctx context.Context, bookID, location string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE audiobooks SET location = ? WHERE id = ?`, location, bookID)
	if err != nil {
		return vorlerrors.DbError("update book location", err)
	}
	return nil
}

// UpdateBookLength sets length on a book, used after multi-file muxing
// determines the total duration.
func (c *Catalog) UpdateBookLength(ctx context.Context, tx *sql.Tx, bookID string, length float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE audiobooks SET length = ? WHERE id = ?`, length, bookID)
	if err != nil {
		return vorlerrors.DbError("update book length", err)
	}
	return nil
}

// MarkDeleted sets or clears a book's tombstone flag.
func (c *Catalog) MarkDeleted(ctx context.Context, bookID string, deleted bool) error {
	_, err := c.db.ExecContext(ctx, `UPDATE audiobooks SET deleted = ? WHERE id = ?`, boolToInt(deleted), bookID)
	if err != nil {
		return vorlerrors.DbError("mark deleted", err)
	}
	return nil
}

// ListBooks returns all books in a library, optionally including tombstoned
// ones.
func (c *Catalog) ListBooks(ctx context.Context, libraryID string, includeDeleted bool) ([]*domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM audiobooks WHERE library_id = ?`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	rows, err := c.db.QueryContext(ctx, query, libraryID)
	if err != nil {
		return nil, vorlerrors.DbError("list books", err)
	}
	defer rows.Close()

	var out []*domain.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, vorlerrors.DbError("scan book", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- Chapters --------------------------------------------------------------

// ReplaceChapters deletes all chapters for bookID and inserts newChapters, in
// one transaction.
func (c *Catalog) ReplaceChapters(ctx context.Context, tx *sql.Tx, bookID string, newChapters []*domain.Chapter) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chapters WHERE book_id = ?`, bookID); err != nil {
		return vorlerrors.DbError("delete chapters", err)
	}
	for _, ch := range newChapters {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chapters (id, book_id, number, title, start_time) VALUES (?, ?, ?, ?, ?)`,
			ch.ID, bookID, ch.Number, nullableString(ch.Title), ch.StartTime,
		)
		if err != nil {
			return vorlerrors.DbError("insert chapter", err)
		}
	}
	return nil
}

// ListChapters returns a book's chapters in (number, start_time) order.
func (c *Catalog) ListChapters(ctx context.Context, bookID string) ([]*domain.Chapter, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, book_id, number, title, start_time FROM chapters WHERE book_id = ? ORDER BY number, start_time`,
		bookID,
	)
	if err != nil {
		return nil, vorlerrors.DbError("list chapters", err)
	}
	defer rows.Close()

	var out []*domain.Chapter
	for rows.Next() {
		var ch domain.Chapter
		var title sql.NullString
		if err := rows.Scan(&ch.ID, &ch.BookID, &ch.Number, &title, &ch.StartTime); err != nil {
			return nil, vorlerrors.DbError("scan chapter", err)
		}
		if title.Valid {
			ch.Title = title.String
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

// --- Transactions ------------------------------------------------------

// WithTx runs fn inside a single transaction, covering Book upsert, chapter
// replacement, and (for multi-file books) artifact rename, per the
// transactional discipline of §4.5. The transaction is the driver's default
// deferred one, not BEGIN EXCLUSIVE: SQLite takes its locks when fn first
// reads or writes, not when the transaction begins.
func (c *Catalog) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return vorlerrors.DbError("begin transaction", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return vorlerrors.DbError("commit transaction", err)
	}
	return nil
}
