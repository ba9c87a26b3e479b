package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/hyperjump/docslot/internal/models"
)

const (
	// DriverCGO is github.com/mattn/go-sqlite3.
	DriverCGO = "sqlite3"
	// DriverPure is modernc.org/sqlite, usable with CGO_ENABLED=0.
	DriverPure = "sqlite"
)

// SQLiteRegistry implements Registry on a single SQLite database.
type SQLiteRegistry struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Option configures a SQLiteRegistry.
type Option func(*SQLiteRegistry)

// WithDriver selects the database/sql driver name (DriverCGO or DriverPure).
func WithDriver(driver string) Option {
	return func(r *SQLiteRegistry) {
		if driver != "" {
			r.driver = driver
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *SQLiteRegistry) { r.now = now }
}

// Open opens or creates the registry database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func Open(dbPath string, opts ...Option) (*SQLiteRegistry, error) {
	r := &SQLiteRegistry{driver: DriverCGO, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.driver != DriverCGO && r.driver != DriverPure {
		return nil, fmt.Errorf("unknown sqlite driver: %s (supported: %s, %s)", r.driver, DriverCGO, DriverPure)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open(r.driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer connection; statements never nest.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	r.db = db
	return r, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_path TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		keywords TEXT NOT NULL DEFAULT '',
		mapped_slot INTEGER UNIQUE,
		fingerprint TEXT NOT NULL DEFAULT '',
		stale INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS corpus_cursor (
		source_path TEXT PRIMARY KEY,
		outcome TEXT NOT NULL,
		document_id INTEGER,
		reason TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Driver returns the database/sql driver in use.
func (r *SQLiteRegistry) Driver() string {
	return r.driver
}

// UpsertPending records an extracted document with no slot, or refreshes the row left pending by an
// earlier interrupted run for the same path.
func (r *SQLiteRegistry) UpsertPending(ctx context.Context, doc PendingDocument) (models.DocumentID, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := r.now().Unix()
	var id int64
	var slot sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT id, mapped_slot FROM documents WHERE source_path = ?`, doc.SourcePath,
	).Scan(&id, &slot)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents (source_path, filename, content, keywords, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			doc.SourcePath, doc.Filename, doc.Content, doc.Keywords, now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert document: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	case slot.Valid:
		return 0, fmt.Errorf("%w: %s already mapped to slot %d", ErrDuplicateAssignment, doc.SourcePath, slot.Int64)
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET filename = ?, content = ?, keywords = ?, updated_at = ? WHERE id = ?`,
			doc.Filename, doc.Content, doc.Keywords, now, id,
		); err != nil {
			return 0, fmt.Errorf("refresh pending document: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return models.DocumentID(id), nil
}

// Assign binds slot to the document. It must be called once, right after the vector was appended.
func (r *SQLiteRegistry) Assign(ctx context.Context, id models.DocumentID, slot models.Slot) (*models.MappingEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := r.assignTx(ctx, tx, id, slot)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// Commit assigns the slot and advances the corpus cursor for sourcePath in one transaction.
func (r *SQLiteRegistry) Commit(ctx context.Context, id models.DocumentID, slot models.Slot, sourcePath string) (*models.MappingEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := r.assignTx(ctx, tx, id, slot)
	if err != nil {
		return nil, err
	}
	docID := int64(id)
	if err := r.advanceCursor(ctx, tx, sourcePath, models.CursorCommitted, &docID, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *SQLiteRegistry) assignTx(ctx context.Context, tx *sql.Tx, id models.DocumentID, slot models.Slot) (*models.MappingEntry, error) {
	if !slot.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}
	var current sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT mapped_slot FROM documents WHERE id = ?`, int64(id)).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	if err != nil {
		return nil, err
	}
	if current.Valid {
		return nil, fmt.Errorf("%w: document %d already owns slot %d", ErrDuplicateAssignment, id, current.Int64)
	}

	var owner int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM documents WHERE mapped_slot = ?`, int64(slot)).Scan(&owner)
	if err == nil {
		return nil, fmt.Errorf("%w: slot %d owned by document %d", ErrSlotTaken, slot, owner)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	entry := &models.MappingEntry{DocumentID: id, Slot: slot, Fingerprint: Fingerprint(id, slot)}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET mapped_slot = ?, fingerprint = ?, stale = 0, updated_at = ? WHERE id = ?`,
		int64(slot), entry.Fingerprint, r.now().Unix(), int64(id),
	); err != nil {
		return nil, fmt.Errorf("assign slot: %w", err)
	}
	return entry, nil
}

func (r *SQLiteRegistry) advanceCursor(ctx context.Context, tx *sql.Tx, sourcePath string, outcome models.CursorOutcome, docID *int64, reason string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO corpus_cursor (source_path, outcome, document_id, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_path) DO UPDATE SET
		 	outcome = excluded.outcome, document_id = excluded.document_id,
		 	reason = excluded.reason, updated_at = excluded.updated_at`,
		sourcePath, string(outcome), docID, reason, r.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}

// MarkSkipped advances the cursor past a source that produced no usable text. A row left
// pending for the same path by an earlier run is removed in the same transaction.
func (r *SQLiteRegistry) MarkSkipped(ctx context.Context, sourcePath, reason string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE source_path = ? AND mapped_slot IS NULL`, sourcePath,
	); err != nil {
		return fmt.Errorf("drop pending document: %w", err)
	}
	if err := r.advanceCursor(ctx, tx, sourcePath, models.CursorSkipped, nil, reason); err != nil {
		return err
	}
	return tx.Commit()
}

// Cursor returns every source path that has left the ingestion queue, keyed by path.
func (r *SQLiteRegistry) Cursor(ctx context.Context) (map[string]*models.CursorEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source_path, outcome, document_id, reason, updated_at FROM corpus_cursor`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cursor := make(map[string]*models.CursorEntry)
	for rows.Next() {
		var e models.CursorEntry
		var outcome string
		var docID sql.NullInt64
		var updated int64
		if err := rows.Scan(&e.SourcePath, &outcome, &docID, &e.Reason, &updated); err != nil {
			return nil, err
		}
		e.Outcome = models.CursorOutcome(outcome)
		if docID.Valid {
			id := models.DocumentID(docID.Int64)
			e.DocumentID = &id
		}
		e.UpdatedAt = time.Unix(updated, 0)
		cursor[e.SourcePath] = &e
	}
	return cursor, rows.Err()
}

// UpdateDerived replaces the extracted text and keyword summary of a document. The slot is untouched.
func (r *SQLiteRegistry) UpdateDerived(ctx context.Context, id models.DocumentID, content, keywords string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET content = ?, keywords = ?, updated_at = ? WHERE id = ?`,
		content, keywords, r.now().Unix(), int64(id),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	return nil
}

// Resolve returns the document owning slot.
func (r *SQLiteRegistry) Resolve(ctx context.Context, slot models.Slot) (models.DocumentID, error) {
	if !slot.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM documents WHERE mapped_slot = ?`, int64(slot)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	if err != nil {
		return 0, err
	}
	return models.DocumentID(id), nil
}

// ResolveDocument returns the slot owned by the document. Pending documents have none.
func (r *SQLiteRegistry) ResolveDocument(ctx context.Context, id models.DocumentID) (models.Slot, error) {
	var slot sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT mapped_slot FROM documents WHERE id = ?`, int64(id)).Scan(&slot)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !slot.Valid) {
		return models.NoMatch, fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	if err != nil {
		return models.NoMatch, err
	}
	return models.Slot(slot.Int64), nil
}

const documentColumns = `id, source_path, filename, content, keywords, mapped_slot, fingerprint, stale, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var id int64
	var slot sql.NullInt64
	var stale int
	var created, updated int64
	if err := row.Scan(&id, &doc.SourcePath, &doc.Filename, &doc.Content, &doc.Keywords,
		&slot, &doc.Fingerprint, &stale, &created, &updated); err != nil {
		return nil, err
	}
	doc.ID = models.DocumentID(id)
	if slot.Valid {
		s := models.Slot(slot.Int64)
		doc.Slot = &s
	}
	doc.Stale = stale != 0
	doc.CreatedAt = time.Unix(created, 0)
	doc.UpdatedAt = time.Unix(updated, 0)
	return &doc, nil
}

// GetDocument returns a document by identity, pending or not.
func (r *SQLiteRegistry) GetDocument(ctx context.Context, id models.DocumentID) (*models.Document, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	return doc, err
}

// GetDocumentByPath returns the document extracted from sourcePath.
func (r *SQLiteRegistry) GetDocumentByPath(ctx context.Context, sourcePath string) (*models.Document, error) {
	doc, err := scanDocument(r.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE source_path = ?`, sourcePath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDocument, sourcePath)
	}
	return doc, err
}

// Count returns the number of live mapping entries. Pending documents are not counted.
func (r *SQLiteRegistry) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE mapped_slot IS NOT NULL`).Scan(&n)
	return n, err
}

// PendingCount returns the number of documents extracted but not yet committed.
func (r *SQLiteRegistry) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE mapped_slot IS NULL`).Scan(&n)
	return n, err
}

// Entries returns every live mapping entry ordered by slot.
func (r *SQLiteRegistry) Entries(ctx context.Context) ([]*models.MappingEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, mapped_slot, fingerprint, stale FROM documents
		 WHERE mapped_slot IS NOT NULL ORDER BY mapped_slot`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.MappingEntry
	for rows.Next() {
		var id, slot int64
		var stale int
		var e models.MappingEntry
		if err := rows.Scan(&id, &slot, &e.Fingerprint, &stale); err != nil {
			return nil, err
		}
		e.DocumentID = models.DocumentID(id)
		e.Slot = models.Slot(slot)
		e.Stale = stale != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Sample returns the first n mapped documents in slot order.
func (r *SQLiteRegistry) Sample(ctx context.Context, n int) ([]*models.Document, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE mapped_slot IS NOT NULL ORDER BY mapped_slot LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// MarkStale flags or clears the advisory stale marker on a mapped document.
func (r *SQLiteRegistry) MarkStale(ctx context.Context, id models.DocumentID, stale bool) error {
	flag := 0
	if stale {
		flag = 1
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET stale = ?, updated_at = ? WHERE id = ? AND mapped_slot IS NOT NULL`,
		flag, r.now().Unix(), int64(id),
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrUnknownDocument, id)
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}

var _ Registry = (*SQLiteRegistry)(nil)
