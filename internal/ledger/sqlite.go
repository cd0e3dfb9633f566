// Package ledger implements the revision ledger on SQLite.
package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"chron-go/internal/chron"
	"chron-go/internal/ledger/migrations"
)

// sourceStripes sizes the per-source lock table. Observations of different
// sources proceed independently; two sources sharing a stripe merely
// serialize, which is harmless.
const sourceStripes = 64

// conflictRetries bounds re-reads after a busy writer before surfacing
// ErrConflict.
const conflictRetries = 5

// SQLiteLedger implements chron.Ledger on a SQLite database.
type SQLiteLedger struct {
	db     *sql.DB
	policy chron.LedgerPolicy
	idgen  chron.IDGenerator
	path   string
	mu     [sourceStripes]sync.Mutex
}

// Open opens (or creates) a ledger database at path and migrates it to the
// latest schema. path may be ":memory:" for tests.
func Open(path string, policy chron.LedgerPolicy, idgen chron.IDGenerator) (*SQLiteLedger, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating ledger: %w", err)
	}
	if idgen == nil {
		idgen = chron.UUIDGenerator{}
	}
	return &SQLiteLedger{db: db, policy: policy, idgen: idgen, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection. The pool is
// capped at one connection: that keeps an in-memory database coherent and
// makes SQLite's single-writer model explicit.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Foreign keys default to OFF in SQLite for backward compatibility.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return db, nil
}

// Path returns the database file path (or ":memory:").
func (l *SQLiteLedger) Path() string { return l.path }

// CheckMigrations verifies the schema is current.
func (l *SQLiteLedger) CheckMigrations() error {
	return migrations.CheckStatus(l.db)
}

// Close closes the database connection.
func (l *SQLiteLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// sourceLock returns the stripe lock for one source identity.
func (l *SQLiteLedger) sourceLock(rootLabel string, relPath chron.PathRef) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(rootLabel))
	h.Write([]byte{0})
	h.Write(relPath.Bytes())
	return &l.mu[h.Sum32()%sourceStripes]
}

// RecordObservation runs the read-decide-append sequence for one source in
// a single transaction, serialized per source. A busy writer triggers a
// bounded retry with a fresh read; exhaustion surfaces ErrConflict rather
// than dropping the observation.
func (l *SQLiteLedger) RecordObservation(rootLabel string, relPath chron.PathRef, identity chron.ContentIdentity, extractorVersion string, now time.Time) (*chron.Observation, error) {
	mu := l.sourceLock(rootLabel, relPath)
	mu.Lock()
	defer mu.Unlock()

	var obs *chron.Observation
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		obs, err = l.recordOnce(rootLabel, relPath, identity, extractorVersion, now)
		if err == nil || !isBusy(err) {
			return obs, err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return nil, fmt.Errorf("%w: %v", chron.ErrConflict, err)
}

func (l *SQLiteLedger) recordOnce(rootLabel string, relPath chron.PathRef, identity chron.ContentIdentity, extractorVersion string, now time.Time) (*chron.Observation, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	src, err := findSourceTx(tx, rootLabel, relPath)
	if err != nil {
		return nil, err
	}
	if src == nil {
		src = &chron.Source{
			ID:        l.idgen.New(),
			RootLabel: rootLabel,
			RelPath:   relPath,
			CreatedAt: now,
		}
		_, err = tx.Exec(
			`INSERT INTO sources (id, root_label, rel_path, rel_path_raw, created_at) VALUES (?, ?, ?, ?, ?)`,
			src.ID, rootLabel, relPath.Display, relPath.RawBase64(), now,
		)
		if err != nil {
			return nil, fmt.Errorf("creating source: %w", err)
		}
	}

	prev, err := latestRevisionTx(tx, src.ID)
	if err != nil {
		return nil, err
	}

	var prevIdentity *chron.ContentIdentity
	if prev != nil {
		prevIdentity = &prev.Identity
	}
	decision := chron.Decide(prevIdentity, identity, l.policy.Identity)

	wantRevision := decision != chron.DecisionUnchanged
	if !wantRevision && l.policy.ForceOnExtractorChange && prev.ExtractorVersion != extractorVersion {
		wantRevision = true
	}

	if !wantRevision {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing transaction: %w", err)
		}
		return &chron.Observation{Source: src, Decision: decision, Skipped: true}, nil
	}

	rev := &chron.Revision{
		ID:               l.idgen.New(),
		SourceID:         src.ID,
		Identity:         identity,
		ExtractorVersion: extractorVersion,
		IngestedAt:       now,
	}
	_, err = tx.Exec(
		`INSERT INTO revisions (id, source_id, hash, size, mtime_ns, extractor_version, ingested_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rev.ID, rev.SourceID, identity.Hash, identity.Size, identity.MTimeNS, extractorVersion, now,
	)
	if err != nil {
		return nil, fmt.Errorf("appending revision: %w", err)
	}

	_, err = tx.Exec(`UPDATE sources SET current_revision_id = ? WHERE id = ?`, rev.ID, src.ID)
	if err != nil {
		return nil, fmt.Errorf("updating current revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	src.CurrentRevisionID = rev.ID
	return &chron.Observation{Source: src, Revision: rev, Decision: decision}, nil
}

// FindSource returns the source for a root label and raw relative path, or
// nil if it has never been observed.
func (l *SQLiteLedger) FindSource(rootLabel string, relPath chron.PathRef) (*chron.Source, error) {
	return scanSource(l.db.QueryRow(
		`SELECT id, root_label, rel_path_raw, created_at, current_revision_id
		 FROM sources WHERE root_label = ? AND rel_path_raw = ?`,
		rootLabel, relPath.RawBase64(),
	))
}

func findSourceTx(tx *sql.Tx, rootLabel string, relPath chron.PathRef) (*chron.Source, error) {
	return scanSource(tx.QueryRow(
		`SELECT id, root_label, rel_path_raw, created_at, current_revision_id
		 FROM sources WHERE root_label = ? AND rel_path_raw = ?`,
		rootLabel, relPath.RawBase64(),
	))
}

func scanSource(row *sql.Row) (*chron.Source, error) {
	var src chron.Source
	var rawB64 string
	var current sql.NullString
	err := row.Scan(&src.ID, &src.RootLabel, &rawB64, &src.CreatedAt, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding source: %w", err)
	}
	src.RelPath, err = chron.DecodeRawBase64(rawB64)
	if err != nil {
		return nil, fmt.Errorf("decoding source path: %w", err)
	}
	src.CurrentRevisionID = current.String
	return &src, nil
}

// LatestRevision returns the most recent revision for a source, or nil.
func (l *SQLiteLedger) LatestRevision(sourceID string) (*chron.Revision, error) {
	rows, err := l.db.Query(revisionSelect+` WHERE source_id = ? ORDER BY ingested_at DESC, rowid DESC LIMIT 1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying latest revision: %w", err)
	}
	revs, err := scanRevisions(rows)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, nil
	}
	return revs[0], nil
}

func latestRevisionTx(tx *sql.Tx, sourceID string) (*chron.Revision, error) {
	rows, err := tx.Query(revisionSelect+` WHERE source_id = ? ORDER BY ingested_at DESC, rowid DESC LIMIT 1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying latest revision: %w", err)
	}
	revs, err := scanRevisions(rows)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, nil
	}
	return revs[0], nil
}

// History returns every revision for a source, oldest first.
func (l *SQLiteLedger) History(sourceID string) ([]*chron.Revision, error) {
	rows, err := l.db.Query(revisionSelect+` WHERE source_id = ? ORDER BY ingested_at ASC, rowid ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying revision history: %w", err)
	}
	return scanRevisions(rows)
}

// RevisionsSince returns revisions ingested at or after t, oldest first.
func (l *SQLiteLedger) RevisionsSince(t time.Time) ([]*chron.Revision, error) {
	rows, err := l.db.Query(revisionSelect+` WHERE ingested_at >= ? ORDER BY ingested_at ASC, rowid ASC`, t)
	if err != nil {
		return nil, fmt.Errorf("querying revisions since: %w", err)
	}
	return scanRevisions(rows)
}

const revisionSelect = `SELECT id, source_id, hash, size, mtime_ns, extractor_version, ingested_at FROM revisions`

func scanRevisions(rows *sql.Rows) ([]*chron.Revision, error) {
	defer rows.Close()
	var revs []*chron.Revision
	for rows.Next() {
		var r chron.Revision
		err := rows.Scan(&r.ID, &r.SourceID, &r.Identity.Hash, &r.Identity.Size, &r.Identity.MTimeNS, &r.ExtractorVersion, &r.IngestedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		revs = append(revs, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading revisions: %w", err)
	}
	return revs, nil
}

// AttachDocument stores extractor output for a revision, replacing any
// prior attempt for the same revision.
func (l *SQLiteLedger) AttachDocument(doc *chron.Document) error {
	meta := "{}"
	if len(doc.Metadata) > 0 {
		b, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("encoding document metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := l.db.Exec(
		`INSERT OR REPLACE INTO documents (revision_id, title, text, metadata, status, error) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.RevisionID, doc.Title, doc.Text, meta, doc.Status, doc.Error,
	)
	if err != nil {
		return fmt.Errorf("attaching document: %w", err)
	}
	return nil
}

// FindDocument returns the document attached to a revision, or nil.
func (l *SQLiteLedger) FindDocument(revisionID string) (*chron.Document, error) {
	var doc chron.Document
	var meta string
	err := l.db.QueryRow(
		`SELECT revision_id, title, text, metadata, status, error FROM documents WHERE revision_id = ?`,
		revisionID,
	).Scan(&doc.RevisionID, &doc.Title, &doc.Text, &meta, &doc.Status, &doc.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding document: %w", err)
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decoding document metadata: %w", err)
		}
	}
	return &doc, nil
}

// CreateOperation records the start of a CLI operation.
func (l *SQLiteLedger) CreateOperation(operation, parameters string, now time.Time) (int64, error) {
	res, err := l.db.Exec(
		`INSERT INTO operations (operation, parameters, started_at) VALUES (?, ?, ?)`,
		operation, parameters, now,
	)
	if err != nil {
		return 0, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading operation id: %w", err)
	}
	return id, nil
}

// FinishOperation marks an operation finished with the given status.
func (l *SQLiteLedger) FinishOperation(id int64, status string, now time.Time) error {
	_, err := l.db.Exec(`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`, now, status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

// ListOperations returns the most recent operations, newest first.
func (l *SQLiteLedger) ListOperations(limit int) ([]*chron.OperationRecord, error) {
	rows, err := l.db.Query(
		`SELECT id, operation, parameters, started_at, finished_at, status
		 FROM operations ORDER BY id DESC LIMIT ?`, int64(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*chron.OperationRecord
	for rows.Next() {
		var op chron.OperationRecord
		var finished sql.NullTime
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading operations: %w", err)
	}
	return ops, nil
}

// isBusy reports whether err is SQLite's busy/locked writer signal.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// Compile-time check that SQLiteLedger implements chron.Ledger.
var _ chron.Ledger = (*SQLiteLedger)(nil)
