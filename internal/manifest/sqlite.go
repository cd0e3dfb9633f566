// Package manifest implements the snapshot store on SQLite.
package manifest

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"chron-go/internal/chron"
	"chron-go/internal/manifest/migrations"
)

// flushBatch is how many entries a builder buffers before writing them in
// one transaction.
const flushBatch = 500

// SQLiteStore implements chron.SnapshotStore on a SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	idgen chron.IDGenerator
	path  string
}

// Open opens (or creates) a snapshot database at path and migrates it to
// the latest schema. path may be ":memory:" for tests.
func Open(path string, idgen chron.IDGenerator) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating snapshot store: %w", err)
	}
	if idgen == nil {
		idgen = chron.UUIDGenerator{}
	}
	return &SQLiteStore{db: db, idgen: idgen, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection for the snapshot
// store. One pooled connection keeps in-memory databases coherent.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

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
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Begin opens a builder for a new snapshot. The snapshot row is created
// immediately with finalized = 0 so an abandoned scan leaves nothing
// visible.
func (s *SQLiteStore) Begin(rootLabel string, root chron.PathRef, now time.Time) (chron.SnapshotBuilder, error) {
	id := s.idgen.New()
	_, err := s.db.Exec(
		`INSERT INTO snapshots (id, root_label, root, root_raw, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, rootLabel, root.Display, root.RawBase64(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}
	return &builder{
		store: s,
		info: chron.SnapshotInfo{
			ID:        id,
			RootLabel: rootLabel,
			Root:      root,
			StartedAt: now,
		},
	}, nil
}

// builder accepts entries from a single producing walk. It is not safe for
// concurrent use; parallel walkers must merge into one writer.
type builder struct {
	store  *SQLiteStore
	info   chron.SnapshotInfo
	buf    []chron.SnapshotEntry
	ord    int64
	sealed bool
}

func (b *builder) Append(e chron.SnapshotEntry) error {
	if b.sealed {
		return chron.ErrSnapshotSealed
	}
	b.buf = append(b.buf, e)
	b.info.Entries++
	switch {
	case e.Err != "":
		b.info.Errored++
	case e.Kind == chron.KindFile:
		b.info.Files++
	case e.Kind == chron.KindDir:
		b.info.Dirs++
	case e.Kind == chron.KindSymlink:
		b.info.Symlinks++
	}
	if len(b.buf) >= flushBatch {
		return b.flush()
	}
	return nil
}

func (b *builder) flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	tx, err := b.store.db.Begin()
	if err != nil {
		return fmt.Errorf("starting entry transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO entries (snapshot_id, ord, path, path_raw, kind, size, mtime_ns, hash, link_target, link_target_raw, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range b.buf {
		var hash, target, targetRaw, entryErr sql.NullString
		if e.Hash != "" {
			hash = sql.NullString{String: e.Hash, Valid: true}
		}
		if e.Kind == chron.KindSymlink && !e.Target.IsZero() {
			target = sql.NullString{String: e.Target.Display, Valid: true}
			targetRaw = sql.NullString{String: e.Target.RawBase64(), Valid: true}
		}
		if e.Err != "" {
			entryErr = sql.NullString{String: e.Err, Valid: true}
		}
		_, err := stmt.Exec(
			b.info.ID, b.ord, e.Path.Display, e.Path.RawBase64(), string(e.Kind),
			e.Size, e.MTimeNS, hash, target, targetRaw, entryErr,
		)
		if err != nil {
			return fmt.Errorf("inserting entry %s: %w", e.Path, err)
		}
		b.ord++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing entries: %w", err)
	}
	b.buf = b.buf[:0]
	return nil
}

// Finalize seals the snapshot: remaining entries are written, counts and
// finished_at recorded, and the finalized flag set. Only then does the
// snapshot become visible to List, Load and Entries.
func (b *builder) Finalize(now time.Time) (*chron.SnapshotInfo, error) {
	if b.sealed {
		return nil, chron.ErrSnapshotSealed
	}
	if err := b.flush(); err != nil {
		return nil, err
	}

	b.info.FinishedAt = now
	b.info.Finalized = true
	_, err := b.store.db.Exec(
		`UPDATE snapshots SET finalized = 1, finished_at = ?, entries = ?, files = ?, dirs = ?, symlinks = ?, errored = ? WHERE id = ?`,
		now, b.info.Entries, b.info.Files, b.info.Dirs, b.info.Symlinks, b.info.Errored, b.info.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("finalizing snapshot: %w", err)
	}

	b.sealed = true
	info := b.info
	return &info, nil
}

// List returns finalized snapshots, newest first, optionally filtered by
// root label.
func (s *SQLiteStore) List(rootLabel string) ([]*chron.SnapshotInfo, error) {
	query := `SELECT id, root_label, root_raw, started_at, finished_at, entries, files, dirs, symlinks, errored
	          FROM snapshots WHERE finalized = 1`
	args := []any{}
	if rootLabel != "" {
		query += ` AND root_label = ?`
		args = append(args, rootLabel)
	}
	query += ` ORDER BY started_at DESC, id DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var infos []*chron.SnapshotInfo
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading snapshots: %w", err)
	}
	return infos, nil
}

func scanInfo(rows *sql.Rows) (*chron.SnapshotInfo, error) {
	var info chron.SnapshotInfo
	var rootB64 string
	var finished sql.NullTime
	err := rows.Scan(&info.ID, &info.RootLabel, &rootB64, &info.StartedAt, &finished,
		&info.Entries, &info.Files, &info.Dirs, &info.Symlinks, &info.Errored)
	if err != nil {
		return nil, fmt.Errorf("scanning snapshot: %w", err)
	}
	info.Root, err = chron.DecodeRawBase64(rootB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad root encoding for %s: %v", chron.ErrCorruptSnapshot, info.ID, err)
	}
	if finished.Valid {
		info.FinishedAt = finished.Time
	}
	info.Finalized = true
	return &info, nil
}

// info loads a single snapshot header, enforcing the finalized flag.
func (s *SQLiteStore) infoByID(id string) (*chron.SnapshotInfo, error) {
	var info chron.SnapshotInfo
	var rootB64 string
	var finished sql.NullTime
	var finalized bool
	err := s.db.QueryRow(
		`SELECT id, root_label, root_raw, started_at, finished_at, finalized, entries, files, dirs, symlinks, errored
		 FROM snapshots WHERE id = ?`, id,
	).Scan(&info.ID, &info.RootLabel, &rootB64, &info.StartedAt, &finished, &finalized,
		&info.Entries, &info.Files, &info.Dirs, &info.Symlinks, &info.Errored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", id, err)
	}
	if !finalized {
		return nil, fmt.Errorf("%w: %s", chron.ErrNotFinalized, id)
	}
	info.Root, err = chron.DecodeRawBase64(rootB64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad root encoding for %s: %v", chron.ErrCorruptSnapshot, id, err)
	}
	if finished.Valid {
		info.FinishedAt = finished.Time
	}
	info.Finalized = true
	return &info, nil
}

// Entries streams the entries of a finalized snapshot in walk order,
// verifying the raw-path round trip for each row.
func (s *SQLiteStore) Entries(id string, fn func(chron.SnapshotEntry) error) error {
	if _, err := s.infoByID(id); err != nil {
		return err
	}

	rows, err := s.db.Query(
		`SELECT path, path_raw, kind, size, mtime_ns, hash, link_target_raw, error
		 FROM entries WHERE snapshot_id = ? ORDER BY ord ASC`, id,
	)
	if err != nil {
		return fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var display, rawB64, kind string
		var hash, targetRaw, entryErr sql.NullString
		var e chron.SnapshotEntry
		if err := rows.Scan(&display, &rawB64, &kind, &e.Size, &e.MTimeNS, &hash, &targetRaw, &entryErr); err != nil {
			return fmt.Errorf("scanning entry: %w", err)
		}

		e.Path, err = chron.DecodeRawBase64(rawB64)
		if err != nil {
			return fmt.Errorf("%w: undecodable path in %s: %v", chron.ErrCorruptSnapshot, id, err)
		}
		// Round-trip check: the stored display form must be exactly what
		// the raw bytes decode to, or the row has been damaged.
		if e.Path.Display != display {
			return fmt.Errorf("%w: display/raw mismatch for %q in %s", chron.ErrCorruptSnapshot, display, id)
		}

		e.Kind = chron.EntryKind(kind)
		e.Hash = hash.String
		e.Err = entryErr.String
		if targetRaw.Valid {
			e.Target, err = chron.DecodeRawBase64(targetRaw.String)
			if err != nil {
				return fmt.Errorf("%w: undecodable link target in %s: %v", chron.ErrCorruptSnapshot, id, err)
			}
		}

		if err := fn(e); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading entries: %w", err)
	}
	return nil
}

// Load reads a finalized snapshot with all entries in walk order.
func (s *SQLiteStore) Load(id string) (*chron.Snapshot, error) {
	info, err := s.infoByID(id)
	if err != nil {
		return nil, err
	}

	snap := &chron.Snapshot{Info: *info}
	err = s.Entries(id, func(e chron.SnapshotEntry) error {
		snap.Entries = append(snap.Entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if int64(len(snap.Entries)) != info.Entries {
		return nil, fmt.Errorf("%w: %s has %d entries, header says %d",
			chron.ErrCorruptSnapshot, id, len(snap.Entries), info.Entries)
	}
	return snap, nil
}

// Compile-time check that SQLiteStore implements chron.SnapshotStore.
var _ chron.SnapshotStore = (*SQLiteStore)(nil)
