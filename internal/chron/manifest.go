package chron

import (
	"errors"
	"time"
)

// ErrCorruptSnapshot reports a persisted snapshot that fails to parse or
// fails the byte round-trip check for an entry. Such a snapshot is
// reported but excluded from diff and locate until repaired or discarded.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// ErrNotFinalized reports an attempt to use a snapshot that was never
// sealed. Partial snapshots are never treated as complete.
var ErrNotFinalized = errors.New("snapshot not finalized")

// ErrSnapshotSealed reports a write to a snapshot after Finalize.
var ErrSnapshotSealed = errors.New("snapshot already finalized")

// SnapshotEntry is one recorded entry of a snapshot.
type SnapshotEntry struct {
	Path    PathRef
	Kind    EntryKind
	Size    int64
	MTimeNS int64
	Hash    string  // files only
	Target  PathRef // symlinks only
	Err     string  // recorded per-entry traversal error, if any
}

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	ID         string
	RootLabel  string
	Root       PathRef
	StartedAt  time.Time
	FinishedAt time.Time
	Finalized  bool
	Entries    int64
	Files      int64
	Dirs       int64
	Symlinks   int64
	Errored    int64
}

// Snapshot is one immutable, point-in-time record of a directory tree,
// with entries in walk order.
type Snapshot struct {
	Info    SnapshotInfo
	Entries []SnapshotEntry
}

// SnapshotBuilder accepts entries from a single producing walk, in arrival
// order and without deduplication. A builder that is never finalized
// leaves no visible snapshot behind.
type SnapshotBuilder interface {
	Append(e SnapshotEntry) error

	// Finalize seals the snapshot and returns its description. Further
	// appends fail with ErrSnapshotSealed.
	Finalize(now time.Time) (*SnapshotInfo, error)
}

// SnapshotStore persists immutable snapshots tagged with a root label.
// Writes must never fail due to path content: any byte sequence is a valid
// entry path.
type SnapshotStore interface {
	// Begin opens a builder for a new snapshot of the given root.
	Begin(rootLabel string, root PathRef, now time.Time) (SnapshotBuilder, error)

	// List returns finalized snapshots, newest first, optionally filtered
	// by root label ("" matches all).
	List(rootLabel string) ([]*SnapshotInfo, error)

	// Load reads a finalized snapshot with all entries in walk order,
	// verifying the raw-path round trip for every entry.
	Load(id string) (*Snapshot, error)

	// Entries streams the entries of a finalized snapshot in walk order.
	Entries(id string, fn func(SnapshotEntry) error) error

	Close() error
}
