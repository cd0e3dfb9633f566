package chron

import (
	"errors"
	"time"
)

// ErrConflict reports a write-write race on a source's revision chain that
// survived the ledger's internal retries. It must never be silently
// dropped: callers re-read and re-decide.
var ErrConflict = errors.New("concurrent revision conflict")

// ErrNotTracked reports a source that has never been observed.
var ErrNotTracked = errors.New("source never observed")

// Source is the stable logical identity of one filesystem item across
// time: a scan-root label plus the raw path relative to that root. It never
// stores an absolute mount path. Sources are created on first observation
// and never deleted.
type Source struct {
	ID                string
	RootLabel         string
	RelPath           PathRef
	CreatedAt         time.Time
	CurrentRevisionID string
}

// Revision is one historical content state of a Source. Revisions are
// append-only and totally ordered by IngestedAt within their source; older
// revisions are retained forever.
type Revision struct {
	ID               string
	SourceID         string
	Identity         ContentIdentity
	ExtractorVersion string
	IngestedAt       time.Time
}

// Document is extractor output attached to a revision. The core stores it
// tagged by revision without interpreting its contents.
type Document struct {
	RevisionID string
	Title      string
	Text       string
	Metadata   map[string]string
	Status     string // "ok" or "error"
	Error      string
}

// Observation is the outcome of recording one observation of a source.
// Revision is nil when the observation was skipped.
type Observation struct {
	Source   *Source
	Revision *Revision
	Decision Decision
	Skipped  bool
}

// LedgerPolicy holds the explicit policy switches for revision creation.
type LedgerPolicy struct {
	Identity IdentityPolicy

	// ForceOnExtractorChange appends a new revision when the extractor
	// version differs from the latest revision's even though the content
	// identity is unchanged. Off by default.
	ForceOnExtractorChange bool
}

// OperationRecord is one CLI operation run against the ledger.
type OperationRecord struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}

// Ledger maintains the append-only revision chain per source.
//
// RecordObservation runs the read-decide-append sequence atomically with
// respect to other observations of the same source. Observations of
// different sources are independent.
type Ledger interface {
	// RecordObservation looks up the latest revision for the source
	// identified by (rootLabel, relPath), decides, and either appends a new
	// revision or performs no write and reports a skip. The source is
	// created on first observation.
	RecordObservation(rootLabel string, relPath PathRef, identity ContentIdentity, extractorVersion string, now time.Time) (*Observation, error)

	// FindSource returns the source for a root label and raw relative
	// path, or nil if it has never been observed.
	FindSource(rootLabel string, relPath PathRef) (*Source, error)

	// LatestRevision returns the most recent revision for a source, or nil.
	LatestRevision(sourceID string) (*Revision, error)

	// History returns every revision for a source, oldest first.
	History(sourceID string) ([]*Revision, error)

	// RevisionsSince returns revisions ingested at or after t, oldest
	// first, for incremental downstream rebuilds.
	RevisionsSince(t time.Time) ([]*Revision, error)

	// AttachDocument stores extractor output for a revision.
	AttachDocument(doc *Document) error

	// FindDocument returns the document attached to a revision, or nil.
	FindDocument(revisionID string) (*Document, error)

	// Operation tracking, mirrored for run summaries.
	CreateOperation(operation, parameters string, now time.Time) (int64, error)
	FinishOperation(id int64, status string, now time.Time) error
	ListOperations(limit int) ([]*OperationRecord, error)

	Close() error
}
