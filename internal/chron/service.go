package chron

import (
	"errors"
	"fmt"
	"mime"
	"path"
	"time"
)

// Summary reports the per-entry outcomes of an ingest or scan run. Per-entry
// failures are counted here rather than failing the whole run.
type Summary struct {
	New       int
	Changed   int
	Unchanged int
	Errored   int
	Files     int
	Dirs      int
	Symlinks  int
	Bytes     int64
}

// ProgressFunc receives periodic progress while a run is underway.
type ProgressFunc func(entries int, bytes int64)

// Service coordinates the walker, the content identity engine, the revision
// ledger and the snapshot store to perform the high-level operations the
// CLI needs.
type Service struct {
	ledger           Ledger
	store            SnapshotStore
	fsmgr            FilesystemManager
	extractor        Extractor
	extractorVersion string
	policy           LedgerPolicy
	logger           Logger
	clock            Clock
	workers          int

	// Progress, when set, is invoked every ProgressEvery processed entries.
	Progress      ProgressFunc
	ProgressEvery int
}

// NewService creates a Service. extractor may be nil when ingestion should
// skip text extraction entirely; workers < 1 means a single hashing worker.
func NewService(ledger Ledger, store SnapshotStore, fsmgr FilesystemManager, extractor Extractor, extractorVersion string, policy LedgerPolicy, logger Logger, clock Clock, workers int) *Service {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Service{
		ledger:           ledger,
		store:            store,
		fsmgr:            fsmgr,
		extractor:        extractor,
		extractorVersion: extractorVersion,
		policy:           policy,
		logger:           logger,
		clock:            clock,
		workers:          workers,
	}
}

// Ingest walks the tree at root, computes content identities for regular
// files, and records an observation for each against the given root label.
// Unchanged files produce no write. Per-entry failures are counted and
// logged; a ledger failure is fatal to the run.
func (s *Service) Ingest(rootLabel, root string) (*Summary, error) {
	sum := &Summary{}
	opts := WalkOptions{Recursive: true}

	err := hashTree(s.fsmgr, root, opts, s.workers, func(he hashedEntry) error {
		s.tick(sum)
		switch {
		case he.Entry.Err != nil:
			sum.Errored++
			s.logger.Warn("entry skipped", "path", he.Entry.Path.Display, "err", he.Entry.Err)
			return nil
		case he.Entry.Kind == KindSymlink:
			sum.Symlinks++
			return nil
		case he.Entry.Kind == KindDir:
			sum.Dirs++
			return nil
		case he.HashErr != nil:
			sum.Errored++
			s.logger.Warn("hashing failed", "path", he.Entry.Path.Display, "err", he.HashErr)
			return nil
		}

		sum.Files++
		sum.Bytes += he.Identity.Size

		obs, err := s.ledger.RecordObservation(rootLabel, he.Entry.Path, *he.Identity, s.extractorVersion, s.clock.Now())
		if err != nil {
			return fmt.Errorf("recording observation for %s: %w", he.Entry.Path, err)
		}

		switch {
		case obs.Skipped:
			sum.Unchanged++
		case obs.Decision == DecisionNew:
			sum.New++
			s.logger.Info("source recorded", "path", he.Entry.Path.Display, "hash", he.Identity.Hash)
		default:
			sum.Changed++
			s.logger.Info("revision recorded", "path", he.Entry.Path.Display, "hash", he.Identity.Hash)
		}

		if !obs.Skipped {
			s.extractInto(root, he.Entry, obs.Revision)
		}
		return nil
	})
	if err != nil {
		return sum, err
	}

	s.logger.Info("ingest complete",
		"label", rootLabel,
		"new", sum.New, "changed", sum.Changed, "unchanged", sum.Unchanged, "errored", sum.Errored)
	return sum, nil
}

// extractInto runs the first matching extractor for the entry and attaches
// the result to the revision. Extraction failures are recorded on the
// document, never fatal.
func (s *Service) extractInto(root string, e Entry, rev *Revision) {
	if s.extractor == nil || rev == nil {
		return
	}
	mimeHint := mime.TypeByExtension(path.Ext(e.Path.Display))
	if !s.extractor.Supports(mimeHint) {
		return
	}

	doc := &Document{RevisionID: rev.ID, Status: "ok"}
	f, err := s.fsmgr.Open(root, e.Path)
	if err == nil {
		item := SourceItem{Path: e.Path, Kind: e.Kind, Size: e.Size, MTimeNS: e.MTimeNS, MimeHint: mimeHint}
		var res *ExtractedResult
		res, err = s.extractor.Extract(item, f)
		f.Close()
		if err == nil {
			doc.Title = res.Title
			doc.Text = res.Text
			doc.Metadata = res.Metadata
		}
	}
	if err != nil {
		doc.Status = "error"
		doc.Error = err.Error()
		s.logger.Warn("extraction failed", "path", e.Path.Display, "err", err)
	}

	if err := s.ledger.AttachDocument(doc); err != nil {
		s.logger.Error("attaching document failed", "path", e.Path.Display, "err", err)
	}
}

// Scan walks the tree at root and records one immutable snapshot of it,
// including directories and symlinks. The snapshot is finalized only when
// the walk completes; any walk-level failure leaves it unfinalized and
// invisible.
func (s *Service) Scan(rootLabel, root string) (*SnapshotInfo, *Summary, error) {
	builder, err := s.store.Begin(rootLabel, EncodePathString(root), s.clock.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("beginning snapshot: %w", err)
	}

	sum := &Summary{}
	opts := WalkOptions{Recursive: true, IncludeDirs: true}

	err = hashTree(s.fsmgr, root, opts, s.workers, func(he hashedEntry) error {
		s.tick(sum)
		se := SnapshotEntry{
			Path:    he.Entry.Path,
			Kind:    he.Entry.Kind,
			Size:    he.Entry.Size,
			MTimeNS: he.Entry.MTimeNS,
			Target:  he.Entry.Target,
		}
		switch {
		case he.Entry.Err != nil:
			se.Err = he.Entry.Err.Error()
			sum.Errored++
		case he.HashErr != nil:
			se.Err = he.HashErr.Error()
			sum.Errored++
		case he.Entry.Kind == KindFile:
			se.Hash = he.Identity.Hash
			se.Size = he.Identity.Size
			sum.Files++
			sum.Bytes += he.Identity.Size
		case he.Entry.Kind == KindDir:
			sum.Dirs++
		case he.Entry.Kind == KindSymlink:
			sum.Symlinks++
		}
		return builder.Append(se)
	})
	if err != nil {
		return nil, sum, fmt.Errorf("scanning %s: %w", root, err)
	}

	info, err := builder.Finalize(s.clock.Now())
	if err != nil {
		return nil, sum, fmt.Errorf("finalizing snapshot: %w", err)
	}

	s.logger.Info("snapshot recorded",
		"label", rootLabel, "snapshot", info.ID,
		"files", sum.Files, "dirs", sum.Dirs, "symlinks", sum.Symlinks, "errored", sum.Errored)
	return info, sum, nil
}

// DiffSnapshots loads two finalized snapshots and compares them.
func (s *Service) DiffSnapshots(aID, bID string) (*DiffResult, error) {
	a, err := s.store.Load(aID)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", aID, err)
	}
	b, err := s.store.Load(bID)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %s: %w", bID, err)
	}
	res := Diff(a, b, s.policy.Identity)
	return &res, nil
}

// Locate answers "which snapshot still has this content" across the given
// snapshots. Corrupt snapshots are reported via the logger and skipped;
// other load failures are fatal.
func (s *Service) Locate(hash string, snapshotIDs []string) ([]HashOccurrence, error) {
	var snaps []*Snapshot
	for _, id := range snapshotIDs {
		snap, err := s.store.Load(id)
		if err != nil {
			if errors.Is(err, ErrCorruptSnapshot) {
				s.logger.Warn("snapshot excluded from locate", "snapshot", id, "err", err)
				continue
			}
			return nil, fmt.Errorf("loading snapshot %s: %w", id, err)
		}
		snaps = append(snaps, snap)
	}
	return NewHashIndex(snaps...).Locate(hash), nil
}

// SourceHistory returns the full revision history for one source, oldest
// first.
func (s *Service) SourceHistory(rootLabel string, relPath PathRef) ([]*Revision, error) {
	src, err := s.ledger.FindSource(rootLabel, relPath)
	if err != nil {
		return nil, fmt.Errorf("finding source: %w", err)
	}
	if src == nil {
		return nil, fmt.Errorf("%w: %s under %s", ErrNotTracked, relPath, rootLabel)
	}
	return s.ledger.History(src.ID)
}

// RevisionsSince streams revisions created at or after t for incremental
// downstream rebuilds.
func (s *Service) RevisionsSince(t time.Time) ([]*Revision, error) {
	return s.ledger.RevisionsSince(t)
}

// ListSnapshots enumerates finalized snapshots by root label ("" = all).
func (s *Service) ListSnapshots(rootLabel string) ([]*SnapshotInfo, error) {
	return s.store.List(rootLabel)
}

// OperationHistory returns the most recent recorded operations.
func (s *Service) OperationHistory(limit int) ([]*OperationRecord, error) {
	return s.ledger.ListOperations(limit)
}

func (s *Service) tick(sum *Summary) {
	n := sum.Files + sum.Dirs + sum.Symlinks + sum.Errored + 1
	if s.Progress != nil && s.ProgressEvery > 0 && n%s.ProgressEvery == 0 {
		s.Progress(n, sum.Bytes)
	}
}
