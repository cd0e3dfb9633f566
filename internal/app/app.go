// Package app is the application layer between the CLI and the core
// service. It constructs all dependencies from config and manages their
// lifecycle on Close.
package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"chron-go/internal/chron"
	"chron-go/internal/config"
	"chron-go/internal/extract"
	"chron-go/internal/fsys"
	"chron-go/internal/ledger"
	"chron-go/internal/manifest"
)

// App wires the walker, ledger, snapshot store and extractors into a
// chron.Service and exposes high-level operations that accept raw string
// paths. The caller must call Close when done.
type App struct {
	cfg     *config.Config
	ledger  chron.Ledger
	store   chron.SnapshotStore
	fsmgr   chron.FilesystemManager
	service *chron.Service
	op      *Operation
	logFile *os.File
	clock   chron.Clock
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Ingest", "Scan").
func NewApp(cfg *config.Config, operation string) (*App, error) {
	fsmgr, err := fsys.NewManager(cfg.Scan.Ignore)
	if err != nil {
		return nil, fmt.Errorf("creating filesystem manager: %w", err)
	}

	policy, err := chron.ParseIdentityPolicy(cfg.Identity.Policy)
	if err != nil {
		return nil, fmt.Errorf("reading identity policy: %w", err)
	}
	ledgerPolicy := chron.LedgerPolicy{
		Identity:               policy,
		ForceOnExtractorChange: cfg.Identity.ForceOnExtractorChange,
	}

	led, err := ledger.NewLedgerFromConfig(cfg.Database, ledgerPolicy)
	if err != nil {
		return nil, fmt.Errorf("creating ledger: %w", err)
	}

	store, err := manifest.NewStoreFromConfig(cfg.Manifest)
	if err != nil {
		led.Close()
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, runID)
	if err != nil {
		led.Close()
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	registry := extract.NewRegistry()
	svc := chron.NewService(led, store, fsmgr, registry, registry.Version(),
		ledgerPolicy, &slogAdapter{l: logger}, chron.RealClock{}, cfg.Scan.Workers)
	if p := newProgressPrinter(os.Stderr); p != nil && cfg.Scan.ProgressEvery > 0 {
		svc.Progress = p
		svc.ProgressEvery = cfg.Scan.ProgressEvery
	}

	return &App{
		cfg:     cfg,
		ledger:  led,
		store:   store,
		fsmgr:   fsmgr,
		service: svc,
		op:      NewOperation(operation, ""),
		logFile: logFile,
		clock:   chron.RealClock{},
	}, nil
}

// persistOperation saves the operation to the ledger, giving it an
// auto-increment ID. This should only be called for mutating commands.
func (a *App) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil // already persisted
	}
	a.op.Parameters = parameters
	id, err := a.ledger.CreateOperation(a.op.Operation, parameters, a.clock.Now())
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = id
	return nil
}

// MarkFailed records that the current operation ended in error. The status
// is written to the ledger on Close.
func (a *App) MarkFailed() {
	a.op.Status = "error"
}

// Ingest resolves the given path and records content observations for every
// regular file under it against the root label.
func (a *App) Ingest(rootLabel, rawPath string) (*chron.Summary, error) {
	root, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if err := a.persistOperation(rootLabel + " " + root); err != nil {
		return nil, err
	}
	return a.service.Ingest(rootLabel, root)
}

// Scan resolves the given path and records one immutable snapshot of the
// tree under it.
func (a *App) Scan(rootLabel, rawPath string) (*chron.SnapshotInfo, *chron.Summary, error) {
	root, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving path: %w", err)
	}
	if err := a.persistOperation(rootLabel + " " + root); err != nil {
		return nil, nil, err
	}
	return a.service.Scan(rootLabel, root)
}

// Snapshots lists finalized snapshots, optionally filtered by root label.
func (a *App) Snapshots(rootLabel string) ([]*chron.SnapshotInfo, error) {
	return a.service.ListSnapshots(rootLabel)
}

// Diff compares two finalized snapshots.
func (a *App) Diff(aID, bID string) (*chron.DiffResult, error) {
	return a.service.DiffSnapshots(aID, bID)
}

// Locate reports which of the given snapshots contain content with the
// given hash. With no IDs, every finalized snapshot is searched.
func (a *App) Locate(hash string, snapshotIDs []string) ([]chron.HashOccurrence, error) {
	if len(snapshotIDs) == 0 {
		infos, err := a.service.ListSnapshots("")
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			snapshotIDs = append(snapshotIDs, info.ID)
		}
	}
	return a.service.Locate(hash, snapshotIDs)
}

// History returns the revision history for one tracked source, oldest
// first. relPath is the path relative to the scan root, taken verbatim.
func (a *App) History(rootLabel, relPath string) ([]*chron.Revision, error) {
	return a.service.SourceHistory(rootLabel, chron.EncodePathString(relPath))
}

// Document returns the extracted document for a revision, or nil.
func (a *App) Document(revisionID string) (*chron.Document, error) {
	return a.ledger.FindDocument(revisionID)
}

// Changes returns revisions ingested at or after t, oldest first.
func (a *App) Changes(t time.Time) ([]*chron.Revision, error) {
	return a.service.RevisionsSince(t)
}

// Log returns the most recent recorded operations.
func (a *App) Log(limit int) ([]*chron.OperationRecord, error) {
	return a.service.OperationHistory(limit)
}

// Export streams a finalized snapshot as gzip-compressed JSON lines.
func (a *App) Export(snapshotID string, w io.Writer) error {
	return manifest.Export(a.store, snapshotID, w)
}

// Close finalizes the operation record and closes all resources.
func (a *App) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.ledger.FinishOperation(a.op.ID, a.op.Status, a.clock.Now()); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}
	}

	if err := a.ledger.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing ledger: %w", err)
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing snapshot store: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}
