package chron

import "io"

// WalkOptions control a tree walk.
type WalkOptions struct {
	// IncludeDirs emits directory entries. Snapshots want them; ingestion
	// does not.
	IncludeDirs bool

	// Recursive descends into subdirectories.
	Recursive bool

	// FollowSymlinks dereferences symbolic links during traversal. It
	// defaults to off; a symlink is then recorded once, with its literal
	// target, and nothing behind it is visited.
	FollowSymlinks bool
}

// WalkFunc receives each entry in walk order. A non-nil return stops the
// walk and is returned from Walk.
type WalkFunc func(Entry) error

// Walker enumerates a directory tree relative to a root. The sequence is
// lazy and single-pass; re-issuing the call restarts from scratch.
// Traversal order must be deterministic for a fixed filesystem state so
// snapshots are comparable. Per-entry read failures appear as entries with
// Err set and do not abort the walk.
type Walker interface {
	Walk(root string, opts WalkOptions, fn WalkFunc) error
}

// FilesystemManager abstracts file access under a walk root so the service
// layer is testable without the real filesystem.
type FilesystemManager interface {
	Walker

	// Open opens the file at the given raw path relative to root. The raw
	// bytes of the PathRef are used verbatim; the display form never is.
	Open(root string, path PathRef) (io.ReadCloser, error)
}
