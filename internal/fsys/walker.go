package fsys

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"chron-go/internal/chron"
)

// Manager is the OS-backed filesystem implementation. It walks real
// directory trees in deterministic order and opens files for hashing.
type Manager struct {
	ignore *IgnoreMatcher
}

// NewManager creates a Manager. ignorePatterns follow the ignore-file
// syntax: blank lines and '#' comments skipped, patterns with a '/' match
// the relative path, others the basename.
func NewManager(ignorePatterns []string) (*Manager, error) {
	m, err := NewIgnoreMatcher(ignorePatterns)
	if err != nil {
		return nil, fmt.Errorf("compiling ignore patterns: %w", err)
	}
	return &Manager{ignore: m}, nil
}

// Open opens the file at the raw path relative to root. The PathRef's raw
// bytes are used verbatim; the display form never touches the filesystem.
func (m *Manager) Open(root string, p chron.PathRef) (io.ReadCloser, error) {
	return os.Open(filepath.Join(root, string(p.Bytes())))
}

// Walk enumerates the tree under root. Entries of each directory are
// visited in byte-wise name order, then subdirectories are descended
// depth-first, so the sequence is deterministic for a fixed filesystem
// state. Symbolic links are classified, their literal target recorded, and
// never followed unless opts.FollowSymlinks is explicitly set. Unreadable
// entries are reported with Err set and the walk continues.
func (m *Manager) Walk(root string, opts chron.WalkOptions, fn chron.WalkFunc) error {
	info, err := os.Lstat(root)
	if err != nil {
		return fmt.Errorf("walk root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("walk root is not a directory: %s", root)
	}

	// Explicit stack; "" is the root itself.
	stack := []string{""}

	for len(stack) > 0 {
		rel := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		dirPath := root
		if rel != "" {
			dirPath = filepath.Join(root, rel)
		}

		entries, err := os.ReadDir(dirPath)
		if err != nil {
			if rel == "" {
				return fmt.Errorf("reading walk root: %w", err)
			}
			e := chron.Entry{Path: chron.EncodePathString(rel), Kind: chron.KindDir, Err: err}
			if err := fn(e); err != nil {
				return err
			}
			continue
		}

		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Name() < entries[j].Name()
		})

		var subdirs []string
		for _, de := range entries {
			childRel := de.Name()
			if rel != "" {
				childRel = rel + string(os.PathSeparator) + de.Name()
			}
			if m.ignore.Match(childRel) {
				continue
			}

			t := de.Type()
			switch {
			case t&fs.ModeSymlink != 0:
				e := m.symlinkEntry(root, childRel, de)
				if err := fn(e); err != nil {
					return err
				}
				if opts.Recursive && opts.FollowSymlinks {
					if ti, err := os.Stat(filepath.Join(root, childRel)); err == nil && ti.IsDir() {
						subdirs = append(subdirs, childRel)
					}
				}

			case t.IsDir():
				if opts.IncludeDirs {
					e := chron.Entry{Path: chron.EncodePathString(childRel), Kind: chron.KindDir}
					if info, err := de.Info(); err != nil {
						e.Err = err
					} else {
						e.MTimeNS = info.ModTime().UnixNano()
					}
					if err := fn(e); err != nil {
						return err
					}
				}
				if opts.Recursive {
					subdirs = append(subdirs, childRel)
				}

			case t.IsRegular():
				e := chron.Entry{Path: chron.EncodePathString(childRel), Kind: chron.KindFile}
				if info, err := de.Info(); err != nil {
					e.Err = err
				} else {
					e.Size = info.Size()
					e.MTimeNS = info.ModTime().UnixNano()
				}
				if err := fn(e); err != nil {
					return err
				}

			default:
				// fifos, sockets and devices have no archivable content
			}
		}

		// Push in reverse so the stack pops subdirectories in sorted order.
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	return nil
}

// symlinkEntry records a symlink with its literal readlink target. The
// target is never resolved here.
func (m *Manager) symlinkEntry(root, childRel string, de fs.DirEntry) chron.Entry {
	e := chron.Entry{Path: chron.EncodePathString(childRel), Kind: chron.KindSymlink}

	target, err := os.Readlink(filepath.Join(root, childRel))
	if err != nil {
		e.Err = err
		return e
	}
	e.Target = chron.EncodePathString(target)

	if info, err := de.Info(); err == nil {
		e.MTimeNS = info.ModTime().UnixNano()
	}
	return e
}

// Compile-time check that Manager implements chron.FilesystemManager.
var _ chron.FilesystemManager = (*Manager)(nil)
