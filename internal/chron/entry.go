package chron

// EntryKind classifies a filesystem entry.
type EntryKind string

const (
	KindFile    EntryKind = "file"
	KindDir     EntryKind = "dir"
	KindSymlink EntryKind = "symlink"
)

// Entry is one item produced by a tree walk. Path is relative to the walk
// root. A symlink entry carries the literal, unresolved link target; the
// walk never descends into whatever the link points to. An entry that could
// not be read carries Err and the walk continues past it.
type Entry struct {
	Path    PathRef
	Kind    EntryKind
	Size    int64
	MTimeNS int64
	Target  PathRef // symlinks only
	Err     error
}

// SourceItem is the connector shape consumed by ingestion. The filesystem
// walker specializes it; any other connector (a photo database, a mail
// store) must produce the same fields.
type SourceItem struct {
	Path     PathRef
	Kind     EntryKind
	Size     int64
	MTimeNS  int64
	MimeHint string
	Meta     map[string]string
}
