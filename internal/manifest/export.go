package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"chron-go/internal/chron"
)

// exportRecord is one line of the JSONL export. Every path travels twice:
// the lossy display form for grep-ability, the base64 raw form for exact
// reconstruction. The *_b64 fields are omitted when the display form is
// already byte-exact.
type exportRecord struct {
	SnapshotID string `json:"snapshot_id"`
	RootLabel  string `json:"root_label"`
	Root       string `json:"root"`
	RootB64    string `json:"root_b64,omitempty"`
	Path       string `json:"path"`
	PathB64    string `json:"path_b64,omitempty"`
	Name       string `json:"name"`
	NameB64    string `json:"name_b64,omitempty"`
	Kind       string `json:"kind"`
	Bytes      int64  `json:"bytes"`
	MTimeNS    int64  `json:"mtime_ns"`
	SHA256     string `json:"sha256,omitempty"`
	LinkTarget string `json:"link_target,omitempty"`
	LinkB64    string `json:"link_target_b64,omitempty"`
	Error      string `json:"error,omitempty"`
}

// rawB64IfLossy returns the base64 raw form only when the display string
// does not reproduce the raw bytes exactly.
func rawB64IfLossy(p chron.PathRef) string {
	if p.Display == string(p.Bytes()) {
		return ""
	}
	return p.RawBase64()
}

// baseName returns the last path component of a raw path.
func baseName(p chron.PathRef) chron.PathRef {
	raw := p.Bytes()
	if i := bytes.LastIndexByte(raw, '/'); i >= 0 {
		raw = raw[i+1:]
	}
	return chron.EncodePath(raw)
}

// Export streams a finalized snapshot as gzip-compressed JSON lines, one
// record per entry, in walk order.
func Export(store chron.SnapshotStore, id string, w io.Writer) error {
	snaps, err := store.List("")
	if err != nil {
		return err
	}
	var info *chron.SnapshotInfo
	for _, s := range snaps {
		if s.ID == id {
			info = s
			break
		}
	}
	if info == nil {
		return fmt.Errorf("snapshot not found: %s", id)
	}

	zw := gzip.NewWriter(w)
	enc := json.NewEncoder(zw)

	err = store.Entries(id, func(e chron.SnapshotEntry) error {
		name := baseName(e.Path)
		rec := exportRecord{
			SnapshotID: info.ID,
			RootLabel:  info.RootLabel,
			Root:       info.Root.Display,
			RootB64:    rawB64IfLossy(info.Root),
			Path:       e.Path.Display,
			PathB64:    rawB64IfLossy(e.Path),
			Name:       name.Display,
			NameB64:    rawB64IfLossy(name),
			Kind:       string(e.Kind),
			Bytes:      e.Size,
			MTimeNS:    e.MTimeNS,
			SHA256:     e.Hash,
			Error:      e.Err,
		}
		if !e.Target.IsZero() {
			rec.LinkTarget = e.Target.Display
			rec.LinkB64 = rawB64IfLossy(e.Target)
		}
		if err := enc.Encode(&rec); err != nil {
			return fmt.Errorf("encoding export record: %w", err)
		}
		return nil
	})
	if err != nil {
		zw.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("flushing export: %w", err)
	}
	return nil
}
