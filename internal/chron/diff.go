package chron

import "sort"

// DiffEntry pairs the snapshot entries behind one differing path.
// A is nil for added paths, B is nil for removed ones.
type DiffEntry struct {
	Path PathRef
	A    *SnapshotEntry
	B    *SnapshotEntry
}

// DiffResult classifies entries between two snapshots, keyed by raw path
// bytes. Entries whose kind differs between the snapshots are reported in
// ChangedKind, never merged into Changed. Buckets are ordered by raw path.
type DiffResult struct {
	Added       []DiffEntry
	Removed     []DiffEntry
	Changed     []DiffEntry
	ChangedKind []DiffEntry
}

// Diff compares two snapshots. Matching is by raw path equality, never the
// lossy display form. File entries present in both with equal kind but a
// differing content identity (under the given policy) are Changed; symlink
// entries whose literal target changed are Changed as well.
func Diff(a, b *Snapshot, policy IdentityPolicy) DiffResult {
	aByPath := entryIndex(a)
	bByPath := entryIndex(b)

	var res DiffResult

	for i := range b.Entries {
		be := &b.Entries[i]
		ae, ok := aByPath[be.Path.Key()]
		if !ok {
			res.Added = append(res.Added, DiffEntry{Path: be.Path, B: be})
			continue
		}
		if ae.Kind != be.Kind {
			res.ChangedKind = append(res.ChangedKind, DiffEntry{Path: be.Path, A: ae, B: be})
			continue
		}
		if entryChanged(ae, be, policy) {
			res.Changed = append(res.Changed, DiffEntry{Path: be.Path, A: ae, B: be})
		}
	}

	for i := range a.Entries {
		ae := &a.Entries[i]
		if _, ok := bByPath[ae.Path.Key()]; !ok {
			res.Removed = append(res.Removed, DiffEntry{Path: ae.Path, A: ae})
		}
	}

	sortDiffEntries(res.Added)
	sortDiffEntries(res.Removed)
	sortDiffEntries(res.Changed)
	sortDiffEntries(res.ChangedKind)
	return res
}

func entryChanged(a, b *SnapshotEntry, policy IdentityPolicy) bool {
	switch a.Kind {
	case KindFile:
		ai := ContentIdentity{Hash: a.Hash, Size: a.Size, MTimeNS: a.MTimeNS}
		bi := ContentIdentity{Hash: b.Hash, Size: b.Size, MTimeNS: b.MTimeNS}
		return !ai.EqualUnder(bi, policy)
	case KindSymlink:
		return !a.Target.Equal(b.Target)
	default:
		return false
	}
}

func entryIndex(s *Snapshot) map[string]*SnapshotEntry {
	m := make(map[string]*SnapshotEntry, len(s.Entries))
	for i := range s.Entries {
		m[s.Entries[i].Path.Key()] = &s.Entries[i]
	}
	return m
}

func sortDiffEntries(es []DiffEntry) {
	sort.Slice(es, func(i, j int) bool {
		return es[i].Path.Key() < es[j].Path.Key()
	})
}

// HashOccurrence is one place a content hash was seen.
type HashOccurrence struct {
	Snapshot *SnapshotInfo
	Entry    *SnapshotEntry
}

// HashIndex answers "which snapshot still has this content". It is built
// once over a working set of snapshots so locate queries do not rescan.
type HashIndex struct {
	byHash map[string][]HashOccurrence
}

// NewHashIndex indexes every file entry of the given snapshots by hash.
func NewHashIndex(snaps ...*Snapshot) *HashIndex {
	ix := &HashIndex{byHash: make(map[string][]HashOccurrence)}
	for _, s := range snaps {
		info := s.Info
		for i := range s.Entries {
			e := &s.Entries[i]
			if e.Kind != KindFile || e.Hash == "" {
				continue
			}
			ix.byHash[e.Hash] = append(ix.byHash[e.Hash], HashOccurrence{
				Snapshot: &info,
				Entry:    e,
			})
		}
	}
	return ix
}

// Locate returns every occurrence of the given content hash.
func (ix *HashIndex) Locate(hash string) []HashOccurrence {
	return ix.byHash[hash]
}
