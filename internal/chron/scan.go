package chron

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// hashedEntry is a walked entry paired with its content identity. Identity
// is set for regular files that hashed cleanly; HashErr records a per-entry
// read failure.
type hashedEntry struct {
	Entry    Entry
	Identity *ContentIdentity
	HashErr  error
}

// hashTree walks root and streams entries through a bounded hashing worker
// pool, re-emitting them to emit in walker order on a single goroutine.
// Hashing a file holds no shared lock; parallelism comes only from distinct
// files being hashed concurrently. A walk error aborts; an emit error stops
// further emission while the pipeline drains.
func hashTree(fsmgr FilesystemManager, root string, opts WalkOptions, workers int, emit func(hashedEntry) error) error {
	if workers < 1 {
		workers = 1
	}

	type job struct {
		ord   int
		entry Entry
	}
	type result struct {
		ord int
		he  hashedEntry
	}

	jobs := make(chan job, workers)
	results := make(chan result, workers)

	var g errgroup.Group

	// Producer: the walk itself, ordering entries as it goes.
	g.Go(func() error {
		defer close(jobs)
		ord := 0
		return fsmgr.Walk(root, opts, func(e Entry) error {
			jobs <- job{ord: ord, entry: e}
			ord++
			return nil
		})
	})

	// Workers: hash regular files.
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			for j := range jobs {
				he := hashedEntry{Entry: j.entry}
				if j.entry.Kind == KindFile && j.entry.Err == nil {
					id, err := identifyFile(fsmgr, root, j.entry)
					if err != nil {
						he.HashErr = err
					} else {
						he.Identity = &id
					}
				}
				results <- result{ord: j.ord, he: he}
			}
			return nil
		})
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	// Single consumer reassembles walker order before emitting.
	var emitErr error
	pending := make(map[int]hashedEntry)
	next := 0
	for r := range results {
		pending[r.ord] = r.he
		for {
			he, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if emitErr == nil {
				emitErr = emit(he)
			}
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return emitErr
}

// identifyFile opens one file and streams it through the identity engine,
// using the mtime observed by the walk.
func identifyFile(fsmgr FilesystemManager, root string, e Entry) (ContentIdentity, error) {
	f, err := fsmgr.Open(root, e.Path)
	if err != nil {
		return ContentIdentity{}, fmt.Errorf("opening %s: %w", e.Path, err)
	}
	defer f.Close()
	return Identify(f, e.MTimeNS)
}
