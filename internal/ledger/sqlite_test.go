package ledger_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"chron-go/internal/chron"
	"chron-go/internal/testutil"
)

var baseTime = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func identity(hash string, size, mtime int64) chron.ContentIdentity {
	return chron.ContentIdentity{Hash: hash, Size: size, MTimeNS: mtime}
}

func TestRecordObservation(t *testing.T) {
	relPath := chron.EncodePathString("docs/a.txt")

	t.Run("first observation creates source and revision", func(t *testing.T) {
		led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

		obs, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v1", baseTime)
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if obs.Decision != chron.DecisionNew {
			t.Errorf("Decision = %v, want new", obs.Decision)
		}
		if obs.Skipped {
			t.Error("Skipped = true, want false")
		}
		if obs.Revision == nil || obs.Revision.Identity.Hash != "h1" {
			t.Fatalf("Revision = %+v, want hash h1", obs.Revision)
		}
		if obs.Source.CurrentRevisionID != obs.Revision.ID {
			t.Errorf("CurrentRevisionID = %s, want %s", obs.Source.CurrentRevisionID, obs.Revision.ID)
		}
	})

	t.Run("unchanged content is skipped without a write", func(t *testing.T) {
		led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

		first, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v1", baseTime)
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}

		// Same hash; mtime was touched. Hash policy: unchanged.
		obs, err := led.RecordObservation("home", relPath, identity("h1", 5, 999), "v1", baseTime.Add(time.Hour))
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if !obs.Skipped {
			t.Error("Skipped = false, want true")
		}
		if obs.Decision != chron.DecisionUnchanged {
			t.Errorf("Decision = %v, want unchanged", obs.Decision)
		}

		revs, err := led.History(first.Source.ID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(revs) != 1 {
			t.Errorf("history len = %d, want 1", len(revs))
		}
	})

	t.Run("changed content appends while retaining history", func(t *testing.T) {
		led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

		first, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v1", baseTime)
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		second, err := led.RecordObservation("home", relPath, identity("h2", 6, 200), "v1", baseTime.Add(time.Hour))
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if second.Decision != chron.DecisionChanged {
			t.Errorf("Decision = %v, want changed", second.Decision)
		}

		revs, err := led.History(first.Source.ID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(revs) != 2 {
			t.Fatalf("history len = %d, want 2", len(revs))
		}
		if revs[0].Identity.Hash != "h1" || revs[1].Identity.Hash != "h2" {
			t.Errorf("history order = %s, %s, want h1, h2", revs[0].Identity.Hash, revs[1].Identity.Hash)
		}

		latest, err := led.LatestRevision(first.Source.ID)
		if err != nil {
			t.Fatalf("LatestRevision() error = %v", err)
		}
		if latest.Identity.Hash != "h2" {
			t.Errorf("latest hash = %s, want h2", latest.Identity.Hash)
		}
	})

	t.Run("strict policy records a touched mtime as a revision", func(t *testing.T) {
		led := testutil.NewTestLedger(t, chron.LedgerPolicy{Identity: chron.PolicyStrict})

		if _, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v1", baseTime); err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		obs, err := led.RecordObservation("home", relPath, identity("h1", 5, 999), "v1", baseTime.Add(time.Hour))
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if obs.Decision != chron.DecisionChanged || obs.Skipped {
			t.Errorf("obs = %+v, want changed and not skipped", obs)
		}
	})

	t.Run("extractor version bump alone is skipped by default", func(t *testing.T) {
		led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

		first, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v1", baseTime)
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		obs, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v2", baseTime.Add(time.Hour))
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if !obs.Skipped {
			t.Error("Skipped = false, want true (force switch is off)")
		}

		revs, _ := led.History(first.Source.ID)
		if len(revs) != 1 {
			t.Errorf("history len = %d, want 1", len(revs))
		}
	})

	t.Run("extractor version bump forces a revision when enabled", func(t *testing.T) {
		led := testutil.NewTestLedger(t, chron.LedgerPolicy{ForceOnExtractorChange: true})

		first, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v1", baseTime)
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		obs, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v2", baseTime.Add(time.Hour))
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if obs.Skipped {
			t.Error("Skipped = true, want false")
		}
		if obs.Revision == nil || obs.Revision.ExtractorVersion != "v2" {
			t.Fatalf("Revision = %+v, want extractor version v2", obs.Revision)
		}

		revs, _ := led.History(first.Source.ID)
		if len(revs) != 2 {
			t.Errorf("history len = %d, want 2", len(revs))
		}
	})

	t.Run("sources with same display but different raw bytes stay distinct", func(t *testing.T) {
		led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

		pa := chron.EncodePath([]byte{'f', 0xff})
		pb := chron.EncodePath([]byte{'f', 0xfe})

		oa, err := led.RecordObservation("home", pa, identity("h1", 1, 1), "v1", baseTime)
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		ob, err := led.RecordObservation("home", pb, identity("h1", 1, 1), "v1", baseTime)
		if err != nil {
			t.Fatalf("RecordObservation() error = %v", err)
		}
		if oa.Source.ID == ob.Source.ID {
			t.Error("distinct raw paths share one source")
		}
		if ob.Decision != chron.DecisionNew {
			t.Errorf("second Decision = %v, want new", ob.Decision)
		}

		found, err := led.FindSource("home", pa)
		if err != nil {
			t.Fatalf("FindSource() error = %v", err)
		}
		if found == nil || !found.RelPath.Equal(pa) {
			t.Errorf("FindSource() = %+v, want raw path preserved", found)
		}
	})

	t.Run("concurrent observations of one source yield exactly one revision", func(t *testing.T) {
		led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

		const goroutines = 16
		var wg sync.WaitGroup
		errs := make(chan error, goroutines)
		for i := 0; i < goroutines; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := led.RecordObservation("home", relPath, identity("h1", 5, 100), "v1", baseTime)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil && !errors.Is(err, chron.ErrConflict) {
				t.Fatalf("RecordObservation() error = %v", err)
			}
		}

		src, err := led.FindSource("home", relPath)
		if err != nil || src == nil {
			t.Fatalf("FindSource() = %v, %v", src, err)
		}
		revs, err := led.History(src.ID)
		if err != nil {
			t.Fatalf("History() error = %v", err)
		}
		if len(revs) != 1 {
			t.Errorf("history len = %d, want exactly 1", len(revs))
		}
	})
}

func TestRevisionsSince(t *testing.T) {
	led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

	if _, err := led.RecordObservation("home", chron.EncodePathString("a"), identity("h1", 1, 1), "v1", baseTime); err != nil {
		t.Fatalf("RecordObservation() error = %v", err)
	}
	if _, err := led.RecordObservation("home", chron.EncodePathString("b"), identity("h2", 2, 2), "v1", baseTime.Add(2*time.Hour)); err != nil {
		t.Fatalf("RecordObservation() error = %v", err)
	}

	revs, err := led.RevisionsSince(baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("RevisionsSince() error = %v", err)
	}
	if len(revs) != 1 || revs[0].Identity.Hash != "h2" {
		t.Errorf("RevisionsSince() = %+v, want only h2", revs)
	}

	all, err := led.RevisionsSince(time.Time{})
	if err != nil {
		t.Fatalf("RevisionsSince() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("RevisionsSince(zero) len = %d, want 2", len(all))
	}
}

func TestDocuments(t *testing.T) {
	led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

	obs, err := led.RecordObservation("home", chron.EncodePathString("a.txt"), identity("h1", 1, 1), "v1", baseTime)
	if err != nil {
		t.Fatalf("RecordObservation() error = %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		doc := &chron.Document{
			RevisionID: obs.Revision.ID,
			Title:      "Notes",
			Text:       "extracted body",
			Metadata:   map[string]string{"mime": "text/plain"},
			Status:     "ok",
		}
		if err := led.AttachDocument(doc); err != nil {
			t.Fatalf("AttachDocument() error = %v", err)
		}

		got, err := led.FindDocument(obs.Revision.ID)
		if err != nil {
			t.Fatalf("FindDocument() error = %v", err)
		}
		if got == nil || got.Title != "Notes" || got.Text != "extracted body" {
			t.Errorf("FindDocument() = %+v, want stored document", got)
		}
		if got.Metadata["mime"] != "text/plain" {
			t.Errorf("Metadata = %v, want mime preserved", got.Metadata)
		}
	})

	t.Run("reattach replaces", func(t *testing.T) {
		doc := &chron.Document{RevisionID: obs.Revision.ID, Status: "error", Error: "parse failed"}
		if err := led.AttachDocument(doc); err != nil {
			t.Fatalf("AttachDocument() error = %v", err)
		}
		got, err := led.FindDocument(obs.Revision.ID)
		if err != nil {
			t.Fatalf("FindDocument() error = %v", err)
		}
		if got.Status != "error" || got.Error != "parse failed" {
			t.Errorf("FindDocument() = %+v, want replaced document", got)
		}
	})

	t.Run("missing document is nil", func(t *testing.T) {
		got, err := led.FindDocument("no-such-revision")
		if err != nil {
			t.Fatalf("FindDocument() error = %v", err)
		}
		if got != nil {
			t.Errorf("FindDocument() = %+v, want nil", got)
		}
	})
}

func TestOperations(t *testing.T) {
	led := testutil.NewTestLedger(t, chron.LedgerPolicy{})

	id, err := led.CreateOperation("Ingest", "home /tmp/docs", baseTime)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if err := led.FinishOperation(id, "success", baseTime.Add(time.Minute)); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	ops, err := led.ListOperations(10)
	if err != nil {
		t.Fatalf("ListOperations() error = %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("ops len = %d, want 1", len(ops))
	}
	op := ops[0]
	if op.Operation != "Ingest" || op.Status != "success" {
		t.Errorf("op = %+v, want finished Ingest", op)
	}
	if op.FinishedAt == nil {
		t.Error("FinishedAt = nil, want set")
	}
}
