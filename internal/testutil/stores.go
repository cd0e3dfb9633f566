package testutil

import (
	"testing"

	"chron-go/internal/chron"
	"chron-go/internal/ledger"
	"chron-go/internal/manifest"
)

// NewTestLedger creates a new in-memory SQLite ledger with schema applied
// and sequential stub IDs. The ledger is automatically closed when the test
// completes.
func NewTestLedger(t *testing.T, policy chron.LedgerPolicy) *ledger.SQLiteLedger {
	t.Helper()

	led, err := ledger.Open(":memory:", policy, NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	t.Cleanup(func() {
		led.Close()
	})
	return led
}

// NewTestStore creates a new in-memory SQLite snapshot store with schema
// applied and sequential stub IDs. The store is automatically closed when
// the test completes.
func NewTestStore(t *testing.T) *manifest.SQLiteStore {
	t.Helper()

	store, err := manifest.Open(":memory:", NewStubIDGenerator())
	if err != nil {
		t.Fatalf("failed to open snapshot store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}
