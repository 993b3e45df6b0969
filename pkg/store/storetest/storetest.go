// Package storetest provides a per-test store backed by a temp-dir SQLite
// file with all migrations applied.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/heliosarchitect/axon/pkg/store"
)

// New opens a fresh migrated store in the test's temp directory.
// The store is closed automatically when the test finishes.
func New(t *testing.T) *store.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "axon-test.db")
	s, err := store.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close test store: %v", err)
		}
	})
	return s
}
