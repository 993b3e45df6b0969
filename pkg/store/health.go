package store

import (
	"context"
	"fmt"
)

// Health verifies the database is reachable.
func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// QuickCheck runs SQLite's integrity quick check and returns its verdict
// ("ok" on a healthy database). Used by the store-integrity probe.
func (s *Store) QuickCheck(ctx context.Context) (string, error) {
	var verdict string
	if err := s.db.GetContext(ctx, &verdict, "PRAGMA quick_check"); err != nil {
		return "", fmt.Errorf("quick_check: %w", err)
	}
	return verdict, nil
}
