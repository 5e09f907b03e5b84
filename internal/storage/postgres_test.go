// Package storage contains tests for the PostgreSQL storage implementation.
// They only run when ID_TEST_PG_DSN points at a disposable database.
package storage

import (
	"context"
	"os"
	"testing"
)

// TestPostgresStore runs the shared Store suite against PostgreSQL.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ID_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("ID_TEST_PG_DSN not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewPostgres(dsn)
		if err != nil {
			t.Fatalf("NewPostgres: %v", err)
		}
		ctx := context.Background()
		if err := s.Migrate(ctx); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
		// Each subtest starts from empty tables
		if _, err := s.DB().ExecContext(ctx, `TRUNCATE accounts, events, idempotency_cache, relayer_keys RESTART IDENTITY`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}
