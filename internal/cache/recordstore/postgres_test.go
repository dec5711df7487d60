package recordstore

import (
	"context"
	"os"
	"testing"
	"time"
)

// Runs only against a real database: POSTGRES_TEST_DSN=postgres://... go test
func TestPostgresStore_Contract(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	if _, err := p.db.ExecContext(ctx, `TRUNCATE weather_buckets`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	// schema creation is idempotent
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	exerciseStore(t, p)
}
