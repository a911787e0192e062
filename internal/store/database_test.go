package store

import (
	"context"
	"os"
	"testing"

	"dailybugs-backend/internal/db"
)

// TEST_DATABASE_URL points at a disposable PostgreSQL database; its tables
// are truncated before the run.
func TestDatabaseStore(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	database, err := db.New(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer database.Close()
	if err := database.RunMigrations(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := database.ExecContext(ctx, `TRUNCATE user_tokens, delivery_methods, workflow_steps`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	exerciseStore(t, NewDatabaseStore(database))
}
