package app_test

import (
	"context"
	"strings"
	"testing"

	"atriumforms/internal/app"
	"atriumforms/internal/db"
	"atriumforms/internal/migrate"
	"atriumforms/internal/repo"
)

func TestSeedRefusesSecondRun(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()

	if err := app.Seed(ctx, conn, "tester"); err != nil {
		t.Fatalf("first seed: %v", err)
	}
	err = app.Seed(ctx, conn, "tester")
	if err == nil || !strings.Contains(err.Error(), "already seeded") {
		t.Fatalf("second seed must be refused, got %v", err)
	}

	r := repo.Repo{DB: conn}
	installations, err := r.ListInstallations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(installations) != 1 {
		t.Fatalf("refused seed must not write, got %d installations", len(installations))
	}
}
