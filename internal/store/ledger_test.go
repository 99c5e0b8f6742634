package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"livedit/api/internal/workspace"

	"github.com/spf13/afero"
)

func TestLedgerRecordsLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := ApplyMigrations(ctx, db, afero.NewOsFs(), filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}

	ledger := NewLedger(db)
	created := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
	if err := ledger.RecordCreated(ctx, workspace.Record{
		Identity:  "anonymous-01HZX",
		Root:      "/srv/content/anonymous-01HZX",
		Anonymous: true,
		CreatedAt: created,
	}); err != nil {
		t.Fatalf("RecordCreated() error = %v", err)
	}
	if err := ledger.RecordCreated(ctx, workspace.Record{Identity: "avery", Root: "/srv/content/avery", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("RecordCreated() error = %v", err)
	}
	if err := ledger.RecordDeleted(ctx, "anonymous-01HZX", "transition"); err != nil {
		t.Fatalf("RecordDeleted() error = %v", err)
	}

	live, err := ledger.Workspaces(ctx, false)
	if err != nil {
		t.Fatalf("Workspaces() error = %v", err)
	}
	if len(live) != 1 || live[0].Identity != "avery" {
		t.Fatalf("unexpected live workspaces %+v", live)
	}
	all, err := ledger.Workspaces(ctx, true)
	if err != nil {
		t.Fatalf("Workspaces(all) error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows, got %+v", all)
	}
	var anon WorkspaceRow
	for _, row := range all {
		if row.Identity == "anonymous-01HZX" {
			anon = row
		}
	}
	if anon.DeletedAt == nil || anon.DeleteReason != "transition" || !anon.Anonymous {
		t.Fatalf("unexpected deleted row %+v", anon)
	}

	var events int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM workspace_events`).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 3 {
		t.Fatalf("expected 3 events, got %d", events)
	}

	// Re-provisioning the same identity revives the row.
	if err := ledger.RecordCreated(ctx, workspace.Record{Identity: "anonymous-01HZX", Root: "/srv/content/anonymous-01HZX", Anonymous: true, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("RecordCreated() error = %v", err)
	}
	live, err = ledger.Workspaces(ctx, false)
	if err != nil || len(live) != 2 {
		t.Fatalf("expected revived row, got %+v err=%v", live, err)
	}
}
