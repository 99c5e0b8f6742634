package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"livedit/api/internal/workspace"
)

// WorkspaceRow is one row of the ledger.
type WorkspaceRow struct {
	Identity     string
	Root         string
	Anonymous    bool
	CreatedAt    time.Time
	DeletedAt    *time.Time
	DeleteReason string
}

// Ledger records workspace provisioning and deletion. It is an audit trail;
// the directories on disk stay authoritative.
type Ledger struct {
	db *sql.DB
}

var _ workspace.Ledger = (*Ledger)(nil)

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) RecordCreated(ctx context.Context, record workspace.Record) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (identity, root, anonymous, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO UPDATE
		SET root = EXCLUDED.root,
		    anonymous = EXCLUDED.anonymous,
		    created_at = EXCLUDED.created_at,
		    deleted_at = NULL,
		    delete_reason = NULL
	`, record.Identity, record.Root, record.Anonymous, record.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("upsert workspace %s: %w", record.Identity, err)
	}
	if err := insertEvent(ctx, tx, record.Identity, "created", ""); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (l *Ledger) RecordDeleted(ctx context.Context, identity, reason string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE workspaces
		SET deleted_at = NOW(), delete_reason = $2
		WHERE identity = $1 AND deleted_at IS NULL
	`, identity, reason); err != nil {
		return fmt.Errorf("mark workspace %s deleted: %w", identity, err)
	}
	if err := insertEvent(ctx, tx, identity, "deleted", reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

// Workspaces lists ledger rows, newest first. Deleted workspaces are only
// included when includeDeleted is set.
func (l *Ledger) Workspaces(ctx context.Context, includeDeleted bool) ([]WorkspaceRow, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT identity, root, anonymous, created_at, deleted_at, COALESCE(delete_reason, '')
		FROM workspaces
		WHERE $1 OR deleted_at IS NULL
		ORDER BY created_at DESC, identity
	`, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceRow, 0)
	for rows.Next() {
		var row WorkspaceRow
		var deletedAt sql.NullTime
		if err := rows.Scan(&row.Identity, &row.Root, &row.Anonymous, &row.CreatedAt, &deletedAt, &row.DeleteReason); err != nil {
			return nil, fmt.Errorf("scan workspace row: %w", err)
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			row.DeletedAt = &t
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, identity, kind, reason string) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_events (identity, kind, reason) VALUES ($1, $2, $3)
	`, identity, kind, reason); err != nil {
		return fmt.Errorf("record %s event for %s: %w", kind, identity, err)
	}
	return nil
}
