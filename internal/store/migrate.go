package store

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"regexp"
	"sort"

	"livedit/api/internal/logging"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

var migrationPattern = regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)

type Migration struct {
	Version string
	Name    string
	Up      bool
}

// ListMigrations returns the migration files in dir ordered by version.
// Down migrations are listed newest first when up is false.
func ListMigrations(fs afero.Fs, dir string, up bool) ([]Migration, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	migrations := make([]Migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationPattern.FindStringSubmatch(entry.Name())
		if match == nil || (match[2] == "up") != up {
			continue
		}
		migrations = append(migrations, Migration{Version: match[1], Name: entry.Name(), Up: up})
	}
	sort.Slice(migrations, func(i, j int) bool {
		if up {
			return migrations[i].Name < migrations[j].Name
		}
		return migrations[i].Name > migrations[j].Name
	})
	return migrations, nil
}

// ApplyMigrations runs every up migration in dir that has not been recorded
// in schema_migrations, each in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, fs afero.Fs, dir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}
	migrations, err := ListMigrations(fs, dir, true)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migrated, err := isMigrated(ctx, db, migration.Name); err != nil {
			return err
		} else if migrated {
			continue
		}

		contents, err := afero.ReadFile(fs, path.Join(dir, migration.Name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", migration.Name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration tx %s: %w", migration.Name, err)
		}
		if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", migration.Name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, migration.Name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", migration.Name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", migration.Name, err)
		}
		logging.L().Info("applied migration", zap.String("migration", migration.Name))
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
