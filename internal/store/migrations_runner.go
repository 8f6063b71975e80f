package store

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gitea.jw6.us/james/washcal/internal/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// migrationLockKey is the pg_advisory_xact_lock key shared by every replica
// so that concurrent startups apply each migration exactly once.
const migrationLockKey int64 = 0x77617368 // "wash"

// PgxPool represents the subset of pgxpool.Pool used by migration helpers.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// ApplyMigrations applies every embedded migration that is not yet recorded
// in schema_migrations, in file-name order. Each migration runs in its own
// transaction under an advisory lock and re-checks the tracking table after
// the lock is held.
func ApplyMigrations(ctx context.Context, pool PgxPool, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	names, err := listMigrationFiles()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}

	if err := ensureMigrationTable(ctx, pool); err != nil {
		return err
	}

	for _, name := range names {
		applied, err := applyMigration(ctx, pool, name)
		if err != nil {
			return err
		}
		if applied {
			logger.Info("applied migration", zap.String("version", name))
		}
	}
	return nil
}

func listMigrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrations.Files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

func ensureMigrationTable(ctx context.Context, pool PgxPool) error {
	const q = `CREATE TABLE IF NOT EXISTS schema_migrations (
        version TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	if _, err := pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// applyMigration reports whether the migration was executed by this call.
func applyMigration(ctx context.Context, pool PgxPool, name string) (bool, error) {
	contents, err := migrations.Files.ReadFile(name)
	if err != nil {
		return false, fmt.Errorf("read migration %s: %w", name, err)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", name, err)
	}
	rollback := func(cause error) (bool, error) {
		_ = tx.Rollback(ctx)
		return false, cause
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return rollback(fmt.Errorf("lock migrations: %w", err))
	}

	var exists bool
	const check = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version=$1)`
	if err := tx.QueryRow(ctx, check, name).Scan(&exists); err != nil {
		return rollback(fmt.Errorf("check migration %s: %w", name, err))
	}
	if exists {
		return rollback(nil)
	}

	if _, err := tx.Exec(ctx, string(contents)); err != nil {
		return rollback(fmt.Errorf("apply migration %s: %w", name, err))
	}
	const record = `INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING`
	if _, err := tx.Exec(ctx, record, name); err != nil {
		return rollback(fmt.Errorf("record migration %s: %w", name, err))
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", name, err)
	}
	return true, nil
}
