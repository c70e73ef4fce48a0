package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	prbridge "github.com/goliatone/go-prbridge"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatal("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatal("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := prbridge.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/20250601000001_create_pr_thread_records.up.sql",
		"data/sql/migrations/20250601000001_create_pr_thread_records.down.sql",
		"data/sql/migrations/20250601000002_create_pr_webhook_deliveries.up.sql",
		"data/sql/migrations/20250601000002_create_pr_webhook_deliveries.down.sql",
		"data/sql/migrations/sqlite/20250601000001_create_pr_thread_records.up.sql",
		"data/sql/migrations/sqlite/20250601000001_create_pr_thread_records.down.sql",
		"data/sql/migrations/sqlite/20250601000002_create_pr_webhook_deliveries.up.sql",
		"data/sql/migrations/sqlite/20250601000002_create_pr_webhook_deliveries.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteMigrations_EnforceThreadUniqueness(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:prbridge-migrations-test?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := prbridge.GetMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	ups := []string{
		"20250601000001_create_pr_thread_records.up.sql",
		"20250601000002_create_pr_webhook_deliveries.up.sql",
	}
	for _, migration := range ups {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}

	insert := `
		INSERT INTO pr_thread_records (id, repo, pr_number, thread_id, state)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(context.Background(), insert, "rec-1", "octo/demo", 7, "thread-1", "open"); err != nil {
		t.Fatalf("insert record: %v", err)
	}
	_, err = db.ExecContext(context.Background(), insert, "rec-2", "Octo/Demo", 7, "thread-2", "open")
	if err == nil {
		t.Fatal("expected unique constraint violation for duplicate pull request key")
	}
	if !strings.Contains(strings.ToLower(err.Error()), "unique") {
		t.Fatalf("expected unique violation, got %v", err)
	}

	downs := []string{
		"20250601000002_create_pr_webhook_deliveries.down.sql",
		"20250601000001_create_pr_thread_records.down.sql",
	}
	for _, migration := range downs {
		if err := execSQLMigration(context.Background(), db, sqliteMigrations, migration); err != nil {
			t.Fatalf("apply migration %s: %v", migration, err)
		}
	}
	var tableCount int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"pr_thread_records",
	).Scan(&tableCount); err != nil {
		t.Fatalf("query table after down: %v", err)
	}
	if tableCount != 0 {
		t.Fatal("expected pr_thread_records to be dropped after down migration")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
