package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	billinghooks "github.com/goliatone/go-billing-hooks"
	_ "github.com/mattn/go-sqlite3"
)

func TestSchemas_ReturnsPostgresAndSQLite(t *testing.T) {
	schemas, err := Schemas()
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}
	if len(schemas) != 2 {
		t.Fatalf("expected 2 schemas, got %d", len(schemas))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range schemas {
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
	if !postgresFound || !sqliteFound {
		t.Fatalf("expected postgres and sqlite schemas")
	}
}

func TestSchemas_AcceptsFlatRoot(t *testing.T) {
	root := fstest.MapFS{
		"00001_jobs.up.sql":        {Data: []byte("SELECT 1;")},
		"sqlite/00001_jobs.up.sql": {Data: []byte("SELECT 1;")},
	}
	schemas, err := Schemas(root)
	if err != nil {
		t.Fatalf("schemas: %v", err)
	}
	if schemas[0].Path != "." || schemas[1].Path != "sqlite" {
		t.Fatalf("unexpected schema paths %q %q", schemas[0].Path, schemas[1].Path)
	}

	if _, err := Schemas(fstest.MapFS{"sqlite/00001_jobs.up.sql": {Data: []byte("SELECT 1;")}}); err == nil {
		t.Fatalf("expected root without migrations to fail")
	}
}

func TestRegister_MapsDriverToDialect(t *testing.T) {
	var registered []fs.FS
	reg, err := Register(context.Background(), "sqlite3", func(fsys fs.FS) {
		registered = append(registered, fsys)
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(registered) != 1 {
		t.Fatalf("expected one schema registered, got %d", len(registered))
	}
	if reg.Dialect != DialectSQLite || reg.Path != "data/sql/migrations/sqlite" {
		t.Fatalf("unexpected registration %+v", reg)
	}
	want := []string{"00001_billing_webhook_jobs", "00002_billing_webhook_job_claims"}
	if strings.Join(reg.Versions, ",") != strings.Join(want, ",") {
		t.Fatalf("expected versions %v, got %v", want, reg.Versions)
	}
	if _, err := fs.ReadFile(registered[0], "00001_billing_webhook_jobs.up.sql"); err != nil {
		t.Fatalf("expected sqlite migration in registered schema: %v", err)
	}

	reg, err = Register(context.Background(), "pgx", func(fs.FS) {})
	if err != nil || reg.Dialect != DialectPostgres {
		t.Fatalf("expected postgres registration, got %+v err=%v", reg, err)
	}

	if _, err := Register(context.Background(), "oracle", func(fs.FS) {}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := Register(context.Background(), "sqlite", nil); err == nil {
		t.Fatalf("expected missing register function error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	if _, err := Register(ctx, "sqlite", func(fs.FS) { called = true }); err == nil || called {
		t.Fatalf("expected canceled context to skip registration, err=%v called=%v", err, called)
	}
}

func TestWebhookJobsMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := billinghooks.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_billing_webhook_jobs.up.sql",
		"data/sql/migrations/00001_billing_webhook_jobs.down.sql",
		"data/sql/migrations/sqlite/00001_billing_webhook_jobs.up.sql",
		"data/sql/migrations/sqlite/00001_billing_webhook_jobs.down.sql",
		"data/sql/migrations/00002_billing_webhook_job_claims.up.sql",
		"data/sql/migrations/00002_billing_webhook_job_claims.down.sql",
		"data/sql/migrations/sqlite/00002_billing_webhook_job_claims.up.sql",
		"data/sql/migrations/sqlite/00002_billing_webhook_job_claims.down.sql",
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

func TestSQLiteWebhookJobsMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-webhook-jobs?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(billinghooks.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_billing_webhook_jobs.up.sql"); err != nil {
		t.Fatalf("apply up migration: %v", err)
	}

	insertJob := `
		INSERT INTO billing_webhook_jobs (
			id, kind, subject_id, account_id, tenant_id, payload,
			idempotency_key, target_url, status, max_attempts, next_attempt_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(ctx, insertJob,
		"job-1", "PaymentSuccess", "sub-1", "acct-1", "tenant-1", "{}",
		"PaymentSuccess:sub-1", "https://hooks.example.com", "pending", 5, "2026-03-01 00:00:00+00:00",
	); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertJob,
		"job-2", "PaymentSuccess", "sub-2", "acct-1", "tenant-1", "{}",
		"PaymentSuccess:sub-2", "https://hooks.example.com", "queued", 5, "2026-03-01 00:00:00+00:00",
	); err == nil {
		t.Fatalf("expected status check constraint violation")
	}

	insertAttempt := `INSERT INTO billing_webhook_attempts (id, job_id, attempt, reason, occurred_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertAttempt, "a-1", "job-1", 1, "transient_failure", "2026-03-01 00:00:01+00:00"); err != nil {
		t.Fatalf("insert attempt: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertAttempt, "a-2", "job-1", 1, "transient_failure", "2026-03-01 00:00:02+00:00"); err == nil {
		t.Fatalf("expected duplicate attempt number to be rejected")
	}
	if _, err := db.ExecContext(ctx, insertAttempt, "a-3", "missing", 1, "delivered", "2026-03-01 00:00:03+00:00"); err == nil {
		t.Fatalf("expected attempt for unknown job to violate foreign key")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_billing_webhook_jobs.down.sql"); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}
	var name string
	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", "billing_webhook_jobs").Scan(&name)
	if err != sql.ErrNoRows {
		t.Fatalf("expected jobs table dropped, got %q err=%v", name, err)
	}
}

func TestSQLiteJobClaimsMigration_AddsClaimColumns(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-job-claims?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(billinghooks.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	for _, name := range []string{"00001_billing_webhook_jobs.up.sql", "00002_billing_webhook_job_claims.up.sql"} {
		if err := execSQLMigration(ctx, db, sqliteMigrations, name); err != nil {
			t.Fatalf("apply %s: %v", name, err)
		}
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO billing_webhook_jobs (
			id, kind, subject_id, account_id, tenant_id, payload,
			idempotency_key, target_url, status, max_attempts, next_attempt_at
		) VALUES ('job-1', 'PaymentSuccess', 'sub-1', 'acct-1', 'tenant-1', '{}',
			'PaymentSuccess:sub-1', 'https://hooks.example.com', 'pending', 5, '2026-03-01 00:00:00+00:00')
	`); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	var claimedBy string
	var expires sql.NullString
	if err := db.QueryRowContext(ctx, "SELECT claimed_by, claim_expires_at FROM billing_webhook_jobs WHERE id = 'job-1'").Scan(&claimedBy, &expires); err != nil {
		t.Fatalf("read claim columns: %v", err)
	}
	if claimedBy != "" || expires.Valid {
		t.Fatalf("expected unclaimed defaults, got %q %+v", claimedBy, expires)
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00002_billing_webhook_job_claims.down.sql"); err != nil {
		t.Fatalf("apply down migration: %v", err)
	}
	if _, err := db.ExecContext(ctx, "SELECT claimed_by FROM billing_webhook_jobs"); err == nil {
		t.Fatalf("expected claimed_by column dropped")
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
