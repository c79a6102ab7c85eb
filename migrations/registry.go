// Package migrations resolves the embedded billing webhook job schema for
// the database dialect a host runs on.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	billinghooks "github.com/goliatone/go-billing-hooks"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const jobSchemaRoot = "data/sql/migrations"

// Schema is one dialect's migration tree.
type Schema struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Registration reports which schema was handed to the persistence client.
type Registration struct {
	Dialect string
	Path    string
	// Versions are the up migration names in apply order, without suffix.
	Versions []string
}

// Schemas returns the postgres and sqlite job schemas. An optional root
// replaces the embedded tree; it may hold data/sql/migrations or the
// migration files directly.
func Schemas(root ...fs.FS) ([]Schema, error) {
	source := billinghooks.GetMigrationsFS()
	if len(root) > 0 && root[0] != nil {
		source = root[0]
	}

	base, basePath, err := schemaRoot(source)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite schema: %w", err)
	}

	schemas := []Schema{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: joinPath(basePath, "sqlite"), FS: sqliteFS},
	}
	for _, schema := range schemas {
		if _, err := upVersions(schema); err != nil {
			return nil, err
		}
	}
	return schemas, nil
}

// Register resolves driver to a dialect and passes that dialect's job
// schema to register, usually the persistence client's
// RegisterSQLMigrations.
func Register(ctx context.Context, driver string, register func(fs.FS)) (Registration, error) {
	if register == nil {
		return Registration{}, fmt.Errorf("migrations: register function is required")
	}
	if err := ctx.Err(); err != nil {
		return Registration{}, err
	}
	dialect, err := DialectForDriver(driver)
	if err != nil {
		return Registration{}, err
	}
	schemas, err := Schemas()
	if err != nil {
		return Registration{}, err
	}
	for _, schema := range schemas {
		if schema.Dialect != dialect {
			continue
		}
		versions, err := upVersions(schema)
		if err != nil {
			return Registration{}, err
		}
		register(schema.FS)
		return Registration{Dialect: dialect, Path: schema.Path, Versions: versions}, nil
	}
	return Registration{}, fmt.Errorf("migrations: no schema for dialect %q", dialect)
}

// DialectForDriver maps a database/sql driver name to a schema dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

func upVersions(schema Schema) ([]string, error) {
	matches, err := fs.Glob(schema.FS, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s %s: %w", schema.Dialect, schema.Path, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s schema %q has no *.up.sql files", schema.Dialect, schema.Path)
	}
	sort.Strings(matches)
	versions := make([]string, 0, len(matches))
	for _, name := range matches {
		versions = append(versions, strings.TrimSuffix(name, ".up.sql"))
	}
	return versions, nil
}

func schemaRoot(source fs.FS) (fs.FS, string, error) {
	if _, err := fs.Stat(source, jobSchemaRoot); err == nil {
		sub, err := fs.Sub(source, jobSchemaRoot)
		if err != nil {
			return nil, "", fmt.Errorf("migrations: resolve %s: %w", jobSchemaRoot, err)
		}
		return sub, jobSchemaRoot, nil
	}
	if matches, _ := fs.Glob(source, "*.sql"); len(matches) > 0 {
		return source, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", jobSchemaRoot)
}

func joinPath(base, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + suffix
}
