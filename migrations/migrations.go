// Package migrations holds the SQL schema and applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var Migrations embed.FS

const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// goose keeps its configuration in package globals
var mu sync.Mutex

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Up applies all pending migrations for dialect.
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	dir, err := Dir(dialect)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetBaseFS(Migrations)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	if err := gooseUpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Dir returns the embedded directory holding the migrations for dialect.
func Dir(dialect string) (string, error) {
	switch dialect {
	case DialectSQLite, "sqlite":
		return "sqlite", nil
	case DialectPostgres, "pgx":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported migrations dialect %q", dialect)
	}
}

// Files lists the embedded migration files for dialect.
func Files(dialect string) ([]string, error) {
	dir, err := Dir(dialect)
	if err != nil {
		return nil, err
	}
	return fs.Glob(Migrations, dir+"/*.sql")
}
