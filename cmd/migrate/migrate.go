// Package migrate applies the embedded dispatch-history schema
// migrations before the service starts serving.
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations
var Migrations embed.FS

// Migrate brings the dispatch-history schema up to date. It opens its
// own short-lived connection so the repository's pool is never tied up
// in DDL.
func Migrate(dsn string, fsys fs.FS) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open history database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping history database: %w", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}
	goose.SetBaseFS(fsys)

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply history migrations: %w", err)
	}
	return nil
}
