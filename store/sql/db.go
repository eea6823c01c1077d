package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Open opens a database/sql handle for the named driver and wraps it in a
// bun.DB with the matching dialect. Postgres goes through lib/pq, SQLite
// through mattn/go-sqlite3.
func Open(driver string, dsn string) (*bun.DB, error) {
	normalized, err := normalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	sqlDB, err := sql.Open(normalized, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s database: %w", normalized, err)
	}
	return Wrap(sqlDB, normalized)
}

// Wrap attaches the dialect for driver to an existing database handle.
func Wrap(sqlDB *sql.DB, driver string) (*bun.DB, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("sqlstore: sql db is required")
	}
	normalized, err := normalizeDriver(driver)
	if err != nil {
		return nil, err
	}
	if normalized == DriverPostgres {
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	}
	return bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

func normalizeDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pg":
		return DriverPostgres, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// CreateSchema creates the connections table and its lookup indexes when
// they do not exist yet.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	if db == nil {
		return fmt.Errorf("sqlstore: bun db is required")
	}
	if _, err := db.NewCreateTable().
		Model((*connectionRecord)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("sqlstore: create connections table: %w", err)
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().
			Model((*connectionRecord)(nil)).
			Index("social_connections_account_platform_idx").
			Column("account_id", "platform", "status").
			IfNotExists(),
		db.NewCreateIndex().
			Model((*connectionRecord)(nil)).
			Index("social_connections_expires_at_idx").
			Column("expires_at").
			IfNotExists(),
	}
	for _, index := range indexes {
		if _, err := index.Exec(ctx); err != nil {
			return fmt.Errorf("sqlstore: create index: %w", err)
		}
	}
	return nil
}
