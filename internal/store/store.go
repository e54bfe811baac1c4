// Package store is the persistence layer (§4.D): schema, migrations, and
// write-through save/load of sessions, tables, entities and characters.
// It generalizes the teacher's internal/database package (global *sql.DB,
// database/sql + go-sqlite3 + lib/pq, inline schema string) into an
// explicit, constructed Store value threaded from the process root into
// each LiveSession — no package-global connection (§9 redesign note:
// "Global singletons... replace with explicit context passed from the
// process root").
package store

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"mudengine/internal/apperr"
	"mudengine/internal/config"
)

// Store wraps the database connection and knows which driver it was opened
// with, so query text can be rebound between ?-style (SQLite) and
// $n-style (PostgreSQL) placeholders.
type Store struct {
	DB     *sql.DB
	Driver string
}

// Open connects to the configured database, applies connection pool
// settings, and runs pending migrations. A failed migration is fatal
// (§6: "non-zero on unrecoverable startup failure... failed migration").
func Open(cfg *config.Config) (*Store, error) {
	driver := cfg.Driver()

	var db *sql.DB
	var err error

	switch driver {
	case "sqlite3":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = sql.Open("postgres", cfg.GetConnectionString())
	default:
		return nil, apperr.Fatal("unsupported_driver", "unsupported database driver: "+driver, nil)
	}
	if err != nil {
		return nil, apperr.Fatal("db_open_failed", "failed to open database", err)
	}

	if err := db.Ping(); err != nil {
		return nil, apperr.Fatal("db_ping_failed", "failed to ping database", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxConnections)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)

	s := &Store{DB: db, Driver: driver}

	if err := s.Migrate(); err != nil {
		return nil, apperr.Fatal("migration_failed", "failed to apply migrations", err)
	}

	return s, nil
}

func openSQLite(cfg *config.Config) (*sql.DB, error) {
	dbDir := filepath.Dir(cfg.DBName)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		log.Printf("Warning: failed to set WAL mode: %v", err)
	}
	return db, nil
}

func (s *Store) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

var placeholder = regexp.MustCompile(`\?`)

// q rewrites ?-style placeholders to $1, $2, ... for PostgreSQL;
// SQLite queries pass through unchanged. Every query in this package is
// written with ? and rebound at the call site via Store.q, so the same
// query text supports both drivers from one source (§4.D: dual sqlite/
// postgres support, no per-driver query duplication).
func (s *Store) q(query string) string {
	if s.Driver != "postgres" {
		return query
	}
	n := 0
	return placeholder.ReplaceAllStringFunc(query, func(string) string {
		n++
		return "$" + strconv.Itoa(n)
	})
}
