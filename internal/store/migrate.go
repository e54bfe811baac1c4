package store

import (
	"fmt"
	"sort"
)

// Migration is one forward-only, idempotent schema change, identified by a
// lexically ordered id (§4.D: "enumerates migrations in lexical order").
type Migration struct {
	ID  string
	SQL string
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	id TEXT PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// Migrate applies every migration in migrations() not yet recorded in
// schema_migrations, each inside its own transaction, writing the id on
// success. Re-running over a fully migrated database is a no-op (§8
// idempotence law).
func (s *Store) Migrate() error {
	if _, err := s.DB.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	applied, err := s.appliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	all := migrations()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	for _, m := range all {
		if applied[m.ID] {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.ID, err)
		}
	}
	return nil
}

func (s *Store) appliedMigrations() (map[string]bool, error) {
	rows, err := s.DB.Query("SELECT id FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		applied[id] = true
	}
	return applied, rows.Err()
}

func (s *Store) applyMigration(m Migration) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(s.q("INSERT INTO schema_migrations (id) VALUES (?)"), m.ID); err != nil {
		return err
	}
	return tx.Commit()
}
