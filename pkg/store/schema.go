package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// currentSchemaVersion is bumped whenever the checkpoint layout changes.
const currentSchemaVersion = 1

// initSchema ensures the database schema is at the current version.
// Idempotent; safe to call on every open.
func initSchema(db *sql.DB) error {
	version, err := schemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	if version == currentSchemaVersion {
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if version == 0 {
		return createSchema(db)
	}
	return runMigrations(db, version)
}

func schemaVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		// Missing table means a fresh database.
		var exists int
		checkErr := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
		).Scan(&exists)
		if checkErr == nil && exists == 0 {
			return 0, nil
		}
		return 0, err
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`DELETE FROM schema_version`); err != nil {
		return err
	}
	_, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version)
	return err
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoints (
		thread_id  TEXT    NOT NULL,
		seq        INTEGER NOT NULL,
		user_id    TEXT    NOT NULL,
		step       TEXT    NOT NULL,
		thread     TEXT    NOT NULL,
		created_at TEXT    NOT NULL,
		PRIMARY KEY (thread_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_user
		ON checkpoints (user_id, thread_id);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return setSchemaVersion(db, currentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion int) error {
	for version := fromVersion + 1; version <= currentSchemaVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(_ *sql.DB, version int) error {
	// Version 1 is the initial schema; nothing to migrate from yet.
	return fmt.Errorf("unknown schema version %d", version)
}
