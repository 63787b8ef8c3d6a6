package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const currentSchemaVersion = 2

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id         TEXT PRIMARY KEY,
		position   INTEGER NOT NULL,
		username   TEXT NOT NULL DEFAULT '',
		disabled   INTEGER NOT NULL DEFAULT 0,
		joined_at  TEXT,
		expires_at TEXT,
		mentions   TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS link_lists (
		participant_id TEXT PRIMARY KEY,
		position       INTEGER NOT NULL,
		incoming       TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS state (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sweeps (
		id              TEXT PRIMARY KEY,
		started_at      TEXT NOT NULL,
		ended_at        TEXT NOT NULL,
		scanned         INTEGER NOT NULL DEFAULT 0,
		failed          INTEGER NOT NULL DEFAULT 0,
		chain_length    INTEGER NOT NULL DEFAULT 0,
		unbroken_length INTEGER NOT NULL DEFAULT 0,
		best_valid      INTEGER NOT NULL DEFAULT 0,
		purged          INTEGER NOT NULL DEFAULT 0,
		pruned          INTEGER NOT NULL DEFAULT 0,
		published       INTEGER NOT NULL DEFAULT 0,
		error           TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sweeps_started ON sweeps(started_at)`,
}

// v2 adds the scheduler run history.
var schemaV2 = []string{
	`CREATE TABLE IF NOT EXISTS schedule_runs (
		id          TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		task_type   TEXT NOT NULL,
		started_at  TEXT NOT NULL,
		ended_at    TEXT NOT NULL,
		status      TEXT NOT NULL,
		error       TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_schedule_runs_task ON schedule_runs(task_type, started_at)`,
}

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		for _, stmts := range [][]string{schemaV1, schemaV2} {
			if err := execAll(tx, stmts); err != nil {
				return err
			}
		}
		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}
		db.logger.Info("Database schema initialized", "version", currentSchemaVersion)
		return nil
	})
}

// runMigrations runs any pending schema migrations
func (db *DB) runMigrations() error {
	version, err := db.getSchemaVersion()
	if err != nil {
		return err
	}
	if version == currentSchemaVersion {
		db.logger.Debug("Database schema is up to date", "version", version)
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}

	db.logger.Info("Running database migrations",
		"fromVersion", version,
		"toVersion", currentSchemaVersion,
	)

	return db.WithTx(context.Background(), func(tx *sql.Tx) error {
		if version < 1 {
			if err := execAll(tx, schemaV1); err != nil {
				return err
			}
		}
		if version < 2 {
			if err := execAll(tx, schemaV2); err != nil {
				return err
			}
		}
		return setSchemaVersion(tx, currentSchemaVersion)
	})
}

// getSchemaVersion gets the current schema version
func (db *DB) getSchemaVersion() (int, error) {
	var tableName string
	err := db.conn.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var version int
	err = db.conn.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec("DELETE FROM schema_version"); err != nil {
		return err
	}
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}

func execAll(tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
