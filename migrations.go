package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/orian/configdesk/logger"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	// SQL holds the statements to run, keyed by dialect name.
	SQL map[string][]string
}

// GetMigrations returns all migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create documents and document_versions tables",
			SQL: map[string][]string{
				DriverDuckDB: {
					`CREATE SEQUENCE IF NOT EXISTS documents_seq START 1`,
					`CREATE TABLE IF NOT EXISTS documents (
						oid VARCHAR PRIMARY KEY,
						seq BIGINT NOT NULL DEFAULT nextval('documents_seq'),
						collection VARCHAR NOT NULL,
						doc_id VARCHAR,
						body VARCHAR NOT NULL,
						last_modify TIMESTAMP NOT NULL
					)`,
					`CREATE SEQUENCE IF NOT EXISTS document_versions_seq START 1`,
					`CREATE TABLE IF NOT EXISTS document_versions (
						oid VARCHAR PRIMARY KEY,
						seq BIGINT NOT NULL DEFAULT nextval('document_versions_seq'),
						collection VARCHAR NOT NULL,
						doc_id VARCHAR NOT NULL,
						n_ver BIGINT NOT NULL,
						tag VARCHAR NOT NULL,
						comment VARCHAR NOT NULL,
						body VARCHAR NOT NULL,
						last_modify TIMESTAMP NOT NULL
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_doc_nver ON document_versions(collection, doc_id, n_ver)`,
				},
				DriverPostgres: {
					`CREATE TABLE IF NOT EXISTS documents (
						oid VARCHAR(64) PRIMARY KEY,
						seq BIGSERIAL NOT NULL,
						collection VARCHAR(255) NOT NULL,
						doc_id VARCHAR(255),
						body JSONB NOT NULL,
						last_modify TIMESTAMP NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_documents_collection_doc ON documents(collection, doc_id)`,
					`CREATE TABLE IF NOT EXISTS document_versions (
						oid VARCHAR(64) PRIMARY KEY,
						seq BIGSERIAL NOT NULL,
						collection VARCHAR(255) NOT NULL,
						doc_id VARCHAR(255) NOT NULL,
						n_ver BIGINT NOT NULL,
						tag VARCHAR(255) NOT NULL,
						comment TEXT NOT NULL,
						body JSONB NOT NULL,
						last_modify TIMESTAMP NOT NULL
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_versions_doc_nver ON document_versions(collection, doc_id, n_ver)`,
				},
			},
		},
		{
			Version:     2,
			Description: "Create scenarios table",
			SQL: map[string][]string{
				DriverDuckDB: {
					`CREATE TABLE IF NOT EXISTS scenarios (
						id VARCHAR PRIMARY KEY,
						owner_id VARCHAR,
						name VARCHAR NOT NULL,
						description VARCHAR,
						start_date TIMESTAMP,
						end_date TIMESTAMP,
						increase_time INTEGER NOT NULL DEFAULT 1,
						locked BOOLEAN NOT NULL DEFAULT FALSE,
						created_at TIMESTAMP NOT NULL,
						modified_at TIMESTAMP NOT NULL
					)`,
				},
				DriverPostgres: {
					`CREATE TABLE IF NOT EXISTS scenarios (
						id VARCHAR(64) PRIMARY KEY,
						owner_id VARCHAR(64),
						name VARCHAR(255) NOT NULL,
						description TEXT,
						start_date TIMESTAMP,
						end_date TIMESTAMP,
						increase_time INTEGER NOT NULL DEFAULT 1,
						locked BOOLEAN NOT NULL DEFAULT FALSE,
						created_at TIMESTAMP NOT NULL,
						modified_at TIMESTAMP NOT NULL
					)`,
				},
			},
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, d dialect, log *logger.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	log.Debug("Current schema version", "version", currentVersion, "dialect", d.Name())

	appliedCount := 0
	for _, migration := range GetMigrations() {
		if migration.Version <= currentVersion {
			continue
		}
		statements, ok := migration.SQL[d.Name()]
		if !ok {
			return fmt.Errorf("migration %d has no SQL for %s", migration.Version, d.Name())
		}

		log.Info("Applying migration", "version", migration.Version, "description", migration.Description)
		if err := applyMigration(ctx, db, d, migration, statements); err != nil {
			return err
		}
		appliedCount++
	}

	if appliedCount > 0 {
		log.Info("Applied migrations", "count", appliedCount)
	} else {
		log.Debug("No pending migrations")
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, d dialect, migration Migration, statements []string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}
	}

	_, err = tx.ExecContext(ctx,
		d.Rebind("INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
		migration.Version, migration.Description, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
