package storage

import (
	"database/sql"
	"fmt"
)

// Schema version tracking
const currentSchemaVersion = 1

// initializeSchema creates all tables for a new database
func (db *DB) initializeSchema() error {
	return db.WithTx(func(tx *sql.Tx) error {
		if err := createSchemaVersionTable(tx); err != nil {
			return err
		}

		if err := createUserTable(tx); err != nil {
			return err
		}
		if err := createCoeditTable(tx); err != nil {
			return err
		}
		if err := createTemporalTable(tx); err != nil {
			return err
		}
		if err := createLocksTable(tx); err != nil {
			return err
		}

		if err := setSchemaVersion(tx, currentSchemaVersion); err != nil {
			return err
		}

		db.logger.Info("Database schema initialized", map[string]interface{}{
			"version": currentSchemaVersion,
		})

		return nil
	})
}

// RecreateDatasetTables drops and recreates the three dataset tables.
// Intended for ingestion runs after a schema change; the locks and
// schema_version tables are left alone.
func (db *DB) RecreateDatasetTables() error {
	return db.WithTx(func(tx *sql.Tx) error {
		for _, table := range []string{"user", "coedit", "temporal"} {
			if _, err := tx.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
				return fmt.Errorf("failed to drop %s table: %w", table, err)
			}
		}

		if err := createUserTable(tx); err != nil {
			return err
		}
		if err := createCoeditTable(tx); err != nil {
			return err
		}
		if err := createTemporalTable(tx); err != nil {
			return err
		}

		db.logger.Info("Dataset tables recreated", nil)
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
		db.logger.Debug("Database schema is up to date", map[string]interface{}{
			"version": version,
		})
		return nil
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	// Migrations are added here as the schema evolves.
	return nil
}

func createSchemaVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}
	return nil
}

func createUserTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS user (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_text TEXT NOT NULL,
			is_anon INTEGER NOT NULL DEFAULT 0,
			num_edits INTEGER NOT NULL DEFAULT 0,
			num_pages INTEGER NOT NULL DEFAULT 0,
			most_recent_edit TEXT,
			oldest_edit TEXT,
			insertion_time TEXT NOT NULL DEFAULT (datetime('now')),
			dataset_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create user table: %w", err)
	}
	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_user_user_text ON user(user_text)`)
	if err != nil {
		return fmt.Errorf("failed to create user index: %w", err)
	}
	return nil
}

func createCoeditTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS coedit (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_text TEXT NOT NULL,
			user_text_neighbour TEXT NOT NULL,
			overlap_count INTEGER NOT NULL DEFAULT 0,
			insertion_time TEXT NOT NULL DEFAULT (datetime('now')),
			dataset_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create coedit table: %w", err)
	}
	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_coedit_user_text ON coedit(user_text)`)
	if err != nil {
		return fmt.Errorf("failed to create coedit index: %w", err)
	}
	return nil
}

func createTemporalTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS temporal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_text TEXT NOT NULL,
			d INTEGER NOT NULL,
			h INTEGER NOT NULL,
			num_edits INTEGER NOT NULL DEFAULT 0,
			insertion_time TEXT NOT NULL DEFAULT (datetime('now')),
			dataset_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create temporal table: %w", err)
	}
	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_temporal_user_text ON temporal(user_text)`)
	if err != nil {
		return fmt.Errorf("failed to create temporal index: %w", err)
	}
	return nil
}

func createLocksTable(tx *sql.Tx) error {
	// Named advisory locks. A row means the lock is held; independent of
	// row-level locking.
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS locks (
			name TEXT PRIMARY KEY,
			holder TEXT NOT NULL,
			acquired_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create locks table: %w", err)
	}
	return nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("failed to clear schema version: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

func (db *DB) getSchemaVersion() (int, error) {
	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}
