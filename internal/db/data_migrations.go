package db

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// DataMigration represents a data migration
type DataMigration struct {
	Version     string
	Description string
	Up          func(*sql.DB, *logrus.Logger) error
}

// GetDataMigrations return all data migrations, in order
func GetDataMigrations() []DataMigration {
	return []DataMigration{
		{
			Version:     "data_001",
			Description: "Lower-case transfer hashes and addresses written by older importers",
			Up:          normalizeTransferCase,
		},
		{
			Version:     "data_002",
			Description: "Backfill automation_state on transfers imported without one",
			Up:          backfillAutomationState,
		},
	}
}

func normalizeTransferCase(db *sql.DB, log *logrus.Logger) error {
	// rows that would collide after lower-casing must be merged by hand first
	var collisions int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT chain_id, LOWER(tx_hash)
			FROM token_transfers
			GROUP BY chain_id, LOWER(tx_hash)
			HAVING COUNT(*) > 1
		) dup
	`).Scan(&collisions)
	if err != nil {
		return fmt.Errorf("failed to check hash collisions: %w", err)
	}
	if collisions > 0 {
		return fmt.Errorf("%d transfers differ only by hash case, merge them before migrating", collisions)
	}

	result, err := db.Exec(`
		UPDATE token_transfers
		SET tx_hash = LOWER(tx_hash),
			contract_address = LOWER(contract_address),
			from_address = LOWER(from_address),
			to_address = LOWER(to_address)
		WHERE tx_hash <> LOWER(tx_hash)
		   OR contract_address <> LOWER(contract_address)
		   OR from_address <> LOWER(from_address)
		   OR to_address <> LOWER(to_address)
	`)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	log.Infof("✅ Normalized %d transfer rows", rows)

	result, err = db.Exec(`UPDATE lockers SET address = LOWER(address) WHERE address <> LOWER(address)`)
	if err != nil {
		return err
	}
	rows, _ = result.RowsAffected()
	log.Infof("✅ Normalized %d locker addresses", rows)
	return nil
}

func backfillAutomationState(db *sql.DB, log *logrus.Logger) error {
	result, err := db.Exec(`
		UPDATE token_transfers
		SET automation_state = 'NOT_STARTED'
		WHERE automation_state IS NULL OR automation_state = ''
	`)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	log.Infof("✅ Backfilled automation_state on %d rows", rows)
	return nil
}

// RunDataMigrations applies migrations not yet recorded in schema_migrations_log
func RunDataMigrations(db *sql.DB, log *logrus.Logger) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations_log (
			id SERIAL PRIMARY KEY,
			version VARCHAR(50) NOT NULL UNIQUE,
			description TEXT,
			executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations_log: %w", err)
	}

	for _, migration := range GetDataMigrations() {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM schema_migrations_log WHERE version = $1",
			migration.Version,
		).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			log.Debugf("📋 Data migration %s already applied", migration.Version)
			continue
		}

		log.Infof("🚀 Running data migration %s: %s", migration.Version, migration.Description)
		if err := migration.Up(db, log); err != nil {
			return fmt.Errorf("data migration %s: %w", migration.Version, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations_log (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		)
		if err != nil {
			return err
		}
		log.Infof("✅ Data migration %s completed", migration.Version)
	}
	return nil
}
