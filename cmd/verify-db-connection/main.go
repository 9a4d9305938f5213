package main

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"locker-backend/internal/config"
	"locker-backend/internal/db"
)

// ledger columns that must hold 0x-prefixed hashes and addresses
var requiredSizes = map[string]int64{
	"tx_hash":          66,
	"contract_address": 42,
	"from_address":     42,
	"to_address":       42,
}

func main() {
	var configPath string
	var fix bool
	pflag.StringVarP(&configPath, "config", "c", "", "path to config file")
	pflag.BoolVar(&fix, "fix", false, "widen undersized columns")
	pflag.Parse()

	fmt.Println("🔍 Verifying database connection and ledger schema...")
	fmt.Println("============================================================")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("Schema checks need postgres, configured driver is %s", cfg.Database.Driver)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	conn, err := db.InitDB(cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	var dbName string
	if err := sqlDB.QueryRow("SELECT current_database()").Scan(&dbName); err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("📋 Connected to database: %s\n", dbName)

	for column, want := range requiredSizes {
		var size sql.NullInt64
		err := sqlDB.QueryRow(`
			SELECT character_maximum_length
			FROM information_schema.columns
			WHERE table_schema = current_schema()
			AND table_name = 'token_transfers'
			AND column_name = $1
		`, column).Scan(&size)
		if err == sql.ErrNoRows {
			fmt.Printf("❌ token_transfers.%s does not exist!\n", column)
			continue
		}
		if err != nil {
			log.Fatalf("Failed to query column size: %v", err)
		}

		if !size.Valid || size.Int64 >= want {
			fmt.Printf("✅ token_transfers.%s size is fine\n", column)
			continue
		}

		fmt.Printf("❌ token_transfers.%s is VARCHAR(%d), need VARCHAR(%d)\n", column, size.Int64, want)
		if !fix {
			continue
		}
		// column names come from requiredSizes, never from input
		if _, err := sqlDB.Exec(fmt.Sprintf(`ALTER TABLE token_transfers ALTER COLUMN %s TYPE VARCHAR(%d)`, column, want)); err != nil {
			log.Fatalf("Failed to fix column size: %v", err)
		}
		fmt.Printf("✅ token_transfers.%s widened to VARCHAR(%d)\n", column, want)
	}

	var indexCount int
	err = sqlDB.QueryRow(`
		SELECT COUNT(*) FROM pg_indexes
		WHERE schemaname = current_schema()
		AND tablename = 'token_transfers'
		AND indexname = 'idx_token_transfers_chain_hash'
	`).Scan(&indexCount)
	if err != nil {
		log.Fatalf("Failed to query indexes: %v", err)
	}
	if indexCount == 0 {
		fmt.Println("❌ unique index idx_token_transfers_chain_hash is missing, idempotent ingestion is not guaranteed")
		return
	}
	fmt.Println("✅ unique index idx_token_transfers_chain_hash present")
}
