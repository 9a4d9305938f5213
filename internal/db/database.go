package db

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"locker-backend/internal/config"
	"locker-backend/internal/metrics"
	"locker-backend/internal/models"
)

var DB *gorm.DB

// InitDB opens the ledger datastore, migrates the schema and runs pending data migrations
func InitDB(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		TranslateError:                           true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "postgres":
		dialector = postgres.Open(cfg.DSN)
		gormConfig.PrepareStmt = true
	case "sqlite":
		// local development only; NOTIFY based change listening needs postgres
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	conn, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	log.Infof("✅ Database connected (%s)", conn.Dialector.Name())

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	log.Info("🚀 Starting database schema migration with GORM AutoMigrate...")
	if err := conn.AutoMigrate(
		&models.Locker{},
		&models.Policy{},
		&models.TokenTransfer{},
	); err != nil {
		return nil, fmt.Errorf("AutoMigrate failed: %w", err)
	}

	if conn.Dialector.Name() == "postgres" {
		if err := RunDataMigrations(sqlDB, log); err != nil {
			return nil, fmt.Errorf("data migrations failed: %w", err)
		}
	}

	log.Info("✅ Database schema migrated successfully")
	DB = conn
	return conn, nil
}

var channelName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// InstallChangeNotifications creates the trigger that NOTIFYs channel with {"id","op"}
// whenever a confirmed inbound transfer that has not been automated is written
func InstallChangeNotifications(conn *gorm.DB, channel string) error {
	if conn.Dialector.Name() != "postgres" {
		return fmt.Errorf("change notifications require postgres, got %s", conn.Dialector.Name())
	}
	if !channelName.MatchString(channel) {
		return fmt.Errorf("invalid notification channel %q", channel)
	}

	statements := []string{
		fmt.Sprintf(`
			CREATE OR REPLACE FUNCTION notify_token_transfer_change() RETURNS trigger AS $$
			BEGIN
				PERFORM pg_notify('%s', json_build_object('id', NEW.id, 'op', TG_OP)::text);
				RETURN NEW;
			END;
			$$ LANGUAGE plpgsql`, channel),
		`DROP TRIGGER IF EXISTS token_transfer_change ON token_transfers`,
		`
			CREATE TRIGGER token_transfer_change
			AFTER INSERT OR UPDATE ON token_transfers
			FOR EACH ROW
			WHEN (NEW.direction = 'IN' AND NEW.is_confirmed AND NEW.automation_state = 'NOT_STARTED')
			EXECUTE FUNCTION notify_token_transfer_change()`,
	}
	for _, stmt := range statements {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to install change notifications: %w", err)
		}
	}
	return nil
}

// MonitorPool publishes connection pool stats until ctx is cancelled
func MonitorPool(ctx context.Context, conn *gorm.DB, interval time.Duration) error {
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		recordPoolStats(ctx, sqlDB)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func recordPoolStats(ctx context.Context, sqlDB *sql.DB) {
	stats := sqlDB.Stats()
	metrics.DBConnectionActive.Set(float64(stats.InUse))
	metrics.DBConnectionIdle.Set(float64(stats.Idle))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		metrics.DBConnectionStatus.Set(0)
		return
	}
	metrics.DBConnectionStatus.Set(1)
}
