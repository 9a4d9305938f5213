package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"locker-backend/internal/config"
	"locker-backend/internal/db"
	"locker-backend/internal/repository"
	"locker-backend/internal/services"
)

func main() {
	var (
		configPath   string
		stalledAfter time.Duration
	)

	flagSet := pflag.NewFlagSet("list-stalled-deposits", pflag.ExitOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config file")
	flagSet.DurationVar(&stalledAfter, "stalled-after", 0, "override automation.stalledAfterSeconds")
	_ = flagSet.Parse(os.Args[1:])

	fmt.Println("🔍 Looking for deposits marked STARTED without outbound transfers...")
	fmt.Println("============================================================")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if stalledAfter <= 0 {
		stalledAfter = time.Duration(cfg.Automation.StalledAfterSeconds) * time.Second
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	conn, err := db.InitDB(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}

	reconciliation := services.NewReconciliationService(repository.NewTransferRepository(conn), time.Minute, stalledAfter, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stalled, err := reconciliation.FindStalled(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}

	if len(stalled) == 0 {
		fmt.Printf("✅ No stalled deposits older than %s\n", stalledAfter)
		return
	}

	fmt.Printf("⚠️ %d stalled deposit(s):\n\n", len(stalled))
	for _, s := range stalled {
		fmt.Printf("  %s  chain=%d  locker=%s  amount=%s  tx=%s  started %s ago\n",
			s.Transfer.ID, s.Transfer.ChainID, s.Transfer.LockerID, s.Transfer.Amount, s.Transfer.TxHash, s.StartedFor)
	}
	fmt.Println()
	fmt.Println("These deposits are not retried automatically; check the executor before moving funds by hand.")
}
