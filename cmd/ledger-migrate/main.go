package main

import (
	"context"
	"fmt"
	"time"

	"dialysis-ledger/common/database"
	"dialysis-ledger/common/logger"
	"dialysis-ledger/db"
	"dialysis-ledger/internal/config"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "ledger-migrate")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		log.Fatal("Cannot connect to database", zap.String("database", cfg.Database.Database), zap.Error(err))
	}
	defer conn.Close()

	applied, err := db.Apply(ctx, conn)
	if err != nil {
		log.Fatal("Migration failed", zap.Strings("applied", applied), zap.Error(err))
	}
	if len(applied) == 0 {
		log.Info("Schema up to date")
		return
	}
	log.Info("Migrations applied", zap.Strings("applied", applied))
}
