package db

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/metrics"
	"withdraw-backend/internal/models"
)

// InitDB opens the postgres connection and migrates the session and audit tables.
func InitDB(cfg config.DatabaseConfig, log *logrus.Logger) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	database, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
		PrepareStmt:                              true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		metrics.DBConnectionStatus.Set(0)
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	metrics.DBConnectionStatus.Set(1)
	log.Info("database connected")

	if err := database.AutoMigrate(
		&models.WithdrawalSession{},
		&models.WithdrawalTransition{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}

	log.Info("database schema migrated")
	return database, nil
}

// Close closes the underlying pool
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	metrics.DBConnectionStatus.Set(0)
	return sqlDB.Close()
}
