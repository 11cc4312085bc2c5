package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/db"
	"withdraw-backend/internal/logger"
	"withdraw-backend/internal/models"
)

// Connects with the configured DSN, runs the migrations and prints the state
// of the agent's tables.
func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	fmt.Println("Verifying database connection...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.InitDB(cfg.Database, logger.New(cfg.Log))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close(database)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var dbName string
	if err := database.WithContext(ctx).Raw("SELECT current_database()").Scan(&dbName).Error; err != nil {
		log.Fatalf("Failed to get database name: %v", err)
	}
	fmt.Printf("Connected to database: %s\n", dbName)

	for _, table := range []interface{ TableName() string }{models.WithdrawalSession{}, models.WithdrawalTransition{}} {
		var count int64
		if err := database.WithContext(ctx).Table(table.TableName()).Count(&count).Error; err != nil {
			log.Fatalf("Failed to count %s: %v", table.TableName(), err)
		}
		fmt.Printf("  %s: %d rows\n", table.TableName(), count)
	}

	var latest models.WithdrawalTransition
	err = database.WithContext(ctx).Order("created_at DESC").Limit(1).Find(&latest).Error
	if err != nil {
		log.Fatalf("Failed to read latest transition: %v", err)
	}
	if latest.ID != "" {
		fmt.Printf("Latest transition: %s %s -> %s at %s\n",
			latest.UserAddress, latest.FromState, latest.ToState, latest.CreatedAt.Format(time.RFC3339))
	}

	fmt.Println("Database OK")
}
