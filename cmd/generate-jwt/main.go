package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/ethereum/go-ethereum/common"

	"withdraw-backend/internal/config"
	"withdraw-backend/internal/handlers"
	"withdraw-backend/internal/logger"
)

// Issues an API token for a wallet address without the signed login, for
// local testing against a running agent.
func main() {
	configPath := flag.String("config", "", "Path to config file")
	userFlag := flag.String("user", "", "User wallet address (required)")
	flag.Parse()

	if !common.IsHexAddress(*userFlag) {
		log.Fatal("Please specify a valid -user address")
	}
	user := common.HexToAddress(*userFlag)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwtSecret is not configured")
	}

	auth := handlers.NewAuthHandler(cfg.Auth, logger.New(cfg.Log))
	token, expiresAt, err := auth.GenerateToken(user)
	if err != nil {
		log.Fatalf("Error generating token: %v", err)
	}

	fmt.Println("============================================================")
	fmt.Println("JWT Token Generated for Testing")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Claims:")
	fmt.Printf("  User Address: %s\n", user.Hex())
	fmt.Printf("  Expires: %s\n", expiresAt)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println()
	fmt.Printf("curl -H 'Authorization: Bearer %s' http://%s/api/v1/withdrawals/pending\n", token, cfg.Server.Addr())
	fmt.Println()
}
