package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"withdraw-backend/internal/app"
	"withdraw-backend/internal/clients"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/logger"
	"withdraw-backend/internal/models"
	"withdraw-backend/internal/repository"
)

// Operator tool: cancels a user's open withdrawal in the ledger and clears the
// persisted session pointer. The on-chain transfer is not reversed.
func main() {
	var (
		configPath = flag.String("config", "", "Path to config file")
		userFlag   = flag.String("user", "", "User wallet address (required)")
		idFlag     = flag.String("id", "", "Ledger withdrawal id; defaults to the user's open withdrawal")
		dryRun     = flag.Bool("dry-run", false, "Only show what would be cancelled, don't actually cancel")
		yes        = flag.Bool("yes", false, "Skip the confirmation prompt")
	)
	flag.Parse()

	if !common.IsHexAddress(*userFlag) {
		log.Fatal("Please specify a valid -user address")
	}
	user := common.HexToAddress(*userFlag)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appLogger := logger.New(cfg.Log)

	ctx := context.Background()
	container, err := app.NewAdminContainer(ctx, cfg, appLogger)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer container.Close()

	target, err := findTarget(ctx, container.Ledger, user, strings.TrimSpace(*idFlag))
	if err != nil {
		log.Fatalf("Failed to find withdrawal: %v", err)
	}
	if target == nil {
		log.Printf("No open withdrawal found for %s", user.Hex())
		clearSession(ctx, container.Sessions, user, *dryRun)
		return
	}

	log.Printf("Withdrawal to cancel:")
	log.Printf("  ID: %s, User: %s, Amount: %s, Status: %s, TxHash: %s",
		target.ID,
		user.Hex(),
		clients.FormatTokenAmount(target.TokenAmount, cfg.Blockchain.TokenDecimals),
		target.Status,
		target.TxHash,
	)

	if *dryRun {
		log.Println("DRY RUN MODE - nothing was cancelled")
		return
	}

	if !*yes {
		fmt.Print("\nAre you sure you want to cancel this withdrawal? (yes/no): ")
		var confirmation string
		fmt.Scanln(&confirmation)
		if confirmation != "yes" {
			log.Println("Cancelled by user")
			return
		}
	}

	if err := container.Ledger.Cancel(ctx, target.ID); err != nil {
		log.Fatalf("Failed to cancel withdrawal %s: %v", target.ID, err)
	}
	log.Printf("Cancelled withdrawal %s", target.ID)

	clearSession(ctx, container.Sessions, user, false)
}

func findTarget(ctx context.Context, ledger *clients.LedgerClient, user common.Address, id string) (*models.WithdrawalRecord, error) {
	if id == "" {
		return ledger.FindNonTerminal(ctx, user)
	}

	status, err := ledger.CheckStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if status.IsTerminal() {
		return nil, fmt.Errorf("withdrawal %s is already %s", id, status)
	}

	record := &models.WithdrawalRecord{ID: id, UserAddress: user.Hex(), Status: status}
	if records, err := ledger.ListByUser(ctx, user); err == nil {
		for _, r := range records {
			if r.ID == id {
				r.Status = status
				return &r, nil
			}
		}
	}
	return record, nil
}

func clearSession(ctx context.Context, sessions repository.SessionStore, user common.Address, dryRun bool) {
	id, err := sessions.Get(ctx, user.Hex())
	if errors.Is(err, repository.ErrSessionNotFound) {
		return
	}
	if err != nil {
		log.Printf("Failed to read session: %v", err)
		return
	}
	if dryRun {
		log.Printf("Would clear session pointer to %s", id)
		return
	}
	if err := sessions.Clear(ctx, user.Hex()); err != nil {
		log.Printf("Failed to clear session: %v", err)
		return
	}
	log.Printf("Cleared session pointer to %s", id)
}
