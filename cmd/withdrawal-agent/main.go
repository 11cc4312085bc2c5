package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"withdraw-backend/internal/app"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/handlers"
	"withdraw-backend/internal/logger"
	"withdraw-backend/internal/router"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default config.yaml, or config.local.yaml when present)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config %s: %v", cfg.Path, err)
	}

	logger := logger.New(cfg.Log)
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.NewServiceContainer(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to start")
	}
	defer container.Close()

	// re-attach polling for withdrawals left open by the previous run
	container.Sweeper.Start(ctx)

	var transitions handlers.TransitionHistory
	if container.Recorder != nil {
		transitions = container.Recorder
	}
	withdrawalHandler := handlers.NewWithdrawalHandler(
		container.Orchestrator,
		container.Reconciler,
		container.Ledger,
		transitions,
		cfg.Blockchain.TokenDecimals,
		logger,
	)

	engine, err := router.SetupRouter(cfg, router.Handlers{
		Auth:       handlers.NewAuthHandler(cfg.Auth, logger),
		Withdrawal: withdrawalHandler,
		WebSocket:  handlers.NewWebSocketHandler(container.Push, container.Orchestrator),
		Health:     container.HealthChecks(),
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build router")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", srv.Addr).Info("withdrawal agent listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server shutdown incomplete")
	}
}
