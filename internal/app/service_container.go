package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"withdraw-backend/internal/clients"
	"withdraw-backend/internal/config"
	"withdraw-backend/internal/db"
	"withdraw-backend/internal/events"
	"withdraw-backend/internal/handlers"
	"withdraw-backend/internal/interfaces"
	"withdraw-backend/internal/repository"
	"withdraw-backend/internal/services"
)

// ServiceContainer owns every long-lived dependency of the agent
type ServiceContainer struct {
	Config *config.Config
	Logger *logrus.Logger

	// Storage
	DB          *gorm.DB
	Redis       *redis.Client
	Sessions    repository.SessionStore
	Transitions repository.TransitionRepository

	// Clients
	RPC    *ethclient.Client
	Wallet interfaces.WalletSigner
	Relay  *clients.RelayClient
	Ledger *clients.LedgerClient
	NATS   *clients.NATSClient

	// Services
	Chain        *services.ChainGateway
	Signer       *services.AuthorizationSigner
	Orchestrator *services.WithdrawalOrchestrator
	Reconciler   *services.SessionReconciler
	Sweeper      *services.SessionSweeper
	Push         *services.WebSocketPushService
	Recorder     *services.TransitionRecorder
}

// NewServiceContainer connects storage and clients and wires the services.
func NewServiceContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*ServiceContainer, error) {
	c := &ServiceContainer{Config: cfg, Logger: logger}

	if err := c.initStores(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}
	if err := c.initClients(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}
	if err := c.initServices(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info("service container initialized")
	return c, nil
}

// NewAdminContainer storage and ledger only, for operator tools that never
// touch the chain.
func NewAdminContainer(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*ServiceContainer, error) {
	c := &ServiceContainer{Config: cfg, Logger: logger}
	if err := c.initStores(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize stores: %w", err)
	}
	c.Ledger = clients.NewLedgerClient(cfg.Ledger, cfg.Blockchain.TokenDecimals, logger)
	return c, nil
}

func (c *ServiceContainer) initStores(ctx context.Context) error {
	cfg := c.Config

	if cfg.Database.DSN != "" {
		database, err := db.InitDB(cfg.Database, c.Logger)
		if err != nil {
			return err
		}
		c.DB = database
		c.Transitions = repository.NewTransitionRepository(database)
	}

	switch cfg.Session.Driver {
	case "postgres":
		if c.DB == nil {
			return errors.New("postgres session driver needs database.dsn")
		}
		c.Sessions = repository.NewGormSessionStore(c.DB)
	case "redis":
		client, err := db.InitRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		c.Redis = client
		c.Sessions = repository.NewRedisSessionStore(client, cfg.Session.KeyPrefix)
	case "memory":
		c.Logger.Warn("using in-memory session store, pending withdrawals will not survive a restart")
		c.Sessions = repository.NewMemorySessionStore()
	default:
		return fmt.Errorf("unknown session driver %q", cfg.Session.Driver)
	}
	return nil
}

func (c *ServiceContainer) initClients(ctx context.Context) error {
	cfg := c.Config

	rpc, err := dialFirst(ctx, cfg.Blockchain.RPCEndpoints, c.Logger)
	if err != nil {
		return err
	}
	c.RPC = rpc

	switch cfg.Wallet.Mode {
	case "local":
		keystore, err := services.NewKeyManagementService(cfg.Wallet.PrivateKeys)
		if err != nil {
			return err
		}
		c.Logger.WithField("accounts", len(keystore.Addresses())).Warn("using local keystore signer")
		c.Wallet = keystore
	default:
		c.Wallet = clients.NewWalletClient(cfg.Wallet)
	}

	c.Relay = clients.NewRelayClient(cfg.Relay, cfg.Blockchain, c.Logger)
	c.Ledger = clients.NewLedgerClient(cfg.Ledger, cfg.Blockchain.TokenDecimals, c.Logger)

	if cfg.NATS.Enabled && cfg.NATS.URL != "" {
		nc, err := clients.NewNATSClient(cfg.NATS, c.Logger)
		if err != nil {
			// events are optional
			c.Logger.WithError(err).Warn("NATS unavailable, transition events disabled")
		} else {
			c.NATS = nc
		}
	}
	return nil
}

// dialFirst connects to the first endpoint that answers.
func dialFirst(ctx context.Context, endpoints []string, logger *logrus.Logger) (*ethclient.Client, error) {
	var errs []error
	for _, endpoint := range endpoints {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := ethclient.DialContext(dialCtx, endpoint)
		if err == nil {
			_, err = client.ChainID(dialCtx)
			if err != nil {
				client.Close()
			}
		}
		cancel()
		if err == nil {
			logger.WithField("endpoint", endpoint).Info("connected to RPC endpoint")
			return client, nil
		}
		logger.WithField("endpoint", endpoint).WithError(err).Warn("RPC endpoint unavailable")
		errs = append(errs, fmt.Errorf("%s: %w", endpoint, err))
	}
	return nil, fmt.Errorf("no RPC endpoint reachable: %w", errors.Join(errs...))
}

func (c *ServiceContainer) initServices() error {
	cfg := c.Config

	c.Chain = services.NewChainGateway(c.RPC, c.Wallet, cfg, c.Logger)
	c.Signer = services.NewAuthorizationSigner(c.Wallet, cfg.Blockchain, cfg.Withdrawal.DeadlineWindowDuration())
	c.Push = services.NewWebSocketPushService(c.Logger)

	listeners := []services.TransitionListener{c.Push}
	if c.Transitions != nil {
		c.Recorder = services.NewTransitionRecorder(c.Transitions, c.Logger)
		listeners = append(listeners, c.Recorder)
	}
	if c.NATS != nil {
		listeners = append(listeners, events.NewTransitionPublisher(c.NATS, cfg.NATS.SubjectPrefix, c.Logger))
	}

	orchestrator, err := services.NewWithdrawalOrchestrator(cfg, services.OrchestratorDeps{
		Chain:     c.Chain,
		Signer:    c.Signer,
		Relay:     c.Relay,
		Ledger:    c.Ledger,
		Sessions:  c.Sessions,
		Listeners: listeners,
	}, c.Logger)
	if err != nil {
		return err
	}
	c.Orchestrator = orchestrator
	c.Reconciler = services.NewSessionReconciler(c.Sessions, c.Ledger, orchestrator, c.Logger)
	c.Sweeper = services.NewSessionSweeper(c.Reconciler, time.Duration(cfg.Session.SweepInterval)*time.Second, c.Logger)
	return nil
}

// HealthChecks dependency checks for the health endpoint
func (c *ServiceContainer) HealthChecks() map[string]handlers.HealthCheck {
	checks := map[string]handlers.HealthCheck{
		"rpc": func(ctx context.Context) error {
			_, err := c.RPC.BlockNumber(ctx)
			return err
		},
	}
	if c.DB != nil {
		checks["database"] = func(ctx context.Context) error {
			sqlDB, err := c.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	if c.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		}
	}
	if wc, ok := c.Wallet.(*clients.WalletClient); ok {
		checks["wallet"] = wc.HealthCheck
	}
	return checks
}

// Close stops background work and releases connections. Safe on a partially
// built container.
func (c *ServiceContainer) Close() {
	if c.Sweeper != nil {
		c.Sweeper.Stop()
	}
	if c.Orchestrator != nil {
		c.Orchestrator.Shutdown()
	}
	if c.NATS != nil {
		c.NATS.Close()
	}
	if c.RPC != nil {
		c.RPC.Close()
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.WithError(err).Warn("failed to close redis")
		}
	}
	if c.DB != nil {
		if err := db.Close(c.DB); err != nil {
			c.Logger.WithError(err).Warn("failed to close database")
		}
	}
}
