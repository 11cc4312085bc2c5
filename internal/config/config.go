package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	NATS       NATSConfig       `yaml:"nats"`
	Blockchain BlockchainConfig `yaml:"blockchain"`
	Relay      RelayConfig      `yaml:"relay"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Wallet     WalletConfig     `yaml:"wallet"`
	Withdrawal WithdrawalConfig `yaml:"withdrawal"`
	Session    SessionConfig    `yaml:"session"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	CORS       CORSConfig       `yaml:"cors"`
	Log        LogConfig        `yaml:"log"`

	// Path of the file the configuration was read from
	Path string `yaml:"-"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	MetricsAllowedIPs []string `yaml:"metricsAllowedIps"` // besides localhost; IPs or CIDRs
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL           string `yaml:"url"`
	Enabled       bool   `yaml:"enabled"`
	Timeout       int    `yaml:"timeout"`        // seconds
	ReconnectWait int    `yaml:"reconnect_wait"` // seconds
	MaxReconnects int    `yaml:"max_reconnects"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// BlockchainConfig chain and contract configuration
type BlockchainConfig struct {
	RPCEndpoints       []string `yaml:"rpcEndpoints"`
	ChainID            int64    `yaml:"chainId"`
	TokenContract      string   `yaml:"tokenContract"`      // ERC-20 being withdrawn
	WithdrawalContract string   `yaml:"withdrawalContract"` // executeMetaWithdrawal target
	TokenDecimals      int32    `yaml:"tokenDecimals"`
	DomainName         string   `yaml:"domainName"`    // EIP-712 domain name
	DomainVersion      string   `yaml:"domainVersion"` // EIP-712 domain version
	GasLimit           uint64   `yaml:"gasLimit"`      // approval gas limit, 0 = estimate
}

// RelayConfig gas relay endpoint configuration
type RelayConfig struct {
	URL     string `yaml:"url"`
	APIKey  string `yaml:"apiKey"`
	Speed   string `yaml:"speed"`
	Timeout int    `yaml:"timeout"` // seconds
}

// LedgerConfig backend verification ledger configuration
type LedgerConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Timeout int    `yaml:"timeout"` // seconds
}

// WalletConfig wallet signing provider configuration
type WalletConfig struct {
	Mode        string   `yaml:"mode"`       // remote | local
	ServiceURL  string   `yaml:"serviceUrl"` // remote custody signer
	AuthToken   string   `yaml:"authToken"`
	Timeout     int      `yaml:"timeout"` // seconds
	PrivateKeys []string `yaml:"privateKeys"`
}

// WithdrawalConfig orchestration policy
type WithdrawalConfig struct {
	MinAmount            string `yaml:"minAmount"` // smallest unit
	AccountNumberPattern string `yaml:"accountNumberPattern"`
	DeadlineWindow       int    `yaml:"deadlineWindow"`       // seconds
	PollInterval         int    `yaml:"pollInterval"`         // milliseconds
	ReceiptPollInterval  int    `yaml:"receiptPollInterval"`  // milliseconds
	Confirmations        uint64 `yaml:"confirmations"`        // blocks
	ConfirmationTimeout  int    `yaml:"confirmationTimeout"`  // seconds
	ReadRetryAttempts    int    `yaml:"readRetryAttempts"`    // chain reads
	ReadRetryBackoff     int    `yaml:"readRetryBackoff"`     // milliseconds
	LedgerCreateAttempts int    `yaml:"ledgerCreateAttempts"` // after on-chain success
}

// SessionConfig persisted session store configuration
type SessionConfig struct {
	Driver        string `yaml:"driver"` // postgres | redis | memory
	KeyPrefix     string `yaml:"keyPrefix"`
	SweepInterval int    `yaml:"sweepInterval"` // seconds, 0 disables the periodic reconcile
}

// AuthConfig JWT configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	TokenTTL  int    `yaml:"tokenTtl"` // hours
	Issuer    string `yaml:"issuer"`
}

// RateLimitConfig submission rate limit, ulule/limiter format ("5-M")
type RateLimitConfig struct {
	Submit string `yaml:"submit"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"` // seconds
}

// LogConfig logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// LoadConfig Load configuration file. An empty path means config.yaml, or
// config.local.yaml when present.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Path = configPath

	overrideFromEnv(cfg)
	return cfg, nil
}

// Default returns a configuration with every policy default filled in.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{Driver: "postgres"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, Timeout: 5},
		NATS: NATSConfig{
			Timeout:       10,
			ReconnectWait: 2,
			MaxReconnects: 10,
			SubjectPrefix: "withdrawal",
		},
		Blockchain: BlockchainConfig{
			TokenDecimals: 18,
			DomainVersion: "1",
		},
		Relay:  RelayConfig{Speed: "fast", Timeout: 30},
		Ledger: LedgerConfig{Timeout: 15},
		Wallet: WalletConfig{Mode: "remote", Timeout: 30},
		Withdrawal: WithdrawalConfig{
			MinAmount:            "1",
			AccountNumberPattern: `^[0-9]{10}$`,
			DeadlineWindow:       30 * 60,
			PollInterval:         3000,
			ReceiptPollInterval:  2000,
			Confirmations:        1,
			ConfirmationTimeout:  60,
			ReadRetryAttempts:    3,
			ReadRetryBackoff:     500,
			LedgerCreateAttempts: 3,
		},
		Session:   SessionConfig{Driver: "postgres", KeyPrefix: "withdrawal:session:", SweepInterval: 300},
		Auth:      AuthConfig{TokenTTL: 24, Issuer: "withdraw-backend"},
		RateLimit: RateLimitConfig{Submit: "5-M"},
		Log:       LogConfig{Level: "info", Format: "json"},
	}
}

// overrideFromEnv WITHDRAW_* environment overrides
func overrideFromEnv(config *Config) {
	if host := os.Getenv("WITHDRAW_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("WITHDRAW_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if dsn := os.Getenv("WITHDRAW_DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if redisHost := os.Getenv("WITHDRAW_REDIS_HOST"); redisHost != "" {
		config.Redis.Host = redisHost
	}
	if redisPort := os.Getenv("WITHDRAW_REDIS_PORT"); redisPort != "" {
		if p, err := strconv.Atoi(redisPort); err == nil {
			config.Redis.Port = p
		}
	}
	if redisPassword := os.Getenv("WITHDRAW_REDIS_PASSWORD"); redisPassword != "" {
		config.Redis.Password = redisPassword
	}

	if natsURL := os.Getenv("WITHDRAW_NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
		config.NATS.Enabled = true
	}

	if rpc := os.Getenv("WITHDRAW_RPC_ENDPOINTS"); rpc != "" {
		config.Blockchain.RPCEndpoints = splitList(rpc)
	}
	if chainID := os.Getenv("WITHDRAW_CHAIN_ID"); chainID != "" {
		if id, err := strconv.ParseInt(chainID, 10, 64); err == nil {
			config.Blockchain.ChainID = id
		}
	}
	if token := os.Getenv("WITHDRAW_TOKEN_CONTRACT"); token != "" {
		config.Blockchain.TokenContract = token
	}
	if contract := os.Getenv("WITHDRAW_WITHDRAWAL_CONTRACT"); contract != "" {
		config.Blockchain.WithdrawalContract = contract
	}

	if relayURL := os.Getenv("WITHDRAW_RELAY_URL"); relayURL != "" {
		config.Relay.URL = relayURL
	}
	if apiKey := os.Getenv("WITHDRAW_RELAY_API_KEY"); apiKey != "" {
		config.Relay.APIKey = apiKey
	}

	if ledgerURL := os.Getenv("WITHDRAW_LEDGER_URL"); ledgerURL != "" {
		config.Ledger.BaseURL = ledgerURL
	}

	if mode := os.Getenv("WITHDRAW_WALLET_MODE"); mode != "" {
		config.Wallet.Mode = mode
	}
	if signerURL := os.Getenv("WITHDRAW_WALLET_URL"); signerURL != "" {
		config.Wallet.ServiceURL = signerURL
	}
	if token := os.Getenv("WITHDRAW_WALLET_AUTH_TOKEN"); token != "" {
		config.Wallet.AuthToken = token
	}
	if keys := os.Getenv("WITHDRAW_WALLET_PRIVATE_KEYS"); keys != "" {
		config.Wallet.PrivateKeys = splitList(keys)
	}

	if driver := os.Getenv("WITHDRAW_SESSION_DRIVER"); driver != "" {
		config.Session.Driver = driver
	}

	if secret := os.Getenv("WITHDRAW_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}

	if level := os.Getenv("WITHDRAW_LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}

	if corsOrigins := os.Getenv("WITHDRAW_CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORS.AllowedOrigins = splitList(corsOrigins)
	}
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate reports every missing or malformed required field.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Blockchain.RPCEndpoints) == 0 {
		errs = append(errs, errors.New("blockchain.rpcEndpoints is required"))
	}
	if c.Blockchain.ChainID <= 0 {
		errs = append(errs, errors.New("blockchain.chainId must be positive"))
	}
	if !common.IsHexAddress(c.Blockchain.TokenContract) {
		errs = append(errs, fmt.Errorf("blockchain.tokenContract is not an address: %q", c.Blockchain.TokenContract))
	}
	if !common.IsHexAddress(c.Blockchain.WithdrawalContract) {
		errs = append(errs, fmt.Errorf("blockchain.withdrawalContract is not an address: %q", c.Blockchain.WithdrawalContract))
	}
	if c.Blockchain.DomainName == "" {
		errs = append(errs, errors.New("blockchain.domainName is required"))
	}
	if c.Relay.URL == "" {
		errs = append(errs, errors.New("relay.url is required"))
	}
	if c.Ledger.BaseURL == "" {
		errs = append(errs, errors.New("ledger.baseUrl is required"))
	}

	switch c.Wallet.Mode {
	case "remote":
		if c.Wallet.ServiceURL == "" {
			errs = append(errs, errors.New("wallet.serviceUrl is required in remote mode"))
		}
	case "local":
		if len(c.Wallet.PrivateKeys) == 0 {
			errs = append(errs, errors.New("wallet.privateKeys is required in local mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("wallet.mode must be remote or local, got %q", c.Wallet.Mode))
	}

	if _, ok := new(big.Int).SetString(c.Withdrawal.MinAmount, 10); !ok {
		errs = append(errs, fmt.Errorf("withdrawal.minAmount is not an integer: %q", c.Withdrawal.MinAmount))
	}
	if _, err := regexp.Compile(c.Withdrawal.AccountNumberPattern); err != nil {
		errs = append(errs, fmt.Errorf("withdrawal.accountNumberPattern: %w", err))
	}
	if c.Withdrawal.ReadRetryAttempts < 1 {
		errs = append(errs, errors.New("withdrawal.readRetryAttempts must be at least 1"))
	}

	switch c.Session.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres session driver"))
		}
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("session.driver must be postgres, redis or memory, got %q", c.Session.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwtSecret is required"))
	}

	return errors.Join(errs...)
}

// MinAmountValue minimum withdrawal in smallest units
func (w WithdrawalConfig) MinAmountValue() *big.Int {
	v, ok := new(big.Int).SetString(w.MinAmount, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func (w WithdrawalConfig) DeadlineWindowDuration() time.Duration {
	return time.Duration(w.DeadlineWindow) * time.Second
}

func (w WithdrawalConfig) PollIntervalDuration() time.Duration {
	return time.Duration(w.PollInterval) * time.Millisecond
}

func (w WithdrawalConfig) ReceiptPollIntervalDuration() time.Duration {
	return time.Duration(w.ReceiptPollInterval) * time.Millisecond
}

func (w WithdrawalConfig) ConfirmationTimeoutDuration() time.Duration {
	return time.Duration(w.ConfirmationTimeout) * time.Second
}

func (w WithdrawalConfig) ReadRetryBackoffDuration() time.Duration {
	return time.Duration(w.ReadRetryBackoff) * time.Millisecond
}

// Addr listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Addr redis address
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
