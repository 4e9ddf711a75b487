package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	App      AppConfig
	Game     GameConfig
	Ledger   LedgerConfig
	Chain    ChainConfig
	Realtime RealtimeConfig
	Jobs     JobsConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SQLitePath string
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	JWTSecret    string
	AdminWallets []string
	ChallengeTTL time.Duration
}

// GameConfig holds round engine settings
type GameConfig struct {
	BettingWindow   time.Duration
	Cooldown        time.Duration
	TickInterval    time.Duration
	GrowthRatePerMs float64
	HouseEdgeBps    int64
	RevealTimeout   time.Duration
	LedgerTimeout   time.Duration
	SettleRetries   int
	SettleBackoff   time.Duration
	MinBet          int64
	MaxBet          int64
	PausePoll       time.Duration
}

// LedgerConfig holds ledger display settings
type LedgerConfig struct {
	Decimals int32
}

// ChainConfig holds deposit indexer settings
type ChainConfig struct {
	Kind             string // evm | solana | none
	RPCURL           string
	TokenContract    string
	CustodialAddress string
	TokenDecimals    int32
	Confirmations    uint64
	ReorgBuffer      uint64
	StartBlock       uint64
	BatchSize        uint64
	PollInterval     time.Duration
	PayerPrivateKey  string
}

// RealtimeConfig holds broadcaster settings
type RealtimeConfig struct {
	HistorySize      int
	SubscriberBuffer int
}

// JobsConfig holds background job intervals
type JobsConfig struct {
	ReconcileInterval   time.Duration
	WithdrawalInterval  time.Duration
	ControlPollInterval time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	p := &parser{}
	config := &Config{
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "crash_game"),
			SQLitePath: getEnv("SQLITE_PATH", "crash.db"),
		},
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			AllowedOrigins: getList("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"),
		},
		App: AppConfig{
			JWTSecret:    getEnv("JWT_SECRET", ""),
			AdminWallets: getList("ADMIN_WALLETS", ""),
			ChallengeTTL: p.duration("AUTH_CHALLENGE_TTL", "5m"),
		},
		Game: GameConfig{
			BettingWindow:   p.duration("GAME_BETTING_WINDOW", "7s"),
			Cooldown:        p.duration("GAME_COOLDOWN", "3s"),
			TickInterval:    p.duration("GAME_TICK_INTERVAL", "100ms"),
			GrowthRatePerMs: p.float("GAME_GROWTH_RATE", "0.00006"),
			HouseEdgeBps:    p.int64("GAME_HOUSE_EDGE_BPS", "100"),
			RevealTimeout:   p.duration("GAME_REVEAL_TIMEOUT", "5s"),
			LedgerTimeout:   p.duration("GAME_LEDGER_TIMEOUT", "2s"),
			SettleRetries:   int(p.int64("GAME_SETTLE_RETRIES", "5")),
			SettleBackoff:   p.duration("GAME_SETTLE_BACKOFF", "200ms"),
			MinBet:          p.int64("GAME_MIN_BET", "1"),
			MaxBet:          p.int64("GAME_MAX_BET", "100000000000"),
			PausePoll:       p.duration("GAME_PAUSE_POLL", "1s"),
		},
		Ledger: LedgerConfig{
			Decimals: int32(p.int64("LEDGER_DECIMALS", "6")),
		},
		Chain: ChainConfig{
			Kind:             getEnv("CHAIN_KIND", "none"),
			RPCURL:           getEnv("CHAIN_RPC_URL", ""),
			TokenContract:    getEnv("CHAIN_TOKEN_CONTRACT", ""),
			CustodialAddress: getEnv("CHAIN_CUSTODIAL_ADDRESS", ""),
			TokenDecimals:    int32(p.int64("CHAIN_TOKEN_DECIMALS", "6")),
			Confirmations:    p.uint64("CHAIN_CONFIRMATIONS", "12"),
			ReorgBuffer:      p.uint64("CHAIN_REORG_BUFFER", "64"),
			StartBlock:       p.uint64("CHAIN_START_BLOCK", "0"),
			BatchSize:        p.uint64("CHAIN_BATCH_SIZE", "500"),
			PollInterval:     p.duration("CHAIN_POLL_INTERVAL", "15s"),
			PayerPrivateKey:  getEnv("CHAIN_PAYER_PRIVATE_KEY", ""),
		},
		Realtime: RealtimeConfig{
			HistorySize:      int(p.int64("REALTIME_HISTORY_SIZE", "4096")),
			SubscriberBuffer: int(p.int64("REALTIME_SUBSCRIBER_BUFFER", "256")),
		},
		Jobs: JobsConfig{
			ReconcileInterval:   p.duration("JOB_RECONCILE_INTERVAL", "1m"),
			WithdrawalInterval:  p.duration("JOB_WITHDRAWAL_INTERVAL", "10s"),
			ControlPollInterval: p.duration("JOB_CONTROL_POLL_INTERVAL", "5s"),
		},
	}

	if p.err != nil {
		return nil, p.err
	}

	// Validate required fields
	if config.App.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if config.Game.HouseEdgeBps < 0 || config.Game.HouseEdgeBps >= 10000 {
		return nil, fmt.Errorf("GAME_HOUSE_EDGE_BPS must be in [0, 10000)")
	}
	if config.Game.GrowthRatePerMs <= 0 {
		return nil, fmt.Errorf("GAME_GROWTH_RATE must be positive")
	}
	if config.Chain.Confirmations == 0 {
		return nil, fmt.Errorf("CHAIN_CONFIRMATIONS must be at least 1")
	}
	if config.Chain.Kind != "none" && (config.Chain.RPCURL == "" || config.Chain.CustodialAddress == "") {
		return nil, fmt.Errorf("CHAIN_RPC_URL and CHAIN_CUSTODIAL_ADDRESS are required for chain kind %q", config.Chain.Kind)
	}

	return config, nil
}

// GetDSN returns the connection string for the configured driver
func (c *Config) GetDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLitePath
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getList(key, defaultValue string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, defaultValue), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parser records the first malformed value
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func (p *parser) duration(key, def string) time.Duration {
	v := getEnv(key, def)
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
	}
	return d
}

func (p *parser) int64(key, def string) int64 {
	v := getEnv(key, def)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
	}
	return n
}

func (p *parser) uint64(key, def string) uint64 {
	v := getEnv(key, def)
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
	}
	return n
}

func (p *parser) float(key, def string) float64 {
	v := getEnv(key, def)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
	}
	return f
}
