// Package config defines the top-level configuration for trovewatch and
// provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TROVEWATCH_* environment variables.
type Config struct {
	Chain      ChainConfig      `toml:"chain"`
	Wallet     WalletConfig     `toml:"wallet"`
	Scan       ScanConfig       `toml:"scan"`
	Hints      HintsConfig      `toml:"hints"`
	Redemption RedemptionConfig `toml:"redemption"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// ChainConfig selects the network and tunes remote reads. RPCURL, ChainID and
// the contract addresses override the preset named by Network when set.
type ChainConfig struct {
	Network       string          `toml:"network"`
	RPCURL        string          `toml:"rpc_url"`
	ChainID       int64           `toml:"chain_id"`
	Contracts     ContractsConfig `toml:"contracts"`
	CallTimeout   duration        `toml:"call_timeout"`
	MaxRetries    int             `toml:"max_retries"`
	RetryInterval duration        `toml:"retry_interval"`
}

// ContractsConfig holds optional hex address overrides.
type ContractsConfig struct {
	TroveManager       string `toml:"trove_manager"`
	BorrowerOperations string `toml:"borrower_operations"`
	PriceFeed          string `toml:"price_feed"`
	SortedTroves       string `toml:"sorted_troves"`
	HintHelpers        string `toml:"hint_helpers"`
	MUSD               string `toml:"musd"`
}

// WalletConfig holds the redeemer key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ScanConfig holds scanner parameters. Amounts are decimal strings in whole
// units, e.g. "60000".
type ScanConfig struct {
	Direction     string   `toml:"direction"`
	MaxCount      int      `toml:"max_count"`
	MaxEvaluate   int      `toml:"max_evaluate"`
	Concurrency   int      `toml:"concurrency"`
	FallbackPrice string   `toml:"fallback_price"`
	Interval      duration `toml:"interval"`
	ReportTop     int      `toml:"report_top"`
}

// HintsConfig holds hint calculator parameters.
type HintsConfig struct {
	NumTrials           uint64 `toml:"num_trials"`
	Seed                int64  `toml:"seed"`
	ConfirmWithRegistry bool   `toml:"confirm_with_registry"`
	MinNetDebt          string `toml:"min_net_debt"`
	MCRPercent          int64  `toml:"mcr_percent"`
	SkipLimit           int    `toml:"skip_limit"`
}

// RedemptionConfig holds planning and submission parameters.
type RedemptionConfig struct {
	// Amount is the debt redeemed by the redeem mode.
	Amount        string `toml:"amount"`
	MaxIterations uint64 `toml:"max_iterations"`
	// MaxFeePercent caps the redemption fee, in percent.
	MaxFeePercent int64    `toml:"max_fee_percent"`
	MaxBlockLag   uint64   `toml:"max_block_lag"`
	GasLimit      uint64   `toml:"gas_limit"`
	LockTTL       duration `toml:"lock_ttl"`
	// AllowRemote exposes POST /api/redeem.
	AllowRemote bool `toml:"allow_remote"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	ReportTTL  duration `toml:"report_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// Retention is how long scans stay in Postgres before they are archived.
	Retention       duration `toml:"retention"`
	ArchiveInterval duration `toml:"archive_interval"`
	ArchiveReports  bool     `toml:"archive_reports"`
	Prune           bool     `toml:"prune"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// ScanRateLimit is requests per client per minute on scan and hint routes.
	ScanRateLimit int `toml:"scan_rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			Network:       "testnet",
			CallTimeout:   duration{10 * time.Second},
			MaxRetries:    3,
			RetryInterval: duration{500 * time.Millisecond},
		},
		Scan: ScanConfig{
			Direction:     "tail",
			MaxCount:      50,
			MaxEvaluate:   20,
			Concurrency:   4,
			FallbackPrice: "60000",
			Interval:      duration{30 * time.Second},
			ReportTop:     5,
		},
		Hints: HintsConfig{
			NumTrials:           15,
			Seed:                42,
			ConfirmWithRegistry: true,
			MinNetDebt:          "1800",
			MCRPercent:          110,
			SkipLimit:           1000,
		},
		Redemption: RedemptionConfig{
			Amount:        "100",
			MaxIterations: 50,
			MaxFeePercent: 5,
			MaxBlockLag:   2,
			GasLimit:      3_000_000,
			LockTTL:       duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "trovewatch:",
			ReportTTL:  duration{10 * time.Minute},
		},
		S3: S3Config{
			Endpoint:        "http://localhost:9000",
			Region:          "us-east-1",
			Bucket:          "trovewatch-data",
			ForcePathStyle:  true,
			Retention:       duration{30 * 24 * time.Hour},
			ArchiveInterval: duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			ScanRateLimit: 30,
		},
		Notify: NotifyConfig{
			Events: []string{"scan.redeemable", "scan.degraded", "redemption.submitted", "redemption.failed"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"scan":    true,
	"monitor": true,
	"redeem":  true,
	"server":  true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNetworks = map[string]bool{
	"mainnet": true,
	"testnet": true,
	"local":   true,
}

// NeedsWallet reports whether the mode signs transactions.
func (c *Config) NeedsWallet() bool {
	mode := strings.ToLower(c.Mode)
	return mode == "redeem" || mode == "full" ||
		(mode == "server" && c.Redemption.AllowRemote)
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: scan, monitor, redeem, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if c.Chain.Network == "" && c.Chain.RPCURL == "" {
		errs = append(errs, "chain: network or rpc_url must be set")
	}
	if c.Chain.Network != "" && !validNetworks[c.Chain.Network] {
		errs = append(errs, fmt.Sprintf("chain: unknown network %q (valid: mainnet, testnet, local)", c.Chain.Network))
	}
	if c.Chain.ChainID < 0 {
		errs = append(errs, "chain: chain_id must not be negative")
	}
	for name, addr := range c.Chain.Contracts.byName() {
		if addr != "" && !common.IsHexAddress(addr) {
			errs = append(errs, fmt.Sprintf("chain: contracts.%s is not a hex address: %q", name, addr))
		}
	}
	if c.Chain.CallTimeout.Duration <= 0 {
		errs = append(errs, "chain: call_timeout must be > 0")
	}
	if c.Chain.MaxRetries < 1 {
		errs = append(errs, "chain: max_retries must be >= 1")
	}

	// Wallet
	if c.NeedsWallet() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.PrivateKey == "" && c.Wallet.KeyPassword == "" {
		errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
	}

	// Scan
	if c.Scan.Direction != "tail" && c.Scan.Direction != "head" {
		errs = append(errs, fmt.Sprintf("scan: direction must be tail or head, got %q", c.Scan.Direction))
	}
	if c.Scan.MaxCount < 1 {
		errs = append(errs, "scan: max_count must be >= 1")
	}
	if c.Scan.MaxEvaluate < 0 {
		errs = append(errs, "scan: max_evaluate must be >= 0")
	}
	if c.Scan.Concurrency < 1 {
		errs = append(errs, "scan: concurrency must be >= 1")
	}
	if _, err := positiveAmount(c.Scan.FallbackPrice); err != nil {
		errs = append(errs, fmt.Sprintf("scan: fallback_price: %v", err))
	}
	if c.Scan.Interval.Duration <= 0 {
		errs = append(errs, "scan: interval must be > 0")
	}

	// Hints
	if c.Hints.NumTrials == 0 {
		errs = append(errs, "hints: num_trials must be >= 1")
	}
	if _, err := positiveAmount(c.Hints.MinNetDebt); err != nil {
		errs = append(errs, fmt.Sprintf("hints: min_net_debt: %v", err))
	}
	if c.Hints.MCRPercent <= 100 {
		errs = append(errs, "hints: mcr_percent must be > 100")
	}
	if c.Hints.SkipLimit < 0 {
		errs = append(errs, "hints: skip_limit must be >= 0")
	}

	// Redemption
	if strings.ToLower(c.Mode) == "redeem" {
		if _, err := positiveAmount(c.Redemption.Amount); err != nil {
			errs = append(errs, fmt.Sprintf("redemption: amount: %v", err))
		}
	}
	if c.Redemption.MaxFeePercent < 1 || c.Redemption.MaxFeePercent > 100 {
		errs = append(errs, fmt.Sprintf("redemption: max_fee_percent must be 1-100, got %d", c.Redemption.MaxFeePercent))
	}
	if c.Redemption.GasLimit == 0 {
		errs = append(errs, "redemption: gas_limit must be > 0")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.Prune && !c.Postgres.Enabled {
			errs = append(errs, "s3: prune requires postgres")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.ScanRateLimit < 0 {
			errs = append(errs, "server: scan_rate_limit must be >= 0")
		}
	}
	if c.Redemption.AllowRemote && c.Server.APIKey == "" {
		errs = append(errs, "server: api_key is required when redemption.allow_remote is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c ContractsConfig) byName() map[string]string {
	return map[string]string{
		"trove_manager":       c.TroveManager,
		"borrower_operations": c.BorrowerOperations,
		"price_feed":          c.PriceFeed,
		"sorted_troves":       c.SortedTroves,
		"hint_helpers":        c.HintHelpers,
		"musd":                c.MUSD,
	}
}

// Amount parses a whole-unit decimal string into an 18-decimal value.
func Amount(s string) (*big.Int, error) {
	return positiveAmount(s)
}

func positiveAmount(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("must not be empty")
	}
	v, err := fixedpoint.ParseAmount(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("must be > 0, got %q", s)
	}
	return v, nil
}
