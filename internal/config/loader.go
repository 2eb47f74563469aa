package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TROVEWATCH_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TROVEWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.Network, "TROVEWATCH_CHAIN_NETWORK")
	setStr(&cfg.Chain.RPCURL, "TROVEWATCH_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "TROVEWATCH_CHAIN_ID")
	setStr(&cfg.Chain.Contracts.TroveManager, "TROVEWATCH_CHAIN_TROVE_MANAGER")
	setStr(&cfg.Chain.Contracts.BorrowerOperations, "TROVEWATCH_CHAIN_BORROWER_OPERATIONS")
	setStr(&cfg.Chain.Contracts.PriceFeed, "TROVEWATCH_CHAIN_PRICE_FEED")
	setStr(&cfg.Chain.Contracts.SortedTroves, "TROVEWATCH_CHAIN_SORTED_TROVES")
	setStr(&cfg.Chain.Contracts.HintHelpers, "TROVEWATCH_CHAIN_HINT_HELPERS")
	setStr(&cfg.Chain.Contracts.MUSD, "TROVEWATCH_CHAIN_MUSD")
	setDuration(&cfg.Chain.CallTimeout, "TROVEWATCH_CHAIN_CALL_TIMEOUT")
	setInt(&cfg.Chain.MaxRetries, "TROVEWATCH_CHAIN_MAX_RETRIES")
	setDuration(&cfg.Chain.RetryInterval, "TROVEWATCH_CHAIN_RETRY_INTERVAL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "TROVEWATCH_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "TROVEWATCH_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "TROVEWATCH_WALLET_KEY_PASSWORD")

	// ── Scan ──
	setStr(&cfg.Scan.Direction, "TROVEWATCH_SCAN_DIRECTION")
	setInt(&cfg.Scan.MaxCount, "TROVEWATCH_SCAN_MAX_COUNT")
	setInt(&cfg.Scan.MaxEvaluate, "TROVEWATCH_SCAN_MAX_EVALUATE")
	setInt(&cfg.Scan.Concurrency, "TROVEWATCH_SCAN_CONCURRENCY")
	setStr(&cfg.Scan.FallbackPrice, "TROVEWATCH_SCAN_FALLBACK_PRICE")
	setDuration(&cfg.Scan.Interval, "TROVEWATCH_SCAN_INTERVAL")
	setInt(&cfg.Scan.ReportTop, "TROVEWATCH_SCAN_REPORT_TOP")

	// ── Hints ──
	setUint64(&cfg.Hints.NumTrials, "TROVEWATCH_HINTS_NUM_TRIALS")
	setInt64(&cfg.Hints.Seed, "TROVEWATCH_HINTS_SEED")
	setBool(&cfg.Hints.ConfirmWithRegistry, "TROVEWATCH_HINTS_CONFIRM_WITH_REGISTRY")
	setStr(&cfg.Hints.MinNetDebt, "TROVEWATCH_HINTS_MIN_NET_DEBT")
	setInt64(&cfg.Hints.MCRPercent, "TROVEWATCH_HINTS_MCR_PERCENT")
	setInt(&cfg.Hints.SkipLimit, "TROVEWATCH_HINTS_SKIP_LIMIT")

	// ── Redemption ──
	setStr(&cfg.Redemption.Amount, "TROVEWATCH_REDEMPTION_AMOUNT")
	setUint64(&cfg.Redemption.MaxIterations, "TROVEWATCH_REDEMPTION_MAX_ITERATIONS")
	setInt64(&cfg.Redemption.MaxFeePercent, "TROVEWATCH_REDEMPTION_MAX_FEE_PERCENT")
	setUint64(&cfg.Redemption.MaxBlockLag, "TROVEWATCH_REDEMPTION_MAX_BLOCK_LAG")
	setUint64(&cfg.Redemption.GasLimit, "TROVEWATCH_REDEMPTION_GAS_LIMIT")
	setDuration(&cfg.Redemption.LockTTL, "TROVEWATCH_REDEMPTION_LOCK_TTL")
	setBool(&cfg.Redemption.AllowRemote, "TROVEWATCH_REDEMPTION_ALLOW_REMOTE")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "TROVEWATCH_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "TROVEWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "TROVEWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TROVEWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TROVEWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TROVEWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TROVEWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TROVEWATCH_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TROVEWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TROVEWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TROVEWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "TROVEWATCH_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TROVEWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TROVEWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TROVEWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TROVEWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TROVEWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TROVEWATCH_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "TROVEWATCH_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.ReportTTL, "TROVEWATCH_REDIS_REPORT_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "TROVEWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "TROVEWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TROVEWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "TROVEWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TROVEWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TROVEWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TROVEWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TROVEWATCH_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.Retention, "TROVEWATCH_S3_RETENTION")
	setDuration(&cfg.S3.ArchiveInterval, "TROVEWATCH_S3_ARCHIVE_INTERVAL")
	setBool(&cfg.S3.ArchiveReports, "TROVEWATCH_S3_ARCHIVE_REPORTS")
	setBool(&cfg.S3.Prune, "TROVEWATCH_S3_PRUNE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TROVEWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TROVEWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TROVEWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TROVEWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.ScanRateLimit, "TROVEWATCH_SERVER_SCAN_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TROVEWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TROVEWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TROVEWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TROVEWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TROVEWATCH_MODE")
	setStr(&cfg.LogLevel, "TROVEWATCH_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
