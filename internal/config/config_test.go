package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "monitor", cfg.Mode)
	assert.Equal(t, 30*time.Second, cfg.Scan.Interval.Duration)
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Scan.Direction = "sideways"
	cfg.Scan.FallbackPrice = "-1"
	cfg.Hints.MCRPercent = 90
	cfg.Chain.Contracts.PriceFeed = "not-an-address"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"scan: direction",
		"scan: fallback_price",
		"hints: mcr_percent",
		"contracts.price_feed",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateWalletByMode(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"monitor needs no key", func(c *Config) { c.Mode = "monitor" }, false},
		{"redeem needs a key", func(c *Config) { c.Mode = "redeem" }, true},
		{"redeem with key", func(c *Config) {
			c.Mode = "redeem"
			c.Wallet.PrivateKey = "0x01"
		}, false},
		{"key file needs password", func(c *Config) {
			c.Mode = "full"
			c.Wallet.EncryptedKeyPath = "/tmp/key.json"
		}, true},
		{"remote redeem needs api key", func(c *Config) {
			c.Mode = "server"
			c.Wallet.PrivateKey = "0x01"
			c.Redemption.AllowRemote = true
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "scan"

[chain]
network = "mainnet"
call_timeout = "3s"

[scan]
max_count = 10
fallback_price = "55000.5"
`), 0o600))

	t.Setenv("TROVEWATCH_SCAN_CONCURRENCY", "8")
	t.Setenv("TROVEWATCH_REDEMPTION_MAX_ITERATIONS", "25")
	t.Setenv("TROVEWATCH_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("TROVEWATCH_SCAN_INTERVAL", "garbage")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "scan", cfg.Mode)
	assert.Equal(t, "mainnet", cfg.Chain.Network)
	assert.Equal(t, 3*time.Second, cfg.Chain.CallTimeout.Duration)
	assert.Equal(t, 10, cfg.Scan.MaxCount)
	assert.Equal(t, 20, cfg.Scan.MaxEvaluate, "untouched fields keep defaults")
	assert.Equal(t, 8, cfg.Scan.Concurrency)
	assert.Equal(t, uint64(25), cfg.Redemption.MaxIterations)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.Scan.Interval.Duration, "unparsable override is ignored")
	require.NoError(t, cfg.Validate())

	price, err := Amount(cfg.Scan.FallbackPrice)
	require.NoError(t, err)
	assert.Equal(t, "55000.50", fixedpoint.FormatAmount(price, 2))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "0xdeadbeef"
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Wallet.KeyPassword, "empty secrets stay empty")
	assert.Equal(t, "0xdeadbeef", cfg.Wallet.PrivateKey)

	out.Server.CORSOrigins[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}

func TestRedactedConfigMasksURLPasswords(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://watch:hunter2@db:5432/trovewatch"
	cfg.Chain.RPCURL = "https://rpc.test.mezo.org"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "postgres://watch:xxxxx@db:5432/trovewatch", out.Postgres.DSN)
	assert.Equal(t, "https://rpc.test.mezo.org", out.Chain.RPCURL)

	cfg.Postgres.DSN = "host=db password=hunter2"
	assert.Equal(t, "***", RedactedConfig(&cfg).Postgres.DSN)
}
