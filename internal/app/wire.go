package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	s3blob "github.com/alanyoungcy/trovewatch/internal/blob/s3"
	"github.com/alanyoungcy/trovewatch/internal/cache/redis"
	"github.com/alanyoungcy/trovewatch/internal/chain"
	"github.com/alanyoungcy/trovewatch/internal/config"
	"github.com/alanyoungcy/trovewatch/internal/crypto"
	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
	"github.com/alanyoungcy/trovewatch/internal/hints"
	"github.com/alanyoungcy/trovewatch/internal/notify"
	"github.com/alanyoungcy/trovewatch/internal/observability/metrics"
	"github.com/alanyoungcy/trovewatch/internal/scan"
	"github.com/alanyoungcy/trovewatch/internal/server/handler"
	"github.com/alanyoungcy/trovewatch/internal/service"
	"github.com/alanyoungcy/trovewatch/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function. Store,
// cache and blob fields are nil when their backend is disabled.
type Dependencies struct {
	Network chain.Network
	// Gateway is the chain gateway; it also pins reads to a block.
	Gateway   domain.Gateway
	Submitter domain.RedemptionSubmitter

	Scanner    *scan.Scanner
	Calculator *hints.Calculator

	// Stores
	ScanStore       domain.ScanStore
	AuditStore      domain.AuditStore
	RedemptionStore domain.RedemptionStore

	// Caches
	ReportCache domain.ReportCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter

	// Blob storage
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Checks feeds the health endpoint.
	Checks map[string]handler.Check
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	metrics.Register()
	deps := &Dependencies{Checks: map[string]handler.Check{}}

	// --- Chain ---
	network, err := ResolveNetwork(cfg.Chain)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Network = network

	client, err := ethclient.DialContext(ctx, network.RPCURL)
	if err != nil {
		return fail(fmt.Errorf("wire: dial rpc: %w", err))
	}
	closers = append(closers, client.Close)

	remoteID, err := client.ChainID(ctx)
	if err != nil {
		return fail(fmt.Errorf("wire: chain id: %w", err))
	}
	if remoteID.Int64() != network.ChainID {
		return fail(fmt.Errorf("wire: rpc reports chain id %s, configured %d", remoteID, network.ChainID))
	}

	gateway := chain.NewGateway(client, network.Contracts, chain.Options{
		CallTimeout:   cfg.Chain.CallTimeout.Duration,
		MaxRetries:    uint(cfg.Chain.MaxRetries),
		RetryInterval: cfg.Chain.RetryInterval.Duration,
	}, logger)
	deps.Gateway = gateway
	deps.Checks["rpc"] = func(ctx context.Context) error {
		_, err := client.BlockNumber(ctx)
		return err
	}

	scanCfg, err := ScanConfig(cfg.Scan)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Scanner = scan.NewScanner(gateway, scanCfg, scan.DefaultFallback(), logger)

	hintCfg, err := HintsConfig(cfg.Hints)
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Calculator = hints.NewCalculator(gateway, hintCfg, logger)

	if cfg.NeedsWallet() {
		key, err := crypto.LoadWallet(crypto.WalletConfig{
			PrivateKey: cfg.Wallet.PrivateKey,
			KeyFile:    cfg.Wallet.EncryptedKeyPath,
			Password:   cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: wallet: %w", err))
		}
		signer := crypto.NewSignerFromKey(key, network.ChainID)
		deps.Submitter = chain.NewSubmitter(client, signer, network.Contracts.TroveManager, cfg.Redemption.GasLimit, logger)
		logger.InfoContext(ctx, "redemption wallet loaded", slog.String("address", signer.Address().Hex()))
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.ScanStore = postgres.NewScanStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.RedemptionStore = postgres.NewRedemptionStore(pool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix + network.Name + ":",
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.ReportCache = redis.NewReportCache(redisClient, cfg.Redis.ReportTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(
			s3Client,
			deps.ScanStore,
			deps.AuditStore,
			s3blob.ArchiverOptions{Prune: cfg.S3.Prune},
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// ResolveNetwork starts from the preset named in cfg and applies the rpc,
// chain id and contract overrides.
func ResolveNetwork(cfg config.ChainConfig) (chain.Network, error) {
	var network chain.Network
	if cfg.Network != "" {
		preset, err := chain.NetworkByName(cfg.Network)
		if err != nil {
			return chain.Network{}, err
		}
		network = preset
	} else if cfg.ChainID != 0 {
		preset, err := chain.NetworkByChainID(cfg.ChainID)
		if err == nil {
			network = preset
		} else {
			network.Name = fmt.Sprintf("chain-%d", cfg.ChainID)
		}
	}

	if cfg.RPCURL != "" {
		network.RPCURL = cfg.RPCURL
	}
	if cfg.ChainID != 0 {
		network.ChainID = cfg.ChainID
	}
	override := func(dst *common.Address, hex string) {
		if hex = strings.TrimSpace(hex); hex != "" {
			*dst = common.HexToAddress(hex)
		}
	}
	override(&network.Contracts.TroveManager, cfg.Contracts.TroveManager)
	override(&network.Contracts.BorrowerOperations, cfg.Contracts.BorrowerOperations)
	override(&network.Contracts.PriceFeed, cfg.Contracts.PriceFeed)
	override(&network.Contracts.SortedTroves, cfg.Contracts.SortedTroves)
	override(&network.Contracts.HintHelpers, cfg.Contracts.HintHelpers)
	override(&network.Contracts.MUSD, cfg.Contracts.MUSD)

	if network.RPCURL == "" {
		return chain.Network{}, fmt.Errorf("chain: no rpc url for network %q", network.Name)
	}
	if missing := network.Contracts.Missing(); len(missing) > 0 {
		return chain.Network{}, fmt.Errorf("chain: missing contract addresses: %s", strings.Join(missing, ", "))
	}
	return network, nil
}

// ScanConfig converts the scan section into scanner settings.
func ScanConfig(cfg config.ScanConfig) (scan.Config, error) {
	dir, err := scan.ParseDirection(cfg.Direction)
	if err != nil {
		return scan.Config{}, err
	}
	price, err := config.Amount(cfg.FallbackPrice)
	if err != nil {
		return scan.Config{}, fmt.Errorf("scan: fallback_price: %w", err)
	}
	out := scan.DefaultConfig()
	out.Direction = dir
	out.MaxCount = cfg.MaxCount
	out.MaxEvaluate = cfg.MaxEvaluate
	out.Concurrency = cfg.Concurrency
	out.FallbackPrice = price
	out.ReportTop = cfg.ReportTop
	return out, nil
}

// HintsConfig converts the hints section into calculator settings.
func HintsConfig(cfg config.HintsConfig) (hints.Config, error) {
	minDebt, err := config.Amount(cfg.MinNetDebt)
	if err != nil {
		return hints.Config{}, fmt.Errorf("hints: min_net_debt: %w", err)
	}
	return hints.Config{
		NumTrials:           cfg.NumTrials,
		Seed:                big.NewInt(cfg.Seed),
		ConfirmWithRegistry: cfg.ConfirmWithRegistry,
		MinNetDebt:          minDebt,
		MCR:                 fixedpoint.Percent(cfg.MCRPercent),
		SkipLimit:           cfg.SkipLimit,
	}, nil
}

// RedemptionOptions converts the redemption section into service options.
func RedemptionOptions(cfg config.RedemptionConfig) service.RedemptionOptions {
	return service.RedemptionOptions{
		MaxIterations:    cfg.MaxIterations,
		MaxFeePercentage: fixedpoint.Percent(cfg.MaxFeePercent),
		MaxBlockLag:      cfg.MaxBlockLag,
		LockTTL:          cfg.LockTTL.Duration,
	}
}
