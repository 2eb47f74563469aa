// Package scan walks the sorted registry, evaluates every visited position
// at a single oracle price, and selects redemption targets.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
	"github.com/alanyoungcy/trovewatch/internal/observability/metrics"
)

// Config bounds one scan.
type Config struct {
	Direction     Direction
	MaxCount      int // traversal bound
	MaxEvaluate   int // evaluated prefix of the traversal; 0 evaluates all
	Concurrency   int
	FallbackPrice *big.Int
	Bands         Bands
	ReportTop     int // redemption targets logged per scan
}

// DefaultConfig mirrors the values the monitor has always used.
func DefaultConfig() Config {
	return Config{
		Direction:     FromRiskiestTail,
		MaxCount:      50,
		MaxEvaluate:   20,
		Concurrency:   4,
		FallbackPrice: new(big.Int).Set(DefaultFallbackPrice),
		Bands:         DefaultBands(),
		ReportTop:     5,
	}
}

// errBeyondEvaluateLimit marks traversed ids past Config.MaxEvaluate.
var errBeyondEvaluateLimit = errors.New("beyond max_evaluate")

// Scanner runs full scans against a gateway.
type Scanner struct {
	gateway  domain.Gateway
	cfg      Config
	fallback FallbackSource
	logger   *slog.Logger
	now      func() time.Time
}

// NewScanner creates a Scanner. A nil fallback uses DefaultFallback.
func NewScanner(gateway domain.Gateway, cfg Config, fallback FallbackSource, logger *slog.Logger) *Scanner {
	if fallback == nil {
		fallback = DefaultFallback()
	}
	if cfg.FallbackPrice == nil {
		cfg.FallbackPrice = new(big.Int).Set(DefaultFallbackPrice)
	}
	if cfg.Bands.MCR == nil || cfg.Bands.Safe == nil {
		cfg.Bands = DefaultBands()
	}
	return &Scanner{
		gateway:  gateway,
		cfg:      cfg,
		fallback: fallback,
		logger:   logger.With(slog.String("component", "scanner")),
		now:      time.Now,
	}
}

// WithGateway returns a copy reading from gw. A gateway pinned with
// domain.Snapshotter keeps the scan on that block.
func (s *Scanner) WithGateway(gw domain.Gateway) *Scanner {
	cp := *s
	cp.gateway = gw
	return &cp
}

// Bands returns the thresholds the scanner classifies with.
func (s *Scanner) Bands() Bands {
	return s.cfg.Bands
}

// Scan runs one scan. Registry or oracle unavailability is reported through
// the result's mode flags; an error means the scan was cancelled or the
// configuration is invalid.
func (s *Scanner) Scan(ctx context.Context) (domain.ScanResult, error) {
	started := s.now()
	result := domain.ScanResult{
		ID:         uuid.NewString(),
		Mode:       domain.ModeLive,
		StartedAt:  started,
		Traversed:  []common.Address{},
		Active:     []domain.Position{},
		Redeemable: []domain.Position{},
		AtRisk:     []domain.Position{},
		Closed:     []domain.Position{},
		Skipped:    map[common.Address]string{},
	}

	gw := s.gateway
	block, err := gw.BlockNumber(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "block number unavailable, reading latest state", slog.String("error", err.Error()))
	} else {
		result.BlockNumber = block
		if snap, ok := gw.(domain.Snapshotter); ok {
			gw = snap.At(block)
		}
	}

	result.Price = s.quote(ctx, gw)

	ids, err := NewTraverser(gw, s.logger).Traverse(ctx, s.cfg.Direction, s.cfg.MaxCount)
	switch {
	case errors.Is(err, domain.ErrRegistryUnreachable):
		s.logger.WarnContext(ctx, "registry unreachable, using synthetic dataset", slog.String("error", err.Error()))
		if err := s.synthesize(ctx, &result); err != nil {
			return domain.ScanResult{}, err
		}
		return s.finish(ctx, result), nil
	case err != nil:
		return domain.ScanResult{}, err
	}

	if len(ids) == 0 {
		result.Mode = domain.ModeEmptyRegistry
		return s.finish(ctx, result), nil
	}

	result.Traversed = ids
	evaluate, deferred := ids, []common.Address(nil)
	if s.cfg.MaxEvaluate > 0 && len(ids) > s.cfg.MaxEvaluate {
		s.logger.DebugContext(ctx, "evaluating traversal prefix",
			slog.Int("traversed", len(ids)),
			slog.Int("evaluated", s.cfg.MaxEvaluate),
		)
		evaluate, deferred = ids[:s.cfg.MaxEvaluate], ids[s.cfg.MaxEvaluate:]
	}

	outcomes, err := NewEvaluator(gw, s.cfg.Bands, s.cfg.Concurrency, s.logger).EvaluateAll(ctx, evaluate, result.Price.Value)
	if err != nil {
		return domain.ScanResult{}, err
	}
	for _, id := range deferred {
		outcomes = append(outcomes, failed(id, FailureNotEvaluated, errBeyondEvaluateLimit))
	}

	sel := Select(outcomes)
	result.Active = sel.Active
	result.Redeemable = sel.Redeemable
	result.AtRisk = sel.AtRisk
	result.Closed = sel.Closed
	result.Skipped = sel.Skipped
	result.Counts = sel.Counts

	return s.finish(ctx, result), nil
}

// quote reads the oracle once; the value is shared by every evaluation.
func (s *Scanner) quote(ctx context.Context, gw domain.PriceOracle) domain.PriceQuote {
	price, err := gw.FetchPrice(ctx)
	if err != nil || price == nil || price.Sign() <= 0 {
		attrs := []any{slog.String("fallback", fixedpoint.FormatAmount(s.cfg.FallbackPrice, 2))}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		s.logger.WarnContext(ctx, "price oracle unavailable, using fallback price", attrs...)
		return domain.PriceQuote{Value: new(big.Int).Set(s.cfg.FallbackPrice), Fallback: true, FetchedAt: s.now()}
	}
	return domain.PriceQuote{Value: price, FetchedAt: s.now()}
}

func (s *Scanner) synthesize(ctx context.Context, result *domain.ScanResult) error {
	positions, err := s.fallback.Positions(ctx)
	if err != nil {
		return fmt.Errorf("scan: fallback dataset: %w", err)
	}

	outcomes := make([]Outcome, len(positions))
	ids := make([]common.Address, len(positions))
	for i, p := range positions {
		p.Synthetic = true
		if p.Status.IsActive() {
			p.Band = s.cfg.Bands.Classify(p.ICR)
		} else {
			p.Band = domain.BandClosed
		}
		ids[i] = p.ID
		outcomes[i] = Outcome{ID: p.ID, Position: p}
	}

	sel := Select(outcomes)
	result.Mode = domain.ModeSyntheticFallback
	result.Traversed = ids
	result.Active = sel.Active
	result.Redeemable = sel.Redeemable
	result.AtRisk = sel.AtRisk
	result.Closed = sel.Closed
	result.Counts = sel.Counts
	return nil
}

func (s *Scanner) finish(ctx context.Context, result domain.ScanResult) domain.ScanResult {
	result.Duration = s.now().Sub(result.StartedAt)
	metrics.RecordScan(result.Duration, string(result.Mode), result.Price.Fallback,
		result.Counts.Redeemable, result.Counts.AtRisk, result.Counts.Unevaluable)

	s.logger.InfoContext(ctx, "scan completed",
		slog.String("scan_id", result.ID),
		slog.String("mode", string(result.Mode)),
		slog.Bool("price_fallback", result.Price.Fallback),
		slog.String("price", fixedpoint.FormatAmount(result.Price.Value, 2)),
		slog.Uint64("block", result.BlockNumber),
		slog.Int("traversed", result.Counts.Traversed),
		slog.Int("active", result.Counts.Active),
		slog.Int("redeemable", result.Counts.Redeemable),
		slog.Int("at_risk", result.Counts.AtRisk),
		slog.Int("closed", result.Counts.Closed),
		slog.Int("skipped", result.Counts.Unevaluable),
		slog.Duration("duration", result.Duration),
	)

	for i, p := range result.Redeemable {
		if i == s.cfg.ReportTop {
			break
		}
		s.logger.InfoContext(ctx, "redemption target",
			slog.Int("rank", i+1),
			slog.String("id", p.ID.Hex()),
			slog.String("icr", fixedpoint.FormatPercent(p.ICR)),
			slog.String("debt", fixedpoint.FormatAmount(p.Debt, 2)),
			slog.String("collateral", fixedpoint.FormatAmount(p.Collateral, 4)),
			slog.Bool("synthetic", p.Synthetic),
		)
	}
	return result
}
