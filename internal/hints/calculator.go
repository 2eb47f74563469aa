// Package hints computes the arguments a redeemCollateral transaction needs:
// the first redemption hint, the partial redemption NICR, the truncated
// amount and the neighbours the partially redeemed position is reinserted
// between.
package hints

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
	"github.com/alanyoungcy/trovewatch/internal/observability/metrics"
)

// Config holds the calculator's protocol constants and sampling settings.
type Config struct {
	NumTrials           uint64
	Seed                *big.Int
	ConfirmWithRegistry bool
	MinNetDebt          *big.Int
	MCR                 *big.Int
	// SkipLimit bounds the walk past under-collateralized positions at the
	// tail before the first redemption hint.
	SkipLimit int
}

func DefaultConfig() Config {
	return Config{
		NumTrials:           15,
		Seed:                big.NewInt(42),
		ConfirmWithRegistry: true,
		MinNetDebt:          fixedpoint.Ether(1800),
		MCR:                 fixedpoint.Percent(110),
		SkipLimit:           1000,
	}
}

const (
	reasonZeroBudget    = "iteration budget is zero"
	reasonEmpty         = "registry is empty"
	reasonNoEligible    = "no position at or above mcr"
	reasonExhausted     = "max iterations reached"
	reasonReadFailure   = "registry read failed"
	reasonSkipExhausted = "skip limit reached below mcr"
)

// Calculator derives redemption and insertion hints from the registry.
type Calculator struct {
	gw     domain.Gateway
	cfg    Config
	logger *slog.Logger
}

func NewCalculator(gw domain.Gateway, cfg Config, logger *slog.Logger) *Calculator {
	def := DefaultConfig()
	if cfg.Seed == nil {
		cfg.Seed = def.Seed
	}
	if cfg.MinNetDebt == nil {
		cfg.MinNetDebt = def.MinNetDebt
	}
	if cfg.MCR == nil {
		cfg.MCR = def.MCR
	}
	if cfg.NumTrials == 0 {
		cfg.NumTrials = def.NumTrials
	}
	if cfg.SkipLimit <= 0 {
		cfg.SkipLimit = def.SkipLimit
	}
	return &Calculator{
		gw:     gw,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "hint_calculator")),
	}
}

// WithGateway returns a calculator reading through gw, typically a gateway
// pinned to a scan's block.
func (c *Calculator) WithGateway(gw domain.Gateway) *Calculator {
	cp := *c
	cp.gw = gw
	return &cp
}

// NewPositionNICR is the NICR a position opened with coll collateral will be
// inserted at: borrowed amount plus fee plus gas compensation is its debt.
func NewPositionNICR(borrow, fee, gasComp, coll *big.Int) *big.Int {
	debt := new(big.Int).Add(borrow, fixedpoint.OrZero(fee))
	debt.Add(debt, fixedpoint.OrZero(gasComp))
	return fixedpoint.ComputeNominalCR(coll, debt)
}

// CollateralForRatio returns the collateral that puts debt at cr (1e18 ==
// 100%) for price.
func CollateralForRatio(debt, cr, price *big.Int) *big.Int {
	coll := new(big.Int).Mul(debt, cr)
	return coll.Quo(coll, price)
}

func (c *Calculator) nicrOf(ctx context.Context, id common.Address) (*big.Int, error) {
	dc, err := c.gw.GetEntireDebtAndColl(ctx, id)
	if err != nil {
		return nil, err
	}
	return fixedpoint.ComputeNominalCR(fixedpoint.OrZero(dc.Coll), fixedpoint.OrZero(dc.Debt)), nil
}

// redemptionWalk consumes target from the riskiest eligible position
// upwards, the way the protocol's getRedemptionHints does.
type redemptionWalk struct {
	firstHint   common.Address
	partialID   common.Address
	partialNICR *big.Int
	truncated   *big.Int
	quality     domain.HintQuality
}

func (c *Calculator) walkRedemption(ctx context.Context, tail common.Address, target, price, gasComp *big.Int, maxIterations uint64) redemptionWalk {
	w := redemptionWalk{
		partialNICR: fixedpoint.Zero(),
		truncated:   fixedpoint.Zero(),
		quality:     domain.HintQuality{Converged: true},
	}
	degrade := func(reason string) redemptionWalk {
		w.quality.Converged = false
		w.quality.Reason = reason
		return w
	}

	// dc holds the amounts of current; the first eligible position's amounts
	// are reused by the consume loop.
	var dc domain.DebtAndColl
	current := tail
	for skipped := 0; ; skipped++ {
		if domain.IsSentinel(current) {
			w.quality.Reason = reasonNoEligible
			return w
		}
		if skipped == c.cfg.SkipLimit {
			return degrade(reasonSkipExhausted)
		}
		var err error
		if dc, err = c.gw.GetEntireDebtAndColl(ctx, current); err != nil {
			return degrade(reasonReadFailure)
		}
		if fixedpoint.ComputeCR(fixedpoint.OrZero(dc.Coll), fixedpoint.OrZero(dc.Debt), price).Cmp(c.cfg.MCR) >= 0 {
			break
		}
		if current, err = c.gw.GetPrev(ctx, current); err != nil {
			return degrade(reasonReadFailure)
		}
	}
	w.firstHint = current

	remaining := new(big.Int).Set(target)
	for !domain.IsSentinel(current) && remaining.Sign() > 0 {
		if uint64(w.quality.Iterations) == maxIterations {
			w.truncated.Sub(target, remaining)
			return degrade(reasonExhausted)
		}
		if w.quality.Iterations > 0 {
			var err error
			if dc, err = c.gw.GetEntireDebtAndColl(ctx, current); err != nil {
				w.truncated.Sub(target, remaining)
				return degrade(reasonReadFailure)
			}
		}
		w.quality.Iterations++

		coll, debt := fixedpoint.OrZero(dc.Coll), fixedpoint.OrZero(dc.Debt)
		netDebt := new(big.Int).Sub(debt, gasComp)
		if netDebt.Sign() < 0 {
			netDebt.SetInt64(0)
		}

		if netDebt.Cmp(remaining) > 0 {
			if netDebt.Cmp(c.cfg.MinNetDebt) > 0 {
				maxRedeemable := fixedpoint.Min(remaining, new(big.Int).Sub(netDebt, c.cfg.MinNetDebt))

				collLot := new(big.Int).Mul(maxRedeemable, fixedpoint.Scale)
				collLot.Quo(collLot, price)
				newColl := new(big.Int).Sub(coll, collLot)
				newDebt := new(big.Int).Sub(netDebt, maxRedeemable)

				w.partialID = current
				w.partialNICR = fixedpoint.ComputeNominalCR(newColl, newDebt.Add(newDebt, gasComp))
				remaining.Sub(remaining, maxRedeemable)
			}
			break
		}

		remaining.Sub(remaining, netDebt)
		var err error
		if current, err = c.gw.GetPrev(ctx, current); err != nil {
			w.truncated.Sub(target, remaining)
			return degrade(reasonReadFailure)
		}
	}

	w.truncated.Sub(target, remaining)
	return w
}

// ComputeHints builds a redemption plan for targetAmount at price. Exhausting
// maxIterations degrades the plan's quality instead of failing. Errors are
// returned only for invalid arguments or when the registry ends or the gas
// compensation cannot be read.
func (c *Calculator) ComputeHints(ctx context.Context, targetAmount, price *big.Int, maxIterations uint64) (domain.RedemptionPlan, error) {
	if targetAmount == nil || targetAmount.Sign() <= 0 {
		return domain.RedemptionPlan{}, fmt.Errorf("hints: compute: amount must be positive: %w", domain.ErrInvalidArgument)
	}
	if price == nil || price.Sign() <= 0 {
		return domain.RedemptionPlan{}, fmt.Errorf("hints: compute: price must be positive: %w", domain.ErrInvalidArgument)
	}

	plan := domain.RedemptionPlan{
		TargetAmount:    new(big.Int).Set(targetAmount),
		TruncatedAmount: fixedpoint.Zero(),
		PartialHintNICR: fixedpoint.Zero(),
		Price:           new(big.Int).Set(price),
	}
	if block, err := c.gw.BlockNumber(ctx); err == nil {
		plan.BlockNumber = block
	}

	tail, err := c.gw.GetLast(ctx)
	if err != nil {
		return domain.RedemptionPlan{}, fmt.Errorf("hints: compute: read tail: %w: %w", domain.ErrRegistryUnreachable, err)
	}
	if domain.IsSentinel(tail) {
		plan.Quality = domain.HintQuality{Converged: true, Reason: reasonEmpty}
		return c.done(ctx, plan), nil
	}

	if maxIterations == 0 {
		plan.FirstHint = tail
		plan.ApproxHint = tail
		plan.UpperHint = tail
		plan.Quality = domain.HintQuality{Reason: reasonZeroBudget}
		return c.done(ctx, plan), nil
	}

	gasComp, err := c.gw.GasCompensation(ctx)
	if err != nil {
		return domain.RedemptionPlan{}, fmt.Errorf("hints: compute: gas compensation: %w", err)
	}

	walk := c.walkRedemption(ctx, tail, targetAmount, price, gasComp, maxIterations)
	plan.FirstHint = walk.firstHint
	plan.TruncatedAmount = walk.truncated
	plan.PartialHintNICR = walk.partialNICR
	plan.Quality = walk.quality

	if walk.partialNICR.Sign() == 0 {
		return c.done(ctx, plan), nil
	}

	numTrials := min(c.cfg.NumTrials, maxIterations)
	approx := walk.partialID
	sample, err := c.gw.GetApproxHint(ctx, walk.partialNICR, numTrials, c.cfg.Seed)
	if err != nil {
		c.logger.WarnContext(ctx, "approximate hint unavailable, starting from partial position",
			slog.String("error", err.Error()))
	} else if !domain.IsSentinel(sample.ID) {
		approx = sample.ID
	}
	plan.ApproxHint = approx

	ins := c.locate(ctx, walk.partialNICR, approx, walk.partialID, maxIterations)
	plan.UpperHint, plan.LowerHint = ins.upper, ins.lower
	if !ins.quality.Converged {
		plan.Quality.Converged = false
		if plan.Quality.Reason == "" {
			plan.Quality.Reason = ins.quality.Reason
		}
	}
	plan.Quality.Iterations += ins.quality.Iterations

	return c.done(ctx, plan), nil
}

func (c *Calculator) done(ctx context.Context, plan domain.RedemptionPlan) domain.RedemptionPlan {
	metrics.RecordHint(plan.Quality.Converged)
	level := slog.LevelInfo
	if !plan.Quality.Converged {
		level = slog.LevelWarn
	}
	c.logger.Log(ctx, level, "redemption hints computed",
		slog.String("target", fixedpoint.FormatAmount(plan.TargetAmount, 2)),
		slog.String("truncated", fixedpoint.FormatAmount(plan.TruncatedAmount, 2)),
		slog.String("first_hint", plan.FirstHint.Hex()),
		slog.String("partial_nicr", plan.PartialHintNICR.String()),
		slog.String("upper", plan.UpperHint.Hex()),
		slog.String("lower", plan.LowerHint.Hex()),
		slog.Bool("converged", plan.Quality.Converged),
		slog.Int("iterations", plan.Quality.Iterations),
		slog.String("reason", plan.Quality.Reason),
	)
	return plan
}
