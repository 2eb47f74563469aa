package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
	"github.com/alanyoungcy/trovewatch/internal/hints"
	"github.com/alanyoungcy/trovewatch/internal/scan"
)

const redeemLockKey = "redeem"

// HintCalculator computes redemption and insertion hints.
type HintCalculator interface {
	ComputeHints(ctx context.Context, targetAmount, price *big.Int, maxIterations uint64) (domain.RedemptionPlan, error)
	InsertHints(ctx context.Context, nicr *big.Int, maxIterations uint64) (hints.InsertPosition, error)
}

// TargetScanner runs one registry scan.
type TargetScanner interface {
	Scan(ctx context.Context) (domain.ScanResult, error)
}

// RedemptionAlerter reports submitted and failed redemptions.
type RedemptionAlerter interface {
	RedemptionAlert(ctx context.Context, plan domain.RedemptionPlan, tx common.Hash, submitErr error) error
}

// RedemptionOptions configures planning and submission.
type RedemptionOptions struct {
	MaxIterations uint64
	// MaxFeePercentage is the fee cap passed to redeemCollateral (1e18 == 100%).
	MaxFeePercentage *big.Int
	// MaxBlockLag is how many blocks a plan may trail the head before it is
	// recomputed.
	MaxBlockLag uint64
	// LockTTL is renewed after planning, so it only needs to cover one scan
	// plus one plan, or one submission.
	LockTTL time.Duration
}

// DefaultRedemptionOptions returns 50 iterations, a 5% fee cap, a two block
// lag and a one minute lock.
func DefaultRedemptionOptions() RedemptionOptions {
	return RedemptionOptions{
		MaxIterations:    50,
		MaxFeePercentage: fixedpoint.Percent(5),
		MaxBlockLag:      2,
		LockTTL:          time.Minute,
	}
}

// RedemptionResult is the outcome of Redeem.
type RedemptionResult struct {
	Plan   domain.RedemptionPlan `json:"plan"`
	TxHash common.Hash           `json:"tx_hash"`
}

// RedemptionService plans redemptions against a single block snapshot and
// optionally submits them.
type RedemptionService struct {
	gateway     domain.Gateway
	newCalc     func(domain.Gateway) HintCalculator
	newScan     func(domain.Gateway) TargetScanner
	submitter   domain.RedemptionSubmitter
	locks       domain.LockManager
	redemptions domain.RedemptionStore
	audit       domain.AuditStore
	alerts      RedemptionAlerter
	opts        RedemptionOptions
	logger      *slog.Logger
}

// NewRedemptionService creates a RedemptionService. submitter, locks,
// redemptions, audit and alerts may be nil. Redeem requires scanner.
func NewRedemptionService(
	gateway domain.Gateway,
	scanner *scan.Scanner,
	calc *hints.Calculator,
	submitter domain.RedemptionSubmitter,
	locks domain.LockManager,
	redemptions domain.RedemptionStore,
	audit domain.AuditStore,
	alerts RedemptionAlerter,
	opts RedemptionOptions,
	logger *slog.Logger,
) *RedemptionService {
	def := DefaultRedemptionOptions()
	if opts.MaxIterations == 0 {
		opts.MaxIterations = def.MaxIterations
	}
	if opts.MaxFeePercentage == nil {
		opts.MaxFeePercentage = def.MaxFeePercentage
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = def.LockTTL
	}
	return &RedemptionService{
		gateway: gateway,
		newCalc: func(gw domain.Gateway) HintCalculator {
			return calc.WithGateway(gw)
		},
		newScan: func(gw domain.Gateway) TargetScanner {
			if scanner == nil {
				return nil
			}
			return scanner.WithGateway(gw)
		},
		submitter:   submitter,
		locks:       locks,
		redemptions: redemptions,
		audit:       audit,
		alerts:      alerts,
		opts:        opts,
		logger:      logger.With(slog.String("component", "redemption")),
	}
}

// snapshot pins the gateway to the current head when it supports it.
func (s *RedemptionService) snapshot(ctx context.Context) (domain.Gateway, uint64, error) {
	block, err := s.gateway.BlockNumber(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("redemption: block number: %w: %w", domain.ErrTransientRead, err)
	}
	if snap, ok := s.gateway.(domain.Snapshotter); ok {
		return snap.At(block), block, nil
	}
	return s.gateway, block, nil
}

// Plan computes a redemption plan for amount at the current block. The
// oracle must answer: a fallback price is never used for redemptions.
func (s *RedemptionService) Plan(ctx context.Context, amount *big.Int, maxIterations uint64) (domain.RedemptionPlan, error) {
	gw, block, err := s.snapshot(ctx)
	if err != nil {
		return domain.RedemptionPlan{}, err
	}
	price, err := gw.FetchPrice(ctx)
	if err != nil {
		return domain.RedemptionPlan{}, fmt.Errorf("redemption: price: %w", err)
	}
	return s.planAt(ctx, gw, block, price, amount, maxIterations)
}

func (s *RedemptionService) planAt(ctx context.Context, gw domain.Gateway, block uint64, price, amount *big.Int, maxIterations uint64) (domain.RedemptionPlan, error) {
	if maxIterations == 0 {
		maxIterations = s.opts.MaxIterations
	}
	plan, err := s.newCalc(gw).ComputeHints(ctx, amount, price, maxIterations)
	if err != nil {
		return domain.RedemptionPlan{}, fmt.Errorf("redemption: plan: %w", err)
	}
	if plan.BlockNumber == 0 {
		plan.BlockNumber = block
	}
	return plan, nil
}

// scanAndPlan scans the registry at one pinned block and plans against the
// scan's price. Degraded scans and scans without targets are refused.
func (s *RedemptionService) scanAndPlan(ctx context.Context, amount *big.Int) (domain.RedemptionPlan, error) {
	gw, block, err := s.snapshot(ctx)
	if err != nil {
		return domain.RedemptionPlan{}, err
	}
	res, err := s.newScan(gw).Scan(ctx)
	if err != nil {
		return domain.RedemptionPlan{}, fmt.Errorf("redemption: scan: %w", err)
	}
	switch {
	case res.Mode == domain.ModeSyntheticFallback:
		return domain.RedemptionPlan{}, fmt.Errorf("redemption: scan %s: %w", res.ID, domain.ErrRegistryUnreachable)
	case res.Price.Fallback:
		return domain.RedemptionPlan{}, fmt.Errorf("redemption: scan %s: %w", res.ID, domain.ErrOracleUnavailable)
	case res.Counts.Redeemable == 0:
		return domain.RedemptionPlan{}, fmt.Errorf("redemption: scan %s found no targets: %w", res.ID, domain.ErrNothingRedeemable)
	}
	return s.planAt(ctx, gw, block, res.Price.Value, amount, s.opts.MaxIterations)
}

// InsertHints locates the neighbours for a position opened with coll and
// borrow (fee and gas compensation added to its debt).
func (s *RedemptionService) InsertHints(ctx context.Context, coll, borrow, fee *big.Int, maxIterations uint64) (hints.InsertPosition, error) {
	if coll == nil || coll.Sign() <= 0 || borrow == nil || borrow.Sign() <= 0 {
		return hints.InsertPosition{}, fmt.Errorf("redemption: insert hints: collateral and debt must be positive: %w", domain.ErrInvalidArgument)
	}
	if maxIterations == 0 {
		maxIterations = s.opts.MaxIterations
	}
	gw, _, err := s.snapshot(ctx)
	if err != nil {
		return hints.InsertPosition{}, err
	}
	gasComp, err := gw.GasCompensation(ctx)
	if err != nil {
		return hints.InsertPosition{}, fmt.Errorf("redemption: insert hints: gas compensation: %w", err)
	}
	nicr := hints.NewPositionNICR(borrow, fee, gasComp, coll)
	pos, err := s.newCalc(gw).InsertHints(ctx, nicr, maxIterations)
	if err != nil {
		return hints.InsertPosition{}, fmt.Errorf("redemption: insert hints: %w", err)
	}
	return pos, nil
}

// Redeem scans, plans and submits a redemption under the redeem lock. A plan
// that trails the head by more than MaxBlockLag is recomputed once; if it is
// still stale ErrStalePlan is returned. The lock is renewed before submitting
// and submission is abandoned if it was lost.
func (s *RedemptionService) Redeem(ctx context.Context, amount *big.Int) (RedemptionResult, error) {
	if s.submitter == nil {
		return RedemptionResult{}, fmt.Errorf("redemption: no submitter configured: %w", domain.ErrInvalidArgument)
	}
	if s.newScan(s.gateway) == nil {
		return RedemptionResult{}, fmt.Errorf("redemption: no scanner configured: %w", domain.ErrInvalidArgument)
	}
	var lock domain.Lock
	if s.locks != nil {
		l, err := s.locks.Acquire(ctx, redeemLockKey, s.opts.LockTTL)
		if err != nil {
			return RedemptionResult{}, fmt.Errorf("redemption: lock: %w", err)
		}
		defer l.Release()
		lock = l
	}

	plan, err := s.freshPlan(ctx, amount)
	if err != nil {
		return RedemptionResult{Plan: plan}, err
	}
	if plan.Empty() {
		return RedemptionResult{Plan: plan}, fmt.Errorf("redemption: %s: %w", plan.Quality.Reason, domain.ErrNothingRedeemable)
	}
	if lock != nil {
		if err := lock.Extend(ctx, s.opts.LockTTL); err != nil {
			return RedemptionResult{Plan: plan}, fmt.Errorf("redemption: renew lock: %w", err)
		}
	}

	tx, err := s.submitter.SubmitRedemption(ctx, plan, s.opts.MaxIterations, s.opts.MaxFeePercentage)
	s.record(ctx, plan, tx, err)
	if err != nil {
		return RedemptionResult{Plan: plan}, fmt.Errorf("redemption: submit: %w", err)
	}
	return RedemptionResult{Plan: plan, TxHash: tx}, nil
}

func (s *RedemptionService) freshPlan(ctx context.Context, amount *big.Int) (domain.RedemptionPlan, error) {
	for attempt := 0; attempt < 2; attempt++ {
		plan, err := s.scanAndPlan(ctx, amount)
		if err != nil {
			return domain.RedemptionPlan{}, err
		}
		head, err := s.gateway.BlockNumber(ctx)
		if err != nil {
			return domain.RedemptionPlan{}, fmt.Errorf("redemption: head: %w: %w", domain.ErrTransientRead, err)
		}
		if head <= plan.BlockNumber+s.opts.MaxBlockLag {
			return plan, nil
		}
		s.logger.WarnContext(ctx, "redemption plan is stale, recomputing",
			slog.Uint64("plan_block", plan.BlockNumber),
			slog.Uint64("head", head),
		)
	}
	return domain.RedemptionPlan{}, fmt.Errorf("redemption: %w", domain.ErrStalePlan)
}

func (s *RedemptionService) record(ctx context.Context, plan domain.RedemptionPlan, tx common.Hash, submitErr error) {
	detail := map[string]any{
		"amount":    fixedpoint.FormatAmount(plan.TruncatedAmount, 18),
		"requested": fixedpoint.FormatAmount(plan.TargetAmount, 18),
		"block":     plan.BlockNumber,
		"converged": plan.Quality.Converged,
	}
	event := "redemption.submitted"
	if submitErr != nil {
		event = "redemption.failed"
		detail["error"] = submitErr.Error()
		s.logger.ErrorContext(ctx, "redemption submission failed", slog.String("error", submitErr.Error()))
	} else {
		detail["tx"] = tx.Hex()
		s.logger.InfoContext(ctx, "redemption submitted",
			slog.String("tx", tx.Hex()),
			slog.String("amount", fixedpoint.FormatAmount(plan.TruncatedAmount, 2)),
		)
	}

	if s.audit != nil {
		if err := s.audit.Log(ctx, event, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if s.redemptions != nil && submitErr == nil {
		rec := domain.RedemptionRecord{
			TxHash:          tx.Hex(),
			TargetAmount:    plan.TargetAmount.String(),
			TruncatedAmount: plan.TruncatedAmount.String(),
			FirstHint:       plan.FirstHint.Hex(),
			PartialNICR:     plan.PartialHintNICR.String(),
			BlockNumber:     plan.BlockNumber,
			Converged:       plan.Quality.Converged,
		}
		if err := s.redemptions.Insert(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "redemption record failed", slog.String("error", err.Error()))
		}
	}
	if s.alerts != nil {
		if err := s.alerts.RedemptionAlert(ctx, plan, tx, submitErr); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.WarnContext(ctx, "redemption alert failed", slog.String("error", err.Error()))
		}
	}
}
