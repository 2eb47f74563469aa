package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

// Bands are the ICR thresholds that split active positions into risk bands.
type Bands struct {
	MCR  *big.Int // below: at risk of liquidation
	Safe *big.Int // at or above: not worth redeeming against
}

// DefaultBands returns 110% / 150%.
func DefaultBands() Bands {
	return Bands{MCR: fixedpoint.Percent(110), Safe: fixedpoint.Percent(150)}
}

// Classify maps an ICR to its band.
func (b Bands) Classify(icr *big.Int) domain.RiskBand {
	switch {
	case icr.Cmp(b.MCR) < 0:
		return domain.BandAtRisk
	case icr.Cmp(b.Safe) < 0:
		return domain.BandRedeemable
	default:
		return domain.BandSafe
	}
}

// FailureKind categorizes a position that could not be evaluated.
type FailureKind string

const (
	FailureRead    FailureKind = "read"
	FailureInvalid FailureKind = "invalid"
	// FailureNotEvaluated marks ids traversed but cut by the evaluation limit.
	FailureNotEvaluated FailureKind = "not-evaluated"
)

// Outcome is either an evaluated position or a categorized failure.
type Outcome struct {
	ID       common.Address
	Position domain.Position
	Failure  FailureKind
	Err      error
}

// OK reports whether the outcome carries a position.
func (o Outcome) OK() bool {
	return o.Failure == ""
}

func failed(id common.Address, kind FailureKind, err error) Outcome {
	return Outcome{ID: id, Failure: kind, Err: err}
}

// Evaluator reads and classifies individual positions.
type Evaluator struct {
	ledger      domain.PositionLedger
	bands       Bands
	concurrency int
	logger      *slog.Logger
}

func NewEvaluator(ledger domain.PositionLedger, bands Bands, concurrency int, logger *slog.Logger) *Evaluator {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Evaluator{
		ledger:      ledger,
		bands:       bands,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "evaluator")),
	}
}

// Evaluate reads one position and computes its ICR at price. It never
// returns an error; failures are carried in the Outcome.
func (e *Evaluator) Evaluate(ctx context.Context, id common.Address, price *big.Int) Outcome {
	status, err := e.ledger.GetTroveStatus(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPosition) {
			return failed(id, FailureInvalid, err)
		}
		return failed(id, FailureRead, err)
	}

	if !status.IsActive() {
		pos := domain.Position{
			ID:         id,
			Status:     status,
			Collateral: fixedpoint.Zero(),
			Debt:       fixedpoint.Zero(),
			ICR:        fixedpoint.Zero(),
			Band:       domain.BandClosed,
		}
		// Amounts are display only for closed positions.
		if dc, err := e.ledger.GetEntireDebtAndColl(ctx, id); err == nil {
			pos.Collateral = fixedpoint.OrZero(dc.Coll)
			pos.Debt = fixedpoint.OrZero(dc.Debt)
		}
		return Outcome{ID: id, Position: pos}
	}

	dc, err := e.ledger.GetEntireDebtAndColl(ctx, id)
	if err != nil {
		return failed(id, FailureRead, err)
	}
	coll, debt := fixedpoint.OrZero(dc.Coll), fixedpoint.OrZero(dc.Debt)

	switch {
	case coll.Sign() < 0 || debt.Sign() < 0:
		return failed(id, FailureInvalid, fmt.Errorf("scan: evaluate %s: negative amounts: %w", id.Hex(), domain.ErrInvalidPosition))
	case coll.Sign() == 0 && debt.Sign() == 0:
		return failed(id, FailureInvalid, fmt.Errorf("scan: evaluate %s: zero debt and collateral: %w", id.Hex(), domain.ErrInvalidPosition))
	}

	icr := fixedpoint.ComputeCR(coll, debt, price)
	return Outcome{ID: id, Position: domain.Position{
		ID:                id,
		Status:            status,
		Collateral:        coll,
		Debt:              debt,
		PendingCollReward: fixedpoint.OrZero(dc.PendingCollReward),
		PendingDebtReward: fixedpoint.OrZero(dc.PendingDebtReward),
		ICR:               icr,
		Band:              e.bands.Classify(icr),
	}}
}

// EvaluateAll evaluates ids with bounded parallelism and returns outcomes in
// the order of ids. Each worker writes only its own slot. The only error is
// cancellation of ctx.
func (e *Evaluator) EvaluateAll(ctx context.Context, ids []common.Address, price *big.Int) ([]Outcome, error) {
	slots := make([]Outcome, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = e.Evaluate(gctx, id, price)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scan: evaluate: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan: evaluate: %w", err)
	}

	for _, o := range slots {
		if !o.OK() {
			e.logger.WarnContext(ctx, "position skipped",
				slog.String("id", o.ID.Hex()),
				slog.String("failure", string(o.Failure)),
				slog.String("error", o.Err.Error()),
			)
		}
	}
	return slots, nil
}
