package hints

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

// InsertPosition is where a position with NICR belongs in the registry.
type InsertPosition struct {
	NICR    *big.Int           `json:"nicr"`
	Approx  common.Address     `json:"approx_hint"`
	Upper   common.Address     `json:"upper_hint"`
	Lower   common.Address     `json:"lower_hint"`
	Quality domain.HintQuality `json:"quality"`
}

type neighbours struct {
	upper, lower common.Address
	quality      domain.HintQuality
}

// step reads the neighbour of id in one direction, stepping over exclude.
func (c *Calculator) step(ctx context.Context, id, exclude common.Address, towardHead bool) (common.Address, error) {
	read := c.gw.GetNext
	if towardHead {
		read = c.gw.GetPrev
	}
	next, err := read(ctx, id)
	if err != nil {
		return common.Address{}, err
	}
	if next == exclude && !domain.IsSentinel(exclude) {
		return read(ctx, next)
	}
	return next, nil
}

// walk looks for the pair with NICR(upper) >= target > NICR(lower) starting
// at start, spending at most budget neighbour reads. The exclude position is
// treated as already removed from the list.
func (c *Calculator) walk(ctx context.Context, target *big.Int, start, exclude common.Address, budget uint64) neighbours {
	var res neighbours
	fail := func(reason string) neighbours {
		res.quality.Converged = false
		res.quality.Reason = reason
		return res
	}

	if start == exclude && !domain.IsSentinel(exclude) {
		next, err := c.step(ctx, exclude, exclude, false)
		if err != nil {
			return fail(reasonReadFailure)
		}
		if domain.IsSentinel(next) {
			if next, err = c.step(ctx, exclude, exclude, true); err != nil {
				return fail(reasonReadFailure)
			}
		}
		start = next
	}
	if domain.IsSentinel(start) {
		// Nothing else in the list: insert as the only element.
		res.quality.Converged = true
		return res
	}

	nicr, err := c.nicrOf(ctx, start)
	if err != nil {
		return fail(reasonReadFailure)
	}

	towardHead := nicr.Cmp(target) < 0
	if towardHead {
		res.lower = start
	} else {
		res.upper = start
	}

	for uint64(res.quality.Iterations) < budget {
		res.quality.Iterations++
		from := res.upper
		if towardHead {
			from = res.lower
		}
		next, err := c.step(ctx, from, exclude, towardHead)
		if err != nil {
			return fail(reasonReadFailure)
		}
		if domain.IsSentinel(next) {
			res.quality.Converged = true
			return res
		}
		nicr, err := c.nicrOf(ctx, next)
		if err != nil {
			return fail(reasonReadFailure)
		}
		if towardHead {
			if nicr.Cmp(target) >= 0 {
				res.upper = next
				res.quality.Converged = true
				return res
			}
			res.lower = next
		} else {
			if nicr.Cmp(target) < 0 {
				res.lower = next
				res.quality.Converged = true
				return res
			}
			res.upper = next
		}
	}
	return fail(reasonExhausted)
}

// locate runs the local walk and, once converged, lets the registry confirm
// the pair. A registry answer naming the excluded position is ignored.
func (c *Calculator) locate(ctx context.Context, target *big.Int, start, exclude common.Address, budget uint64) neighbours {
	res := c.walk(ctx, target, start, exclude, budget)
	if !res.quality.Converged || !c.cfg.ConfirmWithRegistry {
		return res
	}

	upper, lower, err := c.gw.FindInsertPosition(ctx, target, res.upper, res.lower)
	if err != nil {
		c.logger.WarnContext(ctx, "registry confirmation failed, keeping local hints",
			slog.String("error", err.Error()))
		return res
	}
	if !domain.IsSentinel(exclude) && (upper == exclude || lower == exclude) {
		return res
	}
	if upper != res.upper || lower != res.lower {
		c.logger.InfoContext(ctx, "registry adjusted insert position",
			slog.String("local_upper", res.upper.Hex()),
			slog.String("local_lower", res.lower.Hex()),
			slog.String("upper", upper.Hex()),
			slog.String("lower", lower.Hex()),
		)
		res.upper, res.lower = upper, lower
	}
	return res
}

// InsertHints finds where a new position with nicr belongs: an approximate
// hint from random sampling, then the registry's exact neighbours. When the
// registry cannot answer the pair is found by walking locally.
func (c *Calculator) InsertHints(ctx context.Context, nicr *big.Int, maxIterations uint64) (InsertPosition, error) {
	if nicr == nil || nicr.Sign() <= 0 {
		return InsertPosition{}, fmt.Errorf("hints: insert: nicr must be positive: %w", domain.ErrInvalidArgument)
	}
	pos := InsertPosition{NICR: new(big.Int).Set(nicr)}

	sample, err := c.gw.GetApproxHint(ctx, nicr, c.cfg.NumTrials, c.cfg.Seed)
	if err != nil {
		return InsertPosition{}, fmt.Errorf("hints: insert: approximate hint: %w", err)
	}
	pos.Approx = sample.ID

	upper, lower, err := c.gw.FindInsertPosition(ctx, nicr, sample.ID, sample.ID)
	if err == nil {
		pos.Upper, pos.Lower = upper, lower
		pos.Quality = domain.HintQuality{Converged: true}
		return pos, nil
	}
	c.logger.WarnContext(ctx, "findInsertPosition failed, walking locally", slog.String("error", err.Error()))

	start := sample.ID
	if domain.IsSentinel(start) {
		if start, err = c.gw.GetLast(ctx); err != nil {
			return InsertPosition{}, fmt.Errorf("hints: insert: read tail: %w: %w", domain.ErrRegistryUnreachable, err)
		}
	}
	res := c.walk(ctx, nicr, start, common.Address{}, maxIterations)
	pos.Upper, pos.Lower, pos.Quality = res.upper, res.lower, res.quality
	return pos, nil
}
