package scan

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trovewatch/internal/chain/simchain"
	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

var testPrice = fixedpoint.Ether(60000)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newChain() *simchain.Chain {
	return simchain.New(testPrice, fixedpoint.Ether(200))
}

// openAt opens position n with an ICR of exactly pct percent at testPrice.
func openAt(c *simchain.Chain, n int, pct int64) common.Address {
	id := simchain.AddressFor(n)
	c.Open(id, new(big.Int).Mul(big.NewInt(pct), big.NewInt(1e15)), fixedpoint.Ether(6000))
	return id
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxCount = 100
	cfg.MaxEvaluate = 0
	return cfg
}

func TestTraverse(t *testing.T) {
	ctx := context.Background()

	c := newChain()
	var ids []common.Address
	for i, pct := range []int64{300, 200, 140, 120, 105} {
		ids = append(ids, openAt(c, i, pct))
	}

	tr := NewTraverser(c, testLogger())

	t.Run("from tail", func(t *testing.T) {
		got, err := tr.Traverse(ctx, FromRiskiestTail, 10)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{ids[4], ids[3], ids[2], ids[1], ids[0]}, got)
	})

	t.Run("from head", func(t *testing.T) {
		got, err := tr.Traverse(ctx, FromSafestHead, 10)
		require.NoError(t, err)
		assert.Equal(t, ids, got)
	})

	t.Run("bounded", func(t *testing.T) {
		got, err := tr.Traverse(ctx, FromRiskiestTail, 2)
		require.NoError(t, err)
		assert.Equal(t, []common.Address{ids[4], ids[3]}, got)
	})

	t.Run("zero count reads nothing", func(t *testing.T) {
		before := c.Reads()
		got, err := tr.Traverse(ctx, FromRiskiestTail, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.Equal(t, before, c.Reads())
	})

	t.Run("negative count", func(t *testing.T) {
		_, err := tr.Traverse(ctx, FromRiskiestTail, -1)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	})
}

func TestTraverseFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("step failure returns partial", func(t *testing.T) {
		c := newChain()
		a := openAt(c, 0, 200)
		b := openAt(c, 1, 150)
		openAt(c, 2, 120)
		c.FailStep(b)
		_ = a

		got, err := NewTraverser(c, testLogger()).Traverse(ctx, FromSafestHead, 10)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("tail failure", func(t *testing.T) {
		c := newChain()
		openAt(c, 0, 200)
		c.FailEnds()

		_, err := NewTraverser(c, testLogger()).Traverse(ctx, FromRiskiestTail, 10)
		assert.ErrorIs(t, err, domain.ErrRegistryUnreachable)
	})

	t.Run("cycle is bounded", func(t *testing.T) {
		c := newChain()
		a := openAt(c, 0, 200)
		b := openAt(c, 1, 120)
		c.LinkPrev(a, b)

		got, err := NewTraverser(c, testLogger()).Traverse(ctx, FromRiskiestTail, 7)
		require.NoError(t, err)
		assert.Len(t, got, 7)
		for _, id := range got {
			assert.False(t, domain.IsSentinel(id))
		}
	})

	t.Run("cancelled between steps", func(t *testing.T) {
		c := newChain()
		openAt(c, 0, 200)
		openAt(c, 1, 120)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		got, err := NewTraverser(c, testLogger()).Traverse(cctx, FromRiskiestTail, 10)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, got, 1)
	})
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	c := newChain()
	ev := NewEvaluator(c, DefaultBands(), 2, testLogger())

	t.Run("redeemable", func(t *testing.T) {
		id := openAt(c, 0, 125)
		o := ev.Evaluate(ctx, id, testPrice)
		require.True(t, o.OK())
		assert.Equal(t, fixedpoint.Percent(125).String(), o.Position.ICR.String())
		assert.Equal(t, domain.BandRedeemable, o.Position.Band)
	})

	t.Run("band edges", func(t *testing.T) {
		b := DefaultBands()
		assert.Equal(t, domain.BandAtRisk, b.Classify(new(big.Int).Sub(fixedpoint.Percent(110), big.NewInt(1))))
		assert.Equal(t, domain.BandRedeemable, b.Classify(fixedpoint.Percent(110)))
		assert.Equal(t, domain.BandRedeemable, b.Classify(new(big.Int).Sub(fixedpoint.Percent(150), big.NewInt(1))))
		assert.Equal(t, domain.BandSafe, b.Classify(fixedpoint.Percent(150)))
	})

	t.Run("closed keeps amounts", func(t *testing.T) {
		id := openAt(c, 1, 130)
		c.SetStatus(id, domain.StatusClosedByRedemption)
		o := ev.Evaluate(ctx, id, testPrice)
		require.True(t, o.OK())
		assert.Equal(t, domain.BandClosed, o.Position.Band)
		assert.Zero(t, o.Position.ICR.Sign())
		assert.Equal(t, fixedpoint.Ether(6000).String(), o.Position.Debt.String())
	})

	t.Run("closed with failing amounts", func(t *testing.T) {
		id := openAt(c, 2, 130)
		c.SetStatus(id, domain.StatusClosedByOwner)
		c.FailDebt(id)
		o := ev.Evaluate(ctx, id, testPrice)
		require.True(t, o.OK())
		assert.Equal(t, domain.BandClosed, o.Position.Band)
		assert.Zero(t, o.Position.Debt.Sign())
	})

	t.Run("zero debt is infinitely safe", func(t *testing.T) {
		id := simchain.AddressFor(3)
		c.Open(id, fixedpoint.Ether(1), fixedpoint.Zero())
		o := ev.Evaluate(ctx, id, testPrice)
		require.True(t, o.OK())
		assert.True(t, fixedpoint.IsInfinite(o.Position.ICR))
		assert.Equal(t, domain.BandSafe, o.Position.Band)
	})

	t.Run("zero debt and collateral is invalid", func(t *testing.T) {
		id := simchain.AddressFor(4)
		c.Open(id, fixedpoint.Zero(), fixedpoint.Zero())
		o := ev.Evaluate(ctx, id, testPrice)
		assert.Equal(t, FailureInvalid, o.Failure)
		assert.ErrorIs(t, o.Err, domain.ErrInvalidPosition)
	})

	t.Run("read failure", func(t *testing.T) {
		id := openAt(c, 5, 130)
		c.FailStatus(id)
		o := ev.Evaluate(ctx, id, testPrice)
		assert.Equal(t, FailureRead, o.Failure)
		assert.ErrorIs(t, o.Err, domain.ErrTransientRead)
	})
}

func TestScanSkipsFailedPosition(t *testing.T) {
	c := newChain()
	var ids []common.Address
	for i := 0; i < 20; i++ {
		ids = append(ids, openAt(c, i, int64(100+5*i)))
	}
	c.FailDebt(ids[7])

	res, err := NewScanner(c, DefaultConfig(), nil, testLogger()).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.ModeLive, res.Mode)
	assert.Len(t, res.Traversed, 20)
	assert.Len(t, res.Report(), 19)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped, ids[7])
	assert.Equal(t, 1, res.Counts.Unevaluable)
	assert.True(t, res.Counts.Reconciled())
}

func TestScanEmptyRegistry(t *testing.T) {
	res, err := NewScanner(newChain(), DefaultConfig(), nil, testLogger()).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeEmptyRegistry, res.Mode)
	assert.Empty(t, res.Report())
	assert.Empty(t, res.Redeemable)
	assert.True(t, res.Counts.Reconciled())
	assert.False(t, res.Degraded())
}

func TestScanSyntheticFallback(t *testing.T) {
	c := newChain()
	openAt(c, 0, 120)
	c.FailEnds()

	res, err := NewScanner(c, DefaultConfig(), nil, testLogger()).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSyntheticFallback, res.Mode)
	assert.True(t, res.Degraded())
	require.Len(t, res.Redeemable, 2)
	for _, p := range res.Report() {
		assert.True(t, p.Synthetic)
	}
	assert.Equal(t, "112.34%", fixedpoint.FormatPercent(res.Redeemable[0].ICR))
	assert.True(t, res.Counts.Reconciled())
}

func TestScanInjectedFallbackKeepsStatus(t *testing.T) {
	c := newChain()
	c.FailEnds()

	active := common.HexToAddress("0x01")
	closed := common.HexToAddress("0x02")
	source := StaticFallback{
		{ID: active, Collateral: fixedpoint.Ether(1), Debt: fixedpoint.Ether(500), ICR: fixedpoint.Percent(130)},
		{ID: closed, Status: domain.StatusClosedByOwner, Collateral: fixedpoint.Ether(1), Debt: fixedpoint.Ether(500), ICR: fixedpoint.Percent(120)},
	}

	res, err := NewScanner(c, testConfig(), source, testLogger()).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeSyntheticFallback, res.Mode)
	assert.Equal(t, 1, res.Counts.Active)
	assert.Equal(t, 1, res.Counts.Closed)
	require.Len(t, res.Redeemable, 1)
	assert.Equal(t, active, res.Redeemable[0].ID)
	require.Len(t, res.Closed, 1)
	assert.Equal(t, closed, res.Closed[0].ID)
	assert.Equal(t, domain.BandClosed, res.Closed[0].Band)
	assert.True(t, res.Counts.Reconciled())
}

func TestScanRepeatable(t *testing.T) {
	c := newChain()
	for i, pct := range []int64{125, 105, 125, 140, 105, 300, 125, 118} {
		openAt(c, i, pct)
	}
	c.SetStatus(simchain.AddressFor(5), domain.StatusClosedByRedemption)
	c.FailDebt(simchain.AddressFor(7))

	cfg := testConfig()
	cfg.Concurrency = 8
	scanner := NewScanner(c, cfg, nil, testLogger())

	first, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := scanner.Scan(context.Background())
		require.NoError(t, err)
		assert.Equal(t, first.Traversed, again.Traversed)
		assert.Equal(t, first.Redeemable, again.Redeemable)
		assert.Equal(t, first.AtRisk, again.AtRisk)
		assert.Equal(t, first.Closed, again.Closed)
		assert.Equal(t, first.Skipped, again.Skipped)
		assert.Equal(t, first.Counts, again.Counts)
	}
	assert.Equal(t, 4, first.Counts.Redeemable)
	assert.Equal(t, 2, first.Counts.AtRisk)
	assert.Equal(t, 1, first.Counts.Closed)
	assert.Equal(t, 1, first.Counts.Unevaluable)
}

func TestScanPriceFallback(t *testing.T) {
	c := newChain()
	openAt(c, 0, 120)
	c.FailPrice()

	cfg := testConfig()
	cfg.FallbackPrice = fixedpoint.Ether(30000)
	res, err := NewScanner(c, cfg, nil, testLogger()).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.ModeLive, res.Mode)
	assert.True(t, res.Price.Fallback)
	assert.True(t, res.Degraded())
	require.Len(t, res.AtRisk, 1)
	assert.Equal(t, fixedpoint.Percent(60).String(), res.AtRisk[0].ICR.String())
}

func TestScanRedeemableBand(t *testing.T) {
	faker := gofakeit.New(7)
	c := newChain()
	for i := 0; i < 60; i++ {
		openAt(c, i, int64(faker.IntRange(90, 300)))
	}

	s := NewScanner(c, testConfig(), nil, testLogger())
	res, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Traversed, 60)
	assert.True(t, res.Counts.Reconciled())

	lo, hi := fixedpoint.Percent(110), fixedpoint.Percent(150)
	for i, p := range res.Redeemable {
		assert.True(t, p.ICR.Cmp(lo) >= 0, "icr %s below band", p.ICR)
		assert.True(t, p.ICR.Cmp(hi) < 0, "icr %s above band", p.ICR)
		if i > 0 {
			assert.True(t, res.Redeemable[i-1].ICR.Cmp(p.ICR) <= 0, "not ascending at %d", i)
		}
	}
	for i := 1; i < len(res.Active); i++ {
		assert.True(t, res.Active[i-1].ICR.Cmp(res.Active[i].ICR) <= 0)
	}

	again, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ids(res.Redeemable), ids(again.Redeemable))
	assert.Equal(t, ids(res.AtRisk), ids(again.AtRisk))
	assert.Equal(t, res.Counts, again.Counts)
}

func TestScanTiesKeepTraversalOrder(t *testing.T) {
	c := newChain()
	openAt(c, 0, 130)
	openAt(c, 1, 130)
	openAt(c, 2, 130)

	res, err := NewScanner(c, testConfig(), nil, testLogger()).Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Traversed, ids(res.Redeemable))
}

func TestScanMaxEvaluate(t *testing.T) {
	c := newChain()
	for i := 0; i < 30; i++ {
		openAt(c, i, int64(111+i))
	}
	res, err := NewScanner(c, DefaultConfig(), nil, testLogger()).Scan(context.Background())
	require.NoError(t, err)

	assert.Len(t, res.Traversed, 30)
	assert.Equal(t, 30, res.Counts.Traversed)
	assert.Equal(t, 20, res.Counts.Active)
	assert.Equal(t, 10, res.Counts.Unevaluable)
	assert.True(t, res.Counts.Reconciled())
	assert.Equal(t, fixedpoint.Percent(111).String(), res.Redeemable[0].ICR.String())

	// The ids past the limit are reported, not dropped.
	for _, id := range res.Traversed[20:] {
		assert.Contains(t, res.Skipped[id], string(FailureNotEvaluated))
	}
	reported := map[common.Address]bool{}
	for _, p := range res.Report() {
		reported[p.ID] = true
	}
	for id := range res.Skipped {
		reported[id] = true
	}
	assert.Len(t, reported, 30)
}

func TestScanCancelled(t *testing.T) {
	c := newChain()
	openAt(c, 0, 130)
	openAt(c, 1, 140)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(c, testConfig(), nil, testLogger()).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSelectCountsReconcile(t *testing.T) {
	a, b, c := common.Address{1}, common.Address{2}, common.Address{3}
	sel := Select([]Outcome{
		{ID: a, Position: domain.Position{ID: a, Status: domain.StatusActive, ICR: fixedpoint.Percent(120), Band: domain.BandRedeemable}},
		{ID: b, Failure: FailureRead, Err: domain.ErrTransientRead},
		{ID: c, Position: domain.Position{ID: c, Status: domain.StatusClosedByLiquidation, ICR: fixedpoint.Zero(), Band: domain.BandClosed}},
	})
	assert.Equal(t, domain.Counts{Traversed: 3, Active: 1, Redeemable: 1, Closed: 1, Unevaluable: 1}, sel.Counts)
	assert.True(t, sel.Counts.Reconciled())
	assert.Contains(t, sel.Skipped[b], "read")
}

func TestParseDirection(t *testing.T) {
	d, err := ParseDirection("head")
	require.NoError(t, err)
	assert.Equal(t, FromSafestHead, d)
	d, err = ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, FromRiskiestTail, d)
	_, err = ParseDirection("sideways")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func ids(ps []domain.Position) []common.Address {
	out := make([]common.Address, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
