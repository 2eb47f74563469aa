package hints

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
	"github.com/alanyoungcy/trovewatch/internal/scan"
)

var (
	testPrice   = fixedpoint.Ether(60000)
	testGasComp = fixedpoint.Ether(200)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func open(c *simchain.Chain, n int, debt, pct int64) common.Address {
	id := simchain.AddressFor(n)
	c.Open(id, CollateralForRatio(fixedpoint.Ether(debt), fixedpoint.Percent(pct), testPrice), fixedpoint.Ether(debt))
	return id
}

type ladder struct {
	chain          *simchain.Chain
	a, b, cc, d, e common.Address
}

// newLadder opens, from tail to head: A 105% (below MCR), B 115%, C 120%,
// D 130%, E 200%.
func newLadder() ladder {
	c := simchain.New(testPrice, testGasComp)
	return ladder{
		chain: c,
		a:     open(c, 0, 3200, 105),
		b:     open(c, 1, 2200, 115),
		cc:    open(c, 2, 4200, 120),
		d:     open(c, 3, 5200, 130),
		e:     open(c, 4, 10200, 200),
	}
}

func newCalc(gw domain.Gateway) *Calculator {
	return NewCalculator(gw, DefaultConfig(), testLogger())
}

func TestComputeHintsPartialRedemption(t *testing.T) {
	l := newLadder()

	plan, err := newCalc(l.chain).ComputeHints(context.Background(), fixedpoint.Ether(3000), testPrice, 50)
	require.NoError(t, err)

	collC := CollateralForRatio(fixedpoint.Ether(4200), fixedpoint.Percent(120), testPrice)
	lot := new(big.Int).Quo(new(big.Int).Mul(fixedpoint.Ether(1000), fixedpoint.Scale), testPrice)
	wantNICR := fixedpoint.ComputeNominalCR(new(big.Int).Sub(collC, lot), fixedpoint.Ether(3200))

	assert.Equal(t, l.b, plan.FirstHint)
	assert.Equal(t, fixedpoint.Ether(3000).String(), plan.TruncatedAmount.String())
	assert.Equal(t, wantNICR.String(), plan.PartialHintNICR.String())
	assert.Equal(t, l.d, plan.UpperHint)
	assert.Equal(t, l.b, plan.LowerHint)
	assert.True(t, plan.Quality.Converged, plan.Quality.Reason)
	assert.False(t, plan.Empty())
}

// debtReads counts GetEntireDebtAndColl calls per position.
type debtReads struct {
	*simchain.Chain
	n map[common.Address]int
}

func (d *debtReads) GetEntireDebtAndColl(ctx context.Context, id common.Address) (domain.DebtAndColl, error) {
	d.n[id]++
	return d.Chain.GetEntireDebtAndColl(ctx, id)
}

func TestRedemptionWalkReadsEachPositionOnce(t *testing.T) {
	l := newLadder()
	gw := &debtReads{Chain: l.chain, n: map[common.Address]int{}}

	w := newCalc(gw).walkRedemption(context.Background(), l.a, fixedpoint.Ether(3000), testPrice, testGasComp, 50)

	assert.Equal(t, l.b, w.firstHint)
	assert.Equal(t, l.cc, w.partialID)
	assert.Equal(t, map[common.Address]int{l.a: 1, l.b: 1, l.cc: 1}, gw.n)
}

func TestComputeHintsInsufficientDebt(t *testing.T) {
	l := newLadder()

	plan, err := newCalc(l.chain).ComputeHints(context.Background(), fixedpoint.Ether(100000), testPrice, 50)
	require.NoError(t, err)
	assert.Equal(t, l.b, plan.FirstHint)
	assert.Equal(t, fixedpoint.Ether(2000+4000+5000+10000).String(), plan.TruncatedAmount.String())
	assert.Zero(t, plan.PartialHintNICR.Sign())
	assert.True(t, plan.Quality.Converged)
}

func TestComputeHintsExhausted(t *testing.T) {
	l := newLadder()

	plan, err := newCalc(l.chain).ComputeHints(context.Background(), fixedpoint.Ether(3000), testPrice, 1)
	require.NoError(t, err)
	assert.Equal(t, l.b, plan.FirstHint)
	assert.Equal(t, fixedpoint.Ether(2000).String(), plan.TruncatedAmount.String())
	assert.False(t, plan.Quality.Converged)
	assert.Equal(t, reasonExhausted, plan.Quality.Reason)
}

func TestComputeHintsZeroIterations(t *testing.T) {
	l := newLadder()

	plan, err := newCalc(l.chain).ComputeHints(context.Background(), fixedpoint.Ether(3000), testPrice, 0)
	require.NoError(t, err)
	assert.Equal(t, l.a, plan.FirstHint)
	assert.Equal(t, l.a, plan.ApproxHint)
	assert.False(t, plan.Quality.Converged)
	assert.Zero(t, plan.TruncatedAmount.Sign())
}

func TestComputeHintsMinNetDebt(t *testing.T) {
	c := simchain.New(testPrice, testGasComp)
	b := open(c, 0, 2000, 115)
	open(c, 1, 2000, 120)

	plan, err := newCalc(c).ComputeHints(context.Background(), fixedpoint.Ether(2500), testPrice, 50)
	require.NoError(t, err)
	assert.Equal(t, b, plan.FirstHint)
	assert.Equal(t, fixedpoint.Ether(1800).String(), plan.TruncatedAmount.String())
	assert.Zero(t, plan.PartialHintNICR.Sign())
}

func TestComputeHintsNoEligible(t *testing.T) {
	c := simchain.New(testPrice, testGasComp)
	open(c, 0, 3000, 101)
	open(c, 1, 3000, 105)

	plan, err := newCalc(c).ComputeHints(context.Background(), fixedpoint.Ether(500), testPrice, 50)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.True(t, domain.IsSentinel(plan.FirstHint))
}

func TestComputeHintsEmptyRegistry(t *testing.T) {
	plan, err := newCalc(simchain.New(testPrice, testGasComp)).ComputeHints(context.Background(), fixedpoint.Ether(10), testPrice, 10)
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	assert.Equal(t, reasonEmpty, plan.Quality.Reason)
}

func TestComputeHintsArguments(t *testing.T) {
	calc := newCalc(simchain.New(testPrice, testGasComp))
	_, err := calc.ComputeHints(context.Background(), fixedpoint.Zero(), testPrice, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = calc.ComputeHints(context.Background(), fixedpoint.Ether(1), fixedpoint.Zero(), 10)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestComputeHintsRegistryUnreachable(t *testing.T) {
	l := newLadder()
	l.chain.FailEnds()
	_, err := newCalc(l.chain).ComputeHints(context.Background(), fixedpoint.Ether(10), testPrice, 10)
	assert.ErrorIs(t, err, domain.ErrRegistryUnreachable)
}

func TestComputeHintsWithoutSampling(t *testing.T) {
	l := newLadder()
	l.chain.FailSampling()

	plan, err := newCalc(l.chain).ComputeHints(context.Background(), fixedpoint.Ether(3000), testPrice, 50)
	require.NoError(t, err)
	assert.Equal(t, l.cc, plan.ApproxHint)
	assert.Equal(t, l.d, plan.UpperHint)
	assert.Equal(t, l.b, plan.LowerHint)
	assert.True(t, plan.Quality.Converged)
}

func TestComputeHintsReproducible(t *testing.T) {
	faker := gofakeit.New(11)
	c := simchain.New(testPrice, testGasComp)
	for i := 0; i < 40; i++ {
		open(c, i, int64(faker.IntRange(2500, 20000)), int64(faker.IntRange(100, 250)))
	}

	calc := newCalc(c)
	first, err := calc.ComputeHints(context.Background(), fixedpoint.Ether(7000), testPrice, 30)
	require.NoError(t, err)
	second, err := calc.ComputeHints(context.Background(), fixedpoint.Ether(7000), testPrice, 30)
	require.NoError(t, err)

	assert.Equal(t, first.FirstHint, second.FirstHint)
	assert.Equal(t, first.ApproxHint, second.ApproxHint)
	assert.Equal(t, first.UpperHint, second.UpperHint)
	assert.Equal(t, first.LowerHint, second.LowerHint)
	assert.Equal(t, first.TruncatedAmount.String(), second.TruncatedAmount.String())
	assert.Equal(t, first.PartialHintNICR.String(), second.PartialHintNICR.String())
	assert.Equal(t, first.Quality, second.Quality)

	s1, err := c.GetApproxHint(context.Background(), fixedpoint.Ether(2), 15, big.NewInt(42))
	require.NoError(t, err)
	s2, err := c.GetApproxHint(context.Background(), fixedpoint.Ether(2), 15, big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, s1.ID, s2.ID)
	assert.Equal(t, s1.NextSeed.String(), s2.NextSeed.String())
}

func TestNewPositionNICR(t *testing.T) {
	debt := fixedpoint.Ether(2000)
	coll := CollateralForRatio(debt, fixedpoint.Percent(120), testPrice)
	assert.Equal(t, "40000000000000000", coll.String())

	icr := fixedpoint.ComputeCR(coll, debt, testPrice)
	assert.Equal(t, fixedpoint.Percent(120).String(), icr.String())
	assert.Equal(t, domain.BandRedeemable, scan.DefaultBands().Classify(icr))

	fee := new(big.Int).Div(fixedpoint.Scale, big.NewInt(100))
	nicr := NewPositionNICR(debt, fee, testGasComp, coll)
	total := new(big.Int).Add(debt, fee)
	total.Add(total, testGasComp)
	assert.Equal(t, fixedpoint.ComputeNominalCR(coll, total).String(), nicr.String())
	assert.True(t, nicr.Cmp(fixedpoint.ComputeNominalCR(coll, debt)) < 0)
}

func TestInsertHints(t *testing.T) {
	faker := gofakeit.New(3)
	c := simchain.New(testPrice, testGasComp)
	for i := 0; i < 30; i++ {
		open(c, i, int64(faker.IntRange(2000, 9000)), int64(faker.IntRange(105, 400)))
	}
	calc := newCalc(c)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		target := fixedpoint.ComputeNominalCR(fixedpoint.Percent(int64(faker.IntRange(100, 420))), fixedpoint.Ether(60000))
		wantUpper, wantLower, err := c.FindInsertPosition(ctx, target, common.Address{}, common.Address{})
		require.NoError(t, err)

		pos, err := calc.InsertHints(ctx, target, 100)
		require.NoError(t, err)
		assert.Equal(t, wantUpper, pos.Upper)
		assert.Equal(t, wantLower, pos.Lower)
		assert.True(t, pos.Quality.Converged)

		res := calc.walk(ctx, target, pos.Approx, common.Address{}, 100)
		require.True(t, res.quality.Converged)
		assert.Equal(t, wantUpper, res.upper)
		assert.Equal(t, wantLower, res.lower)
		if !domain.IsSentinel(res.upper) {
			assert.True(t, c.NICR(res.upper).Cmp(target) >= 0)
		}
		if !domain.IsSentinel(res.lower) {
			assert.True(t, c.NICR(res.lower).Cmp(target) < 0)
		}
	}
}

func TestInsertHintsLocalFallback(t *testing.T) {
	l := newLadder()
	target := NewPositionNICR(fixedpoint.Ether(2000), nil, testGasComp,
		CollateralForRatio(fixedpoint.Ether(2200), fixedpoint.Percent(125), testPrice))
	l.chain.FailInsertPosition()

	pos, err := newCalc(l.chain).InsertHints(context.Background(), target, 10)
	require.NoError(t, err)
	assert.Equal(t, l.d, pos.Upper)
	assert.Equal(t, l.cc, pos.Lower)
	assert.True(t, pos.Quality.Converged)

	_, err = newCalc(l.chain).InsertHints(context.Background(), fixedpoint.Zero(), 10)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
