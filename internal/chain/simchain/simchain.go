// Package simchain is an in-memory stand-in for the lending protocol's
// contracts. It keeps positions sorted by NICR exactly like the on-chain
// registry and supports fault injection so callers can exercise every
// degraded path deterministically.
package simchain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

// Trove is one simulated position.
type Trove struct {
	ID          common.Address
	Status      domain.Status
	Debt        *big.Int
	Coll        *big.Int
	PendingDebt *big.Int
	PendingColl *big.Int
}

func (t *Trove) entireDebt() *big.Int {
	return new(big.Int).Add(t.Debt, fixedpoint.OrZero(t.PendingDebt))
}

func (t *Trove) entireColl() *big.Int {
	return new(big.Int).Add(t.Coll, fixedpoint.OrZero(t.PendingColl))
}

func (t *Trove) nicr() *big.Int {
	return fixedpoint.ComputeNominalCR(t.entireColl(), t.entireDebt())
}

// Chain implements domain.Gateway and domain.RedemptionSubmitter in memory.
type Chain struct {
	mu      sync.RWMutex
	price   *big.Int
	gasComp *big.Int
	block   uint64

	troves map[common.Address]*Trove
	owners []common.Address // insertion order, the TroveOwners array
	sorted []common.Address // head (highest NICR) first

	failPrice    bool
	failEnds     bool
	failSample   bool
	failInsert   bool
	failStatus   map[common.Address]bool
	failDebt     map[common.Address]bool
	failStep     map[common.Address]bool
	nextOverride map[common.Address]common.Address
	prevOverride map[common.Address]common.Address

	reads     int
	submitted []domain.RedemptionPlan
}

// New returns an empty chain with the given oracle price and gas compensation.
func New(price, gasComp *big.Int) *Chain {
	return &Chain{
		price:        new(big.Int).Set(price),
		gasComp:      new(big.Int).Set(gasComp),
		block:        1,
		troves:       make(map[common.Address]*Trove),
		failStatus:   make(map[common.Address]bool),
		failDebt:     make(map[common.Address]bool),
		failStep:     make(map[common.Address]bool),
		nextOverride: make(map[common.Address]common.Address),
		prevOverride: make(map[common.Address]common.Address),
	}
}

// AddressFor derives a deterministic non-zero address from n.
func AddressFor(n int) common.Address {
	return common.BigToAddress(new(big.Int).SetUint64(uint64(n) + 0x1000))
}

// Open inserts an active position and re-sorts the registry.
func (c *Chain) Open(id common.Address, coll, debt *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.troves[id]; !ok {
		c.owners = append(c.owners, id)
	}
	c.troves[id] = &Trove{
		ID:     id,
		Status: domain.StatusActive,
		Debt:   new(big.Int).Set(debt),
		Coll:   new(big.Int).Set(coll),
	}
	c.resort()
}

// SetPending attaches pending redistribution rewards to a position.
func (c *Chain) SetPending(id common.Address, coll, debt *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.troves[id]; ok {
		t.PendingColl = new(big.Int).Set(coll)
		t.PendingDebt = new(big.Int).Set(debt)
		c.resort()
	}
}

// SetStatus changes a position's ledger status without unlinking it, which
// models a position closed between traversal and evaluation.
func (c *Chain) SetStatus(id common.Address, status domain.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.troves[id]; ok {
		t.Status = status
	}
}

// SetPrice replaces the oracle price.
func (c *Chain) SetPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.price = new(big.Int).Set(price)
}

// AdvanceBlock moves the simulated chain head forward.
func (c *Chain) AdvanceBlock() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.block++
}

// FailPrice makes FetchPrice fail.
func (c *Chain) FailPrice() { c.mu.Lock(); c.failPrice = true; c.mu.Unlock() }

// FailEnds makes GetFirst and GetLast fail.
func (c *Chain) FailEnds() { c.mu.Lock(); c.failEnds = true; c.mu.Unlock() }

// FailSampling makes GetApproxHint fail.
func (c *Chain) FailSampling() { c.mu.Lock(); c.failSample = true; c.mu.Unlock() }

// FailInsertPosition makes FindInsertPosition fail.
func (c *Chain) FailInsertPosition() { c.mu.Lock(); c.failInsert = true; c.mu.Unlock() }

// FailStatus makes GetTroveStatus fail for id.
func (c *Chain) FailStatus(id common.Address) { c.mu.Lock(); c.failStatus[id] = true; c.mu.Unlock() }

// FailDebt makes GetEntireDebtAndColl fail for id.
func (c *Chain) FailDebt(id common.Address) { c.mu.Lock(); c.failDebt[id] = true; c.mu.Unlock() }

// FailStep makes GetNext and GetPrev fail when called with id.
func (c *Chain) FailStep(id common.Address) { c.mu.Lock(); c.failStep[id] = true; c.mu.Unlock() }

// LinkNext overrides the successor of id, e.g. to build a cycle.
func (c *Chain) LinkNext(id, next common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextOverride[id] = next
}

// LinkPrev overrides the predecessor of id.
func (c *Chain) LinkPrev(id, prev common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prevOverride[id] = prev
}

// Sorted returns the registry order, head first.
func (c *Chain) Sorted() []common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]common.Address(nil), c.sorted...)
}

// NICR returns the nominal ratio the registry keys id on.
func (c *Chain) NICR(id common.Address) *big.Int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.troves[id]; ok {
		return t.nicr()
	}
	return fixedpoint.Zero()
}

// Reads reports how many remote reads were served.
func (c *Chain) Reads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reads
}

// Submitted returns every plan passed to SubmitRedemption.
func (c *Chain) Submitted() []domain.RedemptionPlan {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.RedemptionPlan(nil), c.submitted...)
}

func (c *Chain) resort() {
	c.sorted = c.sorted[:0]
	for _, id := range c.owners {
		if c.troves[id].Status == domain.StatusActive {
			c.sorted = append(c.sorted, id)
		}
	}
	sort.SliceStable(c.sorted, func(i, j int) bool {
		return c.troves[c.sorted[i]].nicr().Cmp(c.troves[c.sorted[j]].nicr()) > 0
	})
}

func (c *Chain) indexOf(id common.Address) int {
	for i, s := range c.sorted {
		if s == id {
			return i
		}
	}
	return -1
}

func readErr(op string, id common.Address) error {
	return fmt.Errorf("simchain: %s %s: %w", op, id.Hex(), domain.ErrTransientRead)
}

// FetchPrice implements domain.PriceOracle.
func (c *Chain) FetchPrice(_ context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failPrice {
		return nil, fmt.Errorf("simchain: fetch price: %w", domain.ErrOracleUnavailable)
	}
	return new(big.Int).Set(c.price), nil
}

// GetFirst implements domain.SortedRegistry.
func (c *Chain) GetFirst(_ context.Context) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failEnds {
		return domain.ZeroAddress, readErr("getFirst", domain.ZeroAddress)
	}
	if len(c.sorted) == 0 {
		return domain.ZeroAddress, nil
	}
	return c.sorted[0], nil
}

// GetLast implements domain.SortedRegistry.
func (c *Chain) GetLast(_ context.Context) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failEnds {
		return domain.ZeroAddress, readErr("getLast", domain.ZeroAddress)
	}
	if len(c.sorted) == 0 {
		return domain.ZeroAddress, nil
	}
	return c.sorted[len(c.sorted)-1], nil
}

// GetNext implements domain.SortedRegistry. Next moves toward the tail.
func (c *Chain) GetNext(_ context.Context, id common.Address) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failStep[id] {
		return domain.ZeroAddress, readErr("getNext", id)
	}
	if next, ok := c.nextOverride[id]; ok {
		return next, nil
	}
	i := c.indexOf(id)
	if i < 0 || i+1 >= len(c.sorted) {
		return domain.ZeroAddress, nil
	}
	return c.sorted[i+1], nil
}

// GetPrev implements domain.SortedRegistry. Prev moves toward the head.
func (c *Chain) GetPrev(_ context.Context, id common.Address) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failStep[id] {
		return domain.ZeroAddress, readErr("getPrev", id)
	}
	if prev, ok := c.prevOverride[id]; ok {
		return prev, nil
	}
	i := c.indexOf(id)
	if i <= 0 {
		return domain.ZeroAddress, nil
	}
	return c.sorted[i-1], nil
}

// FindInsertPosition implements domain.SortedRegistry with a full scan. The
// hints are ignored; the answer is always exact.
func (c *Chain) FindInsertPosition(_ context.Context, nicr *big.Int, _, _ common.Address) (common.Address, common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failInsert {
		return domain.ZeroAddress, domain.ZeroAddress, readErr("findInsertPosition", domain.ZeroAddress)
	}
	upper := domain.ZeroAddress
	for _, id := range c.sorted {
		if c.troves[id].nicr().Cmp(nicr) < 0 {
			return upper, id, nil
		}
		upper = id
	}
	return upper, domain.ZeroAddress, nil
}

// GetTroveStatus implements domain.PositionLedger.
func (c *Chain) GetTroveStatus(_ context.Context, id common.Address) (domain.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failStatus[id] {
		return domain.StatusNonExistent, readErr("getTroveStatus", id)
	}
	t, ok := c.troves[id]
	if !ok {
		return domain.StatusNonExistent, nil
	}
	return t.Status, nil
}

// GetEntireDebtAndColl implements domain.PositionLedger.
func (c *Chain) GetEntireDebtAndColl(_ context.Context, id common.Address) (domain.DebtAndColl, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failDebt[id] {
		return domain.DebtAndColl{}, readErr("getEntireDebtAndColl", id)
	}
	t, ok := c.troves[id]
	if !ok {
		return domain.DebtAndColl{
			Debt:              fixedpoint.Zero(),
			Coll:              fixedpoint.Zero(),
			PendingDebtReward: fixedpoint.Zero(),
			PendingCollReward: fixedpoint.Zero(),
		}, nil
	}
	return domain.DebtAndColl{
		Debt:              t.entireDebt(),
		Coll:              t.entireColl(),
		PendingDebtReward: new(big.Int).Set(fixedpoint.OrZero(t.PendingDebt)),
		PendingCollReward: new(big.Int).Set(fixedpoint.OrZero(t.PendingColl)),
	}, nil
}

// GasCompensation implements domain.PositionLedger.
func (c *Chain) GasCompensation(_ context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	return new(big.Int).Set(c.gasComp), nil
}

// GetApproxHint implements domain.HintSampler using the same keccak seeded
// sampling as the protocol's HintHelpers contract.
func (c *Chain) GetApproxHint(_ context.Context, nicr *big.Int, numTrials uint64, seed *big.Int) (domain.ApproxHint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.failSample {
		return domain.ApproxHint{}, readErr("getApproxHint", domain.ZeroAddress)
	}
	latest := new(big.Int).Set(seed)
	if len(c.sorted) == 0 {
		return domain.ApproxHint{ID: domain.ZeroAddress, Diff: fixedpoint.Zero(), NextSeed: latest}, nil
	}

	hint := c.sorted[len(c.sorted)-1]
	diff := absDiff(c.troves[hint].nicr(), nicr)
	for i := uint64(1); i < numTrials; i++ {
		latest = new(big.Int).SetBytes(crypto.Keccak256(common.LeftPadBytes(latest.Bytes(), 32)))
		idx := new(big.Int).Mod(latest, big.NewInt(int64(len(c.owners)))).Int64()
		candidate := c.owners[idx]
		t := c.troves[candidate]
		if t.Status != domain.StatusActive {
			continue
		}
		if d := absDiff(t.nicr(), nicr); d.Cmp(diff) < 0 {
			diff = d
			hint = candidate
		}
	}
	return domain.ApproxHint{ID: hint, Diff: diff, NextSeed: latest}, nil
}

// BlockNumber implements domain.BlockSource.
func (c *Chain) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.block, nil
}

// SubmitRedemption implements domain.RedemptionSubmitter by recording the
// plan and returning a deterministic hash.
func (c *Chain) SubmitRedemption(_ context.Context, plan domain.RedemptionPlan, _ uint64, _ *big.Int) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, plan)
	return crypto.Keccak256Hash(big.NewInt(int64(len(c.submitted))).Bytes()), nil
}

func absDiff(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Abs(d)
}

var (
	_ domain.Gateway             = (*Chain)(nil)
	_ domain.RedemptionSubmitter = (*Chain)(nil)
)
