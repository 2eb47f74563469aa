package scan

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/domain"
)

// Selection is the classified view of one batch of outcomes.
type Selection struct {
	Active     []domain.Position
	Redeemable []domain.Position
	AtRisk     []domain.Position
	Closed     []domain.Position
	Skipped    map[common.Address]string
	Counts     domain.Counts
}

// Select groups outcomes given in traversal order. Every list is sorted
// ascending by ICR with ties kept in traversal order; Closed keeps traversal
// order.
func Select(outcomes []Outcome) Selection {
	sel := Selection{
		Active:     []domain.Position{},
		Redeemable: []domain.Position{},
		AtRisk:     []domain.Position{},
		Closed:     []domain.Position{},
		Skipped:    map[common.Address]string{},
	}
	sel.Counts.Traversed = len(outcomes)

	for _, o := range outcomes {
		if !o.OK() {
			sel.Skipped[o.ID] = string(o.Failure) + ": " + o.Err.Error()
			sel.Counts.Unevaluable++
			continue
		}
		p := o.Position
		if !p.Status.IsActive() {
			sel.Closed = append(sel.Closed, p)
			continue
		}
		sel.Active = append(sel.Active, p)
		switch p.Band {
		case domain.BandRedeemable:
			sel.Redeemable = append(sel.Redeemable, p)
		case domain.BandAtRisk:
			sel.AtRisk = append(sel.AtRisk, p)
		case domain.BandSafe:
			sel.Counts.Safe++
		}
	}

	sortByICR(sel.Active)
	sortByICR(sel.Redeemable)
	sortByICR(sel.AtRisk)

	sel.Counts.Active = len(sel.Active)
	sel.Counts.Redeemable = len(sel.Redeemable)
	sel.Counts.AtRisk = len(sel.AtRisk)
	sel.Counts.Closed = len(sel.Closed)
	return sel
}

func sortByICR(ps []domain.Position) {
	sort.SliceStable(ps, func(i, j int) bool {
		return ps[i].ICR.Cmp(ps[j].ICR) < 0
	})
}
