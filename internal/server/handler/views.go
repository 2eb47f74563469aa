package handler

import (
	"math/big"
	"time"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
	"github.com/alanyoungcy/trovewatch/internal/hints"
)

// positionView renders amounts as decimal strings.
type positionView struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Band       string `json:"band"`
	ICR        string `json:"icr"`
	Debt       string `json:"debt"`
	Collateral string `json:"collateral"`
	Synthetic  bool   `json:"synthetic,omitempty"`
}

type scanView struct {
	ID            string            `json:"id"`
	Mode          domain.ScanMode   `json:"mode"`
	Degraded      bool              `json:"degraded"`
	Price         string            `json:"price"`
	PriceFallback bool              `json:"price_fallback"`
	BlockNumber   uint64            `json:"block_number"`
	Counts        domain.Counts     `json:"counts"`
	Redeemable    []positionView    `json:"redeemable"`
	AtRisk        []positionView    `json:"at_risk"`
	Report        []positionView    `json:"report"`
	Skipped       map[string]string `json:"skipped"`
	StartedAt     time.Time         `json:"started_at"`
	DurationMS    int64             `json:"duration_ms"`
}

type summaryView struct {
	ID            string          `json:"id"`
	Mode          domain.ScanMode `json:"mode"`
	Price         string          `json:"price"`
	PriceFallback bool            `json:"price_fallback"`
	BlockNumber   uint64          `json:"block_number"`
	Counts        domain.Counts   `json:"counts"`
	StartedAt     time.Time       `json:"started_at"`
	DurationMS    int64           `json:"duration_ms"`
}

type planView struct {
	TargetAmount    string             `json:"target_amount"`
	TruncatedAmount string             `json:"truncated_amount"`
	FirstHint       string             `json:"first_hint"`
	PartialHintNICR string             `json:"partial_hint_nicr"`
	ApproxHint      string             `json:"approx_hint"`
	UpperHint       string             `json:"upper_hint"`
	LowerHint       string             `json:"lower_hint"`
	Price           string             `json:"price"`
	BlockNumber     uint64             `json:"block_number"`
	Quality         domain.HintQuality `json:"quality"`
}

type insertView struct {
	NICR       string             `json:"nicr"`
	ApproxHint string             `json:"approx_hint"`
	UpperHint  string             `json:"upper_hint"`
	LowerHint  string             `json:"lower_hint"`
	Quality    domain.HintQuality `json:"quality"`
}

func newPositionViews(ps []domain.Position) []positionView {
	out := make([]positionView, 0, len(ps))
	for _, p := range ps {
		out = append(out, positionView{
			ID:         p.ID.Hex(),
			Status:     p.Status.String(),
			Band:       string(p.Band),
			ICR:        fixedpoint.FormatPercent(p.ICR),
			Debt:       fixedpoint.FormatAmount(p.Debt, 2),
			Collateral: fixedpoint.FormatAmount(p.Collateral, 6),
			Synthetic:  p.Synthetic,
		})
	}
	return out
}

func newScanView(r domain.ScanResult) scanView {
	skipped := make(map[string]string, len(r.Skipped))
	for id, reason := range r.Skipped {
		skipped[id.Hex()] = reason
	}
	return scanView{
		ID:            r.ID,
		Mode:          r.Mode,
		Degraded:      r.Degraded(),
		Price:         fixedpoint.FormatAmount(r.Price.Value, 2),
		PriceFallback: r.Price.Fallback,
		BlockNumber:   r.BlockNumber,
		Counts:        r.Counts,
		Redeemable:    newPositionViews(r.Redeemable),
		AtRisk:        newPositionViews(r.AtRisk),
		Report:        newPositionViews(r.Report()),
		Skipped:       skipped,
		StartedAt:     r.StartedAt,
		DurationMS:    r.Duration.Milliseconds(),
	}
}

func newSummaryViews(ss []domain.ScanSummary) []summaryView {
	out := make([]summaryView, 0, len(ss))
	for _, s := range ss {
		price := s.Price
		if v, err := fixedpoint.ParseAmount(s.Price); err == nil {
			price = fixedpoint.FormatAmount(v, 2)
		}
		out = append(out, summaryView{
			ID:            s.ID,
			Mode:          s.Mode,
			Price:         price,
			PriceFallback: s.PriceFallback,
			BlockNumber:   s.BlockNumber,
			Counts:        s.Counts,
			StartedAt:     s.StartedAt,
			DurationMS:    s.Duration.Milliseconds(),
		})
	}
	return out
}

// raw renders a fixed point value as its integer string, the form contract
// calls take.
func raw(v *big.Int) string {
	return fixedpoint.OrZero(v).String()
}

func newPlanView(p domain.RedemptionPlan) planView {
	return planView{
		TargetAmount:    raw(p.TargetAmount),
		TruncatedAmount: raw(p.TruncatedAmount),
		FirstHint:       p.FirstHint.Hex(),
		PartialHintNICR: raw(p.PartialHintNICR),
		ApproxHint:      p.ApproxHint.Hex(),
		UpperHint:       p.UpperHint.Hex(),
		LowerHint:       p.LowerHint.Hex(),
		Price:           raw(p.Price),
		BlockNumber:     p.BlockNumber,
		Quality:         p.Quality,
	}
}

func newInsertView(p hints.InsertPosition) insertView {
	return insertView{
		NICR:       raw(p.NICR),
		ApproxHint: p.Approx.Hex(),
		UpperHint:  p.Upper.Hex(),
		LowerHint:  p.Lower.Hex(),
		Quality:    p.Quality,
	}
}
