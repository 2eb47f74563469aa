package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

// maxListed caps how many positions one alert lists.
const maxListed = 5

// ScanAlerts sends the alerts a finished scan warrants: degraded mode,
// redeemable positions and at-risk positions.
func (n *Notifier) ScanAlerts(ctx context.Context, result domain.ScanResult) error {
	if !n.Enabled() {
		return nil
	}
	var firstErr error
	send := func(event, title, msg string) {
		if err := n.Notify(ctx, event, title, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if result.Degraded() {
		send(EventDegraded, "Scan degraded", DegradedMessage(result))
	}
	if result.Mode == domain.ModeSyntheticFallback {
		return firstErr
	}
	if len(result.Redeemable) > 0 {
		send(EventRedeemable,
			fmt.Sprintf("%d redeemable positions", len(result.Redeemable)),
			PositionsMessage(result.Redeemable))
	}
	if len(result.AtRisk) > 0 {
		send(EventAtRisk,
			fmt.Sprintf("%d positions below MCR", len(result.AtRisk)),
			PositionsMessage(result.AtRisk))
	}
	return firstErr
}

// RedemptionAlert reports a submitted or failed redemption.
func (n *Notifier) RedemptionAlert(ctx context.Context, plan domain.RedemptionPlan, tx common.Hash, submitErr error) error {
	if submitErr != nil {
		return n.Notify(ctx, EventRedemptionFail, "Redemption failed",
			fmt.Sprintf("amount %s MUSD at block %d: %v",
				fixedpoint.FormatAmount(plan.TruncatedAmount, 2), plan.BlockNumber, submitErr))
	}
	return n.Notify(ctx, EventRedemption, "Redemption submitted", RedemptionMessage(plan, tx))
}

// PositionsMessage lists up to five positions in the given order.
func PositionsMessage(positions []domain.Position) string {
	var b strings.Builder
	for i, pos := range positions {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(positions)-maxListed)
			break
		}
		fmt.Fprintf(&b, "`%s` ICR %s debt %s coll %s\n",
			shortAddress(pos.ID),
			fixedpoint.FormatPercent(pos.ICR),
			fixedpoint.FormatAmount(pos.Debt, 2),
			fixedpoint.FormatAmount(pos.Collateral, 4),
		)
	}
	return strings.TrimRight(b.String(), "\n")
}

// DegradedMessage explains which fallback a scan used.
func DegradedMessage(result domain.ScanResult) string {
	var parts []string
	if result.Mode == domain.ModeSyntheticFallback {
		parts = append(parts, "registry unreachable, synthetic positions reported")
	}
	if result.Price.Fallback {
		parts = append(parts, "oracle unavailable, fallback price "+fixedpoint.FormatAmount(result.Price.Value, 2))
	}
	return fmt.Sprintf("scan %s: %s", result.ID, strings.Join(parts, "; "))
}

// RedemptionMessage summarises a submitted plan.
func RedemptionMessage(plan domain.RedemptionPlan, tx common.Hash) string {
	return fmt.Sprintf("tx `%s`\namount %s MUSD (requested %s)\nfirst hint `%s`\nblock %d, hints converged: %t",
		tx.Hex(),
		fixedpoint.FormatAmount(plan.TruncatedAmount, 2),
		fixedpoint.FormatAmount(plan.TargetAmount, 2),
		shortAddress(plan.FirstHint),
		plan.BlockNumber,
		plan.Quality.Converged,
	)
}

func shortAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}
