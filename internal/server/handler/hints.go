package handler

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
	"github.com/alanyoungcy/trovewatch/internal/hints"
	"github.com/alanyoungcy/trovewatch/internal/service"
)

// RedemptionService is the planning and submission surface.
type RedemptionService interface {
	Plan(ctx context.Context, amount *big.Int, maxIterations uint64) (domain.RedemptionPlan, error)
	InsertHints(ctx context.Context, coll, borrow, fee *big.Int, maxIterations uint64) (hints.InsertPosition, error)
	Redeem(ctx context.Context, amount *big.Int) (service.RedemptionResult, error)
}

// HintHandler serves redemption and insertion hints. Amounts in requests are
// human decimals ("1500.25").
type HintHandler struct {
	redemptions RedemptionService
	allowRedeem bool
	logger      *slog.Logger
}

// NewHintHandler creates a HintHandler. Redeem is refused unless allowRedeem.
func NewHintHandler(redemptions RedemptionService, allowRedeem bool, logger *slog.Logger) *HintHandler {
	return &HintHandler{
		redemptions: redemptions,
		allowRedeem: allowRedeem,
		logger:      logger.With(slog.String("handler", "hints")),
	}
}

type redemptionRequest struct {
	Amount        string `json:"amount"`
	MaxIterations uint64 `json:"max_iterations"`
}

type insertRequest struct {
	Collateral    string `json:"collateral"`
	Debt          string `json:"debt"`
	Fee           string `json:"fee"`
	MaxIterations uint64 `json:"max_iterations"`
}

func parsePositive(field, s string) (*big.Int, error) {
	v, err := fixedpoint.ParseAmount(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %q is not a decimal amount: %w", field, s, domain.ErrInvalidArgument)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("%s must be positive: %w", field, domain.ErrInvalidArgument)
	}
	return v, nil
}

// Redemption computes a redemption plan.
// POST /api/hints/redemption
func (h *HintHandler) Redemption(w http.ResponseWriter, r *http.Request) {
	var req redemptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parsePositive("amount", req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	plan, err := h.redemptions.Plan(r.Context(), amount, req.MaxIterations)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newPlanView(plan))
}

// Insert computes insertion hints for a new position.
// POST /api/hints/insert
func (h *HintHandler) Insert(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	coll, err := parsePositive("collateral", req.Collateral)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	debt, err := parsePositive("debt", req.Debt)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	var fee *big.Int
	if req.Fee != "" {
		if fee, err = fixedpoint.ParseAmount(req.Fee); err != nil || fee.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "fee must be a non-negative decimal amount")
			return
		}
	}

	pos, err := h.redemptions.InsertHints(r.Context(), coll, debt, fee, req.MaxIterations)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newInsertView(pos))
}

// Redeem plans and submits a redemption.
// POST /api/redeem
func (h *HintHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	if !h.allowRedeem {
		writeError(w, http.StatusForbidden, "redemption submission is disabled")
		return
	}
	var req redemptionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parsePositive("amount", req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	res, err := h.redemptions.Redeem(r.Context(), amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tx_hash": res.TxHash.Hex(),
		"plan":    newPlanView(res.Plan),
	})
}
