package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/observability/metrics"
)

// DefaultGasLimit is the fixed gas limit for redeemCollateral.
const DefaultGasLimit uint64 = 3_000_000

// TxBackend is the subset of *ethclient.Client needed to send a transaction.
type TxBackend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// TxSigner signs transactions for one wallet.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// Submitter sends redeemCollateral transactions to the TroveManager.
type Submitter struct {
	backend      TxBackend
	signer       TxSigner
	troveManager common.Address
	gasLimit     uint64
	logger       *slog.Logger
}

// NewSubmitter creates a Submitter. A zero gasLimit uses DefaultGasLimit.
func NewSubmitter(backend TxBackend, signer TxSigner, troveManager common.Address, gasLimit uint64, logger *slog.Logger) *Submitter {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &Submitter{
		backend:      backend,
		signer:       signer,
		troveManager: troveManager,
		gasLimit:     gasLimit,
		logger:       logger.With(slog.String("component", "redemption_submitter")),
	}
}

// PackRedemption encodes the redeemCollateral call for plan.
func PackRedemption(plan domain.RedemptionPlan, maxIterations uint64, maxFeePercentage *big.Int) ([]byte, error) {
	if plan.Empty() {
		return nil, fmt.Errorf("chain: pack redeemCollateral: empty plan: %w", domain.ErrInvalidArgument)
	}
	partial := plan.PartialHintNICR
	if partial == nil {
		partial = new(big.Int)
	}
	data, err := troveManagerContract.Pack("redeemCollateral",
		plan.TruncatedAmount,
		plan.FirstHint,
		plan.UpperHint,
		plan.LowerHint,
		partial,
		new(big.Int).SetUint64(maxIterations),
		maxFeePercentage,
	)
	if err != nil {
		return nil, fmt.Errorf("chain: pack redeemCollateral: %w", err)
	}
	return data, nil
}

// SubmitRedemption implements domain.RedemptionSubmitter. It is never retried;
// a rejected plan has to be recomputed from a fresh scan.
func (s *Submitter) SubmitRedemption(ctx context.Context, plan domain.RedemptionPlan, maxIterations uint64, maxFeePercentage *big.Int) (common.Hash, error) {
	hash, err := s.submit(ctx, plan, maxIterations, maxFeePercentage)
	metrics.RecordSubmission(err != nil)
	return hash, err
}

func (s *Submitter) submit(ctx context.Context, plan domain.RedemptionPlan, maxIterations uint64, maxFeePercentage *big.Int) (common.Hash, error) {
	data, err := PackRedemption(plan, maxIterations, maxFeePercentage)
	if err != nil {
		return common.Hash{}, err
	}

	from := s.signer.Address()
	nonce, err := s.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: pending nonce: %w: %w", domain.ErrSubmission, err)
	}
	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: gas price: %w: %w", domain.ErrSubmission, err)
	}

	to := s.troveManager
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    new(big.Int),
		Gas:      s.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := s.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign redemption: %w", err)
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("chain: send redemption: %w: %w", domain.ErrSubmission, err)
	}

	s.logger.InfoContext(ctx, "redemption submitted",
		slog.String("tx", signed.Hash().Hex()),
		slog.String("from", from.Hex()),
		slog.String("amount", plan.TruncatedAmount.String()),
		slog.String("first_hint", plan.FirstHint.Hex()),
		slog.Uint64("nonce", nonce),
	)
	return signed.Hash(), nil
}

var _ domain.RedemptionSubmitter = (*Submitter)(nil)
