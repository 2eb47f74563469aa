// Package chain reads the lending protocol's contracts over JSON-RPC and
// submits redemption transactions.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/observability/metrics"
)

// Backend is the subset of *ethclient.Client the gateway reads through.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Options tunes every remote call.
type Options struct {
	CallTimeout   time.Duration
	MaxRetries    uint
	RetryInterval time.Duration
}

// Gateway implements domain.Gateway against deployed contracts.
type Gateway struct {
	backend   Backend
	contracts Contracts
	opts      Options
	block     *big.Int // nil reads latest
	logger    *slog.Logger
}

// NewGateway creates a Gateway reading the latest block.
func NewGateway(backend Backend, contracts Contracts, opts Options, logger *slog.Logger) *Gateway {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Second
	}
	return &Gateway{
		backend:   backend,
		contracts: contracts,
		opts:      opts,
		logger:    logger.With(slog.String("component", "chain_gateway")),
	}
}

// At returns a view of the gateway whose reads are pinned to block, so a
// scan and the hints derived from it observe one snapshot.
func (g *Gateway) At(block uint64) domain.Gateway {
	pinned := *g
	pinned.block = new(big.Int).SetUint64(block)
	return &pinned
}

// Contracts returns the configured deployment.
func (g *Gateway) Contracts() Contracts {
	return g.contracts
}

func runWithMetrics[T any](method string, f func() (T, error)) (T, error) {
	start := time.Now()
	v, err := f()
	metrics.RecordRPCLatency(time.Since(start), method, err != nil)
	return v, err
}

// callWithRetry retries a single read with a per-attempt timeout.
func callWithRetry[T any](ctx context.Context, g *Gateway, method string, call func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoWithData(
		func() (T, error) {
			return runWithMetrics(method, func() (T, error) {
				callCtx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
				defer cancel()
				return call(callCtx)
			})
		},
		retry.Context(ctx),
		retry.Attempts(g.opts.MaxRetries),
		retry.Delay(g.opts.RetryInterval),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Debug("retrying contract call",
				slog.String("method", method),
				slog.Uint64("attempt", uint64(n+1)),
				slog.String("error", err.Error()),
			)
		}),
	)
}

// call packs, executes and unpacks one view method.
func (g *Gateway) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}

	raw, err := callWithRetry(ctx, g, method, func(ctx context.Context) ([]byte, error) {
		return g.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, g.block)
	})
	if err != nil {
		return nil, fmt.Errorf("chain: %s: %w: %w", method, domain.ErrTransientRead, err)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w: %w", method, domain.ErrTransientRead, err)
	}
	return out, nil
}

func (g *Gateway) callAddress(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (common.Address, error) {
	out, err := g.call(ctx, contract, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("chain: %s: unexpected output %T: %w", method, out[0], domain.ErrTransientRead)
	}
	return addr, nil
}

func (g *Gateway) callUint(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	out, err := g.call(ctx, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s: unexpected output %T: %w", method, out[0], domain.ErrTransientRead)
	}
	return v, nil
}

// FetchPrice implements domain.PriceOracle.
func (g *Gateway) FetchPrice(ctx context.Context) (*big.Int, error) {
	price, err := g.callUint(ctx, priceFeedContract, g.contracts.PriceFeed, "fetchPrice")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("chain: fetchPrice returned %s: %w", price, domain.ErrOracleUnavailable)
	}
	return price, nil
}

// GetFirst implements domain.SortedRegistry.
func (g *Gateway) GetFirst(ctx context.Context) (common.Address, error) {
	return g.callAddress(ctx, sortedTrovesContract, g.contracts.SortedTroves, "getFirst")
}

// GetLast implements domain.SortedRegistry.
func (g *Gateway) GetLast(ctx context.Context) (common.Address, error) {
	return g.callAddress(ctx, sortedTrovesContract, g.contracts.SortedTroves, "getLast")
}

// GetNext implements domain.SortedRegistry.
func (g *Gateway) GetNext(ctx context.Context, id common.Address) (common.Address, error) {
	return g.callAddress(ctx, sortedTrovesContract, g.contracts.SortedTroves, "getNext", id)
}

// GetPrev implements domain.SortedRegistry.
func (g *Gateway) GetPrev(ctx context.Context, id common.Address) (common.Address, error) {
	return g.callAddress(ctx, sortedTrovesContract, g.contracts.SortedTroves, "getPrev", id)
}

// FindInsertPosition implements domain.SortedRegistry.
func (g *Gateway) FindInsertPosition(ctx context.Context, nicr *big.Int, prevID, nextID common.Address) (common.Address, common.Address, error) {
	out, err := g.call(ctx, sortedTrovesContract, g.contracts.SortedTroves, "findInsertPosition", nicr, prevID, nextID)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	upper, ok1 := out[0].(common.Address)
	lower, ok2 := out[1].(common.Address)
	if !ok1 || !ok2 {
		return common.Address{}, common.Address{}, fmt.Errorf("chain: findInsertPosition: unexpected outputs: %w", domain.ErrTransientRead)
	}
	return upper, lower, nil
}

// GetTroveStatus implements domain.PositionLedger.
func (g *Gateway) GetTroveStatus(ctx context.Context, id common.Address) (domain.Status, error) {
	raw, err := g.callUint(ctx, troveManagerContract, g.contracts.TroveManager, "getTroveStatus", id)
	if err != nil {
		return domain.StatusNonExistent, err
	}
	if !raw.IsUint64() || raw.Uint64() > uint64(domain.StatusClosedByRedemption) {
		return domain.StatusNonExistent, fmt.Errorf("chain: getTroveStatus %s: status %s: %w", id.Hex(), raw, domain.ErrInvalidPosition)
	}
	return domain.Status(raw.Uint64()), nil
}

// GetEntireDebtAndColl implements domain.PositionLedger.
func (g *Gateway) GetEntireDebtAndColl(ctx context.Context, id common.Address) (domain.DebtAndColl, error) {
	out, err := g.call(ctx, troveManagerContract, g.contracts.TroveManager, "getEntireDebtAndColl", id)
	if err != nil {
		return domain.DebtAndColl{}, err
	}
	var res struct {
		Debt              *big.Int
		Coll              *big.Int
		PendingDebtReward *big.Int
		PendingCollReward *big.Int
	}
	if err := troveManagerContract.Methods["getEntireDebtAndColl"].Outputs.Copy(&res, out); err != nil {
		return domain.DebtAndColl{}, fmt.Errorf("chain: getEntireDebtAndColl %s: %w: %w", id.Hex(), domain.ErrTransientRead, err)
	}
	return domain.DebtAndColl{
		Debt:              res.Debt,
		Coll:              res.Coll,
		PendingDebtReward: res.PendingDebtReward,
		PendingCollReward: res.PendingCollReward,
	}, nil
}

// GasCompensation implements domain.PositionLedger.
func (g *Gateway) GasCompensation(ctx context.Context) (*big.Int, error) {
	return g.callUint(ctx, troveManagerContract, g.contracts.TroveManager, "MUSD_GAS_COMPENSATION")
}

// GetApproxHint implements domain.HintSampler.
func (g *Gateway) GetApproxHint(ctx context.Context, nicr *big.Int, numTrials uint64, seed *big.Int) (domain.ApproxHint, error) {
	out, err := g.call(ctx, hintHelpersContract, g.contracts.HintHelpers, "getApproxHint",
		nicr, new(big.Int).SetUint64(numTrials), seed)
	if err != nil {
		return domain.ApproxHint{}, err
	}
	var res struct {
		HintAddress      common.Address
		Diff             *big.Int
		LatestRandomSeed *big.Int
	}
	if err := hintHelpersContract.Methods["getApproxHint"].Outputs.Copy(&res, out); err != nil {
		return domain.ApproxHint{}, fmt.Errorf("chain: getApproxHint: %w: %w", domain.ErrTransientRead, err)
	}
	return domain.ApproxHint{ID: res.HintAddress, Diff: res.Diff, NextSeed: res.LatestRandomSeed}, nil
}

// BlockNumber implements domain.BlockSource. A pinned gateway reports its
// pinned block.
func (g *Gateway) BlockNumber(ctx context.Context) (uint64, error) {
	if g.block != nil {
		return g.block.Uint64(), nil
	}
	n, err := callWithRetry(ctx, g, "blockNumber", g.backend.BlockNumber)
	if err != nil {
		return 0, fmt.Errorf("chain: blockNumber: %w: %w", domain.ErrTransientRead, err)
	}
	return n, nil
}

var _ domain.Gateway = (*Gateway)(nil)
