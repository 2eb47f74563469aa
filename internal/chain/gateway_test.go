package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trovewatch/internal/crypto"
	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

type handler func(args []any) []any

// fakeBackend answers eth_call by decoding the selector and packing the
// outputs a handler returns.
type fakeBackend struct {
	mu       sync.Mutex
	contract map[common.Address]abi.ABI
	handlers map[string]handler
	failures map[string]int
	blocks   []*big.Int
	head     uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		contract: map[common.Address]abi.ABI{
			Testnet.Contracts.PriceFeed:    priceFeedContract,
			Testnet.Contracts.SortedTroves: sortedTrovesContract,
			Testnet.Contracts.TroveManager: troveManagerContract,
			Testnet.Contracts.HintHelpers:  hintHelpersContract,
		},
		handlers: map[string]handler{},
		failures: map[string]int{},
		head:     100,
	}
}

func (f *fakeBackend) on(method string, h handler) { f.handlers[method] = h }

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks = append(f.blocks, block)

	contract, ok := f.contract[*call.To]
	if !ok {
		return nil, errors.New("unknown contract")
	}
	method, err := contract.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	if f.failures[method.Name] > 0 {
		f.failures[method.Name]--
		return nil, errors.New("connection reset")
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	h, ok := f.handlers[method.Name]
	if !ok {
		return nil, errors.New("no handler for " + method.Name)
	}
	return method.Outputs.Pack(h(args)...)
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return f.head, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(b *fakeBackend, retries uint) *Gateway {
	return NewGateway(b, Testnet.Contracts, Options{
		CallTimeout:   time.Second,
		MaxRetries:    retries,
		RetryInterval: time.Millisecond,
	}, testLogger())
}

func TestGatewayRegistryReads(t *testing.T) {
	b := newFakeBackend()
	head := common.HexToAddress("0x1000000000000000000000000000000000000001")
	tail := common.HexToAddress("0x2000000000000000000000000000000000000002")

	b.on("getFirst", func([]any) []any { return []any{head} })
	b.on("getLast", func([]any) []any { return []any{tail} })
	b.on("getNext", func(args []any) []any {
		if args[0].(common.Address) == head {
			return []any{tail}
		}
		return []any{common.Address{}}
	})
	b.on("getPrev", func(args []any) []any {
		if args[0].(common.Address) == tail {
			return []any{head}
		}
		return []any{common.Address{}}
	})
	b.on("findInsertPosition", func(args []any) []any {
		return []any{args[1].(common.Address), args[2].(common.Address)}
	})

	g := newTestGateway(b, 1)
	ctx := context.Background()

	first, err := g.GetFirst(ctx)
	require.NoError(t, err)
	assert.Equal(t, head, first)

	last, err := g.GetLast(ctx)
	require.NoError(t, err)
	assert.Equal(t, tail, last)

	next, err := g.GetNext(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, tail, next)

	prev, err := g.GetPrev(ctx, tail)
	require.NoError(t, err)
	assert.Equal(t, head, prev)

	sentinel, err := g.GetNext(ctx, tail)
	require.NoError(t, err)
	assert.True(t, domain.IsSentinel(sentinel))

	upper, lower, err := g.FindInsertPosition(ctx, fixedpoint.Ether(2), head, tail)
	require.NoError(t, err)
	assert.Equal(t, head, upper)
	assert.Equal(t, tail, lower)
}

func TestGatewayLedgerReads(t *testing.T) {
	b := newFakeBackend()
	id := common.HexToAddress("0x3000000000000000000000000000000000000003")

	b.on("getTroveStatus", func([]any) []any { return []any{big.NewInt(1)} })
	b.on("getEntireDebtAndColl", func([]any) []any {
		return []any{fixedpoint.Ether(1500), fixedpoint.Ether(16), fixedpoint.Ether(2), big.NewInt(5)}
	})
	b.on("MUSD_GAS_COMPENSATION", func([]any) []any { return []any{fixedpoint.Ether(200)} })
	b.on("fetchPrice", func([]any) []any { return []any{fixedpoint.Ether(60000)} })
	b.on("getApproxHint", func(args []any) []any {
		return []any{id, big.NewInt(77), new(big.Int).Add(args[2].(*big.Int), big.NewInt(1))}
	})

	g := newTestGateway(b, 1)
	ctx := context.Background()

	status, err := g.GetTroveStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, status)

	dc, err := g.GetEntireDebtAndColl(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Ether(1500).String(), dc.Debt.String())
	assert.Equal(t, fixedpoint.Ether(16).String(), dc.Coll.String())
	assert.Equal(t, fixedpoint.Ether(2).String(), dc.PendingDebtReward.String())
	assert.Equal(t, "5", dc.PendingCollReward.String())

	gas, err := g.GasCompensation(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Ether(200).String(), gas.String())

	price, err := g.FetchPrice(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Ether(60000).String(), price.String())

	hint, err := g.GetApproxHint(ctx, fixedpoint.Ether(3), 15, big.NewInt(42))
	require.NoError(t, err)
	assert.Equal(t, id, hint.ID)
	assert.Equal(t, "77", hint.Diff.String())
	assert.Equal(t, "43", hint.NextSeed.String())
}

func TestGatewayErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("zero price is unavailable", func(t *testing.T) {
		b := newFakeBackend()
		b.on("fetchPrice", func([]any) []any { return []any{big.NewInt(0)} })
		_, err := newTestGateway(b, 1).FetchPrice(ctx)
		assert.ErrorIs(t, err, domain.ErrOracleUnavailable)
	})

	t.Run("status out of range", func(t *testing.T) {
		b := newFakeBackend()
		b.on("getTroveStatus", func([]any) []any { return []any{big.NewInt(9)} })
		_, err := newTestGateway(b, 1).GetTroveStatus(ctx, common.Address{1})
		assert.ErrorIs(t, err, domain.ErrInvalidPosition)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		b := newFakeBackend()
		b.on("getLast", func([]any) []any { return []any{common.Address{9}} })
		b.failures["getLast"] = 2

		last, err := newTestGateway(b, 3).GetLast(ctx)
		require.NoError(t, err)
		assert.Equal(t, common.Address{9}, last)
	})

	t.Run("retries exhausted", func(t *testing.T) {
		b := newFakeBackend()
		b.on("getLast", func([]any) []any { return []any{common.Address{9}} })
		b.failures["getLast"] = 5

		_, err := newTestGateway(b, 2).GetLast(ctx)
		assert.ErrorIs(t, err, domain.ErrTransientRead)
	})
}

func TestGatewayPinnedBlock(t *testing.T) {
	b := newFakeBackend()
	b.on("getFirst", func([]any) []any { return []any{common.Address{}} })

	g := newTestGateway(b, 1)
	pinned := g.At(42)

	n, err := pinned.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), n)

	_, err = pinned.GetFirst(context.Background())
	require.NoError(t, err)
	_, err = g.GetFirst(context.Background())
	require.NoError(t, err)

	require.Len(t, b.blocks, 2)
	assert.Equal(t, "42", b.blocks[0].String())
	assert.Nil(t, b.blocks[1])

	latest, err := g.BlockNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), latest)
}

type fakeTxBackend struct {
	sent    []*types.Transaction
	sendErr error
}

func (f *fakeTxBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 11, nil
}

func (f *fakeTxBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeTxBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func TestSubmitterEncodesRedemption(t *testing.T) {
	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", Testnet.ChainID)
	require.NoError(t, err)

	backend := &fakeTxBackend{}
	sub := NewSubmitter(backend, signer, Testnet.Contracts.TroveManager, 0, testLogger())

	plan := domain.RedemptionPlan{
		TargetAmount:    fixedpoint.Ether(100),
		TruncatedAmount: fixedpoint.Ether(90),
		FirstHint:       common.Address{1},
		UpperHint:       common.Address{2},
		LowerHint:       common.Address{3},
		PartialHintNICR: big.NewInt(123456),
	}
	maxFee := fixedpoint.Percent(5)

	hash, err := sub.SubmitRedemption(context.Background(), plan, 50, maxFee)
	require.NoError(t, err)
	require.Len(t, backend.sent, 1)

	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, DefaultGasLimit, tx.Gas())
	assert.Equal(t, uint64(11), tx.Nonce())
	assert.Equal(t, Testnet.Contracts.TroveManager, *tx.To())

	method := troveManagerContract.Methods["redeemCollateral"]
	assert.Equal(t, method.ID, tx.Data()[:4])
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.Ether(90).String(), args[0].(*big.Int).String())
	assert.Equal(t, common.Address{1}, args[1])
	assert.Equal(t, common.Address{2}, args[2])
	assert.Equal(t, common.Address{3}, args[3])
	assert.Equal(t, "123456", args[4].(*big.Int).String())
	assert.Equal(t, "50", args[5].(*big.Int).String())
	assert.Equal(t, maxFee.String(), args[6].(*big.Int).String())
}

func TestSubmitterFailures(t *testing.T) {
	signer, err := crypto.NewSigner("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318", Testnet.ChainID)
	require.NoError(t, err)

	_, err = NewSubmitter(&fakeTxBackend{}, signer, Testnet.Contracts.TroveManager, 0, testLogger()).
		SubmitRedemption(context.Background(), domain.RedemptionPlan{}, 10, fixedpoint.Percent(5))
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	backend := &fakeTxBackend{sendErr: errors.New("nonce too low")}
	plan := domain.RedemptionPlan{TruncatedAmount: fixedpoint.Ether(1)}
	_, err = NewSubmitter(backend, signer, Testnet.Contracts.TroveManager, 0, testLogger()).
		SubmitRedemption(context.Background(), plan, 10, fixedpoint.Percent(5))
	assert.ErrorIs(t, err, domain.ErrSubmission)
}

func TestNetworkPresets(t *testing.T) {
	n, err := NetworkByChainID(31611)
	require.NoError(t, err)
	assert.Equal(t, "testnet", n.Name)

	n, err = NetworkByName("mainnet")
	require.NoError(t, err)
	assert.Equal(t, int64(31612), n.ChainID)
	assert.Empty(t, n.Contracts.Missing())

	_, err = NetworkByChainID(1)
	assert.Error(t, err)

	assert.Equal(t, []string{"hint_helpers", "price_feed", "sorted_troves", "trove_manager"}, Contracts{}.Missing())
}
