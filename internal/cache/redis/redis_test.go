package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/trovewatch/internal/domain"
	"github.com/alanyoungcy/trovewatch/internal/fixedpoint"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb, "tw:"), mr
}

func TestReportCache(t *testing.T) {
	c, mr := newTestClient(t)
	cache := NewReportCache(c, time.Hour)
	ctx := context.Background()

	_, err := cache.GetLatest(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	res := domain.ScanResult{
		ID:   "scan-1",
		Mode: domain.ModeLive,
		Price: domain.PriceQuote{
			Value: fixedpoint.Ether(60000),
		},
		Redeemable: []domain.Position{{
			Status: domain.StatusActive,
			ICR:    fixedpoint.Percent(120),
			Band:   domain.BandRedeemable,
		}},
		Counts: domain.Counts{Traversed: 1, Active: 1, Redeemable: 1},
	}
	require.NoError(t, cache.SetLatest(ctx, res))

	got, err := cache.GetLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scan-1", got.ID)
	assert.Equal(t, res.Counts, got.Counts)
	assert.Equal(t, fixedpoint.Ether(60000).String(), got.Price.Value.String())
	require.Len(t, got.Redeemable, 1)
	assert.Equal(t, fixedpoint.Percent(120).String(), got.Redeemable[0].ICR.String())

	byID, err := cache.Get(ctx, "scan-1")
	require.NoError(t, err)
	assert.Equal(t, "scan-1", byID.ID)

	assert.True(t, mr.Exists("tw:report:latest"))
	mr.FastForward(2 * time.Hour)
	_, err = cache.Get(ctx, "scan-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLockManager(t *testing.T) {
	c, _ := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lock, err := lm.Acquire(ctx, "redeem", time.Minute)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "redeem", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	lock.Release()
	lock.Release()

	again, err := lm.Acquire(ctx, "redeem", time.Minute)
	require.NoError(t, err)
	again.Release()
}

func TestLockExtend(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	lock, err := lm.Acquire(ctx, "redeem", time.Minute)
	require.NoError(t, err)

	mr.FastForward(50 * time.Second)
	require.NoError(t, lock.Extend(ctx, time.Minute))
	mr.FastForward(50 * time.Second)
	assert.True(t, mr.Exists("tw:lock:redeem"), "extended lock survives past the original ttl")

	mr.FastForward(time.Minute)
	other, err := lm.Acquire(ctx, "redeem", time.Minute)
	require.NoError(t, err)
	defer other.Release()

	assert.ErrorIs(t, lock.Extend(ctx, time.Minute), domain.ErrLockHeld)
	lock.Release()
	assert.True(t, mr.Exists("tw:lock:redeem"), "stale release keeps the new holder's lock")
}

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "api:5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamScans, []byte(`{"scan_id":"a"}`)))
	require.NoError(t, bus.StreamAppend(ctx, domain.StreamScans, []byte(`{"scan_id":"b"}`)))

	msgs, err := bus.StreamRead(ctx, domain.StreamScans, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, `{"scan_id":"b"}`, string(msgs[1].Payload))

	rest, err := bus.StreamRead(ctx, domain.StreamScans, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
}

func TestSignalBusPubSub(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelScans)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelScans, []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestSignalBusStreamReadEmpty(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)

	msgs, err := bus.StreamRead(context.Background(), domain.StreamScans, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestClientConfigOptions(t *testing.T) {
	opts, err := ClientConfig{Addr: "redis://:pw@cache:6380/3", PoolSize: 7}.options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)

	opts, err = ClientConfig{Addr: "localhost:6379", TLSEnabled: true}.options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	require.NotNil(t, opts.TLSConfig)

	_, err = ClientConfig{Addr: "http://cache"}.options()
	assert.Error(t, err)
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr(), KeyPrefix: "tw:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	assert.Equal(t, "tw:scan:latest", c.Key("scan:latest"))

	mr.Close()
	_, err = New(context.Background(), ClientConfig{Addr: mr.Addr()})
	assert.Error(t, err)
}
