package engine

import (
	"context"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/aggregate"
	"poolScope/internal/lease"
	"poolScope/internal/model"
	"poolScope/internal/storage"
	"poolScope/internal/storage/memory"
)

func TestNewRequiresStore(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestPoolCreatedSeedsWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.process(t, createEvent(base))

	pool := h.pool(t)
	assert.True(t, pool.IsToken0)
	assert.Equal(t, uint32(3000), pool.Fee)
	assert.Equal(t, int32(60), pool.TickSpacing)
	assert.Equal(t, 0, pool.Price.Cmp(e18(1)))
	assert.Equal(t, 0, pool.Liquidity.Cmp(e18(100)))
	assert.Equal(t, 0, pool.DollarLiquidity.Cmp(e18(3_015_000)))
	assert.Equal(t, base, pool.CreatedAt)
	assert.Equal(t, base, pool.LastRefreshed)

	asset := h.asset(t)
	assert.Equal(t, poolAddr, asset.Pool)
	assert.Equal(t, numeraireAddr, asset.Numeraire)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", asset.Governance)
	assert.Equal(t, 0, asset.MarketCapUSD.Cmp(e18(3_000_000)))

	token, err := h.store.GetToken(ctx, testChain, assetAddr)
	require.NoError(t, err)
	assert.Equal(t, "AST", token.Symbol)
	assert.Equal(t, 0, token.TotalSupply.Cmp(e18(1000)))

	dv, err := h.store.GetDailyVolume(ctx, testChain, poolAddr)
	require.NoError(t, err)
	require.Len(t, dv.Checkpoints, 1)
	assert.Equal(t, base, dv.Checkpoints[0].Timestamp)
	assert.Equal(t, 0, dv.VolumeUSD.Sign())

	bucket, err := h.store.GetHourBucket(ctx, testChain, poolAddr, base)
	require.NoError(t, err)
	assert.Equal(t, 0, bucket.Open.Cmp(e18(3000)))

	snaps := h.publisher.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, "PoolCreated", snaps[0].Event)
	assert.Equal(t, "1", snaps[0].Price)
}

func TestPoolCreatedWithoutOraclePrice(t *testing.T) {
	h := newHarness(t, withoutOracle())
	ctx := context.Background()

	h.process(t, createEvent(base))

	pool := h.pool(t)
	assert.Equal(t, 0, pool.Price.Cmp(e18(1)))
	assert.Equal(t, 0, pool.DollarLiquidity.Sign())
	assert.Equal(t, 0, h.asset(t).MarketCapUSD.Sign())

	dv, err := h.store.GetDailyVolume(ctx, testChain, poolAddr)
	require.NoError(t, err)
	assert.Empty(t, dv.Checkpoints)

	_, err = h.store.GetHourBucket(ctx, testChain, poolAddr, base)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// a swap without a price still moves the pool but records no volume
	h.process(t, buyEvent(base+3600))
	pool = h.pool(t)
	assert.Equal(t, uint64(1), pool.SwapCount)
	assert.Equal(t, 0, pool.Price.Cmp(e18(4)))
	assert.Equal(t, 0, pool.VolumeUSD.Sign())
	assert.Empty(t, h.swaps.points)
}

func TestPoolCreatedFallsBackToAddressOrder(t *testing.T) {
	h := newHarness(t, withoutReader())

	h.process(t, createEvent(base))

	pool := h.pool(t)
	assert.True(t, pool.IsToken0)
	assert.Equal(t, 0, pool.Price.Sign())
	assert.Equal(t, 0, pool.Liquidity.Sign())
}

func TestSwapUpdatesMetrics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.process(t, createEvent(base))

	h.process(t, buyEvent(base+3600))

	pool := h.pool(t)
	assert.Equal(t, uint64(1), pool.SwapCount)
	assert.Equal(t, base+3600, pool.LastSwapTimestamp)
	assert.Equal(t, 0, pool.Price.Cmp(e18(4)))
	assert.Equal(t, 0, pool.VolumeUSD.Cmp(e18(6000)))
	assert.True(t, pool.PercentDayChange.Equal(decimal.NewFromInt(300)), pool.PercentDayChange.String())
	assert.Equal(t, 0, pool.FeesToken1.Cmp(big.NewInt(6_000_000_000_000_000)))
	assert.Equal(t, 0, pool.FeesToken0.Sign())
	assert.Equal(t, 0, pool.GraduationBalance.Cmp(e18(2)))
	assert.Equal(t, 0, pool.DollarLiquidity.Cmp(e18(12_015_000)))

	asset := h.asset(t)
	assert.Equal(t, 0, asset.DayVolumeUSD.Cmp(e18(6000)))
	assert.Equal(t, 0, asset.MarketCapUSD.Cmp(e18(12_000_000)))

	token, err := h.store.GetToken(ctx, testChain, assetAddr)
	require.NoError(t, err)
	assert.Equal(t, 0, token.VolumeUSD.Cmp(e18(6000)))

	bucket, err := h.store.GetHourBucket(ctx, testChain, poolAddr, base+3600)
	require.NoError(t, err)
	assert.Equal(t, 0, bucket.Open.Cmp(e18(12000)))
	assert.Equal(t, uint64(1), bucket.Count)

	require.Len(t, h.swaps.points, 1)
	point := h.swaps.points[0]
	assert.Equal(t, sideBuy, point.Side)
	assert.Equal(t, "1000000000000000000", point.AmountAsset)
	assert.Equal(t, "2000000000000000000", point.AmountQuote)
	assert.Equal(t, "12000", point.PriceUSD)
	assert.Equal(t, "6000", point.VolumeUSD)

	snaps := h.publisher.all()
	require.Len(t, snaps, 2)
	assert.Equal(t, "Swap", snaps[1].Event)
	assert.Equal(t, "300.0000", snaps[1].PercentDayChange)
	assert.Equal(t, "6000", snaps[1].VolumeUSD)
}

func TestSwapKeepsCachedReservesWhenBalancesFail(t *testing.T) {
	h := newHarness(t)
	h.process(t, createEvent(base))
	h.reader.balancesErr = errRPC

	h.process(t, buyEvent(base+60))

	pool := h.pool(t)
	assert.Equal(t, 0, pool.AssetBalance.Cmp(e18(1000)))
	assert.Equal(t, 0, pool.QuoteBalance.Cmp(e18(5)))
	assert.Equal(t, uint64(1), pool.SwapCount)
}

func TestSwapReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.process(t, createEvent(base))
	swap := buyEvent(base + 3600)

	h.process(t, swap)
	h.process(t, swap)

	pool := h.pool(t)
	assert.Equal(t, uint64(1), pool.SwapCount)
	assert.Equal(t, 0, pool.VolumeUSD.Cmp(e18(6000)))
	assert.Equal(t, 0, pool.GraduationBalance.Cmp(e18(2)))
	assert.Len(t, h.publisher.all(), 2)
	assert.Len(t, h.swaps.points, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsSkipped.WithLabelValues("Swap", "duplicate")))
}

func TestSellLowersGraduationBalanceToZero(t *testing.T) {
	h := newHarness(t)
	h.process(t, createEvent(base))

	h.process(t, event(model.EventSwap, poolAddr, base+60, model.SwapEventData{
		Amount0:      e18(1),
		Amount1:      e18(-3),
		SqrtPriceX96: sqrt1x,
	}))

	pool := h.pool(t)
	assert.Equal(t, 0, pool.GraduationBalance.Sign())
	assert.Equal(t, 0, pool.FeesToken0.Cmp(big.NewInt(3_000_000_000_000_000)))
	require.Len(t, h.swaps.points, 1)
	assert.Equal(t, sideSell, h.swaps.points[0].Side)
}

func TestMintBurnRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.process(t, createEvent(base))

	want, err := aggregate.GraduationDelta(-200, 200, e18(1), true)
	require.NoError(t, err)
	require.Positive(t, want.Sign())

	h.process(t, mintEvent(base+60, -200, 200, e18(1)))
	assert.Equal(t, 0, h.pool(t).GraduationThreshold.Cmp(want))

	key := model.PositionKey{ChainID: testChain, Pool: poolAddr, Owner: aliceAddr, TickLower: -200, TickUpper: 200}
	pos, err := h.store.GetPosition(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Liquidity.Cmp(e18(1)))
	assert.Equal(t, base+60, pos.CreatedAt)

	h.process(t, burnEvent(base+120, -200, 200, e18(1)))
	assert.Equal(t, 0, h.pool(t).GraduationThreshold.Sign())

	pos, err = h.store.GetPosition(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Liquidity.Sign())
	assert.Equal(t, base+120, pos.UpdatedAt)
	assert.Len(t, h.publisher.all(), 3)
}

func TestFullRangeMintDoesNotGraduate(t *testing.T) {
	h := newHarness(t)
	h.process(t, createEvent(base))

	h.process(t, mintEvent(base+60, -887220, 887220, e18(1)))

	assert.Equal(t, 0, h.pool(t).GraduationThreshold.Sign())
}

func TestMintAppliesInRangeDeltaWhenStateReadFails(t *testing.T) {
	h := newHarness(t)
	h.process(t, createEvent(base))
	h.reader.stateErr = errRPC

	h.process(t, mintEvent(base+60, -200, 200, e18(1)))
	assert.Equal(t, 0, h.pool(t).Liquidity.Cmp(e18(101)))

	h.process(t, mintEvent(base+120, 100, 200, e18(1)))
	assert.Equal(t, 0, h.pool(t).Liquidity.Cmp(e18(101)))
}

func TestBurnBeyondPositionStrict(t *testing.T) {
	h := newHarness(t, strict())
	h.process(t, createEvent(base))
	burn := burnEvent(base+60, -200, 200, e18(1))

	err := h.engine.Process(context.Background(), burn)
	require.ErrorIs(t, err, aggregate.ErrInvariantViolation)

	// nothing was committed, so the event is not recorded as processed either
	err = h.engine.Process(context.Background(), burn)
	require.ErrorIs(t, err, aggregate.ErrInvariantViolation)
	assert.Len(t, h.publisher.all(), 1)
}

func TestBurnBeyondPositionLenientClamps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.process(t, createEvent(base))

	h.process(t, burnEvent(base+60, -200, 200, e18(1)))

	assert.Equal(t, 0, h.pool(t).GraduationThreshold.Sign())
	pos, err := h.store.GetPosition(ctx, model.PositionKey{ChainID: testChain, Pool: poolAddr, Owner: aliceAddr, TickLower: -200, TickUpper: 200})
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Liquidity.Sign())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.InvariantFailures.WithLabelValues("graduation_threshold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.InvariantFailures.WithLabelValues("position_liquidity")))
}

func TestTransferTracksHoldersAndSupply(t *testing.T) {
	h := newHarness(t, withoutReader())
	ctx := context.Background()

	holders := func() (uint64, uint64) {
		token, err := h.store.GetToken(ctx, testChain, assetAddr)
		require.NoError(t, err)
		return token.HolderCount, h.asset(t).HolderCount
	}
	balance := func(user string) *big.Int {
		ua, err := h.store.GetUserAsset(ctx, testChain, user, assetAddr)
		require.NoError(t, err)
		return ua.Balance
	}

	h.process(t, transferEvent(base, model.ZeroAddress, aliceAddr, big.NewInt(100)))
	tokenHolders, assetHolders := holders()
	assert.Equal(t, uint64(1), tokenHolders)
	assert.Equal(t, uint64(1), assetHolders)

	h.process(t, transferEvent(base+1, aliceAddr, bobAddr, big.NewInt(40)))
	tokenHolders, _ = holders()
	assert.Equal(t, uint64(2), tokenHolders)
	assert.Equal(t, 0, balance(aliceAddr).Cmp(big.NewInt(60)))
	assert.Equal(t, 0, balance(bobAddr).Cmp(big.NewInt(40)))

	h.process(t, transferEvent(base+2, bobAddr, aliceAddr, big.NewInt(40)))
	tokenHolders, assetHolders = holders()
	assert.Equal(t, uint64(1), tokenHolders)
	assert.Equal(t, uint64(1), assetHolders)
	assert.Equal(t, 0, balance(bobAddr).Sign())

	token, err := h.store.GetToken(ctx, testChain, assetAddr)
	require.NoError(t, err)
	assert.Equal(t, 0, token.TotalSupply.Cmp(big.NewInt(100)))

	h.process(t, transferEvent(base+3, aliceAddr, model.ZeroAddress, big.NewInt(100)))
	tokenHolders, assetHolders = holders()
	assert.Equal(t, uint64(0), tokenHolders)
	assert.Equal(t, uint64(0), assetHolders)
	token, err = h.store.GetToken(ctx, testChain, assetAddr)
	require.NoError(t, err)
	assert.Equal(t, 0, token.TotalSupply.Sign())
}

func TestTransferOverdrawStrict(t *testing.T) {
	h := newHarness(t, strict(), withoutReader())
	ctx := context.Background()

	err := h.engine.Process(ctx, transferEvent(base, aliceAddr, bobAddr, big.NewInt(1)))
	require.ErrorIs(t, err, aggregate.ErrInvariantViolation)

	_, err = h.store.GetAsset(ctx, testChain, assetAddr)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPoolCreatedAfterTransferKeepsHolders(t *testing.T) {
	h := newHarness(t)

	h.process(t, transferEvent(base, model.ZeroAddress, aliceAddr, e18(1000)))
	h.process(t, createEvent(base))

	asset := h.asset(t)
	assert.Equal(t, poolAddr, asset.Pool)
	assert.Equal(t, numeraireAddr, asset.Numeraire)
	assert.Equal(t, uint64(1), asset.HolderCount)
	assert.Equal(t, base, asset.CreatedAt)
	assert.Equal(t, 0, asset.MarketCapUSD.Cmp(e18(3_000_000)))
}

func TestMigrated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.process(t, createEvent(base))

	const target = "0xcccccccccccccccccccccccccccccccccccccccc"
	h.process(t, event(model.EventMigrated, airlockAddr, base+7200, model.MigratedData{Asset: assetAddr, Pool: target}))

	asset := h.asset(t)
	assert.True(t, asset.Migrated)
	assert.Equal(t, base+7200, asset.MigratedAt)
	assert.Equal(t, target, asset.MigrationPool)

	mp, err := h.store.GetMigrationPool(ctx, testChain, target)
	require.NoError(t, err)
	assert.Equal(t, poolAddr, mp.ParentPool)
	assert.Equal(t, numeraireAddr, mp.Numeraire)
}

func TestUntrackedEventsAreSkipped(t *testing.T) {
	h := newHarness(t)

	h.process(t, buyEvent(base))
	h.process(t, mintEvent(base, -200, 200, e18(1)))
	h.process(t, event(model.EventMigrated, airlockAddr, base, model.MigratedData{Asset: assetAddr, Pool: poolAddr}))

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsSkipped.WithLabelValues("Swap", "untracked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsSkipped.WithLabelValues("Mint", "untracked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsSkipped.WithLabelValues("Migrated", "untracked")))
	_, err := h.store.GetPool(context.Background(), testChain, poolAddr)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMalformedEventsAreSkipped(t *testing.T) {
	h := newHarness(t)
	h.process(t, createEvent(base))

	h.process(t, event(model.EventSwap, poolAddr, base+60, model.MintEventData{}))
	h.process(t, event(model.EventSwap, poolAddr, base+60, model.SwapEventData{Amount0: e18(1), Amount1: e18(-1), SqrtPriceX96: new(big.Int)}))
	h.process(t, event("Collect", poolAddr, base+60, nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.EventsSkipped.WithLabelValues("Swap", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventsSkipped.WithLabelValues("Collect", "malformed")))
	assert.Equal(t, uint64(0), h.pool(t).SwapCount)
}

func TestHandlerPanic(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		h := newHarness(t, strict())
		h.process(t, createEvent(base))
		h.reader.panicOnRead = true

		assert.Panics(t, func() {
			_ = h.engine.Process(context.Background(), buyEvent(base+60))
		})
	})

	t.Run("lenient", func(t *testing.T) {
		h := newHarness(t)
		h.process(t, createEvent(base))
		h.reader.panicOnRead = true

		require.NoError(t, h.engine.Process(context.Background(), buyEvent(base+60)))
		assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EventErrors.WithLabelValues("Swap")))
		assert.Equal(t, uint64(0), h.pool(t).SwapCount)
	})
}

func TestLeaseFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	h.process(t, createEvent(base))
	swap := buyEvent(base + 60)

	h.locker.fail.Store(1)
	err := h.engine.Process(context.Background(), swap)
	require.ErrorIs(t, err, lease.ErrNotAcquired)
	assert.Equal(t, uint64(0), h.pool(t).SwapCount)

	h.process(t, swap)
	assert.Equal(t, uint64(1), h.pool(t).SwapCount)
}

func TestEventsOnSeparatePoolsDoNotInterfere(t *testing.T) {
	store := memory.NewStore()
	eng, err := New(Deps{Store: store, Reader: newFakeReader(), Oracle: fakeOracle{price: ethUSD}})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, eng.Process(ctx, createEvent(base)))
	other := event(model.EventPoolCreated, airlockAddr, base, model.PoolCreatedData{
		Asset:     "0xdddddddddddddddddddddddddddddddddddddddd",
		Numeraire: numeraireAddr,
		Pool:      "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee",
	})
	require.NoError(t, eng.Process(ctx, other))
	require.NoError(t, eng.Process(ctx, buyEvent(base+60)))

	pool, err := store.GetPool(ctx, testChain, "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pool.SwapCount)
	assert.Equal(t, 0, pool.VolumeUSD.Sign())
}
