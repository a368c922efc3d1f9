// Package storagetest holds behaviour checks shared by every storage.Store backend.
package storagetest

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

const chainID = 8453

// Run executes the suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.Store) {
	t.Run("InsertIfNotExists", func(t *testing.T) { testInsertIfNotExists(t, newStore(t)) })
	t.Run("PatchAndNotFound", func(t *testing.T) { testPatch(t, newStore(t)) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ProcessedEventsDedupe", func(t *testing.T) { testProcessed(t, newStore(t)) })
	t.Run("DailyVolumeRoundTrip", func(t *testing.T) { testDailyVolume(t, newStore(t)) })
	t.Run("HourBuckets", func(t *testing.T) { testHourBuckets(t, newStore(t)) })
	t.Run("EthPrices", func(t *testing.T) { testEthPrices(t, newStore(t)) })
	t.Run("PositionsAndHolders", func(t *testing.T) { testPositions(t, newStore(t)) })
	t.Run("StalePools", func(t *testing.T) { testStalePools(t, newStore(t)) })
	t.Run("Cursor", func(t *testing.T) { testCursor(t, newStore(t)) })
}

func tx(t *testing.T, s storage.Store, fn func(ctx context.Context, tx storage.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithTx(context.Background(), fn))
}

func testInsertIfNotExists(t *testing.T, s storage.Store) {
	tx(t, s, func(ctx context.Context, tx storage.Tx) error {
		first := model.NewPool(chainID, "0xPOOL")
		first.Fee = 3000
		first.IsToken0 = true
		got, inserted, err := tx.InsertPool(ctx, first)
		require.NoError(t, err)
		require.True(t, inserted)
		require.Equal(t, "0xpool", got.Address)

		second := model.NewPool(chainID, "0xpool")
		second.Fee = 500
		got, inserted, err = tx.InsertPool(ctx, second)
		require.NoError(t, err)
		require.False(t, inserted)
		require.Equal(t, uint32(3000), got.Fee)
		require.True(t, got.IsToken0)

		_, inserted, err = tx.InsertAsset(ctx, model.NewAsset(chainID, "0xasset"))
		require.NoError(t, err)
		require.True(t, inserted)

		token := model.NewToken(chainID, model.TokenMeta{Address: "0xasset", Decimals: 18, Symbol: "AST", TotalSupply: big.NewInt(1000)})
		_, inserted, err = tx.InsertToken(ctx, token)
		require.NoError(t, err)
		require.True(t, inserted)
		return nil
	})

	token, err := s.GetToken(context.Background(), chainID, "0xASSET")
	require.NoError(t, err)
	require.Equal(t, "AST", token.Symbol)
	require.Equal(t, uint8(18), token.Decimals)
	require.Equal(t, "1000", token.TotalSupply.String())
}

func testPatch(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx(t, s, func(ctx context.Context, tx storage.Tx) error {
		if _, _, err := tx.InsertPool(ctx, model.NewPool(chainID, "0xpool")); err != nil {
			return err
		}
		pct := decimal.RequireFromString("12.5")
		count := uint64(3)
		tick := int32(-200)
		return tx.UpdatePool(ctx, chainID, "0xpool", model.PoolPatch{
			Price:            big.NewInt(77),
			PercentDayChange: &pct,
			SwapCount:        &count,
			Tick:             &tick,
		})
	})

	pool, err := s.GetPool(ctx, chainID, "0xpool")
	require.NoError(t, err)
	require.Equal(t, "77", pool.Price.String())
	require.True(t, pool.PercentDayChange.Equal(decimal.RequireFromString("12.5")))
	require.Equal(t, uint64(3), pool.SwapCount)
	require.Equal(t, int32(-200), pool.Tick)
	require.Equal(t, "0", pool.VolumeUSD.String())

	err = s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdateAsset(ctx, chainID, "0xmissing", model.AssetPatch{LiquidityUSD: big.NewInt(1)})
	})
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.GetAsset(ctx, chainID, "0xmissing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testRollback(t *testing.T, s storage.Store) {
	ctx := context.Background()
	err := s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, _, err := tx.InsertPool(ctx, model.NewPool(chainID, "0xpool")); err != nil {
			return err
		}
		return storage.ErrInvalidInput
	})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = s.GetPool(ctx, chainID, "0xpool")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testProcessed(t *testing.T, s storage.Store) {
	for _, want := range []bool{true, false} {
		tx(t, s, func(ctx context.Context, tx storage.Tx) error {
			fresh, err := tx.MarkEventProcessed(ctx, chainID, "8453:0xabc:4", 100)
			require.NoError(t, err)
			require.Equal(t, want, fresh)
			return nil
		})
	}
	tx(t, s, func(ctx context.Context, tx storage.Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, 1, "8453:0xabc:4", 100)
		require.NoError(t, err)
		require.True(t, fresh, "chains are independent")
		return nil
	})
}

func testDailyVolume(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seed := model.NewDailyVolume(chainID, "0xpool", 1000)
	tx(t, s, func(ctx context.Context, tx storage.Tx) error {
		got, inserted, err := tx.InsertDailyVolume(ctx, seed)
		require.NoError(t, err)
		require.True(t, inserted)
		require.True(t, got.Inactive)
		require.Empty(t, got.Checkpoints)

		got.Checkpoints = []model.Checkpoint{
			{Timestamp: 1000, AmountUSD: big.NewInt(5), EventID: "a"},
			{Timestamp: 1200, AmountUSD: big.NewInt(7), EventID: "b"},
		}
		got.VolumeUSD = big.NewInt(12)
		got.LastUpdated = 1200
		got.Inactive = false
		return tx.SaveDailyVolume(ctx, got)
	})

	dv, err := s.GetDailyVolume(ctx, chainID, "0xpool")
	require.NoError(t, err)
	require.Len(t, dv.Checkpoints, 2)
	require.Equal(t, "b", dv.Checkpoints[1].EventID)
	require.Equal(t, "7", dv.Checkpoints[1].AmountUSD.String())
	require.Equal(t, "12", dv.VolumeUSD.String())
	require.Equal(t, int64(1000), dv.EarliestCheckpoint)
	require.False(t, dv.Inactive)

	tx(t, s, func(ctx context.Context, tx storage.Tx) error {
		_, inserted, err := tx.InsertDailyVolume(ctx, seed)
		require.NoError(t, err)
		require.False(t, inserted)
		return nil
	})
}

func testHourBuckets(t *testing.T, s storage.Store) {
	ctx := context.Background()
	tx(t, s, func(ctx context.Context, tx storage.Tx) error {
		for _, h := range []int64{3600, 10800, 14400} {
			v := big.NewInt(h)
			b := model.HourBucket{ChainID: chainID, Pool: "0xpool", HourID: h, Open: v, Close: v, Low: v, High: v, Average: v, Count: 1, LastEvent: "e"}
			if err := tx.SaveHourBucket(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})

	b, err := s.GetHourBucket(ctx, chainID, "0xpool", 10800)
	require.NoError(t, err)
	require.Equal(t, "10800", b.Open.String())
	require.Equal(t, "e", b.LastEvent)

	nearest, err := s.NearestHourBucket(ctx, chainID, "0xpool", 7200, 3600)
	require.NoError(t, err)
	require.Equal(t, int64(3600), nearest.HourID, "ties resolve to the earlier bucket")

	nearest, err = s.NearestHourBucket(ctx, chainID, "0xpool", 14000, 3600)
	require.NoError(t, err)
	require.Equal(t, int64(14400), nearest.HourID)

	_, err = s.NearestHourBucket(ctx, chainID, "0xpool", 50000, 3600)
	require.ErrorIs(t, err, storage.ErrNotFound)

	list, err := s.ListHourBuckets(ctx, chainID, "0xpool", 3600, 10800)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, int64(3600), list[0].HourID)
	require.Equal(t, int64(10800), list[1].HourID)
}

func testEthPrices(t *testing.T, s storage.Store) {
	ctx := context.Background()
	for _, ts := range []int64{300, 600, 900} {
		inserted, err := s.InsertEthPrice(ctx, model.EthPrice{ChainID: chainID, Timestamp: ts, Price: big.NewInt(ts * 1_000_000)})
		require.NoError(t, err)
		require.True(t, inserted)
	}
	inserted, err := s.InsertEthPrice(ctx, model.EthPrice{ChainID: chainID, Timestamp: 600, Price: big.NewInt(1)})
	require.NoError(t, err)
	require.False(t, inserted)

	latest, err := s.LatestEthPrice(ctx, chainID, 0, 700)
	require.NoError(t, err)
	require.Equal(t, int64(600), latest.Timestamp)
	require.Equal(t, "600000000", latest.Price.String())

	_, err = s.LatestEthPrice(ctx, chainID, 1000, 2000)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.InsertEthPrice(ctx, model.EthPrice{ChainID: chainID, Timestamp: 1200})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func testPositions(t *testing.T, s storage.Store) {
	ctx := context.Background()
	key := model.PositionKey{ChainID: chainID, Pool: "0xpool", Owner: "0xOWNER", TickLower: -200, TickUpper: 200}
	tx(t, s, func(ctx context.Context, tx storage.Tx) error {
		pos := model.Position{ChainID: chainID, Pool: "0xpool", Owner: "0xowner", TickLower: -200, TickUpper: 200, Liquidity: big.NewInt(99), CreatedAt: 1, UpdatedAt: 2}
		if err := tx.SavePosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.SaveUserAsset(ctx, model.UserAsset{ChainID: chainID, User: "0xowner", Asset: "0xasset", Balance: big.NewInt(5), UpdatedAt: 3}); err != nil {
			return err
		}
		if err := tx.TouchUser(ctx, chainID, "0xowner", 20); err != nil {
			return err
		}
		return tx.TouchUser(ctx, chainID, "0xowner", 10)
	})

	pos, err := s.GetPosition(ctx, key)
	require.NoError(t, err)
	require.Equal(t, "99", pos.Liquidity.String())

	ua, err := s.GetUserAsset(ctx, chainID, "0xOwner", "0xAsset")
	require.NoError(t, err)
	require.Equal(t, "5", ua.Balance.String())

	key.TickUpper = 400
	_, err = s.GetPosition(ctx, key)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func testStalePools(t *testing.T, s storage.Store) {
	ctx := context.Background()
	seed := func(addr string, earliest, refreshed int64, inactive bool) {
		tx(t, s, func(ctx context.Context, tx storage.Tx) error {
			p := model.NewPool(chainID, addr)
			p.LastRefreshed = refreshed
			if _, _, err := tx.InsertPool(ctx, p); err != nil {
				return err
			}
			dv := model.NewDailyVolume(chainID, addr, earliest)
			dv.Inactive = inactive
			return tx.SaveDailyVolume(ctx, dv)
		})
	}
	seed("0xa", 10, 50, false)
	seed("0xb", 10, 20, false)
	seed("0xc", 10, 10, true)
	seed("0xd", 500, 0, false)

	pools, err := s.StalePools(ctx, chainID, 100, 10)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	require.Equal(t, "0xb", pools[0].Address)
	require.Equal(t, "0xa", pools[1].Address)

	pools, err = s.StalePools(ctx, chainID, 100, 1)
	require.NoError(t, err)
	require.Len(t, pools, 1)

	poolAddrs, _, err := s.TrackedAddresses(ctx, chainID)
	require.NoError(t, err)
	require.Equal(t, []string{"0xa", "0xb", "0xc", "0xd"}, poolAddrs)
}

func testCursor(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, ok, err := s.LoadCursor(ctx, "base")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SaveCursor(ctx, "base", 42))
	require.NoError(t, s.SaveCursor(ctx, "base", 43))
	block, ok, err := s.LoadCursor(ctx, "base")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(43), block)
}
