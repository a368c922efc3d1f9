package memory

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"poolScope/internal/model"
	"poolScope/internal/storage"
	"poolScope/internal/storage/storagetest"
)

const chainID = 8453

func TestWithTxCommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, inserted, err := tx.InsertPool(ctx, model.NewPool(chainID, "0xAAA"))
		require.NoError(t, err)
		require.True(t, inserted)
		return nil
	})
	require.NoError(t, err)

	pool, err := s.GetPool(ctx, chainID, "0xaaa")
	require.NoError(t, err)
	require.Equal(t, "0xaaa", pool.Address)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, _, err := tx.InsertPool(ctx, model.NewPool(chainID, "0xaaa")); err != nil {
			return err
		}
		if _, err := tx.MarkEventProcessed(ctx, chainID, "e1", 10); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetPool(ctx, chainID, "0xaaa")
	require.ErrorIs(t, err, storage.ErrNotFound)

	// The event mark rolled back with the rest.
	err = s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, chainID, "e1", 10)
		require.NoError(t, err)
		require.True(t, fresh)
		return nil
	})
	require.NoError(t, err)
}

func TestMarkEventProcessedOnce(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for i, want := range []bool{true, false} {
		err := s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			fresh, err := tx.MarkEventProcessed(ctx, chainID, "8453:0xabc:1", 100)
			require.NoError(t, err)
			require.Equalf(t, want, fresh, "attempt %d", i)
			return nil
		})
		require.NoError(t, err)
	}
}

func TestInsertIfNotExistsKeepsFirstRow(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		first := model.NewPool(chainID, "0xaaa")
		first.Fee = 3000
		_, _, err := tx.InsertPool(ctx, first)
		require.NoError(t, err)

		second := model.NewPool(chainID, "0xaaa")
		second.Fee = 500
		got, inserted, err := tx.InsertPool(ctx, second)
		require.NoError(t, err)
		require.False(t, inserted)
		require.Equal(t, uint32(3000), got.Fee)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdatePoolMissing(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	err := s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdatePool(ctx, chainID, "0xaaa", model.PoolPatch{Price: big.NewInt(1)})
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDailyVolumeIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	dv := model.NewDailyVolume(chainID, "0xaaa", 100)
	dv.Checkpoints = []model.Checkpoint{{Timestamp: 100, AmountUSD: big.NewInt(5), EventID: "a"}}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.SaveDailyVolume(ctx, dv)
	}))

	dv.Checkpoints[0].Timestamp = 999
	got, err := s.GetDailyVolume(ctx, chainID, "0xaaa")
	require.NoError(t, err)
	require.Equal(t, int64(100), got.Checkpoints[0].Timestamp)
}

func TestNearestHourBucketPrefersEarlierOnTie(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, h := range []int64{3600, 10800} {
			b := model.HourBucket{ChainID: chainID, Pool: "0xaaa", HourID: h, Open: big.NewInt(h)}
			if err := tx.SaveHourBucket(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))

	got, err := s.NearestHourBucket(ctx, chainID, "0xaaa", 7200, 3600)
	require.NoError(t, err)
	require.Equal(t, int64(3600), got.HourID)

	_, err = s.NearestHourBucket(ctx, chainID, "0xaaa", 20000, 3600)
	require.ErrorIs(t, err, storage.ErrNotFound)

	list, err := s.ListHourBuckets(ctx, chainID, "0xaaa", 0, 20000)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, int64(3600), list[0].HourID)
}

func TestStalePoolsOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	seed := func(addr string, earliest, refreshed int64, inactive bool) {
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			p := model.NewPool(chainID, addr)
			p.LastRefreshed = refreshed
			if _, _, err := tx.InsertPool(ctx, p); err != nil {
				return err
			}
			dv := model.NewDailyVolume(chainID, addr, earliest)
			dv.Inactive = inactive
			return tx.SaveDailyVolume(ctx, dv)
		}))
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
}

func TestLatestEthPrice(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	for _, ts := range []int64{300, 600, 900} {
		inserted, err := s.InsertEthPrice(ctx, model.EthPrice{ChainID: chainID, Timestamp: ts, Price: big.NewInt(ts)})
		require.NoError(t, err)
		require.True(t, inserted)
	}
	inserted, err := s.InsertEthPrice(ctx, model.EthPrice{ChainID: chainID, Timestamp: 600, Price: big.NewInt(1)})
	require.NoError(t, err)
	require.False(t, inserted)

	got, err := s.LatestEthPrice(ctx, chainID, 0, 700)
	require.NoError(t, err)
	require.Equal(t, int64(600), got.Price.Int64())

	_, err = s.LatestEthPrice(ctx, chainID, 1000, 2000)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCursorAndTouchUser(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, ok, err := s.LoadCursor(ctx, "base")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.SaveCursor(ctx, "base", 42))
	block, ok, err := s.LoadCursor(ctx, "base")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(42), block)

	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.TouchUser(ctx, chainID, "0xU", 20); err != nil {
			return err
		}
		return tx.TouchUser(ctx, chainID, "0xu", 10)
	}))
	require.Equal(t, int64(10), s.st.users[model.Key{ChainID: chainID, Address: "0xu"}].FirstSeenAt)
	require.Equal(t, int64(20), s.st.users[model.Key{ChainID: chainID, Address: "0xu"}].LastSeenAt)
}

func TestStoreSuite(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return NewStore() })
}
