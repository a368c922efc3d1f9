package postgres

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

const chainID = 8453

// setupStore starts a Postgres container and applies the schema.
func setupStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewStore(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Migrate(ctx))
	// Migrations are idempotent.
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestPoolRoundTripAndPatch(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	pool := model.NewPool(chainID, "0xPool")
	pool.Asset = "0xAsset"
	pool.IsToken0 = true
	pool.Fee = 10000
	pool.Tick = -887200
	pool.SqrtPriceX96, _ = new(big.Int).SetString("79228162514264337593543950336", 10)

	err := store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		got, inserted, err := tx.InsertPool(ctx, pool)
		require.NoError(t, err)
		require.True(t, inserted)
		require.Equal(t, "0xasset", got.Asset)

		_, inserted, err = tx.InsertPool(ctx, pool)
		require.NoError(t, err)
		require.False(t, inserted)

		pct := decimal.RequireFromString("-12.5")
		return tx.UpdatePool(ctx, chainID, "0xpool", model.PoolPatch{
			Price:            big.NewInt(42),
			PercentDayChange: &pct,
		})
	})
	require.NoError(t, err)

	got, err := store.GetPool(ctx, chainID, "0xPOOL")
	require.NoError(t, err)
	require.Equal(t, int32(-887200), got.Tick)
	require.Equal(t, pool.SqrtPriceX96.String(), got.SqrtPriceX96.String())
	require.Equal(t, "42", got.Price.String())
	require.Equal(t, "-12.5", got.PercentDayChange.String())

	err = store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.UpdatePool(ctx, chainID, "0xmissing", model.PoolPatch{Price: big.NewInt(1)})
	})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRollbackDiscardsEventMark(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, chainID, "8453:0xabc:0", 1)
		require.NoError(t, err)
		require.True(t, fresh)
		return storage.ErrInvalidInput
	})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, chainID, "8453:0xabc:0", 1)
		require.NoError(t, err)
		require.True(t, fresh)
		fresh, err = tx.MarkEventProcessed(ctx, chainID, "8453:0xabc:0", 1)
		require.NoError(t, err)
		require.False(t, fresh)
		return nil
	}))
}

func TestDailyVolumeAndStalePools(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, _, err := tx.InsertPool(ctx, model.NewPool(chainID, "0xa")); err != nil {
			return err
		}
		dv := model.NewDailyVolume(chainID, "0xa", 100)
		dv.Checkpoints = []model.Checkpoint{{Timestamp: 100, AmountUSD: big.NewInt(7), EventID: "x"}}
		dv.VolumeUSD = big.NewInt(7)
		dv.Inactive = false
		return tx.SaveDailyVolume(ctx, dv)
	}))

	dv, err := store.GetDailyVolume(ctx, chainID, "0xa")
	require.NoError(t, err)
	require.Len(t, dv.Checkpoints, 1)
	require.Equal(t, "7", dv.Checkpoints[0].AmountUSD.String())
	require.False(t, dv.Inactive)

	stale, err := store.StalePools(ctx, chainID, 200, 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	stale, err = store.StalePools(ctx, chainID, 50, 10)
	require.NoError(t, err)
	require.Empty(t, stale)
}

func TestHourBucketsAndEthPrices(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		for _, h := range []int64{3600, 10800} {
			v := big.NewInt(h)
			b := model.HourBucket{ChainID: chainID, Pool: "0xa", HourID: h, Open: v, Close: v, Low: v, High: v, Average: v, Count: 1}
			if err := tx.SaveHourBucket(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))

	nearest, err := store.NearestHourBucket(ctx, chainID, "0xa", 7200, 3600)
	require.NoError(t, err)
	require.Equal(t, int64(3600), nearest.HourID)

	list, err := store.ListHourBuckets(ctx, chainID, "0xa", 0, 7200)
	require.NoError(t, err)
	require.Len(t, list, 1)

	inserted, err := store.InsertEthPrice(ctx, model.EthPrice{ChainID: chainID, Timestamp: 300, Price: big.NewInt(300000000000)})
	require.NoError(t, err)
	require.True(t, inserted)
	latest, err := store.LatestEthPrice(ctx, chainID, 0, 600)
	require.NoError(t, err)
	require.Equal(t, "300000000000", latest.Price.String())
}

func TestCursor(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, ok, err := store.LoadCursor(ctx, "base")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.SaveCursor(ctx, "base", 123))
	block, ok, err := store.LoadCursor(ctx, "base")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(123), block)
}
