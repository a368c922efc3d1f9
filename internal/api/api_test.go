package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/model"
	"poolScope/internal/storage"
	"poolScope/internal/storage/memory"
)

const (
	poolAddr  = "0x2222222222222222222222222222222222222222"
	assetAddr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hour      = int64(1_699_999_200)
)

func wad(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

func seed(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	err := store.WithTx(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		pool := model.NewPool(1, poolAddr)
		pool.Asset = assetAddr
		pool.Price = wad(4)
		pool.VolumeUSD = wad(6000)
		pool.SwapCount = 3
		if _, _, err := tx.InsertPool(ctx, pool); err != nil {
			return err
		}
		asset := model.NewAsset(1, assetAddr)
		asset.Pool = poolAddr
		asset.HolderCount = 7
		if _, _, err := tx.InsertAsset(ctx, asset); err != nil {
			return err
		}
		if _, _, err := tx.InsertToken(ctx, model.NewToken(1, model.TokenMeta{
			Address: assetAddr, Symbol: "AST", Decimals: 18, TotalSupply: wad(1000),
		})); err != nil {
			return err
		}
		for i := int64(0); i < 3; i++ {
			if err := tx.SaveHourBucket(ctx, model.HourBucket{
				ChainID: 1, Pool: poolAddr, HourID: hour + i*3600,
				Open: wad(1), High: wad(2), Low: wad(1), Close: wad(2), Average: wad(1), Count: 2,
			}); err != nil {
				return err
			}
		}
		dv := model.NewDailyVolume(1, poolAddr, hour)
		dv.Checkpoints = []model.Checkpoint{{Timestamp: hour, AmountUSD: wad(6000), EventID: "x"}}
		dv.VolumeUSD = wad(6000)
		dv.Inactive = false
		return tx.SaveDailyVolume(ctx, dv)
	})
	require.NoError(t, err)
	return store
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]json.RawMessage) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func newTestRouter(t *testing.T) http.Handler {
	a := New(seed(t), nil)
	a.now = func() time.Time { return time.Unix(hour+2*3600+10, 0) }
	return a.Router(nil)
}

func TestHealthz(t *testing.T) {
	code, body := get(t, newTestRouter(t), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `"ok"`, string(body["status"]))
}

func TestPool(t *testing.T) {
	code, body := get(t, newTestRouter(t), "/v1/chains/1/pools/0x2222222222222222222222222222222222222222")
	require.Equal(t, http.StatusOK, code)

	var view poolView
	require.NoError(t, json.Unmarshal(body["data"], &view))
	assert.Equal(t, poolAddr, view.Address)
	assert.Equal(t, "4", view.Price)
	assert.Equal(t, "6000", view.VolumeUSD)
	assert.Equal(t, uint64(3), view.SwapCount)
	assert.Equal(t, "0.0000", view.PercentDayChange)
}

func TestAddressIsCaseInsensitive(t *testing.T) {
	code, _ := get(t, newTestRouter(t), "/v1/chains/1/assets/0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.Equal(t, http.StatusOK, code)
}

func TestPoolErrors(t *testing.T) {
	router := newTestRouter(t)

	code, body := get(t, router, "/v1/chains/x/pools/"+poolAddr)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.JSONEq(t, `"error"`, string(body["status"]))

	code, _ = get(t, router, "/v1/chains/1/pools/not-an-address")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, router, "/v1/chains/2/pools/"+poolAddr)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHours(t *testing.T) {
	router := newTestRouter(t)

	code, body := get(t, router, "/v1/chains/1/pools/"+poolAddr+"/hours")
	require.Equal(t, http.StatusOK, code)
	var hours []hourView
	require.NoError(t, json.Unmarshal(body["data"], &hours))
	require.Len(t, hours, 3)
	assert.Equal(t, hour, hours[0].HourID)
	assert.Equal(t, "2", hours[0].Close)

	code, body = get(t, router, "/v1/chains/1/pools/"+poolAddr+"/hours?from=1700002800&to=1700006400")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body["data"], &hours))
	require.Len(t, hours, 2)
	assert.Equal(t, hour+3600, hours[0].HourID)

	code, _ = get(t, router, "/v1/chains/1/pools/"+poolAddr+"/hours?from=10&to=5")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, router, "/v1/chains/1/pools/"+poolAddr+"/hours?from=0&to=1700006400")
	assert.Equal(t, http.StatusBadRequest, code)

	// to-from would overflow int64
	code, _ = get(t, router, "/v1/chains/1/pools/"+poolAddr+"/hours?from=-9223372036854775800&to=1700006400")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = get(t, router, "/v1/chains/1/pools/"+poolAddr+"/hours?to=-5")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVolume(t *testing.T) {
	code, body := get(t, newTestRouter(t), "/v1/chains/1/pools/"+poolAddr+"/volume")
	require.Equal(t, http.StatusOK, code)

	var view volumeView
	require.NoError(t, json.Unmarshal(body["data"], &view))
	assert.Equal(t, "6000", view.VolumeUSD)
	assert.Equal(t, 1, view.Checkpoints)
	assert.False(t, view.Inactive)
}

func TestAsset(t *testing.T) {
	code, body := get(t, newTestRouter(t), "/v1/chains/1/assets/"+assetAddr)
	require.Equal(t, http.StatusOK, code)

	var view assetView
	require.NoError(t, json.Unmarshal(body["data"], &view))
	assert.Equal(t, "AST", view.Symbol)
	assert.Equal(t, "1000", view.TotalSupply)
	assert.Equal(t, uint64(7), view.HolderCount)
	assert.Equal(t, poolAddr, view.Pool)
}
