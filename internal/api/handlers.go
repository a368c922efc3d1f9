package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"poolScope/internal/aggregate"
	"poolScope/internal/model"
	"poolScope/internal/storage"
)

// maxHourRange bounds one hours query.
const maxHourRange = 31 * 24 * aggregate.HourSeconds

type poolView struct {
	ChainID             uint64 `json:"chain_id"`
	Address             string `json:"address"`
	Asset               string `json:"asset"`
	Numeraire           string `json:"numeraire"`
	IsToken0            bool   `json:"is_token0"`
	Fee                 uint32 `json:"fee"`
	Tick                int32  `json:"tick"`
	Liquidity           string `json:"liquidity"`
	SqrtPriceX96        string `json:"sqrt_price_x96"`
	Price               string `json:"price"`
	DollarLiquidity     string `json:"dollar_liquidity"`
	VolumeUSD           string `json:"volume_usd"`
	PercentDayChange    string `json:"percent_day_change"`
	GraduationThreshold string `json:"graduation_threshold"`
	GraduationBalance   string `json:"graduation_balance"`
	SwapCount           uint64 `json:"swap_count"`
	LastRefreshed       int64  `json:"last_refreshed"`
	LastSwapTimestamp   int64  `json:"last_swap_timestamp"`
	CreatedAt           int64  `json:"created_at"`
}

type hourView struct {
	HourID  int64  `json:"hour_id"`
	Open    string `json:"open"`
	High    string `json:"high"`
	Low     string `json:"low"`
	Close   string `json:"close"`
	Average string `json:"average"`
	Count   uint64 `json:"count"`
}

type volumeView struct {
	Pool               string `json:"pool"`
	VolumeUSD          string `json:"volume_usd"`
	Checkpoints        int    `json:"checkpoints"`
	EarliestCheckpoint int64  `json:"earliest_checkpoint"`
	LastUpdated        int64  `json:"last_updated"`
	Inactive           bool   `json:"inactive"`
}

type assetView struct {
	ChainID       uint64 `json:"chain_id"`
	Address       string `json:"address"`
	Name          string `json:"name,omitempty"`
	Symbol        string `json:"symbol,omitempty"`
	Decimals      uint8  `json:"decimals,omitempty"`
	TotalSupply   string `json:"total_supply,omitempty"`
	Pool          string `json:"pool"`
	Numeraire     string `json:"numeraire"`
	HolderCount   uint64 `json:"holder_count"`
	LiquidityUSD  string `json:"liquidity_usd"`
	MarketCapUSD  string `json:"market_cap_usd"`
	DayVolumeUSD  string `json:"day_volume_usd"`
	Migrated      bool   `json:"migrated"`
	MigrationPool string `json:"migration_pool,omitempty"`
	CreatedAt     int64  `json:"created_at"`
}

func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	if err := writeJSON(w, http.StatusOK, map[string]string{"status": "up"}); err != nil {
		a.logger.Warn("write healthz", zap.Error(err))
	}
}

func (a *API) Pool(w http.ResponseWriter, r *http.Request) {
	chainID, address, ok := a.target(w, r)
	if !ok {
		return
	}
	pool, err := a.store.GetPool(r.Context(), chainID, address)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, poolView{
		ChainID:             pool.ChainID,
		Address:             pool.Address,
		Asset:               pool.Asset,
		Numeraire:           pool.Numeraire,
		IsToken0:            pool.IsToken0,
		Fee:                 pool.Fee,
		Tick:                pool.Tick,
		Liquidity:           bigString(pool.Liquidity),
		SqrtPriceX96:        bigString(pool.SqrtPriceX96),
		Price:               aggregate.FormatWAD(pool.Price),
		DollarLiquidity:     aggregate.FormatWAD(pool.DollarLiquidity),
		VolumeUSD:           aggregate.FormatWAD(pool.VolumeUSD),
		PercentDayChange:    pool.PercentDayChange.StringFixed(4),
		GraduationThreshold: bigString(pool.GraduationThreshold),
		GraduationBalance:   bigString(pool.GraduationBalance),
		SwapCount:           pool.SwapCount,
		LastRefreshed:       pool.LastRefreshed,
		LastSwapTimestamp:   pool.LastSwapTimestamp,
		CreatedAt:           pool.CreatedAt,
	})
}

// Hours lists OHLC buckets in [from, to], defaulting to the last 24 hours.
func (a *API) Hours(w http.ResponseWriter, r *http.Request) {
	chainID, address, ok := a.target(w, r)
	if !ok {
		return
	}

	to := a.now().Unix()
	from := to - aggregate.DayWindow
	var err error
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = strconv.ParseInt(v, 10, 64); err != nil {
			a.badRequest(w, r, "to must be a unix timestamp")
			return
		}
		from = to - aggregate.DayWindow
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = strconv.ParseInt(v, 10, 64); err != nil {
			a.badRequest(w, r, "from must be a unix timestamp")
			return
		}
	}
	if from < 0 {
		a.badRequest(w, r, "from must not be negative")
		return
	}
	if from > to {
		a.badRequest(w, r, "from must not be after to")
		return
	}
	if to-from > maxHourRange {
		a.badRequest(w, r, fmt.Sprintf("range exceeds %d seconds", maxHourRange))
		return
	}

	buckets, err := a.store.ListHourBuckets(r.Context(), chainID, address, aggregate.HourID(from), aggregate.HourID(to))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]hourView, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, hourView{
			HourID:  b.HourID,
			Open:    aggregate.FormatWAD(b.Open),
			High:    aggregate.FormatWAD(b.High),
			Low:     aggregate.FormatWAD(b.Low),
			Close:   aggregate.FormatWAD(b.Close),
			Average: aggregate.FormatWAD(b.Average),
			Count:   b.Count,
		})
	}
	a.respond(w, http.StatusOK, out)
}

func (a *API) Volume(w http.ResponseWriter, r *http.Request) {
	chainID, address, ok := a.target(w, r)
	if !ok {
		return
	}
	dv, err := a.store.GetDailyVolume(r.Context(), chainID, address)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, volumeView{
		Pool:               dv.Pool,
		VolumeUSD:          aggregate.FormatWAD(dv.VolumeUSD),
		Checkpoints:        len(dv.Checkpoints),
		EarliestCheckpoint: dv.EarliestCheckpoint,
		LastUpdated:        dv.LastUpdated,
		Inactive:           dv.Inactive,
	})
}

func (a *API) Asset(w http.ResponseWriter, r *http.Request) {
	chainID, address, ok := a.target(w, r)
	if !ok {
		return
	}
	asset, err := a.store.GetAsset(r.Context(), chainID, address)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	view := assetView{
		ChainID:       asset.ChainID,
		Address:       asset.Address,
		Pool:          asset.Pool,
		Numeraire:     asset.Numeraire,
		HolderCount:   asset.HolderCount,
		LiquidityUSD:  aggregate.FormatWAD(asset.LiquidityUSD),
		MarketCapUSD:  aggregate.FormatWAD(asset.MarketCapUSD),
		DayVolumeUSD:  aggregate.FormatWAD(asset.DayVolumeUSD),
		Migrated:      asset.Migrated,
		MigrationPool: asset.MigrationPool,
		CreatedAt:     asset.CreatedAt,
	}

	token, err := a.store.GetToken(r.Context(), chainID, address)
	switch {
	case err == nil:
		view.Name, view.Symbol, view.Decimals = token.Name, token.Symbol, token.Decimals
		view.TotalSupply = aggregate.FormatFixed(token.TotalSupply, int32(token.Decimals))
	case !errors.Is(err, storage.ErrNotFound):
		a.fail(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, view)
}

// target parses the chain id and address path parameters.
func (a *API) target(w http.ResponseWriter, r *http.Request) (uint64, string, bool) {
	chainID, err := strconv.ParseUint(chi.URLParam(r, "chainID"), 10, 64)
	if err != nil {
		a.badRequest(w, r, "chain id must be a positive integer")
		return 0, "", false
	}
	address := chi.URLParam(r, "address")
	if !common.IsHexAddress(address) {
		a.badRequest(w, r, "invalid address")
		return 0, "", false
	}
	return chainID, model.NormalizeAddress(address), true
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	if err := writeJSON(w, status, body); err != nil {
		a.logger.Warn("write response", zap.Error(err))
	}
}

func (a *API) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	if err := writeError(w, r, http.StatusBadRequest, "bad_request", message); err != nil {
		a.logger.Warn("write response", zap.Error(err))
	}
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := http.StatusInternalServerError, "internal", "internal error"
	if errors.Is(err, storage.ErrNotFound) {
		status, code, message = http.StatusNotFound, "not_found", "not found"
	} else {
		a.logger.Error("query failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	if werr := writeError(w, r, status, code, message); werr != nil {
		a.logger.Warn("write response", zap.Error(werr))
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
