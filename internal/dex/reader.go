package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolScope/internal/chain"
	"poolScope/internal/model"
)

// Caller is the subset of the chain client the reader needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BatchCall(ctx context.Context, calls []chain.Call, blockNumber *big.Int) error
}

type metaCache[V any] struct {
	mu   sync.RWMutex
	data map[common.Address]V
}

func newMetaCache[V any]() *metaCache[V] {
	return &metaCache[V]{data: make(map[common.Address]V)}
}

func (c *metaCache[V]) Get(address common.Address) (V, bool) {
	c.mu.RLock()
	v, ok := c.data[address]
	c.mu.RUnlock()
	return v, ok
}

func (c *metaCache[V]) Set(address common.Address, v V) {
	c.mu.Lock()
	c.data[address] = v
	c.mu.Unlock()
}

// OnchainReader performs the contract reads handlers need. Immutable data
// (pool config, token metadata) is cached for the life of the reader.
type OnchainReader struct {
	caller  Caller
	timeout time.Duration
	logger  *zap.Logger

	tokens  *metaCache[model.TokenMeta]
	configs *metaCache[model.PoolConfig]
}

// NewOnchainReader builds a reader. timeout bounds every call; zero disables it.
func NewOnchainReader(caller Caller, timeout time.Duration, logger *zap.Logger) *OnchainReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OnchainReader{
		caller:  caller,
		timeout: timeout,
		logger:  logger,
		tokens:  newMetaCache[model.TokenMeta](),
		configs: newMetaCache[model.PoolConfig](),
	}
}

type callSpec struct {
	abi    abi.ABI
	to     common.Address
	method string
	args   []interface{}
}

type callResult struct {
	values []interface{}
	err    error
}

// PoolState reads slot0 and liquidity at block (0 for latest).
func (r *OnchainReader) PoolState(ctx context.Context, pool string, block uint64) (model.PoolState, error) {
	addr, err := parseAddress(pool)
	if err != nil {
		return model.PoolState{}, err
	}
	parsed, err := PoolABI()
	if err != nil {
		return model.PoolState{}, fmt.Errorf("parse pool abi: %w", err)
	}

	results, err := r.batch(ctx, block, []callSpec{
		{abi: parsed, to: addr, method: "slot0"},
		{abi: parsed, to: addr, method: "liquidity"},
	})
	if err != nil {
		return model.PoolState{}, err
	}
	if err := firstError(results); err != nil {
		return model.PoolState{}, err
	}

	sqrt, err := asBigInt(results[0].values[0])
	if err != nil {
		return model.PoolState{}, fmt.Errorf("slot0 sqrtPriceX96: %w", err)
	}
	tickInt, err := asBigInt(results[0].values[1])
	if err != nil {
		return model.PoolState{}, fmt.Errorf("slot0 tick: %w", err)
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return model.PoolState{}, fmt.Errorf("slot0 tick: %w", err)
	}
	liquidity, err := asBigInt(results[1].values[0])
	if err != nil {
		return model.PoolState{}, fmt.Errorf("liquidity: %w", err)
	}

	return model.PoolState{SqrtPriceX96: sqrt, Tick: tick, Liquidity: liquidity}, nil
}

// PoolConfig reads token0, token1, fee and tickSpacing.
func (r *OnchainReader) PoolConfig(ctx context.Context, pool string) (model.PoolConfig, error) {
	addr, err := parseAddress(pool)
	if err != nil {
		return model.PoolConfig{}, err
	}
	if cfg, ok := r.configs.Get(addr); ok {
		return cfg, nil
	}
	parsed, err := PoolABI()
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("parse pool abi: %w", err)
	}

	results, err := r.batch(ctx, 0, []callSpec{
		{abi: parsed, to: addr, method: "token0"},
		{abi: parsed, to: addr, method: "token1"},
		{abi: parsed, to: addr, method: "fee"},
		{abi: parsed, to: addr, method: "tickSpacing"},
	})
	if err != nil {
		return model.PoolConfig{}, err
	}
	if err := firstError(results); err != nil {
		return model.PoolConfig{}, err
	}

	token0, err := asAddress(results[0].values[0])
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("token0: %w", err)
	}
	token1, err := asAddress(results[1].values[0])
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("token1: %w", err)
	}
	fee, err := asBigInt(results[2].values[0])
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("fee: %w", err)
	}
	spacingInt, err := asBigInt(results[3].values[0])
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("tick spacing: %w", err)
	}
	spacing, err := int24FromBig(spacingInt)
	if err != nil {
		return model.PoolConfig{}, fmt.Errorf("tick spacing: %w", err)
	}

	cfg := model.PoolConfig{
		Token0:      model.NormalizeAddress(token0.Hex()),
		Token1:      model.NormalizeAddress(token1.Hex()),
		Fee:         uint32(fee.Uint64()),
		TickSpacing: spacing,
	}
	r.configs.Set(addr, cfg)
	return cfg, nil
}

// Balances reads balanceOf(owner) for every token in one batch.
func (r *OnchainReader) Balances(ctx context.Context, owner string, tokens []string, block uint64) ([]*big.Int, error) {
	ownerAddr, err := parseAddress(owner)
	if err != nil {
		return nil, err
	}
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	specs := make([]callSpec, 0, len(tokens))
	for _, token := range tokens {
		tokenAddr, err := parseAddress(token)
		if err != nil {
			return nil, err
		}
		specs = append(specs, callSpec{abi: parsed, to: tokenAddr, method: "balanceOf", args: []interface{}{ownerAddr}})
	}

	results, err := r.batch(ctx, block, specs)
	if err != nil {
		return nil, err
	}
	if err := firstError(results); err != nil {
		return nil, err
	}

	out := make([]*big.Int, len(results))
	for i, res := range results {
		balance, err := asBigInt(res.values[0])
		if err != nil {
			return nil, fmt.Errorf("balanceOf %s: %w", tokens[i], err)
		}
		out[i] = balance
	}
	return out, nil
}

// TokenMeta loads ERC20 metadata. Only decimals is mandatory; name and symbol
// fall back to the bytes32 encoding used by some older tokens.
func (r *OnchainReader) TokenMeta(ctx context.Context, token string) (model.TokenMeta, error) {
	addr, err := parseAddress(token)
	if err != nil {
		return model.TokenMeta{}, err
	}
	if meta, ok := r.tokens.Get(addr); ok {
		return meta, nil
	}
	parsed, err := ERC20ABI()
	if err != nil {
		return model.TokenMeta{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	fallback, err := erc20Bytes32ABI.get()
	if err != nil {
		return model.TokenMeta{}, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	calls := []chain.Call{
		{To: addr, Data: parsed.Methods["decimals"].ID},
		{To: addr, Data: parsed.Methods["symbol"].ID},
		{To: addr, Data: parsed.Methods["name"].ID},
		{To: addr, Data: parsed.Methods["totalSupply"].ID},
	}
	if err := r.batchRaw(ctx, 0, calls); err != nil {
		return model.TokenMeta{}, err
	}

	meta := model.TokenMeta{Address: model.NormalizeAddress(addr.Hex())}
	if calls[0].Err != nil {
		return model.TokenMeta{}, fmt.Errorf("call decimals: %w", calls[0].Err)
	}
	values, err := parsed.Unpack("decimals", calls[0].Result)
	if err != nil {
		return model.TokenMeta{}, fmt.Errorf("unpack decimals: %w", err)
	}
	if meta.Decimals, err = asUint8(values[0]); err != nil {
		return model.TokenMeta{}, err
	}

	meta.Symbol = r.unpackText(parsed, fallback, "symbol", calls[1], addr)
	meta.Name = r.unpackText(parsed, fallback, "name", calls[2], addr)

	if calls[3].Err == nil {
		if values, err := parsed.Unpack("totalSupply", calls[3].Result); err == nil {
			if supply, err := asBigInt(values[0]); err == nil {
				meta.TotalSupply = supply
			}
		}
	}
	if meta.TotalSupply == nil {
		r.logger.Debug("totalSupply call failed", zap.String("token", addr.Hex()))
	}

	r.tokens.Set(addr, meta)
	return meta, nil
}

func (r *OnchainReader) unpackText(parsed, fallback abi.ABI, method string, call chain.Call, token common.Address) string {
	if call.Err != nil {
		r.logger.Debug(method+" call failed", zap.String("token", token.Hex()), zap.Error(call.Err))
		return ""
	}
	if values, err := parsed.Unpack(method, call.Result); err == nil {
		if text, ok := values[0].(string); ok {
			return text
		}
	}
	if values, err := fallback.Unpack(method, call.Result); err == nil {
		if text, ok := bytes32ToString(values[0]); ok {
			return text
		}
	}
	r.logger.Debug(method+" decode failed", zap.String("token", token.Hex()))
	return ""
}

// AssetData reads the Airlock launch record of asset.
func (r *OnchainReader) AssetData(ctx context.Context, airlock, asset string) (model.AssetData, error) {
	airlockAddr, err := parseAddress(airlock)
	if err != nil {
		return model.AssetData{}, err
	}
	assetAddr, err := parseAddress(asset)
	if err != nil {
		return model.AssetData{}, err
	}
	parsed, err := AirlockABI()
	if err != nil {
		return model.AssetData{}, fmt.Errorf("parse airlock abi: %w", err)
	}

	values, err := r.call(ctx, 0, callSpec{abi: parsed, to: airlockAddr, method: "getAssetData", args: []interface{}{assetAddr}})
	if err != nil {
		return model.AssetData{}, err
	}
	if len(values) != 10 {
		return model.AssetData{}, fmt.Errorf("unexpected getAssetData values: %d", len(values))
	}

	addrs := make([]string, 0, 8)
	for _, idx := range []int{0, 1, 2, 3, 4, 5, 6, 9} {
		a, err := asAddress(values[idx])
		if err != nil {
			return model.AssetData{}, fmt.Errorf("getAssetData[%d]: %w", idx, err)
		}
		addrs = append(addrs, model.NormalizeAddress(a.Hex()))
	}
	toSell, err := asBigInt(values[7])
	if err != nil {
		return model.AssetData{}, fmt.Errorf("numTokensToSell: %w", err)
	}
	supply, err := asBigInt(values[8])
	if err != nil {
		return model.AssetData{}, fmt.Errorf("totalSupply: %w", err)
	}

	return model.AssetData{
		Numeraire:         addrs[0],
		Timelock:          addrs[1],
		Governance:        addrs[2],
		LiquidityMigrator: addrs[3],
		PoolInitializer:   addrs[4],
		Pool:              addrs[5],
		MigrationPool:     addrs[6],
		NumTokensToSell:   toSell,
		TotalSupply:       supply,
		Integrator:        addrs[7],
	}, nil
}

// LatestAnswer reads the Chainlink answer of feed at block (0 for latest).
func (r *OnchainReader) LatestAnswer(ctx context.Context, feed string, block uint64) (*big.Int, error) {
	feedAddr, err := parseAddress(feed)
	if err != nil {
		return nil, err
	}
	parsed, err := AggregatorABI()
	if err != nil {
		return nil, fmt.Errorf("parse aggregator abi: %w", err)
	}
	values, err := r.call(ctx, block, callSpec{abi: parsed, to: feedAddr, method: "latestRoundData"})
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("unexpected latestRoundData values: %d", len(values))
	}
	answer, err := asBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("answer: %w", err)
	}
	if answer.Sign() <= 0 {
		return nil, fmt.Errorf("non-positive answer %s", answer)
	}
	return answer, nil
}

func (r *OnchainReader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *OnchainReader) call(ctx context.Context, block uint64, spec callSpec) ([]interface{}, error) {
	if r.caller == nil {
		return nil, errors.New("chain client is nil")
	}
	data, err := spec.abi.Pack(spec.method, spec.args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", spec.method, err)
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	to := spec.to
	resp, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockArg(block))
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", spec.method, err)
	}
	values, err := spec.abi.Unpack(spec.method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", spec.method, err)
	}
	return values, nil
}

func (r *OnchainReader) batch(ctx context.Context, block uint64, specs []callSpec) ([]callResult, error) {
	calls := make([]chain.Call, len(specs))
	for i, spec := range specs {
		data, err := spec.abi.Pack(spec.method, spec.args...)
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", spec.method, err)
		}
		calls[i] = chain.Call{To: spec.to, Data: data}
	}
	if err := r.batchRaw(ctx, block, calls); err != nil {
		return nil, err
	}

	results := make([]callResult, len(specs))
	for i, spec := range specs {
		if calls[i].Err != nil {
			results[i].err = fmt.Errorf("call %s: %w", spec.method, calls[i].Err)
			continue
		}
		values, err := spec.abi.Unpack(spec.method, calls[i].Result)
		if err != nil {
			results[i].err = fmt.Errorf("unpack %s: %w", spec.method, err)
			continue
		}
		results[i].values = values
	}
	return results, nil
}

func (r *OnchainReader) batchRaw(ctx context.Context, block uint64, calls []chain.Call) error {
	if r.caller == nil {
		return errors.New("chain client is nil")
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.caller.BatchCall(ctx, calls, blockArg(block))
}

func firstError(results []callResult) error {
	for _, res := range results {
		if res.err != nil {
			return res.err
		}
	}
	return nil
}

func blockArg(block uint64) *big.Int {
	if block == 0 {
		return nil
	}
	return new(big.Int).SetUint64(block)
}

func parseAddress(value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid address: %q", value)
	}
	return common.HexToAddress(value), nil
}
