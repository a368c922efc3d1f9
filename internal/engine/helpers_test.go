package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"poolScope/internal/lease"
	"poolScope/internal/model"
	"poolScope/internal/observability"
	"poolScope/internal/storage/memory"
)

const (
	testChain uint64 = 1
	base      int64  = 1_699_999_200

	airlockAddr   = "0x1111111111111111111111111111111111111111"
	poolAddr      = "0x2222222222222222222222222222222222222222"
	assetAddr     = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	numeraireAddr = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	aliceAddr     = "0xa11ce00000000000000000000000000000000001"
	bobAddr       = "0xb0b0000000000000000000000000000000000002"
)

var (
	ethUSD = big.NewInt(3000_0000_0000)
	sqrt1x = new(big.Int).Lsh(big.NewInt(1), 96) // price 1
	sqrt4x = new(big.Int).Lsh(big.NewInt(1), 97) // price 4
)

func e18(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

type fakeReader struct {
	state       model.PoolState
	stateErr    error
	config      model.PoolConfig
	balances    []*big.Int
	balancesErr error
	metas       map[string]model.TokenMeta
	assetData   model.AssetData
	panicOnRead bool
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		state:    model.PoolState{SqrtPriceX96: sqrt1x, Tick: 0, Liquidity: e18(100)},
		config:   model.PoolConfig{Token0: assetAddr, Token1: numeraireAddr, Fee: 3000, TickSpacing: 60},
		balances: []*big.Int{e18(1000), e18(5)},
		metas: map[string]model.TokenMeta{
			assetAddr:     {Address: assetAddr, Name: "Asset", Symbol: "AST", Decimals: 18, TotalSupply: e18(1000)},
			numeraireAddr: {Address: numeraireAddr, Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18},
		},
		assetData: model.AssetData{Numeraire: numeraireAddr, Governance: "0x3333333333333333333333333333333333333333"},
	}
}

func (f *fakeReader) PoolState(context.Context, string, uint64) (model.PoolState, error) {
	if f.stateErr != nil {
		return model.PoolState{}, f.stateErr
	}
	return f.state, nil
}

func (f *fakeReader) PoolConfig(context.Context, string) (model.PoolConfig, error) {
	return f.config, nil
}

func (f *fakeReader) Balances(context.Context, string, []string, uint64) ([]*big.Int, error) {
	if f.panicOnRead {
		panic("balances exploded")
	}
	if f.balancesErr != nil {
		return nil, f.balancesErr
	}
	return f.balances, nil
}

func (f *fakeReader) TokenMeta(_ context.Context, token string) (model.TokenMeta, error) {
	meta, ok := f.metas[token]
	if !ok {
		return model.TokenMeta{}, fmt.Errorf("no metadata for %s", token)
	}
	return meta, nil
}

func (f *fakeReader) AssetData(context.Context, string, string) (model.AssetData, error) {
	return f.assetData, nil
}

type fakeOracle struct {
	price *big.Int
}

func (o fakeOracle) PriceAt(context.Context, uint64, int64) (*big.Int, bool) {
	return o.price, o.price != nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	snapshots []model.PoolSnapshot
}

func (p *recordingPublisher) Publish(_ context.Context, snap model.PoolSnapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots = append(p.snapshots, snap)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) all() []model.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.PoolSnapshot(nil), p.snapshots...)
}

type recordingSwaps struct {
	mu     sync.Mutex
	points []model.SwapPoint
}

func (s *recordingSwaps) PutSwapPoints(_ context.Context, points []model.SwapPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points = append(s.points, points...)
	return nil
}

// flakyLocker fails the next n acquisitions, and every acquisition of deny.
type flakyLocker struct {
	inner *lease.Local
	fail  atomic.Int32
	deny  string
}

func (l *flakyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if key == l.deny {
		return nil, fmt.Errorf("%w: %s denied", lease.ErrNotAcquired, key)
	}
	if l.fail.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: %s", lease.ErrNotAcquired, key)
	}
	return l.inner.Acquire(ctx, key)
}

type harness struct {
	engine    *Engine
	store     *memory.Store
	reader    *fakeReader
	publisher *recordingPublisher
	swaps     *recordingSwaps
	locker    *flakyLocker
	metrics   *observability.Metrics
}

type harnessOption func(*Deps)

func strict() harnessOption {
	return func(d *Deps) { d.Strict = true }
}

func withoutOracle() harnessOption {
	return func(d *Deps) { d.Oracle = fakeOracle{} }
}

func withoutReader() harnessOption {
	return func(d *Deps) { d.Reader = nil }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		store:     memory.NewStore(),
		reader:    newFakeReader(),
		publisher: &recordingPublisher{},
		swaps:     &recordingSwaps{},
		locker:    &flakyLocker{inner: lease.NewLocal()},
		metrics:   observability.NewMetrics(""),
	}
	deps := Deps{
		Store:     h.store,
		Reader:    h.reader,
		Oracle:    fakeOracle{price: ethUSD},
		Locker:    h.locker,
		Publisher: h.publisher,
		Swaps:     h.swaps,
		Metrics:   h.metrics,
		Logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}
	eng, err := New(deps)
	require.NoError(t, err)
	h.engine = eng
	return h
}

func (h *harness) process(t *testing.T, ev model.Event) {
	t.Helper()
	require.NoError(t, h.engine.Process(context.Background(), ev))
}

func (h *harness) pool(t *testing.T) model.Pool {
	t.Helper()
	pool, err := h.store.GetPool(context.Background(), testChain, poolAddr)
	require.NoError(t, err)
	return pool
}

func (h *harness) asset(t *testing.T) model.Asset {
	t.Helper()
	asset, err := h.store.GetAsset(context.Background(), testChain, assetAddr)
	require.NoError(t, err)
	return asset
}

var txCounter atomic.Uint64

func event(kind model.EventKind, address string, ts int64, payload any) model.Event {
	n := txCounter.Add(1)
	return model.Event{
		ChainID:     testChain,
		BlockNumber: 100 + n,
		TxHash:      fmt.Sprintf("0x%064x", n),
		LogIndex:    n % 7,
		Address:     address,
		Kind:        kind,
		Timestamp:   ts,
		Payload:     payload,
	}
}

func createEvent(ts int64) model.Event {
	return event(model.EventPoolCreated, airlockAddr, ts, model.PoolCreatedData{
		Asset:       assetAddr,
		Numeraire:   numeraireAddr,
		Initializer: "0x4444444444444444444444444444444444444444",
		Pool:        poolAddr,
	})
}

// buyEvent takes 1 asset out of the pool for 2 numeraire at price 4.
func buyEvent(ts int64) model.Event {
	return event(model.EventSwap, poolAddr, ts, model.SwapEventData{
		Sender:       aliceAddr,
		Recipient:    aliceAddr,
		Amount0:      e18(-1),
		Amount1:      e18(2),
		SqrtPriceX96: sqrt4x,
		Liquidity:    e18(100),
		Tick:         13863,
	})
}

func mintEvent(ts int64, lower, upper int32, amount *big.Int) model.Event {
	return event(model.EventMint, poolAddr, ts, model.MintEventData{
		Sender: aliceAddr, Owner: aliceAddr, TickLower: lower, TickUpper: upper, Amount: amount,
	})
}

func burnEvent(ts int64, lower, upper int32, amount *big.Int) model.Event {
	return event(model.EventBurn, poolAddr, ts, model.BurnEventData{
		Owner: aliceAddr, TickLower: lower, TickUpper: upper, Amount: amount,
	})
}

func transferEvent(ts int64, from, to string, value *big.Int) model.Event {
	return event(model.EventTransfer, assetAddr, ts, model.TransferEventData{From: from, To: to, Value: value})
}

var errRPC = errors.New("rpc unavailable")
