package indexer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poolScope/internal/dex"
	"poolScope/internal/model"
	"poolScope/internal/observability"
	"poolScope/internal/storage/memory"
)

var (
	testAirlock   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testPool      = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testAsset     = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	testNumeraire = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	testTrader    = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeSource struct {
	head uint64
	logs []types.Log
}

func (s *fakeSource) LatestBlockNumber(context.Context) (uint64, error) { return s.head, nil }

func (s *fakeSource) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	return 1_700_000_000 + number*12, nil
}

func (s *fakeSource) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	addrSet := make(map[common.Address]bool, len(addresses))
	for _, a := range addresses {
		addrSet[a] = true
	}
	topicSet := make(map[common.Hash]bool, len(topic0))
	for _, t := range topic0 {
		topicSet[t] = true
	}
	var out []types.Log
	for _, log := range s.logs {
		if log.BlockNumber < from || log.BlockNumber > to || !addrSet[log.Address] || !topicSet[log.Topics[0]] {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

type recordingProcessor struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (p *recordingProcessor) Process(_ context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

type recordingSampler struct {
	blocks []uint64
}

func (s *recordingSampler) Sample(_ context.Context, block uint64, _ int64) error {
	s.blocks = append(s.blocks, block)
	return nil
}

type recordingArchive struct {
	logs   []model.LogRecord
	errors []model.DecodeError
}

func (a *recordingArchive) PutLogBatch(logs []model.LogRecord) error {
	a.logs = append(a.logs, logs...)
	return nil
}

func (a *recordingArchive) PutDecodeErrors(errs []model.DecodeError) error {
	a.errors = append(a.errors, errs...)
	return nil
}

func txHash(block uint64, index uint) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index)))
}

func createLog(t *testing.T, block uint64, index uint) types.Log {
	t.Helper()
	parsed, err := dex.AirlockABI()
	require.NoError(t, err)
	event := parsed.Events["Create"]
	data, err := event.Inputs.NonIndexed().Pack(testAsset, common.HexToAddress("0x4444444444444444444444444444444444444444"), testPool)
	require.NoError(t, err)
	return types.Log{
		Address:     testAirlock,
		Topics:      []common.Hash{event.ID, common.BytesToHash(testNumeraire.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash(block, index),
		Index:       index,
	}
}

func swapLog(t *testing.T, block uint64, index uint) types.Log {
	t.Helper()
	parsed, err := dex.PoolABI()
	require.NoError(t, err)
	event := parsed.Events["Swap"]
	data, err := event.Inputs.NonIndexed().Pack(
		big.NewInt(-1000),
		big.NewInt(2000),
		new(big.Int).Lsh(big.NewInt(1), 96),
		big.NewInt(1_000_000),
		big.NewInt(0),
	)
	require.NoError(t, err)
	return types.Log{
		Address:     testPool,
		Topics:      []common.Hash{event.ID, common.BytesToHash(testTrader.Bytes()), common.BytesToHash(testTrader.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash(block, index),
		Index:       index,
	}
}

func transferLog(t *testing.T, block uint64, index uint) types.Log {
	t.Helper()
	parsed, err := dex.ERC20ABI()
	require.NoError(t, err)
	event := parsed.Events["Transfer"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(1_000_000))
	require.NoError(t, err)
	return types.Log{
		Address:     testAsset,
		Topics:      []common.Hash{event.ID, {}, common.BytesToHash(testAirlock.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      txHash(block, index),
		Index:       index,
	}
}

type runnerFixture struct {
	source    *fakeSource
	processor *recordingProcessor
	sampler   *recordingSampler
	archive   *recordingArchive
	store     *memory.Store
	metrics   *observability.Metrics
}

func newRunnerFixture(head uint64, logs ...types.Log) *runnerFixture {
	return &runnerFixture{
		source:    &fakeSource{head: head, logs: logs},
		processor: &recordingProcessor{},
		sampler:   &recordingSampler{},
		archive:   &recordingArchive{},
		store:     memory.NewStore(),
		metrics:   observability.NewMetrics(""),
	}
}

func (f *runnerFixture) runner(t *testing.T, cfg RunConfig) *Runner {
	t.Helper()
	decoder, err := dex.NewEventDecoder(dex.DecoderConfig{})
	require.NoError(t, err)
	cfg.ChainID = 8453
	cfg.Airlock = testAirlock
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	r, err := NewRunner(cfg, RunnerDeps{
		Source:       f.source,
		Decoder:      decoder,
		Processor:    f.processor,
		State:        f.store,
		Sampler:      f.sampler,
		Archive:      f.archive,
		DecodeErrors: f.archive,
		Metrics:      f.metrics,
	})
	require.NoError(t, err)
	return r
}

func TestRunnerDiscoversPoolsInOrder(t *testing.T) {
	// the mint transfer precedes Create inside the same transaction
	f := newRunnerFixture(30,
		swapLog(t, 25, 0),
		transferLog(t, 5, 0),
		createLog(t, 5, 1),
		swapLog(t, 5, 2),
		swapLog(t, 12, 3),
	)
	r := f.runner(t, RunConfig{StartBlock: 1})

	require.NoError(t, r.Run(context.Background()))

	var kinds []model.EventKind
	var blocks []uint64
	for _, ev := range f.processor.events {
		kinds = append(kinds, ev.Kind)
		blocks = append(blocks, ev.BlockNumber)
	}
	assert.Equal(t, []model.EventKind{model.EventTransfer, model.EventPoolCreated, model.EventSwap, model.EventSwap, model.EventSwap}, kinds)
	assert.Equal(t, []uint64{5, 5, 5, 12, 25}, blocks)
	assert.Equal(t, int64(1_700_000_000+5*12), f.processor.events[0].Timestamp)

	cursor, ok, err := f.store.LoadCursor(context.Background(), CursorName(8453))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(30), cursor)

	assert.Len(t, f.archive.logs, 5)
	assert.Len(t, f.sampler.blocks, 5)
	assert.Equal(t, 30.0, testutil.ToFloat64(f.metrics.LastProcessedBlock.WithLabelValues("8453")))
}

func TestRunnerResumesFromCursor(t *testing.T) {
	f := newRunnerFixture(30, createLog(t, 5, 0), swapLog(t, 12, 0), swapLog(t, 25, 0))
	require.NoError(t, f.store.SaveCursor(context.Background(), CursorName(8453), 20))

	// the pool is known from the store, not from rediscovery
	r := f.runner(t, RunConfig{StartBlock: 1})
	r.track(testPool.Hex())
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, f.processor.events, 1)
	assert.Equal(t, uint64(25), f.processor.events[0].BlockNumber)
}

func TestRunnerHonorsConfirmationsAndToBlock(t *testing.T) {
	f := newRunnerFixture(30, createLog(t, 5, 0), swapLog(t, 12, 0), swapLog(t, 28, 0))

	r := f.runner(t, RunConfig{StartBlock: 1, Confirmations: 5})
	require.NoError(t, r.Run(context.Background()))
	assert.Len(t, f.processor.events, 2)

	cursor, _, err := f.store.LoadCursor(context.Background(), CursorName(8453))
	require.NoError(t, err)
	assert.Equal(t, uint64(25), cursor)

	g := newRunnerFixture(30, createLog(t, 5, 0), swapLog(t, 12, 0), swapLog(t, 28, 0))
	require.NoError(t, g.runner(t, RunConfig{StartBlock: 1, ToBlock: 10}).Run(context.Background()))
	assert.Len(t, g.processor.events, 1)
}

func TestRunnerRecordsDecodeErrors(t *testing.T) {
	broken := swapLog(t, 8, 0)
	broken.Data = []byte{0x01, 0x02}
	f := newRunnerFixture(10, createLog(t, 5, 0), broken, swapLog(t, 9, 0))

	require.NoError(t, f.runner(t, RunConfig{StartBlock: 1}).Run(context.Background()))

	assert.Len(t, f.processor.events, 2)
	require.Len(t, f.archive.errors, 1)
	assert.Equal(t, uint64(8), f.archive.errors[0].BlockNumber)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DecodeErrors.WithLabelValues("8453")))
}

func TestRunnerStopsWithoutAdvancingOnProcessError(t *testing.T) {
	f := newRunnerFixture(10, createLog(t, 5, 0))
	f.processor.err = errors.New("store down")

	err := f.runner(t, RunConfig{StartBlock: 1}).Run(context.Background())
	require.Error(t, err)

	_, ok, err := f.store.LoadCursor(context.Background(), CursorName(8453))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, f.archive.logs)
}

func TestChunkAddresses(t *testing.T) {
	addrs := make([]common.Address, 5)
	for i := range addrs {
		addrs[i] = common.BigToAddress(big.NewInt(int64(i)))
	}
	chunks := chunkAddresses(addrs, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 1)
	assert.Empty(t, chunkAddresses(nil, 2))
}
