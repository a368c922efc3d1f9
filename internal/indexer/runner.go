package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"poolScope/internal/dex"
	"poolScope/internal/model"
	"poolScope/internal/observability"
	"poolScope/internal/storage"
)

// LogSource is the chain surface the runner reads from.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// Processor applies one decoded event.
type Processor interface {
	Process(ctx context.Context, ev model.Event) error
}

// Sampler records the oracle price in effect at a block.
type Sampler interface {
	Sample(ctx context.Context, block uint64, ts int64) error
}

// State is the store surface the runner needs: tracked addresses and its cursor.
type State interface {
	TrackedAddresses(ctx context.Context, chainID uint64) (pools []string, assets []string, err error)
	LoadCursor(ctx context.Context, name string) (uint64, bool, error)
	SaveCursor(ctx context.Context, name string, block uint64) error
}

// DecodeErrorSink receives logs that could not be decoded.
type DecodeErrorSink interface {
	PutDecodeErrors(errs []model.DecodeError) error
}

// RunConfig holds runtime settings for one chain.
type RunConfig struct {
	ChainID        uint64
	Airlock        common.Address
	StartBlock     uint64
	ToBlock        uint64
	BatchSize      uint64
	AddressChunk   int
	Confirmations  uint64
	MaxRetries     int
	RetryBackoff   time.Duration
	Follow         bool
	PollInterval   time.Duration
	CheckpointPath string
}

// RunnerDeps are the collaborators of a Runner. Sampler, Archive, DecodeErrors
// and Metrics are optional.
type RunnerDeps struct {
	Source       LogSource
	Decoder      dex.Decoder
	Processor    Processor
	State        State
	Sampler      Sampler
	Archive      storage.LogSink
	DecodeErrors DecodeErrorSink
	Metrics      *observability.Metrics
	Logger       *zap.Logger
}

// Runner follows the Airlock of one chain, discovers launched pools and
// assets, and feeds their logs to the processor in chain order.
type Runner struct {
	cfg  RunConfig
	deps RunnerDeps

	logger        *zap.Logger
	seen          map[string]struct{}
	tracked       map[string]struct{}
	checkpoint    *CheckpointStore
	retry         retryPolicy
	airlockTopics []common.Hash
	trackedTopics []common.Hash
	chainLabel    string
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, deps RunnerDeps) (*Runner, error) {
	if deps.Source == nil {
		return nil, errors.New("log source is nil")
	}
	if deps.Decoder == nil {
		return nil, errors.New("decoder is nil")
	}
	if deps.Processor == nil {
		return nil, errors.New("processor is nil")
	}
	if deps.State == nil {
		return nil, errors.New("state store is nil")
	}
	if cfg.BatchSize == 0 {
		return nil, errors.New("batch size must be greater than zero")
	}
	if cfg.Airlock == (common.Address{}) {
		return nil, errors.New("airlock address is required")
	}
	if cfg.AddressChunk <= 0 {
		cfg.AddressChunk = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics("")
	}

	airlockTopics, err := dex.AirlockTopics()
	if err != nil {
		return nil, fmt.Errorf("airlock topics: %w", err)
	}
	trackedTopics, err := dex.TrackedTopics()
	if err != nil {
		return nil, fmt.Errorf("tracked topics: %w", err)
	}

	return &Runner{
		cfg:           cfg,
		deps:          deps,
		logger:        deps.Logger.With(zap.Uint64("chain_id", cfg.ChainID)),
		seen:          make(map[string]struct{}),
		tracked:       make(map[string]struct{}),
		checkpoint:    NewCheckpointStore(cfg.CheckpointPath, cfg.ChainID),
		retry:         newRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff),
		airlockTopics: airlockTopics,
		trackedTopics: trackedTopics,
		chainLabel:    strconv.FormatUint(cfg.ChainID, 10),
	}, nil
}

// CursorName is the cursor key of a chain.
func CursorName(chainID uint64) string {
	return fmt.Sprintf("indexer:%d", chainID)
}

// Run executes the indexing loop. Without Follow it returns once the head
// (or ToBlock) is reached.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.loadTracked(ctx); err != nil {
		return err
	}
	from, err := r.resume(ctx)
	if err != nil {
		return err
	}

	for {
		window, ok, err := r.window(ctx, from)
		if err != nil {
			return err
		}

		if ok {
			ranges, err := window.Batches(r.cfg.BatchSize)
			if err != nil {
				return err
			}
			for _, blockRange := range ranges {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err := r.syncRange(ctx, blockRange); err != nil {
					return err
				}
				from = blockRange.To + 1
			}
		}

		if !r.cfg.Follow || (r.cfg.ToBlock != 0 && from > r.cfg.ToBlock) {
			r.logger.Info("sync complete", zap.Uint64("next_block", from))
			return nil
		}

		timer := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (r *Runner) loadTracked(ctx context.Context) error {
	pools, assets, err := r.deps.State.TrackedAddresses(ctx, r.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("load tracked addresses: %w", err)
	}
	for _, addr := range append(pools, assets...) {
		r.track(addr)
	}
	r.logger.Info("tracked addresses loaded", zap.Int("pools", len(pools)), zap.Int("assets", len(assets)))
	return nil
}

// resume returns the first block to sync: after the store cursor, else after
// the file checkpoint, else the configured start block.
func (r *Runner) resume(ctx context.Context) (uint64, error) {
	from := r.cfg.StartBlock

	last, ok, err := r.deps.State.LoadCursor(ctx, CursorName(r.cfg.ChainID))
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		cp, found, err := r.checkpoint.Load()
		if err != nil {
			return 0, err
		}
		last, ok = cp.LastProcessedBlock, found
	}
	if ok && last >= from {
		from = last + 1
		r.logger.Info("resume from cursor", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}
	return from, nil
}

// window is the confirmed range starting at from that may be synced now.
func (r *Runner) window(ctx context.Context, from uint64) (BlockRange, bool, error) {
	var head uint64
	err := r.retry.do(ctx, func(ctx context.Context) error {
		var err error
		head, err = r.deps.Source.LatestBlockNumber(ctx)
		return err
	}, r.onRetry("latest block"))
	if err != nil {
		return BlockRange{}, false, fmt.Errorf("get latest block: %w", err)
	}
	window, ok := Window(from, head, r.cfg.Confirmations, r.cfg.ToBlock)
	return window, ok, nil
}

// onRetry logs a failed attempt that is about to be retried.
func (r *Runner) onRetry(op string, fields ...zap.Field) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		r.logger.Warn(op+" failed, retrying", append(fields,
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)...)
	}
}

func (r *Runner) syncRange(ctx context.Context, blockRange BlockRange) error {
	logger := r.logger.With(zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
	logger.Debug("fetch logs")

	airlockLogs, err := r.filterLogsWithRetry(ctx, blockRange, []common.Address{r.cfg.Airlock}, r.airlockTopics)
	if err != nil {
		return fmt.Errorf("filter airlock logs: %w", err)
	}
	for _, log := range airlockLogs {
		r.discover(log)
	}

	logs := airlockLogs
	for _, chunk := range chunkAddresses(r.trackedAddresses(), r.cfg.AddressChunk) {
		chunkLogs, err := r.filterLogsWithRetry(ctx, blockRange, chunk, r.trackedTopics)
		if err != nil {
			return fmt.Errorf("filter tracked logs: %w", err)
		}
		logs = append(logs, chunkLogs...)
	}
	sortLogs(logs)
	r.deps.Metrics.LogsFetched.WithLabelValues(r.chainLabel).Add(float64(len(logs)))

	ingestedAt := time.Now().UTC()
	records := make([]model.LogRecord, 0, len(logs))
	var decodeErrs []model.DecodeError
	for _, log := range logs {
		if log.Removed || r.isDuplicate(log) {
			continue
		}

		ts, err := r.blockTimestampWithRetry(ctx, log.BlockNumber)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		record := newLogRecord(r.cfg.ChainID, log, ts, ingestedAt)
		records = append(records, record)

		if r.deps.Sampler != nil {
			if err := r.deps.Sampler.Sample(ctx, log.BlockNumber, int64(ts)); err != nil {
				logger.Warn("oracle sample failed", zap.Uint64("block", log.BlockNumber), zap.Error(err))
			}
		}

		ev, err := r.deps.Decoder.Decode(record)
		if err != nil {
			r.deps.Metrics.DecodeErrors.WithLabelValues(r.chainLabel).Inc()
			logger.Warn("decode failed", zap.String("tx", record.TxHash), zap.Uint64("log_index", record.LogIndex), zap.Error(err))
			decodeErrs = append(decodeErrs, model.NewDecodeError(record, err))
			continue
		}

		if err := r.retry.do(ctx, func(ctx context.Context) error {
			return r.deps.Processor.Process(ctx, ev)
		}, r.onRetry("process event", zap.String("tx", record.TxHash), zap.Uint64("log_index", record.LogIndex))); err != nil {
			return fmt.Errorf("process log: %w", err)
		}
	}

	if r.deps.Archive != nil {
		if err := r.deps.Archive.PutLogBatch(records); err != nil {
			return fmt.Errorf("archive logs: %w", err)
		}
	}
	if r.deps.DecodeErrors != nil {
		if err := r.deps.DecodeErrors.PutDecodeErrors(decodeErrs); err != nil {
			logger.Warn("write decode errors failed", zap.Error(err))
		}
	}

	if err := r.deps.State.SaveCursor(ctx, CursorName(r.cfg.ChainID), blockRange.To); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	if err := r.checkpoint.Save(blockRange.To); err != nil {
		return err
	}
	r.deps.Metrics.LastProcessedBlock.WithLabelValues(r.chainLabel).Set(float64(blockRange.To))
	if forgetter, ok := r.deps.Source.(interface{ ForgetTimestamps(uint64) }); ok {
		forgetter.ForgetTimestamps(blockRange.From)
	}
	clear(r.seen)

	logger.Info("batch complete", zap.Int("logs", len(records)), zap.Int("tracked", len(r.tracked)))
	return nil
}

// discover adds the asset and pool of an Airlock Create log to the tracked set.
func (r *Runner) discover(log types.Log) {
	if len(log.Topics) == 0 || log.Topics[0] != r.airlockTopics[0] {
		return
	}
	ev, err := r.deps.Decoder.Decode(newLogRecord(r.cfg.ChainID, log, 0, time.Time{}))
	if err != nil {
		return
	}
	created, ok := ev.Payload.(model.PoolCreatedData)
	if !ok {
		return
	}
	r.track(created.Asset)
	r.track(created.Pool)
	r.logger.Info("pool discovered",
		zap.String("pool", created.Pool),
		zap.String("asset", created.Asset),
		zap.Uint64("block", log.BlockNumber),
	)
}

func (r *Runner) track(address string) {
	if address == "" {
		return
	}
	r.tracked[strings.ToLower(address)] = struct{}{}
}

func (r *Runner) trackedAddresses() []common.Address {
	out := make([]common.Address, 0, len(r.tracked))
	for addr := range r.tracked {
		out = append(out, common.HexToAddress(addr))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, blockRange BlockRange, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error) {
	var logs []types.Log
	err := r.retry.do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = r.deps.Source.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topic0)
		return err
	}, r.onRetry("filter logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To)))
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, blockNumber uint64) (uint64, error) {
	var ts uint64
	err := r.retry.do(ctx, func(ctx context.Context) error {
		var err error
		ts, err = r.deps.Source.BlockTimestamp(ctx, blockNumber)
		return err
	}, r.onRetry("block timestamp", zap.Uint64("block", blockNumber)))
	return ts, err
}

func (r *Runner) isDuplicate(log types.Log) bool {
	id := logKey(log)
	if _, ok := r.seen[id]; ok {
		return true
	}
	r.seen[id] = struct{}{}
	return false
}

func chunkAddresses(addresses []common.Address, size int) [][]common.Address {
	var chunks [][]common.Address
	for start := 0; start < len(addresses); start += size {
		end := min(start+size, len(addresses))
		chunks = append(chunks, addresses[start:end])
	}
	return chunks
}
