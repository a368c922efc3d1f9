package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"poolScope/internal/chain"
	"poolScope/internal/config"
	"poolScope/internal/dex"
	"poolScope/internal/engine"
	"poolScope/internal/indexer"
	"poolScope/internal/lease"
	"poolScope/internal/model"
	"poolScope/internal/observability"
	"poolScope/internal/oracle"
	"poolScope/internal/pubsub"
	natspub "poolScope/internal/pubsub/nats"
	"poolScope/internal/storage"
	"poolScope/internal/storage/clickhouse"
	"poolScope/internal/storage/memory"
	"poolScope/internal/storage/postgres"
	"poolScope/internal/storage/sqlite"
)

type migrator interface {
	Migrate(ctx context.Context) error
}

// app owns the components shared by every chain.
type app struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   *observability.Metrics
	store     storage.Store
	locker    lease.Locker
	publisher pubsub.Publisher
	swaps     *storage.BatchSwapSink
	oracle    *oracle.Cache

	closers []func()
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   observability.NewMetrics("poolscope"),
		publisher: pubsub.Nop{},
	}

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	if err := a.openLocker(); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.NATS.URL != "" {
		pub, err := natspub.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger.Named("nats"))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.publisher = pub
		a.closers = append(a.closers, func() { _ = pub.Close() })
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := openClickHouse(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.swaps = storage.NewBatchSwapSink(clickhouse.NewSwapStore(conn), cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval, logger.Named("swaps"))
		a.closers = append(a.closers, func() {
			if err := a.swaps.Flush(context.Background()); err != nil {
				logger.Warn("final swap flush failed", zap.Error(err))
			}
			_ = conn.Close()
		})
	}

	a.oracle = oracle.NewCache(store,
		oracle.WithLookback(cfg.Oracle.Lookback),
		oracle.WithTimeout(cfg.Oracle.Timeout),
		oracle.WithMissCounter(a.metrics.OracleMisses),
		oracle.WithLogger(logger.Named("oracle")),
	)

	logger.Info("components ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("lease", cfg.Lease.Driver),
		zap.Bool("nats", cfg.NATS.URL != ""),
		zap.Bool("clickhouse", cfg.ClickHouse.DSN != ""),
		zap.Bool("strict", cfg.StrictInvariants),
	)
	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) openLocker() error {
	switch a.cfg.Lease.Driver {
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: a.cfg.Lease.RedisAddr})
		locker, err := lease.NewRedis(rdb, a.cfg.Lease.Prefix, a.cfg.Lease.TTL, a.logger.Named("lease"))
		if err != nil {
			_ = rdb.Close()
			return fmt.Errorf("redis lease: %w", err)
		}
		a.locker = locker
		a.closers = append(a.closers, func() { _ = rdb.Close() })
	default:
		a.locker = lease.NewLocal()
	}
	return nil
}

// deps returns the engine collaborators; reader is nil for the refresher.
func (a *app) deps(reader engine.ChainReader) engine.Deps {
	deps := engine.Deps{
		Store:     a.store,
		Oracle:    a.oracle,
		Locker:    a.locker,
		Publisher: a.publisher,
		Metrics:   a.metrics,
		Logger:    a.logger,
		Strict:    a.cfg.StrictInvariants,
	}
	if reader != nil {
		deps.Reader = reader
	}
	if a.swaps != nil {
		deps.Swaps = a.swaps
	}
	return deps
}

func (a *app) refresherConfig() engine.RefresherConfig {
	return engine.RefresherConfig{
		Interval:    a.cfg.Refresher.Interval,
		BatchSize:   a.cfg.Refresher.BatchSize,
		Concurrency: a.cfg.Refresher.Concurrency,
	}
}

func (a *app) decoder() (*dex.EventDecoder, error) {
	decoder, err := dex.NewEventDecoder(dex.DecoderConfig{Topic0Map: a.cfg.Indexer.Topic0Map})
	if err != nil {
		return nil, fmt.Errorf("build decoder: %w", err)
	}
	return decoder, nil
}

// chainRuntime is everything bound to one RPC endpoint.
type chainRuntime struct {
	cfg    config.ChainConfig
	client *chain.Client
	engine *engine.Engine
	runner *indexer.Runner
	poller *oracle.Poller
}

// feedPoller samples one chain's ETH/USD feed at its head.
type feedPoller struct {
	chainID uint64
	poller  *oracle.Poller
	head    oracle.HeadReader
}

func (p feedPoller) run(ctx context.Context, interval time.Duration) error {
	return p.poller.Run(ctx, p.head, interval)
}

// newPoller returns the feed poller of ch, or nil when it has no feed.
func (a *app) newPoller(ch config.ChainConfig, reader oracle.FeedReader, logger *zap.Logger) *oracle.Poller {
	if ch.EthUSDFeed == "" {
		logger.Warn("no eth-usd-feed configured, USD metrics depend on existing samples")
		return nil
	}
	return oracle.NewPoller(ch.ChainID, ch.EthUSDFeed, reader, a.store, a.metrics.OracleSamples, logger.Named("poller"))
}

// openPollers dials every chain with a feed for head sampling without
// building its indexer.
func (a *app) openPollers(ctx context.Context) ([]feedPoller, error) {
	var out []feedPoller
	for _, ch := range a.cfg.Chains {
		logger := a.logger.With(zap.String("chain", ch.Name), zap.Uint64("chain_id", ch.ChainID))
		if ch.EthUSDFeed == "" {
			logger.Warn("no eth-usd-feed configured, USD metrics depend on existing samples")
			continue
		}
		client, err := a.dial(ctx, ch)
		if err != nil {
			return nil, err
		}
		reader := dex.NewOnchainReader(client, a.cfg.RPCTimeout, logger.Named("reader"))
		out = append(out, feedPoller{chainID: ch.ChainID, poller: a.newPoller(ch, reader, logger), head: client})
	}
	return out, nil
}

func (a *app) openChain(ctx context.Context, ch config.ChainConfig, decoder dex.Decoder) (*chainRuntime, error) {
	logger := a.logger.With(zap.String("chain", ch.Name), zap.Uint64("chain_id", ch.ChainID))

	client, err := a.dial(ctx, ch)
	if err != nil {
		return nil, err
	}

	reader := dex.NewOnchainReader(client, a.cfg.RPCTimeout, logger.Named("reader"))
	eng, err := engine.New(a.deps(reader))
	if err != nil {
		return nil, err
	}

	poller := a.newPoller(ch, reader, logger)

	var archive *storage.Archive
	if a.cfg.Indexer.Archive != "" || a.cfg.Indexer.DecodeErrors != "" {
		archive = storage.NewArchive(
			perChainPath(a.cfg.Indexer.Archive, ch.ChainID, len(a.cfg.Chains)),
			perChainPath(a.cfg.Indexer.DecodeErrors, ch.ChainID, len(a.cfg.Chains)),
		)
	}

	deps := indexer.RunnerDeps{
		Source:    client,
		Decoder:   decoder,
		Processor: eng,
		State:     a.store,
		Metrics:   a.metrics,
		Logger:    logger,
	}
	if poller != nil {
		deps.Sampler = poller
	}
	if archive != nil {
		deps.Archive = archive
		deps.DecodeErrors = archive
	}

	runner, err := indexer.NewRunner(indexer.RunConfig{
		ChainID:        ch.ChainID,
		Airlock:        common.HexToAddress(ch.Airlock),
		StartBlock:     ch.StartBlock,
		ToBlock:        a.cfg.Indexer.ToBlock,
		BatchSize:      a.cfg.Indexer.BatchSize,
		AddressChunk:   a.cfg.Indexer.AddressChunk,
		Confirmations:  a.cfg.Indexer.Confirmations,
		MaxRetries:     a.cfg.Indexer.MaxRetries,
		RetryBackoff:   a.cfg.Indexer.RetryBackoff,
		Follow:         a.cfg.Indexer.Follow,
		PollInterval:   a.cfg.Indexer.PollInterval,
		CheckpointPath: perChainPath(a.cfg.Indexer.Checkpoint, ch.ChainID, len(a.cfg.Chains)),
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("chain %s: %w", ch.Name, err)
	}

	return &chainRuntime{cfg: ch, client: client, engine: eng, runner: runner, poller: poller}, nil
}

// dial connects to the chain RPC and checks it serves the configured chain.
func (a *app) dial(ctx context.Context, ch config.ChainConfig) (*chain.Client, error) {
	client, err := chain.NewClient(ctx, ch.RPC)
	if err != nil {
		return nil, fmt.Errorf("connect rpc %s: %w", ch.Name, err)
	}
	a.closers = append(a.closers, client.Close)

	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain %s: read chain id: %w", ch.Name, err)
	}
	if id.Uint64() != ch.ChainID {
		return nil, fmt.Errorf("chain %s: rpc serves chain %d, configured %d", ch.Name, id.Uint64(), ch.ChainID)
	}
	return client, nil
}

// replay re-dispatches an archive. Each record is routed to the engine of its chain.
func (a *app) replay(ctx context.Context, path string) (indexer.ReplayStats, error) {
	decoder, err := a.decoder()
	if err != nil {
		return indexer.ReplayStats{}, err
	}

	engines := make(map[uint64]*engine.Engine, len(a.cfg.Chains))
	for _, ch := range a.cfg.Chains {
		client, err := a.dial(ctx, ch)
		if err != nil {
			return indexer.ReplayStats{}, err
		}
		reader := dex.NewOnchainReader(client, a.cfg.RPCTimeout, a.logger.Named("reader"))
		eng, err := engine.New(a.deps(reader))
		if err != nil {
			return indexer.ReplayStats{}, err
		}
		engines[ch.ChainID] = eng
	}
	if len(engines) == 0 {
		// handlers degrade without on-chain reads
		eng, err := engine.New(a.deps(nil))
		if err != nil {
			return indexer.ReplayStats{}, err
		}
		return a.replayFile(ctx, path, decoder, eng)
	}
	return a.replayFile(ctx, path, decoder, chainRouter(engines))
}

func (a *app) replayFile(ctx context.Context, path string, decoder dex.Decoder, processor indexer.Processor) (indexer.ReplayStats, error) {
	file, err := os.Open(path)
	if err != nil {
		return indexer.ReplayStats{}, fmt.Errorf("open input: %w", err)
	}
	defer file.Close()
	return indexer.Replay(ctx, file, decoder, processor, a.logger.Named("replay"))
}

// chainRouter dispatches an event to the engine of its chain.
type chainRouter map[uint64]*engine.Engine

func (r chainRouter) Process(ctx context.Context, ev model.Event) error {
	eng, ok := r[ev.ChainID]
	if !ok {
		return fmt.Errorf("no engine for chain %d", ev.ChainID)
	}
	return eng.Process(ctx, ev)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.NewStore(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, nil
	case "memory":
		return memory.NewStore(), nil
	default:
		store, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return store, nil
	}
}

func openClickHouse(ctx context.Context, dsn string) (*clickhouse.Conn, error) {
	conn, err := clickhouse.NewConn(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := conn.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate clickhouse: %w", err)
	}
	return conn, nil
}

// perChainPath keeps per-chain files apart when more than one chain runs.
func perChainPath(path string, chainID uint64, chains int) string {
	if path == "" || chains <= 1 {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-" + strconv.FormatUint(chainID, 10) + ext
}
