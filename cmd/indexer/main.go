package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"poolScope/internal/api"
	"poolScope/internal/config"
	"poolScope/internal/engine"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Doppler pool metrics indexer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("store-driver", "sqlite", "entity store (postgres, sqlite, memory)")
	root.PersistentFlags().String("store-dsn", "./data/poolscope.db", "entity store DSN or sqlite path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Index every configured chain and serve the API",
		RunE:  runIndexer,
	}
	runCmd.Flags().String("rpc", "", "RPC URL of a single chain (when no chains list is configured)")
	runCmd.Flags().Uint64("chain-id", 0, "chain id of the single chain")
	runCmd.Flags().String("airlock", "", "Airlock address of the single chain")
	runCmd.Flags().Uint64("start-block", 0, "first block of the single chain")
	runCmd.Flags().String("eth-usd-feed", "", "Chainlink ETH/USD feed of the single chain")
	runCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	runCmd.Flags().Bool("follow", false, "keep polling for new blocks")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	runCmd.Flags().Uint64("confirmations", 0, "blocks to stay behind head")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("archive", "", "raw log JSONL archive path")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	runCmd.Flags().String("lease-driver", "local", "pool lease backend (local, redis)")
	runCmd.Flags().String("redis-addr", "", "redis address for the redis lease")
	runCmd.Flags().String("nats-url", "", "NATS URL for pool snapshots")
	runCmd.Flags().String("clickhouse", "", "ClickHouse DSN for swap points")
	runCmd.Flags().Bool("strict-invariants", false, "fail on invariant violations instead of clamping")
	runCmd.Flags().Bool("no-api", false, "do not start the query API")
	root.AddCommand(runCmd)

	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Decay stale pools once, or forever with --loop",
		RunE:  runRefresh,
	}
	refreshCmd.Flags().Bool("loop", false, "keep refreshing on refresher.interval")
	refreshCmd.Flags().String("at", "", "evaluate staleness at this time (unix seconds or RFC3339)")
	refreshCmd.Flags().String("lease-driver", "local", "pool lease backend (local, redis)")
	refreshCmd.Flags().String("redis-addr", "", "redis address for the redis lease")
	refreshCmd.Flags().String("nats-url", "", "NATS URL for pool snapshots")
	root.AddCommand(refreshCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only query API",
		RunE:  runServe,
	}
	root.AddCommand(serveCmd)

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-dispatch an archived raw log file",
		RunE:  runReplay,
	}
	replayCmd.Flags().String("in", "", "input raw logs JSONL")
	replayCmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
	replayCmd.Flags().String("lease-driver", "local", "pool lease backend (local, redis)")
	replayCmd.Flags().String("redis-addr", "", "redis address for the redis lease")
	replayCmd.Flags().Bool("strict-invariants", false, "fail on invariant violations instead of clamping")
	root.AddCommand(replayCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the entity store schema (and ClickHouse table when configured)",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("clickhouse", "", "ClickHouse DSN for swap points")
	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads config and builds the logger shared by every command.
func setup(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func runIndexer(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}
	noAPI, _ := cmd.Flags().GetBool("no-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	decoder, err := a.decoder()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	runners, rctx := errgroup.WithContext(gctx)
	for _, ch := range cfg.Chains {
		rt, err := a.openChain(ctx, ch, decoder)
		if err != nil {
			return err
		}
		logger.Info("indexer start",
			zap.String("chain", ch.Name),
			zap.Uint64("chain_id", ch.ChainID),
			zap.String("airlock", ch.Airlock),
			zap.Uint64("start_block", ch.StartBlock),
			zap.Uint64("batch_size", cfg.Indexer.BatchSize),
			zap.Bool("follow", cfg.Indexer.Follow),
		)
		runners.Go(func() error { return rt.runner.Run(rctx) })
		if rt.poller != nil {
			poller := feedPoller{chainID: ch.ChainID, poller: rt.poller, head: rt.client}
			g.Go(func() error { return poller.run(gctx, cfg.Oracle.PollInterval) })
		}
	}
	g.Go(func() error {
		err := runners.Wait()
		if err == nil && !cfg.Indexer.Follow {
			logger.Info("backfill complete")
			cancel()
		}
		return err
	})

	refresher, err := engine.NewRefresher(a.refresherConfig(), a.deps(nil))
	if err != nil {
		return err
	}
	g.Go(func() error { return refresher.Run(gctx, cfg.ChainIDs()) })

	if a.swaps != nil {
		g.Go(func() error {
			a.swaps.Run(gctx)
			return nil
		})
	}

	g.Go(func() error { return serveHTTP(gctx, cfg.MetricsAddr, a.metrics.Handler(), logger) })
	if !noAPI {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.APIAddr, api.New(a.store, logger).Router(nil), logger)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runRefresh(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	loop, _ := cmd.Flags().GetBool("loop")
	atFlag, _ := cmd.Flags().GetString("at")
	at, err := config.ParseTimestamp(atFlag)
	if err != nil {
		return fmt.Errorf("parse --at: %w", err)
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("no chains configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	refresher, err := engine.NewRefresher(a.refresherConfig(), a.deps(nil))
	if err != nil {
		return err
	}
	pollers, err := a.openPollers(ctx)
	if err != nil {
		return err
	}
	if loop {
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range pollers {
			g.Go(func() error { return p.run(gctx, cfg.Oracle.PollInterval) })
		}
		g.Go(func() error { return refresher.Run(gctx, cfg.ChainIDs()) })
		return g.Wait()
	}

	if at == 0 {
		at = time.Now().Unix()
		for _, p := range pollers {
			if err := p.poller.SampleHead(ctx, p.head); err != nil {
				logger.Warn("head price sample failed", zap.Uint64("chain_id", p.chainID), zap.Error(err))
			}
		}
	}
	for _, chainID := range cfg.ChainIDs() {
		n, err := refresher.RunOnce(ctx, chainID, at)
		if err != nil {
			return fmt.Errorf("refresh chain %d: %w", chainID, err)
		}
		logger.Info("refresh complete", zap.Uint64("chain_id", chainID), zap.Int("pools", n), zap.Int64("at", at))
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	return serveHTTP(ctx, cfg.APIAddr, api.New(store, logger).Router(nil), logger)
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	in, _ := cmd.Flags().GetString("in")
	if in == "" {
		return fmt.Errorf("input path is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.replay(ctx, in)
	logger.Info("replay complete",
		zap.String("in", in),
		zap.Int("lines", stats.Lines),
		zap.Int("dispatched", stats.Dispatched),
		zap.Int("decode_errors", stats.DecodeErrors),
	)
	return err
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	if m, ok := store.(migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate store: %w", err)
		}
	}
	logger.Info("store schema ready", zap.String("driver", cfg.Store.Driver))

	if cfg.ClickHouse.DSN == "" {
		return nil
	}
	conn, err := openClickHouse(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		return err
	}
	defer conn.Close()
	logger.Info("clickhouse schema ready")
	return nil
}

// serveHTTP runs handler on addr until ctx is done.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
