// Package engine applies decoded pool events to the entity store and keeps
// the derived pool metrics current.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"poolScope/internal/aggregate"
	"poolScope/internal/lease"
	"poolScope/internal/model"
	"poolScope/internal/observability"
	"poolScope/internal/pubsub"
	"poolScope/internal/storage"
)

// ChainReader is the on-chain read collaborator.
type ChainReader interface {
	PoolState(ctx context.Context, pool string, block uint64) (model.PoolState, error)
	PoolConfig(ctx context.Context, pool string) (model.PoolConfig, error)
	Balances(ctx context.Context, owner string, tokens []string, block uint64) ([]*big.Int, error)
	TokenMeta(ctx context.Context, token string) (model.TokenMeta, error)
	AssetData(ctx context.Context, airlock, asset string) (model.AssetData, error)
}

// PriceOracle resolves the ETH/USD price in effect at a timestamp.
type PriceOracle interface {
	PriceAt(ctx context.Context, chainID uint64, ts int64) (*big.Int, bool)
}

// Deps are the collaborators shared by the engine and the refresher.
// Only Store is mandatory.
type Deps struct {
	Store     storage.Store
	Reader    ChainReader
	Oracle    PriceOracle
	Locker    lease.Locker
	Publisher pubsub.Publisher
	Swaps     storage.SwapSink
	Metrics   *observability.Metrics
	Logger    *zap.Logger
	// Strict turns invariant violations and handler panics into failures.
	Strict bool
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Store == nil {
		return d, errors.New("store is nil")
	}
	if d.Locker == nil {
		d.Locker = lease.NewLocal()
	}
	if d.Publisher == nil {
		d.Publisher = pubsub.Nop{}
	}
	if d.Metrics == nil {
		d.Metrics = observability.NewMetrics("")
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return d, nil
}

// Engine processes one chain's events strictly in delivery order.
type Engine struct {
	store     storage.Store
	reader    ChainReader
	oracle    PriceOracle
	locker    lease.Locker
	publisher pubsub.Publisher
	swaps     storage.SwapSink
	metrics   *observability.Metrics
	logger    *zap.Logger
	guard     *aggregate.Guard
}

// New builds an Engine.
func New(deps Deps) (*Engine, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:     deps.Store,
		reader:    deps.Reader,
		oracle:    deps.Oracle,
		locker:    deps.Locker,
		publisher: deps.Publisher,
		swaps:     deps.Swaps,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		guard:     aggregate.NewGuard(deps.Strict, deps.Metrics.InvariantFailures, deps.Logger),
	}, nil
}

// skipError marks an event that was deliberately not applied.
type skipError struct {
	reason string
}

func (e *skipError) Error() string { return "event skipped: " + e.reason }

var (
	errDuplicate = &skipError{reason: "duplicate"}
	errUntracked = &skipError{reason: "untracked"}
)

// fanout is what a committed handler hands to the post-commit sinks.
type fanout struct {
	snapshots []model.PoolSnapshot
	swap      *model.SwapPoint
}

// Process applies one event. Malformed, duplicate and untracked events are
// skipped and return nil; any other error means the event was not applied
// and may be retried.
func (e *Engine) Process(ctx context.Context, ev model.Event) (err error) {
	kind := string(ev.Kind)
	logger := e.logger.With(eventFields(ev)...)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			if e.guard.Strict() {
				panic(r)
			}
			e.metrics.EventErrors.WithLabelValues(kind).Inc()
			logger.Error("handler panic, event skipped", zap.Any("panic", r), zap.Stack("stack"))
			err = nil
		}
	}()

	var out *fanout
	switch ev.Kind {
	case model.EventPoolCreated:
		out, err = e.handlePoolCreated(ctx, ev, logger)
	case model.EventMint, model.EventBurn:
		out, err = e.handleLiquidity(ctx, ev, logger)
	case model.EventSwap:
		out, err = e.handleSwap(ctx, ev, logger)
	case model.EventMigrated:
		out, err = e.handleMigrated(ctx, ev, logger)
	case model.EventTransfer:
		out, err = e.handleTransfer(ctx, ev, logger)
	default:
		err = fmt.Errorf("%w: unknown event kind %q", model.ErrMalformedEvent, ev.Kind)
	}

	var skip *skipError
	switch {
	case err == nil:
		e.metrics.EventsProcessed.WithLabelValues(kind).Inc()
		e.metrics.EventLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
		e.emit(ctx, out, logger)
		return nil
	case errors.As(err, &skip):
		e.metrics.EventsSkipped.WithLabelValues(kind, skip.reason).Inc()
		logger.Debug("event skipped", zap.String("reason", skip.reason))
		return nil
	case errors.Is(err, model.ErrMalformedEvent):
		e.metrics.EventsSkipped.WithLabelValues(kind, "malformed").Inc()
		logger.Warn("malformed event skipped", zap.Any("payload", ev.Payload), zap.Error(err))
		return nil
	default:
		e.metrics.EventErrors.WithLabelValues(kind).Inc()
		return fmt.Errorf("process %s %s: %w", kind, ev.ID(), err)
	}
}

// withLease runs fn inside a store transaction while holding the lease on key.
// The processed-event marker is written first so replays fall out as errDuplicate.
func (e *Engine) withLease(ctx context.Context, ev model.Event, key string, fn func(ctx context.Context, tx storage.Tx) error) error {
	waitStart := time.Now()
	release, err := e.locker.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", key, err)
	}
	defer release()
	e.metrics.LeaseWait.Observe(time.Since(waitStart).Seconds())

	return e.store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		fresh, err := tx.MarkEventProcessed(ctx, ev.ChainID, ev.ID(), ev.Timestamp)
		if err != nil {
			return fmt.Errorf("mark event: %w", err)
		}
		if !fresh {
			return errDuplicate
		}
		return fn(ctx, tx)
	})
}

func (e *Engine) emit(ctx context.Context, out *fanout, logger *zap.Logger) {
	if out == nil {
		return
	}
	for _, snap := range out.snapshots {
		if err := e.publisher.Publish(ctx, snap); err != nil {
			e.metrics.PublishFailures.Inc()
			logger.Warn("publish snapshot failed", zap.String("pool", snap.Pool), zap.Error(err))
		}
	}
	if out.swap != nil && e.swaps != nil {
		if err := e.swaps.PutSwapPoints(ctx, []model.SwapPoint{*out.swap}); err != nil {
			logger.Warn("swap sink failed", zap.Error(err))
		}
	}
}

// ethPrice reads the oracle before any lease is taken.
func (e *Engine) ethPrice(ctx context.Context, ev model.Event, logger *zap.Logger) *big.Int {
	if e.oracle == nil {
		return nil
	}
	price, ok := e.oracle.PriceAt(ctx, ev.ChainID, ev.Timestamp)
	if !ok {
		logger.Warn("no oracle price, usd metrics keep previous values")
		return nil
	}
	return price
}

func eventFields(ev model.Event) []zap.Field {
	return []zap.Field{
		zap.Uint64("chain_id", ev.ChainID),
		zap.String("event", string(ev.Kind)),
		zap.Uint64("block", ev.BlockNumber),
		zap.String("tx", ev.TxHash),
		zap.Uint64("log_index", ev.LogIndex),
		zap.String("address", ev.Address),
	}
}

func payloadError(ev model.Event) error {
	return fmt.Errorf("%w: %s payload has type %T", model.ErrMalformedEvent, ev.Kind, ev.Payload)
}

func notFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
