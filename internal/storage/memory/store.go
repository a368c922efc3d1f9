package memory

import (
	"context"
	"sort"
	"sync"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory storage.Store for tests and local runs.
// Transactions are serialized and copy the dataset, so it suits small data sets only.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex
	st   *state
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{st: newState()}
}

// WithTx runs fn against a private copy and publishes it when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx, working); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = working
	s.mu.Unlock()
	return nil
}

func (s *Store) Close() {}

func (s *Store) StalePools(_ context.Context, chainID uint64, cutoff int64, limit int) ([]model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Pool
	for k, pool := range s.st.pools {
		if k.ChainID != chainID {
			continue
		}
		dv, ok := s.st.volumes[k]
		if !ok || dv.Inactive || dv.EarliestCheckpoint >= cutoff {
			continue
		}
		out = append(out, pool)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastRefreshed != out[j].LastRefreshed {
			return out[i].LastRefreshed < out[j].LastRefreshed
		}
		return out[i].Address < out[j].Address
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) TrackedAddresses(_ context.Context, chainID uint64) ([]string, []string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pools, assets []string
	for k := range s.st.pools {
		if k.ChainID == chainID {
			pools = append(pools, k.Address)
		}
	}
	for k := range s.st.assets {
		if k.ChainID == chainID {
			assets = append(assets, k.Address)
		}
	}
	sort.Strings(pools)
	sort.Strings(assets)
	return pools, assets, nil
}

func (s *Store) InsertEthPrice(_ context.Context, price model.EthPrice) (bool, error) {
	if price.Price == nil {
		return false, storage.ErrInvalidInput
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	k := priceKey{price.ChainID, price.Timestamp}
	if _, ok := s.st.ethPrices[k]; ok {
		return false, nil
	}
	s.st.ethPrices[k] = price
	return true, nil
}

func (s *Store) LoadCursor(_ context.Context, name string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	block, ok := s.st.cursors[name]
	return block, ok, nil
}

func (s *Store) SaveCursor(_ context.Context, name string, block uint64) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.cursors[name] = block
	return nil
}

func (s *Store) GetPool(ctx context.Context, chainID uint64, address string) (model.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetPool(ctx, chainID, address)
}

func (s *Store) GetAsset(ctx context.Context, chainID uint64, address string) (model.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetAsset(ctx, chainID, address)
}

func (s *Store) GetToken(ctx context.Context, chainID uint64, address string) (model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetToken(ctx, chainID, address)
}

func (s *Store) GetDailyVolume(ctx context.Context, chainID uint64, pool string) (model.DailyVolume, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetDailyVolume(ctx, chainID, pool)
}

func (s *Store) GetHourBucket(ctx context.Context, chainID uint64, pool string, hourID int64) (model.HourBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetHourBucket(ctx, chainID, pool, hourID)
}

func (s *Store) GetPosition(ctx context.Context, k model.PositionKey) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetPosition(ctx, k)
}

func (s *Store) GetUserAsset(ctx context.Context, chainID uint64, user, asset string) (model.UserAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetUserAsset(ctx, chainID, user, asset)
}

func (s *Store) GetMigrationPool(ctx context.Context, chainID uint64, address string) (model.MigrationPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.GetMigrationPool(ctx, chainID, address)
}

func (s *Store) ListHourBuckets(ctx context.Context, chainID uint64, pool string, from, to int64) ([]model.HourBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.ListHourBuckets(ctx, chainID, pool, from, to)
}

func (s *Store) NearestHourBucket(ctx context.Context, chainID uint64, pool string, target, tolerance int64) (model.HourBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.NearestHourBucket(ctx, chainID, pool, target, tolerance)
}

func (s *Store) LatestEthPrice(ctx context.Context, chainID uint64, from, to int64) (model.EthPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.LatestEthPrice(ctx, chainID, from, to)
}
