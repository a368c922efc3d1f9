package memory

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"poolScope/internal/model"
	"poolScope/internal/storage"
)

type bucketKey struct {
	chainID uint64
	pool    string
	hourID  int64
}

type priceKey struct {
	chainID uint64
	ts      int64
}

type holderKey struct {
	chainID uint64
	user    string
	asset   string
}

// state is the full dataset. Transactions work on a copy and swap it in on commit.
type state struct {
	pools          map[model.Key]model.Pool
	assets         map[model.Key]model.Asset
	tokens         map[model.Key]model.Token
	volumes        map[model.Key]model.DailyVolume
	buckets        map[bucketKey]model.HourBucket
	ethPrices      map[priceKey]model.EthPrice
	positions      map[model.PositionKey]model.Position
	users          map[model.Key]model.User
	userAssets     map[holderKey]model.UserAsset
	migrationPools map[model.Key]model.MigrationPool
	processed      map[string]int64
	cursors        map[string]uint64
}

func newState() *state {
	return &state{
		pools:          make(map[model.Key]model.Pool),
		assets:         make(map[model.Key]model.Asset),
		tokens:         make(map[model.Key]model.Token),
		volumes:        make(map[model.Key]model.DailyVolume),
		buckets:        make(map[bucketKey]model.HourBucket),
		ethPrices:      make(map[priceKey]model.EthPrice),
		positions:      make(map[model.PositionKey]model.Position),
		users:          make(map[model.Key]model.User),
		userAssets:     make(map[holderKey]model.UserAsset),
		migrationPools: make(map[model.Key]model.MigrationPool),
		processed:      make(map[string]int64),
		cursors:        make(map[string]uint64),
	}
}

func (s *state) clone() *state {
	return &state{
		pools:          cloneMap(s.pools),
		assets:         cloneMap(s.assets),
		tokens:         cloneMap(s.tokens),
		volumes:        cloneMap(s.volumes),
		buckets:        cloneMap(s.buckets),
		ethPrices:      cloneMap(s.ethPrices),
		positions:      cloneMap(s.positions),
		users:          cloneMap(s.users),
		userAssets:     cloneMap(s.userAssets),
		migrationPools: cloneMap(s.migrationPools),
		processed:      cloneMap(s.processed),
		cursors:        cloneMap(s.cursors),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func key(chainID uint64, address string) model.Key {
	return model.Key{ChainID: chainID, Address: model.NormalizeAddress(address)}
}

func (s *state) GetPool(_ context.Context, chainID uint64, address string) (model.Pool, error) {
	pool, ok := s.pools[key(chainID, address)]
	if !ok {
		return model.Pool{}, storage.ErrNotFound
	}
	return pool, nil
}

func (s *state) GetAsset(_ context.Context, chainID uint64, address string) (model.Asset, error) {
	asset, ok := s.assets[key(chainID, address)]
	if !ok {
		return model.Asset{}, storage.ErrNotFound
	}
	return asset, nil
}

func (s *state) GetToken(_ context.Context, chainID uint64, address string) (model.Token, error) {
	token, ok := s.tokens[key(chainID, address)]
	if !ok {
		return model.Token{}, storage.ErrNotFound
	}
	return token, nil
}

func (s *state) GetDailyVolume(_ context.Context, chainID uint64, pool string) (model.DailyVolume, error) {
	dv, ok := s.volumes[key(chainID, pool)]
	if !ok {
		return model.DailyVolume{}, storage.ErrNotFound
	}
	return dv.Clone(), nil
}

func (s *state) GetHourBucket(_ context.Context, chainID uint64, pool string, hourID int64) (model.HourBucket, error) {
	b, ok := s.buckets[bucketKey{chainID, model.NormalizeAddress(pool), hourID}]
	if !ok {
		return model.HourBucket{}, storage.ErrNotFound
	}
	return b, nil
}

func (s *state) GetPosition(_ context.Context, k model.PositionKey) (model.Position, error) {
	k.Pool = model.NormalizeAddress(k.Pool)
	k.Owner = model.NormalizeAddress(k.Owner)
	pos, ok := s.positions[k]
	if !ok {
		return model.Position{}, storage.ErrNotFound
	}
	return pos, nil
}

func (s *state) GetUserAsset(_ context.Context, chainID uint64, user, asset string) (model.UserAsset, error) {
	ua, ok := s.userAssets[holderKey{chainID, model.NormalizeAddress(user), model.NormalizeAddress(asset)}]
	if !ok {
		return model.UserAsset{}, storage.ErrNotFound
	}
	return ua, nil
}

func (s *state) GetMigrationPool(_ context.Context, chainID uint64, address string) (model.MigrationPool, error) {
	mp, ok := s.migrationPools[key(chainID, address)]
	if !ok {
		return model.MigrationPool{}, storage.ErrNotFound
	}
	return mp, nil
}

func (s *state) ListHourBuckets(_ context.Context, chainID uint64, pool string, from, to int64) ([]model.HourBucket, error) {
	pool = model.NormalizeAddress(pool)
	var out []model.HourBucket
	for k, b := range s.buckets {
		if k.chainID == chainID && k.pool == pool && k.hourID >= from && k.hourID <= to {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HourID < out[j].HourID })
	return out, nil
}

func (s *state) NearestHourBucket(_ context.Context, chainID uint64, pool string, target, tolerance int64) (model.HourBucket, error) {
	pool = model.NormalizeAddress(pool)
	var (
		best     model.HourBucket
		bestDist int64 = -1
	)
	for k, b := range s.buckets {
		if k.chainID != chainID || k.pool != pool {
			continue
		}
		dist := k.hourID - target
		if dist < 0 {
			dist = -dist
		}
		if dist > tolerance {
			continue
		}
		if bestDist < 0 || dist < bestDist || (dist == bestDist && k.hourID < best.HourID) {
			best, bestDist = b, dist
		}
	}
	if bestDist < 0 {
		return model.HourBucket{}, storage.ErrNotFound
	}
	return best, nil
}

func (s *state) LatestEthPrice(_ context.Context, chainID uint64, from, to int64) (model.EthPrice, error) {
	var (
		best  model.EthPrice
		found bool
	)
	for k, p := range s.ethPrices {
		if k.chainID != chainID || k.ts < from || k.ts > to {
			continue
		}
		if !found || k.ts > best.Timestamp {
			best, found = p, true
		}
	}
	if !found {
		return model.EthPrice{}, storage.ErrNotFound
	}
	return best, nil
}

// write side

func (s *state) MarkEventProcessed(_ context.Context, chainID uint64, eventID string, ts int64) (bool, error) {
	k := fmt.Sprintf("%d|%s", chainID, eventID)
	if _, ok := s.processed[k]; ok {
		return false, nil
	}
	s.processed[k] = ts
	return true, nil
}

func (s *state) InsertPool(_ context.Context, pool model.Pool) (model.Pool, bool, error) {
	pool.Address = model.NormalizeAddress(pool.Address)
	pool.Asset = model.NormalizeAddress(pool.Asset)
	pool.Numeraire = model.NormalizeAddress(pool.Numeraire)
	if existing, ok := s.pools[pool.Key()]; ok {
		return existing, false, nil
	}
	s.pools[pool.Key()] = pool
	return pool, true, nil
}

func (s *state) InsertAsset(_ context.Context, asset model.Asset) (model.Asset, bool, error) {
	k := key(asset.ChainID, asset.Address)
	if existing, ok := s.assets[k]; ok {
		return existing, false, nil
	}
	asset.Address = k.Address
	s.assets[k] = asset
	return asset, true, nil
}

func (s *state) InsertToken(_ context.Context, token model.Token) (model.Token, bool, error) {
	k := key(token.ChainID, token.Address)
	if existing, ok := s.tokens[k]; ok {
		return existing, false, nil
	}
	token.Address = k.Address
	s.tokens[k] = token
	return token, true, nil
}

func (s *state) InsertDailyVolume(_ context.Context, dv model.DailyVolume) (model.DailyVolume, bool, error) {
	k := key(dv.ChainID, dv.Pool)
	if existing, ok := s.volumes[k]; ok {
		return existing.Clone(), false, nil
	}
	dv.Pool = k.Address
	s.volumes[k] = dv.Clone()
	return dv, true, nil
}

func (s *state) InsertMigrationPool(_ context.Context, mp model.MigrationPool) (model.MigrationPool, bool, error) {
	k := key(mp.ChainID, mp.Address)
	if existing, ok := s.migrationPools[k]; ok {
		return existing, false, nil
	}
	mp.Address = k.Address
	s.migrationPools[k] = mp
	return mp, true, nil
}

func (s *state) UpdatePool(_ context.Context, chainID uint64, address string, patch model.PoolPatch) error {
	k := key(chainID, address)
	pool, ok := s.pools[k]
	if !ok {
		return storage.ErrNotFound
	}
	patch.Apply(&pool)
	s.pools[k] = pool
	return nil
}

func (s *state) UpdateAsset(_ context.Context, chainID uint64, address string, patch model.AssetPatch) error {
	k := key(chainID, address)
	asset, ok := s.assets[k]
	if !ok {
		return storage.ErrNotFound
	}
	patch.Apply(&asset)
	s.assets[k] = asset
	return nil
}

func (s *state) UpdateToken(_ context.Context, chainID uint64, address string, patch model.TokenPatch) error {
	k := key(chainID, address)
	token, ok := s.tokens[k]
	if !ok {
		return storage.ErrNotFound
	}
	patch.Apply(&token)
	s.tokens[k] = token
	return nil
}

func (s *state) SaveDailyVolume(_ context.Context, dv model.DailyVolume) error {
	k := key(dv.ChainID, dv.Pool)
	dv.Pool = k.Address
	s.volumes[k] = dv.Clone()
	return nil
}

func (s *state) SaveHourBucket(_ context.Context, b model.HourBucket) error {
	b.Pool = model.NormalizeAddress(b.Pool)
	s.buckets[bucketKey{b.ChainID, b.Pool, b.HourID}] = b
	return nil
}

func (s *state) SavePosition(_ context.Context, pos model.Position) error {
	pos.Pool = model.NormalizeAddress(pos.Pool)
	pos.Owner = model.NormalizeAddress(pos.Owner)
	s.positions[model.PositionKey{
		ChainID:   pos.ChainID,
		Pool:      pos.Pool,
		Owner:     pos.Owner,
		TickLower: pos.TickLower,
		TickUpper: pos.TickUpper,
	}] = pos
	return nil
}

func (s *state) SaveUserAsset(_ context.Context, ua model.UserAsset) error {
	ua.User = model.NormalizeAddress(ua.User)
	ua.Asset = model.NormalizeAddress(ua.Asset)
	if ua.Balance == nil {
		ua.Balance = new(big.Int)
	}
	s.userAssets[holderKey{ua.ChainID, ua.User, ua.Asset}] = ua
	return nil
}

func (s *state) TouchUser(_ context.Context, chainID uint64, address string, ts int64) error {
	k := key(chainID, address)
	user, ok := s.users[k]
	if !ok {
		s.users[k] = model.User{ChainID: chainID, Address: k.Address, FirstSeenAt: ts, LastSeenAt: ts}
		return nil
	}
	if ts > user.LastSeenAt {
		user.LastSeenAt = ts
	}
	if ts < user.FirstSeenAt {
		user.FirstSeenAt = ts
	}
	s.users[k] = user
	return nil
}
