package model

import "math/big"

// Position is the liquidity owned by one account in one tick range of a pool.
type Position struct {
	ChainID   uint64   `json:"chain_id"`
	Pool      string   `json:"pool"`
	Owner     string   `json:"owner"`
	TickLower int32    `json:"tick_lower"`
	TickUpper int32    `json:"tick_upper"`
	Liquidity *big.Int `json:"liquidity"`
	CreatedAt int64    `json:"created_at"`
	UpdatedAt int64    `json:"updated_at"`
}

// PositionKey identifies a position.
type PositionKey struct {
	ChainID   uint64
	Pool      string
	Owner     string
	TickLower int32
	TickUpper int32
}

// User tracks first and last activity of an account.
type User struct {
	ChainID     uint64 `json:"chain_id"`
	Address     string `json:"address"`
	FirstSeenAt int64  `json:"first_seen_at"`
	LastSeenAt  int64  `json:"last_seen_at"`
}

// UserAsset is the balance of one holder for one asset.
type UserAsset struct {
	ChainID   uint64   `json:"chain_id"`
	User      string   `json:"user"`
	Asset     string   `json:"asset"`
	Balance   *big.Int `json:"balance"`
	UpdatedAt int64    `json:"updated_at"`
}
