package model

import "math/big"

// Checkpoint is a timestamped USD volume contribution inside the rolling window.
type Checkpoint struct {
	Timestamp int64    `json:"ts"`
	AmountUSD *big.Int `json:"amount_usd"`
	EventID   string   `json:"event_id,omitempty"`
}

// DailyVolume is the rolling 24h volume state of a pool.
// Checkpoints are kept ordered by timestamp.
type DailyVolume struct {
	ChainID            uint64       `json:"chain_id"`
	Pool               string       `json:"pool"`
	Checkpoints        []Checkpoint `json:"checkpoints"`
	VolumeUSD          *big.Int     `json:"volume_usd"`
	EarliestCheckpoint int64        `json:"earliest_checkpoint"`
	LastUpdated        int64        `json:"last_updated"`
	Inactive           bool         `json:"inactive"`
}

// NewDailyVolume returns an empty window anchored at ts.
func NewDailyVolume(chainID uint64, pool string, ts int64) DailyVolume {
	return DailyVolume{
		ChainID:            chainID,
		Pool:               NormalizeAddress(pool),
		VolumeUSD:          new(big.Int),
		EarliestCheckpoint: ts,
		LastUpdated:        ts,
		Inactive:           true,
	}
}

// Clone returns a copy that shares no slice with dv.
func (dv DailyVolume) Clone() DailyVolume {
	out := dv
	out.Checkpoints = append([]Checkpoint(nil), dv.Checkpoints...)
	return out
}

// HourBucket is the OHLC record for one pool hour.
type HourBucket struct {
	ChainID   uint64   `json:"chain_id"`
	Pool      string   `json:"pool"`
	HourID    int64    `json:"hour_id"`
	Open      *big.Int `json:"open"`
	Close     *big.Int `json:"close"`
	Low       *big.Int `json:"low"`
	High      *big.Int `json:"high"`
	Average   *big.Int `json:"average"`
	Count     uint64   `json:"count"`
	LastEvent string   `json:"last_event,omitempty"`
}

// EthPrice is an oracle sample aligned to a five minute boundary.
type EthPrice struct {
	ChainID   uint64   `json:"chain_id"`
	Timestamp int64    `json:"timestamp"`
	Price     *big.Int `json:"price"`
}
