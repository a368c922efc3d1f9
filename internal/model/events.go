package model

import "math/big"

// EventKind names the decoded event types the engine handles.
type EventKind string

const (
	EventPoolCreated EventKind = "PoolCreated"
	EventMigrated    EventKind = "Migrated"
	EventSwap        EventKind = "Swap"
	EventMint        EventKind = "Mint"
	EventBurn        EventKind = "Burn"
	EventTransfer    EventKind = "Transfer"
)

// Event is a decoded log delivered to the engine.
type Event struct {
	ChainID     uint64    `json:"chain_id"`
	BlockNumber uint64    `json:"block_number"`
	BlockHash   string    `json:"block_hash"`
	TxHash      string    `json:"tx_hash"`
	LogIndex    uint64    `json:"log_index"`
	Address     string    `json:"address"`
	Kind        EventKind `json:"kind"`
	Timestamp   int64     `json:"timestamp"`
	Payload     any       `json:"payload"`
}

// ID returns the replay-stable identity of the event.
func (e Event) ID() string {
	return EventID(e.ChainID, e.TxHash, e.LogIndex)
}

// PoolCreatedData is the decoded Airlock Create payload.
type PoolCreatedData struct {
	Asset       string `json:"asset"`
	Numeraire   string `json:"numeraire"`
	Initializer string `json:"initializer"`
	Pool        string `json:"pool"`
}

// MigratedData is the decoded Airlock Migrate payload.
type MigratedData struct {
	Asset string `json:"asset"`
	Pool  string `json:"pool"`
}

// SwapEventData is the decoded Swap event payload.
type SwapEventData struct {
	Sender       string   `json:"sender"`
	Recipient    string   `json:"recipient"`
	Amount0      *big.Int `json:"amount0"`
	Amount1      *big.Int `json:"amount1"`
	SqrtPriceX96 *big.Int `json:"sqrt_price_x96"`
	Liquidity    *big.Int `json:"liquidity"`
	Tick         int32    `json:"tick"`
}

// MintEventData is the decoded Mint event payload.
type MintEventData struct {
	Sender    string   `json:"sender"`
	Owner     string   `json:"owner"`
	TickLower int32    `json:"tick_lower"`
	TickUpper int32    `json:"tick_upper"`
	Amount    *big.Int `json:"amount"`
	Amount0   *big.Int `json:"amount0"`
	Amount1   *big.Int `json:"amount1"`
}

// BurnEventData is the decoded Burn event payload.
type BurnEventData struct {
	Owner     string   `json:"owner"`
	TickLower int32    `json:"tick_lower"`
	TickUpper int32    `json:"tick_upper"`
	Amount    *big.Int `json:"amount"`
	Amount0   *big.Int `json:"amount0"`
	Amount1   *big.Int `json:"amount1"`
}

// TransferEventData is the decoded ERC20 Transfer payload.
type TransferEventData struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Value *big.Int `json:"value"`
}
