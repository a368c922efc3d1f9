package model

// LogRecord is a raw chain log as archived and replayed. Data and topics are
// 0x-prefixed hex.
type LogRecord struct {
	ChainID     uint64   `json:"chain_id"`
	BlockNumber uint64   `json:"block_number"`
	BlockHash   string   `json:"block_hash"`
	TxHash      string   `json:"tx_hash"`
	TxIndex     uint64   `json:"tx_index"`
	LogIndex    uint64   `json:"log_index"`
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	Removed     bool     `json:"removed"`
	Timestamp   uint64   `json:"timestamp"`
	IngestedAt  string   `json:"ingested_at,omitempty"`
}

// Topic0 is the event signature hash, or "" for an anonymous log.
func (lr LogRecord) Topic0() string {
	if len(lr.Topics) == 0 {
		return ""
	}
	return lr.Topics[0]
}

// EventID is the processed-event key of the event decoded from this log.
func (lr LogRecord) EventID() string {
	return EventID(lr.ChainID, lr.TxHash, lr.LogIndex)
}
