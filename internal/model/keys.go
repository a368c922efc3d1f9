package model

import (
	"fmt"
	"strings"
)

// ZeroAddress is the lowercased zero address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Key is the natural key (chain id, address) shared by most entities.
type Key struct {
	ChainID uint64
	Address string
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.ChainID, k.Address)
}

// NormalizeAddress lowercases a hex address so keys compare byte-wise.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// EventID identifies a log within a chain.
func EventID(chainID uint64, txHash string, logIndex uint64) string {
	return fmt.Sprintf("%d:%s:%d", chainID, strings.ToLower(txHash), logIndex)
}
