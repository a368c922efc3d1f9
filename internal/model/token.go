package model

import "math/big"

// Token is the ERC20 metadata cache entry.
type Token struct {
	ChainID     uint64   `json:"chain_id"`
	Address     string   `json:"address"`
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	TotalSupply *big.Int `json:"total_supply"`
	HolderCount uint64   `json:"holder_count"`
	VolumeUSD   *big.Int `json:"volume_usd"`
}

// NewToken builds a token row from on-chain metadata.
func NewToken(chainID uint64, meta TokenMeta) Token {
	supply := meta.TotalSupply
	if supply == nil {
		supply = new(big.Int)
	}
	return Token{
		ChainID:     chainID,
		Address:     NormalizeAddress(meta.Address),
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Decimals:    meta.Decimals,
		TotalSupply: supply,
		VolumeUSD:   new(big.Int),
	}
}

// TokenPatch carries a partial token update.
type TokenPatch struct {
	TotalSupply *big.Int
	HolderCount *uint64
	VolumeUSD   *big.Int
}

func (p TokenPatch) Empty() bool {
	return p == TokenPatch{}
}

func (p TokenPatch) Apply(token *Token) {
	if p.TotalSupply != nil {
		token.TotalSupply = p.TotalSupply
	}
	if p.HolderCount != nil {
		token.HolderCount = *p.HolderCount
	}
	if p.VolumeUSD != nil {
		token.VolumeUSD = p.VolumeUSD
	}
}

// TokenMeta captures ERC20 metadata read from chain.
type TokenMeta struct {
	Address     string   `json:"address"`
	Decimals    uint8    `json:"decimals"`
	Symbol      string   `json:"symbol"`
	Name        string   `json:"name"`
	TotalSupply *big.Int `json:"total_supply,omitempty"`
}
