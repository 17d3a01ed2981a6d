package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Account links a rollup account identifier to its base-ledger address.
type Account struct {
	ID      uint32         `json:"id"`
	Address common.Address `json:"address"`
}

// Token describes a registered asset. Decimals is the token's native precision
// on the base ledger.
type Token struct {
	ID           uint16         `json:"id"`
	Address      common.Address `json:"address"`
	Decimals     uint8          `json:"decimals"`
	IsStableCoin bool           `json:"isStableCoin"`
}

// LoanProduct is a fixed-maturity borrowing market. Its address identifies the
// product when referenced by roll borrow orders.
type LoanProduct struct {
	TsbTokenID   uint16         `json:"tsbTokenId"`
	Address      common.Address `json:"address"`
	BaseTokenID  uint16         `json:"baseTokenId"`
	MaturityTime uint32         `json:"maturityTime"`
}

// PendingBalance is an amount credited by executed withdrawals that the
// account owner may claim on the base ledger.
type PendingBalance struct {
	Address common.Address `json:"address"`
	TokenID uint16         `json:"tokenId"`
	Amount  *uint256.Int   `json:"amount"`
}
