package types

import "github.com/ethereum/go-ethereum/common"

// L1Request is a queued base-ledger request awaiting inclusion in a block.
// Only the digest of the encoded pub data is retained.
type L1Request struct {
	OpType         uint8
	HashedPubData  common.Hash
	ExpirationTime uint64
}
