package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// StoredBlock is the compact block record whose keccak hash is kept on the
// ledger for every committed block number. Operators resubmit the full record
// when verifying or executing so the ledger only stores the hash.
type StoredBlock struct {
	BlockNumber         uint32      `json:"blockNumber"`
	L1RequestNum        uint64      `json:"l1RequestNum"` // cumulative committed l1 requests after this block
	PendingRollupTxHash common.Hash `json:"pendingRollupTxHash"`
	Commitment          common.Hash `json:"commitment"`
	StateRoot           common.Hash `json:"stateRoot"`
	Timestamp           uint64      `json:"timestamp"`
}

// Hash returns keccak256(rlp(block)).
func (b *StoredBlock) Hash() common.Hash {
	encoded, err := rlp.EncodeToBytes(b)
	if err != nil {
		// Every field is a fixed-size scalar; encoding cannot fail.
		panic(err)
	}
	return crypto.Keccak256Hash(encoded)
}

// CommitBlock is a proposed successor block submitted by the operator.
type CommitBlock struct {
	BlockNumber  uint32      `json:"blockNumber"`
	NewStateRoot common.Hash `json:"newStateRoot"`
	NewTsRoot    common.Hash `json:"newTsRoot"`
	Timestamp    uint64      `json:"timestamp"`
	PublicData   []byte      `json:"publicData"`
}

// BlockCommitment keeps the public inputs of a committed block until it is
// verified and executed.
type BlockCommitment struct {
	BlockNumber         uint32
	OldStateRoot        common.Hash
	NewStateRoot        common.Hash
	NewTsRoot           common.Hash
	PublicDataHash      common.Hash
	PendingRollupTxHash common.Hash
	Commitment          common.Hash
	L1RequestDelta      uint64
	Timestamp           uint64
}

// Proof carries an opaque proof together with the commitment it attests to.
type Proof struct {
	Commitment common.Hash `json:"commitment"`
	Data       []byte      `json:"data"`
}

// VerifyBlock pairs a stored block with its proof.
type VerifyBlock struct {
	StoredBlock StoredBlock `json:"storedBlock"`
	Proof       Proof       `json:"proof"`
}

// ExecuteBlock pairs a stored block with the pub data of its pending rollup
// transactions in commit order.
type ExecuteBlock struct {
	StoredBlock            StoredBlock `json:"storedBlock"`
	PendingRollupTxPubData [][]byte    `json:"pendingRollupTxPubData"`
}
