package events

import (
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"

	"zkledger/core/types"
)

const (
	TypeL1RequestQueued     = "rollup.l1RequestQueued"
	TypeBlockCommitted      = "rollup.blockCommitted"
	TypeBlockVerified       = "rollup.blockVerified"
	TypeBlockExecuted       = "rollup.blockExecuted"
	TypeBlocksReverted      = "rollup.blocksReverted"
	TypeEvacuationActivated = "rollup.evacuationActivated"
	TypeWithdrawalCredited  = "rollup.withdrawalCredited"
	TypeAccountRegistered   = "rollup.accountRegistered"
	TypeLoanProductCreated  = "rollup.loanProductCreated"
)

// L1RequestQueued is emitted for every request appended to the queue. The
// full pub data is only available through this event.
type L1RequestQueued struct {
	RequestID      uint64
	OpType         string
	ExpirationTime uint64
	PubData        []byte
}

func (L1RequestQueued) EventType() string { return TypeL1RequestQueued }

func (e L1RequestQueued) Event() *types.Event {
	return &types.Event{
		Type: TypeL1RequestQueued,
		Attributes: map[string]string{
			"requestId":      formatUint(e.RequestID),
			"opType":         e.OpType,
			"expirationTime": formatUint(e.ExpirationTime),
			"pubData":        "0x" + hex.EncodeToString(e.PubData),
		},
	}
}

type BlockCommitted struct {
	BlockNumber  uint32
	Commitment   common.Hash
	L1RequestNum uint64
}

func (BlockCommitted) EventType() string { return TypeBlockCommitted }

func (e BlockCommitted) Event() *types.Event {
	return &types.Event{
		Type: TypeBlockCommitted,
		Attributes: map[string]string{
			"blockNumber":  formatUint(uint64(e.BlockNumber)),
			"commitment":   e.Commitment.Hex(),
			"l1RequestNum": formatUint(e.L1RequestNum),
		},
	}
}

type BlockVerified struct {
	BlockNumber uint32
}

func (BlockVerified) EventType() string { return TypeBlockVerified }

func (e BlockVerified) Event() *types.Event {
	return &types.Event{
		Type:       TypeBlockVerified,
		Attributes: map[string]string{"blockNumber": formatUint(uint64(e.BlockNumber))},
	}
}

type BlockExecuted struct {
	BlockNumber  uint32
	L1RequestNum uint64
	PendingTxs   int
}

func (BlockExecuted) EventType() string { return TypeBlockExecuted }

func (e BlockExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeBlockExecuted,
		Attributes: map[string]string{
			"blockNumber":  formatUint(uint64(e.BlockNumber)),
			"l1RequestNum": formatUint(e.L1RequestNum),
			"pendingTxs":   formatUint(uint64(e.PendingTxs)),
		},
	}
}

type BlocksReverted struct {
	CommittedBlockNum uint32
	VerifiedBlockNum  uint32
	Reverted          int
}

func (BlocksReverted) EventType() string { return TypeBlocksReverted }

func (e BlocksReverted) Event() *types.Event {
	return &types.Event{
		Type: TypeBlocksReverted,
		Attributes: map[string]string{
			"committedBlockNum": formatUint(uint64(e.CommittedBlockNum)),
			"verifiedBlockNum":  formatUint(uint64(e.VerifiedBlockNum)),
			"reverted":          formatUint(uint64(e.Reverted)),
		},
	}
}

type EvacuationActivated struct {
	ExecutedBlockNum     uint32
	ExecutedL1RequestNum uint64
}

func (EvacuationActivated) EventType() string { return TypeEvacuationActivated }

func (e EvacuationActivated) Event() *types.Event {
	return &types.Event{
		Type: TypeEvacuationActivated,
		Attributes: map[string]string{
			"executedBlockNum":     formatUint(uint64(e.ExecutedBlockNum)),
			"executedL1RequestNum": formatUint(e.ExecutedL1RequestNum),
		},
	}
}

type WithdrawalCredited struct {
	Address common.Address
	TokenID uint16
	Amount  string
}

func (WithdrawalCredited) EventType() string { return TypeWithdrawalCredited }

func (e WithdrawalCredited) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawalCredited,
		Attributes: map[string]string{
			"address": e.Address.Hex(),
			"tokenId": formatUint(uint64(e.TokenID)),
			"amount":  e.Amount,
		},
	}
}

type AccountRegistered struct {
	AccountID uint32
	Address   common.Address
}

func (AccountRegistered) EventType() string { return TypeAccountRegistered }

func (e AccountRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeAccountRegistered,
		Attributes: map[string]string{
			"accountId": formatUint(uint64(e.AccountID)),
			"address":   e.Address.Hex(),
		},
	}
}

type LoanProductCreated struct {
	Product types.LoanProduct
}

func (LoanProductCreated) EventType() string { return TypeLoanProductCreated }

func (e LoanProductCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanProductCreated,
		Attributes: map[string]string{
			"tsbTokenId":   formatUint(uint64(e.Product.TsbTokenID)),
			"address":      e.Product.Address.Hex(),
			"baseTokenId":  formatUint(uint64(e.Product.BaseTokenID)),
			"maturityTime": formatUint(uint64(e.Product.MaturityTime)),
		},
	}
}
