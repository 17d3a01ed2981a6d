// Package ops implements the fixed-layout encoding shared by base-ledger
// requests and rollup public data. Every operation starts with a one byte tag
// followed by big-endian fixed-width fields, zero padded to whole chunks.
package ops

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	ledgererr "zkledger/core/errors"
)

// ChunkBytes is the size of a public data chunk.
const ChunkBytes = 12

const (
	tagBytes       = 1
	accountIDBytes = 4
	tokenIDBytes   = 2
	amountBytes    = 16
	timeBytes      = 4
	addressBytes   = common.AddressLength
)

// OpType tags an encoded operation.
type OpType uint8

const (
	OpNoop                  OpType = 0x00
	OpRegister              OpType = 0x01
	OpDeposit               OpType = 0x02
	OpForceWithdraw         OpType = 0x03
	OpTransfer              OpType = 0x04
	OpWithdraw              OpType = 0x05
	OpCreateLoanProduct     OpType = 0x0f
	OpUpdateLoan            OpType = 0x15
	OpRollBorrowOrder       OpType = 0x1a
	OpRollOverEnd           OpType = 0x1d
	OpRollBorrowCancel      OpType = 0x1e
	OpForceCancelRollBorrow OpType = 0x1f
	OpAdminCancelRollBorrow OpType = 0x20
)

var opNames = map[OpType]string{
	OpNoop:                  "noop",
	OpRegister:              "register",
	OpDeposit:               "deposit",
	OpForceWithdraw:         "forceWithdraw",
	OpTransfer:              "transfer",
	OpWithdraw:              "withdraw",
	OpCreateLoanProduct:     "createLoanProduct",
	OpUpdateLoan:            "updateLoan",
	OpRollBorrowOrder:       "rollBorrowOrder",
	OpRollOverEnd:           "rollOverEnd",
	OpRollBorrowCancel:      "rollBorrowCancel",
	OpForceCancelRollBorrow: "forceCancelRollBorrow",
	OpAdminCancelRollBorrow: "adminCancelRollBorrow",
}

func (t OpType) String() string {
	if name, ok := opNames[t]; ok {
		return name
	}
	return "unknown"
}

var chunkCounts = map[OpType]int{
	OpNoop:                  1,
	OpRegister:              3,
	OpDeposit:               2,
	OpForceWithdraw:         2,
	OpTransfer:              3,
	OpWithdraw:              2,
	OpCreateLoanProduct:     1,
	OpUpdateLoan:            5,
	OpRollBorrowOrder:       5,
	OpRollOverEnd:           6,
	OpRollBorrowCancel:      2,
	OpForceCancelRollBorrow: 2,
	OpAdminCancelRollBorrow: 2,
}

// Chunks reports the number of chunks an operation of type t occupies.
func Chunks(t OpType) (int, bool) {
	n, ok := chunkCounts[t]
	return n, ok
}

// Size reports the padded byte length of an operation of type t.
func Size(t OpType) (int, bool) {
	n, ok := chunkCounts[t]
	return n * ChunkBytes, ok
}

// IsL1Request reports whether operations of type t originate from the request
// queue and must match a queued request when committed.
func IsL1Request(t OpType) bool {
	switch t {
	case OpRegister, OpDeposit, OpForceWithdraw, OpCreateLoanProduct,
		OpRollBorrowOrder, OpForceCancelRollBorrow, OpAdminCancelRollBorrow:
		return true
	}
	return false
}

// IsPendingRollupTx reports whether operations of type t must be replayed on
// the ledger when their block is executed.
func IsPendingRollupTx(t OpType) bool {
	switch t {
	case OpForceWithdraw, OpWithdraw, OpUpdateLoan, OpRollOverEnd, OpRollBorrowCancel:
		return true
	}
	return false
}

// IsValidPubDataLen reports whether data spans a whole number of chunks.
func IsValidPubDataLen(data []byte) bool {
	return len(data)%ChunkBytes == 0
}

// Tag returns the operation tag of encoded data.
func Tag(data []byte) (OpType, error) {
	if len(data) == 0 {
		return 0, ledgererr.ErrMalformedPubData
	}
	t := OpType(data[0])
	if _, ok := chunkCounts[t]; !ok {
		return 0, ledgererr.ErrInvalidOpType
	}
	return t, nil
}

// Split walks public data and returns each operation's padded bytes in order.
// Noop chunks are skipped.
func Split(data []byte) ([][]byte, error) {
	if !IsValidPubDataLen(data) {
		return nil, ledgererr.ErrInvalidPubDataLength
	}
	var out [][]byte
	for offset := 0; offset < len(data); {
		t, err := Tag(data[offset:])
		if err != nil {
			return nil, err
		}
		size, _ := Size(t)
		if offset+size > len(data) {
			return nil, ledgererr.ErrMalformedPubData
		}
		if t != OpNoop {
			out = append(out, data[offset:offset+size])
		}
		offset += size
	}
	return out, nil
}

// RequestDigest returns the digest recorded in the request queue for an
// encoded request. Force withdrawals are queued before the withdrawn amount
// is known, so their amount field is excluded from the digest.
func RequestDigest(data []byte) common.Hash {
	if len(data) > 0 && OpType(data[0]) == OpForceWithdraw {
		masked := append([]byte(nil), data...)
		start := tagBytes + accountIDBytes + tokenIDBytes
		if len(masked) >= start+amountBytes {
			for i := start; i < start+amountBytes; i++ {
				masked[i] = 0
			}
		}
		return crypto.Keccak256Hash(masked)
	}
	return crypto.Keccak256Hash(data)
}
