package state

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"zkledger/core/types"
)

var (
	rollupStatusKey      = []byte("rollup/status")
	l1RequestPrefix      = []byte("rollup/request/")
	storedBlockPrefix    = []byte("rollup/block-hash/")
	commitmentPrefix     = []byte("rollup/commitment/")
	accountPrefix        = []byte("account/id/")
	accountAddrPrefix    = []byte("account/addr/")
	tokenPrefix          = []byte("token/")
	tokenListKey         = []byte("token-list")
	productPrefix        = []byte("product/")
	pendingBalancePrefix = []byte("pending-balance/")
	loanPrefix           = []byte("loan/")
	loanParamsKey        = []byte("loan/params")
	permitNoncePrefix    = []byte("permit-nonce/")
)

func withUint64(prefix []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefix...), v)
}

func withUint32(prefix []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(append([]byte(nil), prefix...), v)
}

func withBytes(prefix []byte, parts ...[]byte) []byte {
	out := append([]byte(nil), prefix...)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func l1RequestKey(id uint64) []byte          { return withUint64(l1RequestPrefix, id) }
func storedBlockKey(n uint32) []byte         { return withUint32(storedBlockPrefix, n) }
func commitmentKey(n uint32) []byte          { return withUint32(commitmentPrefix, n) }
func accountKey(id uint32) []byte            { return withUint32(accountPrefix, id) }
func tokenKey(id uint16) []byte              { return withUint32(tokenPrefix, uint32(id)) }
func loanKey(id types.LoanID) []byte         { return withBytes(loanPrefix, id[:]) }
func productKey(a common.Address) []byte     { return withBytes(productPrefix, a.Bytes()) }
func accountAddrKey(a common.Address) []byte { return withBytes(accountAddrPrefix, a.Bytes()) }
func permitNonceKey(a common.Address) []byte { return withBytes(permitNoncePrefix, a.Bytes()) }

func pendingBalanceKey(a common.Address, tokenID uint16) []byte {
	return binary.BigEndian.AppendUint16(withBytes(pendingBalancePrefix, a.Bytes()), tokenID)
}
