package state

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkledger/core/types"
	"zkledger/native/rollup"
)

// RollupStatus returns the pipeline counters, zero valued before genesis.
func (m *Manager) RollupStatus() (*rollup.Status, error) {
	status := new(rollup.Status)
	if _, err := m.KVGet(rollupStatusKey, status); err != nil {
		return nil, err
	}
	return status, nil
}

func (m *Manager) PutRollupStatus(status *rollup.Status) error {
	return m.KVPut(rollupStatusKey, status)
}

func (m *Manager) L1Request(id uint64) (*types.L1Request, bool, error) {
	req := new(types.L1Request)
	ok, err := m.KVGet(l1RequestKey(id), req)
	if err != nil || !ok {
		return nil, false, err
	}
	return req, true, nil
}

func (m *Manager) PutL1Request(id uint64, req *types.L1Request) error {
	return m.KVPut(l1RequestKey(id), req)
}

func (m *Manager) StoredBlockHash(n uint32) (common.Hash, bool, error) {
	var h common.Hash
	ok, err := m.KVGet(storedBlockKey(n), &h)
	return h, ok, err
}

func (m *Manager) PutStoredBlockHash(n uint32, h common.Hash) error {
	return m.KVPut(storedBlockKey(n), h)
}

func (m *Manager) DeleteStoredBlockHash(n uint32) error {
	return m.KVDelete(storedBlockKey(n))
}

func (m *Manager) BlockCommitment(n uint32) (*types.BlockCommitment, bool, error) {
	c := new(types.BlockCommitment)
	ok, err := m.KVGet(commitmentKey(n), c)
	if err != nil || !ok {
		return nil, false, err
	}
	return c, true, nil
}

func (m *Manager) PutBlockCommitment(c *types.BlockCommitment) error {
	return m.KVPut(commitmentKey(c.BlockNumber), c)
}

func (m *Manager) DeleteBlockCommitment(n uint32) error {
	return m.KVDelete(commitmentKey(n))
}

// Account returns the account registered under id.
func (m *Manager) Account(id uint32) (*types.Account, bool, error) {
	acc := new(types.Account)
	ok, err := m.KVGet(accountKey(id), acc)
	if err != nil || !ok {
		return nil, false, err
	}
	return acc, true, nil
}

// AccountByAddress resolves the account registered for addr.
func (m *Manager) AccountByAddress(addr common.Address) (*types.Account, bool, error) {
	var id uint32
	ok, err := m.KVGet(accountAddrKey(addr), &id)
	if err != nil || !ok {
		return nil, false, err
	}
	return m.Account(id)
}

func (m *Manager) PutAccount(acc *types.Account) error {
	if err := m.KVPut(accountKey(acc.ID), acc); err != nil {
		return err
	}
	return m.KVPut(accountAddrKey(acc.Address), acc.ID)
}

func (m *Manager) Token(id uint16) (*types.Token, bool, error) {
	token := new(types.Token)
	ok, err := m.KVGet(tokenKey(id), token)
	if err != nil || !ok {
		return nil, false, err
	}
	return token, true, nil
}

// PutToken stores token and records its id in the token index.
func (m *Manager) PutToken(token *types.Token) error {
	ids, err := m.TokenIDs()
	if err != nil {
		return err
	}
	idx := sort.Search(len(ids), func(i int) bool { return ids[i] >= token.ID })
	if idx == len(ids) || ids[idx] != token.ID {
		ids = append(ids, 0)
		copy(ids[idx+1:], ids[idx:])
		ids[idx] = token.ID
		if err := m.KVPut(tokenListKey, ids); err != nil {
			return err
		}
	}
	return m.KVPut(tokenKey(token.ID), token)
}

// TokenIDs returns the registered token ids in ascending order.
func (m *Manager) TokenIDs() ([]uint16, error) {
	var ids []uint16
	if _, err := m.KVGet(tokenListKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (m *Manager) LoanProductByAddress(addr common.Address) (*types.LoanProduct, bool, error) {
	p := new(types.LoanProduct)
	ok, err := m.KVGet(productKey(addr), p)
	if err != nil || !ok {
		return nil, false, err
	}
	return p, true, nil
}

func (m *Manager) PutLoanProduct(p *types.LoanProduct) error {
	return m.KVPut(productKey(p.Address), p)
}

// PendingBalance returns the claimable amount credited to addr, in native
// units.
func (m *Manager) PendingBalance(addr common.Address, tokenID uint16) (*uint256.Int, error) {
	amount := new(uint256.Int)
	if _, err := m.KVGet(pendingBalanceKey(addr, tokenID), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// CreditPendingBalance adds amount to the pending balance of addr.
func (m *Manager) CreditPendingBalance(addr common.Address, tokenID uint16, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	current, err := m.PendingBalance(addr, tokenID)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(current, amount)
	if overflow {
		return errBalanceOverflow
	}
	return m.KVPut(pendingBalanceKey(addr, tokenID), sum)
}
