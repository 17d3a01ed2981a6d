package state

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"zkledger/core/types"
	"zkledger/native/loan"
)

var errBalanceOverflow = errors.New("state: pending balance overflow")

// Loan returns the stored loan for id.
func (m *Manager) Loan(id types.LoanID) (*loan.Loan, bool, error) {
	record := new(loan.Loan)
	ok, err := m.KVGet(loanKey(id), record)
	if err != nil || !ok {
		return nil, false, err
	}
	return record, true, nil
}

func (m *Manager) PutLoan(record *loan.Loan) error {
	return m.KVPut(loanKey(record.ID), record)
}

// LoanParams returns the governance parameters, falling back to the defaults
// until they are first written.
func (m *Manager) LoanParams() (*loan.Params, error) {
	params := new(loan.Params)
	ok, err := m.KVGet(loanParamsKey, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return loan.DefaultParams(), nil
	}
	return params, nil
}

func (m *Manager) PutLoanParams(params *loan.Params) error {
	return m.KVPut(loanParamsKey, params)
}

func (m *Manager) PermitNonce(addr common.Address) (uint64, error) {
	var nonce uint64
	_, err := m.KVGet(permitNonceKey(addr), &nonce)
	return nonce, err
}

func (m *Manager) SetPermitNonce(addr common.Address, nonce uint64) error {
	return m.KVPut(permitNonceKey(addr), nonce)
}
