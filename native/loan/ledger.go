package loan

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
	zkcrypto "zkledger/crypto"
	nativecommon "zkledger/native/common"
)

// Permit authorises RemoveCollateralWithPermit on behalf of Owner.
type Permit struct {
	Owner     common.Address `json:"owner"`
	LoanID    types.LoanID   `json:"loanId"`
	Amount    *uint256.Int   `json:"amount"`
	Nonce     uint64         `json:"nonce"`
	Deadline  uint64         `json:"deadline"`
	Signature []byte         `json:"signature"`
}

// Digest returns the signed message of the permit.
func (p Permit) Digest() common.Hash {
	return zkcrypto.RemoveCollateralDigest(p.Owner, p.LoanID, p.Amount, p.Nonce, p.Deadline)
}

// Repay returns debtAmt of the debt token and withdraws collateralAmt of
// collateral, both in native units. Withdrawn collateral is either deposited
// back into the owner's rollup account or credited to their pending balance.
func (e *Engine) Repay(owner common.Address, id types.LoanID, collateralAmt, debtAmt *uint256.Int, depositRemainder bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.mode); err != nil {
		return err
	}
	collateralAmt, debtAmt = orZero(collateralAmt), orZero(debtAmt)
	if collateralAmt.IsZero() && debtAmt.IsZero() {
		return ledgererr.ErrInvalidAmount
	}
	if err := e.requireOwner(id, owner); err != nil {
		return err
	}
	loan, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	debtToken, err := e.loadToken(id.DebtTokenID())
	if err != nil {
		return err
	}
	debtL1, err := ToL1(loan.DebtAmt, debtToken.Decimals)
	if err != nil {
		return err
	}
	if debtAmt.Gt(debtL1) {
		return ledgererr.ErrRepayAmtExceedsDebt
	}
	repaid := debtAmt
	if debtAmt.Eq(debtL1) {
		loan.DebtAmt = new(uint256.Int)
	} else if !debtAmt.IsZero() {
		repayL2, err := ToL2(debtAmt, debtToken.Decimals)
		if err != nil {
			return err
		}
		if repayL2.IsZero() {
			return ledgererr.ErrInvalidAmount
		}
		if repaid, err = ToL1(repayL2, debtToken.Decimals); err != nil {
			return err
		}
		loan.DebtAmt = new(uint256.Int).Sub(loan.DebtAmt, repayL2)
	}
	removedL2, withdrawn, err := e.withdrawCollateral(loan, collateralAmt)
	if err != nil {
		return err
	}
	if err := e.requireHealthy(loan); err != nil {
		return err
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	if !withdrawn.IsZero() {
		if depositRemainder {
			deposit := ops.TokenAmount{
				Op:        ops.OpDeposit,
				AccountID: id.AccountID(),
				TokenID:   id.CollateralTokenID(),
				Amount:    removedL2,
			}
			if err := e.enqueue(deposit); err != nil {
				return err
			}
		} else if err := e.state.CreditPendingBalance(owner, id.CollateralTokenID(), withdrawn); err != nil {
			return err
		}
	}
	e.emit(events.Repayment{
		LoanID:           id,
		Owner:            owner,
		CollateralAmt:    withdrawn,
		DebtAmt:          repaid.Clone(),
		DepositRemainder: depositRemainder,
	})
	return nil
}

// AddCollateral pledges amount, in native units, to an existing loan.
func (e *Engine) AddCollateral(owner common.Address, id types.LoanID, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.mode); err != nil {
		return err
	}
	if err := e.requireOwner(id, owner); err != nil {
		return err
	}
	loan, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	token, err := e.loadToken(id.CollateralTokenID())
	if err != nil {
		return err
	}
	amount = orZero(amount)
	amountL2, err := ToL2(amount, token.Decimals)
	if err != nil {
		return err
	}
	if amountL2.IsZero() {
		return ledgererr.ErrInvalidAmount
	}
	if loan.CollateralAmt, err = add(loan.CollateralAmt, amountL2); err != nil {
		return err
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(events.CollateralAdded{LoanID: id, Amount: amount.Clone()})
	return nil
}

// RemoveCollateral withdraws free collateral to the owner's pending balance.
// The loan must stay healthy afterwards.
func (e *Engine) RemoveCollateral(owner common.Address, id types.LoanID, amount *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.mode); err != nil {
		return err
	}
	if err := e.requireOwner(id, owner); err != nil {
		return err
	}
	return e.removeCollateral(owner, id, amount, false)
}

// RemoveCollateralWithPermit lets a relayer submit a removal signed by the
// loan owner.
func (e *Engine) RemoveCollateralWithPermit(permit Permit) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.mode); err != nil {
		return err
	}
	if e.timestamp > permit.Deadline {
		return ledgererr.ErrPermitExpired
	}
	signer, err := zkcrypto.RecoverSigner(permit.Digest(), permit.Signature)
	if err != nil || signer != permit.Owner {
		return ledgererr.ErrInvalidSigner
	}
	nonce, err := e.state.PermitNonce(permit.Owner)
	if err != nil {
		return err
	}
	if nonce != permit.Nonce {
		return ledgererr.ErrInvalidSigner
	}
	if err := e.requireOwner(permit.LoanID, permit.Owner); err != nil {
		return err
	}
	if err := e.state.SetPermitNonce(permit.Owner, nonce+1); err != nil {
		return err
	}
	return e.removeCollateral(permit.Owner, permit.LoanID, permit.Amount, true)
}

func (e *Engine) removeCollateral(owner common.Address, id types.LoanID, amount *uint256.Int, viaPermit bool) error {
	amount = orZero(amount)
	if amount.IsZero() {
		return ledgererr.ErrInvalidAmount
	}
	loan, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	_, withdrawn, err := e.withdrawCollateral(loan, amount)
	if err != nil {
		return err
	}
	if err := e.requireHealthy(loan); err != nil {
		return err
	}
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	if err := e.state.CreditPendingBalance(owner, id.CollateralTokenID(), withdrawn); err != nil {
		return err
	}
	e.emit(events.CollateralRemoved{LoanID: id, Amount: withdrawn.Clone(), Permit: viaPermit})
	return nil
}

// withdrawCollateral removes amount, in native units, from the loan's free
// collateral. It returns the removed system amount and its native value,
// which drops any precision finer than one system unit. Amounts that round to
// zero are rejected.
func (e *Engine) withdrawCollateral(loan *Loan, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if amount.IsZero() {
		return new(uint256.Int), new(uint256.Int), nil
	}
	token, err := e.loadToken(loan.ID.CollateralTokenID())
	if err != nil {
		return nil, nil, err
	}
	free := loan.FreeCollateral()
	freeL1, err := ToL1(free, token.Decimals)
	if err != nil {
		return nil, nil, err
	}
	if amount.Gt(freeL1) {
		return nil, nil, ledgererr.ErrInsufficientCollateral
	}
	removed := free
	if !amount.Eq(freeL1) {
		if removed, err = ToL2(amount, token.Decimals); err != nil {
			return nil, nil, err
		}
	}
	if removed.IsZero() {
		return nil, nil, ledgererr.ErrInvalidAmount
	}
	withdrawn, err := ToL1(removed, token.Decimals)
	if err != nil {
		return nil, nil, err
	}
	loan.CollateralAmt = new(uint256.Int).Sub(loan.CollateralAmt, removed)
	return removed, withdrawn, nil
}

// ApplyUpdateLoan credits a matched borrow to a loan, creating it on first
// use.
func (e *Engine) ApplyUpdateLoan(op ops.UpdateLoan) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.loadOrNewLoan(op.LoanID)
	if err != nil {
		return err
	}
	if loan.CollateralAmt, err = add(loan.CollateralAmt, orZero(op.CollateralAmt)); err != nil {
		return err
	}
	if loan.DebtAmt, err = add(loan.DebtAmt, orZero(op.DebtAmt)); err != nil {
		return err
	}
	loan.MatchedTime = op.MatchedTime
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	e.emit(events.LoanUpdated{
		LoanID:        loan.ID,
		CollateralAmt: loan.CollateralAmt.Clone(),
		DebtAmt:       loan.DebtAmt.Clone(),
		MatchedTime:   loan.MatchedTime,
	})
	return nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
