package loan

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
	nativecommon "zkledger/native/common"
)

var aprDenominator = uint256.NewInt(APRBase * SecondsPerYear)

// RollBorrow locks part of a loan's collateral and queues an order to
// refinance it into a later maturity product. fee must equal the configured
// roll over fee.
func (e *Engine) RollBorrow(owner common.Address, order RollBorrowOrder, fee *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.mode); err != nil {
		return err
	}
	id := order.LoanID
	if err := e.requireOwner(id, owner); err != nil {
		return err
	}
	loan, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if loan.IsLocked() {
		return ledgererr.ErrLoanIsLocked
	}
	params, err := e.state.LoanParams()
	if err != nil {
		return err
	}
	if !orZero(fee).Eq(orZero(params.RollOverFee)) {
		return ledgererr.ErrInvalidRollBorrowFee
	}
	product, ok, err := e.state.LoanProductByAddress(order.TargetProductAddr)
	if err != nil {
		return err
	}
	if !ok || product.BaseTokenID != id.DebtTokenID() || product.MaturityTime <= loan.MaturityTime {
		return ledgererr.ErrInvalidTsbTokenAddr
	}
	expired := uint64(order.ExpiredTime)
	if expired <= e.timestamp ||
		expired >= uint64(loan.MaturityTime) ||
		expired+e.rollWindow > uint64(product.MaturityTime) {
		return ledgererr.ErrInvalidExpiredTime
	}
	maxCollateral, maxBorrow := orZero(order.MaxCollateralAmt), orZero(order.MaxBorrowAmt)
	if maxCollateral.IsZero() || maxBorrow.IsZero() {
		return ledgererr.ErrInvalidAmount
	}

	s, err := e.snapshot(loan)
	if err != nil {
		return err
	}
	lockL2, err := ToL2(maxCollateral, s.collateralToken.Decimals)
	if err != nil {
		return err
	}
	if lockL2.IsZero() || lockL2.Gt(loan.CollateralAmt) {
		return ledgererr.ErrInsufficientCollateral
	}
	borrowL2, err := ToL2(maxBorrow, s.debtToken.Decimals)
	if err != nil {
		return err
	}
	if err := e.requireStrictHealthy(s, maxCollateral, maxBorrow, order.AnnualPercentageRate, product.MaturityTime-order.ExpiredTime); err != nil {
		return err
	}

	loan.LockedCollateralAmt = lockL2
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	queued := ops.RollBorrowOrder{
		LoanID:               id,
		ExpiredTime:          order.ExpiredTime,
		AnnualPercentageRate: order.AnnualPercentageRate,
		MaxCollateralAmt:     lockL2,
		MaxBorrowAmt:         borrowL2,
		TsbTokenID:           product.TsbTokenID,
	}
	if err := e.enqueue(queued); err != nil {
		return err
	}
	e.emit(events.RollBorrowOrderPlaced{
		LoanID:               id,
		ExpiredTime:          order.ExpiredTime,
		AnnualPercentageRate: order.AnnualPercentageRate,
		MaxCollateralAmt:     maxCollateral.Clone(),
		MaxBorrowAmt:         maxBorrow.Clone(),
		TargetProduct:        order.TargetProductAddr,
	})
	return nil
}

// requireStrictHealthy checks, against the borrow order threshold, both the
// residual loan after a full match and the new loan carrying the fixed
// interest accrued until the target maturity.
func (e *Engine) requireStrictHealthy(s *healthSnapshot, maxCollateral, maxBorrow *uint256.Int, apr, duration uint32) error {
	ltv := s.factor.BorrowOrderLtvThreshold
	residual, err := s.with(ltv, satSub(s.collateralL1, maxCollateral), satSub(s.debtL1, maxBorrow))
	if err != nil {
		return err
	}
	if residual.Lt(healthFactorBase) {
		return ledgererr.ErrLoanIsNotStrictHealthy
	}
	interest, err := mul(maxBorrow, uint256.NewInt(uint64(apr)))
	if err != nil {
		return err
	}
	if interest, err = mulDiv(interest, uint256.NewInt(uint64(duration)), aprDenominator); err != nil {
		return err
	}
	newDebt, err := add(maxBorrow, interest)
	if err != nil {
		return err
	}
	next, err := s.with(ltv, maxCollateral, newDebt)
	if err != nil {
		return err
	}
	if next.Lt(healthFactorBase) {
		return ledgererr.ErrLoanIsNotStrictHealthy
	}
	return nil
}

// ForceCancelRollBorrow releases the owner's lock immediately and queues a
// cancellation so the rollup drops the order.
func (e *Engine) ForceCancelRollBorrow(owner common.Address, id types.LoanID) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.mode); err != nil {
		return err
	}
	if err := e.requireOwner(id, owner); err != nil {
		return err
	}
	if err := e.cancelRollBorrow(id, ops.OpForceCancelRollBorrow); err != nil {
		return err
	}
	e.emit(events.RollBorrowOrderForceCancelPlaced{LoanID: id, Owner: owner})
	return nil
}

// AdminCancelRollBorrow is the governance counterpart of
// ForceCancelRollBorrow.
func (e *Engine) AdminCancelRollBorrow(id types.LoanID) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.mode); err != nil {
		return err
	}
	if err := e.cancelRollBorrow(id, ops.OpAdminCancelRollBorrow); err != nil {
		return err
	}
	e.emit(events.RollBorrowCancel{LoanID: id, Reason: "admin"})
	return nil
}

func (e *Engine) cancelRollBorrow(id types.LoanID, op ops.OpType) error {
	loan, err := e.loadLoan(id)
	if err != nil {
		return err
	}
	if !loan.IsLocked() {
		return ledgererr.ErrLoanIsNotLocked
	}
	loan.LockedCollateralAmt = new(uint256.Int)
	if err := e.state.PutLoan(loan); err != nil {
		return err
	}
	return e.enqueue(ops.CancelRollBorrow{Op: op, LoanID: id})
}

// ApplyRollOverEnd settles a matched roll borrow order: collateral and the
// borrowed amount move from the old loan to the new one and the old loan's
// lock is released. The old loan must hold the lock, and the settlement may
// not exceed the locked collateral or the outstanding debt.
func (e *Engine) ApplyRollOverEnd(op ops.RollOverEnd) error {
	if err := e.ready(); err != nil {
		return err
	}
	collateral, borrow, debt := orZero(op.CollateralAmt), orZero(op.BorrowAmt), orZero(op.DebtAmt)
	oldLoan, err := e.loadLoan(op.OldLoanID())
	if err != nil {
		return err
	}
	if !oldLoan.IsLocked() {
		return ledgererr.ErrLoanIsNotLocked
	}
	if collateral.Gt(oldLoan.LockedCollateralAmt) {
		return ledgererr.ErrInsufficientCollateral
	}
	if borrow.Gt(oldLoan.DebtAmt) {
		return ledgererr.ErrInsufficientDebt
	}
	oldLoan.CollateralAmt = new(uint256.Int).Sub(oldLoan.CollateralAmt, collateral)
	oldLoan.DebtAmt = new(uint256.Int).Sub(oldLoan.DebtAmt, borrow)
	oldLoan.LockedCollateralAmt = new(uint256.Int)
	if err := e.state.PutLoan(oldLoan); err != nil {
		return err
	}

	newLoan, err := e.loadOrNewLoan(op.NewLoanID())
	if err != nil {
		return err
	}
	if newLoan.CollateralAmt, err = add(newLoan.CollateralAmt, collateral); err != nil {
		return err
	}
	if newLoan.DebtAmt, err = add(newLoan.DebtAmt, debt); err != nil {
		return err
	}
	newLoan.MatchedTime = op.MatchedTime
	if err := e.state.PutLoan(newLoan); err != nil {
		return err
	}
	e.emit(events.RollOver{
		OldLoanID:     oldLoan.ID,
		NewLoanID:     newLoan.ID,
		CollateralAmt: collateral.Clone(),
		BorrowAmt:     borrow.Clone(),
		DebtAmt:       debt.Clone(),
	})
	return nil
}

// ApplyRollBorrowCancel releases a lock after the rollup drops an order. A
// loan already unlocked by a force cancel is left unchanged.
func (e *Engine) ApplyRollBorrowCancel(op ops.CancelRollBorrow) error {
	if err := e.ready(); err != nil {
		return err
	}
	loan, err := e.loadLoan(op.LoanID)
	if err != nil {
		return err
	}
	if loan.IsLocked() {
		loan.LockedCollateralAmt = new(uint256.Int)
		if err := e.state.PutLoan(loan); err != nil {
			return err
		}
	}
	e.emit(events.RollBorrowCancel{LoanID: op.LoanID, Reason: "rollup"})
	return nil
}
