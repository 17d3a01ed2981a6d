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

var usdUnit = pow10(PriceDecimals)

func (e *Engine) matured(loan *Loan) bool {
	return e.timestamp >= uint64(loan.MaturityTime)
}

// fullLiquidation reports whether a single call may repay the whole debt:
// matured loans, or loans whose collateral is worth less than the half
// liquidation threshold.
func (e *Engine) fullLiquidation(loan *Loan, s *healthSnapshot) (bool, error) {
	if e.matured(loan) {
		return true, nil
	}
	value, err := mul(s.collateralL1, s.collateralPrice)
	if err != nil {
		return false, err
	}
	threshold, err := mul(uint256.NewInt(s.params.HalfLiquidationThreshold), pow10(s.collateralToken.Decimals))
	if err != nil {
		return false, err
	}
	if threshold, err = mul(threshold, usdUnit); err != nil {
		return false, err
	}
	return value.Lt(threshold), nil
}

func (e *Engine) liquidationInfo(loan *Loan) (*LiquidationInfo, *healthSnapshot, error) {
	s, err := e.snapshot(loan)
	if err != nil {
		return nil, nil, err
	}
	info := &LiquidationInfo{
		HealthFactor: s.healthFactor,
		DebtTokenID:  s.debtToken.ID,
		MaxRepayAmt:  new(uint256.Int),
	}
	info.Liquidatable = !s.healthy() || e.matured(loan)
	if !info.Liquidatable {
		return info, s, nil
	}
	if info.FullLiquidation, err = e.fullLiquidation(loan, s); err != nil {
		return nil, nil, err
	}
	if info.FullLiquidation {
		info.MaxRepayAmt = s.debtL1.Clone()
	} else {
		info.MaxRepayAmt = new(uint256.Int).Rsh(s.debtL1, 1)
	}
	return info, s, nil
}

// LiquidationInfo reports eligibility and the per call repay bound for a loan.
func (e *Engine) LiquidationInfo(id types.LoanID) (*LiquidationInfo, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	info, _, err := e.liquidationInfo(loan)
	return info, err
}

// settle splits the collateral paid out for repayAmt. The liquidator receives
// the repay-equivalent collateral plus the incentive and the protocol the
// penalty share. When the collateral cannot cover both the penalty is cut
// first, then the reward is capped at the remaining collateral.
func settle(repayAmt *uint256.Int, s *healthSnapshot) (reward, penalty *uint256.Int, err error) {
	num, err := mul(repayAmt, s.debtPrice)
	if err != nil {
		return nil, nil, err
	}
	den, err := mul(s.collateralPrice, pow10(s.debtToken.Decimals))
	if err != nil {
		return nil, nil, err
	}
	equiv, err := mulDiv(num, pow10(s.collateralToken.Decimals), den)
	if err != nil {
		return nil, nil, err
	}
	incentive, err := mulDiv(equiv, uint256.NewInt(uint64(s.factor.LiquidatorIncentive)), healthFactorBase)
	if err != nil {
		return nil, nil, err
	}
	if reward, err = add(equiv, incentive); err != nil {
		return nil, nil, err
	}
	if penalty, err = mulDiv(equiv, uint256.NewInt(uint64(s.factor.ProtocolPenalty)), healthFactorBase); err != nil {
		return nil, nil, err
	}
	// Seized amounts must be representable on the loan record.
	if reward, err = truncate(reward, s.collateralToken.Decimals); err != nil {
		return nil, nil, err
	}
	if penalty, err = truncate(penalty, s.collateralToken.Decimals); err != nil {
		return nil, nil, err
	}
	total, err := add(reward, penalty)
	if err != nil {
		return nil, nil, err
	}
	if !total.Gt(s.collateralL1) {
		return reward, penalty, nil
	}
	if !reward.Gt(s.collateralL1) {
		return reward, new(uint256.Int).Sub(s.collateralL1, reward), nil
	}
	return s.collateralL1.Clone(), new(uint256.Int), nil
}

// Liquidate repays repayAmt of a loan's debt, denominated in the debt token's
// native units, and seizes collateral for the liquidator and the treasury.
func (e *Engine) Liquidate(liquidator common.Address, id types.LoanID, repayAmt *uint256.Int) (*LiquidationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.mode); err != nil {
		return nil, err
	}
	if repayAmt == nil || repayAmt.IsZero() {
		return nil, ledgererr.ErrInvalidAmount
	}
	loan, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	info, s, err := e.liquidationInfo(loan)
	if err != nil {
		return nil, err
	}
	if !info.Liquidatable {
		return nil, ledgererr.ErrLoanIsHealthy
	}
	if repayAmt.Gt(info.MaxRepayAmt) {
		return nil, ledgererr.ErrRepayAmtExceedsMaxRepayAmt
	}
	// Only the part of repayAmt the loan record can represent is repaid and
	// priced.
	repaid := repayAmt.Clone()
	if repayAmt.Eq(s.debtL1) {
		loan.DebtAmt = new(uint256.Int)
	} else {
		repayL2, err := ToL2(repayAmt, s.debtToken.Decimals)
		if err != nil {
			return nil, err
		}
		if repayL2.IsZero() {
			return nil, ledgererr.ErrInvalidAmount
		}
		if repaid, err = ToL1(repayL2, s.debtToken.Decimals); err != nil {
			return nil, err
		}
		loan.DebtAmt = new(uint256.Int).Sub(loan.DebtAmt, repayL2)
	}
	reward, penalty, err := settle(repaid, s)
	if err != nil {
		return nil, err
	}
	removed := new(uint256.Int).Add(reward, penalty)
	if removed.Eq(s.collateralL1) {
		loan.CollateralAmt = new(uint256.Int)
	} else {
		removedL2, err := ToL2(removed, s.collateralToken.Decimals)
		if err != nil {
			return nil, err
		}
		loan.CollateralAmt = satSub(loan.CollateralAmt, removedL2)
	}
	wasLocked := loan.IsLocked()
	if wasLocked {
		// The seized collateral may back an open roll borrow order.
		loan.LockedCollateralAmt = new(uint256.Int)
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}
	if wasLocked {
		if err := e.enqueue(ops.CancelRollBorrow{Op: ops.OpAdminCancelRollBorrow, LoanID: id}); err != nil {
			return nil, err
		}
		e.emit(events.RollBorrowCancel{LoanID: id, Reason: "liquidation"})
	}
	if !reward.IsZero() {
		if err := e.state.CreditPendingBalance(liquidator, s.collateralToken.ID, reward); err != nil {
			return nil, err
		}
	}
	if !penalty.IsZero() {
		if err := e.state.CreditPendingBalance(s.params.Treasury, s.collateralToken.ID, penalty); err != nil {
			return nil, err
		}
	}

	result := &LiquidationResult{
		LoanID:           id,
		RepayAmt:         repaid,
		LiquidatorReward: reward,
		ProtocolPenalty:  penalty,
		FullLiquidation:  info.FullLiquidation,
	}
	e.emit(events.Liquidation{
		LoanID:           id,
		Liquidator:       liquidator,
		RepayAmt:         result.RepayAmt,
		LiquidatorReward: reward,
		ProtocolPenalty:  penalty,
		Full:             info.FullLiquidation,
	})
	e.logger.Info("loan liquidated",
		"loanId", id.String(),
		"repayAmt", repaid.Dec(),
		"reward", reward.Dec(),
		"penalty", penalty.Dec(),
		"full", info.FullLiquidation)
	return result, nil
}
