package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"zkledger/core/types"
)

const (
	TypeLiquidation                      = "loan.liquidation"
	TypeRepayment                        = "loan.repayment"
	TypeCollateralAdded                  = "loan.collateralAdded"
	TypeCollateralRemoved                = "loan.collateralRemoved"
	TypeRollBorrowOrderPlaced            = "loan.rollBorrowOrderPlaced"
	TypeRollBorrowOrderForceCancelPlaced = "loan.rollBorrowOrderForceCancelPlaced"
	TypeRollOver                         = "loan.rollOver"
	TypeRollBorrowCancel                 = "loan.rollBorrowCancel"
	TypeLoanUpdated                      = "loan.updated"
	TypeParamsUpdated                    = "loan.paramsUpdated"
)

// Liquidation is emitted after a liquidator repays part or all of a loan.
// Amounts are in the tokens' native units.
type Liquidation struct {
	LoanID           types.LoanID
	Liquidator       common.Address
	RepayAmt         *uint256.Int
	LiquidatorReward *uint256.Int
	ProtocolPenalty  *uint256.Int
	Full             bool
}

func (Liquidation) EventType() string { return TypeLiquidation }

func (e Liquidation) Event() *types.Event {
	return &types.Event{
		Type: TypeLiquidation,
		Attributes: map[string]string{
			"loanId":           e.LoanID.String(),
			"liquidator":       e.Liquidator.Hex(),
			"repayAmt":         formatAmount(e.RepayAmt),
			"liquidatorReward": formatAmount(e.LiquidatorReward),
			"protocolPenalty":  formatAmount(e.ProtocolPenalty),
			"full":             strconv.FormatBool(e.Full),
		},
	}
}

type Repayment struct {
	LoanID           types.LoanID
	Owner            common.Address
	CollateralAmt    *uint256.Int
	DebtAmt          *uint256.Int
	DepositRemainder bool
}

func (Repayment) EventType() string { return TypeRepayment }

func (e Repayment) Event() *types.Event {
	return &types.Event{
		Type: TypeRepayment,
		Attributes: map[string]string{
			"loanId":           e.LoanID.String(),
			"owner":            e.Owner.Hex(),
			"collateralAmt":    formatAmount(e.CollateralAmt),
			"debtAmt":          formatAmount(e.DebtAmt),
			"depositRemainder": strconv.FormatBool(e.DepositRemainder),
		},
	}
}

type CollateralAdded struct {
	LoanID types.LoanID
	Amount *uint256.Int
}

func (CollateralAdded) EventType() string { return TypeCollateralAdded }

func (e CollateralAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralAdded,
		Attributes: map[string]string{
			"loanId": e.LoanID.String(),
			"amount": formatAmount(e.Amount),
		},
	}
}

type CollateralRemoved struct {
	LoanID types.LoanID
	Amount *uint256.Int
	Permit bool
}

func (CollateralRemoved) EventType() string { return TypeCollateralRemoved }

func (e CollateralRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralRemoved,
		Attributes: map[string]string{
			"loanId": e.LoanID.String(),
			"amount": formatAmount(e.Amount),
			"permit": strconv.FormatBool(e.Permit),
		},
	}
}

type RollBorrowOrderPlaced struct {
	LoanID               types.LoanID
	ExpiredTime          uint32
	AnnualPercentageRate uint32
	MaxCollateralAmt     *uint256.Int
	MaxBorrowAmt         *uint256.Int
	TargetProduct        common.Address
}

func (RollBorrowOrderPlaced) EventType() string { return TypeRollBorrowOrderPlaced }

func (e RollBorrowOrderPlaced) Event() *types.Event {
	return &types.Event{
		Type: TypeRollBorrowOrderPlaced,
		Attributes: map[string]string{
			"loanId":               e.LoanID.String(),
			"expiredTime":          formatUint(uint64(e.ExpiredTime)),
			"annualPercentageRate": formatUint(uint64(e.AnnualPercentageRate)),
			"maxCollateralAmt":     formatAmount(e.MaxCollateralAmt),
			"maxBorrowAmt":         formatAmount(e.MaxBorrowAmt),
			"targetProduct":        e.TargetProduct.Hex(),
		},
	}
}

type RollBorrowOrderForceCancelPlaced struct {
	LoanID types.LoanID
	Owner  common.Address
}

func (RollBorrowOrderForceCancelPlaced) EventType() string {
	return TypeRollBorrowOrderForceCancelPlaced
}

func (e RollBorrowOrderForceCancelPlaced) Event() *types.Event {
	return &types.Event{
		Type: TypeRollBorrowOrderForceCancelPlaced,
		Attributes: map[string]string{
			"loanId": e.LoanID.String(),
			"owner":  e.Owner.Hex(),
		},
	}
}

// RollOver reports a settled roll borrow order. Amounts are in system units.
type RollOver struct {
	OldLoanID     types.LoanID
	NewLoanID     types.LoanID
	CollateralAmt *uint256.Int
	BorrowAmt     *uint256.Int
	DebtAmt       *uint256.Int
}

func (RollOver) EventType() string { return TypeRollOver }

func (e RollOver) Event() *types.Event {
	return &types.Event{
		Type: TypeRollOver,
		Attributes: map[string]string{
			"oldLoanId":     e.OldLoanID.String(),
			"newLoanId":     e.NewLoanID.String(),
			"collateralAmt": formatAmount(e.CollateralAmt),
			"borrowAmt":     formatAmount(e.BorrowAmt),
			"debtAmt":       formatAmount(e.DebtAmt),
		},
	}
}

// RollBorrowCancel reports a released lock. Reason is "rollup", "admin" or
// "liquidation".
type RollBorrowCancel struct {
	LoanID types.LoanID
	Reason string
}

func (RollBorrowCancel) EventType() string { return TypeRollBorrowCancel }

func (e RollBorrowCancel) Event() *types.Event {
	return &types.Event{
		Type: TypeRollBorrowCancel,
		Attributes: map[string]string{
			"loanId": e.LoanID.String(),
			"reason": e.Reason,
		},
	}
}

type LoanUpdated struct {
	LoanID        types.LoanID
	CollateralAmt *uint256.Int
	DebtAmt       *uint256.Int
	MatchedTime   uint32
}

func (LoanUpdated) EventType() string { return TypeLoanUpdated }

func (e LoanUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLoanUpdated,
		Attributes: map[string]string{
			"loanId":        e.LoanID.String(),
			"collateralAmt": formatAmount(e.CollateralAmt),
			"debtAmt":       formatAmount(e.DebtAmt),
			"matchedTime":   formatUint(uint64(e.MatchedTime)),
		},
	}
}

// ParamsUpdated is emitted by governance setters. Field names the changed
// parameter and Value its new rendering.
type ParamsUpdated struct {
	Field string
	Value string
}

func (ParamsUpdated) EventType() string { return TypeParamsUpdated }

func (e ParamsUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeParamsUpdated,
		Attributes: map[string]string{
			"field": e.Field,
			"value": e.Value,
		},
	}
}
