package loan

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/types"
)

// Loan captures a borrower position for a single maturity and token pair.
// Amounts are denominated in system units (SystemDecimals) so positions over
// tokens with different native precision share one representation.
type Loan struct {
	ID types.LoanID
	// CollateralAmt is the total collateral pledged, including the locked part.
	CollateralAmt *uint256.Int
	// DebtAmt is the outstanding principal plus fixed interest owed at maturity.
	DebtAmt *uint256.Int
	// LockedCollateralAmt is reserved by an in-flight roll borrow order and
	// never exceeds CollateralAmt.
	LockedCollateralAmt *uint256.Int
	MatchedTime         uint32
	MaturityTime        uint32
}

// NewLoan returns an empty loan record for id.
func NewLoan(id types.LoanID) *Loan {
	return &Loan{
		ID:                  id,
		CollateralAmt:       new(uint256.Int),
		DebtAmt:             new(uint256.Int),
		LockedCollateralAmt: new(uint256.Int),
		MaturityTime:        id.MaturityTime(),
	}
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := &Loan{ID: l.ID, MatchedTime: l.MatchedTime, MaturityTime: l.MaturityTime}
	clone.CollateralAmt = cloneAmount(l.CollateralAmt)
	clone.DebtAmt = cloneAmount(l.DebtAmt)
	clone.LockedCollateralAmt = cloneAmount(l.LockedCollateralAmt)
	return clone
}

// IsEmpty reports whether the slot has never held a position.
func (l *Loan) IsEmpty() bool {
	return l == nil || (l.CollateralAmt.IsZero() && l.DebtAmt.IsZero() && l.MatchedTime == 0)
}

// IsLocked reports whether a roll borrow order reserves part of the collateral.
func (l *Loan) IsLocked() bool {
	return l != nil && !l.LockedCollateralAmt.IsZero()
}

// FreeCollateral returns the collateral not reserved by a roll borrow order.
func (l *Loan) FreeCollateral() *uint256.Int {
	if l.LockedCollateralAmt.Gt(l.CollateralAmt) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(l.CollateralAmt, l.LockedCollateralAmt)
}

func (l *Loan) ensureDefaults() {
	if l.CollateralAmt == nil {
		l.CollateralAmt = new(uint256.Int)
	}
	if l.DebtAmt == nil {
		l.DebtAmt = new(uint256.Int)
	}
	if l.LockedCollateralAmt == nil {
		l.LockedCollateralAmt = new(uint256.Int)
	}
	if l.MaturityTime == 0 {
		l.MaturityTime = l.ID.MaturityTime()
	}
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// LiquidationFactor groups the basis-1000 risk settings for a class of token
// pairs.
type LiquidationFactor struct {
	LiquidationLtvThreshold uint16 `json:"liquidationLtvThreshold" toml:"LiquidationLtvThreshold" yaml:"liquidationLtvThreshold"`
	BorrowOrderLtvThreshold uint16 `json:"borrowOrderLtvThreshold" toml:"BorrowOrderLtvThreshold" yaml:"borrowOrderLtvThreshold"`
	LiquidatorIncentive     uint16 `json:"liquidatorIncentive" toml:"LiquidatorIncentive" yaml:"liquidatorIncentive"`
	ProtocolPenalty         uint16 `json:"protocolPenalty" toml:"ProtocolPenalty" yaml:"protocolPenalty"`
}

// Validate enforces that the liquidation threshold plus the liquidation
// spread never exceeds one and that borrow orders are at least as strict as
// liquidation.
func (f LiquidationFactor) Validate() error {
	if f.LiquidationLtvThreshold == 0 {
		return ledgererr.ErrInvalidLiquidationFactor
	}
	total := uint32(f.LiquidationLtvThreshold) + uint32(f.LiquidatorIncentive) + uint32(f.ProtocolPenalty)
	if total > HealthFactorBase {
		return ledgererr.ErrInvalidLiquidationFactor
	}
	if f.BorrowOrderLtvThreshold > f.LiquidationLtvThreshold {
		return ledgererr.ErrInvalidLiquidationFactor
	}
	return nil
}

// Params holds the governance controlled loan settings persisted in state.
type Params struct {
	General LiquidationFactor
	Stable  LiquidationFactor
	// HalfLiquidationThreshold is the collateral value, in whole USD, at or
	// above which a non-matured loan may only be half liquidated per call.
	HalfLiquidationThreshold uint64
	// RollOverFee is the flat fee, in base-ledger native units, charged per
	// roll borrow order.
	RollOverFee *uint256.Int
	// Treasury receives protocol penalties.
	Treasury common.Address
}

// Clone returns a deep copy of the parameters.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.RollOverFee = cloneAmount(p.RollOverFee)
	return &clone
}

// Factor selects the liquidation factor for a token pair.
func (p *Params) Factor(stablePair bool) LiquidationFactor {
	if stablePair {
		return p.Stable
	}
	return p.General
}

// RollBorrowOrder asks the rollup to refinance part of a loan into a later
// maturity product. Amounts are in the tokens' native units.
type RollBorrowOrder struct {
	LoanID               types.LoanID   `json:"loanId"`
	ExpiredTime          uint32         `json:"expiredTime"`
	AnnualPercentageRate uint32         `json:"annualPercentageRate"`
	MaxCollateralAmt     *uint256.Int   `json:"maxCollateralAmt"`
	MaxBorrowAmt         *uint256.Int   `json:"maxBorrowAmt"`
	TargetProductAddr    common.Address `json:"targetProductAddr"`
}

// LiquidationResult reports the settlement of a single liquidation call in the
// tokens' native units.
type LiquidationResult struct {
	LoanID           types.LoanID `json:"loanId"`
	RepayAmt         *uint256.Int `json:"repayAmt"`
	LiquidatorReward *uint256.Int `json:"liquidatorReward"`
	ProtocolPenalty  *uint256.Int `json:"protocolPenalty"`
	FullLiquidation  bool         `json:"fullLiquidation"`
}

// LiquidationInfo describes whether a loan can be liquidated right now and
// how much debt a single call may repay.
type LiquidationInfo struct {
	Liquidatable    bool         `json:"liquidatable"`
	FullLiquidation bool         `json:"fullLiquidation"`
	HealthFactor    *uint256.Int `json:"healthFactor"`
	MaxRepayAmt     *uint256.Int `json:"maxRepayAmt"`
	DebtTokenID     uint16       `json:"debtTokenId"`
}
