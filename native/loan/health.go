package loan

import (
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/types"
)

// HealthFactor computes
//
//	ltv * collateralAmt * collateralPrice * 10^debtDecimals
//	  / (debtAmt * debtPrice) / 10^collateralDecimals
//
// with amounts in native units and prices in PriceDecimals. A loan without
// debt reports MaxHealthFactor.
func HealthFactor(ltv uint16, collateralAmt, collateralPrice *uint256.Int, collateralDecimals uint8,
	debtAmt, debtPrice *uint256.Int, debtDecimals uint8) (*uint256.Int, error) {
	if debtAmt.IsZero() {
		return MaxHealthFactor(), nil
	}
	if debtPrice.IsZero() || collateralPrice.IsZero() {
		return nil, ledgererr.ErrInvalidPrice
	}
	num, err := mul(uint256.NewInt(uint64(ltv)), collateralAmt)
	if err != nil {
		return nil, err
	}
	if num, err = mul(num, collateralPrice); err != nil {
		return nil, err
	}
	den, err := mul(debtAmt, debtPrice)
	if err != nil {
		return nil, err
	}
	hf, err := mulDiv(num, pow10(debtDecimals), den)
	if err != nil {
		return nil, err
	}
	return hf.Div(hf, pow10(collateralDecimals)), nil
}

// healthSnapshot captures everything needed to price a loan at one instant.
type healthSnapshot struct {
	collateralToken *types.Token
	debtToken       *types.Token
	factor          LiquidationFactor
	params          *Params
	collateralPrice *uint256.Int
	debtPrice       *uint256.Int
	collateralL1    *uint256.Int
	debtL1          *uint256.Int
	healthFactor    *uint256.Int
}

func (s *healthSnapshot) healthy() bool {
	return !s.healthFactor.Lt(healthFactorBase)
}

// with recomputes the health factor for hypothetical native amounts using
// ltv.
func (s *healthSnapshot) with(ltv uint16, collateralL1, debtL1 *uint256.Int) (*uint256.Int, error) {
	return HealthFactor(ltv, collateralL1, s.collateralPrice, s.collateralToken.Decimals,
		debtL1, s.debtPrice, s.debtToken.Decimals)
}

func (e *Engine) snapshot(loan *Loan) (*healthSnapshot, error) {
	if e.oracle == nil {
		return nil, ledgererr.ErrInvalidPrice
	}
	params, err := e.state.LoanParams()
	if err != nil {
		return nil, err
	}
	collateralToken, err := e.loadToken(loan.ID.CollateralTokenID())
	if err != nil {
		return nil, err
	}
	debtToken, err := e.loadToken(loan.ID.DebtTokenID())
	if err != nil {
		return nil, err
	}
	collateralPrice, err := e.oracle.Price(collateralToken.ID, e.timestamp)
	if err != nil {
		return nil, err
	}
	debtPrice, err := e.oracle.Price(debtToken.ID, e.timestamp)
	if err != nil {
		return nil, err
	}
	if collateralPrice == nil || collateralPrice.IsZero() || debtPrice == nil || debtPrice.IsZero() {
		return nil, ledgererr.ErrInvalidPrice
	}
	s := &healthSnapshot{
		collateralToken: collateralToken,
		debtToken:       debtToken,
		factor:          params.Factor(collateralToken.IsStableCoin && debtToken.IsStableCoin),
		params:          params,
		collateralPrice: collateralPrice,
		debtPrice:       debtPrice,
	}
	if s.collateralL1, err = ToL1(loan.CollateralAmt, collateralToken.Decimals); err != nil {
		return nil, err
	}
	if s.debtL1, err = ToL1(loan.DebtAmt, debtToken.Decimals); err != nil {
		return nil, err
	}
	if s.healthFactor, err = s.with(s.factor.LiquidationLtvThreshold, s.collateralL1, s.debtL1); err != nil {
		return nil, err
	}
	return s, nil
}

// HealthFactor returns the current health factor of a stored loan.
func (e *Engine) HealthFactor(id types.LoanID) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, err := e.loadLoan(id)
	if err != nil {
		return nil, err
	}
	s, err := e.snapshot(loan)
	if err != nil {
		return nil, err
	}
	return s.healthFactor, nil
}

// requireHealthy fails with ErrLoanIsUnhealthy when a loan carrying debt is
// below HealthFactorBase.
func (e *Engine) requireHealthy(loan *Loan) error {
	if loan.DebtAmt.IsZero() {
		return nil
	}
	s, err := e.snapshot(loan)
	if err != nil {
		return err
	}
	if !s.healthy() {
		return ledgererr.ErrLoanIsUnhealthy
	}
	return nil
}
