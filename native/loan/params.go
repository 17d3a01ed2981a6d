package loan

import (
	"strconv"

	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
)

// DefaultParams mirrors the launch configuration of the protocol.
func DefaultParams() *Params {
	return &Params{
		General: LiquidationFactor{
			LiquidationLtvThreshold: 800,
			BorrowOrderLtvThreshold: 750,
			LiquidatorIncentive:     50,
			ProtocolPenalty:         25,
		},
		Stable: LiquidationFactor{
			LiquidationLtvThreshold: 925,
			BorrowOrderLtvThreshold: 900,
			LiquidatorIncentive:     30,
			ProtocolPenalty:         15,
		},
		HalfLiquidationThreshold: 10_000,
		RollOverFee:              new(uint256.Int),
	}
}

// Validate checks every liquidation factor.
func (p *Params) Validate() error {
	if p == nil {
		return ledgererr.ErrInvalidLiquidationFactor
	}
	if err := p.General.Validate(); err != nil {
		return err
	}
	return p.Stable.Validate()
}

// SetLiquidationFactor replaces the factor used for stable coin pairs or for
// every other pair.
func (e *Engine) SetLiquidationFactor(factor LiquidationFactor, stablePair bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := factor.Validate(); err != nil {
		return err
	}
	params, err := e.state.LoanParams()
	if err != nil {
		return err
	}
	field := "general"
	if stablePair {
		params.Stable = factor
		field = "stable"
	} else {
		params.General = factor
	}
	if err := e.state.PutLoanParams(params); err != nil {
		return err
	}
	e.emit(events.ParamsUpdated{
		Field: field + "LiquidationFactor",
		Value: strconv.Itoa(int(factor.LiquidationLtvThreshold)) + "/" +
			strconv.Itoa(int(factor.BorrowOrderLtvThreshold)) + "/" +
			strconv.Itoa(int(factor.LiquidatorIncentive)) + "/" +
			strconv.Itoa(int(factor.ProtocolPenalty)),
	})
	return nil
}

// SetHalfLiquidationThreshold sets the collateral value, in whole USD, below
// which a loan may be fully liquidated in one call.
func (e *Engine) SetHalfLiquidationThreshold(value uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	params, err := e.state.LoanParams()
	if err != nil {
		return err
	}
	params.HalfLiquidationThreshold = value
	if err := e.state.PutLoanParams(params); err != nil {
		return err
	}
	e.emit(events.ParamsUpdated{Field: "halfLiquidationThreshold", Value: strconv.FormatUint(value, 10)})
	return nil
}

// SetRollOverFee sets the flat fee charged per roll borrow order.
func (e *Engine) SetRollOverFee(fee *uint256.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	params, err := e.state.LoanParams()
	if err != nil {
		return err
	}
	params.RollOverFee = orZero(fee).Clone()
	if err := e.state.PutLoanParams(params); err != nil {
		return err
	}
	e.emit(events.ParamsUpdated{Field: "rollOverFee", Value: params.RollOverFee.Dec()})
	return nil
}
