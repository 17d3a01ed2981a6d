package loan

import (
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
)

const (
	// HealthFactorBase is the basis of health factors and liquidation
	// factors. A health factor below it marks an undercollateralised loan.
	HealthFactorBase = 1000
	// SystemDecimals is the fixed precision of every amount stored on a loan.
	SystemDecimals = 8
	// PriceDecimals is the precision prices are normalised to before use.
	PriceDecimals = 18
	// APRBase scales AnnualPercentageRate: 5% is 5_000_000.
	APRBase        = 100_000_000
	SecondsPerYear = 365 * 24 * 60 * 60
)

var (
	healthFactorBase = uint256.NewInt(HealthFactorBase)
	maxHealthFactor  = new(uint256.Int).SetAllOne()
	pow10Table       = buildPow10Table()
)

func buildPow10Table() [78]*uint256.Int {
	var table [78]*uint256.Int
	ten := uint256.NewInt(10)
	table[0] = uint256.NewInt(1)
	for i := 1; i < len(table); i++ {
		table[i] = new(uint256.Int).Mul(table[i-1], ten)
	}
	return table
}

// pow10 returns a fresh copy of 10^n. n never exceeds 77 for valid token
// decimals.
func pow10(n uint8) *uint256.Int {
	if int(n) >= len(pow10Table) {
		n = uint8(len(pow10Table) - 1)
	}
	return pow10Table[n].Clone()
}

// MaxHealthFactor is reported for loans without debt.
func MaxHealthFactor() *uint256.Int { return maxHealthFactor.Clone() }

// mulDiv computes x*y/d with a 512-bit intermediate.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ledgererr.ErrArithmeticOverflow
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ledgererr.ErrArithmeticOverflow
	}
	return z, nil
}

func mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ledgererr.ErrArithmeticOverflow
	}
	return z, nil
}

func add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ledgererr.ErrArithmeticOverflow
	}
	return z, nil
}

// satSub returns x-y or zero when y exceeds x.
func satSub(x, y *uint256.Int) *uint256.Int {
	if y.Gt(x) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(x, y)
}

// ToL1 rescales a system amount to a token's native decimals, rounding down.
func ToL1(amt *uint256.Int, decimals uint8) (*uint256.Int, error) {
	return mulDiv(amt, pow10(decimals), pow10(SystemDecimals))
}

// ToL2 rescales a native amount to system decimals, rounding down.
func ToL2(amt *uint256.Int, decimals uint8) (*uint256.Int, error) {
	return mulDiv(amt, pow10(SystemDecimals), pow10(decimals))
}

// truncate drops precision finer than one system unit from a native amount.
func truncate(amt *uint256.Int, decimals uint8) (*uint256.Int, error) {
	l2, err := ToL2(amt, decimals)
	if err != nil {
		return nil, err
	}
	return ToL1(l2, decimals)
}
