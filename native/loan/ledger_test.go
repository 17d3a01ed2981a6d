package loan

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
	zkcrypto "zkledger/crypto"
)

func TestRepayPartialCreditsPendingBalance(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenETH)
	f.putLoan(t, id, units(1, 18), units(500, 6))

	require.NoError(t, f.engine.Repay(ownerAddr, id, units(5, 17), units(200, 6), false))

	loan := f.state.loans[id]
	require.Equal(t, uint64(50_000_000), loan.CollateralAmt.Uint64())
	require.Equal(t, uint64(30_000_000_000), loan.DebtAmt.Uint64())
	require.True(t, f.state.pendingOf(ownerAddr, tokenETH).Eq(units(5, 17)))
	require.Empty(t, f.queue.ops)
	require.Equal(t, []string{events.TypeRepayment}, f.eventTypes())
}

func TestRepayDepositRemainderQueuesDeposit(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenETH)
	f.putLoan(t, id, units(1, 18), units(500, 6))

	require.NoError(t, f.engine.Repay(ownerAddr, id, units(1, 18), units(500, 6), true))

	loan := f.state.loans[id]
	require.True(t, loan.CollateralAmt.IsZero())
	require.True(t, loan.DebtAmt.IsZero())
	require.Len(t, f.queue.ops, 1)
	deposit, ok := f.queue.ops[0].(ops.TokenAmount)
	require.True(t, ok)
	require.Equal(t, ops.OpDeposit, deposit.Op)
	require.Equal(t, ownerAccountID, deposit.AccountID)
	require.Equal(t, tokenETH, deposit.TokenID)
	require.Equal(t, uint64(100_000_000), deposit.Amount.Uint64())
	require.True(t, f.state.pendingOf(ownerAddr, tokenETH).IsZero())
}

func TestRepayRejections(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenETH)
	f.putLoan(t, id, units(1, 18), units(500, 6))

	require.ErrorIs(t, f.engine.Repay(liquidatorAddr, id, nil, units(1, 6), false), ledgererr.ErrSenderIsNotLoanOwner)
	require.ErrorIs(t, f.engine.Repay(ownerAddr, id, nil, units(501, 6), false), ledgererr.ErrRepayAmtExceedsDebt)
	require.ErrorIs(t, f.engine.Repay(ownerAddr, id, units(8, 17), nil, false), ledgererr.ErrLoanIsUnhealthy)
	require.ErrorIs(t, f.engine.Repay(ownerAddr, id, nil, nil, false), ledgererr.ErrInvalidAmount)

	loan := f.state.loans[id]
	require.Equal(t, uint64(100_000_000), loan.CollateralAmt.Uint64())
	require.Equal(t, uint64(50_000_000_000), loan.DebtAmt.Uint64())

	missing := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenWBTC)
	require.ErrorIs(t, f.engine.Repay(ownerAddr, missing, nil, units(1, 6), false), ledgererr.ErrLoanIsNotExist)
}

func TestAddAndRemoveCollateral(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenETH)
	f.putLoan(t, id, units(1, 18), units(500, 6))

	require.NoError(t, f.engine.AddCollateral(ownerAddr, id, units(1, 18)))
	require.Equal(t, uint64(200_000_000), f.state.loans[id].CollateralAmt.Uint64())
	require.ErrorIs(t, f.engine.AddCollateral(ownerAddr, id, uint256.NewInt(1)), ledgererr.ErrInvalidAmount)

	require.NoError(t, f.engine.RemoveCollateral(ownerAddr, id, units(15, 17)))
	require.Equal(t, uint64(50_000_000), f.state.loans[id].CollateralAmt.Uint64())
	require.True(t, f.state.pendingOf(ownerAddr, tokenETH).Eq(units(15, 17)))

	// 0.25 ETH left against 500 USDC would be unhealthy.
	require.ErrorIs(t, f.engine.RemoveCollateral(ownerAddr, id, units(25, 16)), ledgererr.ErrLoanIsUnhealthy)
	require.Equal(t, []string{events.TypeCollateralAdded, events.TypeCollateralRemoved}, f.eventTypes())
}

func TestRemoveCollateralRespectsLock(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenETH)
	loan := f.putLoan(t, id, units(2, 18), new(uint256.Int))
	loan.LockedCollateralAmt = uint256.NewInt(150_000_000)
	f.state.loans[id] = loan

	require.ErrorIs(t, f.engine.RemoveCollateral(ownerAddr, id, units(6, 17)), ledgererr.ErrInsufficientCollateral)
	require.NoError(t, f.engine.RemoveCollateral(ownerAddr, id, units(5, 17)))
	requireLockInvariant(t, f.state)
	require.Equal(t, uint64(150_000_000), f.state.loans[id].CollateralAmt.Uint64())
}

func TestRemoveCollateralWithPermit(t *testing.T) {
	f := newFixture(t)
	key, err := zkcrypto.GeneratePrivateKey()
	require.NoError(t, err)
	const accountID uint32 = 11
	f.state.accounts[accountID] = &types.Account{ID: accountID, Address: key.Address()}
	id := types.NewLoanID(accountID, 2_000_000, tokenUSDC, tokenETH)
	f.putLoan(t, id, units(1, 18), units(100, 6))

	permit := Permit{
		Owner:    key.Address(),
		LoanID:   id,
		Amount:   units(1, 17),
		Nonce:    0,
		Deadline: 1_000_100,
	}
	permit.Signature, err = key.Sign(permit.Digest())
	require.NoError(t, err)

	require.NoError(t, f.engine.RemoveCollateralWithPermit(permit))
	require.Equal(t, uint64(90_000_000), f.state.loans[id].CollateralAmt.Uint64())
	require.Equal(t, uint64(1), f.state.nonces[key.Address()])

	// Replays carry a stale nonce.
	require.ErrorIs(t, f.engine.RemoveCollateralWithPermit(permit), ledgererr.ErrInvalidSigner)

	forged := permit
	forged.Nonce = 1
	forged.Amount = units(2, 17)
	require.ErrorIs(t, f.engine.RemoveCollateralWithPermit(forged), ledgererr.ErrInvalidSigner)

	f.engine.SetTimestamp(1_000_101)
	fresh := permit
	fresh.Nonce = 1
	fresh.Signature, err = key.Sign(fresh.Digest())
	require.NoError(t, err)
	require.ErrorIs(t, f.engine.RemoveCollateralWithPermit(fresh), ledgererr.ErrPermitExpired)
}

func TestApplyUpdateLoanCreatesLoan(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenETH)

	_, err := f.engine.GetLoan(id)
	require.ErrorIs(t, err, ledgererr.ErrLoanIsNotExist)

	op := ops.UpdateLoan{LoanID: id, CollateralAmt: uint256.NewInt(100), DebtAmt: uint256.NewInt(40), MatchedTime: 900}
	require.NoError(t, f.engine.ApplyUpdateLoan(op))
	require.NoError(t, f.engine.ApplyUpdateLoan(op))

	loan, err := f.engine.GetLoan(id)
	require.NoError(t, err)
	require.Equal(t, uint64(200), loan.CollateralAmt.Uint64())
	require.Equal(t, uint64(80), loan.DebtAmt.Uint64())
	require.Equal(t, uint32(900), loan.MatchedTime)
	require.Equal(t, uint32(2_000_000), loan.MaturityTime)
}

func TestGovernanceSetters(t *testing.T) {
	f := newFixture(t)

	bad := LiquidationFactor{LiquidationLtvThreshold: 950, BorrowOrderLtvThreshold: 900, LiquidatorIncentive: 50, ProtocolPenalty: 25}
	require.ErrorIs(t, f.engine.SetLiquidationFactor(bad, false), ledgererr.ErrInvalidLiquidationFactor)
	inverted := LiquidationFactor{LiquidationLtvThreshold: 700, BorrowOrderLtvThreshold: 750}
	require.ErrorIs(t, f.engine.SetLiquidationFactor(inverted, true), ledgererr.ErrInvalidLiquidationFactor)

	good := LiquidationFactor{LiquidationLtvThreshold: 900, BorrowOrderLtvThreshold: 850, LiquidatorIncentive: 50, ProtocolPenalty: 50}
	require.NoError(t, f.engine.SetLiquidationFactor(good, true))
	require.Equal(t, good, f.state.params.Stable)

	require.NoError(t, f.engine.SetHalfLiquidationThreshold(5_000))
	require.Equal(t, uint64(5_000), f.state.params.HalfLiquidationThreshold)

	require.NoError(t, f.engine.SetRollOverFee(uint256.NewInt(42)))
	require.Equal(t, uint64(42), f.state.params.RollOverFee.Uint64())
	require.Len(t, f.eventTypes(), 3)
}

func TestMutatorsBlockedDuringEvacuation(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenETH)
	f.putLoan(t, id, units(1, 18), units(500, 6))
	f.engine.SetMode(modeFlag(true))

	require.ErrorIs(t, f.engine.Repay(ownerAddr, id, nil, units(1, 6), false), ledgererr.ErrEvacuModeActivated)
	require.ErrorIs(t, f.engine.AddCollateral(ownerAddr, id, units(1, 18)), ledgererr.ErrEvacuModeActivated)
	require.ErrorIs(t, f.engine.RemoveCollateral(ownerAddr, id, units(1, 17)), ledgererr.ErrEvacuModeActivated)
	require.ErrorIs(t, f.engine.ForceCancelRollBorrow(ownerAddr, id), ledgererr.ErrEvacuModeActivated)
}

func TestSubUnitAmountsNeverLeaveTheLoan(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenUSDC, tokenETH)
	f.putLoan(t, id, units(1, 18), units(500, 6))
	dust := uint256.NewInt(9_999_999_999)

	for i := 0; i < 10; i++ {
		require.ErrorIs(t, f.engine.RemoveCollateral(ownerAddr, id, dust), ledgererr.ErrInvalidAmount)
		require.ErrorIs(t, f.engine.Repay(ownerAddr, id, dust, nil, false), ledgererr.ErrInvalidAmount)
	}
	require.Equal(t, uint64(100_000_000), f.state.loans[id].CollateralAmt.Uint64())
	require.True(t, f.state.pendingOf(ownerAddr, tokenETH).IsZero())

	// Only whole system units are paid out.
	amount := new(uint256.Int).Add(units(1, 10), dust)
	require.NoError(t, f.engine.RemoveCollateral(ownerAddr, id, amount))
	require.Equal(t, uint64(99_999_999), f.state.loans[id].CollateralAmt.Uint64())
	require.True(t, f.state.pendingOf(ownerAddr, tokenETH).Eq(units(1, 10)))
}

func TestRepaySubUnitDebtIsRejected(t *testing.T) {
	f := newFixture(t)
	id := types.NewLoanID(ownerAccountID, 2_000_000, tokenETH, tokenUSDC)
	f.putLoan(t, id, units(10_000, 6), units(1, 18))

	require.ErrorIs(t, f.engine.Repay(ownerAddr, id, nil, uint256.NewInt(9_999_999_999), false), ledgererr.ErrInvalidAmount)
	require.Equal(t, uint64(100_000_000), f.state.loans[id].DebtAmt.Uint64())

	require.NoError(t, f.engine.Repay(ownerAddr, id, nil, new(uint256.Int).Add(units(1, 17), uint256.NewInt(9_999_999_999)), false))
	require.Equal(t, uint64(90_000_000), f.state.loans[id].DebtAmt.Uint64())
}
