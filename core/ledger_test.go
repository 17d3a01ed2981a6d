package core

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/genesis"
	"zkledger/core/ops"
	"zkledger/core/pricing"
	"zkledger/core/types"
	"zkledger/storage"
)

const testGenesis = `
genesisTime: 2024-01-01T00:00:00Z
treasury: "0x00000000000000000000000000000000000000fe"
tokens:
  - id: 1
    symbol: ETH
    decimals: 18
    priceUsd: "2000"
  - id: 2
    symbol: USDC
    decimals: 6
    stableCoin: true
    priceUsd: "1"
products:
  - baseTokenId: 2
    tsbTokenId: 40
    maturityTime: 2024-12-31T00:00:00Z
`

const (
	ethID  uint16 = 1
	usdcID uint16 = 2
)

var (
	borrower   = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	liquidator = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	treasury   = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

type recordingJournal struct {
	batches [][]events.Event
}

func (j *recordingJournal) Append(_ context.Context, evts []events.Event) error {
	j.batches = append(j.batches, evts)
	return nil
}

type harness struct {
	ledger  *Ledger
	journal *recordingJournal
	emitted *events.Buffer
	now     time.Time
	tip     types.StoredBlock
	spec    *genesis.GenesisSpec
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	spec, err := genesis.ParseGenesisSpec([]byte(testGenesis))
	require.NoError(t, err)

	h := &harness{journal: &recordingJournal{}, emitted: &events.Buffer{}, spec: spec}
	h.now = spec.GenesisTimestamp().Add(time.Hour)
	db := storage.NewMemDB()
	t.Cleanup(db.Close)

	h.ledger, err = NewLedger(db, Options{
		Journal: h.journal,
		Emitter: h.emitted,
		Clock:   func() time.Time { return h.now },
	})
	require.NoError(t, err)

	block, err := h.ledger.InitGenesis(context.Background(), spec)
	require.NoError(t, err)
	h.tip = *block
	return h
}

func (h *harness) commit(t *testing.T, pubData []byte) types.StoredBlock {
	t.Helper()
	stored, err := h.ledger.CommitBlocks(context.Background(), h.tip, []types.CommitBlock{{
		BlockNumber:  h.tip.BlockNumber + 1,
		NewStateRoot: common.BytesToHash([]byte{byte(h.tip.BlockNumber + 1)}),
		Timestamp:    uint64(h.now.Unix()),
		PublicData:   pubData,
	}})
	require.NoError(t, err)
	h.tip = stored[0]
	return stored[0]
}

func (h *harness) verify(t *testing.T, b types.StoredBlock) {
	t.Helper()
	require.NoError(t, h.ledger.VerifyBlocks(context.Background(), []types.VerifyBlock{{
		StoredBlock: b,
		Proof:       types.Proof{Commitment: b.Commitment, Data: b.Commitment.Bytes()},
	}}))
}

func encodeAll(t *testing.T, list ...ops.Op) ([]byte, [][]byte) {
	t.Helper()
	var data []byte
	var pending [][]byte
	for _, op := range list {
		encoded, err := op.Encode()
		require.NoError(t, err)
		data = append(data, encoded...)
		if ops.IsPendingRollupTx(op.OpType()) {
			pending = append(pending, encoded)
		}
	}
	return data, pending
}

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

// openLoan registers the borrower, deposits one ether and matches a loan of
// 1 ETH collateral against 1000 USDC of debt through an executed block.
func (h *harness) openLoan(t *testing.T) types.LoanID {
	t.Helper()
	ctx := context.Background()
	accountID, err := h.ledger.RegisterAccount(ctx, borrower)
	require.NoError(t, err)
	_, err = h.ledger.Deposit(ctx, borrower, ethID, ether(1))
	require.NoError(t, err)

	maturity := h.spec.LoanProducts()[0].MaturityTime
	loanID := types.NewLoanID(accountID, maturity, usdcID, ethID)
	data, pending := encodeAll(t,
		ops.CreateLoanProduct{MaturityTime: maturity, BaseTokenID: usdcID, TsbTokenID: 40},
		ops.Register{AccountID: accountID, L1Addr: borrower},
		ops.TokenAmount{Op: ops.OpDeposit, AccountID: accountID, TokenID: ethID, Amount: uint256.NewInt(100_000_000)},
		ops.UpdateLoan{LoanID: loanID, CollateralAmt: uint256.NewInt(100_000_000), DebtAmt: uint256.NewInt(100_000_000_000), MatchedTime: uint32(h.now.Unix())},
	)
	block := h.commit(t, data)
	h.verify(t, block)
	require.NoError(t, h.ledger.ExecuteBlocks(ctx, []types.ExecuteBlock{{StoredBlock: block, PendingRollupTxPubData: pending}}))
	return loanID
}

func TestInitGenesisIsOneShot(t *testing.T) {
	h := newHarness(t)
	ok, err := h.ledger.Initialized()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.ledger.InitGenesis(context.Background(), h.spec)
	require.ErrorIs(t, err, ErrAlreadyInitialised)

	token, ok, err := h.ledger.Token(usdcID)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, token.IsStableCoin)
	params, err := h.ledger.LoanParams()
	require.NoError(t, err)
	require.Equal(t, treasury, params.Treasury)

	status, err := h.ledger.Status()
	require.NoError(t, err)
	require.Equal(t, uint64(1), status.TotalL1RequestNum)
}

func TestLoanLifecycleThroughLedger(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	loanID := h.openLoan(t)

	hf, err := h.ledger.HealthFactor(loanID)
	require.NoError(t, err)
	require.Equal(t, uint64(1600), hf.Uint64())

	stage, err := h.ledger.Stage(1)
	require.NoError(t, err)
	require.Equal(t, "executed", stage.String())

	h.ledger.Oracle().RegisterFeed(ethID, pricing.NewStaticFeed(pricing.PriceDecimals, new(big.Int).Mul(big.NewInt(1100), big.NewInt(1e18)), uint64(h.now.Unix())))
	info, err := h.ledger.LiquidationInfo(loanID)
	require.NoError(t, err)
	require.True(t, info.Liquidatable)
	require.True(t, info.FullLiquidation)
	require.Equal(t, uint64(1_000_000_000), info.MaxRepayAmt.Uint64())

	result, err := h.ledger.Liquidate(ctx, liquidator, loanID, info.MaxRepayAmt)
	require.NoError(t, err)
	require.True(t, result.FullLiquidation)

	got, err := h.ledger.PendingBalance(liquidator, ethID)
	require.NoError(t, err)
	require.True(t, got.Eq(result.LiquidatorReward))
	penalty, err := h.ledger.PendingBalance(treasury, ethID)
	require.NoError(t, err)
	require.True(t, penalty.Eq(result.ProtocolPenalty))
	require.False(t, new(uint256.Int).Add(got, penalty).Gt(ether(1)))

	record, err := h.ledger.Loan(loanID)
	require.NoError(t, err)
	require.True(t, record.DebtAmt.IsZero())

	var seen []string
	for _, batch := range h.journal.batches {
		for _, evt := range batch {
			seen = append(seen, evt.EventType())
		}
	}
	require.Contains(t, seen, events.TypeLiquidation)
	require.Contains(t, seen, events.TypeLoanUpdated)
	require.Len(t, h.emitted.Drain(), len(seen))
}

func TestFailedExecutionLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.openLoan(t)

	data, pending := encodeAll(t,
		ops.TokenAmount{Op: ops.OpWithdraw, AccountID: 1, TokenID: ethID, Amount: uint256.NewInt(10_000_000)},
		ops.TokenAmount{Op: ops.OpWithdraw, AccountID: 9, TokenID: ethID, Amount: uint256.NewInt(1)},
	)
	block := h.commit(t, data)
	h.verify(t, block)
	batches := len(h.journal.batches)

	err := h.ledger.ExecuteBlocks(ctx, []types.ExecuteBlock{{StoredBlock: block, PendingRollupTxPubData: pending}})
	require.ErrorIs(t, err, ledgererr.ErrAccountNotRegistered)

	balance, err := h.ledger.PendingBalance(borrower, ethID)
	require.NoError(t, err)
	require.True(t, balance.IsZero())
	status, err := h.ledger.Status()
	require.NoError(t, err)
	require.Equal(t, uint32(1), status.ExecutedBlockNum)
	require.Equal(t, uint32(2), status.VerifiedBlockNum)
	require.Len(t, h.journal.batches, batches)
}

func TestEvacuationFreezesLoans(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	loanID := h.openLoan(t)

	_, err := h.ledger.Deposit(ctx, borrower, ethID, ether(1))
	require.NoError(t, err)
	require.ErrorIs(t, h.ledger.ActivateEvacuation(ctx), ledgererr.ErrTimeStampIsNotExpired)

	h.now = h.now.Add(15 * 24 * time.Hour)
	require.NoError(t, h.ledger.ActivateEvacuation(ctx))

	status, err := h.ledger.Status()
	require.NoError(t, err)
	require.True(t, status.EvacuMode)

	err = h.ledger.Repay(ctx, borrower, loanID, new(uint256.Int), uint256.NewInt(1), false)
	require.ErrorIs(t, err, ledgererr.ErrEvacuModeActivated)
	_, err = h.ledger.RegisterAccount(ctx, liquidator)
	require.ErrorIs(t, err, ledgererr.ErrEvacuModeActivated)
}
