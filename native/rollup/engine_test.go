package rollup

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
)

func noopChunk() []byte { return make([]byte, ops.ChunkBytes) }

func TestAppendL1RequestNumbersMonotonically(t *testing.T) {
	f := newFixture(t)

	for want := uint64(0); want < 3; want++ {
		id, err := f.engine.AppendL1Request(ops.CreateLoanProduct{MaturityTime: uint32(want) + 1, BaseTokenID: tokenETH, TsbTokenID: 9})
		require.NoError(t, err)
		require.Equal(t, want, id)
	}
	req, err := f.engine.L1Request(2)
	require.NoError(t, err)
	require.Equal(t, uint8(ops.OpCreateLoanProduct), req.OpType)
	require.Equal(t, genesisTime+uint64((14*24*time.Hour)/time.Second), req.ExpirationTime)

	next, err := f.engine.NextUnprocessed()
	require.NoError(t, err)
	require.Zero(t, next)

	_, err = f.engine.AppendL1Request(ops.TokenAmount{Op: ops.OpWithdraw, AccountID: 1, TokenID: tokenETH, Amount: uint256.NewInt(1)})
	require.ErrorIs(t, err, ledgererr.ErrInvalidOpType)
	f.requireInvariants(t)
}

func TestBlockPipeline(t *testing.T) {
	f := newFixture(t)

	accountID, err := f.engine.RegisterAccount(userAddr)
	require.NoError(t, err)
	require.Equal(t, uint32(1), accountID)
	_, err = f.engine.RegisterAccount(userAddr)
	require.ErrorIs(t, err, ledgererr.ErrAccountAlreadyRegistered)

	_, err = f.engine.Deposit(userAddr, tokenETH, new(uint256.Int).Mul(uint256.NewInt(2), uint256.NewInt(1e18)))
	require.NoError(t, err)

	withdraw := mustEncode(t, ops.TokenAmount{Op: ops.OpWithdraw, AccountID: accountID, TokenID: tokenETH, Amount: uint256.NewInt(50_000_000)})
	loanID := types.NewLoanID(accountID, 1_800_000_000, 2, tokenETH)
	update := mustEncode(t, ops.UpdateLoan{LoanID: loanID, CollateralAmt: uint256.NewInt(100), DebtAmt: uint256.NewInt(10), MatchedTime: 5})

	pubData := encode(t,
		ops.Register{AccountID: accountID, L1Addr: userAddr},
		ops.TokenAmount{Op: ops.OpDeposit, AccountID: accountID, TokenID: tokenETH, Amount: uint256.NewInt(200_000_000)},
	)
	pubData = append(pubData, withdraw...)
	pubData = append(pubData, noopChunk()...)
	pubData = append(pubData, update...)

	block := f.commit(t, pubData)
	require.Equal(t, uint32(1), block.BlockNumber)
	require.Equal(t, uint64(2), block.L1RequestNum)
	stage, err := f.engine.Stage(1)
	require.NoError(t, err)
	require.Equal(t, StageCommitted, stage)

	f.verify(t, block)
	stage, _ = f.engine.Stage(1)
	require.Equal(t, StageVerified, stage)

	require.NoError(t, f.engine.ExecuteBlocks([]types.ExecuteBlock{{
		StoredBlock:            block,
		PendingRollupTxPubData: [][]byte{withdraw, update},
	}}))
	stage, _ = f.engine.Stage(1)
	require.Equal(t, StageExecuted, stage)

	status := f.state.status
	require.Equal(t, uint32(1), status.ExecutedBlockNum)
	require.Equal(t, uint64(2), status.ExecutedL1RequestNum)
	require.True(t, f.state.pending[pendingKey{userAddr, tokenETH}].Eq(uint256.NewInt(5e17)))
	require.Len(t, f.loans.updates, 1)
	require.Equal(t, loanID, f.loans.updates[0].LoanID)
	f.requireInvariants(t)

	var kinds []string
	for _, evt := range f.events.Drain() {
		kinds = append(kinds, evt.EventType())
	}
	require.Contains(t, kinds, events.TypeBlockCommitted)
	require.Contains(t, kinds, events.TypeBlockVerified)
	require.Contains(t, kinds, events.TypeBlockExecuted)
	require.Contains(t, kinds, events.TypeWithdrawalCredited)
}

func TestForceWithdrawAmountIsFilledByOperator(t *testing.T) {
	f := newFixture(t)
	accountID, err := f.engine.RegisterAccount(userAddr)
	require.NoError(t, err)
	_, err = f.engine.ForceWithdraw(userAddr, tokenETH)
	require.NoError(t, err)

	register := mustEncode(t, ops.Register{AccountID: accountID, L1Addr: userAddr})
	force := mustEncode(t, ops.TokenAmount{Op: ops.OpForceWithdraw, AccountID: accountID, TokenID: tokenETH, Amount: uint256.NewInt(100_000_000)})
	block := f.commit(t, append(register, force...))
	f.verify(t, block)
	require.NoError(t, f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: block, PendingRollupTxPubData: [][]byte{force}}}))
	require.True(t, f.state.pending[pendingKey{userAddr, tokenETH}].Eq(uint256.NewInt(1e18)))
}

func TestCommitBlocksRejections(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.RegisterAccount(userAddr)
	require.NoError(t, err)
	register := mustEncode(t, ops.Register{AccountID: 1, L1Addr: userAddr})
	now := f.engine.timestamp

	cases := []struct {
		name  string
		last  types.StoredBlock
		block types.CommitBlock
		want  error
	}{
		{"skipped number", f.genesis, types.CommitBlock{BlockNumber: 2, Timestamp: now, PublicData: register}, ledgererr.ErrInvalidBlockNumber},
		{"timestamp before parent", f.genesis, types.CommitBlock{BlockNumber: 1, Timestamp: genesisTime - 1, PublicData: register}, ledgererr.ErrInvalidTimestamp},
		{"timestamp in the future", f.genesis, types.CommitBlock{BlockNumber: 1, Timestamp: now + 3600, PublicData: register}, ledgererr.ErrInvalidTimestamp},
		{"partial chunk", f.genesis, types.CommitBlock{BlockNumber: 1, Timestamp: now, PublicData: register[:20]}, ledgererr.ErrInvalidPubDataLength},
		{"wrong request", f.genesis, types.CommitBlock{BlockNumber: 1, Timestamp: now, PublicData: mustEncode(t, ops.Register{AccountID: 2, L1Addr: userAddr})}, ledgererr.ErrInvalidL1Request},
		{"unqueued request", f.genesis, types.CommitBlock{BlockNumber: 1, Timestamp: now, PublicData: append(append([]byte{}, register...), register...)}, ledgererr.ErrL1RequestNotFound},
		{"stale parent", types.StoredBlock{BlockNumber: 0, Timestamp: 1}, types.CommitBlock{BlockNumber: 1, Timestamp: now, PublicData: register}, ledgererr.ErrInvalidLastCommittedBlock},
		{"unknown op", f.genesis, types.CommitBlock{BlockNumber: 1, Timestamp: now, PublicData: append([]byte{0x7f}, make([]byte, ops.ChunkBytes-1)...)}, ledgererr.ErrInvalidOpType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.CommitBlocks(tc.last, []types.CommitBlock{tc.block})
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, ledgererr.KindOf(tc.want), ledgererr.KindOf(err))
			require.Zero(t, f.state.status.CommittedBlockNum)
		})
	}

	t.Run("too many chunks", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MaxChunksPerBlock = 2
		f.engine.cfg = cfg
		defer func() { f.engine.cfg = DefaultConfig() }()
		_, err := f.engine.CommitBlocks(f.genesis, []types.CommitBlock{{BlockNumber: 1, Timestamp: now, PublicData: register}})
		require.ErrorIs(t, err, ledgererr.ErrExceedMaxChunkNum)
	})
}

func TestCommitPipelineDepth(t *testing.T) {
	f := newFixture(t)
	cfg := DefaultConfig()
	cfg.MaxPendingBlocks = 2
	f.engine.cfg = cfg

	f.commit(t, noopChunk())
	f.commit(t, noopChunk())
	_, err := f.engine.CommitBlocks(f.tip, []types.CommitBlock{{BlockNumber: 3, Timestamp: f.engine.timestamp, PublicData: noopChunk()}})
	require.ErrorIs(t, err, ledgererr.ErrPipelineFull)
}

func TestVerifyBlocksRejections(t *testing.T) {
	f := newFixture(t)
	b1 := f.commit(t, noopChunk())
	b2 := f.commit(t, noopChunk())

	err := f.engine.VerifyBlocks([]types.VerifyBlock{{StoredBlock: b2, Proof: types.Proof{Commitment: b2.Commitment, Data: b2.Commitment.Bytes()}}})
	require.ErrorIs(t, err, ledgererr.ErrInvalidBlockNumber)

	tampered := b1
	tampered.StateRoot = common.HexToHash("0xbad")
	err = f.engine.VerifyBlocks([]types.VerifyBlock{{StoredBlock: tampered, Proof: types.Proof{Commitment: b1.Commitment}}})
	require.ErrorIs(t, err, ledgererr.ErrInvalidBlockHash)

	err = f.engine.VerifyBlocks([]types.VerifyBlock{{StoredBlock: b1, Proof: types.Proof{Commitment: b2.Commitment, Data: b2.Commitment.Bytes()}}})
	require.ErrorIs(t, err, ledgererr.ErrInvalidCommitment)

	err = f.engine.VerifyBlocks([]types.VerifyBlock{{StoredBlock: b1, Proof: types.Proof{Commitment: b1.Commitment, Data: []byte("junk")}}})
	require.ErrorIs(t, err, ledgererr.ErrInvalidProof)
	require.Equal(t, ledgererr.KindProof, ledgererr.KindOf(err))

	var seen PublicInputs
	f.engine.SetVerifier(VerifierFunc(func(_ []byte, inputs PublicInputs) bool {
		seen = inputs
		return inputs.BlockNumber == 1
	}))
	err = f.engine.VerifyBlocks([]types.VerifyBlock{
		{StoredBlock: b1, Proof: types.Proof{Commitment: b1.Commitment}},
		{StoredBlock: b2, Proof: types.Proof{Commitment: b2.Commitment}},
	})
	require.ErrorIs(t, err, ledgererr.ErrInvalidProof)
	require.Zero(t, f.state.status.VerifiedBlockNum)
	require.Equal(t, f.genesis.StateRoot, f.state.commitments[1].OldStateRoot)
	require.Equal(t, uint32(2), seen.BlockNumber)
	require.Equal(t, b2.Commitment, seen.Commitment)
}

func TestExecuteBlocksIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	accountID, err := f.engine.RegisterAccount(userAddr)
	require.NoError(t, err)
	withdraw := mustEncode(t, ops.TokenAmount{Op: ops.OpWithdraw, AccountID: accountID, TokenID: tokenETH, Amount: uint256.NewInt(1)})
	update := mustEncode(t, ops.UpdateLoan{LoanID: types.NewLoanID(accountID, 1, 2, 1), CollateralAmt: uint256.NewInt(1), DebtAmt: uint256.NewInt(1)})
	register := mustEncode(t, ops.Register{AccountID: accountID, L1Addr: userAddr})

	block := f.commit(t, append(append(register, withdraw...), update...))

	err = f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: block, PendingRollupTxPubData: [][]byte{withdraw, update}}})
	require.ErrorIs(t, err, ledgererr.ErrBlockNotVerified)

	f.verify(t, block)

	err = f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: block, PendingRollupTxPubData: [][]byte{update, withdraw}}})
	require.ErrorIs(t, err, ledgererr.ErrInvalidPendingRollupTxHash)

	malformed := append([]byte{}, update...)
	malformed[0] = 0x7f
	err = f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: block, PendingRollupTxPubData: [][]byte{withdraw, malformed}}})
	require.Error(t, err)
	require.Empty(t, f.state.pending)
	require.Empty(t, f.loans.updates)
	require.Zero(t, f.state.status.ExecutedBlockNum)

	require.NoError(t, f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: block, PendingRollupTxPubData: [][]byte{withdraw, update}}}))
	require.Equal(t, uint32(1), f.state.status.ExecutedBlockNum)
}

func TestRevertBlocks(t *testing.T) {
	f := newFixture(t)
	accountID, err := f.engine.RegisterAccount(userAddr)
	require.NoError(t, err)
	_, err = f.engine.Deposit(userAddr, tokenETH, uint256.NewInt(1e18))
	require.NoError(t, err)

	b1 := f.commit(t, mustEncode(t, ops.Register{AccountID: accountID, L1Addr: userAddr}))
	f.verify(t, b1)
	require.NoError(t, f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: b1}}))
	b2 := f.commit(t, mustEncode(t, ops.TokenAmount{Op: ops.OpDeposit, AccountID: accountID, TokenID: tokenETH, Amount: uint256.NewInt(100_000_000)}))
	b3 := f.commit(t, noopChunk())
	f.verify(t, b2)
	require.Equal(t, uint64(2), f.state.status.CommittedL1RequestNum)

	require.ErrorIs(t, f.engine.RevertBlocks([]types.StoredBlock{b2}), ledgererr.ErrInvalidBlockNumber)
	require.NoError(t, f.engine.RevertBlocks([]types.StoredBlock{b3, b2}))

	status := f.state.status
	require.Equal(t, uint32(1), status.CommittedBlockNum)
	require.Equal(t, uint32(1), status.VerifiedBlockNum)
	require.Equal(t, uint64(1), status.CommittedL1RequestNum)
	_, ok := f.state.hashes[2]
	require.False(t, ok)
	f.requireInvariants(t)

	require.ErrorIs(t, f.engine.RevertBlocks([]types.StoredBlock{b1}), ledgererr.ErrBlockAlreadyExecuted)

	// The reverted deposit can be committed again.
	f.tip = b1
	f.commit(t, mustEncode(t, ops.TokenAmount{Op: ops.OpDeposit, AccountID: accountID, TokenID: tokenETH, Amount: uint256.NewInt(100_000_000)}))
	require.Equal(t, uint64(2), f.state.status.CommittedL1RequestNum)
}

func TestEvacuationRollsBackUnexecutedBlocks(t *testing.T) {
	f := newFixture(t)
	accountID, err := f.engine.RegisterAccount(userAddr)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := f.engine.Deposit(userAddr, tokenETH, uint256.NewInt(1e18))
		require.NoError(t, err)
	}
	deposit := mustEncode(t, ops.TokenAmount{Op: ops.OpDeposit, AccountID: accountID, TokenID: tokenETH, Amount: uint256.NewInt(100_000_000)})

	blocks := []types.StoredBlock{f.commit(t, mustEncode(t, ops.Register{AccountID: accountID, L1Addr: userAddr}))}
	for i := 0; i < 4; i++ {
		blocks = append(blocks, f.commit(t, deposit))
	}
	f.verify(t, blocks...)
	for _, b := range blocks[:3] {
		require.NoError(t, f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: b}}))
	}
	before := f.state.status
	require.Equal(t, uint32(5), before.CommittedBlockNum)
	require.Equal(t, uint32(5), before.VerifiedBlockNum)
	require.Equal(t, uint32(3), before.ExecutedBlockNum)

	require.ErrorIs(t, f.engine.ActivateEvacuation(), ledgererr.ErrTimeStampIsNotExpired)

	f.advance(14*24*time.Hour + time.Second)
	require.NoError(t, f.engine.ActivateEvacuation())

	after := f.state.status
	require.True(t, after.EvacuMode)
	require.Equal(t, before.CommittedBlockNum-2, after.CommittedBlockNum)
	require.Equal(t, before.VerifiedBlockNum-2, after.VerifiedBlockNum)
	require.Equal(t, after.ExecutedBlockNum, after.CommittedBlockNum)
	require.Equal(t, after.ExecutedL1RequestNum, after.CommittedL1RequestNum)
	require.Equal(t, uint64(3), after.ExecutedL1RequestNum)
	_, ok := f.state.commitments[4]
	require.False(t, ok)
	f.requireInvariants(t)
	require.True(t, f.engine.EvacuationMode())

	require.ErrorIs(t, f.engine.ActivateEvacuation(), ledgererr.ErrEvacuModeActivated)
	_, err = f.engine.CommitBlocks(blocks[2], nil)
	require.ErrorIs(t, err, ledgererr.ErrEvacuModeActivated)
	_, err = f.engine.Deposit(userAddr, tokenETH, uint256.NewInt(1e18))
	require.ErrorIs(t, err, ledgererr.ErrEvacuModeActivated)
}

func TestEvacuationRequiresPendingRequest(t *testing.T) {
	f := newFixture(t)
	f.advance(30 * 24 * time.Hour)
	require.ErrorIs(t, f.engine.ActivateEvacuation(), ledgererr.ErrTimeStampIsNotExpired)
}

func TestPipelineMonotonicity(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))
	var committed []types.StoredBlock
	prev := f.state.status

	for step := 0; step < 300; step++ {
		s := f.state.status
		switch rng.Intn(3) {
		case 0:
			if s.CommittedBlockNum-s.ExecutedBlockNum < f.engine.cfg.MaxPendingBlocks {
				committed = append(committed, f.commit(t, noopChunk()))
			}
		case 1:
			if s.VerifiedBlockNum < s.CommittedBlockNum {
				f.verify(t, committed[s.VerifiedBlockNum])
			}
		case 2:
			if s.ExecutedBlockNum < s.VerifiedBlockNum {
				err := f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: committed[s.ExecutedBlockNum]}})
				require.NoError(t, err)
			} else if s.ExecutedBlockNum < s.CommittedBlockNum {
				err := f.engine.ExecuteBlocks([]types.ExecuteBlock{{StoredBlock: committed[s.ExecutedBlockNum]}})
				require.True(t, errors.Is(err, ledgererr.ErrBlockNotVerified))
			}
		}
		cur := f.state.status
		f.requireInvariants(t)
		require.GreaterOrEqual(t, cur.CommittedBlockNum, prev.CommittedBlockNum)
		require.GreaterOrEqual(t, cur.VerifiedBlockNum, prev.VerifiedBlockNum)
		require.GreaterOrEqual(t, cur.ExecutedBlockNum, prev.ExecutedBlockNum)
		prev = cur
	}
}

func TestCreateLoanProduct(t *testing.T) {
	f := newFixture(t)
	maturity := uint32(genesisTime + 90*24*3600)

	product, err := f.engine.CreateLoanProduct(tokenETH, 40, maturity)
	require.NoError(t, err)
	require.Equal(t, ProductAddress(tokenETH, maturity), product.Address)
	require.Equal(t, uint8(18), f.state.tokens[40].Decimals)
	require.Equal(t, uint64(1), f.state.status.TotalL1RequestNum)

	_, err = f.engine.CreateLoanProduct(tokenETH, 41, maturity)
	require.ErrorIs(t, err, ledgererr.ErrProductAlreadyExists)
	_, err = f.engine.CreateLoanProduct(tokenETH, 41, uint32(genesisTime))
	require.ErrorIs(t, err, ledgererr.ErrInvalidMaturityTime)
	_, err = f.engine.CreateLoanProduct(77, 41, maturity)
	require.ErrorIs(t, err, ledgererr.ErrTokenNotRegistered)
}
