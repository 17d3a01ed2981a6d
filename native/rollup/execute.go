package rollup

import (
	"fmt"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
	"zkledger/native/loan"
)

// ExecuteBlocks applies the pending rollup transactions of verified blocks,
// strictly in order, and advances the executed counters.
func (e *Engine) ExecuteBlocks(blocks []types.ExecuteBlock) error {
	status, err := e.guardedStatus()
	if err != nil {
		return err
	}
	for i := range blocks {
		if err := e.executeBlock(status, &blocks[i]); err != nil {
			return fmt.Errorf("execute block %d: %w", blocks[i].StoredBlock.BlockNumber, err)
		}
	}
	return e.state.PutRollupStatus(status)
}

func (e *Engine) executeBlock(status *Status, block *types.ExecuteBlock) error {
	stored := &block.StoredBlock
	n := stored.BlockNumber
	if n != status.ExecutedBlockNum+1 {
		return ledgererr.ErrInvalidBlockNumber
	}
	if n > status.VerifiedBlockNum {
		return ledgererr.ErrBlockNotVerified
	}
	if err := e.requireStoredHash(stored, ledgererr.ErrInvalidBlockHash); err != nil {
		return err
	}
	prev, err := e.commitment(n - 1)
	if err != nil {
		return err
	}
	pending := prev.PendingRollupTxHash
	decoded := make([]ops.Op, 0, len(block.PendingRollupTxPubData))
	for _, data := range block.PendingRollupTxPubData {
		if !ops.IsValidPubDataLen(data) {
			return ledgererr.ErrInvalidPubDataLength
		}
		op, err := ops.Decode(data)
		if err != nil {
			return err
		}
		if !ops.IsPendingRollupTx(op.OpType()) {
			return ledgererr.ErrInvalidOpType
		}
		pending = foldPendingRollupTx(pending, data)
		decoded = append(decoded, op)
	}
	if pending != stored.PendingRollupTxHash {
		return ledgererr.ErrInvalidPendingRollupTxHash
	}
	for _, op := range decoded {
		if err := e.apply(op); err != nil {
			return err
		}
	}
	status.ExecutedBlockNum = n
	status.ExecutedL1RequestNum = stored.L1RequestNum

	e.emit(events.BlockExecuted{
		BlockNumber:  n,
		L1RequestNum: stored.L1RequestNum,
		PendingTxs:   len(decoded),
	})
	e.logger.Info("block executed", "blockNumber", n, "pendingTxs", len(decoded))
	return nil
}

func (e *Engine) apply(op ops.Op) error {
	switch v := op.(type) {
	case ops.TokenAmount:
		return e.creditWithdrawal(v)
	case ops.UpdateLoan:
		if e.loans == nil {
			return fmt.Errorf("%s engine: loan executor not configured", moduleName)
		}
		return e.loans.ApplyUpdateLoan(v)
	case ops.RollOverEnd:
		if e.loans == nil {
			return fmt.Errorf("%s engine: loan executor not configured", moduleName)
		}
		return e.loans.ApplyRollOverEnd(v)
	case ops.CancelRollBorrow:
		if e.loans == nil {
			return fmt.Errorf("%s engine: loan executor not configured", moduleName)
		}
		return e.loans.ApplyRollBorrowCancel(v)
	}
	return ledgererr.ErrInvalidOpType
}

// creditWithdrawal moves a withdrawn L2 amount into the account owner's
// pending balance in native units.
func (e *Engine) creditWithdrawal(op ops.TokenAmount) error {
	account, ok, err := e.state.Account(op.AccountID)
	if err != nil {
		return err
	}
	if !ok {
		return ledgererr.ErrAccountNotRegistered
	}
	token, ok, err := e.state.Token(op.TokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ledgererr.ErrTokenNotRegistered
	}
	amount, err := loan.ToL1(op.Amount, token.Decimals)
	if err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if err := e.state.CreditPendingBalance(account.Address, token.ID, amount); err != nil {
		return err
	}
	e.emit(events.WithdrawalCredited{Address: account.Address, TokenID: token.ID, Amount: amount.Dec()})
	return nil
}
