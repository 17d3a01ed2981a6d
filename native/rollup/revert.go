package rollup

import (
	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/types"
)

// RevertBlocks removes unexecuted blocks starting from the committed tip.
// Requests consumed by the reverted blocks become committable again.
func (e *Engine) RevertBlocks(blocks []types.StoredBlock) error {
	status, err := e.guardedStatus()
	if err != nil {
		return err
	}
	for i := range blocks {
		b := &blocks[i]
		if b.BlockNumber != status.CommittedBlockNum {
			return ledgererr.ErrInvalidBlockNumber
		}
		if b.BlockNumber <= status.ExecutedBlockNum {
			return ledgererr.ErrBlockAlreadyExecuted
		}
		if err := e.requireStoredHash(b, ledgererr.ErrInvalidBlockHash); err != nil {
			return err
		}
		c, err := e.commitment(b.BlockNumber)
		if err != nil {
			return err
		}
		if err := e.dropBlock(b.BlockNumber); err != nil {
			return err
		}
		status.CommittedL1RequestNum -= c.L1RequestDelta
		status.CommittedBlockNum--
		if status.VerifiedBlockNum > status.CommittedBlockNum {
			status.VerifiedBlockNum = status.CommittedBlockNum
		}
	}
	if err := e.state.PutRollupStatus(status); err != nil {
		return err
	}
	if len(blocks) > 0 {
		e.emit(events.BlocksReverted{
			CommittedBlockNum: status.CommittedBlockNum,
			VerifiedBlockNum:  status.VerifiedBlockNum,
			Reverted:          len(blocks),
		})
		e.logger.Warn("blocks reverted", "count", len(blocks), "committed", status.CommittedBlockNum)
	}
	return nil
}

func (e *Engine) dropBlock(n uint32) error {
	if err := e.state.DeleteStoredBlockHash(n); err != nil {
		return err
	}
	return e.state.DeleteBlockCommitment(n)
}
