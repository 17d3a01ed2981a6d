package rollup

import (
	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/types"
)

// VerifyBlocks marks committed blocks verified, strictly in order. A rejected
// proof leaves every block of the call unverified.
func (e *Engine) VerifyBlocks(blocks []types.VerifyBlock) error {
	status, err := e.guardedStatus()
	if err != nil {
		return err
	}
	for i := range blocks {
		vb := &blocks[i]
		n := vb.StoredBlock.BlockNumber
		if n != status.VerifiedBlockNum+1 {
			return ledgererr.ErrInvalidBlockNumber
		}
		if n > status.CommittedBlockNum {
			return ledgererr.ErrBlockNotCommitted
		}
		if err := e.requireStoredHash(&vb.StoredBlock, ledgererr.ErrInvalidBlockHash); err != nil {
			return err
		}
		c, err := e.commitment(n)
		if err != nil {
			return err
		}
		if vb.Proof.Commitment != c.Commitment {
			return ledgererr.ErrInvalidCommitment
		}
		if e.verifier == nil || !e.verifier.Verify(vb.Proof.Data, publicInputs(c)) {
			return ledgererr.ErrInvalidProof
		}
		status.VerifiedBlockNum = n
	}
	if err := e.state.PutRollupStatus(status); err != nil {
		return err
	}
	for i := range blocks {
		e.emit(events.BlockVerified{BlockNumber: blocks[i].StoredBlock.BlockNumber})
	}
	if len(blocks) > 0 {
		e.logger.Info("blocks verified", "through", status.VerifiedBlockNum)
	}
	return nil
}
