package rollup

import (
	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
)

// ActivateEvacuation freezes the rollup once the oldest unexecuted request has
// outlived the expiration period. Every committed but unexecuted block is
// discarded; executed state is untouched.
func (e *Engine) ActivateEvacuation() error {
	if err := e.ready(); err != nil {
		return err
	}
	status, err := e.state.RollupStatus()
	if err != nil {
		return err
	}
	if status.EvacuMode {
		return ledgererr.ErrEvacuModeActivated
	}
	req, ok, err := e.state.L1Request(status.ExecutedL1RequestNum)
	if err != nil {
		return err
	}
	if !ok || status.ExecutedL1RequestNum >= status.TotalL1RequestNum || e.timestamp < req.ExpirationTime {
		return ledgererr.ErrTimeStampIsNotExpired
	}
	for n := status.ExecutedBlockNum + 1; n <= status.CommittedBlockNum; n++ {
		if err := e.dropBlock(n); err != nil {
			return err
		}
	}
	status.CommittedBlockNum = status.ExecutedBlockNum
	status.VerifiedBlockNum = status.ExecutedBlockNum
	status.CommittedL1RequestNum = status.ExecutedL1RequestNum
	status.EvacuMode = true
	if err := e.state.PutRollupStatus(status); err != nil {
		return err
	}
	e.emit(events.EvacuationActivated{
		ExecutedBlockNum:     status.ExecutedBlockNum,
		ExecutedL1RequestNum: status.ExecutedL1RequestNum,
	})
	e.logger.Warn("evacuation mode activated",
		"executedBlockNum", status.ExecutedBlockNum,
		"executedL1RequestNum", status.ExecutedL1RequestNum)
	return nil
}
