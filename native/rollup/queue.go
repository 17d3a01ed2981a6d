package rollup

import (
	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
)

// AppendL1Request encodes op and appends it to the request queue. Request ids
// start at zero and are never reused.
func (e *Engine) AppendL1Request(op ops.Op) (uint64, error) {
	status, err := e.guardedStatus()
	if err != nil {
		return 0, err
	}
	if !ops.IsL1Request(op.OpType()) {
		return 0, ledgererr.ErrInvalidOpType
	}
	data, err := op.Encode()
	if err != nil {
		return 0, err
	}
	id := status.TotalL1RequestNum
	req := &types.L1Request{
		OpType:         uint8(op.OpType()),
		HashedPubData:  ops.RequestDigest(data),
		ExpirationTime: e.timestamp + e.cfg.expirationSeconds(),
	}
	if err := e.state.PutL1Request(id, req); err != nil {
		return 0, err
	}
	status.TotalL1RequestNum++
	if err := e.state.PutRollupStatus(status); err != nil {
		return 0, err
	}
	e.emit(events.L1RequestQueued{
		RequestID:      id,
		OpType:         op.OpType().String(),
		ExpirationTime: req.ExpirationTime,
		PubData:        data,
	})
	return id, nil
}

// NextUnprocessed returns the id of the oldest request not yet executed.
func (e *Engine) NextUnprocessed() (uint64, error) {
	status, err := e.Status()
	if err != nil {
		return 0, err
	}
	return status.ExecutedL1RequestNum, nil
}

// L1Request returns a queued request.
func (e *Engine) L1Request(id uint64) (*types.L1Request, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	req, ok, err := e.state.L1Request(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ledgererr.ErrL1RequestNotFound
	}
	return req, nil
}
