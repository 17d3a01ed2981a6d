package rollup

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
)

// CommitBlocks appends blocks on top of lastCommitted, which must be the
// current tip. It returns the stored records operators resubmit for
// verification and execution.
func (e *Engine) CommitBlocks(lastCommitted types.StoredBlock, blocks []types.CommitBlock) ([]types.StoredBlock, error) {
	status, err := e.guardedStatus()
	if err != nil {
		return nil, err
	}
	if lastCommitted.BlockNumber != status.CommittedBlockNum {
		return nil, ledgererr.ErrInvalidLastCommittedBlock
	}
	if err := e.requireStoredHash(&lastCommitted, ledgererr.ErrInvalidLastCommittedBlock); err != nil {
		return nil, err
	}
	prev := lastCommitted
	out := make([]types.StoredBlock, 0, len(blocks))
	for i := range blocks {
		stored, err := e.commitBlock(status, &prev, &blocks[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *stored)
		prev = *stored
	}
	if err := e.state.PutRollupStatus(status); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) commitBlock(status *Status, prev *types.StoredBlock, block *types.CommitBlock) (*types.StoredBlock, error) {
	if block.BlockNumber != prev.BlockNumber+1 {
		return nil, ledgererr.ErrInvalidBlockNumber
	}
	if block.Timestamp < prev.Timestamp || block.Timestamp > e.timestamp+e.cfg.toleranceSeconds() {
		return nil, ledgererr.ErrInvalidTimestamp
	}
	if status.CommittedBlockNum-status.ExecutedBlockNum >= e.cfg.MaxPendingBlocks {
		return nil, ledgererr.ErrPipelineFull
	}
	if !ops.IsValidPubDataLen(block.PublicData) {
		return nil, ledgererr.ErrInvalidPubDataLength
	}
	if len(block.PublicData)/ops.ChunkBytes > e.cfg.MaxChunksPerBlock {
		return nil, ledgererr.ErrExceedMaxChunkNum
	}
	chunks, err := ops.Split(block.PublicData)
	if err != nil {
		return nil, err
	}

	pending := prev.PendingRollupTxHash
	var consumed uint64
	for _, chunk := range chunks {
		t := ops.OpType(chunk[0])
		if ops.IsL1Request(t) {
			if err := e.matchL1Request(status.CommittedL1RequestNum+consumed, status.TotalL1RequestNum, t, chunk); err != nil {
				return nil, err
			}
			consumed++
		}
		if ops.IsPendingRollupTx(t) {
			pending = foldPendingRollupTx(pending, chunk)
		}
	}

	c := &types.BlockCommitment{
		BlockNumber:         block.BlockNumber,
		OldStateRoot:        prev.StateRoot,
		NewStateRoot:        block.NewStateRoot,
		NewTsRoot:           block.NewTsRoot,
		PublicDataHash:      crypto.Keccak256Hash(block.PublicData),
		PendingRollupTxHash: pending,
		L1RequestDelta:      consumed,
		Timestamp:           block.Timestamp,
	}
	c.Commitment = blockCommitment(c)

	status.CommittedL1RequestNum += consumed
	stored := &types.StoredBlock{
		BlockNumber:         block.BlockNumber,
		L1RequestNum:        status.CommittedL1RequestNum,
		PendingRollupTxHash: pending,
		Commitment:          c.Commitment,
		StateRoot:           block.NewStateRoot,
		Timestamp:           block.Timestamp,
	}
	if err := e.state.PutStoredBlockHash(stored.BlockNumber, stored.Hash()); err != nil {
		return nil, err
	}
	if err := e.state.PutBlockCommitment(c); err != nil {
		return nil, err
	}
	status.CommittedBlockNum = block.BlockNumber

	e.emit(events.BlockCommitted{
		BlockNumber:  stored.BlockNumber,
		Commitment:   stored.Commitment,
		L1RequestNum: stored.L1RequestNum,
	})
	e.logger.Info("block committed",
		"blockNumber", stored.BlockNumber,
		"l1Requests", consumed,
		"chunks", len(block.PublicData)/ops.ChunkBytes)
	return stored, nil
}

func (e *Engine) matchL1Request(id, total uint64, t ops.OpType, chunk []byte) error {
	if id >= total {
		return ledgererr.ErrL1RequestNotFound
	}
	req, ok, err := e.state.L1Request(id)
	if err != nil {
		return err
	}
	if !ok {
		return ledgererr.ErrL1RequestNotFound
	}
	if req.OpType != uint8(t) || req.HashedPubData != ops.RequestDigest(chunk) {
		return ledgererr.ErrInvalidL1Request
	}
	return nil
}

func foldPendingRollupTx(prev common.Hash, pubData []byte) common.Hash {
	return crypto.Keccak256Hash(prev.Bytes(), pubData)
}

// blockCommitment binds the roots, timestamp, public data, pending rollup
// txs and consumed request count of a block.
func blockCommitment(c *types.BlockCommitment) common.Hash {
	var ts, delta [8]byte
	binary.BigEndian.PutUint64(ts[:], c.Timestamp)
	binary.BigEndian.PutUint64(delta[:], c.L1RequestDelta)
	return crypto.Keccak256Hash(
		c.OldStateRoot.Bytes(),
		c.NewStateRoot.Bytes(),
		c.NewTsRoot.Bytes(),
		ts[:],
		c.PublicDataHash.Bytes(),
		c.PendingRollupTxHash.Bytes(),
		delta[:],
	)
}

func publicInputs(c *types.BlockCommitment) PublicInputs {
	return PublicInputs{
		BlockNumber:         c.BlockNumber,
		OldStateRoot:        c.OldStateRoot,
		NewStateRoot:        c.NewStateRoot,
		NewTsRoot:           c.NewTsRoot,
		PublicDataHash:      c.PublicDataHash,
		PendingRollupTxHash: c.PendingRollupTxHash,
		L1RequestDelta:      c.L1RequestDelta,
		Timestamp:           c.Timestamp,
		Commitment:          c.Commitment,
	}
}
