package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"zkledger/core/types"
)

type commitBlockParam struct {
	BlockNumber  uint32        `json:"blockNumber"`
	NewStateRoot common.Hash   `json:"newStateRoot"`
	NewTsRoot    common.Hash   `json:"newTsRoot"`
	Timestamp    uint64        `json:"timestamp"`
	PublicData   hexutil.Bytes `json:"publicData"`
}

type commitBlocksParams struct {
	LastCommitted types.StoredBlock  `json:"lastCommitted"`
	Blocks        []commitBlockParam `json:"blocks"`
}

type proofParam struct {
	Commitment common.Hash   `json:"commitment"`
	Data       hexutil.Bytes `json:"data"`
}

type verifyBlockParam struct {
	StoredBlock types.StoredBlock `json:"storedBlock"`
	Proof       proofParam        `json:"proof"`
}

type executeBlockParam struct {
	StoredBlock            types.StoredBlock `json:"storedBlock"`
	PendingRollupTxPubData []hexutil.Bytes   `json:"pendingRollupTxPubData"`
}

type blocksParams[T any] struct {
	Blocks []T `json:"blocks"`
}

type blockNumberParams struct {
	BlockNumber uint32 `json:"blockNumber"`
}

type requestIDParams struct {
	ID uint64 `json:"id"`
}

type l1RequestResult struct {
	ID             uint64      `json:"id"`
	OpType         uint8       `json:"opType"`
	HashedPubData  common.Hash `json:"hashedPubData"`
	ExpirationTime uint64      `json:"expirationTime"`
}

type stageResult struct {
	BlockNumber uint32 `json:"blockNumber"`
	Stage       string `json:"stage"`
}

func (s *Server) handleCommitBlocks(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params commitBlocksParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	if len(params.Blocks) == 0 {
		return nil, invalidParams("blocks required", nil)
	}
	blocks := make([]types.CommitBlock, 0, len(params.Blocks))
	for _, b := range params.Blocks {
		blocks = append(blocks, types.CommitBlock{
			BlockNumber:  b.BlockNumber,
			NewStateRoot: b.NewStateRoot,
			NewTsRoot:    b.NewTsRoot,
			Timestamp:    b.Timestamp,
			PublicData:   b.PublicData,
		})
	}
	return s.ledger.CommitBlocks(r.Context(), params.LastCommitted, blocks)
}

func (s *Server) handleVerifyBlocks(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params blocksParams[verifyBlockParam]
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	blocks := make([]types.VerifyBlock, 0, len(params.Blocks))
	for _, b := range params.Blocks {
		blocks = append(blocks, types.VerifyBlock{
			StoredBlock: b.StoredBlock,
			Proof:       types.Proof{Commitment: b.Proof.Commitment, Data: b.Proof.Data},
		})
	}
	return nil, s.ledger.VerifyBlocks(r.Context(), blocks)
}

func (s *Server) handleExecuteBlocks(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params blocksParams[executeBlockParam]
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	blocks := make([]types.ExecuteBlock, 0, len(params.Blocks))
	for _, b := range params.Blocks {
		pubData := make([][]byte, 0, len(b.PendingRollupTxPubData))
		for _, data := range b.PendingRollupTxPubData {
			pubData = append(pubData, data)
		}
		blocks = append(blocks, types.ExecuteBlock{StoredBlock: b.StoredBlock, PendingRollupTxPubData: pubData})
	}
	return nil, s.ledger.ExecuteBlocks(r.Context(), blocks)
}

func (s *Server) handleRevertBlocks(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params blocksParams[types.StoredBlock]
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	return nil, s.ledger.RevertBlocks(r.Context(), params.Blocks)
}

func (s *Server) handleActivateEvacuation(r *http.Request, _ *RPCRequest) (interface{}, error) {
	return nil, s.ledger.ActivateEvacuation(r.Context())
}

func (s *Server) handleStatus(_ *http.Request, _ *RPCRequest) (interface{}, error) {
	return s.ledger.Status()
}

func (s *Server) handleBlockStage(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params blockNumberParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	stage, err := s.ledger.Stage(params.BlockNumber)
	if err != nil {
		return nil, err
	}
	return stageResult{BlockNumber: params.BlockNumber, Stage: stage.String()}, nil
}

func (s *Server) handleGetL1Request(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params requestIDParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	request, err := s.ledger.L1Request(params.ID)
	if err != nil {
		return nil, err
	}
	return l1RequestResult{
		ID:             params.ID,
		OpType:         request.OpType,
		HashedPubData:  request.HashedPubData,
		ExpirationTime: request.ExpirationTime,
	}, nil
}
