package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"zkledger/core/types"
)

type depositParams struct {
	TokenID uint16 `json:"tokenId"`
	Amount  string `json:"amount"`
}

type tokenParams struct {
	TokenID uint16 `json:"tokenId"`
}

type addressParams struct {
	Address string `json:"address"`
}

type pendingBalanceParams struct {
	Address string `json:"address"`
	TokenID uint16 `json:"tokenId"`
}

type registerTokenParams struct {
	ID           uint16 `json:"id"`
	Address      string `json:"address"`
	Decimals     uint8  `json:"decimals"`
	IsStableCoin bool   `json:"isStableCoin"`
}

type createProductParams struct {
	BaseTokenID  uint16 `json:"baseTokenId"`
	TsbTokenID   uint16 `json:"tsbTokenId"`
	MaturityTime uint32 `json:"maturityTime"`
}

type accountIDResult struct {
	AccountID uint32 `json:"accountId"`
}

type accountResult struct {
	Registered bool           `json:"registered"`
	Account    *types.Account `json:"account,omitempty"`
}

type requestIDResult struct {
	RequestID uint64 `json:"requestId"`
}

type pendingBalanceResult struct {
	Address common.Address `json:"address"`
	TokenID uint16         `json:"tokenId"`
	Amount  string         `json:"amount"`
}

func (s *Server) handleRegisterAccount(r *http.Request, _ *RPCRequest) (interface{}, error) {
	addr, err := callerAddress(r)
	if err != nil {
		return nil, err
	}
	id, err := s.ledger.RegisterAccount(r.Context(), addr)
	if err != nil {
		return nil, err
	}
	return accountIDResult{AccountID: id}, nil
}

func (s *Server) handleDeposit(r *http.Request, req *RPCRequest) (interface{}, error) {
	addr, err := callerAddress(r)
	if err != nil {
		return nil, err
	}
	var params depositParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	id, err := s.ledger.Deposit(r.Context(), addr, params.TokenID, amount)
	if err != nil {
		return nil, err
	}
	return requestIDResult{RequestID: id}, nil
}

func (s *Server) handleForceWithdraw(r *http.Request, req *RPCRequest) (interface{}, error) {
	addr, err := callerAddress(r)
	if err != nil {
		return nil, err
	}
	var params tokenParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	id, err := s.ledger.ForceWithdraw(r.Context(), addr, params.TokenID)
	if err != nil {
		return nil, err
	}
	return requestIDResult{RequestID: id}, nil
}

func (s *Server) handleGetAccount(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params addressParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	account, ok, err := s.ledger.AccountByAddress(addr)
	if err != nil {
		return nil, err
	}
	return accountResult{Registered: ok, Account: account}, nil
}

func (s *Server) handlePendingBalance(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params pendingBalanceParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", params.Address)
	if err != nil {
		return nil, err
	}
	amount, err := s.ledger.PendingBalance(addr, params.TokenID)
	if err != nil {
		return nil, err
	}
	return pendingBalanceResult{Address: addr, TokenID: params.TokenID, Amount: amount.Dec()}, nil
}

func (s *Server) handleRegisterToken(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params registerTokenParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == 0 {
		return nil, invalidParams("token id must be non-zero", nil)
	}
	var addr common.Address
	if params.Address != "" {
		parsed, err := parseAddress("address", params.Address)
		if err != nil {
			return nil, err
		}
		addr = parsed
	}
	token := types.Token{ID: params.ID, Address: addr, Decimals: params.Decimals, IsStableCoin: params.IsStableCoin}
	return nil, s.ledger.RegisterToken(r.Context(), token)
}

func (s *Server) handleCreateLoanProduct(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params createProductParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	return s.ledger.CreateLoanProduct(r.Context(), params.BaseTokenID, params.TsbTokenID, params.MaturityTime)
}
