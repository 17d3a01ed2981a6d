package rpc

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"zkledger/core/types"
	"zkledger/native/loan"
)

type loanIDParams struct {
	LoanID types.LoanID `json:"loanId"`
}

type loanAmountParams struct {
	LoanID types.LoanID `json:"loanId"`
	Amount string       `json:"amount"`
}

type liquidateParams struct {
	LoanID   types.LoanID `json:"loanId"`
	RepayAmt string       `json:"repayAmt"`
}

type repayParams struct {
	LoanID           types.LoanID `json:"loanId"`
	CollateralAmt    string       `json:"collateralAmt"`
	DebtAmt          string       `json:"debtAmt"`
	DepositRemainder bool         `json:"depositRemainder"`
}

type permitParams struct {
	Owner     string        `json:"owner"`
	LoanID    types.LoanID  `json:"loanId"`
	Amount    string        `json:"amount"`
	Nonce     uint64        `json:"nonce"`
	Deadline  uint64        `json:"deadline"`
	Signature hexutil.Bytes `json:"signature"`
}

type rollBorrowParams struct {
	LoanID               types.LoanID `json:"loanId"`
	ExpiredTime          uint32       `json:"expiredTime"`
	AnnualPercentageRate uint32       `json:"annualPercentageRate"`
	MaxCollateralAmt     string       `json:"maxCollateralAmt"`
	MaxBorrowAmt         string       `json:"maxBorrowAmt"`
	TargetProductAddr    string       `json:"targetProductAddr"`
	Fee                  string       `json:"fee"`
}

type liquidationFactorParams struct {
	Factor     loan.LiquidationFactor `json:"factor"`
	StablePair bool                   `json:"stablePair"`
}

type thresholdParams struct {
	Value uint64 `json:"value"`
}

type feeParams struct {
	Fee string `json:"fee"`
}

type healthFactorResult struct {
	LoanID       types.LoanID `json:"loanId"`
	HealthFactor string       `json:"healthFactor"`
}

type loanResult struct {
	LoanID              types.LoanID `json:"loanId"`
	AccountID           uint32       `json:"accountId"`
	DebtTokenID         uint16       `json:"debtTokenId"`
	CollateralTokenID   uint16       `json:"collateralTokenId"`
	CollateralAmt       string       `json:"collateralAmt"`
	DebtAmt             string       `json:"debtAmt"`
	LockedCollateralAmt string       `json:"lockedCollateralAmt"`
	MatchedTime         uint32       `json:"matchedTime"`
	MaturityTime        uint32       `json:"maturityTime"`
}

type paramsResult struct {
	General                  loan.LiquidationFactor `json:"general"`
	Stable                   loan.LiquidationFactor `json:"stable"`
	HalfLiquidationThreshold uint64                 `json:"halfLiquidationThreshold"`
	RollOverFee              string                 `json:"rollOverFee"`
	Treasury                 common.Address         `json:"treasury"`
}

func newLoanResult(l *loan.Loan) loanResult {
	return loanResult{
		LoanID:              l.ID,
		AccountID:           l.ID.AccountID(),
		DebtTokenID:         l.ID.DebtTokenID(),
		CollateralTokenID:   l.ID.CollateralTokenID(),
		CollateralAmt:       l.CollateralAmt.Dec(),
		DebtAmt:             l.DebtAmt.Dec(),
		LockedCollateralAmt: l.LockedCollateralAmt.Dec(),
		MatchedTime:         l.MatchedTime,
		MaturityTime:        l.MaturityTime,
	}
}

func (s *Server) handleGetLoan(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params loanIDParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	record, err := s.ledger.Loan(params.LoanID)
	if err != nil {
		return nil, err
	}
	return newLoanResult(record), nil
}

func (s *Server) handleHealthFactor(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params loanIDParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	hf, err := s.ledger.HealthFactor(params.LoanID)
	if err != nil {
		return nil, err
	}
	return healthFactorResult{LoanID: params.LoanID, HealthFactor: hf.Dec()}, nil
}

func (s *Server) handleLiquidationInfo(_ *http.Request, req *RPCRequest) (interface{}, error) {
	var params loanIDParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	return s.ledger.LiquidationInfo(params.LoanID)
}

func (s *Server) handleLoanParams(_ *http.Request, _ *RPCRequest) (interface{}, error) {
	params, err := s.ledger.LoanParams()
	if err != nil {
		return nil, err
	}
	return paramsResult{
		General:                  params.General,
		Stable:                   params.Stable,
		HalfLiquidationThreshold: params.HalfLiquidationThreshold,
		RollOverFee:              params.RollOverFee.Dec(),
		Treasury:                 params.Treasury,
	}, nil
}

func (s *Server) handleLiquidate(r *http.Request, req *RPCRequest) (interface{}, error) {
	liquidator, err := callerAddress(r)
	if err != nil {
		return nil, err
	}
	var params liquidateParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount("repayAmt", params.RepayAmt)
	if err != nil {
		return nil, err
	}
	return s.ledger.Liquidate(r.Context(), liquidator, params.LoanID, amount)
}

func (s *Server) handleRepay(r *http.Request, req *RPCRequest) (interface{}, error) {
	owner, err := callerAddress(r)
	if err != nil {
		return nil, err
	}
	var params repayParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	collateral, err := parseAmount("collateralAmt", params.CollateralAmt)
	if err != nil {
		return nil, err
	}
	debt, err := parseAmount("debtAmt", params.DebtAmt)
	if err != nil {
		return nil, err
	}
	return nil, s.ledger.Repay(r.Context(), owner, params.LoanID, collateral, debt, params.DepositRemainder)
}

func (s *Server) handleAddCollateral(r *http.Request, req *RPCRequest) (interface{}, error) {
	owner, params, amount, err := s.ownerAmount(r, req)
	if err != nil {
		return nil, err
	}
	return nil, s.ledger.AddCollateral(r.Context(), owner, params.LoanID, amount)
}

func (s *Server) handleRemoveCollateral(r *http.Request, req *RPCRequest) (interface{}, error) {
	owner, params, amount, err := s.ownerAmount(r, req)
	if err != nil {
		return nil, err
	}
	return nil, s.ledger.RemoveCollateral(r.Context(), owner, params.LoanID, amount)
}

func (s *Server) ownerAmount(r *http.Request, req *RPCRequest) (common.Address, loanAmountParams, *uint256.Int, error) {
	var params loanAmountParams
	owner, err := callerAddress(r)
	if err != nil {
		return owner, params, nil, err
	}
	if err := requireParams(req, &params); err != nil {
		return owner, params, nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return owner, params, nil, err
	}
	return owner, params, amount, nil
}

func (s *Server) handleRemoveCollateralWithPermit(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params permitParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", params.Owner)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount("amount", params.Amount)
	if err != nil {
		return nil, err
	}
	return nil, s.ledger.RemoveCollateralWithPermit(r.Context(), loan.Permit{
		Owner:     owner,
		LoanID:    params.LoanID,
		Amount:    amount,
		Nonce:     params.Nonce,
		Deadline:  params.Deadline,
		Signature: params.Signature,
	})
}

func (s *Server) handleRollBorrow(r *http.Request, req *RPCRequest) (interface{}, error) {
	owner, err := callerAddress(r)
	if err != nil {
		return nil, err
	}
	var params rollBorrowParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	maxCollateral, err := parseAmount("maxCollateralAmt", params.MaxCollateralAmt)
	if err != nil {
		return nil, err
	}
	maxBorrow, err := parseAmount("maxBorrowAmt", params.MaxBorrowAmt)
	if err != nil {
		return nil, err
	}
	fee, err := parseAmount("fee", params.Fee)
	if err != nil {
		return nil, err
	}
	target, err := parseAddress("targetProductAddr", params.TargetProductAddr)
	if err != nil {
		return nil, err
	}
	return nil, s.ledger.RollBorrow(r.Context(), owner, loan.RollBorrowOrder{
		LoanID:               params.LoanID,
		ExpiredTime:          params.ExpiredTime,
		AnnualPercentageRate: params.AnnualPercentageRate,
		MaxCollateralAmt:     maxCollateral,
		MaxBorrowAmt:         maxBorrow,
		TargetProductAddr:    target,
	}, fee)
}

func (s *Server) handleForceCancelRollBorrow(r *http.Request, req *RPCRequest) (interface{}, error) {
	owner, err := callerAddress(r)
	if err != nil {
		return nil, err
	}
	var params loanIDParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	return nil, s.ledger.ForceCancelRollBorrow(r.Context(), owner, params.LoanID)
}

func (s *Server) handleSetLiquidationFactor(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params liquidationFactorParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	return nil, s.ledger.SetLiquidationFactor(r.Context(), params.Factor, params.StablePair)
}

func (s *Server) handleSetHalfLiquidationThreshold(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params thresholdParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	return nil, s.ledger.SetHalfLiquidationThreshold(r.Context(), params.Value)
}

func (s *Server) handleSetRollOverFee(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params feeParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Fee) == "" {
		return nil, invalidParams("fee required", nil)
	}
	fee, err := parseAmount("fee", params.Fee)
	if err != nil {
		return nil, err
	}
	return nil, s.ledger.SetRollOverFee(r.Context(), fee)
}

func (s *Server) handleAdminCancelRollBorrow(r *http.Request, req *RPCRequest) (interface{}, error) {
	var params loanIDParams
	if err := requireParams(req, &params); err != nil {
		return nil, err
	}
	return nil, s.ledger.AdminCancelRollBorrow(r.Context(), params.LoanID)
}
