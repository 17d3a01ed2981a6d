package rpc

import (
	"errors"
	"net/http"

	"zkledger/core"
	ledgererr "zkledger/core/errors"
)

const (
	codeSequencing    = -32010
	codeProof         = -32011
	codeSolvency      = -32012
	codeAuthorization = -32013
	codeState         = -32014
	codeOracle        = -32015
)

type errorData struct {
	Code string `json:"code,omitempty"`
	Kind string `json:"kind,omitempty"`
}

// paramError marks a request the server could not decode.
type paramError struct {
	msg    string
	detail string
}

func (e *paramError) Error() string { return e.msg }

func invalidParams(msg string, cause error) error {
	pe := &paramError{msg: msg}
	if cause != nil {
		pe.detail = cause.Error()
	}
	return pe
}

// toRPCError maps err onto a JSON-RPC error and HTTP status by ledger kind.
func toRPCError(err error) (*RPCError, int) {
	var pe *paramError
	if errors.As(err, &pe) {
		out := &RPCError{Code: codeInvalidParams, Message: pe.msg}
		if pe.detail != "" {
			out.Data = pe.detail
		}
		return out, http.StatusBadRequest
	}
	if errors.Is(err, core.ErrAlreadyInitialised) {
		return &RPCError{Code: codeState, Message: err.Error()}, http.StatusConflict
	}
	kind := ledgererr.KindOf(err)
	data := errorData{Code: ledgererr.CodeOf(err), Kind: kind.String()}
	out := &RPCError{Message: err.Error(), Data: data}
	switch kind {
	case ledgererr.KindSequencing:
		out.Code = codeSequencing
		return out, http.StatusConflict
	case ledgererr.KindProof:
		out.Code = codeProof
		return out, http.StatusUnprocessableEntity
	case ledgererr.KindSolvency:
		out.Code = codeSolvency
		return out, http.StatusUnprocessableEntity
	case ledgererr.KindAuthorization:
		out.Code = codeAuthorization
		return out, http.StatusForbidden
	case ledgererr.KindState:
		out.Code = codeState
		return out, http.StatusConflict
	case ledgererr.KindOracle:
		out.Code = codeOracle
		return out, http.StatusServiceUnavailable
	case ledgererr.KindInput:
		out.Code = codeInvalidParams
		return out, http.StatusBadRequest
	}
	return &RPCError{Code: codeServerError, Message: "internal error"}, http.StatusInternalServerError
}
