package errors

import stderrors "errors"

// Kind classifies ledger failures so callers can decide how to surface them
// without matching individual sentinels.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindSequencing covers block ordering, timestamp and request ordering failures.
	KindSequencing
	// KindProof covers commitment and proof oracle rejections.
	KindProof
	// KindSolvency covers health factor and repay bound violations.
	KindSolvency
	// KindAuthorization covers ownership and signer checks.
	KindAuthorization
	// KindState covers lock, existence and evacuation state conflicts.
	KindState
	// KindOracle covers price feed failures.
	KindOracle
	// KindInput covers malformed arguments and encodings.
	KindInput
)

func (k Kind) String() string {
	switch k {
	case KindSequencing:
		return "sequencing"
	case KindProof:
		return "proof"
	case KindSolvency:
		return "solvency"
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindOracle:
		return "oracle"
	case KindInput:
		return "input"
	default:
		return "unknown"
	}
}

// Error is a typed ledger failure. Values are package-level sentinels and must
// be compared with errors.Is.
type Error struct {
	Kind Kind
	Code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, msg: msg}
}

var (
	ErrInvalidBlockNumber         = newError(KindSequencing, "InvalidBlockNumber", "rollup: invalid block number")
	ErrInvalidTimestamp           = newError(KindSequencing, "InvalidTimestamp", "rollup: invalid block timestamp")
	ErrExceedMaxChunkNum          = newError(KindSequencing, "ExceedMaxChunkNum", "rollup: public data exceeds max chunk number")
	ErrInvalidLastCommittedBlock  = newError(KindSequencing, "InvalidLastCommittedBlock", "rollup: last committed block does not match")
	ErrInvalidBlockHash           = newError(KindSequencing, "InvalidBlockHash", "rollup: stored block hash mismatch")
	ErrBlockNotCommitted          = newError(KindSequencing, "BlockNotCommitted", "rollup: block is not committed")
	ErrBlockNotVerified           = newError(KindSequencing, "BlockNotVerified", "rollup: block is not verified")
	ErrPipelineFull               = newError(KindSequencing, "PipelineFull", "rollup: too many unexecuted blocks")
	ErrInvalidL1Request           = newError(KindSequencing, "InvalidL1Request", "rollup: l1 request does not match queued request")
	ErrL1RequestNotFound          = newError(KindSequencing, "L1RequestNotFound", "rollup: block consumes more l1 requests than queued")
	ErrInvalidPendingRollupTxHash = newError(KindSequencing, "InvalidPendingRollupTxHash", "rollup: pending rollup tx hash mismatch")
	ErrBlockAlreadyExecuted       = newError(KindSequencing, "BlockAlreadyExecuted", "rollup: executed blocks cannot be reverted")

	ErrInvalidCommitment = newError(KindProof, "InvalidCommitment", "rollup: proof commitment mismatch")
	ErrInvalidProof      = newError(KindProof, "InvalidProof", "rollup: proof rejected by verifier")

	ErrLoanIsUnhealthy            = newError(KindSolvency, "LoanIsUnhealthy", "loan: health factor below threshold")
	ErrLoanIsHealthy              = newError(KindSolvency, "LoanIsHealthy", "loan: loan is healthy and not matured")
	ErrLoanIsNotStrictHealthy     = newError(KindSolvency, "LoanIsNotStrictHealthy", "loan: roll borrow would leave a loan below the borrow order threshold")
	ErrRepayAmtExceedsMaxRepayAmt = newError(KindSolvency, "RepayAmtExceedsMaxRepayAmt", "loan: repay amount exceeds max repay amount")
	ErrInsufficientCollateral     = newError(KindSolvency, "InsufficientCollateral", "loan: insufficient free collateral")
	ErrRepayAmtExceedsDebt        = newError(KindSolvency, "RepayAmtExceedsDebt", "loan: repay amount exceeds outstanding debt")
	ErrInsufficientDebt           = newError(KindSolvency, "InsufficientDebt", "loan: roll over borrow exceeds outstanding debt")

	ErrSenderIsNotLoanOwner = newError(KindAuthorization, "SenderIsNotLoanOwner", "loan: sender is not the loan owner")
	ErrInvalidSigner        = newError(KindAuthorization, "InvalidSigner", "loan: invalid permit signer")
	ErrPermitExpired        = newError(KindAuthorization, "PermitExpired", "loan: permit deadline passed")

	ErrLoanIsLocked             = newError(KindState, "LoanIsLocked", "loan: loan is locked by a roll borrow order")
	ErrLoanIsNotLocked          = newError(KindState, "LoanIsNotLocked", "loan: loan has no pending roll borrow order")
	ErrLoanIsNotExist           = newError(KindState, "LoanIsNotExist", "loan: loan does not exist")
	ErrEvacuModeActivated       = newError(KindState, "EvacuModeActivated", "rollup: evacuation mode activated")
	ErrTimeStampIsNotExpired    = newError(KindState, "TimeStampIsNotExpired", "rollup: oldest l1 request has not expired")
	ErrInvalidTsbTokenAddr      = newError(KindState, "InvalidTsbTokenAddr", "loan: invalid target loan product")
	ErrInvalidExpiredTime       = newError(KindState, "InvalidExpiredTime", "loan: invalid roll borrow expiration time")
	ErrAccountNotRegistered     = newError(KindState, "AccountNotRegistered", "account: not registered")
	ErrAccountAlreadyRegistered = newError(KindState, "AccountAlreadyRegistered", "account: already registered")
	ErrTokenNotRegistered       = newError(KindState, "TokenNotRegistered", "token: not registered")
	ErrTokenAlreadyRegistered   = newError(KindState, "TokenAlreadyRegistered", "token: already registered")
	ErrProductAlreadyExists     = newError(KindState, "ProductAlreadyExists", "loan: loan product already exists")

	ErrInvalidPrice = newError(KindOracle, "InvalidPrice", "oracle: invalid price")

	ErrInvalidAmount            = newError(KindInput, "InvalidAmount", "ledger: invalid amount")
	ErrInvalidRollBorrowFee     = newError(KindInput, "InvalidRollBorrowFee", "loan: invalid roll borrow fee")
	ErrInvalidPubDataLength     = newError(KindInput, "InvalidPubDataLength", "ops: public data length is not a multiple of the chunk size")
	ErrInvalidOpType            = newError(KindInput, "InvalidOpType", "ops: unknown operation type")
	ErrMalformedPubData         = newError(KindInput, "MalformedPubData", "ops: malformed public data")
	ErrInvalidLiquidationFactor = newError(KindInput, "InvalidLiquidationFactor", "loan: invalid liquidation factor")
	ErrInvalidMaturityTime      = newError(KindInput, "InvalidMaturityTime", "loan: invalid maturity time")
	ErrArithmeticOverflow       = newError(KindInput, "ArithmeticOverflow", "ledger: arithmetic overflow")
)

// KindOf classifies err. Errors that do not wrap a ledger sentinel report
// KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the stable failure code carried by err, or an empty string.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
