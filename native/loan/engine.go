package loan

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
	nativecommon "zkledger/native/common"
)

const moduleName = "loan"

type engineState interface {
	Loan(id types.LoanID) (*Loan, bool, error)
	PutLoan(loan *Loan) error
	LoanParams() (*Params, error)
	PutLoanParams(params *Params) error
	Account(id uint32) (*types.Account, bool, error)
	Token(id uint16) (*types.Token, bool, error)
	LoanProductByAddress(addr common.Address) (*types.LoanProduct, bool, error)
	CreditPendingBalance(addr common.Address, tokenID uint16, amount *uint256.Int) error
	PermitNonce(addr common.Address) (uint64, error)
	SetPermitNonce(addr common.Address, nonce uint64) error
}

// PriceOracle returns a token's USD price normalised to PriceDecimals.
type PriceOracle interface {
	Price(tokenID uint16, now uint64) (*uint256.Int, error)
}

// RequestQueue accepts encoded requests destined for the rollup.
type RequestQueue interface {
	AppendL1Request(op ops.Op) (uint64, error)
}

// Engine owns loan records and applies user, governance and rollup driven
// changes to them.
type Engine struct {
	state     engineState
	oracle    PriceOracle
	queue     RequestQueue
	emitter   events.Emitter
	mode      nativecommon.ModeView
	logger    *slog.Logger
	timestamp uint64
	// rollWindow is the minimum gap between a roll borrow order's expiry and
	// the target product's maturity.
	rollWindow uint64
}

// DefaultRollWindow is one day.
const DefaultRollWindow = 24 * 60 * 60

// NewEngine constructs a loan engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		rollWindow: DefaultRollWindow,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

func (e *Engine) SetQueue(queue RequestQueue) {
	if e == nil {
		return
	}
	e.queue = queue
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetMode(mode nativecommon.ModeView) {
	if e == nil {
		return
	}
	e.mode = mode
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With("module", moduleName)
}

// SetTimestamp records the ledger time used for maturity, expiry and price
// staleness checks.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

// SetRollWindow overrides DefaultRollWindow.
func (e *Engine) SetRollWindow(seconds uint64) {
	if e == nil {
		return
	}
	e.rollWindow = seconds
}

func (e *Engine) emit(evt events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return fmt.Errorf("%s engine: state not configured", moduleName)
	}
	return nil
}

// GetLoan returns the stored loan or ErrLoanIsNotExist.
func (e *Engine) GetLoan(id types.LoanID) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadLoan(id)
}

// Params returns the current governance parameters.
func (e *Engine) Params() (*Params, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.LoanParams()
}

func (e *Engine) loadLoan(id types.LoanID) (*Loan, error) {
	loan, ok, err := e.state.Loan(id)
	if err != nil {
		return nil, err
	}
	if !ok || loan.IsEmpty() {
		return nil, ledgererr.ErrLoanIsNotExist
	}
	loan.ensureDefaults()
	return loan, nil
}

// loadOrNewLoan is used by rollup execution, which creates loans implicitly.
func (e *Engine) loadOrNewLoan(id types.LoanID) (*Loan, error) {
	loan, ok, err := e.state.Loan(id)
	if err != nil {
		return nil, err
	}
	if !ok || loan == nil {
		return NewLoan(id), nil
	}
	loan.ensureDefaults()
	return loan, nil
}

func (e *Engine) loadToken(id uint16) (*types.Token, error) {
	token, ok, err := e.state.Token(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("token %d: %w", id, ledgererr.ErrTokenNotRegistered)
	}
	return token, nil
}

// ownerOf resolves the base-ledger address owning a loan.
func (e *Engine) ownerOf(id types.LoanID) (common.Address, error) {
	account, ok, err := e.state.Account(id.AccountID())
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ledgererr.ErrAccountNotRegistered
	}
	return account.Address, nil
}

func (e *Engine) requireOwner(id types.LoanID, sender common.Address) error {
	owner, err := e.ownerOf(id)
	if err != nil {
		return err
	}
	if owner != sender {
		return ledgererr.ErrSenderIsNotLoanOwner
	}
	return nil
}

func (e *Engine) enqueue(op ops.Op) error {
	if e.queue == nil {
		return fmt.Errorf("%s engine: request queue not configured", moduleName)
	}
	_, err := e.queue.AppendL1Request(op)
	return err
}
