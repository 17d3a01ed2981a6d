package rollup

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
)

const moduleName = "rollup"

type engineState interface {
	RollupStatus() (*Status, error)
	PutRollupStatus(status *Status) error

	L1Request(id uint64) (*types.L1Request, bool, error)
	PutL1Request(id uint64, req *types.L1Request) error

	StoredBlockHash(number uint32) (common.Hash, bool, error)
	PutStoredBlockHash(number uint32, hash common.Hash) error
	DeleteStoredBlockHash(number uint32) error
	BlockCommitment(number uint32) (*types.BlockCommitment, bool, error)
	PutBlockCommitment(c *types.BlockCommitment) error
	DeleteBlockCommitment(number uint32) error

	Account(id uint32) (*types.Account, bool, error)
	AccountByAddress(addr common.Address) (*types.Account, bool, error)
	PutAccount(acc *types.Account) error
	Token(id uint16) (*types.Token, bool, error)
	PutToken(token *types.Token) error
	LoanProductByAddress(addr common.Address) (*types.LoanProduct, bool, error)
	PutLoanProduct(product *types.LoanProduct) error
	CreditPendingBalance(addr common.Address, tokenID uint16, amount *uint256.Int) error
}

// LoanExecutor applies loan mutations carried by executed blocks.
type LoanExecutor interface {
	ApplyUpdateLoan(op ops.UpdateLoan) error
	ApplyRollOverEnd(op ops.RollOverEnd) error
	ApplyRollBorrowCancel(op ops.CancelRollBorrow) error
}

// Engine drives the request queue and the commit, verify and execute block
// pipeline.
type Engine struct {
	state     engineState
	loans     LoanExecutor
	verifier  Verifier
	emitter   events.Emitter
	logger    *slog.Logger
	cfg       Config
	timestamp uint64
}

// NewEngine constructs a rollup engine using cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:      cfg,
		verifier: CommitmentVerifier{},
		emitter:  events.NoopEmitter{},
		logger:   slog.Default(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetLoanExecutor(loans LoanExecutor) {
	if e == nil {
		return
	}
	e.loans = loans
}

func (e *Engine) SetVerifier(v Verifier) {
	if e == nil || v == nil {
		return
	}
	e.verifier = v
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

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With("module", moduleName)
}

// SetTimestamp records the ledger time used for timestamp bounds and request
// expiry.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

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

// Status returns a copy of the pipeline counters.
func (e *Engine) Status() (*Status, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.RollupStatus()
}

// EvacuationMode reports whether evacuation has been activated. Read failures
// report false and surface on the next mutating call.
func (e *Engine) EvacuationMode() bool {
	if e == nil || e.state == nil {
		return false
	}
	status, err := e.state.RollupStatus()
	return err == nil && status.EvacuMode
}

// guardedStatus loads the status and rejects mutation during evacuation.
func (e *Engine) guardedStatus() (*Status, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	status, err := e.state.RollupStatus()
	if err != nil {
		return nil, err
	}
	if status.EvacuMode {
		return nil, ledgererr.ErrEvacuModeActivated
	}
	return status, nil
}

// Stage reports how far block number n has progressed.
func (e *Engine) Stage(n uint32) (BlockStage, error) {
	status, err := e.Status()
	if err != nil {
		return StageUnknown, err
	}
	switch {
	case n <= status.ExecutedBlockNum:
		return StageExecuted, nil
	case n <= status.VerifiedBlockNum:
		return StageVerified, nil
	case n <= status.CommittedBlockNum:
		return StageCommitted, nil
	}
	return StageUnknown, nil
}

// Init records the genesis block. It fails when a genesis block exists.
func (e *Engine) Init(stateRoot common.Hash, timestamp uint64) (*types.StoredBlock, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, ok, err := e.state.StoredBlockHash(0); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("%s engine: genesis already initialised", moduleName)
	}
	genesis := &types.StoredBlock{
		PendingRollupTxHash: EmptyPendingRollupTxHash,
		StateRoot:           stateRoot,
		Timestamp:           timestamp,
	}
	if err := e.state.PutStoredBlockHash(0, genesis.Hash()); err != nil {
		return nil, err
	}
	if err := e.state.PutBlockCommitment(&types.BlockCommitment{
		NewStateRoot:        stateRoot,
		PendingRollupTxHash: EmptyPendingRollupTxHash,
		Timestamp:           timestamp,
	}); err != nil {
		return nil, err
	}
	if err := e.state.PutRollupStatus(&Status{}); err != nil {
		return nil, err
	}
	return genesis, nil
}

func (e *Engine) requireStoredHash(block *types.StoredBlock, mismatch error) error {
	stored, ok, err := e.state.StoredBlockHash(block.BlockNumber)
	if err != nil {
		return err
	}
	if !ok || stored != block.Hash() {
		return mismatch
	}
	return nil
}

func (e *Engine) commitment(number uint32) (*types.BlockCommitment, error) {
	c, ok, err := e.state.BlockCommitment(number)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ledgererr.ErrBlockNotCommitted
	}
	return c, nil
}
