package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/genesis"
	"zkledger/core/pricing"
	"zkledger/core/state"
	"zkledger/core/types"
	"zkledger/native/loan"
	"zkledger/native/rollup"
	"zkledger/observability"
	zkotel "zkledger/observability/otel"
	"zkledger/storage"
)

// ErrAlreadyInitialised is returned by InitGenesis on a ledger that already
// holds a genesis block.
var ErrAlreadyInitialised = errors.New("ledger: genesis already initialised")

// EventJournal durably records committed events.
type EventJournal interface {
	Append(ctx context.Context, evts []events.Event) error
}

// Options configures a Ledger. Zero values select the defaults.
type Options struct {
	Rollup   rollup.Config
	Verifier rollup.Verifier
	Oracle   *pricing.Oracle
	// RollWindow is the minimum gap between a roll borrow order's expiry and
	// its target product's maturity.
	RollWindow time.Duration
	// LoanDefaults are overlaid by the genesis loan section. Nil selects the
	// launch defaults.
	LoanDefaults *loan.Params
	Journal      EventJournal
	Emitter      events.Emitter
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Ledger is the single writer over rollup and loan state. Every mutating call
// runs under one lock against a state snapshot: it either commits in full,
// releasing its events, or leaves no trace.
type Ledger struct {
	mu sync.Mutex

	state   *state.Manager
	rollup  *rollup.Engine
	loans   *loan.Engine
	oracle  *pricing.Oracle
	buffer  *events.Buffer
	journal EventJournal

	loanDefaults *loan.Params
	emitter      events.Emitter
	logger       *slog.Logger
	clock        func() time.Time
	tracer       trace.Tracer
	metrics      *observability.LedgerMetrics
}

// NewLedger wires the rollup and loan engines over db.
func NewLedger(db storage.Database, opts Options) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("ledger: database required")
	}
	cfg := opts.Rollup
	if cfg == (rollup.Config{}) {
		cfg = rollup.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	oracle := opts.Oracle
	if oracle == nil {
		oracle = pricing.NewOracle(0)
	}
	verifier := opts.Verifier
	if verifier == nil {
		verifier = rollup.CommitmentVerifier{}
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}

	l := &Ledger{
		state:   state.NewManager(db),
		oracle:  oracle,
		buffer:  &events.Buffer{},
		journal: opts.Journal,
		emitter: emitter,

		loanDefaults: opts.LoanDefaults,
		logger:       logger,
		clock:        clock,
		tracer:       zkotel.Tracer(),
		metrics:      observability.Ledger(),
	}

	l.loans = loan.NewEngine()
	l.loans.SetState(l.state)
	l.loans.SetOracle(oracle)
	l.loans.SetEmitter(l.buffer)
	l.loans.SetLogger(logger.With("module", "loan"))
	if opts.RollWindow > 0 {
		l.loans.SetRollWindow(uint64(opts.RollWindow / time.Second))
	}

	l.rollup = rollup.NewEngine(cfg)
	l.rollup.SetState(l.state)
	l.rollup.SetLoanExecutor(l.loans)
	l.rollup.SetVerifier(verifier)
	l.rollup.SetEmitter(l.buffer)
	l.rollup.SetLogger(logger.With("module", "rollup"))

	l.loans.SetQueue(l.rollup)
	l.loans.SetMode(l.rollup)
	return l, nil
}

// Oracle exposes the price oracle so callers can register feeds.
func (l *Ledger) Oracle() *pricing.Oracle { return l.oracle }

func (l *Ledger) now() uint64 {
	ts := l.clock().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// mutate runs fn as one atomic ledger operation.
func mutate[T any](ctx context.Context, l *Ledger, name string, fn func() (T, error)) (T, error) {
	ctx, span := l.tracer.Start(ctx, "ledger."+name)
	defer span.End()
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollup.SetTimestamp(now)
	l.loans.SetTimestamp(now)
	snapshot := l.state.Snapshot()

	result, err := fn()
	if err == nil {
		err = l.state.Commit()
	}
	if err != nil {
		l.state.RevertToSnapshot(snapshot)
		l.buffer.Drain()
		kind := ledgererr.KindOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", kind.String()))
		l.metrics.ObserveOperation(name, kind.String(), time.Since(start))
		l.logger.Debug("ledger operation rejected", "operation", name, "code", ledgererr.CodeOf(err), "error", err)
		var zero T
		return zero, err
	}

	l.publish(ctx, l.buffer.Drain())
	l.refreshGauges()
	l.metrics.ObserveOperation(name, "", time.Since(start))
	return result, nil
}

// view runs a read-only fn under the ledger lock.
func view[T any](l *Ledger, fn func() (T, error)) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.rollup.SetTimestamp(now)
	l.loans.SetTimestamp(now)
	return fn()
}

func (l *Ledger) publish(ctx context.Context, evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	for _, evt := range evts {
		observability.Events().Record(evt.EventType())
		l.emitter.Emit(evt)
	}
	if l.journal != nil {
		if err := l.journal.Append(ctx, evts); err != nil {
			l.logger.Error("event journal append failed", "count", len(evts), "error", err)
		}
	}
}

func (l *Ledger) refreshGauges() {
	status, err := l.state.RollupStatus()
	if err != nil {
		return
	}
	l.metrics.SetPipeline(observability.PipelineSnapshot{
		Committed:         status.CommittedBlockNum,
		Verified:          status.VerifiedBlockNum,
		Executed:          status.ExecutedBlockNum,
		TotalRequests:     status.TotalL1RequestNum,
		CommittedRequests: status.CommittedL1RequestNum,
		ExecutedRequests:  status.ExecutedL1RequestNum,
		Evacuating:        status.EvacuMode,
	})
}

// Initialized reports whether a genesis block has been recorded.
func (l *Ledger) Initialized() (bool, error) {
	return view(l, func() (bool, error) {
		_, ok, err := l.state.StoredBlockHash(0)
		return ok, err
	})
}

// InitGenesis records the genesis block, token registry, loan parameters and
// products declared by spec, and pins seeded prices in the oracle.
func (l *Ledger) InitGenesis(ctx context.Context, spec *genesis.GenesisSpec) (*types.StoredBlock, error) {
	if spec == nil {
		return nil, fmt.Errorf("ledger: genesis spec required")
	}
	ts := uint64(spec.GenesisTimestamp().Unix())
	block, err := mutate(ctx, l, "initGenesis", func() (*types.StoredBlock, error) {
		if _, ok, err := l.state.StoredBlockHash(0); err != nil {
			return nil, err
		} else if ok {
			return nil, ErrAlreadyInitialised
		}
		block, err := l.rollup.Init(spec.StateRootHash(), ts)
		if err != nil {
			return nil, err
		}
		for _, token := range spec.Registry() {
			if err := l.rollup.RegisterToken(token); err != nil {
				return nil, fmt.Errorf("register token %d: %w", token.ID, err)
			}
		}
		params, err := spec.LoanParams(l.loanDefaults)
		if err != nil {
			return nil, err
		}
		if err := l.state.PutLoanParams(params); err != nil {
			return nil, err
		}
		for _, p := range spec.LoanProducts() {
			if _, err := l.rollup.CreateLoanProduct(p.BaseTokenID, p.TsbTokenID, p.MaturityTime); err != nil {
				return nil, fmt.Errorf("create product %d: %w", p.TsbTokenID, err)
			}
		}
		return block, nil
	})
	if err != nil {
		return nil, err
	}
	l.InstallGenesisFeeds(spec)
	l.logger.Info("genesis initialised", "stateRoot", block.StateRoot.Hex(), "tokens", len(spec.Tokens))
	return block, nil
}

// InstallGenesisFeeds pins every price seeded by spec for tokens without a
// registered feed. Feeds live in memory, so a restarted node calls this
// without InitGenesis.
func (l *Ledger) InstallGenesisFeeds(spec *genesis.GenesisSpec) {
	for tokenID, price := range spec.Prices() {
		if l.oracle.HasFeed(tokenID) {
			continue
		}
		l.oracle.RegisterFeed(tokenID, pricing.NewPinnedFeed(pricing.PriceDecimals, price, l.now))
	}
}

// --- Rollup pipeline ---

func (l *Ledger) CommitBlocks(ctx context.Context, last types.StoredBlock, blocks []types.CommitBlock) ([]types.StoredBlock, error) {
	return mutate(ctx, l, "commitBlocks", func() ([]types.StoredBlock, error) {
		return l.rollup.CommitBlocks(last, blocks)
	})
}

func (l *Ledger) VerifyBlocks(ctx context.Context, blocks []types.VerifyBlock) error {
	_, err := mutate(ctx, l, "verifyBlocks", func() (struct{}, error) {
		return struct{}{}, l.rollup.VerifyBlocks(blocks)
	})
	return err
}

func (l *Ledger) ExecuteBlocks(ctx context.Context, blocks []types.ExecuteBlock) error {
	_, err := mutate(ctx, l, "executeBlocks", func() (struct{}, error) {
		return struct{}{}, l.rollup.ExecuteBlocks(blocks)
	})
	return err
}

func (l *Ledger) RevertBlocks(ctx context.Context, blocks []types.StoredBlock) error {
	_, err := mutate(ctx, l, "revertBlocks", func() (struct{}, error) {
		return struct{}{}, l.rollup.RevertBlocks(blocks)
	})
	return err
}

func (l *Ledger) ActivateEvacuation(ctx context.Context) error {
	_, err := mutate(ctx, l, "activateEvacuation", func() (struct{}, error) {
		return struct{}{}, l.rollup.ActivateEvacuation()
	})
	return err
}

func (l *Ledger) Status() (*rollup.Status, error) {
	return view(l, l.rollup.Status)
}

func (l *Ledger) Stage(n uint32) (rollup.BlockStage, error) {
	return view(l, func() (rollup.BlockStage, error) { return l.rollup.Stage(n) })
}

func (l *Ledger) L1Request(id uint64) (*types.L1Request, error) {
	return view(l, func() (*types.L1Request, error) { return l.rollup.L1Request(id) })
}

// --- Accounts and registry ---

func (l *Ledger) RegisterAccount(ctx context.Context, addr common.Address) (uint32, error) {
	return mutate(ctx, l, "registerAccount", func() (uint32, error) {
		return l.rollup.RegisterAccount(addr)
	})
}

func (l *Ledger) Deposit(ctx context.Context, addr common.Address, tokenID uint16, amount *uint256.Int) (uint64, error) {
	return mutate(ctx, l, "deposit", func() (uint64, error) {
		return l.rollup.Deposit(addr, tokenID, amount)
	})
}

func (l *Ledger) ForceWithdraw(ctx context.Context, addr common.Address, tokenID uint16) (uint64, error) {
	return mutate(ctx, l, "forceWithdraw", func() (uint64, error) {
		return l.rollup.ForceWithdraw(addr, tokenID)
	})
}

func (l *Ledger) RegisterToken(ctx context.Context, token types.Token) error {
	_, err := mutate(ctx, l, "registerToken", func() (struct{}, error) {
		return struct{}{}, l.rollup.RegisterToken(token)
	})
	return err
}

func (l *Ledger) CreateLoanProduct(ctx context.Context, baseTokenID, tsbTokenID uint16, maturity uint32) (*types.LoanProduct, error) {
	return mutate(ctx, l, "createLoanProduct", func() (*types.LoanProduct, error) {
		return l.rollup.CreateLoanProduct(baseTokenID, tsbTokenID, maturity)
	})
}

func (l *Ledger) AccountByAddress(addr common.Address) (*types.Account, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.AccountByAddress(addr)
}

func (l *Ledger) Token(id uint16) (*types.Token, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Token(id)
}

func (l *Ledger) PendingBalance(addr common.Address, tokenID uint16) (*uint256.Int, error) {
	return view(l, func() (*uint256.Int, error) { return l.state.PendingBalance(addr, tokenID) })
}

// --- Loans ---

func (l *Ledger) Loan(id types.LoanID) (*loan.Loan, error) {
	return view(l, func() (*loan.Loan, error) { return l.loans.GetLoan(id) })
}

func (l *Ledger) HealthFactor(id types.LoanID) (*uint256.Int, error) {
	return view(l, func() (*uint256.Int, error) { return l.loans.HealthFactor(id) })
}

func (l *Ledger) LiquidationInfo(id types.LoanID) (*loan.LiquidationInfo, error) {
	return view(l, func() (*loan.LiquidationInfo, error) { return l.loans.LiquidationInfo(id) })
}

func (l *Ledger) LoanParams() (*loan.Params, error) {
	return view(l, l.loans.Params)
}

func (l *Ledger) Liquidate(ctx context.Context, liquidator common.Address, id types.LoanID, repayAmt *uint256.Int) (*loan.LiquidationResult, error) {
	result, err := mutate(ctx, l, "liquidate", func() (*loan.LiquidationResult, error) {
		return l.loans.Liquidate(liquidator, id, repayAmt)
	})
	if err == nil {
		l.metrics.RecordLiquidation(result.FullLiquidation)
	}
	return result, err
}

func (l *Ledger) Repay(ctx context.Context, owner common.Address, id types.LoanID, collateralAmt, debtAmt *uint256.Int, depositRemainder bool) error {
	_, err := mutate(ctx, l, "repay", func() (struct{}, error) {
		return struct{}{}, l.loans.Repay(owner, id, collateralAmt, debtAmt, depositRemainder)
	})
	return err
}

func (l *Ledger) AddCollateral(ctx context.Context, owner common.Address, id types.LoanID, amount *uint256.Int) error {
	_, err := mutate(ctx, l, "addCollateral", func() (struct{}, error) {
		return struct{}{}, l.loans.AddCollateral(owner, id, amount)
	})
	return err
}

func (l *Ledger) RemoveCollateral(ctx context.Context, owner common.Address, id types.LoanID, amount *uint256.Int) error {
	_, err := mutate(ctx, l, "removeCollateral", func() (struct{}, error) {
		return struct{}{}, l.loans.RemoveCollateral(owner, id, amount)
	})
	return err
}

func (l *Ledger) RemoveCollateralWithPermit(ctx context.Context, permit loan.Permit) error {
	_, err := mutate(ctx, l, "removeCollateralWithPermit", func() (struct{}, error) {
		return struct{}{}, l.loans.RemoveCollateralWithPermit(permit)
	})
	return err
}

func (l *Ledger) RollBorrow(ctx context.Context, owner common.Address, order loan.RollBorrowOrder, fee *uint256.Int) error {
	_, err := mutate(ctx, l, "rollBorrow", func() (struct{}, error) {
		return struct{}{}, l.loans.RollBorrow(owner, order, fee)
	})
	return err
}

func (l *Ledger) ForceCancelRollBorrow(ctx context.Context, owner common.Address, id types.LoanID) error {
	_, err := mutate(ctx, l, "forceCancelRollBorrow", func() (struct{}, error) {
		return struct{}{}, l.loans.ForceCancelRollBorrow(owner, id)
	})
	return err
}

func (l *Ledger) AdminCancelRollBorrow(ctx context.Context, id types.LoanID) error {
	_, err := mutate(ctx, l, "adminCancelRollBorrow", func() (struct{}, error) {
		return struct{}{}, l.loans.AdminCancelRollBorrow(id)
	})
	return err
}

// --- Governance ---

func (l *Ledger) SetLiquidationFactor(ctx context.Context, factor loan.LiquidationFactor, stablePair bool) error {
	_, err := mutate(ctx, l, "setLiquidationFactor", func() (struct{}, error) {
		return struct{}{}, l.loans.SetLiquidationFactor(factor, stablePair)
	})
	return err
}

func (l *Ledger) SetHalfLiquidationThreshold(ctx context.Context, value uint64) error {
	_, err := mutate(ctx, l, "setHalfLiquidationThreshold", func() (struct{}, error) {
		return struct{}{}, l.loans.SetHalfLiquidationThreshold(value)
	})
	return err
}

func (l *Ledger) SetRollOverFee(ctx context.Context, fee *uint256.Int) error {
	_, err := mutate(ctx, l, "setRollOverFee", func() (struct{}, error) {
		return struct{}{}, l.loans.SetRollOverFee(fee)
	})
	return err
}
