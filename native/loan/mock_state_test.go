package loan

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
)

type pendingKey struct {
	addr    common.Address
	tokenID uint16
}

type mockEngineState struct {
	loans    map[types.LoanID]*Loan
	params   *Params
	accounts map[uint32]*types.Account
	tokens   map[uint16]*types.Token
	products map[common.Address]*types.LoanProduct
	pending  map[pendingKey]*uint256.Int
	nonces   map[common.Address]uint64
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		loans:    make(map[types.LoanID]*Loan),
		params:   DefaultParams(),
		accounts: make(map[uint32]*types.Account),
		tokens:   make(map[uint16]*types.Token),
		products: make(map[common.Address]*types.LoanProduct),
		pending:  make(map[pendingKey]*uint256.Int),
		nonces:   make(map[common.Address]uint64),
	}
}

func (m *mockEngineState) Loan(id types.LoanID) (*Loan, bool, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockEngineState) PutLoan(loan *Loan) error {
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *mockEngineState) LoanParams() (*Params, error) { return m.params.Clone(), nil }

func (m *mockEngineState) PutLoanParams(params *Params) error {
	m.params = params.Clone()
	return nil
}

func (m *mockEngineState) Account(id uint32) (*types.Account, bool, error) {
	acc, ok := m.accounts[id]
	return acc, ok, nil
}

func (m *mockEngineState) Token(id uint16) (*types.Token, bool, error) {
	token, ok := m.tokens[id]
	return token, ok, nil
}

func (m *mockEngineState) LoanProductByAddress(addr common.Address) (*types.LoanProduct, bool, error) {
	product, ok := m.products[addr]
	return product, ok, nil
}

func (m *mockEngineState) CreditPendingBalance(addr common.Address, tokenID uint16, amount *uint256.Int) error {
	key := pendingKey{addr: addr, tokenID: tokenID}
	current, ok := m.pending[key]
	if !ok {
		current = new(uint256.Int)
	}
	m.pending[key] = new(uint256.Int).Add(current, amount)
	return nil
}

func (m *mockEngineState) PermitNonce(addr common.Address) (uint64, error) {
	return m.nonces[addr], nil
}

func (m *mockEngineState) SetPermitNonce(addr common.Address, nonce uint64) error {
	m.nonces[addr] = nonce
	return nil
}

func (m *mockEngineState) pendingOf(addr common.Address, tokenID uint16) *uint256.Int {
	if v, ok := m.pending[pendingKey{addr: addr, tokenID: tokenID}]; ok {
		return v
	}
	return new(uint256.Int)
}

type mockOracle struct {
	prices map[uint16]*uint256.Int
}

func (o *mockOracle) Price(tokenID uint16, _ uint64) (*uint256.Int, error) {
	p, ok := o.prices[tokenID]
	if !ok || p.IsZero() {
		return nil, ledgererr.ErrInvalidPrice
	}
	return p.Clone(), nil
}

type mockQueue struct {
	ops []ops.Op
}

func (q *mockQueue) AppendL1Request(op ops.Op) (uint64, error) {
	q.ops = append(q.ops, op)
	return uint64(len(q.ops) - 1), nil
}

type modeFlag bool

func (m modeFlag) EvacuationMode() bool { return bool(m) }

const (
	tokenETH  uint16 = 1
	tokenUSDC uint16 = 2
	tokenWBTC uint16 = 3
	tokenUSDT uint16 = 4

	ownerAccountID uint32 = 7
)

var (
	ownerAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	liquidatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	treasuryAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

type fixture struct {
	engine *Engine
	state  *mockEngineState
	oracle *mockOracle
	queue  *mockQueue
	events *events.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockEngineState()
	state.params.Treasury = treasuryAddr
	state.accounts[ownerAccountID] = &types.Account{ID: ownerAccountID, Address: ownerAddr}
	state.tokens[tokenETH] = &types.Token{ID: tokenETH, Decimals: 18}
	state.tokens[tokenUSDC] = &types.Token{ID: tokenUSDC, Decimals: 6, IsStableCoin: true}
	state.tokens[tokenWBTC] = &types.Token{ID: tokenWBTC, Decimals: 8}
	state.tokens[tokenUSDT] = &types.Token{ID: tokenUSDT, Decimals: 6, IsStableCoin: true}

	oracle := &mockOracle{prices: map[uint16]*uint256.Int{
		tokenETH:  usd(2000),
		tokenUSDC: usd(1),
		tokenWBTC: usd(24000),
		tokenUSDT: usd(1),
	}}
	queue := &mockQueue{}
	buf := &events.Buffer{}

	engine := NewEngine()
	engine.SetState(state)
	engine.SetOracle(oracle)
	engine.SetQueue(queue)
	engine.SetEmitter(buf)
	engine.SetTimestamp(1_000_000)
	return &fixture{engine: engine, state: state, oracle: oracle, queue: queue, events: buf}
}

// putLoan stores a loan with amounts given in native units.
func (f *fixture) putLoan(t *testing.T, id types.LoanID, collateral, debt *uint256.Int) *Loan {
	t.Helper()
	loan := NewLoan(id)
	var err error
	loan.CollateralAmt, err = ToL2(collateral, f.state.tokens[id.CollateralTokenID()].Decimals)
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	loan.DebtAmt, err = ToL2(debt, f.state.tokens[id.DebtTokenID()].Decimals)
	if err != nil {
		t.Fatalf("debt: %v", err)
	}
	loan.MatchedTime = 1
	f.state.loans[id] = loan.Clone()
	return loan
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, evt := range f.events.Drain() {
		out = append(out, evt.EventType())
	}
	return out
}

// units returns v * 10^decimals.
func units(v uint64, decimals uint8) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), pow10(decimals))
}

func usd(v uint64) *uint256.Int { return units(v, PriceDecimals) }
