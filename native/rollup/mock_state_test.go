package rollup

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
)

type pendingKey struct {
	addr    common.Address
	tokenID uint16
}

type mockEngineState struct {
	status      Status
	requests    map[uint64]*types.L1Request
	hashes      map[uint32]common.Hash
	commitments map[uint32]*types.BlockCommitment
	accounts    map[uint32]*types.Account
	byAddr      map[common.Address]uint32
	tokens      map[uint16]*types.Token
	products    map[common.Address]*types.LoanProduct
	pending     map[pendingKey]*uint256.Int
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		requests:    make(map[uint64]*types.L1Request),
		hashes:      make(map[uint32]common.Hash),
		commitments: make(map[uint32]*types.BlockCommitment),
		accounts:    make(map[uint32]*types.Account),
		byAddr:      make(map[common.Address]uint32),
		tokens:      make(map[uint16]*types.Token),
		products:    make(map[common.Address]*types.LoanProduct),
		pending:     make(map[pendingKey]*uint256.Int),
	}
}

func (m *mockEngineState) RollupStatus() (*Status, error) {
	status := m.status
	return &status, nil
}

func (m *mockEngineState) PutRollupStatus(status *Status) error {
	m.status = *status
	return nil
}

func (m *mockEngineState) L1Request(id uint64) (*types.L1Request, bool, error) {
	req, ok := m.requests[id]
	return req, ok, nil
}

func (m *mockEngineState) PutL1Request(id uint64, req *types.L1Request) error {
	m.requests[id] = req
	return nil
}

func (m *mockEngineState) StoredBlockHash(n uint32) (common.Hash, bool, error) {
	h, ok := m.hashes[n]
	return h, ok, nil
}

func (m *mockEngineState) PutStoredBlockHash(n uint32, h common.Hash) error {
	m.hashes[n] = h
	return nil
}

func (m *mockEngineState) DeleteStoredBlockHash(n uint32) error {
	delete(m.hashes, n)
	return nil
}

func (m *mockEngineState) BlockCommitment(n uint32) (*types.BlockCommitment, bool, error) {
	c, ok := m.commitments[n]
	return c, ok, nil
}

func (m *mockEngineState) PutBlockCommitment(c *types.BlockCommitment) error {
	m.commitments[c.BlockNumber] = c
	return nil
}

func (m *mockEngineState) DeleteBlockCommitment(n uint32) error {
	delete(m.commitments, n)
	return nil
}

func (m *mockEngineState) Account(id uint32) (*types.Account, bool, error) {
	acc, ok := m.accounts[id]
	return acc, ok, nil
}

func (m *mockEngineState) AccountByAddress(addr common.Address) (*types.Account, bool, error) {
	id, ok := m.byAddr[addr]
	if !ok {
		return nil, false, nil
	}
	return m.accounts[id], true, nil
}

func (m *mockEngineState) PutAccount(acc *types.Account) error {
	m.accounts[acc.ID] = acc
	m.byAddr[acc.Address] = acc.ID
	return nil
}

func (m *mockEngineState) Token(id uint16) (*types.Token, bool, error) {
	token, ok := m.tokens[id]
	return token, ok, nil
}

func (m *mockEngineState) PutToken(token *types.Token) error {
	m.tokens[token.ID] = token
	return nil
}

func (m *mockEngineState) LoanProductByAddress(addr common.Address) (*types.LoanProduct, bool, error) {
	p, ok := m.products[addr]
	return p, ok, nil
}

func (m *mockEngineState) PutLoanProduct(p *types.LoanProduct) error {
	m.products[p.Address] = p
	return nil
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

type recordingLoans struct {
	updates  []ops.UpdateLoan
	rolls    []ops.RollOverEnd
	cancels  []ops.CancelRollBorrow
	failWith error
}

func (r *recordingLoans) ApplyUpdateLoan(op ops.UpdateLoan) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.updates = append(r.updates, op)
	return nil
}

func (r *recordingLoans) ApplyRollOverEnd(op ops.RollOverEnd) error {
	r.rolls = append(r.rolls, op)
	return nil
}

func (r *recordingLoans) ApplyRollBorrowCancel(op ops.CancelRollBorrow) error {
	r.cancels = append(r.cancels, op)
	return nil
}

const (
	genesisTime uint64 = 1_700_000_000
	tokenETH    uint16 = 1
)

var userAddr = common.HexToAddress("0x00000000000000000000000000000000000000e5")

type fixture struct {
	engine  *Engine
	state   *mockEngineState
	loans   *recordingLoans
	events  *events.Buffer
	genesis types.StoredBlock
	tip     types.StoredBlock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockEngineState()
	state.tokens[tokenETH] = &types.Token{ID: tokenETH, Decimals: 18}
	loans := &recordingLoans{}
	buf := &events.Buffer{}

	engine := NewEngine(DefaultConfig())
	engine.SetState(state)
	engine.SetLoanExecutor(loans)
	engine.SetEmitter(buf)
	engine.SetTimestamp(genesisTime)

	genesis, err := engine.Init(common.HexToHash("0x01"), genesisTime)
	require.NoError(t, err)
	return &fixture{engine: engine, state: state, loans: loans, events: buf, genesis: *genesis, tip: *genesis}
}

func (f *fixture) advance(d time.Duration) {
	f.engine.SetTimestamp(f.engine.timestamp + uint64(d/time.Second))
}

// encode concatenates encoded ops into block public data.
func encode(t *testing.T, list ...ops.Op) []byte {
	t.Helper()
	var out []byte
	for _, op := range list {
		data, err := op.Encode()
		require.NoError(t, err)
		out = append(out, data...)
	}
	return out
}

func mustEncode(t *testing.T, op ops.Op) []byte {
	t.Helper()
	data, err := op.Encode()
	require.NoError(t, err)
	return data
}

// commit commits a single block carrying pubData on top of the tip.
func (f *fixture) commit(t *testing.T, pubData []byte) types.StoredBlock {
	t.Helper()
	stored, err := f.engine.CommitBlocks(f.tip, []types.CommitBlock{{
		BlockNumber:  f.tip.BlockNumber + 1,
		NewStateRoot: common.BigToHash(big.NewInt(int64(f.tip.BlockNumber) + 100)),
		Timestamp:    f.engine.timestamp,
		PublicData:   pubData,
	}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	f.tip = stored[0]
	return stored[0]
}

func (f *fixture) verify(t *testing.T, blocks ...types.StoredBlock) {
	t.Helper()
	vbs := make([]types.VerifyBlock, len(blocks))
	for i, b := range blocks {
		vbs[i] = types.VerifyBlock{StoredBlock: b, Proof: types.Proof{Commitment: b.Commitment, Data: b.Commitment.Bytes()}}
	}
	require.NoError(t, f.engine.VerifyBlocks(vbs))
}

func (f *fixture) requireInvariants(t *testing.T) {
	t.Helper()
	s := f.state.status
	require.LessOrEqual(t, s.ExecutedBlockNum, s.VerifiedBlockNum)
	require.LessOrEqual(t, s.VerifiedBlockNum, s.CommittedBlockNum)
	require.LessOrEqual(t, s.ExecutedL1RequestNum, s.CommittedL1RequestNum)
	require.LessOrEqual(t, s.CommittedL1RequestNum, s.TotalL1RequestNum)
}
