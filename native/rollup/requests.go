package rollup

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/events"
	"zkledger/core/ops"
	"zkledger/core/types"
	"zkledger/native/loan"
)

// RegisterAccount assigns the next account id to addr and queues the
// registration. Account ids start at one.
func (e *Engine) RegisterAccount(addr common.Address) (uint32, error) {
	status, err := e.guardedStatus()
	if err != nil {
		return 0, err
	}
	if _, ok, err := e.state.AccountByAddress(addr); err != nil {
		return 0, err
	} else if ok {
		return 0, ledgererr.ErrAccountAlreadyRegistered
	}
	id := status.AccountNum + 1
	if err := e.state.PutAccount(&types.Account{ID: id, Address: addr}); err != nil {
		return 0, err
	}
	status.AccountNum = id
	if err := e.state.PutRollupStatus(status); err != nil {
		return 0, err
	}
	if _, err := e.AppendL1Request(ops.Register{AccountID: id, L1Addr: addr}); err != nil {
		return 0, err
	}
	e.emit(events.AccountRegistered{AccountID: id, Address: addr})
	return id, nil
}

func (e *Engine) accountOf(addr common.Address) (*types.Account, error) {
	acc, ok, err := e.state.AccountByAddress(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ledgererr.ErrAccountNotRegistered
	}
	return acc, nil
}

func (e *Engine) token(id uint16) (*types.Token, error) {
	token, ok, err := e.state.Token(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ledgererr.ErrTokenNotRegistered
	}
	return token, nil
}

// Deposit queues a deposit of amount, in native units, into the rollup
// account of addr.
func (e *Engine) Deposit(addr common.Address, tokenID uint16, amount *uint256.Int) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	acc, err := e.accountOf(addr)
	if err != nil {
		return 0, err
	}
	token, err := e.token(tokenID)
	if err != nil {
		return 0, err
	}
	if amount == nil {
		return 0, ledgererr.ErrInvalidAmount
	}
	l2, err := loan.ToL2(amount, token.Decimals)
	if err != nil {
		return 0, err
	}
	if l2.IsZero() {
		return 0, ledgererr.ErrInvalidAmount
	}
	return e.AppendL1Request(ops.TokenAmount{Op: ops.OpDeposit, AccountID: acc.ID, TokenID: tokenID, Amount: l2})
}

// ForceWithdraw queues a request forcing the rollup to withdraw the whole L2
// balance of a token. The amount is filled in by the operator.
func (e *Engine) ForceWithdraw(addr common.Address, tokenID uint16) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	acc, err := e.accountOf(addr)
	if err != nil {
		return 0, err
	}
	if _, err := e.token(tokenID); err != nil {
		return 0, err
	}
	return e.AppendL1Request(ops.TokenAmount{Op: ops.OpForceWithdraw, AccountID: acc.ID, TokenID: tokenID, Amount: new(uint256.Int)})
}

// RegisterToken adds an asset to the registry.
func (e *Engine) RegisterToken(token types.Token) error {
	if _, err := e.guardedStatus(); err != nil {
		return err
	}
	if _, ok, err := e.state.Token(token.ID); err != nil {
		return err
	} else if ok {
		return ledgererr.ErrTokenAlreadyRegistered
	}
	return e.state.PutToken(&token)
}

// ProductAddress derives the identifying address of the product maturing at
// maturity over baseTokenID.
func ProductAddress(baseTokenID uint16, maturity uint32) common.Address {
	var buf [6]byte
	binary.BigEndian.PutUint16(buf[0:2], baseTokenID)
	binary.BigEndian.PutUint32(buf[2:6], maturity)
	return common.BytesToAddress(crypto.Keccak256([]byte("tsb"), buf[:])[12:])
}

// CreateLoanProduct registers a fixed maturity product over baseTokenID whose
// term token is tsbTokenID and queues its creation.
func (e *Engine) CreateLoanProduct(baseTokenID, tsbTokenID uint16, maturity uint32) (*types.LoanProduct, error) {
	if _, err := e.guardedStatus(); err != nil {
		return nil, err
	}
	if uint64(maturity) <= e.timestamp {
		return nil, ledgererr.ErrInvalidMaturityTime
	}
	base, err := e.token(baseTokenID)
	if err != nil {
		return nil, err
	}
	addr := ProductAddress(baseTokenID, maturity)
	if _, ok, err := e.state.LoanProductByAddress(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ledgererr.ErrProductAlreadyExists
	}
	if _, ok, err := e.state.Token(tsbTokenID); err != nil {
		return nil, err
	} else if ok {
		return nil, ledgererr.ErrProductAlreadyExists
	}
	if err := e.state.PutToken(&types.Token{
		ID:           tsbTokenID,
		Address:      addr,
		Decimals:     base.Decimals,
		IsStableCoin: base.IsStableCoin,
	}); err != nil {
		return nil, err
	}
	product := &types.LoanProduct{
		TsbTokenID:   tsbTokenID,
		Address:      addr,
		BaseTokenID:  baseTokenID,
		MaturityTime: maturity,
	}
	if err := e.state.PutLoanProduct(product); err != nil {
		return nil, err
	}
	if _, err := e.AppendL1Request(ops.CreateLoanProduct{
		MaturityTime: maturity,
		BaseTokenID:  baseTokenID,
		TsbTokenID:   tsbTokenID,
	}); err != nil {
		return nil, err
	}
	e.emit(events.LoanProductCreated{Product: *product})
	return product, nil
}
