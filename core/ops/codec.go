package ops

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	ledgererr "zkledger/core/errors"
	"zkledger/core/types"
)

type writer struct {
	buf []byte
	err error
}

func newWriter(t OpType) *writer {
	size, _ := Size(t)
	w := &writer{buf: make([]byte, 0, size)}
	w.buf = append(w.buf, byte(t))
	return w
}

func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.BigEndian.AppendUint32(w.buf, v) }

func (w *writer) amount(v *uint256.Int) {
	if v == nil {
		v = new(uint256.Int)
	}
	if v.BitLen() > amountBytes*8 {
		w.err = ledgererr.ErrInvalidAmount
	}
	full := v.Bytes32()
	w.buf = append(w.buf, full[32-amountBytes:]...)
}

func (w *writer) address(a common.Address) { w.buf = append(w.buf, a.Bytes()...) }
func (w *writer) loanID(id types.LoanID)   { w.buf = append(w.buf, id[:]...) }

func (w *writer) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	t := OpType(w.buf[0])
	size, _ := Size(t)
	out := make([]byte, size)
	copy(out, w.buf)
	return out, nil
}

type reader struct {
	data []byte
	off  int
}

func newReader(data []byte, want OpType) (*reader, error) {
	t, err := Tag(data)
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, ledgererr.ErrInvalidOpType
	}
	size, _ := Size(t)
	if len(data) < size {
		return nil, ledgererr.ErrMalformedPubData
	}
	return &reader{data: data, off: tagBytes}, nil
}

func (r *reader) next(n int) []byte {
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u16() uint16 { return binary.BigEndian.Uint16(r.next(tokenIDBytes)) }
func (r *reader) u32() uint32 { return binary.BigEndian.Uint32(r.next(timeBytes)) }

func (r *reader) amount() *uint256.Int { return new(uint256.Int).SetBytes(r.next(amountBytes)) }

func (r *reader) address() common.Address { return common.BytesToAddress(r.next(addressBytes)) }

func (r *reader) loanID() types.LoanID {
	var id types.LoanID
	copy(id[:], r.next(types.LoanIDLength))
	return id
}

// Register assigns a rollup account to a base-ledger address.
type Register struct {
	AccountID uint32
	L1Addr    common.Address
}

func (op Register) OpType() OpType { return OpRegister }

func (op Register) Encode() ([]byte, error) {
	w := newWriter(OpRegister)
	w.u32(op.AccountID)
	w.address(op.L1Addr)
	return w.bytes()
}

func DecodeRegister(data []byte) (Register, error) {
	r, err := newReader(data, OpRegister)
	if err != nil {
		return Register{}, err
	}
	return Register{AccountID: r.u32(), L1Addr: r.address()}, nil
}

// TokenAmount is the common layout of deposit, withdraw and force withdraw.
type TokenAmount struct {
	Op        OpType
	AccountID uint32
	TokenID   uint16
	Amount    *uint256.Int
}

func (op TokenAmount) OpType() OpType { return op.Op }

func (op TokenAmount) Encode() ([]byte, error) {
	switch op.Op {
	case OpDeposit, OpWithdraw, OpForceWithdraw:
	default:
		return nil, ledgererr.ErrInvalidOpType
	}
	w := newWriter(op.Op)
	w.u32(op.AccountID)
	w.u16(op.TokenID)
	w.amount(op.Amount)
	return w.bytes()
}

func DecodeTokenAmount(data []byte) (TokenAmount, error) {
	t, err := Tag(data)
	if err != nil {
		return TokenAmount{}, err
	}
	switch t {
	case OpDeposit, OpWithdraw, OpForceWithdraw:
	default:
		return TokenAmount{}, ledgererr.ErrInvalidOpType
	}
	r, err := newReader(data, t)
	if err != nil {
		return TokenAmount{}, err
	}
	return TokenAmount{Op: t, AccountID: r.u32(), TokenID: r.u16(), Amount: r.amount()}, nil
}

// Transfer is an L2-only balance move. It carries no ledger side effects.
type Transfer struct {
	From    uint32
	TokenID uint16
	Amount  *uint256.Int
	To      uint32
}

func (op Transfer) OpType() OpType { return OpTransfer }

func (op Transfer) Encode() ([]byte, error) {
	w := newWriter(OpTransfer)
	w.u32(op.From)
	w.u16(op.TokenID)
	w.amount(op.Amount)
	w.u32(op.To)
	return w.bytes()
}

func DecodeTransfer(data []byte) (Transfer, error) {
	r, err := newReader(data, OpTransfer)
	if err != nil {
		return Transfer{}, err
	}
	return Transfer{From: r.u32(), TokenID: r.u16(), Amount: r.amount(), To: r.u32()}, nil
}

// CreateLoanProduct registers a fixed-maturity product for a base token.
type CreateLoanProduct struct {
	MaturityTime uint32
	BaseTokenID  uint16
	TsbTokenID   uint16
}

func (op CreateLoanProduct) OpType() OpType { return OpCreateLoanProduct }

func (op CreateLoanProduct) Encode() ([]byte, error) {
	w := newWriter(OpCreateLoanProduct)
	w.u32(op.MaturityTime)
	w.u16(op.BaseTokenID)
	w.u16(op.TsbTokenID)
	return w.bytes()
}

func DecodeCreateLoanProduct(data []byte) (CreateLoanProduct, error) {
	r, err := newReader(data, OpCreateLoanProduct)
	if err != nil {
		return CreateLoanProduct{}, err
	}
	return CreateLoanProduct{MaturityTime: r.u32(), BaseTokenID: r.u16(), TsbTokenID: r.u16()}, nil
}

// UpdateLoan credits collateral and debt to a loan when a borrow order is
// matched on the rollup. Amounts are in system units.
type UpdateLoan struct {
	LoanID        types.LoanID
	CollateralAmt *uint256.Int
	DebtAmt       *uint256.Int
	MatchedTime   uint32
}

func (op UpdateLoan) OpType() OpType { return OpUpdateLoan }

func (op UpdateLoan) Encode() ([]byte, error) {
	w := newWriter(OpUpdateLoan)
	w.loanID(op.LoanID)
	w.amount(op.CollateralAmt)
	w.amount(op.DebtAmt)
	w.u32(op.MatchedTime)
	return w.bytes()
}

func DecodeUpdateLoan(data []byte) (UpdateLoan, error) {
	r, err := newReader(data, OpUpdateLoan)
	if err != nil {
		return UpdateLoan{}, err
	}
	return UpdateLoan{LoanID: r.loanID(), CollateralAmt: r.amount(), DebtAmt: r.amount(), MatchedTime: r.u32()}, nil
}

// RollBorrowOrder is the queued form of a roll borrow order. Amounts are in
// system units.
type RollBorrowOrder struct {
	LoanID               types.LoanID
	ExpiredTime          uint32
	AnnualPercentageRate uint32
	MaxCollateralAmt     *uint256.Int
	MaxBorrowAmt         *uint256.Int
	TsbTokenID           uint16
}

func (op RollBorrowOrder) OpType() OpType { return OpRollBorrowOrder }

func (op RollBorrowOrder) Encode() ([]byte, error) {
	w := newWriter(OpRollBorrowOrder)
	w.loanID(op.LoanID)
	w.u32(op.ExpiredTime)
	w.u32(op.AnnualPercentageRate)
	w.amount(op.MaxCollateralAmt)
	w.amount(op.MaxBorrowAmt)
	w.u16(op.TsbTokenID)
	return w.bytes()
}

func DecodeRollBorrowOrder(data []byte) (RollBorrowOrder, error) {
	r, err := newReader(data, OpRollBorrowOrder)
	if err != nil {
		return RollBorrowOrder{}, err
	}
	return RollBorrowOrder{
		LoanID:               r.loanID(),
		ExpiredTime:          r.u32(),
		AnnualPercentageRate: r.u32(),
		MaxCollateralAmt:     r.amount(),
		MaxBorrowAmt:         r.amount(),
		TsbTokenID:           r.u16(),
	}, nil
}

// RollOverEnd settles a matched roll borrow order: the old loan is debited by
// CollateralAmt and BorrowAmt, the new loan credited with CollateralAmt and
// DebtAmt.
type RollOverEnd struct {
	AccountID         uint32
	CollateralTokenID uint16
	CollateralAmt     *uint256.Int
	DebtTokenID       uint16
	OldMaturityTime   uint32
	NewMaturityTime   uint32
	DebtAmt           *uint256.Int
	MatchedTime       uint32
	BorrowAmt         *uint256.Int
}

func (op RollOverEnd) OpType() OpType { return OpRollOverEnd }

func (op RollOverEnd) OldLoanID() types.LoanID {
	return types.NewLoanID(op.AccountID, op.OldMaturityTime, op.DebtTokenID, op.CollateralTokenID)
}

func (op RollOverEnd) NewLoanID() types.LoanID {
	return types.NewLoanID(op.AccountID, op.NewMaturityTime, op.DebtTokenID, op.CollateralTokenID)
}

func (op RollOverEnd) Encode() ([]byte, error) {
	w := newWriter(OpRollOverEnd)
	w.u32(op.AccountID)
	w.u16(op.CollateralTokenID)
	w.amount(op.CollateralAmt)
	w.u16(op.DebtTokenID)
	w.u32(op.OldMaturityTime)
	w.u32(op.NewMaturityTime)
	w.amount(op.DebtAmt)
	w.u32(op.MatchedTime)
	w.amount(op.BorrowAmt)
	return w.bytes()
}

func DecodeRollOverEnd(data []byte) (RollOverEnd, error) {
	r, err := newReader(data, OpRollOverEnd)
	if err != nil {
		return RollOverEnd{}, err
	}
	return RollOverEnd{
		AccountID:         r.u32(),
		CollateralTokenID: r.u16(),
		CollateralAmt:     r.amount(),
		DebtTokenID:       r.u16(),
		OldMaturityTime:   r.u32(),
		NewMaturityTime:   r.u32(),
		DebtAmt:           r.amount(),
		MatchedTime:       r.u32(),
		BorrowAmt:         r.amount(),
	}, nil
}

// CancelRollBorrow is shared by the rollup-side cancellation and the owner
// and admin cancellation requests.
type CancelRollBorrow struct {
	Op     OpType
	LoanID types.LoanID
}

func (op CancelRollBorrow) OpType() OpType { return op.Op }

func (op CancelRollBorrow) Encode() ([]byte, error) {
	switch op.Op {
	case OpRollBorrowCancel, OpForceCancelRollBorrow, OpAdminCancelRollBorrow:
	default:
		return nil, ledgererr.ErrInvalidOpType
	}
	w := newWriter(op.Op)
	w.loanID(op.LoanID)
	return w.bytes()
}

func DecodeCancelRollBorrow(data []byte) (CancelRollBorrow, error) {
	t, err := Tag(data)
	if err != nil {
		return CancelRollBorrow{}, err
	}
	switch t {
	case OpRollBorrowCancel, OpForceCancelRollBorrow, OpAdminCancelRollBorrow:
	default:
		return CancelRollBorrow{}, ledgererr.ErrInvalidOpType
	}
	r, err := newReader(data, t)
	if err != nil {
		return CancelRollBorrow{}, err
	}
	return CancelRollBorrow{Op: t, LoanID: r.loanID()}, nil
}

// Op is implemented by every encodable operation.
type Op interface {
	OpType() OpType
	Encode() ([]byte, error)
}

// Decode parses a single operation by its leading tag.
func Decode(data []byte) (Op, error) {
	t, err := Tag(data)
	if err != nil {
		return nil, err
	}
	switch t {
	case OpRegister:
		return DecodeRegister(data)
	case OpDeposit, OpWithdraw, OpForceWithdraw:
		return DecodeTokenAmount(data)
	case OpTransfer:
		return DecodeTransfer(data)
	case OpCreateLoanProduct:
		return DecodeCreateLoanProduct(data)
	case OpUpdateLoan:
		return DecodeUpdateLoan(data)
	case OpRollBorrowOrder:
		return DecodeRollBorrowOrder(data)
	case OpRollOverEnd:
		return DecodeRollOverEnd(data)
	case OpRollBorrowCancel, OpForceCancelRollBorrow, OpAdminCancelRollBorrow:
		return DecodeCancelRollBorrow(data)
	}
	return nil, ledgererr.ErrInvalidOpType
}
