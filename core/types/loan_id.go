package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// LoanIDLength is the packed width of a loan identifier.
const LoanIDLength = 12

// LoanID packs accountID(4) | maturityTime(4) | debtTokenID(2) | collateralTokenID(2).
type LoanID [LoanIDLength]byte

// NewLoanID derives the identifier of the loan owned by accountID for the
// given maturity and token pair.
func NewLoanID(accountID, maturityTime uint32, debtTokenID, collateralTokenID uint16) LoanID {
	var id LoanID
	binary.BigEndian.PutUint32(id[0:4], accountID)
	binary.BigEndian.PutUint32(id[4:8], maturityTime)
	binary.BigEndian.PutUint16(id[8:10], debtTokenID)
	binary.BigEndian.PutUint16(id[10:12], collateralTokenID)
	return id
}

func (id LoanID) AccountID() uint32         { return binary.BigEndian.Uint32(id[0:4]) }
func (id LoanID) MaturityTime() uint32      { return binary.BigEndian.Uint32(id[4:8]) }
func (id LoanID) DebtTokenID() uint16       { return binary.BigEndian.Uint16(id[8:10]) }
func (id LoanID) CollateralTokenID() uint16 { return binary.BigEndian.Uint16(id[10:12]) }

func (id LoanID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// ParseLoanID decodes a hex encoded identifier with an optional 0x prefix.
func ParseLoanID(s string) (LoanID, error) {
	var id LoanID
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("loan id: %w", err)
	}
	if len(raw) != LoanIDLength {
		return id, fmt.Errorf("loan id: expected %d bytes, got %d", LoanIDLength, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func (id LoanID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *LoanID) UnmarshalText(text []byte) error {
	parsed, err := ParseLoanID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
