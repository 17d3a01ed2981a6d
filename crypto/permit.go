package crypto

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var errInvalidSignatureLength = errors.New("crypto: signature must be 65 bytes")

const removeCollateralTag = "RemoveCollateral"

// RemoveCollateralDigest is the message an owner signs to let a relayer
// withdraw collateral on their behalf.
func RemoveCollateralDigest(owner common.Address, loanID [12]byte, amount *uint256.Int, nonce, deadline uint64) common.Hash {
	if amount == nil {
		amount = new(uint256.Int)
	}
	amt := amount.Bytes32()
	var nums [16]byte
	binary.BigEndian.PutUint64(nums[0:8], nonce)
	binary.BigEndian.PutUint64(nums[8:16], deadline)
	return crypto.Keccak256Hash(
		[]byte(removeCollateralTag),
		owner.Bytes(),
		loanID[:],
		amt[:],
		nums[:],
	)
}

// RecoverSigner returns the address that produced sig over digest. Both 0/1
// and 27/28 recovery ids are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errInvalidSignatureLength
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
