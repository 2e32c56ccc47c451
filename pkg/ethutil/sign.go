// Package ethutil holds signature helpers for wallet login: EIP-191 personal
// message hashing and address recovery.
package ethutil

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature cannot be recovered or
// does not match the expected length.
var ErrInvalidSignature = errors.New("invalid signature")

// PersonalMessageHash applies the EIP-191 personal-message prefix before
// hashing, matching what wallets sign with personal_sign.
func PersonalMessageHash(message []byte) common.Hash {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256Hash([]byte(prefixed))
}

// RecoverAddress recovers the signing address of a personal-signed message.
// Both recovery-id conventions (0/1 and 27/28) are accepted.
func RecoverAddress(message, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	hash := PersonalMessageHash(message)
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that signature over message recovers expected.
func Verify(message, signature []byte, expected common.Address) error {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return err
	}
	if recovered != expected {
		return ErrInvalidSignature
	}
	return nil
}
