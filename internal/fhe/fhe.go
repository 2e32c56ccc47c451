// Package fhe is the boundary to the encrypted-value substrate: opaque
// ciphertext handles, homomorphic arithmetic and selection, and per-address
// decrypt grants. The package does not implement real homomorphic encryption;
// deployments bind a coprocessor behind the Engine interface, and MemoryEngine
// backs tests and local runs.
package fhe

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// Handle identifies a ciphertext held by the substrate. The zero Handle is the
// uninitialized sentinel and is distinct from an encrypted zero.
type Handle uint64

// Euint8 is a handle to an encrypted 8-bit unsigned integer.
type Euint8 struct {
	h Handle
}

// Euint64 is a handle to an encrypted 64-bit unsigned integer.
type Euint64 struct {
	h Handle
}

// Ebool is a handle to an encrypted boolean.
type Ebool struct {
	h Handle
}

func (e Euint8) Handle() Handle  { return e.h }
func (e Euint64) Handle() Handle { return e.h }
func (e Ebool) Handle() Handle   { return e.h }

// Initialized reports whether the value refers to an actual ciphertext.
func (e Euint8) Initialized() bool  { return e.h != 0 }
func (e Euint64) Initialized() bool { return e.h != 0 }
func (e Ebool) Initialized() bool   { return e.h != 0 }

var (
	// ErrInvalidProof is returned when an external ciphertext's proof does not
	// bind it to the presenting sender.
	ErrInvalidProof = errors.New("invalid ciphertext proof")

	// ErrAccessDenied is returned when a caller without a decrypt grant asks
	// for a plaintext.
	ErrAccessDenied = errors.New("access denied")

	// ErrUnknownHandle is returned for operations on handles the substrate
	// does not hold, including the uninitialized sentinel.
	ErrUnknownHandle = errors.New("unknown ciphertext handle")
)

// Engine is the capability surface the core requires from the substrate.
// Every returned value is a fresh handle with an empty grant set; callers
// extend grants explicitly via Allow.
type Engine interface {
	// Trusted encryption, used by components that already hold the plaintext
	// (constants, registrar-supplied attributes in local runs).
	EncryptU8(v uint8, owners ...common.Address) Euint8
	EncryptU64(v uint64, owners ...common.Address) Euint64
	EncryptBool(v bool, owners ...common.Address) Ebool

	// External inputs. The proof must bind the ciphertext to sender; the
	// conversion fails closed with ErrInvalidProof otherwise.
	VerifyU8(ciphertext, proof []byte, sender common.Address) (Euint8, error)
	VerifyU64(ciphertext, proof []byte, sender common.Address) (Euint64, error)

	// Arithmetic and comparison. U64 arithmetic is modular in the word width.
	AddU64(a, b Euint64) (Euint64, error)
	SubU64(a, b Euint64) (Euint64, error)
	LeU64(a, b Euint64) (Ebool, error)
	LeU8Scalar(a Euint8, max uint8) (Ebool, error)

	// Boolean composition and branch-free selection.
	And(a, b Ebool) (Ebool, error)
	Or(a, b Ebool) (Ebool, error)
	Not(a Ebool) (Ebool, error)
	SelectU64(cond Ebool, a, b Euint64) (Euint64, error)

	// Capability model.
	Allow(h Handle, grantee common.Address) error
	IsAllowed(h Handle, addr common.Address) bool

	// Decryption happens off the core: a holder presents their own grant.
	DecryptU8(v Euint8, caller common.Address) (uint8, error)
	DecryptU64(v Euint64, caller common.Address) (uint64, error)
	DecryptBool(v Ebool, caller common.Address) (bool, error)
}
