package fhe

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

type kind uint8

const (
	kindU8 kind = iota + 1
	kindU64
	kindBool
)

type slot struct {
	kind  kind
	value uint64
	acl   map[common.Address]struct{}
}

// MemoryEngine is an in-process substrate: plaintext-backed handles with an
// explicit ACL per handle. It preserves the capability semantics of the real
// coprocessor (fail-closed proofs, grant-gated decryption) without any
// cryptography, which is all the core's logic and tests depend on.
type MemoryEngine struct {
	mu    sync.Mutex
	next  Handle
	slots map[Handle]*slot
}

func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{slots: make(map[Handle]*slot)}
}

func (e *MemoryEngine) alloc(k kind, v uint64, owners []common.Address) Handle {
	e.next++
	s := &slot{kind: k, value: v, acl: make(map[common.Address]struct{})}
	for _, o := range owners {
		s.acl[o] = struct{}{}
	}
	e.slots[e.next] = s
	return e.next
}

func (e *MemoryEngine) EncryptU8(v uint8, owners ...common.Address) Euint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Euint8{h: e.alloc(kindU8, uint64(v), owners)}
}

func (e *MemoryEngine) EncryptU64(v uint64, owners ...common.Address) Euint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Euint64{h: e.alloc(kindU64, v, owners)}
}

func (e *MemoryEngine) EncryptBool(v bool, owners ...common.Address) Ebool {
	e.mu.Lock()
	defer e.mu.Unlock()
	var raw uint64
	if v {
		raw = 1
	}
	return Ebool{h: e.alloc(kindBool, raw, owners)}
}

// SealU8 produces the ciphertext/proof pair MemoryEngine accepts as an
// external input. Real deployments produce these with the coprocessor SDK.
func SealU8(v uint8, sender common.Address) (ciphertext, proof []byte) {
	ct := []byte{v}
	return ct, bindProof(ct, sender)
}

// SealU64 is the 64-bit variant of SealU8.
func SealU64(v uint64, sender common.Address) (ciphertext, proof []byte) {
	ct := make([]byte, 8)
	binary.BigEndian.PutUint64(ct, v)
	return ct, bindProof(ct, sender)
}

func bindProof(ciphertext []byte, sender common.Address) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(ciphertext)
	h.Write(sender.Bytes())
	return h.Sum(nil)
}

func proofValid(ciphertext, proof []byte, sender common.Address) bool {
	want := bindProof(ciphertext, sender)
	if len(proof) != len(want) {
		return false
	}
	var diff byte
	for i := range want {
		diff |= want[i] ^ proof[i]
	}
	return diff == 0
}

func (e *MemoryEngine) VerifyU8(ciphertext, proof []byte, sender common.Address) (Euint8, error) {
	if len(ciphertext) != 1 || !proofValid(ciphertext, proof, sender) {
		return Euint8{}, ErrInvalidProof
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Euint8{h: e.alloc(kindU8, uint64(ciphertext[0]), []common.Address{sender})}, nil
}

func (e *MemoryEngine) VerifyU64(ciphertext, proof []byte, sender common.Address) (Euint64, error) {
	if len(ciphertext) != 8 || !proofValid(ciphertext, proof, sender) {
		return Euint64{}, ErrInvalidProof
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	v := binary.BigEndian.Uint64(ciphertext)
	return Euint64{h: e.alloc(kindU64, v, []common.Address{sender})}, nil
}

func (e *MemoryEngine) load(h Handle, k kind) (uint64, error) {
	s, ok := e.slots[h]
	if !ok || s.kind != k {
		return 0, ErrUnknownHandle
	}
	return s.value, nil
}

func (e *MemoryEngine) AddU64(a, b Euint64) (Euint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, err := e.load(a.h, kindU64)
	if err != nil {
		return Euint64{}, err
	}
	bv, err := e.load(b.h, kindU64)
	if err != nil {
		return Euint64{}, err
	}
	return Euint64{h: e.alloc(kindU64, av+bv, nil)}, nil
}

func (e *MemoryEngine) SubU64(a, b Euint64) (Euint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, err := e.load(a.h, kindU64)
	if err != nil {
		return Euint64{}, err
	}
	bv, err := e.load(b.h, kindU64)
	if err != nil {
		return Euint64{}, err
	}
	return Euint64{h: e.alloc(kindU64, av-bv, nil)}, nil
}

func (e *MemoryEngine) LeU64(a, b Euint64) (Ebool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, err := e.load(a.h, kindU64)
	if err != nil {
		return Ebool{}, err
	}
	bv, err := e.load(b.h, kindU64)
	if err != nil {
		return Ebool{}, err
	}
	return Ebool{h: e.alloc(kindBool, boolWord(av <= bv), nil)}, nil
}

func (e *MemoryEngine) LeU8Scalar(a Euint8, max uint8) (Ebool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, err := e.load(a.h, kindU8)
	if err != nil {
		return Ebool{}, err
	}
	return Ebool{h: e.alloc(kindBool, boolWord(av <= uint64(max)), nil)}, nil
}

func (e *MemoryEngine) And(a, b Ebool) (Ebool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, err := e.load(a.h, kindBool)
	if err != nil {
		return Ebool{}, err
	}
	bv, err := e.load(b.h, kindBool)
	if err != nil {
		return Ebool{}, err
	}
	return Ebool{h: e.alloc(kindBool, av&bv, nil)}, nil
}

func (e *MemoryEngine) Or(a, b Ebool) (Ebool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, err := e.load(a.h, kindBool)
	if err != nil {
		return Ebool{}, err
	}
	bv, err := e.load(b.h, kindBool)
	if err != nil {
		return Ebool{}, err
	}
	return Ebool{h: e.alloc(kindBool, av|bv, nil)}, nil
}

func (e *MemoryEngine) Not(a Ebool) (Ebool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	av, err := e.load(a.h, kindBool)
	if err != nil {
		return Ebool{}, err
	}
	return Ebool{h: e.alloc(kindBool, av^1, nil)}, nil
}

func (e *MemoryEngine) SelectU64(cond Ebool, a, b Euint64) (Euint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cv, err := e.load(cond.h, kindBool)
	if err != nil {
		return Euint64{}, err
	}
	av, err := e.load(a.h, kindU64)
	if err != nil {
		return Euint64{}, err
	}
	bv, err := e.load(b.h, kindU64)
	if err != nil {
		return Euint64{}, err
	}
	out := bv
	if cv == 1 {
		out = av
	}
	return Euint64{h: e.alloc(kindU64, out, nil)}, nil
}

func (e *MemoryEngine) Allow(h Handle, grantee common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[h]
	if !ok {
		return ErrUnknownHandle
	}
	s.acl[grantee] = struct{}{}
	return nil
}

func (e *MemoryEngine) IsAllowed(h Handle, addr common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[h]
	if !ok {
		return false
	}
	_, allowed := s.acl[addr]
	return allowed
}

func (e *MemoryEngine) decrypt(h Handle, k kind, caller common.Address) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[h]
	if !ok || s.kind != k {
		return 0, ErrUnknownHandle
	}
	if _, allowed := s.acl[caller]; !allowed {
		return 0, ErrAccessDenied
	}
	return s.value, nil
}

func (e *MemoryEngine) DecryptU8(v Euint8, caller common.Address) (uint8, error) {
	raw, err := e.decrypt(v.h, kindU8, caller)
	return uint8(raw), err
}

func (e *MemoryEngine) DecryptU64(v Euint64, caller common.Address) (uint64, error) {
	return e.decrypt(v.h, kindU64, caller)
}

func (e *MemoryEngine) DecryptBool(v Ebool, caller common.Address) (bool, error) {
	raw, err := e.decrypt(v.h, kindBool, caller)
	return raw == 1, err
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

var _ Engine = (*MemoryEngine)(nil)
