package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"veil/internal/kyc"
	"veil/pkg/sentinel"
)

// MemoryStore keeps login nonces in memory. Single-use enforcement happens
// under one mutex so concurrent logins with the same nonce race to exactly
// one winner.
type MemoryStore struct {
	mu     sync.Mutex
	nonces map[string]kyc.Nonce
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nonces: make(map[string]kyc.Nonce), now: time.Now}
}

func (s *MemoryStore) Save(_ context.Context, nonce kyc.Nonce) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nonces[nonce.Value] = nonce
	return nil
}

func (s *MemoryStore) Consume(_ context.Context, value string, wallet common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, ok := s.nonces[value]
	if !ok || nonce.WalletAddress != wallet {
		return sentinel.ErrNotFound
	}
	if nonce.Used {
		return sentinel.ErrAlreadyUsed
	}
	if nonce.Expired(s.now()) {
		return sentinel.ErrExpired
	}

	nonce.Used = true
	s.nonces[value] = nonce
	return nil
}
