package kyc

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Status is the verification session state. Transitions are one-way:
// CREATED moves to VERIFIED or FAILED exactly once; terminal states absorb
// replayed updates without error.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusVerified Status = "VERIFIED"
	StatusFailed   Status = "FAILED"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed
}

// Session tracks one hosted verification attempt for a wallet.
type Session struct {
	ID                uuid.UUID
	WalletAddress     common.Address
	ExternalSessionID string
	Status            Status
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Nonce is a single-use, address-scoped, time-boxed login challenge.
type Nonce struct {
	Value         string
	WalletAddress common.Address
	ExpiresAt     time.Time
	Used          bool
}

// Expired reports whether the nonce is past its deadline at now.
func (n Nonce) Expired(now time.Time) bool {
	return now.After(n.ExpiresAt)
}
