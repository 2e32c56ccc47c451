// Package events carries the ledger-facing event surface. Core components
// emit through Recorder; sinks (memory, watermill bus, kafka, postgres) fan
// the events out. Transfer and claim events deliberately omit amounts.
package events

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Type names an event on the core surface.
type Type string

const (
	TypeAttestationAdded   Type = "attestation_added"
	TypeAttestationRemoved Type = "attestation_removed"
	TypeComplianceChecked  Type = "compliance_checked"
	TypeTransfer           Type = "transfer"
	TypeClaim              Type = "claim"
	TypeMint               Type = "mint"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Type      Type
	Timestamp time.Time

	// Actor is the caller that triggered the mutation.
	Actor common.Address
	// Subject is the address the mutation concerns (attested user, transfer
	// recipient, mint target).
	Subject common.Address

	// Amount is populated only for mint, where it is plaintext. Transfer and
	// claim events never carry an amount: the effective amount is secret.
	Amount uint64
}

// Recorder accepts events from the core. Implementations must not let sink
// failures feed back into ledger control flow; emission is unconditional.
type Recorder interface {
	Record(ctx context.Context, event Event) error
}

// Store persists events for later inspection.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject common.Address) ([]Event, error)
}

// Publisher writes events to a store, stamping missing timestamps. It mirrors
// the append-only publisher shape used for audit trails.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Record(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.store.Append(ctx, event)
}

// Fanout records to several recorders, returning the first error after
// attempting all of them.
type Fanout []Recorder

func (f Fanout) Record(ctx context.Context, event Event) error {
	var firstErr error
	for _, r := range f {
		if err := r.Record(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
