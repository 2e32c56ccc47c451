// Package compliance composes identity predicates into a single encrypted
// yes/no verdict per address. The verdict is cached for retrieval but never
// trusted for gating: every check recomputes from current registry state.
package compliance

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"veil/internal/events"
	"veil/internal/fhe"
	"veil/pkg/sentinel"
)

// MinAge is the single gating age threshold for compliance.
const MinAge = 18

var (
	// ErrCallerNotAuthorized is returned when a caller that is neither the
	// subject nor on the authorized-caller list compels a check.
	ErrCallerNotAuthorized = errors.New("caller not authorized for compliance checks")

	// ErrAccessProhibited is returned when a cache reader holds no decrypt
	// grant on the stored verdict.
	ErrAccessProhibited = errors.New("no decrypt grant on compliance result")

	// ErrNotOwner is returned for owner-only operations.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotPendingOwner is returned when AcceptOwnership is called by anyone
	// but the nominated owner.
	ErrNotPendingOwner = errors.New("caller is not the pending owner")
)

// AgeVerifier is the slice of the identity registry the engine consumes.
type AgeVerifier interface {
	IsAttested(user common.Address) bool
	IsAtLeastAge(ctx context.Context, caller, user common.Address, minAge uint8) (fhe.Ebool, error)
}

// Engine evaluates and caches encrypted compliance verdicts.
type Engine struct {
	mu sync.Mutex

	// addr identifies the engine toward the substrate and the registry, so
	// the registry can grant it decrypt permission on age verdicts.
	addr     common.Address
	fhe      fhe.Engine
	registry AgeVerifier
	recorder events.Recorder
	logger   *slog.Logger

	owner        common.Address
	pendingOwner common.Address
	authorized   map[common.Address]bool

	cache map[common.Address]fhe.Ebool
}

func NewEngine(addr common.Address, engine fhe.Engine, registry AgeVerifier, recorder events.Recorder, owner common.Address, logger *slog.Logger) *Engine {
	return &Engine{
		addr:       addr,
		fhe:        engine,
		registry:   registry,
		recorder:   recorder,
		logger:     logger,
		owner:      owner,
		authorized: make(map[common.Address]bool),
		cache:      make(map[common.Address]fhe.Ebool),
	}
}

// CheckCompliance computes the encrypted verdict for user and grants the
// caller decrypt permission on it. Callable by the user themself or an
// authorized caller. An unattested user yields an encrypted false rather than
// an error, so the caller learns only that compliance failed, never the
// on-chain attestation status.
func (e *Engine) CheckCompliance(ctx context.Context, caller, user common.Address) (fhe.Ebool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != user && !e.authorized[caller] {
		return fhe.Ebool{}, ErrCallerNotAuthorized
	}

	var verdict fhe.Ebool
	if !e.registry.IsAttested(user) {
		verdict = e.fhe.EncryptBool(false, e.addr)
	} else {
		var err error
		verdict, err = e.registry.IsAtLeastAge(ctx, e.addr, user, MinAge)
		if err != nil {
			return fhe.Ebool{}, err
		}
	}
	if err := e.fhe.Allow(verdict.Handle(), caller); err != nil {
		return fhe.Ebool{}, err
	}

	e.cache[user] = verdict
	e.emit(ctx, events.Event{Type: events.TypeComplianceChecked, Actor: caller, Subject: user})
	return verdict, nil
}

// ComplianceResult reads the cached verdict from the last check for user.
func (e *Engine) ComplianceResult(caller, user common.Address) (fhe.Ebool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	verdict, ok := e.cache[user]
	if !ok {
		return fhe.Ebool{}, sentinel.ErrNotFound
	}
	if !e.fhe.IsAllowed(verdict.Handle(), caller) {
		return fhe.Ebool{}, ErrAccessProhibited
	}
	return verdict, nil
}

// AuthorizeCaller whitelists addr to compel compliance checks on arbitrary
// subjects. This is how the ledger gets to check sender and recipient at
// transfer time without their consent.
func (e *Engine) AuthorizeCaller(caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	e.authorized[addr] = true
	return nil
}

// RevokeCaller removes addr from the authorized-caller list.
func (e *Engine) RevokeCaller(caller, addr common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	delete(e.authorized, addr)
	return nil
}

// TransferOwnership nominates a new owner pending acceptance.
func (e *Engine) TransferOwnership(caller, newOwner common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.owner {
		return ErrNotOwner
	}
	e.pendingOwner = newOwner
	return nil
}

// AcceptOwnership completes a two-step ownership transfer.
func (e *Engine) AcceptOwnership(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if caller != e.pendingOwner || caller == (common.Address{}) {
		return ErrNotPendingOwner
	}
	e.owner = caller
	e.pendingOwner = common.Address{}
	return nil
}

func (e *Engine) emit(ctx context.Context, event events.Event) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.Record(ctx, event); err != nil {
		e.logger.Error("event emission failed", "type", event.Type, "error", err)
	}
}
