// Package identity owns per-address encrypted attributes and the global
// name-uniqueness index. Birth years are stored encrypted; names only as
// hashes, so duplicate detection needs no coordination with the substrate.
package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"veil/internal/events"
	"veil/internal/fhe"
	"veil/pkg/sentinel"
)

// Record is the identity state for one address.
type Record struct {
	BirthYearOffset fhe.Euint8
	NameHash        common.Hash
	AttestedAt      time.Time
}

// Attested reports whether the record stems from a real attestation.
func (r Record) Attested() bool {
	return !r.AttestedAt.IsZero()
}

type verificationKey struct {
	user   common.Address
	minAge uint8
}

// Registry maps addresses to encrypted identity records. All mutations run
// under one mutex so the duplicate check and the reverse-index update are a
// single atomic step: two attestations racing on the same name hash resolve
// to first-writer-wins.
type Registry struct {
	mu sync.Mutex

	engine   fhe.Engine
	recorder events.Recorder
	logger   *slog.Logger
	clock    Clock

	owner        common.Address
	pendingOwner common.Address
	registrars   map[common.Address]bool

	records       map[common.Address]Record
	nameIndex     map[common.Hash]common.Address
	verifications map[verificationKey]fhe.Ebool
}

// NewRegistry constructs a registry. The owner starts as the sole registrar.
func NewRegistry(engine fhe.Engine, recorder events.Recorder, clock Clock, owner common.Address, logger *slog.Logger) *Registry {
	return &Registry{
		engine:        engine,
		recorder:      recorder,
		logger:        logger,
		clock:         clock,
		owner:         owner,
		registrars:    map[common.Address]bool{owner: true},
		records:       make(map[common.Address]Record),
		nameIndex:     make(map[common.Hash]common.Address),
		verifications: make(map[verificationKey]fhe.Ebool),
	}
}

// Attest records a verified encrypted birth-year offset and claimed-unique
// name hash for user. Re-attesting the same address replaces both attributes
// and releases the previously held name hash.
func (r *Registry) Attest(ctx context.Context, caller, user common.Address, encOffset, proof []byte, nameHash common.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registrars[caller] {
		return ErrNotRegistrar
	}
	if holder, taken := r.nameIndex[nameHash]; taken && holder != user {
		return ErrDuplicateName
	}

	offset, err := r.engine.VerifyU8(encOffset, proof, caller)
	if err != nil {
		return err
	}
	if err := r.engine.Allow(offset.Handle(), user); err != nil {
		return err
	}

	if prior, ok := r.records[user]; ok && prior.NameHash != nameHash {
		delete(r.nameIndex, prior.NameHash)
	}

	r.records[user] = Record{
		BirthYearOffset: offset,
		NameHash:        nameHash,
		AttestedAt:      time.Now(),
	}
	r.nameIndex[nameHash] = user

	r.emit(ctx, events.Event{Type: events.TypeAttestationAdded, Actor: caller, Subject: user})
	return nil
}

// IsAttested is a plaintext predicate, free to call by anyone.
func (r *Registry) IsAttested(user common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[user].Attested()
}

// IsAtLeastAge computes the encrypted verdict "user is at least minAge years
// old" and grants the caller decrypt permission on it. The result is also
// cached under (user, minAge) for later retrieval via VerificationResult.
// The caller need not be the user: a compliance component may query and read
// on its own authority.
func (r *Registry) IsAtLeastAge(ctx context.Context, caller, user common.Address, minAge uint8) (fhe.Ebool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[user]
	if !ok {
		return fhe.Ebool{}, ErrNotAttested
	}

	current := r.clock.YearOffset()
	var verdict fhe.Ebool
	var err error
	if minAge > current {
		// The qualifying birth year predates the epoch; no representable
		// offset can clear the threshold.
		verdict = r.engine.EncryptBool(false)
	} else {
		verdict, err = r.engine.LeU8Scalar(record.BirthYearOffset, current-minAge)
		if err != nil {
			return fhe.Ebool{}, err
		}
	}
	if err := r.engine.Allow(verdict.Handle(), caller); err != nil {
		return fhe.Ebool{}, err
	}

	r.verifications[verificationKey{user: user, minAge: minAge}] = verdict
	return verdict, nil
}

// VerificationResult returns the cached verdict from the last IsAtLeastAge
// call for (user, minAge). It is a convenience accessor, never consulted to
// gate new computation.
func (r *Registry) VerificationResult(caller, user common.Address, minAge uint8) (fhe.Ebool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	verdict, ok := r.verifications[verificationKey{user: user, minAge: minAge}]
	if !ok {
		return fhe.Ebool{}, sentinel.ErrNotFound
	}
	if !r.engine.IsAllowed(verdict.Handle(), caller) {
		return fhe.Ebool{}, fhe.ErrAccessDenied
	}
	return verdict, nil
}

// Revoke clears user's record and releases the uniqueness-index slot.
func (r *Registry) Revoke(ctx context.Context, caller, user common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.registrars[caller] {
		return ErrNotRegistrar
	}
	record, ok := r.records[user]
	if !ok {
		return ErrNotAttested
	}

	delete(r.records, user)
	delete(r.nameIndex, record.NameHash)

	r.emit(ctx, events.Event{Type: events.TypeAttestationRemoved, Actor: caller, Subject: user})
	return nil
}

// GrantAccessTo lets an attested caller extend decrypt permission on their
// own encrypted attribute to grantee.
func (r *Registry) GrantAccessTo(_ context.Context, caller, grantee common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[caller]
	if !ok {
		return ErrNotAttested
	}
	return r.engine.Allow(record.BirthYearOffset.Handle(), grantee)
}

// AddRegistrar puts addr on the registrar allow-list.
func (r *Registry) AddRegistrar(caller, addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrNotOwner
	}
	r.registrars[addr] = true
	return nil
}

// RemoveRegistrar removes addr from the registrar allow-list.
func (r *Registry) RemoveRegistrar(caller, addr common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrNotOwner
	}
	delete(r.registrars, addr)
	return nil
}

// TransferOwnership nominates a new owner; the transfer completes only when
// the nominee accepts.
func (r *Registry) TransferOwnership(caller, newOwner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return ErrNotOwner
	}
	r.pendingOwner = newOwner
	return nil
}

// AcceptOwnership completes a two-step ownership transfer.
func (r *Registry) AcceptOwnership(caller common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.pendingOwner || caller == (common.Address{}) {
		return ErrNotPendingOwner
	}
	r.owner = caller
	r.pendingOwner = common.Address{}
	return nil
}

func (r *Registry) emit(ctx context.Context, event events.Event) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(ctx, event); err != nil {
		r.logger.Error("event emission failed", "type", event.Type, "error", err)
	}
}
