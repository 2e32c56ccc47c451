// Package ledger holds encrypted balances and performs mint, one-time claim,
// and peer-to-peer transfer. Gating never uses native control flow over
// secret facts: predicates are composed homomorphically, the effective amount
// is selected branch-free, and the update is applied unconditionally, so
// failure paths leak nothing through errors, events, or call outcome.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"veil/internal/events"
	"veil/internal/fhe"
)

// ClaimAmount is the fixed grant paid out by ClaimOnce.
const ClaimAmount uint64 = 1_000

var (
	// ErrNotOwner is returned for owner-only operations.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotPendingOwner is returned when AcceptOwnership is called by anyone
	// but the nominated owner.
	ErrNotPendingOwner = errors.New("caller is not the pending owner")

	// ErrSelfTransfer is returned for transfers where sender and recipient
	// coincide. Structurally invalid requests fail loudly.
	ErrSelfTransfer = errors.New("self-transfer is not allowed")

	// ErrUnauthorizedHandle is returned when a caller presents a stored
	// ciphertext handle they hold no grant on.
	ErrUnauthorizedHandle = errors.New("caller has no grant on ciphertext handle")

	// ErrSupplyOverflow is returned when a mint would push the plaintext
	// supply counter past the balance word width.
	ErrSupplyOverflow = errors.New("total supply would overflow")
)

// Compliance is the slice of the compliance engine the ledger consumes. The
// ledger is whitelisted there so it can compel checks on both transfer
// parties.
type Compliance interface {
	CheckCompliance(ctx context.Context, caller, user common.Address) (fhe.Ebool, error)
}

type account struct {
	balance    fhe.Euint64
	hasClaimed fhe.Ebool
	allowances map[common.Address]fhe.Euint64
}

// Ledger is the confidential token ledger. Claims pay out of a pre-funded
// treasury balance held under the ledger's own address, so the plaintext
// supply counter never moves on the secret claim outcome and conservation
// holds under any interleaving.
type Ledger struct {
	mu sync.Mutex

	addr       common.Address
	fhe        fhe.Engine
	compliance Compliance
	recorder   events.Recorder
	logger     *slog.Logger

	owner        common.Address
	pendingOwner common.Address

	accounts    map[common.Address]*account
	totalSupply uint64

	// Shared encrypted constants, allocated once.
	zero     fhe.Euint64
	claimAmt fhe.Euint64
}

// New constructs a ledger. addr is the ledger's own substrate identity and
// doubles as the treasury account key.
func New(addr common.Address, engine fhe.Engine, compliance Compliance, recorder events.Recorder, owner common.Address, logger *slog.Logger) *Ledger {
	return &Ledger{
		addr:       addr,
		fhe:        engine,
		compliance: compliance,
		recorder:   recorder,
		logger:     logger,
		owner:      owner,
		accounts:   make(map[common.Address]*account),
		zero:       engine.EncryptU64(0, addr),
		claimAmt:   engine.EncryptU64(ClaimAmount, addr),
	}
}

func (l *Ledger) getOrCreate(user common.Address) *account {
	acct, ok := l.accounts[user]
	if !ok {
		acct = &account{
			balance:    l.fhe.EncryptU64(0, user, l.addr),
			hasClaimed: l.fhe.EncryptBool(false, user, l.addr),
			allowances: make(map[common.Address]fhe.Euint64),
		}
		l.accounts[user] = acct
	}
	return acct
}

// ClaimOnce grants ClaimAmount at most once per address. The decision
// (caller compliant, not yet claimed, treasury funded) is taken entirely on
// encrypted predicates; the call succeeds either way and the state update is
// a functional no-op when the permit is false.
func (l *Ledger) ClaimOnce(ctx context.Context, caller common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	compliant, err := l.compliance.CheckCompliance(ctx, l.addr, caller)
	if err != nil {
		return false, err
	}

	acct := l.getOrCreate(caller)
	treasury := l.getOrCreate(l.addr)

	notClaimed, err := l.fhe.Not(acct.hasClaimed)
	if err != nil {
		return false, err
	}
	funded, err := l.fhe.LeU64(l.claimAmt, treasury.balance)
	if err != nil {
		return false, err
	}
	permit, err := l.fhe.And(compliant, notClaimed)
	if err != nil {
		return false, err
	}
	permit, err = l.fhe.And(permit, funded)
	if err != nil {
		return false, err
	}

	eff, err := l.fhe.SelectU64(permit, l.claimAmt, l.zero)
	if err != nil {
		return false, err
	}
	if treasury.balance, err = l.fhe.SubU64(treasury.balance, eff); err != nil {
		return false, err
	}
	if acct.balance, err = l.fhe.AddU64(acct.balance, eff); err != nil {
		return false, err
	}
	if acct.hasClaimed, err = l.fhe.Or(acct.hasClaimed, permit); err != nil {
		return false, err
	}

	if err := l.regrant(acct, caller); err != nil {
		return false, err
	}
	if err := l.regrant(treasury, l.addr); err != nil {
		return false, err
	}

	l.emit(ctx, events.Event{Type: events.TypeClaim, Actor: caller, Subject: caller})
	return true, nil
}

// Transfer moves an externally supplied encrypted amount from the caller to
// recipient. Structural failures (self-transfer, bad proof) abort loudly;
// compliance and balance failures resolve silently to a zero-effect update.
func (l *Ledger) Transfer(ctx context.Context, caller, to common.Address, encAmount, proof []byte) (bool, error) {
	if caller == to {
		return false, ErrSelfTransfer
	}
	amount, err := l.fhe.VerifyU64(encAmount, proof, caller)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(ctx, caller, caller, to, amount, nil)
}

// TransferHandle is the variant accepting an already-verified ciphertext
// handle. The caller must hold a grant on it.
func (l *Ledger) TransferHandle(ctx context.Context, caller, to common.Address, amount fhe.Euint64) (bool, error) {
	if caller == to {
		return false, ErrSelfTransfer
	}
	if !l.fhe.IsAllowed(amount.Handle(), caller) {
		return false, ErrUnauthorizedHandle
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(ctx, caller, caller, to, amount, nil)
}

// Approve stores an encrypted allowance for spender. The previous allowance
// is overwritten.
func (l *Ledger) Approve(ctx context.Context, caller, spender common.Address, encAmount, proof []byte) (bool, error) {
	amount, err := l.fhe.VerifyU64(encAmount, proof, caller)
	if err != nil {
		return false, err
	}
	if err := l.fhe.Allow(amount.Handle(), spender); err != nil {
		return false, err
	}
	if err := l.fhe.Allow(amount.Handle(), l.addr); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.getOrCreate(caller).allowances[spender] = amount
	return true, nil
}

// TransferFrom moves an encrypted amount from `from` to `to` on the caller's
// allowance. An absent or insufficient allowance is a policy failure and
// resolves silently, exactly like insufficient balance.
func (l *Ledger) TransferFrom(ctx context.Context, caller, from, to common.Address, encAmount, proof []byte) (bool, error) {
	if from == to {
		return false, ErrSelfTransfer
	}
	amount, err := l.fhe.VerifyU64(encAmount, proof, caller)
	if err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fromAcct := l.getOrCreate(from)
	allowance, ok := fromAcct.allowances[caller]
	if !ok {
		allowance = l.zero
	}
	return l.move(ctx, caller, from, to, amount, &allowance)
}

// move is the shared branch-free update: compose the permit, select the
// effective amount, apply it to both balances by equal and opposite deltas,
// re-grant, emit. allowance, when non-nil, joins the permit and is reduced by
// the same selected amount.
func (l *Ledger) move(ctx context.Context, caller, from, to common.Address, amount fhe.Euint64, allowance *fhe.Euint64) (bool, error) {
	senderOK, err := l.compliance.CheckCompliance(ctx, l.addr, from)
	if err != nil {
		return false, err
	}
	recipientOK, err := l.compliance.CheckCompliance(ctx, l.addr, to)
	if err != nil {
		return false, err
	}

	fromAcct := l.getOrCreate(from)
	toAcct := l.getOrCreate(to)

	hasFunds, err := l.fhe.LeU64(amount, fromAcct.balance)
	if err != nil {
		return false, err
	}
	permit, err := l.fhe.And(senderOK, recipientOK)
	if err != nil {
		return false, err
	}
	if permit, err = l.fhe.And(permit, hasFunds); err != nil {
		return false, err
	}
	if allowance != nil {
		within, err := l.fhe.LeU64(amount, *allowance)
		if err != nil {
			return false, err
		}
		if permit, err = l.fhe.And(permit, within); err != nil {
			return false, err
		}
	}

	eff, err := l.fhe.SelectU64(permit, amount, l.zero)
	if err != nil {
		return false, err
	}
	if fromAcct.balance, err = l.fhe.SubU64(fromAcct.balance, eff); err != nil {
		return false, err
	}
	if toAcct.balance, err = l.fhe.AddU64(toAcct.balance, eff); err != nil {
		return false, err
	}
	if allowance != nil {
		next, err := l.fhe.SubU64(*allowance, eff)
		if err != nil {
			return false, err
		}
		if err := l.fhe.Allow(next.Handle(), caller); err != nil {
			return false, err
		}
		if err := l.fhe.Allow(next.Handle(), l.addr); err != nil {
			return false, err
		}
		fromAcct.allowances[caller] = next
	}

	if err := l.regrant(fromAcct, from); err != nil {
		return false, err
	}
	if err := l.regrant(toAcct, to); err != nil {
		return false, err
	}

	// Emitted unconditionally, participants only: the event carries no signal
	// about whether the effective amount was the request or zero.
	l.emit(ctx, events.Event{Type: events.TypeTransfer, Actor: from, Subject: to})
	return true, nil
}

// Mint is an owner-only plaintext-amount operation bypassing compliance,
// used for controlled seeding.
func (l *Ledger) Mint(ctx context.Context, caller, to common.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}
	if amount > math.MaxUint64-l.totalSupply {
		return ErrSupplyOverflow
	}

	acct := l.getOrCreate(to)
	delta := l.fhe.EncryptU64(amount)
	var err error
	if acct.balance, err = l.fhe.AddU64(acct.balance, delta); err != nil {
		return err
	}
	if err := l.regrant(acct, to); err != nil {
		return err
	}
	l.totalSupply += amount

	l.emit(ctx, events.Event{Type: events.TypeMint, Actor: caller, Subject: to, Amount: amount})
	return nil
}

// FundTreasury seeds the claim reserve. Sugar over Mint targeting the
// ledger's own account.
func (l *Ledger) FundTreasury(ctx context.Context, caller common.Address, amount uint64) error {
	return l.Mint(ctx, caller, l.addr, amount)
}

// BalanceOf returns the encrypted balance handle for user. The uninitialized
// sentinel means the account has never been touched.
func (l *Ledger) BalanceOf(user common.Address) fhe.Euint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[user]; ok {
		return acct.balance
	}
	return fhe.Euint64{}
}

// HasClaimed returns the encrypted claim flag for user.
func (l *Ledger) HasClaimed(user common.Address) fhe.Ebool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[user]; ok {
		return acct.hasClaimed
	}
	return fhe.Ebool{}
}

// Allowance returns the encrypted allowance from owner to spender.
func (l *Ledger) Allowance(owner, spender common.Address) fhe.Euint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[owner]; ok {
		return acct.allowances[spender]
	}
	return fhe.Euint64{}
}

// TotalSupply is the plaintext accounting counter: the sum of all encrypted
// balances, treasury included.
func (l *Ledger) TotalSupply() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSupply
}

// Address is the ledger's substrate identity (and treasury key).
func (l *Ledger) Address() common.Address {
	return l.addr
}

// TransferOwnership nominates a new owner pending acceptance.
func (l *Ledger) TransferOwnership(caller, newOwner common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.owner {
		return ErrNotOwner
	}
	l.pendingOwner = newOwner
	return nil
}

// AcceptOwnership completes a two-step ownership transfer.
func (l *Ledger) AcceptOwnership(caller common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if caller != l.pendingOwner || caller == (common.Address{}) {
		return ErrNotPendingOwner
	}
	l.owner = caller
	l.pendingOwner = common.Address{}
	return nil
}

// regrant restores decrypt permission for the balance owner after a
// mutation: every homomorphic op yields a fresh handle with no grants.
func (l *Ledger) regrant(acct *account, holder common.Address) error {
	if err := l.fhe.Allow(acct.balance.Handle(), holder); err != nil {
		return err
	}
	if err := l.fhe.Allow(acct.balance.Handle(), l.addr); err != nil {
		return err
	}
	if acct.hasClaimed.Initialized() {
		if err := l.fhe.Allow(acct.hasClaimed.Handle(), holder); err != nil {
			return err
		}
		if err := l.fhe.Allow(acct.hasClaimed.Handle(), l.addr); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) emit(ctx context.Context, event events.Event) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Record(ctx, event); err != nil {
		l.logger.Error("event emission failed", "type", event.Type, "error", err)
	}
}
