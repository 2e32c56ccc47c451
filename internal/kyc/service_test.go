package kyc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"veil/internal/fhe"
	"veil/internal/identity"
	"veil/internal/kyc/provider"
	"veil/internal/platform/config"
	"veil/internal/platform/logger"
	"veil/pkg/ethutil"
	"veil/pkg/sentinel"
)

var registrarAddr = common.HexToAddress("0x00000000000000000000000000000000000000f1")

// In-memory fakes for the store interfaces. Generated mocks would add a
// toolchain step for what two maps express directly.

type fakeNonces struct {
	mu     sync.Mutex
	nonces map[string]Nonce
}

func newFakeNonces() *fakeNonces { return &fakeNonces{nonces: make(map[string]Nonce)} }

func (f *fakeNonces) Save(_ context.Context, nonce Nonce) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces[nonce.Value] = nonce
	return nil
}

func (f *fakeNonces) Consume(_ context.Context, value string, wallet common.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	nonce, ok := f.nonces[value]
	if !ok || nonce.WalletAddress != wallet {
		return sentinel.ErrNotFound
	}
	if nonce.Used {
		return sentinel.ErrAlreadyUsed
	}
	nonce.Used = true
	f.nonces[value] = nonce
	return nil
}

type fakeSessions struct {
	mu         sync.Mutex
	byID       map[uuid.UUID]Session
	byExternal map[string]uuid.UUID
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byID: make(map[uuid.UUID]Session), byExternal: make(map[string]uuid.UUID)}
}

func (f *fakeSessions) Save(_ context.Context, session Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID[session.ID] = session
	f.byExternal[session.ExternalSessionID] = session.ID
	return nil
}

func (f *fakeSessions) FindByID(_ context.Context, id uuid.UUID) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.byID[id]
	if !ok {
		return Session{}, sentinel.ErrNotFound
	}
	return session, nil
}

func (f *fakeSessions) FindByExternalID(_ context.Context, externalID string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byExternal[externalID]
	if !ok {
		return Session{}, sentinel.ErrNotFound
	}
	return f.byID[id], nil
}

func (f *fakeSessions) Transition(_ context.Context, externalID string, to Status, at time.Time) (Session, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byExternal[externalID]
	if !ok {
		return Session{}, false, sentinel.ErrNotFound
	}
	session := f.byID[id]
	if session.Status.Terminal() {
		return session, false, nil
	}
	session.Status = to
	session.UpdatedAt = at
	f.byID[id] = session
	return session, true, nil
}

type stubProvider struct {
	created provider.CreatedSession
	err     error
	calls   int
}

func (p *stubProvider) CreateSession(context.Context, common.Address) (provider.CreatedSession, error) {
	p.calls++
	if p.err != nil {
		return provider.CreatedSession{}, p.err
	}
	return p.created, nil
}

type recordingAttester struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (a *recordingAttester) Attest(context.Context, common.Address, common.Address, []byte, []byte, common.Hash) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	return a.err
}

type fixture struct {
	svc      *Service
	nonces   *fakeNonces
	sessions *fakeSessions
	provider *stubProvider
	attester *recordingAttester
	secret   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		nonces:   newFakeNonces(),
		sessions: newFakeSessions(),
		provider: &stubProvider{created: provider.CreatedSession{ExternalID: "ext-1", SessionURL: "https://verify.example/s/ext-1"}},
		attester: &recordingAttester{},
		secret:   "webhook-secret",
	}
	cfg := config.Server{JWTSigningKey: "signing-key", WebhookSecret: f.secret}
	f.svc = NewService(f.nonces, f.sessions, f.provider, f.attester, fhe.SealU8, registrarAddr, cfg, logger.Discard(), nil)
	return f
}

func newWallet(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func login(t *testing.T, f *fixture, key *ecdsa.PrivateKey, wallet common.Address) (Session, string) {
	t.Helper()
	ctx := context.Background()

	nonce, err := f.svc.IssueNonce(ctx, wallet)
	require.NoError(t, err)

	hash := ethutil.PersonalMessageHash([]byte(LoginMessage(wallet, nonce.Value)))
	sig, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)

	session, url, bearer, err := f.svc.CreateSession(ctx, wallet, nonce.Value, sig)
	require.NoError(t, err)
	require.NotEmpty(t, url)
	return session, bearer
}

func signedEvent(f *fixture, externalID, status string, payload WebhookPayload) (WebhookEvent, string) {
	event := WebhookEvent{
		Type:      "verification.completed",
		SessionID: externalID,
		Status:    status,
		Timestamp: strconv.FormatInt(time.Now().Unix(), 10),
		Payload:   payload,
	}
	return event, ComputeSignature(f.secret, event)
}

func approvedPayload() WebhookPayload {
	return WebhookPayload{FullName: "Alice Smith", BirthDate: "1990-06-15"}
}

func TestCreateSessionLoginFlow(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)

	session, bearer := login(t, f, key, wallet)
	require.Equal(t, StatusCreated, session.Status)
	require.Equal(t, wallet, session.WalletAddress)
	require.Equal(t, "ext-1", session.ExternalSessionID)

	got, err := f.svc.SessionStatus(context.Background(), bearer, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.ID, got.ID)
}

func TestCreateSessionRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	otherKey, _ := newWallet(t)
	_, wallet := newWallet(t)

	nonce, err := f.svc.IssueNonce(context.Background(), wallet)
	require.NoError(t, err)

	hash := ethutil.PersonalMessageHash([]byte(LoginMessage(wallet, nonce.Value)))
	sig, err := crypto.Sign(hash.Bytes(), otherKey)
	require.NoError(t, err)

	_, _, _, err = f.svc.CreateSession(context.Background(), wallet, nonce.Value, sig)
	require.ErrorIs(t, err, ErrInvalidSignature)
	require.Zero(t, f.provider.calls)
}

func TestCreateSessionNonceSingleUse(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)

	nonce, err := f.svc.IssueNonce(context.Background(), wallet)
	require.NoError(t, err)
	hash := ethutil.PersonalMessageHash([]byte(LoginMessage(wallet, nonce.Value)))
	sig, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)

	_, _, _, err = f.svc.CreateSession(context.Background(), wallet, nonce.Value, sig)
	require.NoError(t, err)

	_, _, _, err = f.svc.CreateSession(context.Background(), wallet, nonce.Value, sig)
	require.ErrorIs(t, err, ErrInvalidNonce)
}

func TestCreateSessionProviderDown(t *testing.T) {
	f := newFixture(t)
	f.provider.err = fmt.Errorf("%w: connection refused", sentinel.ErrUnavailable)
	key, wallet := newWallet(t)

	nonce, err := f.svc.IssueNonce(context.Background(), wallet)
	require.NoError(t, err)
	hash := ethutil.PersonalMessageHash([]byte(LoginMessage(wallet, nonce.Value)))
	sig, err := crypto.Sign(hash.Bytes(), key)
	require.NoError(t, err)

	_, _, _, err = f.svc.CreateSession(context.Background(), wallet, nonce.Value, sig)
	require.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestHandleWebhookApprovedAttestsAndVerifies(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	event, sig := signedEvent(f, session.ExternalSessionID, "approved", approvedPayload())
	require.NoError(t, f.svc.HandleWebhook(context.Background(), event, sig))

	require.Equal(t, 1, f.attester.calls)
	got, err := f.sessions.FindByID(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, StatusVerified, got.Status)
}

func TestHandleWebhookApprovedEndToEnd(t *testing.T) {
	// Wire a real registry so the approval path is exercised down to the
	// encrypted attribute write.
	f := newFixture(t)
	engine := fhe.NewMemoryEngine()
	registry := identity.NewRegistry(engine, nil, identity.FixedClock(126), registrarAddr, logger.Discard())
	f.svc.attester = registry

	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)
	require.False(t, registry.IsAttested(wallet))

	event, sig := signedEvent(f, session.ExternalSessionID, "approved", approvedPayload())
	require.NoError(t, f.svc.HandleWebhook(context.Background(), event, sig))

	require.True(t, registry.IsAttested(wallet))

	// Born 1990, current year offset 126 (2026): the adult check passes.
	verdict, err := registry.IsAtLeastAge(context.Background(), registrarAddr, wallet, 18)
	require.NoError(t, err)
	ok, err := engine.DecryptBool(verdict, registrarAddr)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	event, _ := signedEvent(f, session.ExternalSessionID, "approved", approvedPayload())
	err := f.svc.HandleWebhook(context.Background(), event, "deadbeef")
	require.ErrorIs(t, err, ErrInvalidWebhookSignature)

	require.Zero(t, f.attester.calls)
	got, _ := f.sessions.FindByID(context.Background(), session.ID)
	require.Equal(t, StatusCreated, got.Status)
}

func TestHandleWebhookRejectsStaleTimestamp(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	event := WebhookEvent{
		Type:      "verification.completed",
		SessionID: session.ExternalSessionID,
		Status:    "approved",
		Timestamp: strconv.FormatInt(time.Now().Add(-config.WebhookMaxSkew-time.Minute).Unix(), 10),
		Payload:   approvedPayload(),
	}
	err := f.svc.HandleWebhook(context.Background(), event, ComputeSignature(f.secret, event))
	require.ErrorIs(t, err, ErrStaleWebhook)
	require.Zero(t, f.attester.calls)
}

func TestHandleWebhookReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	event, sig := signedEvent(f, session.ExternalSessionID, "approved", approvedPayload())
	require.NoError(t, f.svc.HandleWebhook(context.Background(), event, sig))
	require.NoError(t, f.svc.HandleWebhook(context.Background(), event, sig))

	require.Equal(t, 1, f.attester.calls)
	got, _ := f.sessions.FindByID(context.Background(), session.ID)
	require.Equal(t, StatusVerified, got.Status)
}

func TestHandleWebhookDeclinedThenApprovedAbsorbed(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	declined, sig := signedEvent(f, session.ExternalSessionID, "declined", WebhookPayload{})
	require.NoError(t, f.svc.HandleWebhook(context.Background(), declined, sig))

	approved, sig := signedEvent(f, session.ExternalSessionID, "approved", approvedPayload())
	require.NoError(t, f.svc.HandleWebhook(context.Background(), approved, sig))

	// The first terminal state wins; the late approval writes nothing.
	require.Zero(t, f.attester.calls)
	got, _ := f.sessions.FindByID(context.Background(), session.ID)
	require.Equal(t, StatusFailed, got.Status)
}

func TestHandleWebhookMalformedPayload(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	for _, payload := range []WebhookPayload{
		{FullName: "", BirthDate: "1990-06-15"},
		{FullName: "Alice Smith", BirthDate: "15/06/1990"},
		{FullName: "Alice Smith", BirthDate: "1899-06-15"},
	} {
		event, sig := signedEvent(f, session.ExternalSessionID, "approved", payload)
		err := f.svc.HandleWebhook(context.Background(), event, sig)
		require.ErrorIs(t, err, ErrMalformedWebhook)
	}

	// Rejected deliveries leave the session open for the provider's retry.
	require.Zero(t, f.attester.calls)
	got, _ := f.sessions.FindByID(context.Background(), session.ID)
	require.Equal(t, StatusCreated, got.Status)
}

func TestHandleWebhookUnknownStatusIgnored(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	event, sig := signedEvent(f, session.ExternalSessionID, "pending", WebhookPayload{})
	require.NoError(t, f.svc.HandleWebhook(context.Background(), event, sig))

	got, _ := f.sessions.FindByID(context.Background(), session.ID)
	require.Equal(t, StatusCreated, got.Status)
}

func TestHandleWebhookAttestFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.attester.err = errors.New("substrate write failed")
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	event, sig := signedEvent(f, session.ExternalSessionID, "approved", approvedPayload())
	err := f.svc.HandleWebhook(context.Background(), event, sig)
	require.Error(t, err)

	got, _ := f.sessions.FindByID(context.Background(), session.ID)
	require.Equal(t, StatusFailed, got.Status)
}

func TestSessionStatusTokenBinding(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, bearer := login(t, f, key, wallet)

	_, err := f.svc.SessionStatus(context.Background(), bearer, uuid.New())
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.SessionStatus(context.Background(), "not-a-token", session.ID)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAwaitVerified(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	go func() {
		time.Sleep(30 * time.Millisecond)
		event, sig := signedEvent(f, session.ExternalSessionID, "approved", approvedPayload())
		_ = f.svc.HandleWebhook(context.Background(), event, sig)
	}()

	got, err := f.svc.AwaitVerified(context.Background(), session.ID, 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	require.Equal(t, StatusVerified, got.Status)
}

func TestAwaitVerifiedTimeout(t *testing.T) {
	f := newFixture(t)
	key, wallet := newWallet(t)
	session, _ := login(t, f, key, wallet)

	got, err := f.svc.AwaitVerified(context.Background(), session.ID, 10*time.Millisecond, 50*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, StatusCreated, got.Status)
}
