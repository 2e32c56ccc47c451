// Package kyc is the attestation orchestrator: it authenticates wallets,
// drives hosted verification sessions, and on success writes encrypted
// attributes into the identity registry. It runs off-core; its failures are
// retryable internal errors, never ledger-level signals.
package kyc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"veil/internal/identity"
	"veil/internal/kyc/metrics"
	"veil/internal/kyc/provider"
	"veil/internal/platform/config"
	"veil/pkg/ethutil"
	"veil/pkg/sentinel"
)

// NonceStore persists single-use login nonces. Consume must atomically check
// scope, expiry, and the used flag, then mark the nonce used.
type NonceStore interface {
	Save(ctx context.Context, nonce Nonce) error
	Consume(ctx context.Context, value string, wallet common.Address) error
}

// SessionStore persists verification sessions. Transition applies the
// one-way state machine: it moves a CREATED session to `to` and reports
// applied=false when the session was already terminal.
type SessionStore interface {
	Save(ctx context.Context, session Session) error
	FindByID(ctx context.Context, id uuid.UUID) (Session, error)
	FindByExternalID(ctx context.Context, externalID string) (Session, error)
	Transition(ctx context.Context, externalID string, to Status, at time.Time) (Session, bool, error)
}

// ProviderClient opens hosted verification sessions.
type ProviderClient interface {
	CreateSession(ctx context.Context, wallet common.Address) (provider.CreatedSession, error)
}

// Attester is the slice of the identity registry the orchestrator writes to.
type Attester interface {
	Attest(ctx context.Context, caller, user common.Address, encOffset, proof []byte, nameHash common.Hash) error
}

// SealFunc produces the ciphertext/proof pair for a trusted birth-year
// offset, bound to the registrar address. Deployments wire the coprocessor
// SDK; local runs wire fhe.SealU8.
type SealFunc func(v uint8, sender common.Address) (ciphertext, proof []byte)

// Service coordinates login, hosted verification, and attestation writes.
type Service struct {
	nonces   NonceStore
	sessions SessionStore
	provider ProviderClient
	attester Attester
	seal     SealFunc

	registrar     common.Address
	signingKey    []byte
	webhookSecret string

	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewService(
	nonces NonceStore,
	sessions SessionStore,
	providerClient ProviderClient,
	attester Attester,
	seal SealFunc,
	registrar common.Address,
	cfg config.Server,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Service {
	return &Service{
		nonces:        nonces,
		sessions:      sessions,
		provider:      providerClient,
		attester:      attester,
		seal:          seal,
		registrar:     registrar,
		signingKey:    []byte(cfg.JWTSigningKey),
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
		metrics:       m,
		tracer:        otel.Tracer("veil/internal/kyc"),
		now:           time.Now,
	}
}

// LoginMessage is the canonical text a wallet signs to open a session.
func LoginMessage(wallet common.Address, nonce string) string {
	return fmt.Sprintf("veil verification login\nwallet: %s\nnonce: %s", wallet.Hex(), nonce)
}

// IssueNonce mints a fresh single-use login nonce for wallet.
func (s *Service) IssueNonce(ctx context.Context, wallet common.Address) (Nonce, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Nonce{}, fmt.Errorf("generate nonce: %w", err)
	}

	nonce := Nonce{
		Value:         hex.EncodeToString(raw),
		WalletAddress: wallet,
		ExpiresAt:     s.now().Add(config.NonceTTL),
	}
	if err := s.nonces.Save(ctx, nonce); err != nil {
		return Nonce{}, fmt.Errorf("save nonce: %w", err)
	}

	if s.metrics != nil {
		s.metrics.NoncesIssued.Inc()
	}
	return nonce, nil
}

// CreateSession verifies a signed login (consuming its nonce) and opens a
// hosted verification session. It returns the persisted session, the URL the
// user completes verification at, and a bearer for status polling.
func (s *Service) CreateSession(ctx context.Context, wallet common.Address, nonce string, signature []byte) (Session, string, string, error) {
	ctx, span := s.tracer.Start(ctx, "kyc.CreateSession")
	defer span.End()

	if err := ethutil.Verify([]byte(LoginMessage(wallet, nonce)), signature, wallet); err != nil {
		return Session{}, "", "", ErrInvalidSignature
	}
	if err := s.nonces.Consume(ctx, nonce, wallet); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrAlreadyUsed) || errors.Is(err, sentinel.ErrExpired) {
			return Session{}, "", "", fmt.Errorf("%w: %v", ErrInvalidNonce, err)
		}
		return Session{}, "", "", fmt.Errorf("consume nonce: %w", err)
	}

	created, err := s.provider.CreateSession(ctx, wallet)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return Session{}, "", "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return Session{}, "", "", fmt.Errorf("open provider session: %w", err)
	}

	now := s.now()
	session := Session{
		ID:                uuid.New(),
		WalletAddress:     wallet,
		ExternalSessionID: created.ExternalID,
		Status:            StatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return Session{}, "", "", fmt.Errorf("save session: %w", err)
	}

	bearer, err := issueSessionToken(s.signingKey, session, now)
	if err != nil {
		return Session{}, "", "", err
	}

	if s.metrics != nil {
		s.metrics.SessionsCreated.Inc()
	}
	s.logger.Info("verification session opened",
		"session_id", session.ID, "wallet", wallet.Hex())
	return session, created.SessionURL, bearer, nil
}

// HandleWebhook processes a signed provider notification. Replays of
// terminal sessions are absorbed silently; signature and shape problems fail
// loudly so the provider retries.
func (s *Service) HandleWebhook(ctx context.Context, event WebhookEvent, signature string) error {
	ctx, span := s.tracer.Start(ctx, "kyc.HandleWebhook")
	defer span.End()

	if err := VerifyWebhookSignature(s.webhookSecret, event, signature, s.now(), config.WebhookMaxSkew); err != nil {
		s.countWebhook(metrics.WebhookRejected)
		return err
	}

	session, err := s.sessions.FindByExternalID(ctx, event.SessionID)
	if err != nil {
		s.countWebhook(metrics.WebhookRejected)
		return fmt.Errorf("find session %q: %w", event.SessionID, err)
	}
	if session.Status.Terminal() {
		// Idempotent replay: the terminal state wins, no error.
		s.countWebhook(metrics.WebhookReplayed)
		return nil
	}

	switch event.Status {
	case webhookStatusApproved:
		return s.applyApproval(ctx, session, event)
	case webhookStatusDeclined:
		_, _, err := s.sessions.Transition(ctx, event.SessionID, StatusFailed, s.now())
		if err != nil {
			return fmt.Errorf("fail session: %w", err)
		}
		s.countWebhook(metrics.WebhookApplied)
		return nil
	default:
		s.countWebhook(metrics.WebhookIgnored)
		return nil
	}
}

// applyApproval writes the attestation, then marks the session VERIFIED. A
// failed attestation marks the session FAILED and drops the identity fact;
// there is no retry or backfill path.
func (s *Service) applyApproval(ctx context.Context, session Session, event WebhookEvent) error {
	offset, nameHash, err := deriveAttributes(event.Payload)
	if err != nil {
		s.countWebhook(metrics.WebhookRejected)
		return err
	}

	ciphertext, proof := s.seal(offset, s.registrar)
	if err := s.attester.Attest(ctx, s.registrar, session.WalletAddress, ciphertext, proof, nameHash); err != nil {
		s.logger.Error("attestation write failed",
			"session_id", session.ID, "wallet", session.WalletAddress.Hex(), "error", err)
		if _, _, terr := s.sessions.Transition(ctx, event.SessionID, StatusFailed, s.now()); terr != nil {
			return fmt.Errorf("fail session after attest error: %w", terr)
		}
		s.countWebhook(metrics.WebhookRejected)
		return fmt.Errorf("attest: %w", err)
	}

	if _, applied, err := s.sessions.Transition(ctx, event.SessionID, StatusVerified, s.now()); err != nil {
		return fmt.Errorf("verify session: %w", err)
	} else if !applied {
		s.countWebhook(metrics.WebhookReplayed)
		return nil
	}

	s.countWebhook(metrics.WebhookApplied)
	s.logger.Info("attestation written",
		"session_id", session.ID, "wallet", session.WalletAddress.Hex())
	return nil
}

// deriveAttributes turns the provider payload into core-facing attributes:
// a name hash and a birth-year offset. The raw name and birth date go no
// further than this function.
func deriveAttributes(payload WebhookPayload) (uint8, common.Hash, error) {
	if payload.FullName == "" {
		return 0, common.Hash{}, fmt.Errorf("%w: missing full name", ErrMalformedWebhook)
	}
	born, err := time.Parse("2006-01-02", payload.BirthDate)
	if err != nil {
		return 0, common.Hash{}, fmt.Errorf("%w: bad birth date", ErrMalformedWebhook)
	}
	offset := born.Year() - identity.EpochYear
	if offset < 0 || offset > 255 {
		return 0, common.Hash{}, fmt.Errorf("%w: birth year out of range", ErrMalformedWebhook)
	}
	return uint8(offset), identity.FullNameHash(payload.FullName), nil
}

// SessionStatus returns the session a bearer token is bound to. The token's
// session must match the requested ID.
func (s *Service) SessionStatus(ctx context.Context, bearer string, id uuid.UUID) (Session, error) {
	tokenID, err := parseSessionToken(s.signingKey, bearer)
	if err != nil {
		return Session{}, err
	}
	if tokenID != id {
		return Session{}, ErrInvalidToken
	}
	return s.sessions.FindByID(ctx, id)
}

// AwaitVerified polls the session at interval until it leaves CREATED or the
// timeout elapses. Cancellation stops polling without touching any state.
func (s *Service) AwaitVerified(ctx context.Context, id uuid.UUID, interval, timeout time.Duration) (Session, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		session, err := s.sessions.FindByID(ctx, id)
		if err != nil {
			return Session{}, err
		}
		if session.Status.Terminal() {
			return session, nil
		}

		select {
		case <-ctx.Done():
			return session, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) countWebhook(result string) {
	if s.metrics != nil {
		s.metrics.Webhooks.WithLabelValues(result).Inc()
	}
}
