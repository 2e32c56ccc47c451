package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"veil/internal/kyc"
	"veil/pkg/sentinel"
)

// Schema is the DDL for the sessions table. Applied by migrations in
// deployments and by EnsureSchema in tests.
const Schema = `
CREATE TABLE IF NOT EXISTS kyc_sessions (
    id          UUID PRIMARY KEY,
    wallet      TEXT NOT NULL,
    external_id TEXT NOT NULL UNIQUE,
    status      TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS kyc_sessions_wallet_idx ON kyc_sessions (wallet);
`

// PostgresStore persists verification sessions in Postgres. The one-way state
// machine is enforced by a conditional UPDATE, so concurrent webhook
// deliveries resolve to a single applied transition without row locks.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure sessions schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, session kyc.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kyc_sessions (id, wallet, external_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, session.WalletAddress.Hex(), session.ExternalSessionID,
		string(session.Status), session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (kyc.Session, error) {
	return s.scanOne(s.pool.QueryRow(ctx, `
		SELECT id, wallet, external_id, status, created_at, updated_at
		FROM kyc_sessions WHERE id = $1`, id))
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID string) (kyc.Session, error) {
	return s.scanOne(s.pool.QueryRow(ctx, `
		SELECT id, wallet, external_id, status, created_at, updated_at
		FROM kyc_sessions WHERE external_id = $1`, externalID))
}

// Transition moves a CREATED session to `to`. The WHERE clause carries the
// state machine: an already-terminal row matches nothing and the stored
// session is returned with applied=false.
func (s *PostgresStore) Transition(ctx context.Context, externalID string, to kyc.Status, at time.Time) (kyc.Session, bool, error) {
	if !to.Terminal() {
		return kyc.Session{}, false, sentinel.ErrInvalidState
	}

	session, err := s.scanOne(s.pool.QueryRow(ctx, `
		UPDATE kyc_sessions
		SET status = $1, updated_at = $2
		WHERE external_id = $3 AND status = $4
		RETURNING id, wallet, external_id, status, created_at, updated_at`,
		string(to), at, externalID, string(kyc.StatusCreated)))
	if err == nil {
		return session, true, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return kyc.Session{}, false, err
	}

	// No row updated: either the session does not exist or it was already
	// terminal. Re-read to tell the two apart.
	session, err = s.FindByExternalID(ctx, externalID)
	if err != nil {
		return kyc.Session{}, false, err
	}
	return session, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (kyc.Session, error) {
	var (
		session kyc.Session
		wallet  string
		status  string
	)
	err := row.Scan(&session.ID, &wallet, &session.ExternalSessionID,
		&status, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return kyc.Session{}, sentinel.ErrNotFound
		}
		return kyc.Session{}, fmt.Errorf("scan session: %w", err)
	}
	session.WalletAddress = common.HexToAddress(wallet)
	session.Status = kyc.Status(status)
	return session, nil
}
