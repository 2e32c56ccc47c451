//go:build integration

package session

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"veil/internal/kyc"
	"veil/pkg/sentinel"
	"veil/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	s := &PostgresStoreSuite{store: NewPostgresStore(pg.Pool), ctx: context.Background()}
	suite.Run(t, s)
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.store.pool.Exec(s.ctx, "TRUNCATE kyc_sessions")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newSession(externalID string) kyc.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	session := kyc.Session{
		ID:                uuid.New(),
		WalletAddress:     common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		ExternalSessionID: externalID,
		Status:            kyc.StatusCreated,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.Require().NoError(s.store.Save(s.ctx, session))
	return session
}

func (s *PostgresStoreSuite) TestSaveAndFind() {
	session := s.newSession("ext-1")

	got, err := s.store.FindByID(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Require().Equal(session.ID, got.ID)
	s.Require().Equal(session.WalletAddress, got.WalletAddress)
	s.Require().Equal(kyc.StatusCreated, got.Status)

	got, err = s.store.FindByExternalID(s.ctx, "ext-1")
	s.Require().NoError(err)
	s.Require().Equal(session.ID, got.ID)

	_, err = s.store.FindByExternalID(s.ctx, "ext-missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestTransitionFirstWins() {
	s.newSession("ext-1")
	at := time.Now().UTC().Truncate(time.Microsecond)

	got, applied, err := s.store.Transition(s.ctx, "ext-1", kyc.StatusVerified, at)
	s.Require().NoError(err)
	s.Require().True(applied)
	s.Require().Equal(kyc.StatusVerified, got.Status)

	got, applied, err = s.store.Transition(s.ctx, "ext-1", kyc.StatusFailed, at.Add(time.Minute))
	s.Require().NoError(err)
	s.Require().False(applied)
	s.Require().Equal(kyc.StatusVerified, got.Status)
}

func (s *PostgresStoreSuite) TestTransitionUnknownSession() {
	_, _, err := s.store.Transition(s.ctx, "ext-missing", kyc.StatusVerified, time.Now())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
