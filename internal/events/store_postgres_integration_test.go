//go:build integration

package events

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"veil/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	store *PostgresStore
	ctx   context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	pg := containers.NewPostgresContainer(t)
	db, err := sql.Open("postgres", pg.DSN)
	if err != nil {
		t.Fatalf("failed to open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := &PostgresStoreSuite{store: NewPostgresStore(db), ctx: context.Background()}
	suite.Run(t, s)
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.Require().NoError(s.store.EnsureSchema(s.ctx))
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.store.db.ExecContext(s.ctx, "TRUNCATE core_events")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestAppendAndListBySubject() {
	actor := common.HexToAddress("0x00000000000000000000000000000000000000f1")
	alice := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	at := time.Now().UTC().Truncate(time.Microsecond)

	for i, event := range []Event{
		{Type: TypeAttestationAdded, Timestamp: at, Actor: actor, Subject: alice},
		{Type: TypeTransfer, Timestamp: at.Add(time.Second), Actor: alice, Subject: bob},
		{Type: TypeMint, Timestamp: at.Add(2 * time.Second), Actor: actor, Subject: alice, Amount: 500},
	} {
		s.Require().NoError(s.store.Append(s.ctx, event), "event %d", i)
	}

	got, err := s.store.ListBySubject(s.ctx, alice)
	s.Require().NoError(err)
	s.Require().Len(got, 2)

	// Insertion order is preserved.
	s.Require().Equal(TypeAttestationAdded, got[0].Type)
	s.Require().Equal(actor, got[0].Actor)
	s.Require().Equal(alice, got[0].Subject)
	s.Require().Zero(got[0].Amount)
	s.Require().Equal(TypeMint, got[1].Type)
	s.Require().Equal(uint64(500), got[1].Amount)

	got, err = s.store.ListBySubject(s.ctx, bob)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Require().Equal(TypeTransfer, got[0].Type)
}

func (s *PostgresStoreSuite) TestListUnknownSubjectEmpty() {
	got, err := s.store.ListBySubject(s.ctx, common.HexToAddress("0x00000000000000000000000000000000000000c3"))
	s.Require().NoError(err)
	s.Require().Empty(got)
}

func (s *PostgresStoreSuite) TestPublisherStampsTimestamp() {
	publisher := NewPublisher(s.store)
	subject := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	s.Require().NoError(publisher.Record(s.ctx, Event{Type: TypeClaim, Subject: subject}))

	got, err := s.store.ListBySubject(s.ctx, subject)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Require().False(got[0].Timestamp.IsZero())
}
