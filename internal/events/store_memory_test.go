package events

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) TestAppendAndList() {
	subject := common.HexToAddress("0x01")
	other := common.HexToAddress("0x02")

	s.Require().NoError(s.store.Append(s.ctx, Event{Type: TypeAttestationAdded, Subject: subject}))
	s.Require().NoError(s.store.Append(s.ctx, Event{Type: TypeTransfer, Subject: other}))
	s.Require().NoError(s.store.Append(s.ctx, Event{Type: TypeClaim, Subject: subject}))

	got, err := s.store.ListBySubject(s.ctx, subject)
	s.Require().NoError(err)
	s.Len(got, 2)
	s.Equal(TypeAttestationAdded, got[0].Type)
	s.Equal(TypeClaim, got[1].Type)
}

func (s *MemoryStoreSuite) TestPublisherStampsTimestamp() {
	pub := NewPublisher(s.store)
	s.Require().NoError(pub.Record(s.ctx, Event{Type: TypeMint, Amount: 7}))

	all := s.store.All()
	s.Require().Len(all, 1)
	s.False(all[0].Timestamp.IsZero())
	s.Equal(uint64(7), all[0].Amount)
}

func (s *MemoryStoreSuite) TestByType() {
	s.Require().NoError(s.store.Append(s.ctx, Event{Type: TypeTransfer}))
	s.Require().NoError(s.store.Append(s.ctx, Event{Type: TypeTransfer}))
	s.Require().NoError(s.store.Append(s.ctx, Event{Type: TypeMint}))

	s.Len(s.store.ByType(TypeTransfer), 2)
	s.Len(s.store.ByType(TypeMint), 1)
	s.Empty(s.store.ByType(TypeClaim))
}
