//go:build integration

package nonce

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/suite"

	"veil/internal/kyc"
	"veil/pkg/sentinel"
	"veil/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	rc    *containers.RedisContainer
	store *RedisStore
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	s := &RedisStoreSuite{rc: rc, store: NewRedisStore(rc.Client), ctx: context.Background()}
	suite.Run(t, s)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.rc.FlushAll(s.ctx))
}

func (s *RedisStoreSuite) save(value string, ttl time.Duration) {
	s.Require().NoError(s.store.Save(s.ctx, kyc.Nonce{
		Value:         value,
		WalletAddress: wallet,
		ExpiresAt:     time.Now().Add(ttl),
	}))
}

func (s *RedisStoreSuite) TestConsumeSingleUse() {
	s.save("n1", time.Minute)

	s.Require().NoError(s.store.Consume(s.ctx, "n1", wallet))

	err := s.store.Consume(s.ctx, "n1", wallet)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestConsumeWrongWallet() {
	s.save("n1", time.Minute)

	err := s.store.Consume(s.ctx, "n1", other)
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestSaveExpiredRejected() {
	err := s.store.Save(s.ctx, kyc.Nonce{
		Value:         "n1",
		WalletAddress: wallet,
		ExpiresAt:     time.Now().Add(-time.Second),
	})
	s.Require().ErrorIs(err, sentinel.ErrExpired)
}
