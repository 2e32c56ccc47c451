package nonce

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"veil/internal/kyc"
	"veil/pkg/sentinel"
)

const keyPrefix = "kyc:nonce:"

// RedisStore backs nonces with Redis. Expiry rides on key TTL and single-use
// on the atomic GETDEL, so consumption needs no transaction.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, nonce kyc.Nonce) error {
	ttl := time.Until(nonce.ExpiresAt)
	if ttl <= 0 {
		return sentinel.ErrExpired
	}
	if err := s.client.Set(ctx, keyPrefix+nonce.Value, nonce.WalletAddress.Hex(), ttl).Err(); err != nil {
		return fmt.Errorf("save nonce: %w", err)
	}
	return nil
}

func (s *RedisStore) Consume(ctx context.Context, value string, wallet common.Address) error {
	stored, err := s.client.GetDel(ctx, keyPrefix+value).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Unknown, expired, and already-consumed all look the same here.
			return sentinel.ErrNotFound
		}
		return fmt.Errorf("consume nonce: %w", err)
	}
	if common.HexToAddress(stored) != wallet {
		return sentinel.ErrNotFound
	}
	return nil
}
