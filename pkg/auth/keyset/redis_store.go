package keyset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// Store is a shared cache of raw JWKS documents consulted before the
// origin endpoint.
type Store interface {
	Get(ctx context.Context, endpoint string) ([]byte, bool, error)
	Put(ctx context.Context, endpoint string, body []byte) error
	Delete(ctx context.Context, endpoint string) error
}

const storeKeyPrefix = "spendwise:jwks:"

// RedisStore keeps documents in Redis so replicas share one fetch.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, endpoint string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, storeKey(endpoint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Put(ctx context.Context, endpoint string, body []byte) error {
	return s.rdb.Set(ctx, storeKey(endpoint), body, s.ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, endpoint string) error {
	return s.rdb.Del(ctx, storeKey(endpoint)).Err()
}

func storeKey(endpoint string) string {
	sum := sha256.Sum256([]byte(endpoint))
	return storeKeyPrefix + hex.EncodeToString(sum[:])
}
