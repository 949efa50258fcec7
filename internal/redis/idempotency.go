package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStore maps a tenant's create idempotency key to the appointment
// it produced. The first id remembered for a key wins until the key expires.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

func idempotencyKey(tenantID uuid.UUID, key string) string {
	return fmt.Sprintf("idem:create:%s:%s", tenantID, key)
}

func (s *IdempotencyStore) Lookup(ctx context.Context, tenantID uuid.UUID, key string) (uuid.UUID, bool, error) {
	val, err := s.client.Get(ctx, idempotencyKey(tenantID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("lookup idempotency key: %w", err)
	}

	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("parse idempotency value %q: %w", val, err)
	}
	return id, true, nil
}

func (s *IdempotencyStore) Remember(ctx context.Context, tenantID uuid.UUID, key string, id uuid.UUID) error {
	if _, err := s.client.SetNX(ctx, idempotencyKey(tenantID, key), id.String(), s.ttl).Result(); err != nil {
		return fmt.Errorf("remember idempotency key: %w", err)
	}
	return nil
}
