// Package redis provides a Redis backed trigger claim store shared by every dispatcher instance.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/siteflow/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const defaultPrefix = "siteflow:claim:"

var _ persistence.TriggerClaimRepository = (*TriggerClaimRepository)(nil)

// TriggerClaimRepository claims trigger identities with SET NX and lets Redis expire them.
type TriggerClaimRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewTriggerClaimRepository creates a claim store. prefix defaults to "siteflow:claim:".
func NewTriggerClaimRepository(client redis.UniversalClient, prefix string) *TriggerClaimRepository {
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &TriggerClaimRepository{client: client, prefix: prefix}
}

// NewClient connects to the Redis server at addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	err := client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return client, nil
}

func (r *TriggerClaimRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	claimed, err := r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim trigger: %w", err)
	}

	return claimed, nil
}

func (r *TriggerClaimRepository) Release(ctx context.Context, key string) error {
	err := r.client.Del(ctx, r.prefix+key).Err()
	if err != nil {
		return fmt.Errorf("failed to release trigger claim: %w", err)
	}

	return nil
}

// PurgeExpired is a no-op: Redis drops expired keys on its own.
func (r *TriggerClaimRepository) PurgeExpired(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}
