package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/dukex/siteflow/pkg/persistence/file"
	"github.com/dukex/siteflow/pkg/persistence/postgresql"
	redisclaims "github.com/dukex/siteflow/pkg/persistence/redis"
	goredis "github.com/redis/go-redis/v9"
)

var ErrUnsupportedDatabase = errors.New("unsupported database url")

// NewPersistence opens the store named by databaseURL (file://<dir> or postgres://...).
// With a redis url, trigger claims move to Redis so every dispatcher shares them.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL, redisURL string) (persistence.Persistence, error) {
	store, err := openStore(ctx, logger, databaseURL)
	if err != nil {
		return nil, err
	}

	if redisURL == "" {
		return store, nil
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		_ = store.Close(ctx)

		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client, err := redisclaims.NewClient(ctx, opts.Addr, opts.Password, opts.DB)
	if err != nil {
		_ = store.Close(ctx)

		return nil, err
	}

	logger.Info("Trigger claims stored in redis", "addr", opts.Addr)

	return &redisClaimsPersistence{
		Persistence: store,
		client:      client,
		claims:      redisclaims.NewTriggerClaimRepository(client, ""),
	}, nil
}

func openStore(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, databaseURL)
	}

	switch provider {
	case "file":
		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDatabase, provider)
	}
}

type redisClaimsPersistence struct {
	persistence.Persistence

	client *goredis.Client
	claims *redisclaims.TriggerClaimRepository
}

func (p *redisClaimsPersistence) TriggerClaimRepository() persistence.TriggerClaimRepository {
	return p.claims
}

func (p *redisClaimsPersistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	return p.Persistence.HealthCheck(ctx)
}

func (p *redisClaimsPersistence) Close(ctx context.Context) error {
	return errors.Join(p.client.Close(), p.Persistence.Close(ctx))
}
