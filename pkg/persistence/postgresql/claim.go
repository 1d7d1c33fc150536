package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TriggerClaimRepository stores trigger identities in the trigger_claims table.
type TriggerClaimRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewTriggerClaimRepository creates a new trigger claim repository.
func NewTriggerClaimRepository(db *sql.DB) *TriggerClaimRepository {
	return &TriggerClaimRepository{db: db, now: time.Now}
}

// Claim inserts the key, taking over an expired row. The conditional upsert
// returns no row when a live claim already exists.
func (r *TriggerClaimRepository) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := r.now().UTC()

	query := `
		INSERT INTO trigger_claims (key, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE trigger_claims.expires_at <= $3
		RETURNING key
	`

	var claimed string

	err := r.db.QueryRowContext(ctx, query, key, now.Add(ttl), now).Scan(&claimed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("failed to claim trigger: %w", err)
	}

	return true, nil
}

func (r *TriggerClaimRepository) Release(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM trigger_claims WHERE key = $1", key)
	if err != nil {
		return fmt.Errorf("failed to release trigger claim: %w", err)
	}

	return nil
}

func (r *TriggerClaimRepository) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM trigger_claims WHERE expires_at <= $1", now.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge trigger claims: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}
