package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type claim struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TriggerClaimRepository stores trigger identities as small files named by key hash.
type TriggerClaimRepository struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

// NewTriggerClaimRepository creates a new trigger claim repository.
func NewTriggerClaimRepository(root string) *TriggerClaimRepository {
	return &TriggerClaimRepository{root: root, now: time.Now}
}

func (cr *TriggerClaimRepository) dir() string {
	return filepath.Join(cr.root, "claims")
}

func (cr *TriggerClaimRepository) path(key string) string {
	sum := sha256.Sum256([]byte(key))

	return filepath.Join(cr.dir(), hex.EncodeToString(sum[:])+".json")
}

// Claim records key until ttl elapses. An expired claim is taken over.
func (cr *TriggerClaimRepository) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	now := cr.now().UTC()
	filePath := cr.path(key)

	var existing claim

	err := readJSON(filePath, &existing)

	switch {
	case err == nil && existing.ExpiresAt.After(now):
		return false, nil
	case err != nil && !os.IsNotExist(err):
		return false, fmt.Errorf("failed to read trigger claim: %w", err)
	}

	err = writeJSON(filePath, claim{Key: key, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return false, fmt.Errorf("failed to write trigger claim: %w", err)
	}

	return true, nil
}

// Release deletes the claim on key. Releasing an unknown key is not an error.
func (cr *TriggerClaimRepository) Release(_ context.Context, key string) error {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	err := os.Remove(cr.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release trigger claim: %w", err)
	}

	return nil
}

// PurgeExpired deletes claims whose expiry is before now.
func (cr *TriggerClaimRepository) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	names, err := listJSON(cr.dir())
	if err != nil {
		return 0, err
	}

	purged := 0

	for _, name := range names {
		filePath := filepath.Join(cr.dir(), name+".json")

		var existing claim

		err := readJSON(filePath, &existing)
		if err != nil || existing.ExpiresAt.After(now) {
			continue
		}

		err = os.Remove(filePath)
		if err != nil && !os.IsNotExist(err) {
			return purged, fmt.Errorf("failed to delete trigger claim: %w", err)
		}

		purged++
	}

	return purged, nil
}
