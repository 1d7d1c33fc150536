package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/google/uuid"
)

// RecordRepository stores site records under records/<site>/<collection>/<id>.json.
type RecordRepository struct {
	root string
	mu   sync.Mutex
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(root string) *RecordRepository {
	return &RecordRepository{root: root}
}

func (rr *RecordRepository) path(siteID, collection, recordID string) (string, error) {
	for _, id := range []string{siteID, collection, recordID} {
		if err := validateID(id); err != nil {
			return "", err
		}
	}

	return filepath.Join(rr.root, "records", siteID, collection, recordID+".json"), nil
}

func (rr *RecordRepository) CreateRecord(_ context.Context, siteID, collection string, fields map[string]any) (*models.Record, error) {
	now := time.Now().UTC()
	record := &models.Record{
		ID:         uuid.New().String(),
		SiteID:     siteID,
		Collection: collection,
		Fields:     fields,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	filePath, err := rr.path(siteID, collection, record.ID)
	if err != nil {
		return nil, err
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	err = writeJSON(filePath, record)
	if err != nil {
		return nil, fmt.Errorf("failed to create record in %s: %w", collection, err)
	}

	return record, nil
}

// UpdateRecord merges fields into an existing record.
func (rr *RecordRepository) UpdateRecord(_ context.Context, siteID, collection, recordID string, fields map[string]any) (*models.Record, error) {
	filePath, err := rr.path(siteID, collection, recordID)
	if err != nil {
		return nil, err
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	record, err := rr.read(filePath, recordID)
	if err != nil {
		return nil, err
	}

	if record.Fields == nil {
		record.Fields = map[string]any{}
	}

	for key, value := range fields {
		record.Fields[key] = value
	}

	record.UpdatedAt = time.Now().UTC()

	err = writeJSON(filePath, record)
	if err != nil {
		return nil, fmt.Errorf("failed to update record %s: %w", recordID, err)
	}

	return record, nil
}

func (rr *RecordRepository) GetRecord(_ context.Context, siteID, collection, recordID string) (*models.Record, error) {
	filePath, err := rr.path(siteID, collection, recordID)
	if err != nil {
		return nil, err
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	return rr.read(filePath, recordID)
}

func (rr *RecordRepository) read(filePath, recordID string) (*models.Record, error) {
	var record models.Record

	err := readJSON(filePath, &record)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrRecordNotFound, recordID)
		}

		return nil, fmt.Errorf("failed to read record %s: %w", recordID, err)
	}

	return &record, nil
}
