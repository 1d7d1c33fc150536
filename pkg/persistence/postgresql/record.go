package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/siteflow/pkg/models"
	"github.com/dukex/siteflow/pkg/persistence"
	"github.com/google/uuid"
)

// RecordRepository stores site records as JSONB documents.
type RecordRepository struct {
	db *sql.DB
}

// NewRecordRepository creates a new record repository.
func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) CreateRecord(ctx context.Context, siteID, collection string, fields map[string]any) (*models.Record, error) {
	if fields == nil {
		fields = map[string]any{}
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record fields: %w", err)
	}

	now := time.Now().UTC()
	record := &models.Record{
		ID:         uuid.NewString(),
		SiteID:     siteID,
		Collection: collection,
		Fields:     fields,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `
		INSERT INTO records (site_id, collection, id, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query, siteID, collection, record.ID, fieldsJSON, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create record in %s: %w", collection, err)
	}

	return record, nil
}

// UpdateRecord merges fields into the stored document.
func (r *RecordRepository) UpdateRecord(ctx context.Context, siteID, collection, recordID string, fields map[string]any) (*models.Record, error) {
	if fields == nil {
		fields = map[string]any{}
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record fields: %w", err)
	}

	query := `
		UPDATE records
		SET fields = fields || $4::jsonb, updated_at = $5
		WHERE site_id = $1 AND collection = $2 AND id = $3
		RETURNING site_id, collection, id, fields, created_at, updated_at
	`

	row := r.db.QueryRowContext(ctx, query, siteID, collection, recordID, fieldsJSON, time.Now().UTC())

	return scanRecord(row, recordID)
}

func (r *RecordRepository) GetRecord(ctx context.Context, siteID, collection, recordID string) (*models.Record, error) {
	query := `
		SELECT site_id, collection, id, fields, created_at, updated_at
		FROM records
		WHERE site_id = $1 AND collection = $2 AND id = $3
	`

	return scanRecord(r.db.QueryRowContext(ctx, query, siteID, collection, recordID), recordID)
}

func scanRecord(scanner rowScanner, recordID string) (*models.Record, error) {
	var (
		record     models.Record
		fieldsJSON []byte
	)

	err := scanner.Scan(&record.SiteID, &record.Collection, &record.ID, &fieldsJSON, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrRecordNotFound, recordID)
		}

		return nil, fmt.Errorf("failed to scan record %s: %w", recordID, err)
	}

	err = json.Unmarshal(fieldsJSON, &record.Fields)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal record fields: %w", err)
	}

	return &record, nil
}
