// Package file provides file-based persistence for workflows, executions, trigger claims and records.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/siteflow/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	workflowRepo  *WorkflowRepository
	executionRepo *ExecutionRepository
	claimRepo     *TriggerClaimRepository
	recordRepo    *RecordRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	executionRepo := NewExecutionRepository(cleanRoot)

	return &Persistence{
		root:          cleanRoot,
		workflowRepo:  NewWorkflowRepository(cleanRoot, executionRepo),
		executionRepo: executionRepo,
		claimRepo:     NewTriggerClaimRepository(cleanRoot),
		recordRepo:    NewRecordRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) TriggerClaimRepository() persistence.TriggerClaimRepository {
	return fp.claimRepo
}

func (fp *Persistence) RecordRepository() persistence.RecordRepository {
	return fp.recordRepo
}

// validateID rejects identifiers that could escape the storage directory.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", persistence.ErrInvalidID)
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("%w: %q contains invalid characters", persistence.ErrInvalidID, id)
	}

	return nil
}

func writeJSON(filePath string, value any) error {
	err := os.MkdirAll(filepath.Dir(filePath), 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filePath, err)
	}

	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filePath, err)
	}

	tmpPath := filePath + ".tmp"

	err = os.WriteFile(tmpPath, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", filePath, err)
	}

	return os.Rename(tmpPath, filePath)
}

// readJSON returns an error satisfying os.IsNotExist when the file is absent.
func readJSON(filePath string, value any) error {
	data, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, value)
}

// listJSON returns the ids of the JSON documents stored in dir.
func listJSON(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	ids := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			ids = append(ids, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}

	return ids, nil
}
