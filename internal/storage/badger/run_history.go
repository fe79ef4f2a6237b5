package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

// RunHistory persists SyncRun summaries
type RunHistory struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunHistory creates a new RunHistory instance
func NewRunHistory(db *BadgerDB, logger arbor.ILogger) interfaces.RunHistory {
	return &RunHistory{
		db:     db,
		logger: logger,
	}
}

// Record inserts or updates a run by ID
func (h *RunHistory) Record(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		return fmt.Errorf("sync run has no id")
	}
	if err := h.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// List returns the most recent runs first; limit <= 0 returns all
func (h *RunHistory) List(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var runs []models.SyncRun
	if err := h.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	out := make([]*models.SyncRun, len(runs))
	for i := range runs {
		out[i] = &runs[i]
	}
	return out, nil
}
