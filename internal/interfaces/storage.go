package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/hrsync/internal/models"
)

// ErrNotFound is returned by stores when a key has no value
var ErrNotFound = errors.New("not found")

// CardCache caches employee-card responses so enrichment can resume
type CardCache interface {
	Get(ctx context.Context, peopleID string) (*models.EmployeeCard, error)
	Put(ctx context.Context, card *models.EmployeeCard) error
	Count(ctx context.Context) (int, error)
}

// RunHistory stores sync run summaries
type RunHistory interface {
	Record(ctx context.Context, run *models.SyncRun) error
	List(ctx context.Context, limit int) ([]*models.SyncRun, error)
}
