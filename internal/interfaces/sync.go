package interfaces

import (
	"context"

	"github.com/ternarybob/hrsync/internal/models"
)

// Lister returns every remote record, draining all pages
type Lister interface {
	ListAll(ctx context.Context) ([]models.RemoteRecord, error)
}

// RecordFetcher fetches the detail document for one remote id
type RecordFetcher interface {
	FetchRecord(ctx context.Context, remoteID string) ([]byte, error)
}

// ArtifactRef identifies a secondary artifact (e.g. a payslip PDF)
type ArtifactRef struct {
	StatementID string
	ImageID     string
}

// ArtifactFetcher downloads a secondary artifact
type ArtifactFetcher interface {
	FetchArtifact(ctx context.Context, ref ArtifactRef) ([]byte, error)
}

// SyncLedger tracks which remote records are already on disk
type SyncLedger interface {
	Load() error
	Save() error
	IsSatisfied(remoteID string) bool
	Get(remoteID string) (*models.SyncIndexEntry, bool)
	Mark(remoteID string, entry *models.SyncIndexEntry)
	Entries() map[string]*models.SyncIndexEntry
	LastSync() string
	Root() string
}
