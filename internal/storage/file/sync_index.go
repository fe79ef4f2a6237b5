package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

// IndexFileName is the ledger file name inside the cache root
const IndexFileName = "index.json"

// SyncIndex is the JSON ledger of fetched records under a cache root.
// An entry only counts as satisfied while its primary file exists on disk.
type SyncIndex struct {
	mu     sync.Mutex
	root   string
	data   models.SyncIndexFile
	logger arbor.ILogger
	now    func() time.Time
}

// NewSyncIndex creates an empty index rooted at dir. Call Load before use.
func NewSyncIndex(dir string, logger arbor.ILogger) *SyncIndex {
	return &SyncIndex{
		root:   dir,
		data:   models.SyncIndexFile{Payslips: map[string]*models.SyncIndexEntry{}},
		logger: logger,
		now:    time.Now,
	}
}

var _ interfaces.SyncLedger = (*SyncIndex)(nil)

func (x *SyncIndex) Root() string {
	return x.root
}

func (x *SyncIndex) path() string {
	return filepath.Join(x.root, IndexFileName)
}

// Load reads the index. A missing file gives an empty index; so does a
// corrupt one, after a warning, since every entry can be re-fetched.
func (x *SyncIndex) Load() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.data = models.SyncIndexFile{Payslips: map[string]*models.SyncIndexEntry{}}

	raw, err := os.ReadFile(x.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read sync index: %w", err)
	}

	var loaded models.SyncIndexFile
	if err := json.Unmarshal(raw, &loaded); err != nil {
		x.logger.Warn().Err(err).Str("path", x.path()).Msg("Failed to load sync index, starting empty")
		return nil
	}
	if loaded.Payslips == nil {
		loaded.Payslips = map[string]*models.SyncIndexEntry{}
	}
	for id, entry := range loaded.Payslips {
		if entry == nil {
			delete(loaded.Payslips, id)
		}
	}
	x.data = loaded
	return nil
}

// Save writes the index, stamping last_sync and total_count
func (x *SyncIndex) Save() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.data.LastSync = x.now().Format(time.RFC3339)
	x.data.TotalCount = len(x.data.Payslips)

	raw, err := json.MarshalIndent(x.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync index: %w", err)
	}
	if err := WriteFileAtomic(x.path(), raw, 0644, 0755); err != nil {
		return fmt.Errorf("failed to write sync index: %w", err)
	}
	return nil
}

// IsSatisfied reports whether remoteID is indexed and its primary file exists
func (x *SyncIndex) IsSatisfied(remoteID string) bool {
	x.mu.Lock()
	entry, ok := x.data.Payslips[remoteID]
	x.mu.Unlock()

	if !ok || entry.PrimaryPath == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(x.root, entry.PrimaryPath))
	return err == nil
}

func (x *SyncIndex) Get(remoteID string) (*models.SyncIndexEntry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	entry, ok := x.data.Payslips[remoteID]
	return entry, ok
}

// Mark records an entry, stamping CachedAt when empty
func (x *SyncIndex) Mark(remoteID string, entry *models.SyncIndexEntry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if entry.CachedAt == "" {
		entry.CachedAt = x.now().Format(time.RFC3339)
	}
	x.data.Payslips[remoteID] = entry
}

// Entries returns a copy of the id -> entry map
func (x *SyncIndex) Entries() map[string]*models.SyncIndexEntry {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[string]*models.SyncIndexEntry, len(x.data.Payslips))
	for id, entry := range x.data.Payslips {
		out[id] = entry
	}
	return out
}

func (x *SyncIndex) LastSync() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.data.LastSync
}
