package models

import "time"

// RemoteRecord is an opaque JSON object returned by a listing endpoint
type RemoteRecord map[string]any

// Keys returns the record's top-level field names
func (r RemoteRecord) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	return keys
}

// SyncIndexEntry records one fetched remote record. Paths are relative to the cache root.
type SyncIndexEntry struct {
	Date          string  `json:"pay_date"`
	PrimaryPath   string  `json:"json_path"`
	SecondaryPath *string `json:"pdf_path"`
	CachedAt      string  `json:"cached_at"`
}

// HasSecondary reports whether a secondary artifact was recorded
func (e *SyncIndexEntry) HasSecondary() bool {
	return e.SecondaryPath != nil && *e.SecondaryPath != ""
}

// SyncIndexFile is the on-disk ledger of synced records
type SyncIndexFile struct {
	Payslips   map[string]*SyncIndexEntry `json:"payslips"`
	TotalCount int                        `json:"total_count"`
	LastSync   string                     `json:"last_sync,omitempty"`
}

// SyncResult summarises one sync run
type SyncResult struct {
	TotalAvailable int
	AlreadyCached  int
	NewlyFetched   int
	Skipped        int // No identifier could be extracted
	Failed         int // Fetch failed for a reason other than session expiry
}

// SyncRun is a persisted history entry for a sync or export run
type SyncRun struct {
	ID         string
	Kind       string // "payslips", "payslip-pdfs", "employees"
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Cached     int
	Fetched    int
	Skipped    int
	Failed     int
	Error      string
}

// Duration returns how long the run took
func (r *SyncRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Page is one page of a paginated listing. HasTotal is false when the
// endpoint answered with a bare array, in which case Total is the array length.
type Page struct {
	Records  []RemoteRecord
	Total    int
	HasTotal bool
}
