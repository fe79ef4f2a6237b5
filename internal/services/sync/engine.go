package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
	"github.com/ternarybob/hrsync/internal/storage/file"
)

// ArtifactValidator rejects downloaded artifacts that are not what they claim to be
type ArtifactValidator func(data []byte) error

// Engine fetches every remote record missing from the ledger, one at a time.
// The ledger is saved after each record and before any error propagates,
// so an interrupted run loses at most the record in flight.
type Engine struct {
	ledger   interfaces.SyncLedger
	limiter  *rate.Limiter
	validate ArtifactValidator
	logger   arbor.ILogger
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithRecordDelay sets the pause between per-record fetches
func WithRecordDelay(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.limiter = newLimiter(d)
	}
}

// WithArtifactValidator checks artifact bytes before they are written
func WithArtifactValidator(v ArtifactValidator) EngineOption {
	return func(e *Engine) {
		e.validate = v
	}
}

// NewEngine creates a sync engine over a ledger
func NewEngine(ledger interfaces.SyncLedger, logger arbor.ILogger, opts ...EngineOption) *Engine {
	e := &Engine{
		ledger:  ledger,
		limiter: newLimiter(200 * time.Millisecond),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sync lists all remote records and fetches the missing ones. artifacts may be
// nil to skip secondary artifacts. On session expiry or cancellation the
// ledger is saved and the error returned with the partial result.
func (e *Engine) Sync(ctx context.Context, lister interfaces.Lister, fetcher interfaces.RecordFetcher, artifacts interfaces.ArtifactFetcher) (*models.SyncResult, error) {
	if err := e.ledger.Load(); err != nil {
		return nil, err
	}
	if last := e.ledger.LastSync(); last != "" {
		e.logger.Info().Str("last_sync", last).Int("cached", len(e.ledger.Entries())).Msg("Loaded sync index")
	} else {
		e.logger.Info().Msg("No previous sync found")
	}

	records, err := lister.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote records: %w", err)
	}

	result := &models.SyncResult{TotalAvailable: len(records)}
	e.logger.Info().Int("available", len(records)).Msg("Listed remote records")

	type pending struct {
		id     string
		record models.RemoteRecord
	}
	var missing []pending
	for _, record := range records {
		id, err := RemoteID(record)
		if err != nil {
			e.logger.Warn().Err(err).Msg("Skipping record")
			result.Skipped++
			continue
		}
		if e.ledger.IsSatisfied(id) {
			result.AlreadyCached++
			continue
		}
		missing = append(missing, pending{id: id, record: record})
	}

	e.logger.Info().
		Int("cached", result.AlreadyCached).
		Int("missing", len(missing)).
		Int("skipped", result.Skipped).
		Msg("Partitioned remote records")

	for i, p := range missing {
		if err := ctx.Err(); err != nil {
			return result, e.stop(err)
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return result, e.stop(err)
		}

		date := RecordDate(p.record)
		shortID := common.Truncate(p.id, 24)

		entry, err := e.fetchRecord(ctx, p.id, p.record, fetcher, artifacts)
		if err != nil {
			if isTerminal(ctx, err) {
				e.logger.Warn().Str("remote_id", shortID).Str("date", date).Err(err).Msg("Stopping sync, saving progress")
				return result, e.stop(err)
			}
			e.logger.Warn().Str("remote_id", shortID).Str("date", date).Err(err).Msg("Failed to fetch record")
			result.Failed++
			continue
		}

		e.ledger.Mark(p.id, entry)
		if err := e.ledger.Save(); err != nil {
			return result, err
		}
		result.NewlyFetched++

		e.logger.Info().
			Str("remote_id", shortID).
			Int("n", i+1).
			Int("of", len(missing)).
			Str("date", date).
			Bool("artifact", entry.HasSecondary()).
			Msg("Fetched record")
	}

	if err := e.ledger.Save(); err != nil {
		return result, err
	}
	return result, nil
}

// fetchRecord writes the detail document and, when possible, the artifact.
// A failed artifact download still indexes the record without it, unless the
// failure means the session is gone.
func (e *Engine) fetchRecord(ctx context.Context, id string, record models.RemoteRecord, fetcher interfaces.RecordFetcher, artifacts interfaces.ArtifactFetcher) (*models.SyncIndexEntry, error) {
	date := RecordDate(record)

	detail, err := fetcher.FetchRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	primary := e.primaryPath(id, date)
	if err := file.WriteFileAtomic(e.abs(primary), prettyJSON(detail), 0644, 0755); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", primary, err)
	}

	entry := &models.SyncIndexEntry{Date: date, PrimaryPath: primary}
	if artifacts == nil {
		return entry, nil
	}

	ref, ok := ArtifactRefFor(record)
	if !ok {
		e.logger.Debug().Str("date", date).Msg("Record has no artifact reference")
		return entry, nil
	}

	secondary, err := e.fetchArtifact(ctx, SiblingPath(primary, "pdf"), ref, artifacts)
	if err != nil {
		if isTerminal(ctx, err) {
			return nil, err
		}
		e.logger.Warn().Str("date", date).Err(err).Msg("Failed to fetch artifact")
		return entry, nil
	}
	entry.SecondaryPath = &secondary
	return entry, nil
}

// primaryPath picks the detail file for a record. The date alone names the
// file unless another indexed record already holds that name or the date is
// unknown; then a hash of the id is appended. A record keeps the path it was
// first given.
func (e *Engine) primaryPath(id, date string) string {
	if entry, ok := e.ledger.Get(id); ok && entry.PrimaryPath != "" {
		return entry.PrimaryPath
	}
	base := ArtifactPath(date, "json")
	if date == UnknownDate || e.heldByOther(base, id) {
		return SuffixedArtifactPath(date, id, "json")
	}
	return base
}

func (e *Engine) heldByOther(rel, id string) bool {
	for other, entry := range e.ledger.Entries() {
		if other != id && entry.PrimaryPath == rel {
			return true
		}
	}
	return false
}

// artifactPath is where an indexed record's artifact belongs, next to its detail file
func (e *Engine) artifactPath(id string, entry *models.SyncIndexEntry) string {
	if entry.PrimaryPath != "" {
		return SiblingPath(entry.PrimaryPath, "pdf")
	}
	if entry.Date == UnknownDate {
		return SuffixedArtifactPath(entry.Date, id, "pdf")
	}
	return ArtifactPath(entry.Date, "pdf")
}

func (e *Engine) fetchArtifact(ctx context.Context, rel string, ref interfaces.ArtifactRef, artifacts interfaces.ArtifactFetcher) (string, error) {
	data, err := artifacts.FetchArtifact(ctx, ref)
	if err != nil {
		return "", err
	}
	if e.validate != nil {
		if err := e.validate(data); err != nil {
			return "", fmt.Errorf("artifact %s rejected: %w", ref.StatementID, err)
		}
	}
	if err := file.WriteFileAtomic(e.abs(rel), data, 0644, 0755); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", rel, err)
	}
	return rel, nil
}

// SyncArtifacts downloads artifacts for indexed records whose artifact is
// missing on disk. The listing supplies the artifact ids, which the index
// does not store.
func (e *Engine) SyncArtifacts(ctx context.Context, lister interfaces.Lister, artifacts interfaces.ArtifactFetcher) (*models.SyncResult, error) {
	if err := e.ledger.Load(); err != nil {
		return nil, err
	}

	entries := e.ledger.Entries()
	result := &models.SyncResult{TotalAvailable: len(entries)}

	needed := make(map[string]*models.SyncIndexEntry)
	for id, entry := range entries {
		if entry.HasSecondary() && e.exists(*entry.SecondaryPath) {
			result.AlreadyCached++
			continue
		}
		needed[id] = entry
	}
	if len(needed) == 0 {
		e.logger.Info().Int("cached", result.AlreadyCached).Msg("All artifacts present")
		return result, nil
	}

	records, err := lister.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote records: %w", err)
	}
	refs := make(map[string]interfaces.ArtifactRef, len(records))
	for _, record := range records {
		id, err := RemoteID(record)
		if err != nil {
			continue
		}
		if ref, ok := ArtifactRefFor(record); ok {
			refs[id] = ref
		}
	}
	e.logger.Info().Int("missing", len(needed)).Int("refs", len(refs)).Msg("Resolved artifact references")

	ids := make([]string, 0, len(needed))
	for id := range needed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := needed[id]
		ref, ok := refs[id]
		if !ok {
			result.Skipped++
			continue
		}
		if err := e.limiter.Wait(ctx); err != nil {
			return result, e.stop(err)
		}

		rel, err := e.fetchArtifact(ctx, e.artifactPath(id, entry), ref, artifacts)
		if err != nil {
			if isTerminal(ctx, err) {
				return result, e.stop(err)
			}
			e.logger.Warn().Str("date", entry.Date).Err(err).Msg("Failed to fetch artifact")
			result.Failed++
			continue
		}

		entry.SecondaryPath = &rel
		e.ledger.Mark(id, entry)
		if err := e.ledger.Save(); err != nil {
			return result, err
		}
		result.NewlyFetched++
	}

	return result, e.ledger.Save()
}

// stop saves the ledger and returns the original error
func (e *Engine) stop(cause error) error {
	if err := e.ledger.Save(); err != nil {
		e.logger.Error().Err(err).Msg("Failed to save sync index")
	}
	return cause
}

// isTerminal reports whether err ends the run rather than just the record
func isTerminal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, common.ErrSessionExpired) ||
		errors.Is(err, context.Canceled)
}

func (e *Engine) abs(rel string) string {
	return filepath.Join(e.ledger.Root(), filepath.FromSlash(rel))
}

func (e *Engine) exists(rel string) bool {
	_, err := os.Stat(e.abs(rel))
	return err == nil
}

// prettyJSON indents JSON documents; anything else is written as received
func prettyJSON(data []byte) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return data
	}
	return buf.Bytes()
}
