package extract

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
	"github.com/ternarybob/hrsync/internal/services/pdf"
	syncsvc "github.com/ternarybob/hrsync/internal/services/sync"
)

// PayslipMode selects what a payslip run downloads
type PayslipMode int

const (
	// PayslipFull fetches detail JSON and the PDF for every missing payslip
	PayslipFull PayslipMode = iota
	// PayslipSkipPDF fetches detail JSON only
	PayslipSkipPDF
	// PayslipPDFOnly downloads PDFs for indexed payslips that lack one
	PayslipPDFOnly
)

// Kind is the run history label for the mode
func (m PayslipMode) Kind() string {
	if m == PayslipPDFOnly {
		return "payslip-pdfs"
	}
	return "payslips"
}

// PayslipSource is the part of the portal client the payslip sync needs
type PayslipSource interface {
	QueryPayStatements(ctx context.Context, start, limit int) (*models.Page, error)
	FetchRecord(ctx context.Context, remoteID string) ([]byte, error)
	FetchArtifact(ctx context.Context, ref interfaces.ArtifactRef) ([]byte, error)
	ArtifactURL(ref interfaces.ArtifactRef) string
}

// PayslipSyncer mirrors pay statements into the local cache
type PayslipSyncer struct {
	source    PayslipSource
	engine    *syncsvc.Engine
	history   interfaces.RunHistory
	browser   interfaces.LiveBrowser
	pageSize  int
	pageDelay time.Duration
	logger    arbor.ILogger
}

// PayslipOption configures a PayslipSyncer
type PayslipOption func(*PayslipSyncer)

// WithRunHistory records a models.SyncRun after every run
func WithRunHistory(history interfaces.RunHistory) PayslipOption {
	return func(s *PayslipSyncer) {
		s.history = history
	}
}

// WithLiveBrowser enables browser-mediated PDF downloads when plain HTTP fails
func WithLiveBrowser(browser interfaces.LiveBrowser) PayslipOption {
	return func(s *PayslipSyncer) {
		s.browser = browser
	}
}

// NewPayslipSyncer creates a syncer writing into ledger's cache directory
func NewPayslipSyncer(source PayslipSource, ledger interfaces.SyncLedger, config common.SyncConfig, logger arbor.ILogger, opts ...PayslipOption) *PayslipSyncer {
	s := &PayslipSyncer{
		source: source,
		engine: syncsvc.NewEngine(ledger, logger,
			syncsvc.WithRecordDelay(common.Duration(config.RecordDelay, 200*time.Millisecond)),
			syncsvc.WithArtifactValidator(pdf.Validate),
		),
		pageSize:  config.PageSize,
		pageDelay: common.Duration(config.PageDelay, 100*time.Millisecond),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one sync in the given mode. Progress already written to the
// cache is kept when it returns an error.
func (s *PayslipSyncer) Run(ctx context.Context, mode PayslipMode, runID string) (*models.SyncResult, error) {
	run := &models.SyncRun{ID: runID, Kind: mode.Kind(), StartedAt: time.Now()}
	lister := syncsvc.NewPaginator(s.source.QueryPayStatements, s.pageSize, s.pageDelay, s.logger)

	var result *models.SyncResult
	var err error
	switch mode {
	case PayslipFull:
		result, err = s.engine.Sync(ctx, lister, s.source, s.artifactFetcher())
	case PayslipSkipPDF:
		result, err = s.engine.Sync(ctx, lister, s.source, nil)
	case PayslipPDFOnly:
		result, err = s.engine.SyncArtifacts(ctx, lister, s.artifactFetcher())
	default:
		return nil, fmt.Errorf("unknown payslip mode %d", mode)
	}

	run.FinishedAt = time.Now()
	if result != nil {
		run.Total = result.TotalAvailable
		run.Cached = result.AlreadyCached
		run.Fetched = result.NewlyFetched
		run.Skipped = result.Skipped
		run.Failed = result.Failed
	}
	if err != nil {
		run.Error = err.Error()
	}
	s.record(run)

	return result, err
}

func (s *PayslipSyncer) record(run *models.SyncRun) {
	if s.history == nil {
		return
	}
	// The run context may already be cancelled; history is written regardless
	if err := s.history.Record(context.Background(), run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to record sync run")
	}
}

func (s *PayslipSyncer) artifactFetcher() interfaces.ArtifactFetcher {
	if s.browser == nil {
		return s.source
	}
	return &browserFallback{source: s.source, browser: s.browser, logger: s.logger}
}

// browserFallback downloads over HTTP first and retries inside the live
// browser, whose origin carries cookies the HTTP client may lack
type browserFallback struct {
	source  PayslipSource
	browser interfaces.LiveBrowser
	logger  arbor.ILogger
}

func (f *browserFallback) FetchArtifact(ctx context.Context, ref interfaces.ArtifactRef) ([]byte, error) {
	data, err := f.source.FetchArtifact(ctx, ref)
	if err == nil || ctx.Err() != nil {
		return data, err
	}

	f.logger.Debug().
		Err(err).
		Str("statement_id", ref.StatementID).
		Msg("HTTP payslip download failed, retrying in browser")

	data, browserErr := f.browser.FetchBinary(ctx, f.source.ArtifactURL(ref))
	if browserErr != nil {
		return nil, errors.Join(err, fmt.Errorf("browser download failed: %w", browserErr))
	}
	return data, nil
}

// YearSummary is the cached payslips for one year, newest first
type YearSummary struct {
	Year   string
	Dates  []string
	Recent []string // At most three newest dates
}

// CachedSummary describes the local payslip cache
type CachedSummary struct {
	Total    int
	LastSync string
	Years    []YearSummary // Newest year first
}

// ListCached groups the ledger's entries by year. It needs no session.
func ListCached(ledger interfaces.SyncLedger) (*CachedSummary, error) {
	if err := ledger.Load(); err != nil {
		return nil, err
	}

	entries := ledger.Entries()
	byYear := make(map[string][]string)
	for _, entry := range entries {
		year := syncsvc.UnknownDate
		if len(entry.Date) >= 4 && entry.Date != syncsvc.UnknownDate {
			year = entry.Date[:4]
		}
		byYear[year] = append(byYear[year], entry.Date)
	}

	summary := &CachedSummary{Total: len(entries), LastSync: ledger.LastSync()}
	for year, dates := range byYear {
		sort.Sort(sort.Reverse(sort.StringSlice(dates)))
		recent := dates
		if len(recent) > 3 {
			recent = recent[:3]
		}
		summary.Years = append(summary.Years, YearSummary{Year: year, Dates: dates, Recent: recent})
	}
	sort.Slice(summary.Years, func(i, j int) bool {
		return summary.Years[i].Year > summary.Years[j].Year
	})
	return summary, nil
}
