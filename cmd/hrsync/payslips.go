package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ternarybob/hrsync/internal/models"
	"github.com/ternarybob/hrsync/internal/services/extract"
	"github.com/ternarybob/hrsync/internal/storage/file"
)

func runPayslips(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("payslips")
	skipPDF := fs.Bool("skip-pdf", false, "Fetch detail JSON only")
	pdfOnly := fs.Bool("pdf-only", false, "Download missing PDFs for payslips already in the cache")
	list := fs.Bool("list", false, "Summarise the local cache and exit")
	browser := fs.Bool("browser", false, "Log in with a browser and keep it open for PDF downloads")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	if *list {
		summary, err := extract.ListCached(file.NewSyncIndex(a.config.Sync.CacheDir, a.logger))
		if err != nil {
			return err
		}
		printCachedSummary(summary)
		return nil
	}

	mode := extract.PayslipFull
	switch {
	case *skipPDF && *pdfOnly:
		return usagef("-skip-pdf and -pdf-only cannot be combined")
	case *skipPDF:
		mode = extract.PayslipSkipPDF
	case *pdfOnly:
		mode = extract.PayslipPDFOnly
	}

	result, err := syncPayslips(ctx, a, mode, *browser)
	if result != nil {
		printSyncResult(mode, result)
	}
	return err
}

// syncPayslips acquires a session and runs one payslip sync; shared with the scheduler
func syncPayslips(ctx context.Context, a *app, mode extract.PayslipMode, useBrowser bool) (*models.SyncResult, error) {
	runID := uuid.NewString()
	logger := a.logger.WithCorrelationId(runID)

	storage, err := a.Storage()
	if err != nil {
		return nil, err
	}

	session, err := a.Acquire(ctx, useBrowser && mode != extract.PayslipSkipPDF, "")
	if err != nil {
		return nil, err
	}
	defer session.Close()

	opts := []extract.PayslipOption{extract.WithRunHistory(storage.RunHistory())}
	if session.Browser != nil {
		opts = append(opts, extract.WithLiveBrowser(session.Browser))
	}

	syncer := extract.NewPayslipSyncer(
		a.Portal(session, logger),
		file.NewSyncIndex(a.config.Sync.CacheDir, logger),
		a.config.Sync,
		logger,
		opts...,
	)

	logger.Info().
		Str("mode", mode.Kind()).
		Str("cache_dir", a.config.Sync.CacheDir).
		Msg("Starting payslip sync")

	result, err := syncer.Run(ctx, mode, runID)
	err = a.invalidateOnExpiry(err)
	if result != nil {
		logger.Info().
			Int("total", result.TotalAvailable).
			Int("cached", result.AlreadyCached).
			Int("fetched", result.NewlyFetched).
			Int("skipped", result.Skipped).
			Int("failed", result.Failed).
			Msg("Payslip sync finished")
	}
	return result, err
}

func printSyncResult(mode extract.PayslipMode, r *models.SyncResult) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	if mode == extract.PayslipPDFOnly {
		fmt.Println("PDF download summary")
		fmt.Printf("  Indexed payslips:   %d\n", r.TotalAvailable)
		fmt.Printf("  PDFs already saved: %d\n", r.AlreadyCached)
		fmt.Printf("  PDFs downloaded:    %d\n", r.NewlyFetched)
	} else {
		fmt.Println("Sync summary")
		fmt.Printf("  Total available: %d\n", r.TotalAvailable)
		fmt.Printf("  Already cached:  %d\n", r.AlreadyCached)
		fmt.Printf("  Newly fetched:   %d\n", r.NewlyFetched)
	}
	if r.Skipped > 0 {
		fmt.Printf("  Skipped:         %d\n", r.Skipped)
	}
	if r.Failed > 0 {
		fmt.Printf("  Failed:          %d (re-run to retry)\n", r.Failed)
	}
	fmt.Println(strings.Repeat("=", 50))
}

func printCachedSummary(s *extract.CachedSummary) {
	if s.Total == 0 {
		fmt.Println("No cached payslips found.")
		return
	}

	fmt.Printf("Cached payslips: %d\n", s.Total)
	if s.LastSync != "" {
		fmt.Printf("Last sync: %s\n", s.LastSync)
	}
	fmt.Println()

	for _, year := range s.Years {
		fmt.Printf("  %s: %d payslips\n", year.Year, len(year.Dates))
		for _, date := range year.Recent {
			fmt.Printf("    - %s\n", date)
		}
		if more := len(year.Dates) - len(year.Recent); more > 0 {
			fmt.Printf("    ... and %d more\n", more)
		}
	}
}
