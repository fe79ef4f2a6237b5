package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ternarybob/hrsync/internal/models"
	"github.com/ternarybob/hrsync/internal/services/export"
	"github.com/ternarybob/hrsync/internal/services/extract"
)

const exportPrefix = "employees"

func runEmployees(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("employees")
	test := fs.Bool("test", false, "Fetch a few records to check access and exit")
	enrich := fs.Bool("enrich", false, "Merge employee codes and status from each employee card")
	output := fs.String("output", a.config.Employees.OutputDir, "Directory for the JSON and CSV exports")
	if err := fs.Parse(args); err != nil {
		return flagError(err)
	}

	if *test {
		return testEmployees(ctx, a)
	}

	paths, err := exportEmployees(ctx, a, *enrich, *output)
	if paths != nil {
		fmt.Printf("\nExported to:\n  %s\n  %s\n", paths.JSON, paths.CSV)
	}
	return err
}

func testEmployees(ctx context.Context, a *app) error {
	session, err := a.Acquire(ctx, false, "")
	if err != nil {
		return err
	}
	defer session.Close()

	extractor := extract.NewEmployeeExtractor(a.Portal(session, a.logger), nil, a.config.Employees, a.logger)
	result, err := extractor.TestConnection(ctx)
	if err != nil {
		return a.invalidateOnExpiry(err)
	}

	fmt.Printf("Connection OK. Directory holds %d employees.\n", result.Total)
	for _, e := range result.Sample {
		fmt.Printf("  %v  %v  (%v)\n", e["id"], e["fullName"], e["jobTitle"])
	}
	if result.Card != nil {
		fmt.Printf("Employee card for %s: code %s, reference %s, status %s\n",
			result.Card.PeopleID, result.Card.EmployeeCode, result.Card.ReferenceNumber, result.Card.Status)
	} else if len(result.Sample) > 0 {
		fmt.Println("No employee card returned. Enrichment may need additional permissions.")
	}
	return nil
}

// exportEmployees extracts, optionally enriches and writes the directory;
// shared with the scheduler
func exportEmployees(ctx context.Context, a *app, enrich bool, dir string) (*export.Paths, error) {
	runID := uuid.NewString()
	logger := a.logger.WithCorrelationId(runID)
	run := &models.SyncRun{ID: runID, Kind: "employees", StartedAt: time.Now()}

	storage, err := a.Storage()
	if err != nil {
		return nil, err
	}
	history := storage.RunHistory()
	defer func() {
		run.FinishedAt = time.Now()
		if err := history.Record(context.Background(), run); err != nil {
			logger.Warn().Err(err).Msg("Failed to record run history")
		}
	}()

	paths, err := func() (*export.Paths, error) {
		session, err := a.Acquire(ctx, false, "")
		if err != nil {
			return nil, err
		}
		defer session.Close()

		extractor := extract.NewEmployeeExtractor(a.Portal(session, logger), storage.CardCache(), a.config.Employees, logger)
		employees, err := extractor.Extract(ctx)
		if err != nil {
			return nil, err
		}
		run.Total = len(employees)

		fields := models.DirectoryCSVFields
		if enrich {
			fields = models.EnrichedCSVFields
			result, err := extractor.Enrich(ctx, employees)
			if err != nil {
				return nil, err
			}
			run.Cached = result.FromCache
			run.Fetched = result.Fetched
			run.Skipped = result.Missing
			run.Failed = result.Failed
			if result.Interrupted != nil {
				_ = a.invalidateOnExpiry(result.Interrupted)
				logger.Warn().
					Err(result.Interrupted).
					Int("enriched", result.Enriched).
					Msg("Enrichment interrupted, exporting partial data. Re-run to resume from the card cache")
				run.Error = result.Interrupted.Error()
			}
		}

		return export.Employees(dir, exportPrefix, employees, fields, time.Now())
	}()
	if err != nil {
		err = a.invalidateOnExpiry(err)
		run.Error = err.Error()
		return nil, err
	}

	logger.Info().
		Int("employees", run.Total).
		Str("json", paths.JSON).
		Str("csv", paths.CSV).
		Msg("Employee export written")
	return paths, nil
}
