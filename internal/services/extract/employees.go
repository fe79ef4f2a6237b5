// Package extract runs the portal extraction jobs: the employee directory,
// payslip synchronization and pending leave requests.
package extract

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
	syncsvc "github.com/ternarybob/hrsync/internal/services/sync"
)

// TestPageSize is the number of directory records fetched by a connection test
const TestPageSize = 3

// EmployeeSource is the part of the portal client the directory extractor needs
type EmployeeSource interface {
	QueryEmployees(ctx context.Context, start, limit int) (*models.Page, error)
	EmployeeCard(ctx context.Context, peopleID string) (*models.EmployeeCard, error)
}

// EmployeeExtractor pages through the employee directory and optionally
// merges in employee-card fields
type EmployeeExtractor struct {
	source    EmployeeSource
	cards     interfaces.CardCache // nil disables card caching
	batchSize int
	delay     time.Duration
	logger    arbor.ILogger
}

// NewEmployeeExtractor creates a directory extractor
func NewEmployeeExtractor(source EmployeeSource, cards interfaces.CardCache, config common.EmployeesConfig, logger arbor.ILogger) *EmployeeExtractor {
	return &EmployeeExtractor{
		source:    source,
		cards:     cards,
		batchSize: config.BatchSize,
		delay:     common.Duration(config.Delay, 500*time.Millisecond),
		logger:    logger,
	}
}

// ConnectionTest is the result of TestConnection
type ConnectionTest struct {
	Total  int
	Sample []models.Employee
	Card   *models.EmployeeCard // Card of the first sample, nil when the portal has none
}

// TestConnection fetches one small directory page and the first sample's card
func (x *EmployeeExtractor) TestConnection(ctx context.Context) (*ConnectionTest, error) {
	page, err := x.source.QueryEmployees(ctx, 0, TestPageSize)
	if err != nil {
		return nil, err
	}

	result := &ConnectionTest{Total: page.Total, Sample: toEmployees(page.Records)}
	if len(result.Sample) > 0 {
		if id := result.Sample[0].ID(); id != "" {
			card, err := x.source.EmployeeCard(ctx, id)
			if err != nil {
				return nil, err
			}
			result.Card = card
		}
	}
	return result, nil
}

// Extract returns the whole directory in portal order
func (x *EmployeeExtractor) Extract(ctx context.Context) ([]models.Employee, error) {
	x.logger.Info().
		Int("batch_size", x.batchSize).
		Dur("delay", x.delay).
		Msg("Extracting employee directory")

	records, err := syncsvc.NewPaginator(x.source.QueryEmployees, x.batchSize, x.delay, x.logger).ListAll(ctx)
	if err != nil {
		return nil, err
	}

	employees := toEmployees(records)
	x.logger.Info().Int("employees", len(employees)).Msg("Directory extraction complete")
	return employees, nil
}

func toEmployees(records []models.RemoteRecord) []models.Employee {
	employees := make([]models.Employee, len(records))
	for i, r := range records {
		employees[i] = models.Employee(r)
	}
	return employees
}

// EnrichResult counts what Enrich did. Interrupted is set when the run
// stopped early on session expiry or cancellation.
type EnrichResult struct {
	Enriched    int
	FromCache   int
	Fetched     int
	Missing     int // The portal had no card
	Failed      int
	Interrupted error
}

// Enrich merges employee-card fields into employees in place. Cards already
// in the cache are not fetched again, so an interrupted run resumes where it
// stopped. Session expiry and cancellation end the loop without an error:
// the partially enriched slice is still worth exporting.
func (x *EmployeeExtractor) Enrich(ctx context.Context, employees []models.Employee) (*EnrichResult, error) {
	result := &EnrichResult{}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if x.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(x.delay), 1)
	}

	if x.cards != nil {
		if cached, err := x.cards.Count(ctx); err == nil && cached > 0 {
			x.logger.Info().Int("cached_cards", cached).Msg("Resuming enrichment from card cache")
		}
	}

	for i, employee := range employees {
		id := employee.ID()
		if id == "" {
			result.Missing++
			continue
		}

		if card := x.cachedCard(ctx, id); card != nil {
			card.Apply(employee)
			result.Enriched++
			result.FromCache++
			continue
		}

		if err := ctx.Err(); err != nil {
			result.Interrupted = err
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			result.Interrupted = err
			break
		}

		card, err := x.source.EmployeeCard(ctx, id)
		if err != nil {
			if errors.Is(err, common.ErrSessionExpired) || ctx.Err() != nil {
				result.Interrupted = err
				break
			}
			x.logger.Warn().Err(err).Str("people_id", id).Msg("Failed to fetch employee card")
			result.Failed++
			continue
		}
		if card == nil {
			result.Missing++
			continue
		}

		if x.cards != nil {
			if err := x.cards.Put(ctx, card); err != nil {
				x.logger.Warn().Err(err).Str("people_id", id).Msg("Failed to cache employee card")
			}
		}
		card.Apply(employee)
		result.Enriched++
		result.Fetched++

		if (i+1)%x.progressEvery() == 0 {
			x.logger.Info().
				Int("done", i+1).
				Int("total", len(employees)).
				Int("cached", result.FromCache).
				Int("fetched", result.Fetched).
				Msg("Enrichment progress")
		}
	}

	if result.Interrupted != nil {
		x.logger.Warn().
			Err(result.Interrupted).
			Int("enriched", result.Enriched).
			Int("total", len(employees)).
			Msg("Enrichment interrupted, keeping partial results")
	}
	return result, nil
}

func (x *EmployeeExtractor) cachedCard(ctx context.Context, peopleID string) *models.EmployeeCard {
	if x.cards == nil {
		return nil
	}
	card, err := x.cards.Get(ctx, peopleID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			x.logger.Warn().Err(err).Str("people_id", peopleID).Msg("Card cache read failed")
		}
		return nil
	}
	return card
}

func (x *EmployeeExtractor) progressEvery() int {
	if x.batchSize > 0 {
		return x.batchSize
	}
	return 100
}
