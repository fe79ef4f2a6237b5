package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/hrsync/internal/models"
)

// PageFunc fetches records [start, start+limit)
type PageFunc func(ctx context.Context, start, limit int) (*models.Page, error)

// Paginator drains an offset-paginated listing with a fixed delay between pages
type Paginator struct {
	fetch    PageFunc
	pageSize int
	limiter  *rate.Limiter
	logger   arbor.ILogger
}

// NewPaginator creates a paginator. A zero delay disables throttling.
func NewPaginator(fetch PageFunc, pageSize int, delay time.Duration, logger arbor.ILogger) *Paginator {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Paginator{
		fetch:    fetch,
		pageSize: pageSize,
		limiter:  newLimiter(delay),
		logger:   logger,
	}
}

// ListAll fetches pages until one comes back empty or the server's total is reached.
// The offset advances by the number of records actually returned, so a server
// that caps page size below the request still gets fully drained.
func (p *Paginator) ListAll(ctx context.Context) ([]models.RemoteRecord, error) {
	var all []models.RemoteRecord
	start := 0

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		page, err := p.fetch(ctx, start, p.pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page at offset %d: %w", start, err)
		}
		if page == nil || len(page.Records) == 0 {
			break
		}

		all = append(all, page.Records...)

		p.logger.Debug().
			Int("start", start).
			Int("received", len(page.Records)).
			Int("accumulated", len(all)).
			Int("total", page.Total).
			Msg("Fetched page")

		total := page.Total
		if !page.HasTotal {
			total = len(page.Records)
		}
		if len(all) >= total {
			break
		}
		start += len(page.Records)
	}

	return all, nil
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
