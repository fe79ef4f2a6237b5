package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/models"
)

// pagedSource serves a fixed record set with {data, total} pages
type pagedSource struct {
	records  []models.RemoteRecord
	maxPage  int  // Server-side page cap, 0 for none
	bareList bool // Answer with a bare array (no total)
	starts   []int
	err      error
}

func (s *pagedSource) fetch(ctx context.Context, start, limit int) (*models.Page, error) {
	s.starts = append(s.starts, start)
	if s.err != nil {
		return nil, s.err
	}
	if s.maxPage > 0 && limit > s.maxPage {
		limit = s.maxPage
	}
	end := min(start+limit, len(s.records))
	var batch []models.RemoteRecord
	if start < len(s.records) {
		batch = s.records[start:end]
	}
	if s.bareList {
		return &models.Page{Records: batch, Total: len(batch)}, nil
	}
	return &models.Page{Records: batch, Total: len(s.records), HasTotal: true}, nil
}

func makeRecords(n int) []models.RemoteRecord {
	out := make([]models.RemoteRecord, n)
	for i := range out {
		out[i] = models.RemoteRecord{"id": fmt.Sprintf("r%d", i)}
	}
	return out
}

func TestPaginator_ShortLastPage(t *testing.T) {
	src := &pagedSource{records: makeRecords(4)}

	got, err := NewPaginator(src.fetch, 3, 0, arbor.NewLogger()).ListAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, got, 4)
	assert.Equal(t, []int{0, 3}, src.starts, "no request after the total is reached")
}

func TestPaginator_AdvancesByActualCount(t *testing.T) {
	src := &pagedSource{records: makeRecords(5), maxPage: 2}

	got, err := NewPaginator(src.fetch, 3, 0, arbor.NewLogger()).ListAll(context.Background())
	require.NoError(t, err)

	assert.Len(t, got, 5)
	assert.Equal(t, []int{0, 2, 4}, src.starts)
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("r%d", i), r["id"])
	}
}

func TestPaginator_BareListIsSinglePage(t *testing.T) {
	src := &pagedSource{records: makeRecords(2), bareList: true}

	got, err := NewPaginator(src.fetch, 100, 0, arbor.NewLogger()).ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, []int{0}, src.starts)
}

func TestPaginator_EmptyListing(t *testing.T) {
	src := &pagedSource{}

	got, err := NewPaginator(src.fetch, 100, 0, arbor.NewLogger()).ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []int{0}, src.starts)
}

func TestPaginator_Error(t *testing.T) {
	boom := errors.New("boom")
	src := &pagedSource{err: boom}

	_, err := NewPaginator(src.fetch, 10, 0, arbor.NewLogger()).ListAll(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPaginator_Cancelled(t *testing.T) {
	src := &pagedSource{records: makeRecords(10)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPaginator(src.fetch, 3, 0, arbor.NewLogger()).ListAll(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.starts)
}
