package badger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
	"github.com/ternarybob/hrsync/internal/interfaces"
	"github.com/ternarybob/hrsync/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	config := &common.BadgerConfig{Path: filepath.Join(t.TempDir(), "db")}
	manager, err := NewManager(arbor.NewLogger(), config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func TestCardCache_PutGetCount(t *testing.T) {
	manager := newTestManager(t)
	cache := manager.CardCache()
	ctx := context.Background()

	_, err := cache.Get(ctx, "p-1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	card := &models.EmployeeCard{
		PeopleID:        "p-1",
		EmployeeCode:    "E001",
		ReferenceNumber: "R-9",
		Status:          "Active",
		Raw:             []byte(`{"EMPLOYEECODE":"E001"}`),
		FetchedAt:       time.Now(),
	}
	require.NoError(t, cache.Put(ctx, card))
	require.NoError(t, cache.Put(ctx, &models.EmployeeCard{PeopleID: "p-2", Status: "Leaver"}))

	got, err := cache.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "E001", got.EmployeeCode)
	assert.Equal(t, "R-9", got.ReferenceNumber)
	assert.JSONEq(t, `{"EMPLOYEECODE":"E001"}`, string(got.Raw))

	count, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	assert.Error(t, cache.Put(ctx, &models.EmployeeCard{}))
}

func TestRunHistory_ListNewestFirst(t *testing.T) {
	manager := newTestManager(t)
	history := manager.RunHistory()
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, history.Record(ctx, &models.SyncRun{
			ID:         id,
			Kind:       "payslips",
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Fetched:    i,
		}))
	}

	runs, err := history.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].ID)
	assert.Equal(t, "run-b", runs[1].ID)
	assert.Equal(t, time.Minute, runs[0].Duration())

	all, err := history.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
