package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestRegisterJob_ValidatesSchedule(t *testing.T) {
	s := NewService(arbor.NewLogger())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.RegisterJob("every-minute", "* * * * *", "", noop))
	assert.Error(t, s.RegisterJob("too-often", "*/2 * * * *", "", noop))
	assert.Error(t, s.RegisterJob("garbage", "not a cron", "", noop))

	require.NoError(t, s.RegisterJob("weekly", "0 6 * * 1", "payslip sync", noop))
	assert.Error(t, s.RegisterJob("weekly", "0 7 * * 1", "", noop), "duplicate name")
}

func TestTriggerJob_RecordsOutcome(t *testing.T) {
	s := NewService(arbor.NewLogger())
	fail := true
	require.NoError(t, s.RegisterJob("sync", "0 6 * * *", "", func(ctx context.Context) error {
		if fail {
			return errors.New("portal unavailable")
		}
		return nil
	}))

	require.NoError(t, s.TriggerJob("sync"))
	status, err := s.GetJobStatus("sync")
	require.NoError(t, err)
	assert.Equal(t, "portal unavailable", status.LastError)
	assert.NotNil(t, status.LastRun)
	assert.Nil(t, status.NextRun)

	fail = false
	require.NoError(t, s.TriggerJob("sync"))
	status, err = s.GetJobStatus("sync")
	require.NoError(t, err)
	assert.Empty(t, status.LastError)
	assert.Equal(t, 2, status.Runs)
	assert.False(t, status.IsRunning)

	assert.Error(t, s.TriggerJob("missing"))
}

func TestTriggerJob_RecoversPanic(t *testing.T) {
	s := NewService(arbor.NewLogger())
	require.NoError(t, s.RegisterJob("boom", "0 6 * * *", "", func(ctx context.Context) error {
		panic("nil session")
	}))

	require.NoError(t, s.TriggerJob("boom"))
	status, err := s.GetJobStatus("boom")
	require.NoError(t, err)
	assert.Equal(t, "panic: nil session", status.LastError)
}

func TestStartStop(t *testing.T) {
	s := NewService(arbor.NewLogger())
	var seen context.Context
	require.NoError(t, s.RegisterJob("sync", "0 6 * * *", "", func(ctx context.Context) error {
		seen = ctx
		return nil
	}))

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start(context.Background()))

	status, err := s.GetJobStatus("sync")
	require.NoError(t, err)
	assert.NotNil(t, status.NextRun)

	require.NoError(t, s.TriggerJob("sync"))
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	require.NotNil(t, seen)
	assert.ErrorIs(t, seen.Err(), context.Canceled)
}
