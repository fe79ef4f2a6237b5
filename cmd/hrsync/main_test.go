package main

import (
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/hrsync/internal/common"
)

func TestRun_ExitCodes(t *testing.T) {
	assert.Equal(t, 0, run([]string{"-version"}))
	assert.Equal(t, 2, run(nil))
	assert.Equal(t, 2, run([]string{"payroll"}))
	assert.Equal(t, 2, run([]string{"-no-such-flag"}))
}

func TestParseWithID(t *testing.T) {
	var comments *string
	define := func(fs *flag.FlagSet) { comments = fs.String("comments", "", "") }

	id, err := parseWithID("approve", []string{"rec-1", "-comments", "enjoy"}, define)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", id)
	assert.Equal(t, "enjoy", *comments)

	id, err = parseWithID("approve", []string{"-comments", "ok", "rec-2"}, define)
	require.NoError(t, err)
	assert.Equal(t, "rec-2", id)
	assert.Equal(t, "ok", *comments)

	_, err = parseWithID("approve", []string{"-comments", "ok"}, define)
	assert.Error(t, err)
}

func TestReport(t *testing.T) {
	logger := arbor.NewLogger()

	assert.Equal(t, 0, report(logger, nil))
	assert.Equal(t, 0, report(logger, flag.ErrHelp))
	assert.Equal(t, 1, report(logger, common.ErrSessionExpired))
	assert.Equal(t, 1, report(logger, errors.New("unexpected")))
	assert.Equal(t, 2, report(logger, usagef("leave %s needs a record id", "show")))
	assert.Equal(t, 1, report(logger, errVerifyInPortal))
	assert.Equal(t, 2, report(logger, flagError(errors.New("flag provided but not defined: -x"))))
	assert.Equal(t, 0, report(logger, flagError(flag.ErrHelp)))
}
