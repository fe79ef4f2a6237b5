package common

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCrashFile(t *testing.T) {
	dir := t.TempDir()
	old := CrashLogDir
	CrashLogDir = dir
	t.Cleanup(func() { CrashLogDir = old })

	path := WriteCrashFile("nil map write", "goroutine 1 [running]:")
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "HRSYNC CRASH REPORT")
	assert.Contains(t, string(data), "nil map write")
	assert.Contains(t, string(data), "goroutine 1 [running]:")
}
