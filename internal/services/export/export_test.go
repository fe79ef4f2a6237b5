package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/hrsync/internal/models"
)

func sampleEmployees() []models.Employee {
	return []models.Employee{
		{"id": "p1", "fullName": "Lovelace, Ada", "directReports": float64(3), "isSSOOnly": false, "context": map[string]any{"k": "v"}},
		{"id": "p2", "fullName": "Hopper, Grace", "employeeCode": "E7"},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	fields := []string{"id", "fullName", "directReports", "isSSOOnly", "employeeCode", "context"}

	require.NoError(t, WriteCSV(&buf, sampleEmployees(), fields))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, fields, rows[0])
	assert.Equal(t, []string{"p1", "Lovelace, Ada", "3", "false", "", `{"k":"v"}`}, rows[1])
	assert.Equal(t, []string{"p2", "Hopper, Grace", "", "", "E7", ""}, rows[2])
}

func TestMarshalEmployees_Empty(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	data, err := MarshalEmployees(nil, now)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "2024-05-01T09:30:00Z", got["exported_at"])
	assert.Equal(t, float64(0), got["total_count"])
	assert.Equal(t, []any{}, got["employees"])
}

func TestEmployees_WritesTimestampedFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)

	paths, err := Employees(dir, "employees", sampleEmployees(), models.EnrichedCSVFields, now)
	require.NoError(t, err)
	assert.Contains(t, paths.JSON, "employees_20240501_093015.json")
	assert.Contains(t, paths.CSV, "employees_20240501_093015.csv")

	data, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	var envelope models.EmployeeExport
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, 2, envelope.TotalCount)
	assert.Equal(t, "p2", envelope.Employees[1].ID())

	f, err := os.Open(paths.CSV)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, models.EnrichedCSVFields, rows[0])
}
