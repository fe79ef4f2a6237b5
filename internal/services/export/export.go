// Package export writes employee directory extracts to JSON and CSV files.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ternarybob/hrsync/internal/models"
	"github.com/ternarybob/hrsync/internal/storage/file"
)

const timestampLayout = "20060102_150405"

// Paths are the files written by one export
type Paths struct {
	JSON string
	CSV  string
}

// Employees writes <dir>/<prefix>_<timestamp>.json and .csv. fields selects
// and orders the CSV columns; fields missing from a record are left empty.
func Employees(dir, prefix string, employees []models.Employee, fields []string, now time.Time) (*Paths, error) {
	stamp := now.Format(timestampLayout)
	paths := &Paths{
		JSON: filepath.Join(dir, fmt.Sprintf("%s_%s.json", prefix, stamp)),
		CSV:  filepath.Join(dir, fmt.Sprintf("%s_%s.csv", prefix, stamp)),
	}

	data, err := MarshalEmployees(employees, now)
	if err != nil {
		return nil, err
	}
	if err := file.WriteFileAtomic(paths.JSON, data, 0644, 0755); err != nil {
		return nil, err
	}

	f, err := os.Create(paths.CSV)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", paths.CSV, err)
	}
	if err := WriteCSV(f, employees, fields); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", paths.CSV, err)
	}

	return paths, nil
}

// MarshalEmployees renders the JSON export envelope
func MarshalEmployees(employees []models.Employee, now time.Time) ([]byte, error) {
	if employees == nil {
		employees = []models.Employee{}
	}
	envelope := models.EmployeeExport{
		ExportedAt: now.Format(time.RFC3339),
		TotalCount: len(employees),
		Employees:  employees,
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode employees: %w", err)
	}
	return data, nil
}

// WriteCSV writes a header row followed by one row per employee
func WriteCSV(w io.Writer, employees []models.Employee, fields []string) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(fields); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	row := make([]string, len(fields))
	for _, e := range employees {
		for i, field := range fields {
			row[i] = cell(e[field])
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
