package models

import "time"

// Employee is a directory record; field names follow the portal's JSON
type Employee map[string]any

// ID returns the people id used by the employee-card endpoint
func (e Employee) ID() string {
	switch v := e["id"].(type) {
	case string:
		return v
	case float64:
		return formatNumber(v)
	}
	return ""
}

// EmployeeCard holds the HR fields missing from the directory listing
type EmployeeCard struct {
	PeopleID        string
	EmployeeCode    string
	ReferenceNumber string
	Status          string
	Raw             []byte // Full first element of the card response
	FetchedAt       time.Time
}

// Apply copies the card fields onto the employee record
func (c *EmployeeCard) Apply(e Employee) {
	e["employeeCode"] = c.EmployeeCode
	e["referenceNumber"] = c.ReferenceNumber
	e["status"] = c.Status
}

// EmployeeExport is the JSON export envelope
type EmployeeExport struct {
	ExportedAt string     `json:"exported_at"`
	TotalCount int        `json:"total_count"`
	Employees  []Employee `json:"employees"`
}

// DirectoryCSVFields is the column set for the plain directory export
var DirectoryCSVFields = []string{
	"id", "email", "userId", "fullName", "firstName", "lastName", "knownAs", "knownAsFnc",
	"initials", "jobTitle", "department", "location", "workTelephone", "workMobileTelephone",
	"reportsTo", "reportsToFullName", "reportsToUserId", "reportsToJobtitle", "reportsToFnc",
	"reportsToKnownas", "directReports", "isSSOOnly", "context",
}

// EnrichedCSVFields is the column set when employee cards were merged in
var EnrichedCSVFields = []string{
	"id", "fullName", "firstName", "lastName", "knownAs", "email", "userId", "jobTitle",
	"department", "location", "reportsTo", "reportsToFullName", "directReports",
	"employeeCode", "referenceNumber", "status", "context",
}
