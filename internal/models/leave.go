package models

import (
	"strconv"
)

// Leave listing sources
const (
	LeaveSourceGrid        = "grid"
	LeaveSourceAlternative = "alternative"
	LeaveSourceMessages    = "messages"
)

// LeaveListing is a page of pending leave requests and where it came from.
// Records from the alternative endpoint are not guaranteed to share the grid schema.
type LeaveListing struct {
	Source  string
	Total   int
	Records []RemoteRecord
}

// LeaveQuery filters the pending requests listing
type LeaveQuery struct {
	OlderThanDays int
	Limit         int
	Employee      string
}

// LeaveDecision is the body posted to the leave-approve endpoint
type LeaveDecision struct {
	RecordID string `json:"recordId"`
	Action   string `json:"action"` // "approve" or "reject"
	Comments string `json:"comments"`
}

// LeaveSummary is the display view of a leave request
type LeaveSummary struct {
	RecordID    string
	Employee    string
	LeaveType   string
	StartDate   string
	EndDate     string
	Status      string
	Manager     string
	PendingDays string
	Details     string
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
