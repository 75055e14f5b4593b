// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	// Ledger events
	OperationRecorded EventType = "OPERATION_RECORDED"
	OperationChanged  EventType = "OPERATION_CHANGED"
	DividendResolved  EventType = "DIVIDEND_RESOLVED"

	// DCA plan events
	PlanChanged            EventType = "PLAN_CHANGED"
	PlanExecuted           EventType = "PLAN_EXECUTED"
	PlanHistoryRegenerated EventType = "PLAN_HISTORY_REGENERATED"

	// System events
	ErrorOccurred EventType = "ERROR_OCCURRED"
	JobCompleted  EventType = "JOB_COMPLETED"
	JobFailed     EventType = "JOB_FAILED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Module    string                 `json:"module"`
}
