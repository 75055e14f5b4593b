package events

import "encoding/json"

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// OperationRecordedData contains data for OperationRecorded events
type OperationRecordedData struct {
	OperationID   int64  `json:"operation_id"`
	AssetCode     string `json:"asset_code"`
	OperationType string `json:"operation_type"`
	DCAPlanID     *int64 `json:"dca_plan_id,omitempty"`
}

// EventType returns the event type for OperationRecordedData
func (d *OperationRecordedData) EventType() EventType {
	return OperationRecorded
}

// OperationChangedData contains data for OperationChanged events
type OperationChangedData struct {
	OperationID int64  `json:"operation_id"`
	AssetCode   string `json:"asset_code"`
	Action      string `json:"action"` // "updated", "deleted", "status"
	Status      string `json:"status,omitempty"`
}

// EventType returns the event type for OperationChangedData
func (d *OperationChangedData) EventType() EventType {
	return OperationChanged
}

// DividendResolvedData contains data for DividendResolved events
type DividendResolvedData struct {
	OperationID         int64  `json:"operation_id"`
	AssetCode           string `json:"asset_code"`
	Mode                string `json:"mode"`
	ReinvestOperationID *int64 `json:"reinvest_operation_id,omitempty"`
}

// EventType returns the event type for DividendResolvedData
func (d *DividendResolvedData) EventType() EventType {
	return DividendResolved
}

// PlanChangedData contains data for PlanChanged events
type PlanChangedData struct {
	PlanID int64  `json:"plan_id"`
	Action string `json:"action"`
	Status string `json:"status,omitempty"`
}

// EventType returns the event type for PlanChangedData
func (d *PlanChangedData) EventType() EventType {
	return PlanChanged
}

// PlanExecutedData summarises one executor run for a plan
type PlanExecutedData struct {
	PlanID    int64  `json:"plan_id"`
	AssetCode string `json:"asset_code"`
	RunID     string `json:"run_id"`
	Executed  int    `json:"executed"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
}

// EventType returns the event type for PlanExecutedData
func (d *PlanExecutedData) EventType() EventType {
	return PlanExecuted
}

// PlanHistoryRegeneratedData contains data for PlanHistoryRegenerated events
type PlanHistoryRegeneratedData struct {
	PlanID    int64  `json:"plan_id"`
	AssetCode string `json:"asset_code"`
	Removed   int    `json:"removed"`
	Created   int    `json:"created"`
}

// EventType returns the event type for PlanHistoryRegeneratedData
func (d *PlanHistoryRegeneratedData) EventType() EventType {
	return PlanHistoryRegenerated
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}

// JobStatusData contains data for job lifecycle events
type JobStatusData struct {
	JobName  string  `json:"job_name"`
	Status   string  `json:"status"` // "completed", "failed"
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// EventType returns the event type for JobStatusData
func (d *JobStatusData) EventType() EventType {
	if d.Status == "failed" {
		return JobFailed
	}
	return JobCompleted
}

// GetTypedData converts the event's map payload into its typed form.
// Returns nil for unknown types or malformed payloads.
func (e *Event) GetTypedData() EventData {
	if e.Data == nil {
		return nil
	}

	var data EventData
	switch e.Type {
	case OperationRecorded:
		data = &OperationRecordedData{}
	case OperationChanged:
		data = &OperationChangedData{}
	case DividendResolved:
		data = &DividendResolvedData{}
	case PlanChanged:
		data = &PlanChangedData{}
	case PlanExecuted:
		data = &PlanExecutedData{}
	case PlanHistoryRegenerated:
		data = &PlanHistoryRegeneratedData{}
	case ErrorOccurred:
		data = &ErrorEventData{}
	case JobCompleted, JobFailed:
		data = &JobStatusData{}
	default:
		return nil
	}

	if err := convertMapToStruct(e.Data, data); err != nil {
		return nil
	}
	return data
}

// AssetCode extracts the asset code carried by ledger events, if any
func (e *Event) AssetCode() string {
	if e.Data == nil {
		return ""
	}
	code, _ := e.Data["asset_code"].(string)
	return code
}

func convertMapToStruct(m map[string]interface{}, v interface{}) error {
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(jsonBytes, v)
}

// convertEventDataToMap converts typed EventData to the map carried on the bus
func convertEventDataToMap(data EventData) map[string]interface{} {
	if data == nil {
		return nil
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &result); err != nil {
		return nil
	}

	return result
}
