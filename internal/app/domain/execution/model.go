package execution

import "time"

// Status is the terminal outcome of one mapping execution.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Source records what triggered an execution.
type Source string

const (
	SourceAPI      Source = "api"
	SourceFlow     Source = "flow"
	SourceRule     Source = "rule"
	SourceSchedule Source = "schedule"
)

// Record is the persisted trace of one outbound mapping call. RequestURL and
// ResponseBody are stored after secret redaction; ResponseBody is capped by
// the caller's body limit.
type Record struct {
	ID             string
	TenantID       string
	MappingKey     string
	MappingVersion int
	Status         Status
	Source         Source
	HTTPStatus     int
	Attempts       int
	DurationMs     int64
	RequestURL     string
	ResponseBody   string
	Mapped         map[string]any
	Error          string
	CreatedAt      time.Time
}
