package audit

import "time"

// Entry records a single mutating control-plane request. Entries are
// serialized as-is to JSONL sinks, so field tags are part of the format.
type Entry struct {
	ID         string    `json:"id,omitempty"`
	Time       time.Time `json:"time"`
	TenantID   string    `json:"tenant"`
	User       string    `json:"user"`
	Role       string    `json:"role"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
}
