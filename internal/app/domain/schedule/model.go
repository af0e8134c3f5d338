package schedule

import "time"

// Kind selects what a scheduled job triggers.
type Kind string

const (
	// KindMapping calls an API mapping with the job payload as input.
	KindMapping Kind = "mapping"
	// KindFlow starts a new flow session seeded with the job payload.
	KindFlow Kind = "flow"
)

// ValidKind reports whether k is a known job kind.
func ValidKind(k Kind) bool {
	return k == KindMapping || k == KindFlow
}

// Job is a cron-driven trigger owned by a tenant. Spec uses the standard
// five-field cron syntax.
type Job struct {
	ID        string
	TenantID  string
	Name      string
	Spec      string
	Kind      Kind
	TargetKey string
	Payload   map[string]any
	Enabled   bool
	LastRunAt *time.Time
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}
