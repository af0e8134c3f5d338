package artifact

import (
	"encoding/json"
	"time"
)

// Kind identifies which schema family an artifact's Spec belongs to.
type Kind string

const (
	// KindUISchema is a declarative page layout definition.
	KindUISchema Kind = "uischema"
	// KindFlow is a flow graph compiled into a state machine.
	KindFlow Kind = "flow"
	// KindRuleSet is a condition/action rule set.
	KindRuleSet Kind = "ruleset"
	// KindMapping is an outbound API mapping.
	KindMapping Kind = "mapping"
	// KindTransform is a JavaScript post-processing hook for mappings.
	KindTransform Kind = "transform"
)

// ValidKind reports whether k is a known artifact kind.
func ValidKind(k Kind) bool {
	switch k {
	case KindUISchema, KindFlow, KindRuleSet, KindMapping, KindTransform:
		return true
	}
	return false
}

// Status is the edit state of one artifact version. Draft versions may be
// modified in place; published versions are immutable and referencable by
// config packages.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Artifact is one version of a declarative configuration document. Versions
// of the same logical artifact share (TenantID, Kind, Key) and count up from
// 1.
type Artifact struct {
	ID        string
	TenantID  string
	Kind      Kind
	Key       string
	Version   int
	Name      string
	Spec      json.RawMessage
	Status    Status
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}
