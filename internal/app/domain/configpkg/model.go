// Package configpkg models tenant configuration packages: versioned bundles
// of published artifacts that move through an approval lifecycle before
// becoming the tenant's active runtime configuration.
package configpkg

import (
	"errors"
	"time"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
)

// ErrInvalidTransition is returned when a lifecycle operation is applied to
// a package whose current status does not permit it.
var ErrInvalidTransition = errors.New("invalid package status transition")

// Status is a package version's position in the approval lifecycle.
type Status string

const (
	// StatusDraft versions are assembled and edited freely.
	StatusDraft Status = "draft"
	// StatusReview versions await an approval decision.
	StatusReview Status = "review"
	// StatusApproved versions may be activated.
	StatusApproved Status = "approved"
	// StatusActive is the single serving version of a package key.
	StatusActive Status = "active"
	// StatusDeprecated versions were active once and have been replaced.
	StatusDeprecated Status = "deprecated"
)

// transitions holds the legal lifecycle edges. Rejecting a review returns
// the version to draft rather than introducing a dead state.
var transitions = map[Status][]Status{
	StatusDraft:    {StatusReview},
	StatusReview:   {StatusApproved, StatusDraft},
	StatusApproved: {StatusActive},
	StatusActive:   {StatusDeprecated},
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// edge.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Item pins one published artifact version into a package.
type Item struct {
	Kind       artifact.Kind
	ArtifactID string
}

// Package is one version of a tenant's configuration bundle. Versions of the
// same logical package share (TenantID, Key); at most one of them is active
// at a time.
type Package struct {
	ID           string
	TenantID     string
	Key          string
	Version      int
	Status       Status
	Items        []Item
	Notes        string
	CreatedBy    string
	SubmittedBy  string
	ApprovedBy   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SubmittedAt  *time.Time
	ApprovedAt   *time.Time
	ActivatedAt  *time.Time
	DeprecatedAt *time.Time
}
