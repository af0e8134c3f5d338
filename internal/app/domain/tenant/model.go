package tenant

import "time"

// Status is the lifecycle state of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is an isolated customer workspace. Every artifact, package, secret
// and session belongs to exactly one tenant.
type Tenant struct {
	ID        string
	Name      string
	Slug      string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Role controls what a user may do inside their tenant.
type Role string

const (
	// RoleAdmin manages users, approvals, packages and scheduled jobs.
	RoleAdmin Role = "admin"
	// RoleEditor authors artifacts and drives sessions.
	RoleEditor Role = "editor"
	// RoleViewer has read-only access.
	RoleViewer Role = "viewer"
)

// ValidRole reports whether r is a known role.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// User is a tenant member. PasswordHash is a bcrypt digest and never leaves
// the service layer.
type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string `json:"-"`
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
