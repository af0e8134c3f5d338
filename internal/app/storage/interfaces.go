package storage

import (
	"context"
	"database/sql"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/audit"
	"github.com/schemaflow/platform/internal/app/domain/configpkg"
	"github.com/schemaflow/platform/internal/app/domain/execution"
	"github.com/schemaflow/platform/internal/app/domain/schedule"
	"github.com/schemaflow/platform/internal/app/domain/secret"
	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/engine/flow"
)

// ErrNotFound is returned when a requested record does not exist. It aliases
// sql.ErrNoRows so errors.Is works the same against every backing store.
var ErrNotFound = sql.ErrNoRows

// TenantStore persists tenant records.
type TenantStore interface {
	CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)
	UpdateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error)
	GetTenant(ctx context.Context, id string) (tenant.Tenant, error)
	GetTenantBySlug(ctx context.Context, slug string) (tenant.Tenant, error)
	ListTenants(ctx context.Context) ([]tenant.Tenant, error)
}

// UserStore persists users within a tenant.
type UserStore interface {
	CreateUser(ctx context.Context, u tenant.User) (tenant.User, error)
	UpdateUser(ctx context.Context, u tenant.User) (tenant.User, error)
	GetUser(ctx context.Context, id string) (tenant.User, error)
	GetUserByEmail(ctx context.Context, tenantID, email string) (tenant.User, error)
	ListUsers(ctx context.Context, tenantID string) ([]tenant.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// ArtifactStore persists versioned artifact rows.
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error)
	UpdateArtifact(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error)
	GetArtifact(ctx context.Context, id string) (artifact.Artifact, error)
	GetArtifactVersion(ctx context.Context, tenantID string, kind artifact.Kind, key string, version int) (artifact.Artifact, error)
	// GetLatestArtifact returns the highest version regardless of status.
	GetLatestArtifact(ctx context.Context, tenantID string, kind artifact.Kind, key string) (artifact.Artifact, error)
	// GetPublishedArtifact returns the highest published version.
	GetPublishedArtifact(ctx context.Context, tenantID string, kind artifact.Kind, key string) (artifact.Artifact, error)
	ListArtifacts(ctx context.Context, tenantID string, kind artifact.Kind, key string) ([]artifact.Artifact, error)
	DeleteArtifact(ctx context.Context, id string) error
}

// PackageStore persists config packages.
type PackageStore interface {
	CreatePackage(ctx context.Context, pkg configpkg.Package) (configpkg.Package, error)
	UpdatePackage(ctx context.Context, pkg configpkg.Package) (configpkg.Package, error)
	GetPackage(ctx context.Context, id string) (configpkg.Package, error)
	GetActivePackage(ctx context.Context, tenantID, key string) (configpkg.Package, error)
	ListPackages(ctx context.Context, tenantID, key string) ([]configpkg.Package, error)
	// ActivatePackage flips the package to active and deprecates any other
	// active version of the same key in a single atomic step.
	ActivatePackage(ctx context.Context, id string) (configpkg.Package, error)
	DeletePackage(ctx context.Context, id string) error
}

// SecretStore persists encrypted secrets.
type SecretStore interface {
	CreateSecret(ctx context.Context, sec secret.Secret) (secret.Secret, error)
	UpdateSecret(ctx context.Context, sec secret.Secret) (secret.Secret, error)
	GetSecret(ctx context.Context, id string) (secret.Secret, error)
	GetSecretByName(ctx context.Context, tenantID, name string) (secret.Secret, error)
	ListSecrets(ctx context.Context, tenantID string) ([]secret.Secret, error)
	DeleteSecret(ctx context.Context, id string) error
}

// SessionStore persists flow sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, sess flow.Session) (flow.Session, error)
	UpdateSession(ctx context.Context, sess flow.Session) (flow.Session, error)
	GetSession(ctx context.Context, id string) (flow.Session, error)
	ListSessions(ctx context.Context, tenantID, flowKey string) ([]flow.Session, error)
}

// ExecutionStore persists mapping execution records.
type ExecutionStore interface {
	CreateExecution(ctx context.Context, rec execution.Record) (execution.Record, error)
	GetExecution(ctx context.Context, id string) (execution.Record, error)
	// ListExecutions returns newest-first records; limit <= 0 applies a
	// backend default.
	ListExecutions(ctx context.Context, tenantID, mappingKey string, limit int) ([]execution.Record, error)
}

// JobStore persists scheduled jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job schedule.Job) (schedule.Job, error)
	UpdateJob(ctx context.Context, job schedule.Job) (schedule.Job, error)
	GetJob(ctx context.Context, id string) (schedule.Job, error)
	ListJobs(ctx context.Context, tenantID string) ([]schedule.Job, error)
	DeleteJob(ctx context.Context, id string) error
}

// AuditStore persists audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, e audit.Entry) (audit.Entry, error)
	ListAudit(ctx context.Context, tenantID string, limit int) ([]audit.Entry, error)
}
