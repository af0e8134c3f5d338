package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/audit"
	"github.com/schemaflow/platform/internal/app/domain/configpkg"
	"github.com/schemaflow/platform/internal/app/domain/execution"
	"github.com/schemaflow/platform/internal/app/domain/schedule"
	"github.com/schemaflow/platform/internal/app/domain/secret"
	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/engine/flow"
	"github.com/schemaflow/platform/internal/engine/rules"
)

const defaultListLimit = 100

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu            sync.RWMutex
	nextID        int64
	tenants       map[string]tenant.Tenant
	tenantsBySlug map[string]string
	users         map[string]tenant.User
	artifacts     map[string]artifact.Artifact
	packages      map[string]configpkg.Package
	secrets       map[string]secret.Secret
	sessions      map[string]flow.Session
	executions    map[string][]execution.Record
	execByID      map[string]execution.Record
	jobs          map[string]schedule.Job
	auditEntries  []audit.Entry
}

var _ storage.TenantStore = (*Store)(nil)
var _ storage.UserStore = (*Store)(nil)
var _ storage.ArtifactStore = (*Store)(nil)
var _ storage.PackageStore = (*Store)(nil)
var _ storage.SecretStore = (*Store)(nil)
var _ storage.SessionStore = (*Store)(nil)
var _ storage.ExecutionStore = (*Store)(nil)
var _ storage.JobStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		tenants:       make(map[string]tenant.Tenant),
		tenantsBySlug: make(map[string]string),
		users:         make(map[string]tenant.User),
		artifacts:     make(map[string]artifact.Artifact),
		packages:      make(map[string]configpkg.Package),
		secrets:       make(map[string]secret.Secret),
		sessions:      make(map[string]flow.Session),
		executions:    make(map[string][]execution.Record),
		execByID:      make(map[string]execution.Record),
		jobs:          make(map[string]schedule.Job),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// TenantStore implementation --------------------------------------------------

func (s *Store) CreateTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = s.nextIDLocked()
	} else if _, exists := s.tenants[t.ID]; exists {
		return tenant.Tenant{}, fmt.Errorf("tenant %s already exists", t.ID)
	}
	if t.Slug != "" {
		if _, exists := s.tenantsBySlug[t.Slug]; exists {
			return tenant.Tenant{}, fmt.Errorf("tenant slug %s already exists", t.Slug)
		}
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	s.tenants[t.ID] = t
	if t.Slug != "" {
		s.tenantsBySlug[t.Slug] = t.ID
	}
	return t, nil
}

func (s *Store) UpdateTenant(_ context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tenants[t.ID]
	if !ok {
		return tenant.Tenant{}, fmt.Errorf("tenant %s: %w", t.ID, storage.ErrNotFound)
	}
	if t.Slug != original.Slug {
		if owner, exists := s.tenantsBySlug[t.Slug]; exists && owner != t.ID {
			return tenant.Tenant{}, fmt.Errorf("tenant slug %s already exists", t.Slug)
		}
		delete(s.tenantsBySlug, original.Slug)
		if t.Slug != "" {
			s.tenantsBySlug[t.Slug] = t.ID
		}
	}

	t.CreatedAt = original.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	s.tenants[t.ID] = t
	return t, nil
}

func (s *Store) GetTenant(_ context.Context, id string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tenants[id]
	if !ok {
		return tenant.Tenant{}, fmt.Errorf("tenant %s: %w", id, storage.ErrNotFound)
	}
	return t, nil
}

func (s *Store) GetTenantBySlug(_ context.Context, slug string) (tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.tenantsBySlug[slug]
	if !ok {
		return tenant.Tenant{}, fmt.Errorf("tenant slug %s: %w", slug, storage.ErrNotFound)
	}
	return s.tenants[id], nil
}

func (s *Store) ListTenants(_ context.Context) ([]tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u tenant.User) (tenant.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.ID == "" {
		u.ID = s.nextIDLocked()
	} else if _, exists := s.users[u.ID]; exists {
		return tenant.User{}, fmt.Errorf("user %s already exists", u.ID)
	}
	for _, other := range s.users {
		if other.TenantID == u.TenantID && other.Email == u.Email {
			return tenant.User{}, fmt.Errorf("user %s already exists in tenant %s", u.Email, u.TenantID)
		}
	}

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = u
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u tenant.User) (tenant.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return tenant.User{}, fmt.Errorf("user %s: %w", u.ID, storage.ErrNotFound)
	}

	u.TenantID = original.TenantID
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	s.users[u.ID] = u
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (tenant.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return tenant.User{}, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, tenantID, email string) (tenant.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			return u, nil
		}
	}
	return tenant.User{}, fmt.Errorf("user %s: %w", email, storage.ErrNotFound)
}

func (s *Store) ListUsers(_ context.Context, tenantID string) ([]tenant.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tenant.User, 0)
	for _, u := range s.users {
		if tenantID == "" || u.TenantID == tenantID {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	delete(s.users, id)
	return nil
}

// ArtifactStore implementation ------------------------------------------------

func (s *Store) CreateArtifact(_ context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if art.ID == "" {
		art.ID = s.nextIDLocked()
	} else if _, exists := s.artifacts[art.ID]; exists {
		return artifact.Artifact{}, fmt.Errorf("artifact %s already exists", art.ID)
	}
	for _, other := range s.artifacts {
		if other.TenantID == art.TenantID && other.Kind == art.Kind && other.Key == art.Key && other.Version == art.Version {
			return artifact.Artifact{}, fmt.Errorf("artifact %s/%s version %d already exists", art.Kind, art.Key, art.Version)
		}
	}

	now := time.Now().UTC()
	art.CreatedAt = now
	art.UpdatedAt = now
	art.Spec = cloneBytes(art.Spec)

	s.artifacts[art.ID] = art
	return cloneArtifact(art), nil
}

func (s *Store) UpdateArtifact(_ context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.artifacts[art.ID]
	if !ok {
		return artifact.Artifact{}, fmt.Errorf("artifact %s: %w", art.ID, storage.ErrNotFound)
	}

	art.TenantID = original.TenantID
	art.Kind = original.Kind
	art.Key = original.Key
	art.Version = original.Version
	art.CreatedAt = original.CreatedAt
	art.UpdatedAt = time.Now().UTC()
	art.Spec = cloneBytes(art.Spec)

	s.artifacts[art.ID] = art
	return cloneArtifact(art), nil
}

func (s *Store) GetArtifact(_ context.Context, id string) (artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	art, ok := s.artifacts[id]
	if !ok {
		return artifact.Artifact{}, fmt.Errorf("artifact %s: %w", id, storage.ErrNotFound)
	}
	return cloneArtifact(art), nil
}

func (s *Store) GetArtifactVersion(_ context.Context, tenantID string, kind artifact.Kind, key string, version int) (artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, art := range s.artifacts {
		if art.TenantID == tenantID && art.Kind == kind && art.Key == key && art.Version == version {
			return cloneArtifact(art), nil
		}
	}
	return artifact.Artifact{}, fmt.Errorf("artifact %s/%s version %d: %w", kind, key, version, storage.ErrNotFound)
}

func (s *Store) GetLatestArtifact(_ context.Context, tenantID string, kind artifact.Kind, key string) (artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestLocked(tenantID, kind, key, false)
}

func (s *Store) GetPublishedArtifact(_ context.Context, tenantID string, kind artifact.Kind, key string) (artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.latestLocked(tenantID, kind, key, true)
}

func (s *Store) latestLocked(tenantID string, kind artifact.Kind, key string, publishedOnly bool) (artifact.Artifact, error) {
	var (
		best  artifact.Artifact
		found bool
	)
	for _, art := range s.artifacts {
		if art.TenantID != tenantID || art.Kind != kind || art.Key != key {
			continue
		}
		if publishedOnly && art.Status != artifact.StatusPublished {
			continue
		}
		if !found || art.Version > best.Version {
			best = art
			found = true
		}
	}
	if !found {
		return artifact.Artifact{}, fmt.Errorf("artifact %s/%s: %w", kind, key, storage.ErrNotFound)
	}
	return cloneArtifact(best), nil
}

func (s *Store) ListArtifacts(_ context.Context, tenantID string, kind artifact.Kind, key string) ([]artifact.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]artifact.Artifact, 0)
	for _, art := range s.artifacts {
		if tenantID != "" && art.TenantID != tenantID {
			continue
		}
		if kind != "" && art.Kind != kind {
			continue
		}
		if key != "" && art.Key != key {
			continue
		}
		result = append(result, cloneArtifact(art))
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Version < b.Version
	})
	return result, nil
}

func (s *Store) DeleteArtifact(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[id]; !ok {
		return fmt.Errorf("artifact %s: %w", id, storage.ErrNotFound)
	}
	delete(s.artifacts, id)
	return nil
}

// PackageStore implementation -------------------------------------------------

func (s *Store) CreatePackage(_ context.Context, pkg configpkg.Package) (configpkg.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pkg.ID == "" {
		pkg.ID = s.nextIDLocked()
	} else if _, exists := s.packages[pkg.ID]; exists {
		return configpkg.Package{}, fmt.Errorf("package %s already exists", pkg.ID)
	}
	for _, other := range s.packages {
		if other.TenantID == pkg.TenantID && other.Key == pkg.Key && other.Version == pkg.Version {
			return configpkg.Package{}, fmt.Errorf("package %s version %d already exists", pkg.Key, pkg.Version)
		}
	}

	now := time.Now().UTC()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now
	pkg.Items = cloneItems(pkg.Items)

	s.packages[pkg.ID] = pkg
	return clonePackage(pkg), nil
}

func (s *Store) UpdatePackage(_ context.Context, pkg configpkg.Package) (configpkg.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.packages[pkg.ID]
	if !ok {
		return configpkg.Package{}, fmt.Errorf("package %s: %w", pkg.ID, storage.ErrNotFound)
	}

	pkg.TenantID = original.TenantID
	pkg.Key = original.Key
	pkg.Version = original.Version
	pkg.CreatedAt = original.CreatedAt
	pkg.UpdatedAt = time.Now().UTC()
	pkg.Items = cloneItems(pkg.Items)

	s.packages[pkg.ID] = pkg
	return clonePackage(pkg), nil
}

func (s *Store) GetPackage(_ context.Context, id string) (configpkg.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packages[id]
	if !ok {
		return configpkg.Package{}, fmt.Errorf("package %s: %w", id, storage.ErrNotFound)
	}
	return clonePackage(pkg), nil
}

func (s *Store) GetActivePackage(_ context.Context, tenantID, key string) (configpkg.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, pkg := range s.packages {
		if pkg.TenantID == tenantID && pkg.Key == key && pkg.Status == configpkg.StatusActive {
			return clonePackage(pkg), nil
		}
	}
	return configpkg.Package{}, fmt.Errorf("active package %s: %w", key, storage.ErrNotFound)
}

func (s *Store) ListPackages(_ context.Context, tenantID, key string) ([]configpkg.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]configpkg.Package, 0)
	for _, pkg := range s.packages {
		if tenantID != "" && pkg.TenantID != tenantID {
			continue
		}
		if key != "" && pkg.Key != key {
			continue
		}
		result = append(result, clonePackage(pkg))
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Version < b.Version
	})
	return result, nil
}

func (s *Store) ActivatePackage(_ context.Context, id string) (configpkg.Package, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pkg, ok := s.packages[id]
	if !ok {
		return configpkg.Package{}, fmt.Errorf("package %s: %w", id, storage.ErrNotFound)
	}
	if pkg.Status != configpkg.StatusApproved {
		return configpkg.Package{}, fmt.Errorf("package %s is %s: %w", id, pkg.Status, configpkg.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	for otherID, other := range s.packages {
		if otherID == id || other.TenantID != pkg.TenantID || other.Key != pkg.Key {
			continue
		}
		if other.Status == configpkg.StatusActive {
			other.Status = configpkg.StatusDeprecated
			other.DeprecatedAt = &now
			other.UpdatedAt = now
			s.packages[otherID] = other
		}
	}

	pkg.Status = configpkg.StatusActive
	pkg.ActivatedAt = &now
	pkg.UpdatedAt = now
	s.packages[id] = pkg
	return clonePackage(pkg), nil
}

func (s *Store) DeletePackage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packages[id]; !ok {
		return fmt.Errorf("package %s: %w", id, storage.ErrNotFound)
	}
	delete(s.packages, id)
	return nil
}

// SecretStore implementation --------------------------------------------------

func (s *Store) CreateSecret(_ context.Context, sec secret.Secret) (secret.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sec.ID == "" {
		sec.ID = s.nextIDLocked()
	} else if _, exists := s.secrets[sec.ID]; exists {
		return secret.Secret{}, fmt.Errorf("secret %s already exists", sec.ID)
	}
	for _, other := range s.secrets {
		if other.TenantID == sec.TenantID && other.Name == sec.Name {
			return secret.Secret{}, fmt.Errorf("secret %s already exists in tenant %s", sec.Name, sec.TenantID)
		}
	}

	now := time.Now().UTC()
	sec.CreatedAt = now
	sec.UpdatedAt = now
	if sec.Version == 0 {
		sec.Version = 1
	}

	s.secrets[sec.ID] = sec
	return sec, nil
}

func (s *Store) UpdateSecret(_ context.Context, sec secret.Secret) (secret.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.secrets[sec.ID]
	if !ok {
		return secret.Secret{}, fmt.Errorf("secret %s: %w", sec.ID, storage.ErrNotFound)
	}

	sec.TenantID = original.TenantID
	sec.Name = original.Name
	sec.CreatedAt = original.CreatedAt
	sec.UpdatedAt = time.Now().UTC()

	s.secrets[sec.ID] = sec
	return sec, nil
}

func (s *Store) GetSecret(_ context.Context, id string) (secret.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.secrets[id]
	if !ok {
		return secret.Secret{}, fmt.Errorf("secret %s: %w", id, storage.ErrNotFound)
	}
	return sec, nil
}

func (s *Store) GetSecretByName(_ context.Context, tenantID, name string) (secret.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sec := range s.secrets {
		if sec.TenantID == tenantID && sec.Name == name {
			return sec, nil
		}
	}
	return secret.Secret{}, fmt.Errorf("secret %s: %w", name, storage.ErrNotFound)
}

func (s *Store) ListSecrets(_ context.Context, tenantID string) ([]secret.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]secret.Secret, 0)
	for _, sec := range s.secrets {
		if tenantID == "" || sec.TenantID == tenantID {
			result = append(result, sec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) DeleteSecret(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.secrets[id]; !ok {
		return fmt.Errorf("secret %s: %w", id, storage.ErrNotFound)
	}
	delete(s.secrets, id)
	return nil
}

// SessionStore implementation -------------------------------------------------

func (s *Store) CreateSession(_ context.Context, sess flow.Session) (flow.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.ID == "" {
		sess.ID = s.nextIDLocked()
	} else if _, exists := s.sessions[sess.ID]; exists {
		return flow.Session{}, fmt.Errorf("session %s already exists", sess.ID)
	}

	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	stored := cloneSession(sess)
	s.sessions[sess.ID] = stored
	return cloneSession(stored), nil
}

func (s *Store) UpdateSession(_ context.Context, sess flow.Session) (flow.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.sessions[sess.ID]
	if !ok {
		return flow.Session{}, fmt.Errorf("session %s: %w", sess.ID, storage.ErrNotFound)
	}

	sess.TenantID = original.TenantID
	sess.FlowKey = original.FlowKey
	sess.FlowVersion = original.FlowVersion
	sess.CreatedAt = original.CreatedAt
	sess.UpdatedAt = time.Now().UTC()

	stored := cloneSession(sess)
	s.sessions[sess.ID] = stored
	return cloneSession(stored), nil
}

func (s *Store) GetSession(_ context.Context, id string) (flow.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return flow.Session{}, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	return cloneSession(sess), nil
}

func (s *Store) ListSessions(_ context.Context, tenantID, flowKey string) ([]flow.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]flow.Session, 0)
	for _, sess := range s.sessions {
		if tenantID != "" && sess.TenantID != tenantID {
			continue
		}
		if flowKey != "" && sess.FlowKey != flowKey {
			continue
		}
		result = append(result, cloneSession(sess))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ExecutionStore implementation -----------------------------------------------

func (s *Store) CreateExecution(_ context.Context, rec execution.Record) (execution.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = s.nextIDLocked()
	} else if _, exists := s.execByID[rec.ID]; exists {
		return execution.Record{}, fmt.Errorf("execution %s already exists", rec.ID)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Mapped = cloneAnyMap(rec.Mapped)

	s.executions[rec.TenantID] = append(s.executions[rec.TenantID], rec)
	s.execByID[rec.ID] = rec
	return cloneExecution(rec), nil
}

func (s *Store) GetExecution(_ context.Context, id string) (execution.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.execByID[id]
	if !ok {
		return execution.Record{}, fmt.Errorf("execution %s: %w", id, storage.ErrNotFound)
	}
	return cloneExecution(rec), nil
}

func (s *Store) ListExecutions(_ context.Context, tenantID, mappingKey string, limit int) ([]execution.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultListLimit
	}
	all := s.executions[tenantID]
	result := make([]execution.Record, 0)
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if mappingKey != "" && all[i].MappingKey != mappingKey {
			continue
		}
		result = append(result, cloneExecution(all[i]))
	}
	return result, nil
}

// JobStore implementation -----------------------------------------------------

func (s *Store) CreateJob(_ context.Context, job schedule.Job) (schedule.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ID == "" {
		job.ID = s.nextIDLocked()
	} else if _, exists := s.jobs[job.ID]; exists {
		return schedule.Job{}, fmt.Errorf("job %s already exists", job.ID)
	}

	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Payload = cloneAnyMap(job.Payload)

	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (s *Store) UpdateJob(_ context.Context, job schedule.Job) (schedule.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.jobs[job.ID]
	if !ok {
		return schedule.Job{}, fmt.Errorf("job %s: %w", job.ID, storage.ErrNotFound)
	}

	job.TenantID = original.TenantID
	job.CreatedAt = original.CreatedAt
	job.UpdatedAt = time.Now().UTC()
	job.Payload = cloneAnyMap(job.Payload)

	s.jobs[job.ID] = job
	return cloneJob(job), nil
}

func (s *Store) GetJob(_ context.Context, id string) (schedule.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return schedule.Job{}, fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
	}
	return cloneJob(job), nil
}

func (s *Store) ListJobs(_ context.Context, tenantID string) ([]schedule.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]schedule.Job, 0)
	for _, job := range s.jobs {
		if tenantID == "" || job.TenantID == tenantID {
			result = append(result, cloneJob(job))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("job %s: %w", id, storage.ErrNotFound)
	}
	delete(s.jobs, id)
	return nil
}

// AuditStore implementation ---------------------------------------------------

func (s *Store) AppendAudit(_ context.Context, e audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = s.nextIDLocked()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	s.auditEntries = append(s.auditEntries, e)
	return e, nil
}

func (s *Store) ListAudit(_ context.Context, tenantID string, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultListLimit
	}
	result := make([]audit.Entry, 0)
	for i := len(s.auditEntries) - 1; i >= 0 && len(result) < limit; i-- {
		e := s.auditEntries[i]
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// Clone helpers ---------------------------------------------------------------

func cloneBytes(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}
	return append([]byte(nil), src...)
}

func cloneAnyMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneArtifact(art artifact.Artifact) artifact.Artifact {
	art.Spec = cloneBytes(art.Spec)
	return art
}

func cloneItems(items []configpkg.Item) []configpkg.Item {
	if len(items) == 0 {
		return nil
	}
	return append([]configpkg.Item(nil), items...)
}

func clonePackage(pkg configpkg.Package) configpkg.Package {
	pkg.Items = cloneItems(pkg.Items)
	return pkg
}

func cloneSession(sess flow.Session) flow.Session {
	sess.Context = sess.Context.Clone()
	if len(sess.History) > 0 {
		history := make([]flow.Step, len(sess.History))
		for i, step := range sess.History {
			step.Events = append([]string(nil), step.Events...)
			step.Calls = append([]rules.MappingCall(nil), step.Calls...)
			history[i] = step
		}
		sess.History = history
	}
	return sess
}

func cloneExecution(rec execution.Record) execution.Record {
	rec.Mapped = cloneAnyMap(rec.Mapped)
	return rec
}

func cloneJob(job schedule.Job) schedule.Job {
	job.Payload = cloneAnyMap(job.Payload)
	return job
}
