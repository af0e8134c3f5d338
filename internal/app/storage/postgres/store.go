package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/audit"
	"github.com/schemaflow/platform/internal/app/domain/configpkg"
	"github.com/schemaflow/platform/internal/app/domain/execution"
	"github.com/schemaflow/platform/internal/app/domain/schedule"
	"github.com/schemaflow/platform/internal/app/domain/secret"
	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/engine/flow"
)

const defaultListLimit = 100

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
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

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks and migrations.
func (s *Store) DB() *sql.DB {
	return s.db.DB
}

// --- TenantStore ------------------------------------------------------------

type tenantRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Slug      string    `db:"slug"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r tenantRow) toDomain() tenant.Tenant {
	return tenant.Tenant{
		ID:        r.ID,
		Name:      r.Name,
		Slug:      r.Slug,
		Status:    tenant.Status(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (s *Store) CreateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_tenants (id, name, slug, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Name, t.Slug, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return tenant.Tenant{}, err
	}
	return t, nil
}

func (s *Store) UpdateTenant(ctx context.Context, t tenant.Tenant) (tenant.Tenant, error) {
	existing, err := s.GetTenant(ctx, t.ID)
	if err != nil {
		return tenant.Tenant{}, err
	}

	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_tenants
		SET name = $2, slug = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, t.ID, t.Name, t.Slug, t.Status, t.UpdatedAt)
	if err != nil {
		return tenant.Tenant{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return tenant.Tenant{}, sql.ErrNoRows
	}
	return t, nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, slug, status, created_at, updated_at
		FROM app_tenants
		WHERE id = $1
	`, id)
	if err != nil {
		return tenant.Tenant{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetTenantBySlug(ctx context.Context, slug string) (tenant.Tenant, error) {
	var row tenantRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, slug, status, created_at, updated_at
		FROM app_tenants
		WHERE slug = $1
	`, slug)
	if err != nil {
		return tenant.Tenant{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	var rows []tenantRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, name, slug, status, created_at, updated_at
		FROM app_tenants
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	result := make([]tenant.Tenant, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- UserStore --------------------------------------------------------------

type userRow struct {
	ID           string    `db:"id"`
	TenantID     string    `db:"tenant_id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r userRow) toDomain() tenant.User {
	return tenant.User{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         tenant.Role(r.Role),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s *Store) CreateUser(ctx context.Context, u tenant.User) (tenant.User, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (id, tenant_id, email, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.TenantID, u.Email, u.PasswordHash, u.Role, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return tenant.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u tenant.User) (tenant.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return tenant.User{}, err
	}

	u.TenantID = existing.TenantID
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET email = $2, password_hash = $3, role = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, u.Email, u.PasswordHash, u.Role, u.UpdatedAt)
	if err != nil {
		return tenant.User{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return tenant.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (tenant.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, email, password_hash, role, created_at, updated_at
		FROM app_users
		WHERE id = $1
	`, id)
	if err != nil {
		return tenant.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, tenantID, email string) (tenant.User, error) {
	var row userRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, email, password_hash, role, created_at, updated_at
		FROM app_users
		WHERE tenant_id = $1 AND email = $2
	`, tenantID, email)
	if err != nil {
		return tenant.User{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListUsers(ctx context.Context, tenantID string) ([]tenant.User, error) {
	var rows []userRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, email, password_hash, role, created_at, updated_at
		FROM app_users
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	result := make([]tenant.User, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- ArtifactStore ----------------------------------------------------------

type artifactRow struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Kind      string    `db:"kind"`
	Key       string    `db:"key"`
	Version   int       `db:"version"`
	Name      string    `db:"name"`
	Spec      []byte    `db:"spec"`
	Status    string    `db:"status"`
	CreatedBy string    `db:"created_by"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r artifactRow) toDomain() artifact.Artifact {
	return artifact.Artifact{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Kind:      artifact.Kind(r.Kind),
		Key:       r.Key,
		Version:   r.Version,
		Name:      r.Name,
		Spec:      json.RawMessage(r.Spec),
		Status:    artifact.Status(r.Status),
		CreatedBy: r.CreatedBy,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

const artifactColumns = `id, tenant_id, kind, key, version, name, spec, status, created_by, created_at, updated_at`

func (s *Store) CreateArtifact(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	if art.ID == "" {
		art.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	art.CreatedAt = now
	art.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_artifacts (id, tenant_id, kind, key, version, name, spec, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, art.ID, art.TenantID, art.Kind, art.Key, art.Version, art.Name, []byte(art.Spec), art.Status, art.CreatedBy, art.CreatedAt, art.UpdatedAt)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return art, nil
}

func (s *Store) UpdateArtifact(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	existing, err := s.GetArtifact(ctx, art.ID)
	if err != nil {
		return artifact.Artifact{}, err
	}

	art.TenantID = existing.TenantID
	art.Kind = existing.Kind
	art.Key = existing.Key
	art.Version = existing.Version
	art.CreatedAt = existing.CreatedAt
	art.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_artifacts
		SET name = $2, spec = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, art.ID, art.Name, []byte(art.Spec), art.Status, art.UpdatedAt)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return artifact.Artifact{}, sql.ErrNoRows
	}
	return art, nil
}

func (s *Store) GetArtifact(ctx context.Context, id string) (artifact.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+artifactColumns+`
		FROM app_artifacts
		WHERE id = $1
	`, id)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetArtifactVersion(ctx context.Context, tenantID string, kind artifact.Kind, key string, version int) (artifact.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+artifactColumns+`
		FROM app_artifacts
		WHERE tenant_id = $1 AND kind = $2 AND key = $3 AND version = $4
	`, tenantID, kind, key, version)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetLatestArtifact(ctx context.Context, tenantID string, kind artifact.Kind, key string) (artifact.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+artifactColumns+`
		FROM app_artifacts
		WHERE tenant_id = $1 AND kind = $2 AND key = $3
		ORDER BY version DESC
		LIMIT 1
	`, tenantID, kind, key)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetPublishedArtifact(ctx context.Context, tenantID string, kind artifact.Kind, key string) (artifact.Artifact, error) {
	var row artifactRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+artifactColumns+`
		FROM app_artifacts
		WHERE tenant_id = $1 AND kind = $2 AND key = $3 AND status = $4
		ORDER BY version DESC
		LIMIT 1
	`, tenantID, kind, key, artifact.StatusPublished)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListArtifacts(ctx context.Context, tenantID string, kind artifact.Kind, key string) ([]artifact.Artifact, error) {
	var rows []artifactRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+artifactColumns+`
		FROM app_artifacts
		WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR kind = $2) AND ($3 = '' OR key = $3)
		ORDER BY key, version
	`, tenantID, string(kind), key)
	if err != nil {
		return nil, err
	}
	result := make([]artifact.Artifact, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteArtifact(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_artifacts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- PackageStore -----------------------------------------------------------

type packageRow struct {
	ID           string       `db:"id"`
	TenantID     string       `db:"tenant_id"`
	Key          string       `db:"key"`
	Version      int          `db:"version"`
	Status       string       `db:"status"`
	Items        []byte       `db:"items"`
	Notes        string       `db:"notes"`
	CreatedBy    string       `db:"created_by"`
	SubmittedBy  string       `db:"submitted_by"`
	ApprovedBy   string       `db:"approved_by"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
	SubmittedAt  sql.NullTime `db:"submitted_at"`
	ApprovedAt   sql.NullTime `db:"approved_at"`
	ActivatedAt  sql.NullTime `db:"activated_at"`
	DeprecatedAt sql.NullTime `db:"deprecated_at"`
}

func (r packageRow) toDomain() (configpkg.Package, error) {
	pkg := configpkg.Package{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Key:          r.Key,
		Version:      r.Version,
		Status:       configpkg.Status(r.Status),
		Notes:        r.Notes,
		CreatedBy:    r.CreatedBy,
		SubmittedBy:  r.SubmittedBy,
		ApprovedBy:   r.ApprovedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		SubmittedAt:  fromNullTime(r.SubmittedAt),
		ApprovedAt:   fromNullTime(r.ApprovedAt),
		ActivatedAt:  fromNullTime(r.ActivatedAt),
		DeprecatedAt: fromNullTime(r.DeprecatedAt),
	}
	if len(r.Items) > 0 {
		if err := json.Unmarshal(r.Items, &pkg.Items); err != nil {
			return configpkg.Package{}, fmt.Errorf("decode package %s items: %w", r.ID, err)
		}
	}
	return pkg, nil
}

const packageColumns = `id, tenant_id, key, version, status, items, notes, created_by, submitted_by, approved_by, created_at, updated_at, submitted_at, approved_at, activated_at, deprecated_at`

func (s *Store) CreatePackage(ctx context.Context, pkg configpkg.Package) (configpkg.Package, error) {
	if pkg.ID == "" {
		pkg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	pkg.CreatedAt = now
	pkg.UpdatedAt = now

	itemsJSON, err := json.Marshal(pkg.Items)
	if err != nil {
		return configpkg.Package{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_packages (id, tenant_id, key, version, status, items, notes, created_by, submitted_by, approved_by, created_at, updated_at, submitted_at, approved_at, activated_at, deprecated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, pkg.ID, pkg.TenantID, pkg.Key, pkg.Version, pkg.Status, itemsJSON, pkg.Notes, pkg.CreatedBy, pkg.SubmittedBy, pkg.ApprovedBy,
		pkg.CreatedAt, pkg.UpdatedAt, toNullTimePtr(pkg.SubmittedAt), toNullTimePtr(pkg.ApprovedAt), toNullTimePtr(pkg.ActivatedAt), toNullTimePtr(pkg.DeprecatedAt))
	if err != nil {
		return configpkg.Package{}, err
	}
	return pkg, nil
}

func (s *Store) UpdatePackage(ctx context.Context, pkg configpkg.Package) (configpkg.Package, error) {
	existing, err := s.GetPackage(ctx, pkg.ID)
	if err != nil {
		return configpkg.Package{}, err
	}

	pkg.TenantID = existing.TenantID
	pkg.Key = existing.Key
	pkg.Version = existing.Version
	pkg.CreatedAt = existing.CreatedAt
	pkg.UpdatedAt = time.Now().UTC()

	itemsJSON, err := json.Marshal(pkg.Items)
	if err != nil {
		return configpkg.Package{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_packages
		SET status = $2, items = $3, notes = $4, submitted_by = $5, approved_by = $6, updated_at = $7,
		    submitted_at = $8, approved_at = $9, activated_at = $10, deprecated_at = $11
		WHERE id = $1
	`, pkg.ID, pkg.Status, itemsJSON, pkg.Notes, pkg.SubmittedBy, pkg.ApprovedBy, pkg.UpdatedAt,
		toNullTimePtr(pkg.SubmittedAt), toNullTimePtr(pkg.ApprovedAt), toNullTimePtr(pkg.ActivatedAt), toNullTimePtr(pkg.DeprecatedAt))
	if err != nil {
		return configpkg.Package{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return configpkg.Package{}, sql.ErrNoRows
	}
	return pkg, nil
}

func (s *Store) GetPackage(ctx context.Context, id string) (configpkg.Package, error) {
	var row packageRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+packageColumns+`
		FROM app_packages
		WHERE id = $1
	`, id)
	if err != nil {
		return configpkg.Package{}, err
	}
	return row.toDomain()
}

func (s *Store) GetActivePackage(ctx context.Context, tenantID, key string) (configpkg.Package, error) {
	var row packageRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+packageColumns+`
		FROM app_packages
		WHERE tenant_id = $1 AND key = $2 AND status = $3
	`, tenantID, key, configpkg.StatusActive)
	if err != nil {
		return configpkg.Package{}, err
	}
	return row.toDomain()
}

func (s *Store) ListPackages(ctx context.Context, tenantID, key string) ([]configpkg.Package, error) {
	var rows []packageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+packageColumns+`
		FROM app_packages
		WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR key = $2)
		ORDER BY key, version
	`, tenantID, key)
	if err != nil {
		return nil, err
	}
	result := make([]configpkg.Package, 0, len(rows))
	for _, row := range rows {
		pkg, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, pkg)
	}
	return result, nil
}

func (s *Store) ActivatePackage(ctx context.Context, id string) (configpkg.Package, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return configpkg.Package{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var row packageRow
	err = tx.GetContext(ctx, &row, `
		SELECT `+packageColumns+`
		FROM app_packages
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return configpkg.Package{}, err
	}
	if configpkg.Status(row.Status) != configpkg.StatusApproved {
		return configpkg.Package{}, fmt.Errorf("package %s is %s: %w", id, row.Status, configpkg.ErrInvalidTransition)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE app_packages
		SET status = $4, deprecated_at = $5, updated_at = $5
		WHERE tenant_id = $1 AND key = $2 AND status = $3 AND id <> $6
	`, row.TenantID, row.Key, configpkg.StatusActive, configpkg.StatusDeprecated, now, id)
	if err != nil {
		return configpkg.Package{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE app_packages
		SET status = $2, activated_at = $3, updated_at = $3
		WHERE id = $1
	`, id, configpkg.StatusActive, now)
	if err != nil {
		return configpkg.Package{}, err
	}

	if err := tx.Commit(); err != nil {
		return configpkg.Package{}, err
	}

	row.Status = string(configpkg.StatusActive)
	row.ActivatedAt = sql.NullTime{Time: now, Valid: true}
	row.UpdatedAt = now
	return row.toDomain()
}

func (s *Store) DeletePackage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_packages WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- SecretStore ------------------------------------------------------------

type secretRow struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	Value     string    `db:"value"`
	Version   int       `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r secretRow) toDomain() secret.Secret {
	return secret.Secret{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Name:      r.Name,
		Value:     r.Value,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (s *Store) CreateSecret(ctx context.Context, sec secret.Secret) (secret.Secret, error) {
	if sec.ID == "" {
		sec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sec.CreatedAt = now
	sec.UpdatedAt = now
	if sec.Version == 0 {
		sec.Version = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_secrets (id, tenant_id, name, value, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sec.ID, sec.TenantID, sec.Name, sec.Value, sec.Version, sec.CreatedAt, sec.UpdatedAt)
	if err != nil {
		return secret.Secret{}, err
	}
	return sec, nil
}

func (s *Store) UpdateSecret(ctx context.Context, sec secret.Secret) (secret.Secret, error) {
	existing, err := s.GetSecret(ctx, sec.ID)
	if err != nil {
		return secret.Secret{}, err
	}

	sec.TenantID = existing.TenantID
	sec.Name = existing.Name
	sec.CreatedAt = existing.CreatedAt
	sec.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_secrets
		SET value = $2, version = $3, updated_at = $4
		WHERE id = $1
	`, sec.ID, sec.Value, sec.Version, sec.UpdatedAt)
	if err != nil {
		return secret.Secret{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return secret.Secret{}, sql.ErrNoRows
	}
	return sec, nil
}

func (s *Store) GetSecret(ctx context.Context, id string) (secret.Secret, error) {
	var row secretRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, name, value, version, created_at, updated_at
		FROM app_secrets
		WHERE id = $1
	`, id)
	if err != nil {
		return secret.Secret{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetSecretByName(ctx context.Context, tenantID, name string) (secret.Secret, error) {
	var row secretRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, name, value, version, created_at, updated_at
		FROM app_secrets
		WHERE tenant_id = $1 AND name = $2
	`, tenantID, name)
	if err != nil {
		return secret.Secret{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) ListSecrets(ctx context.Context, tenantID string) ([]secret.Secret, error) {
	var rows []secretRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, name, value, version, created_at, updated_at
		FROM app_secrets
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY name
	`, tenantID)
	if err != nil {
		return nil, err
	}
	result := make([]secret.Secret, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

func (s *Store) DeleteSecret(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_secrets WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- SessionStore -----------------------------------------------------------

type sessionRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	FlowKey     string    `db:"flow_key"`
	FlowVersion int       `db:"flow_version"`
	Current     string    `db:"current_node"`
	Status      string    `db:"status"`
	Context     []byte    `db:"context"`
	History     []byte    `db:"history"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r sessionRow) toDomain() (flow.Session, error) {
	sess := flow.Session{
		ID:          r.ID,
		TenantID:    r.TenantID,
		FlowKey:     r.FlowKey,
		FlowVersion: r.FlowVersion,
		Current:     r.Current,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if len(r.Context) > 0 {
		if err := json.Unmarshal(r.Context, &sess.Context); err != nil {
			return flow.Session{}, fmt.Errorf("decode session %s context: %w", r.ID, err)
		}
	}
	if len(r.History) > 0 {
		if err := json.Unmarshal(r.History, &sess.History); err != nil {
			return flow.Session{}, fmt.Errorf("decode session %s history: %w", r.ID, err)
		}
	}
	return sess, nil
}

func encodeSession(sess flow.Session) (contextJSON, historyJSON []byte, err error) {
	contextJSON, err = json.Marshal(sess.Context)
	if err != nil {
		return nil, nil, err
	}
	historyJSON, err = json.Marshal(sess.History)
	if err != nil {
		return nil, nil, err
	}
	return contextJSON, historyJSON, nil
}

func (s *Store) CreateSession(ctx context.Context, sess flow.Session) (flow.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	contextJSON, historyJSON, err := encodeSession(sess)
	if err != nil {
		return flow.Session{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_flow_sessions (id, tenant_id, flow_key, flow_version, current_node, status, context, history, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, sess.ID, sess.TenantID, sess.FlowKey, sess.FlowVersion, sess.Current, sess.Status, contextJSON, historyJSON, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return flow.Session{}, err
	}
	return sess, nil
}

func (s *Store) UpdateSession(ctx context.Context, sess flow.Session) (flow.Session, error) {
	existing, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		return flow.Session{}, err
	}

	sess.TenantID = existing.TenantID
	sess.FlowKey = existing.FlowKey
	sess.FlowVersion = existing.FlowVersion
	sess.CreatedAt = existing.CreatedAt
	sess.UpdatedAt = time.Now().UTC()

	contextJSON, historyJSON, err := encodeSession(sess)
	if err != nil {
		return flow.Session{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_flow_sessions
		SET current_node = $2, status = $3, context = $4, history = $5, updated_at = $6
		WHERE id = $1
	`, sess.ID, sess.Current, sess.Status, contextJSON, historyJSON, sess.UpdatedAt)
	if err != nil {
		return flow.Session{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return flow.Session{}, sql.ErrNoRows
	}
	return sess, nil
}

func (s *Store) GetSession(ctx context.Context, id string) (flow.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, flow_key, flow_version, current_node, status, context, history, created_at, updated_at
		FROM app_flow_sessions
		WHERE id = $1
	`, id)
	if err != nil {
		return flow.Session{}, err
	}
	return row.toDomain()
}

func (s *Store) ListSessions(ctx context.Context, tenantID, flowKey string) ([]flow.Session, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, flow_key, flow_version, current_node, status, context, history, created_at, updated_at
		FROM app_flow_sessions
		WHERE ($1 = '' OR tenant_id = $1) AND ($2 = '' OR flow_key = $2)
		ORDER BY created_at
	`, tenantID, flowKey)
	if err != nil {
		return nil, err
	}
	result := make([]flow.Session, 0, len(rows))
	for _, row := range rows {
		sess, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, nil
}

// --- ExecutionStore ---------------------------------------------------------

type executionRow struct {
	ID             string    `db:"id"`
	TenantID       string    `db:"tenant_id"`
	MappingKey     string    `db:"mapping_key"`
	MappingVersion int       `db:"mapping_version"`
	Status         string    `db:"status"`
	Source         string    `db:"source"`
	HTTPStatus     int       `db:"http_status"`
	Attempts       int       `db:"attempts"`
	DurationMs     int64     `db:"duration_ms"`
	RequestURL     string    `db:"request_url"`
	ResponseBody   string    `db:"response_body"`
	Mapped         []byte    `db:"mapped"`
	Error          string    `db:"error"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r executionRow) toDomain() (execution.Record, error) {
	rec := execution.Record{
		ID:             r.ID,
		TenantID:       r.TenantID,
		MappingKey:     r.MappingKey,
		MappingVersion: r.MappingVersion,
		Status:         execution.Status(r.Status),
		Source:         execution.Source(r.Source),
		HTTPStatus:     r.HTTPStatus,
		Attempts:       r.Attempts,
		DurationMs:     r.DurationMs,
		RequestURL:     r.RequestURL,
		ResponseBody:   r.ResponseBody,
		Error:          r.Error,
		CreatedAt:      r.CreatedAt,
	}
	if len(r.Mapped) > 0 {
		if err := json.Unmarshal(r.Mapped, &rec.Mapped); err != nil {
			return execution.Record{}, fmt.Errorf("decode execution %s mapped: %w", r.ID, err)
		}
	}
	return rec, nil
}

func (s *Store) CreateExecution(ctx context.Context, rec execution.Record) (execution.Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	mappedJSON, err := json.Marshal(rec.Mapped)
	if err != nil {
		return execution.Record{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_executions (id, tenant_id, mapping_key, mapping_version, status, source, http_status, attempts, duration_ms, request_url, response_body, mapped, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rec.ID, rec.TenantID, rec.MappingKey, rec.MappingVersion, rec.Status, rec.Source, rec.HTTPStatus, rec.Attempts,
		rec.DurationMs, rec.RequestURL, rec.ResponseBody, mappedJSON, rec.Error, rec.CreatedAt)
	if err != nil {
		return execution.Record{}, err
	}
	return rec, nil
}

func (s *Store) GetExecution(ctx context.Context, id string) (execution.Record, error) {
	var row executionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, mapping_key, mapping_version, status, source, http_status, attempts, duration_ms, request_url, response_body, mapped, error, created_at
		FROM app_executions
		WHERE id = $1
	`, id)
	if err != nil {
		return execution.Record{}, err
	}
	return row.toDomain()
}

func (s *Store) ListExecutions(ctx context.Context, tenantID, mappingKey string, limit int) ([]execution.Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []executionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, mapping_key, mapping_version, status, source, http_status, attempts, duration_ms, request_url, response_body, mapped, error, created_at
		FROM app_executions
		WHERE tenant_id = $1 AND ($2 = '' OR mapping_key = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, tenantID, mappingKey, limit)
	if err != nil {
		return nil, err
	}
	result := make([]execution.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, nil
}

// --- JobStore ---------------------------------------------------------------

type jobRow struct {
	ID        string       `db:"id"`
	TenantID  string       `db:"tenant_id"`
	Name      string       `db:"name"`
	Spec      string       `db:"spec"`
	Kind      string       `db:"kind"`
	TargetKey string       `db:"target_key"`
	Payload   []byte       `db:"payload"`
	Enabled   bool         `db:"enabled"`
	LastRunAt sql.NullTime `db:"last_run_at"`
	LastError string       `db:"last_error"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

func (r jobRow) toDomain() (schedule.Job, error) {
	job := schedule.Job{
		ID:        r.ID,
		TenantID:  r.TenantID,
		Name:      r.Name,
		Spec:      r.Spec,
		Kind:      schedule.Kind(r.Kind),
		TargetKey: r.TargetKey,
		Enabled:   r.Enabled,
		LastRunAt: fromNullTime(r.LastRunAt),
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &job.Payload); err != nil {
			return schedule.Job{}, fmt.Errorf("decode job %s payload: %w", r.ID, err)
		}
	}
	return job, nil
}

func (s *Store) CreateJob(ctx context.Context, job schedule.Job) (schedule.Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return schedule.Job{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO app_jobs (id, tenant_id, name, spec, kind, target_key, payload, enabled, last_run_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, job.ID, job.TenantID, job.Name, job.Spec, job.Kind, job.TargetKey, payloadJSON, job.Enabled,
		toNullTimePtr(job.LastRunAt), job.LastError, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return schedule.Job{}, err
	}
	return job, nil
}

func (s *Store) UpdateJob(ctx context.Context, job schedule.Job) (schedule.Job, error) {
	existing, err := s.GetJob(ctx, job.ID)
	if err != nil {
		return schedule.Job{}, err
	}

	job.TenantID = existing.TenantID
	job.CreatedAt = existing.CreatedAt
	job.UpdatedAt = time.Now().UTC()

	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return schedule.Job{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE app_jobs
		SET name = $2, spec = $3, kind = $4, target_key = $5, payload = $6, enabled = $7, last_run_at = $8, last_error = $9, updated_at = $10
		WHERE id = $1
	`, job.ID, job.Name, job.Spec, job.Kind, job.TargetKey, payloadJSON, job.Enabled,
		toNullTimePtr(job.LastRunAt), job.LastError, job.UpdatedAt)
	if err != nil {
		return schedule.Job{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return schedule.Job{}, sql.ErrNoRows
	}
	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (schedule.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, tenant_id, name, spec, kind, target_key, payload, enabled, last_run_at, last_error, created_at, updated_at
		FROM app_jobs
		WHERE id = $1
	`, id)
	if err != nil {
		return schedule.Job{}, err
	}
	return row.toDomain()
}

func (s *Store) ListJobs(ctx context.Context, tenantID string) ([]schedule.Job, error) {
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, tenant_id, name, spec, kind, target_key, payload, enabled, last_run_at, last_error, created_at, updated_at
		FROM app_jobs
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY created_at
	`, tenantID)
	if err != nil {
		return nil, err
	}
	result := make([]schedule.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, nil
}

func (s *Store) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// --- AuditStore -------------------------------------------------------------

type auditRow struct {
	ID         string    `db:"id"`
	Time       time.Time `db:"time"`
	TenantID   string    `db:"tenant_id"`
	UserID     string    `db:"user_id"`
	Role       string    `db:"role"`
	Method     string    `db:"method"`
	Path       string    `db:"path"`
	Status     int       `db:"status"`
	RemoteAddr string    `db:"remote_addr"`
	UserAgent  string    `db:"user_agent"`
}

func (r auditRow) toDomain() audit.Entry {
	return audit.Entry{
		ID:         r.ID,
		Time:       r.Time,
		TenantID:   r.TenantID,
		User:       r.UserID,
		Role:       r.Role,
		Method:     r.Method,
		Path:       r.Path,
		Status:     r.Status,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent,
	}
}

func (s *Store) AppendAudit(ctx context.Context, e audit.Entry) (audit.Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_audit (id, time, tenant_id, user_id, role, method, path, status, remote_addr, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.ID, e.Time, e.TenantID, e.User, e.Role, e.Method, e.Path, e.Status, e.RemoteAddr, e.UserAgent)
	if err != nil {
		return audit.Entry{}, err
	}
	return e, nil
}

func (s *Store) ListAudit(ctx context.Context, tenantID string, limit int) ([]audit.Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []auditRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, time, tenant_id, user_id, role, method, path, status, remote_addr, user_agent
		FROM app_audit
		WHERE ($1 = '' OR tenant_id = $1)
		ORDER BY time DESC, id DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	result := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.toDomain())
	}
	return result, nil
}

// --- helpers ----------------------------------------------------------------

func toNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
