// Package tenants manages tenant workspaces, their users and login tokens.
// Passwords are stored as bcrypt digests and tokens are HS256 JWTs carrying
// the tenant, user and role claims the HTTP layer authorizes against.
package tenants

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/pkg/logger"
)

// DefaultTokenTTL bounds the lifetime of issued login tokens.
const DefaultTokenTTL = 24 * time.Hour

const issuer = "schemaflow"

// ErrInvalidCredentials is returned by Login for any unknown tenant, unknown
// user or wrong password so callers cannot probe which part failed.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrTenantSuspended rejects logins into suspended tenants.
var ErrTenantSuspended = errors.New("tenant is suspended")

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,63}$`)

// Claims is the JWT payload attached to every authenticated request.
type Claims struct {
	UserID   string `json:"uid"`
	TenantID string `json:"tid"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service manages tenants, users and authentication.
type Service struct {
	tenants  storage.TenantStore
	users    storage.UserStore
	log      *logger.Logger
	secret   []byte
	tokenTTL time.Duration
}

// Option customizes the service.
type Option func(*Service)

// WithTokenTTL overrides the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// New constructs a tenants service. The secret signs and verifies login
// tokens and must match across every process that authenticates requests.
func New(tenants storage.TenantStore, users storage.UserStore, secret []byte, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("tenants")
	}
	s := &Service{
		tenants:  tenants,
		users:    users,
		log:      log,
		secret:   secret,
		tokenTTL: DefaultTokenTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTenant registers a new workspace. Slugs are lowercase identifiers
// and unique across the platform.
func (s *Service) CreateTenant(ctx context.Context, name, slug string) (tenant.Tenant, error) {
	if name == "" {
		return tenant.Tenant{}, fmt.Errorf("name is required")
	}
	if !slugPattern.MatchString(slug) {
		return tenant.Tenant{}, fmt.Errorf("slug must match %s", slugPattern.String())
	}
	if _, err := s.tenants.GetTenantBySlug(ctx, slug); err == nil {
		return tenant.Tenant{}, fmt.Errorf("tenant slug %s already exists", slug)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return tenant.Tenant{}, fmt.Errorf("check tenant slug: %w", err)
	}
	t := tenant.Tenant{
		ID:     uuid.NewString(),
		Name:   name,
		Slug:   slug,
		Status: tenant.StatusActive,
	}
	created, err := s.tenants.CreateTenant(ctx, t)
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	s.log.Infof("tenant %s (%s) created", created.Slug, created.ID)
	return created, nil
}

// UpdateTenant renames a tenant or flips its status. Slug changes are not
// supported because slugs appear in URLs and stored references.
func (s *Service) UpdateTenant(ctx context.Context, id, name string, status tenant.Status) (tenant.Tenant, error) {
	t, err := s.tenants.GetTenant(ctx, id)
	if err != nil {
		return tenant.Tenant{}, err
	}
	if name != "" {
		t.Name = name
	}
	if status != "" {
		if status != tenant.StatusActive && status != tenant.StatusSuspended {
			return tenant.Tenant{}, fmt.Errorf("unknown tenant status %q", status)
		}
		t.Status = status
	}
	updated, err := s.tenants.UpdateTenant(ctx, t)
	if err != nil {
		return tenant.Tenant{}, fmt.Errorf("update tenant: %w", err)
	}
	s.log.Infof("tenant %s updated", updated.ID)
	return updated, nil
}

// GetTenant returns a tenant by ID.
func (s *Service) GetTenant(ctx context.Context, id string) (tenant.Tenant, error) {
	return s.tenants.GetTenant(ctx, id)
}

// GetTenantBySlug returns a tenant by its slug.
func (s *Service) GetTenantBySlug(ctx context.Context, slug string) (tenant.Tenant, error) {
	return s.tenants.GetTenantBySlug(ctx, slug)
}

// ListTenants returns all tenants.
func (s *Service) ListTenants(ctx context.Context) ([]tenant.Tenant, error) {
	return s.tenants.ListTenants(ctx)
}

// CreateUser adds a member to a tenant. The password is hashed before it
// reaches the store and the returned user never carries the digest.
func (s *Service) CreateUser(ctx context.Context, tenantID, email, password string, role tenant.Role) (tenant.User, error) {
	if tenantID == "" {
		return tenant.User{}, fmt.Errorf("tenant id is required")
	}
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return tenant.User{}, err
	}
	if len(password) < 8 {
		return tenant.User{}, fmt.Errorf("password must be at least 8 characters")
	}
	if !tenant.ValidRole(role) {
		return tenant.User{}, fmt.Errorf("unknown role %q", role)
	}
	if _, err := s.tenants.GetTenant(ctx, tenantID); err != nil {
		return tenant.User{}, err
	}
	if _, err := s.users.GetUserByEmail(ctx, tenantID, email); err == nil {
		return tenant.User{}, fmt.Errorf("user %s already exists", email)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return tenant.User{}, fmt.Errorf("check user email: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return tenant.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := tenant.User{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	created, err := s.users.CreateUser(ctx, u)
	if err != nil {
		return tenant.User{}, fmt.Errorf("create user: %w", err)
	}
	s.log.Infof("user %s created in tenant %s", created.Email, tenantID)
	return scrub(created), nil
}

// UpdateUser changes a user's role, password or both. Empty arguments leave
// the current value in place.
func (s *Service) UpdateUser(ctx context.Context, id, password string, role tenant.Role) (tenant.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return tenant.User{}, err
	}
	if role != "" {
		if !tenant.ValidRole(role) {
			return tenant.User{}, fmt.Errorf("unknown role %q", role)
		}
		u.Role = role
	}
	if password != "" {
		if len(password) < 8 {
			return tenant.User{}, fmt.Errorf("password must be at least 8 characters")
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return tenant.User{}, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = string(hash)
	}
	updated, err := s.users.UpdateUser(ctx, u)
	if err != nil {
		return tenant.User{}, fmt.Errorf("update user: %w", err)
	}
	s.log.Infof("user %s updated", updated.ID)
	return scrub(updated), nil
}

// GetUser returns a user by ID without the password digest.
func (s *Service) GetUser(ctx context.Context, id string) (tenant.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return tenant.User{}, err
	}
	return scrub(u), nil
}

// ListUsers returns the members of a tenant without password digests.
func (s *Service) ListUsers(ctx context.Context, tenantID string) ([]tenant.User, error) {
	users, err := s.users.ListUsers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i] = scrub(users[i])
	}
	return users, nil
}

// DeleteUser removes a tenant member.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := s.users.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.log.Infof("user %s deleted", id)
	return nil
}

// Login authenticates a user inside the tenant identified by slug and
// returns a signed token plus the user record. Failures are uniform so the
// endpoint does not leak which tenants or accounts exist.
func (s *Service) Login(ctx context.Context, slug, email, password string) (string, tenant.User, error) {
	t, err := s.tenants.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", tenant.User{}, ErrInvalidCredentials
		}
		return "", tenant.User{}, err
	}
	if t.Status != tenant.StatusActive {
		return "", tenant.User{}, ErrTenantSuspended
	}
	u, err := s.users.GetUserByEmail(ctx, t.ID, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", tenant.User{}, ErrInvalidCredentials
		}
		return "", tenant.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", tenant.User{}, ErrInvalidCredentials
	}
	token, err := s.issueToken(u)
	if err != nil {
		return "", tenant.User{}, fmt.Errorf("sign token: %w", err)
	}
	s.log.Infof("user %s logged in to tenant %s", u.Email, t.Slug)
	return token, scrub(u), nil
}

// VerifyToken parses and validates a login token and returns its claims.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func (s *Service) issueToken(u tenant.User) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   u.ID,
		TenantID: u.TenantID,
		Email:    u.Email,
		Role:     string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   u.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("email %q is malformed", email)
	}
	return nil
}

func scrub(u tenant.User) tenant.User {
	u.PasswordHash = ""
	return u
}
