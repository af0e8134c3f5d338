// Package secrets manages tenant secrets. Values are encrypted before they
// reach the store and only ever returned in plaintext through Get and
// ResolveSecrets; list and mutation results carry metadata alone.
package secrets

import (
	"context"
	"fmt"
	"strings"

	"github.com/schemaflow/platform/internal/app/domain/secret"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/pkg/logger"
)

// Service manages encrypted tenant secrets.
type Service struct {
	store  storage.SecretStore
	log    *logger.Logger
	cipher Cipher
}

// Option customizes the service.
type Option func(*Service)

// WithCipher makes the service encrypt values at rest. Without it values are
// stored as given, which is only acceptable for tests.
func WithCipher(c Cipher) Option {
	return func(s *Service) { s.cipher = c }
}

// New constructs a secrets service.
func New(store storage.SecretStore, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("secrets")
	}
	s := &Service{store: store, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if strings.ContainsAny(name, "|/ ") {
		return fmt.Errorf("name must not contain separators or spaces")
	}
	return nil
}

func (s *Service) seal(value string) (string, error) {
	if s.cipher == nil {
		return value, nil
	}
	return s.cipher.Encrypt(value)
}

func (s *Service) open(value string) (string, error) {
	if s.cipher == nil {
		return value, nil
	}
	return s.cipher.Decrypt(value)
}

// Create stores a new secret and returns its metadata.
func (s *Service) Create(ctx context.Context, tenantID, name, value string) (secret.Secret, error) {
	if tenantID == "" {
		return secret.Secret{}, fmt.Errorf("tenant_id is required")
	}
	if err := validateName(name); err != nil {
		return secret.Secret{}, err
	}
	if value == "" {
		return secret.Secret{}, fmt.Errorf("value is required")
	}

	sealed, err := s.seal(value)
	if err != nil {
		return secret.Secret{}, err
	}

	created, err := s.store.CreateSecret(ctx, secret.Secret{
		TenantID: tenantID,
		Name:     name,
		Value:    sealed,
		Version:  1,
	})
	if err != nil {
		return secret.Secret{}, err
	}
	s.log.WithField("tenant", tenantID).Infof("secret %s created", name)
	created.Value = ""
	return created, nil
}

// Update rotates a secret's value and bumps its version.
func (s *Service) Update(ctx context.Context, tenantID, name, value string) (secret.Secret, error) {
	if value == "" {
		return secret.Secret{}, fmt.Errorf("value is required")
	}
	existing, err := s.store.GetSecretByName(ctx, tenantID, name)
	if err != nil {
		return secret.Secret{}, err
	}

	sealed, err := s.seal(value)
	if err != nil {
		return secret.Secret{}, err
	}

	existing.Value = sealed
	existing.Version++
	updated, err := s.store.UpdateSecret(ctx, existing)
	if err != nil {
		return secret.Secret{}, err
	}
	s.log.WithField("tenant", tenantID).Infof("secret %s rotated to version %d", name, updated.Version)
	updated.Value = ""
	return updated, nil
}

// Get returns a secret with its value decrypted.
func (s *Service) Get(ctx context.Context, tenantID, name string) (secret.Secret, error) {
	sec, err := s.store.GetSecretByName(ctx, tenantID, name)
	if err != nil {
		return secret.Secret{}, err
	}
	plain, err := s.open(sec.Value)
	if err != nil {
		return secret.Secret{}, fmt.Errorf("decrypt secret %s: %w", name, err)
	}
	sec.Value = plain
	return sec, nil
}

// List returns secret metadata for a tenant, values cleared.
func (s *Service) List(ctx context.Context, tenantID string) ([]secret.Secret, error) {
	list, err := s.store.ListSecrets(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Value = ""
	}
	return list, nil
}

// Delete removes a secret by name.
func (s *Service) Delete(ctx context.Context, tenantID, name string) error {
	sec, err := s.store.GetSecretByName(ctx, tenantID, name)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSecret(ctx, sec.ID); err != nil {
		return err
	}
	s.log.WithField("tenant", tenantID).Infof("secret %s deleted", name)
	return nil
}

// ResolveSecrets decrypts the named secrets into a name -> value map. Names
// are trimmed; blanks are skipped; a missing name fails the whole resolve so
// callers never run with a partial credential set.
func (s *Service) ResolveSecrets(ctx context.Context, tenantID string, names []string) (map[string]string, error) {
	resolved := make(map[string]string, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if _, done := resolved[name]; done {
			continue
		}
		sec, err := s.Get(ctx, tenantID, name)
		if err != nil {
			return nil, fmt.Errorf("resolve secret %s: %w", name, err)
		}
		resolved[name] = sec.Value
	}
	return resolved, nil
}
