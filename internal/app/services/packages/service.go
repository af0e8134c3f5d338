// Package packages manages configuration package versions through their
// approval lifecycle and resolves the active bundle a tenant's runtime
// renders.
package packages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/configpkg"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/pkg/logger"
)

// ErrSelfApproval is returned when the submitter of a review tries to
// approve it.
var ErrSelfApproval = errors.New("submitter cannot approve their own package")

// Service manages package lifecycles.
type Service struct {
	store     storage.PackageStore
	artifacts storage.ArtifactStore
	log       *logger.Logger
}

// New constructs a package service.
func New(store storage.PackageStore, artifactStore storage.ArtifactStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("packages")
	}
	return &Service{store: store, artifacts: artifactStore, log: log}
}

// Create assembles a new draft package version. Every item must pin a
// published artifact of the package's tenant.
func (s *Service) Create(ctx context.Context, pkg configpkg.Package) (configpkg.Package, error) {
	if pkg.TenantID == "" {
		return configpkg.Package{}, fmt.Errorf("tenant_id is required")
	}
	if pkg.Key == "" {
		return configpkg.Package{}, fmt.Errorf("key is required")
	}
	if len(pkg.Items) == 0 {
		return configpkg.Package{}, fmt.Errorf("a package needs at least one item")
	}
	if err := s.checkItems(ctx, pkg.TenantID, pkg.Items); err != nil {
		return configpkg.Package{}, err
	}

	if pkg.Version <= 0 {
		latest, err := s.store.ListPackages(ctx, pkg.TenantID, pkg.Key)
		if err != nil {
			return configpkg.Package{}, err
		}
		pkg.Version = 1
		for _, existing := range latest {
			if existing.Version >= pkg.Version {
				pkg.Version = existing.Version + 1
			}
		}
	}

	pkg.Status = configpkg.StatusDraft
	pkg.SubmittedBy = ""
	pkg.ApprovedBy = ""
	created, err := s.store.CreatePackage(ctx, pkg)
	if err != nil {
		return configpkg.Package{}, err
	}
	s.log.Infof("package %s v%d created for tenant %s", created.Key, created.Version, created.TenantID)
	return created, nil
}

// Update replaces the items and notes of a draft version.
func (s *Service) Update(ctx context.Context, pkg configpkg.Package) (configpkg.Package, error) {
	existing, err := s.store.GetPackage(ctx, pkg.ID)
	if err != nil {
		return configpkg.Package{}, err
	}
	if existing.Status != configpkg.StatusDraft {
		return configpkg.Package{}, fmt.Errorf("package %s v%d is %s: %w",
			existing.Key, existing.Version, existing.Status, configpkg.ErrInvalidTransition)
	}

	if len(pkg.Items) == 0 {
		pkg.Items = existing.Items
	} else if err := s.checkItems(ctx, existing.TenantID, pkg.Items); err != nil {
		return configpkg.Package{}, err
	}
	if pkg.Notes == "" {
		pkg.Notes = existing.Notes
	}
	pkg.Status = existing.Status
	pkg.CreatedBy = existing.CreatedBy
	pkg.SubmittedBy = existing.SubmittedBy
	pkg.ApprovedBy = existing.ApprovedBy

	updated, err := s.store.UpdatePackage(ctx, pkg)
	if err != nil {
		return configpkg.Package{}, err
	}
	s.log.Infof("package %s v%d updated", updated.Key, updated.Version)
	return updated, nil
}

// Submit moves a draft into review.
func (s *Service) Submit(ctx context.Context, id, submitter string) (configpkg.Package, error) {
	if submitter == "" {
		return configpkg.Package{}, fmt.Errorf("submitter is required")
	}
	pkg, err := s.transition(ctx, id, configpkg.StatusReview)
	if err != nil {
		return configpkg.Package{}, err
	}
	now := time.Now().UTC()
	pkg.SubmittedBy = submitter
	pkg.SubmittedAt = &now
	return s.save(ctx, pkg, "submitted for review")
}

// Approve accepts a review. The approver must differ from the submitter.
func (s *Service) Approve(ctx context.Context, id, approver string) (configpkg.Package, error) {
	if approver == "" {
		return configpkg.Package{}, fmt.Errorf("approver is required")
	}
	pkg, err := s.transition(ctx, id, configpkg.StatusApproved)
	if err != nil {
		return configpkg.Package{}, err
	}
	if pkg.SubmittedBy == approver {
		return configpkg.Package{}, fmt.Errorf("package %s v%d: %w", pkg.Key, pkg.Version, ErrSelfApproval)
	}
	now := time.Now().UTC()
	pkg.ApprovedBy = approver
	pkg.ApprovedAt = &now
	return s.save(ctx, pkg, "approved")
}

// Reject returns a review to draft, keeping the reviewer's note.
func (s *Service) Reject(ctx context.Context, id, note string) (configpkg.Package, error) {
	pkg, err := s.transition(ctx, id, configpkg.StatusDraft)
	if err != nil {
		return configpkg.Package{}, err
	}
	pkg.SubmittedBy = ""
	pkg.SubmittedAt = nil
	if note != "" {
		pkg.Notes = note
	}
	return s.save(ctx, pkg, "rejected back to draft")
}

// Activate makes an approved version the serving one, atomically deprecating
// whichever version of the same key was active before.
func (s *Service) Activate(ctx context.Context, id string) (configpkg.Package, error) {
	activated, err := s.store.ActivatePackage(ctx, id)
	if err != nil {
		return configpkg.Package{}, err
	}
	s.log.Infof("package %s v%d activated for tenant %s", activated.Key, activated.Version, activated.TenantID)
	return activated, nil
}

// Deprecate retires an active version without activating a successor.
func (s *Service) Deprecate(ctx context.Context, id string) (configpkg.Package, error) {
	pkg, err := s.transition(ctx, id, configpkg.StatusDeprecated)
	if err != nil {
		return configpkg.Package{}, err
	}
	now := time.Now().UTC()
	pkg.DeprecatedAt = &now
	return s.save(ctx, pkg, "deprecated")
}

// Get returns one package version.
func (s *Service) Get(ctx context.Context, id string) (configpkg.Package, error) {
	return s.store.GetPackage(ctx, id)
}

// List returns a tenant's package versions, optionally filtered by key.
func (s *Service) List(ctx context.Context, tenantID, key string) ([]configpkg.Package, error) {
	return s.store.ListPackages(ctx, tenantID, key)
}

// Delete removes a draft version. Anything past draft stays for the audit
// trail.
func (s *Service) Delete(ctx context.Context, id string) error {
	pkg, err := s.store.GetPackage(ctx, id)
	if err != nil {
		return err
	}
	if pkg.Status != configpkg.StatusDraft {
		return fmt.Errorf("package %s v%d is %s: %w", pkg.Key, pkg.Version, pkg.Status, configpkg.ErrInvalidTransition)
	}
	if err := s.store.DeletePackage(ctx, id); err != nil {
		return err
	}
	s.log.Infof("package %s v%d deleted", pkg.Key, pkg.Version)
	return nil
}

// Bundle is an active package with its artifact specs materialized: the
// runtime configuration a client renders without further lookups.
type Bundle struct {
	Package   configpkg.Package `json:"package"`
	Artifacts []BundleArtifact  `json:"artifacts"`
}

// BundleArtifact is one pinned artifact with its spec inlined.
type BundleArtifact struct {
	Kind    artifact.Kind   `json:"kind"`
	Key     string          `json:"key"`
	Version int             `json:"version"`
	Name    string          `json:"name,omitempty"`
	Spec    json.RawMessage `json:"spec"`
}

// ResolveActive returns the active version of a package key with every
// pinned artifact spec inlined.
func (s *Service) ResolveActive(ctx context.Context, tenantID, key string) (*Bundle, error) {
	pkg, err := s.store.GetActivePackage(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}

	bundle := &Bundle{Package: pkg, Artifacts: make([]BundleArtifact, 0, len(pkg.Items))}
	for _, item := range pkg.Items {
		art, err := s.artifacts.GetArtifact(ctx, item.ArtifactID)
		if err != nil {
			return nil, fmt.Errorf("package %s v%d item %s: %w", pkg.Key, pkg.Version, item.ArtifactID, err)
		}
		bundle.Artifacts = append(bundle.Artifacts, BundleArtifact{
			Kind:    art.Kind,
			Key:     art.Key,
			Version: art.Version,
			Name:    art.Name,
			Spec:    art.Spec,
		})
	}
	return bundle, nil
}

// checkItems verifies that every item pins a published artifact of the
// tenant and that the pinned kind matches the artifact's.
func (s *Service) checkItems(ctx context.Context, tenantID string, items []configpkg.Item) error {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ArtifactID == "" {
			return fmt.Errorf("item without artifact id")
		}
		if _, dup := seen[item.ArtifactID]; dup {
			return fmt.Errorf("artifact %s pinned twice", item.ArtifactID)
		}
		seen[item.ArtifactID] = struct{}{}

		art, err := s.artifacts.GetArtifact(ctx, item.ArtifactID)
		if err != nil {
			return fmt.Errorf("item %s: %w", item.ArtifactID, err)
		}
		if art.TenantID != tenantID {
			return fmt.Errorf("item %s: %w", item.ArtifactID, storage.ErrNotFound)
		}
		if art.Status != artifact.StatusPublished {
			return fmt.Errorf("artifact %s/%s v%d is not published", art.Kind, art.Key, art.Version)
		}
		if item.Kind != "" && item.Kind != art.Kind {
			return fmt.Errorf("item %s: kind %s does not match artifact kind %s", item.ArtifactID, item.Kind, art.Kind)
		}
	}
	return nil
}

// transition loads a package and checks the lifecycle edge without saving.
func (s *Service) transition(ctx context.Context, id string, next configpkg.Status) (configpkg.Package, error) {
	pkg, err := s.store.GetPackage(ctx, id)
	if err != nil {
		return configpkg.Package{}, err
	}
	if !pkg.Status.CanTransition(next) {
		return configpkg.Package{}, fmt.Errorf("package %s v%d: %s -> %s: %w",
			pkg.Key, pkg.Version, pkg.Status, next, configpkg.ErrInvalidTransition)
	}
	pkg.Status = next
	return pkg, nil
}

func (s *Service) save(ctx context.Context, pkg configpkg.Package, verb string) (configpkg.Package, error) {
	updated, err := s.store.UpdatePackage(ctx, pkg)
	if err != nil {
		return configpkg.Package{}, err
	}
	s.log.Infof("package %s v%d %s", updated.Key, updated.Version, verb)
	return updated, nil
}
