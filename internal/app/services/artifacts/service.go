// Package artifacts manages versioned configuration documents: UI schemas,
// flow graphs, rule sets, API mappings and transform scripts. Draft versions
// are editable; published versions are immutable and become referencable by
// config packages.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/configpkg"
	"github.com/schemaflow/platform/internal/app/services/transforms"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/engine/apicall"
	"github.com/schemaflow/platform/internal/engine/flow"
	"github.com/schemaflow/platform/internal/engine/rules"
	"github.com/schemaflow/platform/pkg/logger"
)

var (
	// ErrPublished is returned when mutating a published artifact version.
	ErrPublished = errors.New("published artifact versions are immutable")
	// ErrInUse is returned when deleting an artifact referenced by a
	// package that already left draft.
	ErrInUse = errors.New("artifact is referenced by a package")
)

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,63}$`)

// Service manages artifact versions.
type Service struct {
	store    storage.ArtifactStore
	packages storage.PackageStore
	checker  *transforms.Service
	log      *logger.Logger
}

// New constructs an artifact service.
func New(store storage.ArtifactStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("artifacts")
	}
	return &Service{store: store, checker: transforms.New(log), log: log}
}

// AttachPackageStore wires the package store so deletion can refuse
// artifacts pinned by packages that already left draft.
func (s *Service) AttachPackageStore(packages storage.PackageStore) {
	s.packages = packages
}

// Create registers version 1 of a new artifact as a draft.
func (s *Service) Create(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	if art.TenantID == "" {
		return artifact.Artifact{}, fmt.Errorf("tenant_id is required")
	}
	if !artifact.ValidKind(art.Kind) {
		return artifact.Artifact{}, fmt.Errorf("unknown artifact kind %q", art.Kind)
	}
	if !keyPattern.MatchString(art.Key) {
		return artifact.Artifact{}, fmt.Errorf("invalid artifact key %q", art.Key)
	}
	if err := s.validateSpec(ctx, art.Kind, art.Spec); err != nil {
		return artifact.Artifact{}, err
	}

	if _, err := s.store.GetLatestArtifact(ctx, art.TenantID, art.Kind, art.Key); err == nil {
		return artifact.Artifact{}, fmt.Errorf("artifact %s/%s already exists, create a new version instead", art.Kind, art.Key)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return artifact.Artifact{}, err
	}

	art.Version = 1
	art.Status = artifact.StatusDraft
	created, err := s.store.CreateArtifact(ctx, art)
	if err != nil {
		return artifact.Artifact{}, err
	}
	s.log.Infof("artifact %s/%s v1 created for tenant %s", created.Kind, created.Key, created.TenantID)
	return created, nil
}

// Update overwrites the name and spec of a draft version.
func (s *Service) Update(ctx context.Context, art artifact.Artifact) (artifact.Artifact, error) {
	existing, err := s.store.GetArtifact(ctx, art.ID)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if existing.Status != artifact.StatusDraft {
		return artifact.Artifact{}, fmt.Errorf("artifact %s v%d: %w", existing.Key, existing.Version, ErrPublished)
	}

	if art.Name == "" {
		art.Name = existing.Name
	}
	if len(art.Spec) == 0 {
		art.Spec = existing.Spec
	} else if err := s.validateSpec(ctx, existing.Kind, art.Spec); err != nil {
		return artifact.Artifact{}, err
	}
	art.Status = existing.Status
	art.CreatedBy = existing.CreatedBy

	updated, err := s.store.UpdateArtifact(ctx, art)
	if err != nil {
		return artifact.Artifact{}, err
	}
	s.log.Infof("artifact %s/%s v%d updated", updated.Kind, updated.Key, updated.Version)
	return updated, nil
}

// Publish freezes a draft version. The spec is revalidated so nothing
// structurally broken becomes referencable.
func (s *Service) Publish(ctx context.Context, id string) (artifact.Artifact, error) {
	art, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if art.Status == artifact.StatusPublished {
		return artifact.Artifact{}, fmt.Errorf("artifact %s v%d is already published", art.Key, art.Version)
	}
	if err := s.validateSpec(ctx, art.Kind, art.Spec); err != nil {
		return artifact.Artifact{}, err
	}

	art.Status = artifact.StatusPublished
	published, err := s.store.UpdateArtifact(ctx, art)
	if err != nil {
		return artifact.Artifact{}, err
	}
	s.log.Infof("artifact %s/%s v%d published", published.Kind, published.Key, published.Version)
	return published, nil
}

// NewVersion clones the latest version of an artifact as the next draft.
func (s *Service) NewVersion(ctx context.Context, tenantID string, kind artifact.Kind, key, createdBy string) (artifact.Artifact, error) {
	latest, err := s.store.GetLatestArtifact(ctx, tenantID, kind, key)
	if err != nil {
		return artifact.Artifact{}, err
	}

	next := artifact.Artifact{
		TenantID:  tenantID,
		Kind:      kind,
		Key:       key,
		Version:   latest.Version + 1,
		Name:      latest.Name,
		Spec:      latest.Spec,
		Status:    artifact.StatusDraft,
		CreatedBy: createdBy,
	}
	created, err := s.store.CreateArtifact(ctx, next)
	if err != nil {
		return artifact.Artifact{}, err
	}
	s.log.Infof("artifact %s/%s v%d drafted from v%d", kind, key, created.Version, latest.Version)
	return created, nil
}

// Get returns one artifact version by ID.
func (s *Service) Get(ctx context.Context, id string) (artifact.Artifact, error) {
	return s.store.GetArtifact(ctx, id)
}

// GetVersion returns a specific version of an artifact.
func (s *Service) GetVersion(ctx context.Context, tenantID string, kind artifact.Kind, key string, version int) (artifact.Artifact, error) {
	return s.store.GetArtifactVersion(ctx, tenantID, kind, key, version)
}

// Latest returns the highest version of an artifact regardless of status.
func (s *Service) Latest(ctx context.Context, tenantID string, kind artifact.Kind, key string) (artifact.Artifact, error) {
	return s.store.GetLatestArtifact(ctx, tenantID, kind, key)
}

// Published returns the highest published version of an artifact.
func (s *Service) Published(ctx context.Context, tenantID string, kind artifact.Kind, key string) (artifact.Artifact, error) {
	return s.store.GetPublishedArtifact(ctx, tenantID, kind, key)
}

// List returns artifact versions for a tenant, optionally filtered by kind
// and key.
func (s *Service) List(ctx context.Context, tenantID string, kind artifact.Kind, key string) ([]artifact.Artifact, error) {
	if kind != "" && !artifact.ValidKind(kind) {
		return nil, fmt.Errorf("unknown artifact kind %q", kind)
	}
	return s.store.ListArtifacts(ctx, tenantID, kind, key)
}

// Delete removes an artifact version. Versions pinned by a package that has
// left draft are refused.
func (s *Service) Delete(ctx context.Context, id string) error {
	art, err := s.store.GetArtifact(ctx, id)
	if err != nil {
		return err
	}

	if s.packages != nil {
		pkgs, err := s.packages.ListPackages(ctx, art.TenantID, "")
		if err != nil {
			return fmt.Errorf("check package references: %w", err)
		}
		for _, pkg := range pkgs {
			if pkg.Status == configpkg.StatusDraft {
				continue
			}
			for _, item := range pkg.Items {
				if item.ArtifactID == id {
					return fmt.Errorf("artifact %s v%d is pinned by package %s v%d: %w",
						art.Key, art.Version, pkg.Key, pkg.Version, ErrInUse)
				}
			}
		}
	}

	if err := s.store.DeleteArtifact(ctx, id); err != nil {
		return err
	}
	s.log.Infof("artifact %s/%s v%d deleted", art.Kind, art.Key, art.Version)
	return nil
}

// validateSpec checks a spec against its kind's schema. Flows must compile,
// rule sets and mappings must validate, transforms must define the entry
// function, and UI schemas must be well-formed component trees.
func (s *Service) validateSpec(ctx context.Context, kind artifact.Kind, spec json.RawMessage) error {
	if len(spec) == 0 {
		return fmt.Errorf("spec is required")
	}

	switch kind {
	case artifact.KindFlow:
		g, err := flow.ParseGraph(spec)
		if err != nil {
			return err
		}
		if _, err := flow.Compile(g); err != nil {
			return err
		}
	case artifact.KindRuleSet:
		var rs rules.RuleSet
		if err := json.Unmarshal(spec, &rs); err != nil {
			return fmt.Errorf("decode ruleset spec: %w", err)
		}
		if err := rules.Validate(rs); err != nil {
			return err
		}
	case artifact.KindMapping:
		var m apicall.Mapping
		if err := json.Unmarshal(spec, &m); err != nil {
			return fmt.Errorf("decode mapping spec: %w", err)
		}
		if err := apicall.Validate(m); err != nil {
			return err
		}
	case artifact.KindTransform:
		sc, err := transforms.ParseScript(spec)
		if err != nil {
			return err
		}
		if err := s.checker.Check(ctx, sc.Source); err != nil {
			return err
		}
	case artifact.KindUISchema:
		var root uiNode
		if err := json.Unmarshal(spec, &root); err != nil {
			return fmt.Errorf("decode uischema spec: %w", err)
		}
		if err := validateUINode(root, ""); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown artifact kind %q", kind)
	}
	return nil
}

// uiNode is the structural subset of a UI schema node. Component props and
// bindings pass through untouched.
type uiNode struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Children []uiNode `json:"children,omitempty"`
}

func validateUINode(n uiNode, parent string) error {
	if n.Type == "" {
		if parent == "" {
			return fmt.Errorf("uischema root needs a type")
		}
		return fmt.Errorf("uischema child of %q needs a type", parent)
	}
	for _, child := range n.Children {
		if err := validateUINode(child, n.Type); err != nil {
			return err
		}
	}
	return nil
}
