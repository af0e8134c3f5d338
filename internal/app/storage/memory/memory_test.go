package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/configpkg"
	"github.com/schemaflow/platform/internal/app/domain/execution"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/engine/expr"
	"github.com/schemaflow/platform/internal/engine/flow"
)

func sessionFixture(tenantID, flowKey string) flow.Session {
	return flow.Session{
		TenantID:    tenantID,
		FlowKey:     flowKey,
		FlowVersion: 1,
		Current:     "start",
		Status:      flow.StatusActive,
		Context:     expr.Context{"user": map[string]interface{}{"name": "ada"}},
	}
}

func TestArtifactVersionResolution(t *testing.T) {
	ctx := context.Background()
	store := New()

	for v, status := range map[int]artifact.Status{
		1: artifact.StatusPublished,
		2: artifact.StatusPublished,
		3: artifact.StatusDraft,
	} {
		_, err := store.CreateArtifact(ctx, artifact.Artifact{
			TenantID: "t1",
			Kind:     artifact.KindMapping,
			Key:      "crm-sync",
			Version:  v,
			Status:   status,
			Spec:     []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("create artifact v%d: %v", v, err)
		}
	}

	latest, err := store.GetLatestArtifact(ctx, "t1", artifact.KindMapping, "crm-sync")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.Version != 3 {
		t.Fatalf("latest version = %d, want 3", latest.Version)
	}

	published, err := store.GetPublishedArtifact(ctx, "t1", artifact.KindMapping, "crm-sync")
	if err != nil {
		t.Fatalf("published: %v", err)
	}
	if published.Version != 2 {
		t.Fatalf("published version = %d, want 2", published.Version)
	}

	if _, err := store.GetPublishedArtifact(ctx, "t2", artifact.KindMapping, "crm-sync"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cross-tenant lookup error = %v, want ErrNotFound", err)
	}
}

func TestCreateArtifactRejectsDuplicateVersion(t *testing.T) {
	ctx := context.Background()
	store := New()

	art := artifact.Artifact{TenantID: "t1", Kind: artifact.KindFlow, Key: "onboarding", Version: 1, Spec: []byte(`{}`)}
	if _, err := store.CreateArtifact(ctx, art); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.CreateArtifact(ctx, art); err == nil {
		t.Fatal("expected duplicate version error")
	}
}

func TestActivatePackageDeprecatesPrevious(t *testing.T) {
	ctx := context.Background()
	store := New()

	v1, err := store.CreatePackage(ctx, configpkg.Package{TenantID: "t1", Key: "portal", Version: 1, Status: configpkg.StatusApproved})
	if err != nil {
		t.Fatalf("create v1: %v", err)
	}
	if _, err := store.ActivatePackage(ctx, v1.ID); err != nil {
		t.Fatalf("activate v1: %v", err)
	}

	v2, err := store.CreatePackage(ctx, configpkg.Package{TenantID: "t1", Key: "portal", Version: 2, Status: configpkg.StatusApproved})
	if err != nil {
		t.Fatalf("create v2: %v", err)
	}
	activated, err := store.ActivatePackage(ctx, v2.ID)
	if err != nil {
		t.Fatalf("activate v2: %v", err)
	}
	if activated.Status != configpkg.StatusActive || activated.ActivatedAt == nil {
		t.Fatalf("v2 status = %s, activatedAt = %v", activated.Status, activated.ActivatedAt)
	}

	prev, err := store.GetPackage(ctx, v1.ID)
	if err != nil {
		t.Fatalf("get v1: %v", err)
	}
	if prev.Status != configpkg.StatusDeprecated || prev.DeprecatedAt == nil {
		t.Fatalf("v1 status = %s, want deprecated", prev.Status)
	}

	active, err := store.GetActivePackage(ctx, "t1", "portal")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.ID != v2.ID {
		t.Fatalf("active package = %s, want %s", active.ID, v2.ID)
	}
}

func TestActivatePackageRequiresApproved(t *testing.T) {
	ctx := context.Background()
	store := New()

	pkg, err := store.CreatePackage(ctx, configpkg.Package{TenantID: "t1", Key: "portal", Version: 1, Status: configpkg.StatusDraft})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.ActivatePackage(ctx, pkg.ID); !errors.Is(err, configpkg.ErrInvalidTransition) {
		t.Fatalf("activate draft error = %v, want ErrInvalidTransition", err)
	}
}

func TestListExecutionsNewestFirstWithLimit(t *testing.T) {
	ctx := context.Background()
	store := New()

	for i := 0; i < 5; i++ {
		_, err := store.CreateExecution(ctx, execution.Record{
			TenantID:   "t1",
			MappingKey: "crm-sync",
			Status:     execution.StatusSucceeded,
		})
		if err != nil {
			t.Fatalf("create execution %d: %v", i, err)
		}
	}

	recs, err := store.ListExecutions(ctx, "t1", "crm-sync", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len = %d, want 3", len(recs))
	}
	if recs[0].ID <= recs[1].ID || recs[1].ID <= recs[2].ID {
		t.Fatalf("expected newest-first ordering, got %s, %s, %s", recs[0].ID, recs[1].ID, recs[2].ID)
	}
}

func TestUpdateSessionPreservesIdentityFields(t *testing.T) {
	ctx := context.Background()
	store := New()

	sess, err := store.CreateSession(ctx, sessionFixture("t1", "onboarding"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	mutated := sess
	mutated.TenantID = "other"
	mutated.FlowKey = "other"
	mutated.Current = "done"

	updated, err := store.UpdateSession(ctx, mutated)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.TenantID != "t1" || updated.FlowKey != "onboarding" {
		t.Fatalf("identity fields overwritten: %+v", updated)
	}
	if updated.Current != "done" {
		t.Fatalf("current = %s, want done", updated.Current)
	}
}
