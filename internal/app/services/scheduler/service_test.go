package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/schedule"
	artifactssvc "github.com/schemaflow/platform/internal/app/services/artifacts"
	"github.com/schemaflow/platform/internal/app/services/mappings"
	"github.com/schemaflow/platform/internal/app/storage/memory"
	"github.com/schemaflow/platform/internal/engine/apicall"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	hits  *int32
}

func newFixture(t *testing.T) (*fixture, func()) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true}`)
	}))

	store := memory.New()
	arts := artifactssvc.New(store, nil)
	art, err := arts.Create(context.Background(), artifact.Artifact{
		TenantID: "t1",
		Kind:     artifact.KindMapping,
		Key:      "ping",
		Spec:     json.RawMessage(fmt.Sprintf(`{"method": "GET", "url": %q}`, srv.URL+"/ping")),
	})
	if err != nil {
		t.Fatalf("create mapping: %v", err)
	}
	if _, err := arts.Publish(context.Background(), art.ID); err != nil {
		t.Fatalf("publish mapping: %v", err)
	}

	caller := apicall.New(apicall.Config{}, apicall.WithHTTPClient(srv.Client()))
	maps := mappings.New(arts, caller, nil)

	svc := New(store, nil)
	svc.AttachMappings(maps)
	return &fixture{svc: svc, store: store, hits: &hits}, srv.Close
}

func TestServiceValidation(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()

	base := schedule.Job{
		TenantID:  "t1",
		Name:      "nightly",
		Spec:      "0 3 * * *",
		Kind:      schedule.KindMapping,
		TargetKey: "ping",
	}

	cases := []struct {
		name   string
		mutate func(*schedule.Job)
	}{
		{"missing tenant", func(j *schedule.Job) { j.TenantID = "" }},
		{"missing name", func(j *schedule.Job) { j.Name = "" }},
		{"unknown kind", func(j *schedule.Job) { j.Kind = "webhook" }},
		{"missing target", func(j *schedule.Job) { j.TargetKey = "" }},
		{"bad cron spec", func(j *schedule.Job) { j.Spec = "every tuesday" }},
	}
	for _, tc := range cases {
		job := base
		tc.mutate(&job)
		if _, err := f.svc.Create(context.Background(), job); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}

	if _, err := f.svc.Create(context.Background(), base); err != nil {
		t.Fatalf("valid job rejected: %v", err)
	}
}

func TestServiceRunNow(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()

	job, err := f.svc.Create(ctx, schedule.Job{
		TenantID:  "t1",
		Name:      "sync",
		Spec:      "@every 1h",
		Kind:      schedule.KindMapping,
		TargetKey: "ping",
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ran, err := f.svc.RunNow(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if ran.LastRunAt == nil {
		t.Fatal("LastRunAt not recorded")
	}
	if ran.LastError != "" {
		t.Fatalf("unexpected LastError %q", ran.LastError)
	}
	if got := atomic.LoadInt32(f.hits); got != 1 {
		t.Fatalf("backend hits = %d, want 1", got)
	}

	// Retarget to a mapping that does not exist; the failure lands on the
	// job record instead of erroring the scheduler.
	broken := job
	broken.TargetKey = "ghost"
	if _, err := f.svc.Update(ctx, broken); err != nil {
		t.Fatalf("update: %v", err)
	}
	ran, err = f.svc.RunNow(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunNow after retarget: %v", err)
	}
	if ran.LastError == "" || !strings.Contains(ran.LastError, "ghost") {
		t.Fatalf("LastError = %q, want ghost lookup failure", ran.LastError)
	}
}

func TestServiceRunNowMissingCollaborator(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	ctx := context.Background()

	job, err := svc.Create(ctx, schedule.Job{
		TenantID:  "t1",
		Name:      "orphan",
		Spec:      "@every 1h",
		Kind:      schedule.KindFlow,
		TargetKey: "checkout",
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ran, err := svc.RunNow(ctx, job.ID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if !strings.Contains(ran.LastError, "not configured") {
		t.Fatalf("LastError = %q", ran.LastError)
	}
}

func TestServiceStartFiresEnabledJobs(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, schedule.Job{
		TenantID:  "t1",
		Name:      "ticker",
		Spec:      "@every 1s",
		Kind:      schedule.KindMapping,
		TargetKey: "ping",
		Enabled:   true,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Create(ctx, schedule.Job{
		TenantID:  "t1",
		Name:      "parked",
		Spec:      "@every 1s",
		Kind:      schedule.KindMapping,
		TargetKey: "ping",
		Enabled:   false,
	}); err != nil {
		t.Fatalf("create disabled: %v", err)
	}

	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt32(f.hits) == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if atomic.LoadInt32(f.hits) == 0 {
		t.Fatal("enabled job never fired")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.svc.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	jobs, err := f.svc.List(ctx, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, job := range jobs {
		switch job.Name {
		case "ticker":
			if job.LastRunAt == nil {
				t.Error("ticker has no LastRunAt")
			}
		case "parked":
			if job.LastRunAt != nil {
				t.Error("disabled job ran")
			}
		}
	}
}

func TestServiceDeleteRemovesEntry(t *testing.T) {
	f, cleanup := newFixture(t)
	defer cleanup()
	ctx := context.Background()

	job, err := f.svc.Create(ctx, schedule.Job{
		TenantID:  "t1",
		Name:      "doomed",
		Spec:      "@every 1h",
		Kind:      schedule.KindMapping,
		TargetKey: "ping",
		Enabled:   true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.svc.Delete(ctx, job.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.svc.Get(ctx, job.ID); err == nil {
		t.Fatal("expected not found after delete")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.svc.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
