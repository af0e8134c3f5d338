package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	artifactssvc "github.com/schemaflow/platform/internal/app/services/artifacts"
	mappingssvc "github.com/schemaflow/platform/internal/app/services/mappings"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/app/storage/memory"
	"github.com/schemaflow/platform/internal/engine/apicall"
	"github.com/schemaflow/platform/internal/engine/flow"
)

const checkoutFlow = `{
	"initial": "cart",
	"nodes": [
		{"id": "cart", "kind": "page", "transitions": [
			{"event": "submit", "target": "route", "actions": [
				{"kind": "set", "path": "order.total", "value": "{{ input.total }}"},
				{"kind": "callMapping", "mapping": "notify", "input": {"total": "{{ input.total }}"}},
				{"kind": "emit", "event": "order.submitted"}
			]}
		]},
		{"id": "route", "kind": "decision", "transitions": [
			{"target": "review", "guard": {"kind": "compare", "left": "{{ order.total }}", "op": "gte", "right": 500}},
			{"target": "done"}
		]},
		{"id": "review", "kind": "page", "transitions": [
			{"event": "approve", "target": "done"}
		]},
		{"id": "done", "kind": "terminal"}
	]
}`

type fixture struct {
	svc   *Service
	store *memory.Store
	calls *int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok": true}`)
	}))
	t.Cleanup(srv.Close)

	store := memory.New()
	arts := artifactssvc.New(store, nil)

	maps := mappingssvc.New(arts, apicall.New(apicall.Config{}, apicall.WithHTTPClient(srv.Client())), nil)
	maps.AttachExecutionStore(store)

	publish(t, arts, artifact.KindFlow, "checkout", checkoutFlow)
	publish(t, arts, artifact.KindMapping, "notify",
		fmt.Sprintf(`{"method": "POST", "url": %q, "body": {"total": "{{ total }}"}}`, srv.URL))

	svc := New(arts, store, nil)
	svc.AttachMappings(maps)
	return &fixture{svc: svc, store: store, calls: &calls}
}

func publish(t *testing.T, arts *artifactssvc.Service, kind artifact.Kind, key, spec string) {
	t.Helper()
	art, err := arts.Create(context.Background(), artifact.Artifact{
		TenantID: "t1",
		Kind:     kind,
		Key:      key,
		Spec:     json.RawMessage(spec),
	})
	if err != nil {
		t.Fatalf("create %s/%s: %v", kind, key, err)
	}
	if _, err := arts.Publish(context.Background(), art.ID); err != nil {
		t.Fatalf("publish %s/%s: %v", kind, key, err)
	}
}

func TestServiceSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "t1", "checkout", map[string]interface{}{"customer": "ada"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Current != "cart" || sess.Status != flow.StatusActive || sess.FlowVersion != 1 {
		t.Fatalf("session = %+v", sess)
	}

	frames, unsubscribe := f.svc.Subscribe(sess.ID)
	defer unsubscribe()

	updated, steps, err := f.svc.SendEvent(ctx, "t1", sess.ID, "submit", map[string]interface{}{"total": float64(700)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if updated.Current != "review" {
		t.Fatalf("current = %q", updated.Current)
	}
	if len(steps) != 2 || steps[0].To != "route" || steps[1].To != "review" {
		t.Fatalf("steps = %+v", steps)
	}
	if got := steps[0].Events; len(got) != 1 || got[0] != "order.submitted" {
		t.Fatalf("events = %v", got)
	}
	if n := atomic.LoadInt32(f.calls); n != 1 {
		t.Fatalf("mapping calls = %d", n)
	}

	select {
	case ev := <-frames:
		if ev.SessionID != sess.ID || ev.Current != "review" || len(ev.Steps) != 2 {
			t.Fatalf("frame = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast frame")
	}

	final, steps, err := f.svc.SendEvent(ctx, "t1", sess.ID, "approve", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if final.Status != flow.StatusCompleted || len(steps) != 1 {
		t.Fatalf("final = %+v steps = %+v", final, steps)
	}

	if _, _, err := f.svc.SendEvent(ctx, "t1", sess.ID, "approve", nil); !errors.Is(err, flow.ErrSessionClosed) {
		t.Fatalf("expected closed session, got %v", err)
	}

	stored, err := f.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(stored.History) != 3 {
		t.Fatalf("history = %d steps", len(stored.History))
	}
}

func TestServiceSendEventRejectsUnknownEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "t1", "checkout", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := f.svc.SendEvent(ctx, "t1", sess.ID, "teleport", nil); !errors.Is(err, flow.ErrNoTransition) {
		t.Fatalf("expected no transition, got %v", err)
	}
}

func TestServiceTenantScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "t1", "checkout", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := f.svc.Get(ctx, "t2", sess.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
	if _, _, err := f.svc.SendEvent(ctx, "t2", sess.ID, "submit", nil); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found across tenants, got %v", err)
	}
}

func TestServiceCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Start(ctx, "t1", "checkout", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	cancelled, err := f.svc.Cancel(ctx, "t1", sess.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != flow.StatusCancelled {
		t.Fatalf("status = %q", cancelled.Status)
	}
	if _, err := f.svc.Cancel(ctx, "t1", sess.ID); !errors.Is(err, flow.ErrSessionClosed) {
		t.Fatalf("expected closed session, got %v", err)
	}

	sessions, err := f.svc.List(ctx, "t1", "checkout")
	if err != nil || len(sessions) != 1 {
		t.Fatalf("list = %d, err %v", len(sessions), err)
	}
}
