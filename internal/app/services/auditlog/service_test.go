package auditlog

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/schemaflow/platform/internal/app/domain/audit"
	"github.com/schemaflow/platform/internal/app/storage/memory"
)

func entry(tenant, path string, status int) audit.Entry {
	return audit.Entry{
		TenantID: tenant,
		User:     "u1",
		Role:     "editor",
		Method:   "POST",
		Path:     path,
		Status:   status,
	}
}

func TestServiceRingBuffer(t *testing.T) {
	ctx := context.Background()
	svc := New(nil, WithRingSize(3))

	for i := 0; i < 5; i++ {
		svc.Record(ctx, entry("t1", "/artifacts", 200+i))
	}

	got, err := svc.List(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ring kept %d entries, want 3", len(got))
	}
	// Newest first; the two oldest were evicted.
	if got[0].Status != 204 || got[2].Status != 202 {
		t.Fatalf("unexpected window %+v", got)
	}
	if got[0].Time.IsZero() {
		t.Fatal("Record did not stamp time")
	}
}

func TestServiceTenantFilter(t *testing.T) {
	ctx := context.Background()
	svc := New(nil)

	svc.Record(ctx, entry("t1", "/artifacts", 201))
	svc.Record(ctx, entry("t2", "/flows", 200))
	svc.Record(ctx, entry("t1", "/packages", 200))

	got, err := svc.List(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries for t1, got %d", len(got))
	}
	for _, e := range got {
		if e.TenantID != "t1" {
			t.Fatalf("foreign entry leaked: %+v", e)
		}
	}
}

func TestServiceStoreBacked(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	svc := New(nil, WithRingSize(2))
	svc.AttachStore(store)

	for i := 0; i < 4; i++ {
		svc.Record(ctx, entry("t1", "/secrets", 200))
	}

	// The store keeps everything even though the ring holds two.
	got, err := svc.List(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("store returned %d entries, want 4", len(got))
	}
	if got[0].ID == "" {
		t.Fatal("store did not assign entry IDs")
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	svc := New(nil, WithSink(sink))
	svc.Record(context.Background(), entry("t1", "/artifacts/flow", 201))
	svc.Record(context.Background(), entry("t1", "/artifacts/flow", 409))
	if err := sink.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit file: %v", err)
	}
	defer f.Close()

	var lines []audit.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e audit.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad JSONL line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, e)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].Path != "/artifacts/flow" || lines[1].Status != 409 {
		t.Fatalf("unexpected contents %+v", lines)
	}
}
