package mappings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/execution"
	artifactssvc "github.com/schemaflow/platform/internal/app/services/artifacts"
	secretssvc "github.com/schemaflow/platform/internal/app/services/secrets"
	"github.com/schemaflow/platform/internal/app/services/transforms"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/app/storage/memory"
	"github.com/schemaflow/platform/internal/engine/apicall"
)

const secretToken = "tok-sup3rsecret"

type fixture struct {
	svc   *Service
	store *memory.Store
	arts  *artifactssvc.Service
}

func newFixture(t *testing.T, client *http.Client) *fixture {
	t.Helper()
	store := memory.New()
	arts := artifactssvc.New(store, nil)
	sec := secretssvc.New(store, nil)

	if _, err := sec.Create(context.Background(), "t1", "api_token", secretToken); err != nil {
		t.Fatalf("create secret: %v", err)
	}

	caller := apicall.New(apicall.Config{}, apicall.WithHTTPClient(client))
	svc := New(arts, caller, nil)
	svc.AttachSecrets(sec)
	svc.AttachTransforms(transforms.New(nil))
	svc.AttachExecutionStore(store)
	return &fixture{svc: svc, store: store, arts: arts}
}

func (f *fixture) publish(t *testing.T, kind artifact.Kind, key, spec string) {
	t.Helper()
	art, err := f.arts.Create(context.Background(), artifact.Artifact{
		TenantID: "t1",
		Kind:     kind,
		Key:      key,
		Spec:     json.RawMessage(spec),
	})
	if err != nil {
		t.Fatalf("create %s/%s: %v", kind, key, err)
	}
	if _, err := f.arts.Publish(context.Background(), art.ID); err != nil {
		t.Fatalf("publish %s/%s: %v", kind, key, err)
	}
}

func TestServiceCallFullPipeline(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"amount": 21, "echo": %q}`, secretToken)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client())
	f.publish(t, artifact.KindTransform, "double-amount",
		`{"source": "function transform(input) { console.log(\"doubling\"); return {total: input.mapped.amount * 2}; }"}`)
	f.publish(t, artifact.KindMapping, "crm-sync", fmt.Sprintf(`{
		"method": "POST",
		"url": %q,
		"secrets": ["api_token"],
		"auth": {"kind": "bearer", "secret": "api_token"},
		"body": {"customer": "{{ customer.name }}"},
		"response": {"extract": {"amount": "amount"}},
		"transform": "double-amount"
	}`, srv.URL+"/orders"))

	res, err := f.svc.Call(context.Background(), "t1", "crm-sync", map[string]interface{}{
		"customer": map[string]interface{}{"name": "ada"},
	}, execution.SourceAPI)
	if err != nil {
		t.Fatalf("call: %v", err)
	}

	if gotAuth != "Bearer "+secretToken {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if res.HTTPStatus != http.StatusOK || res.Attempts != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := res.Output["total"]; got != float64(42) {
		t.Fatalf("total = %v (%T)", got, got)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "doubling" {
		t.Fatalf("logs = %v", res.Logs)
	}
	if res.ExecutionID == "" {
		t.Fatal("expected a persisted execution id")
	}

	recs, err := f.store.ListExecutions(context.Background(), "t1", "crm-sync", 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("executions = %d, err %v", len(recs), err)
	}
	rec := recs[0]
	if rec.Status != execution.StatusSucceeded || rec.HTTPStatus != http.StatusOK {
		t.Fatalf("record = %+v", rec)
	}
	if strings.Contains(rec.ResponseBody, secretToken) {
		t.Fatal("secret leaked into stored response body")
	}
	if !strings.Contains(rec.ResponseBody, "***") {
		t.Fatalf("expected redaction marker in body, got %q", rec.ResponseBody)
	}
	if rec.MappingVersion != 1 || rec.Source != execution.SourceAPI {
		t.Fatalf("record meta = %+v", rec)
	}
}

func TestServiceCallUnpublishedMapping(t *testing.T) {
	f := newFixture(t, http.DefaultClient)

	_, err := f.svc.Call(context.Background(), "t1", "ghost", nil, execution.SourceAPI)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServiceCallRecordsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client())
	f.publish(t, artifact.KindMapping, "flaky", fmt.Sprintf(`{"url": %q}`, srv.URL))

	res, err := f.svc.Call(context.Background(), "t1", "flaky", nil, execution.SourceSchedule)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if res.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("status = %d", res.HTTPStatus)
	}

	recs, err := f.store.ListExecutions(context.Background(), "t1", "flaky", 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("executions = %d, err %v", len(recs), err)
	}
	if recs[0].Status != execution.StatusFailed || recs[0].Error != "upstream status 502" {
		t.Fatalf("record = %+v", recs[0])
	}
}

func TestServiceTestDoesNotPersist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"pong": true}`)
	}))
	defer srv.Close()

	f := newFixture(t, srv.Client())

	res, err := f.svc.Test(context.Background(), "t1", apicall.Mapping{URL: srv.URL}, nil)
	if err != nil {
		t.Fatalf("test call: %v", err)
	}
	if res.HTTPStatus != http.StatusOK || res.ExecutionID != "" {
		t.Fatalf("result = %+v", res)
	}

	recs, err := f.store.ListExecutions(context.Background(), "t1", "", 10)
	if err != nil || len(recs) != 0 {
		t.Fatalf("expected no executions, got %d (err %v)", len(recs), err)
	}
}

func TestServicePreviewMasksCredentials(t *testing.T) {
	f := newFixture(t, http.DefaultClient)

	p, err := f.svc.Preview(context.Background(), "t1", apicall.Mapping{
		Method:  "POST",
		URL:     "https://api.example.com/orders",
		Secrets: []string{"api_token"},
		Auth:    &apicall.Auth{Kind: apicall.AuthBearer, Secret: "api_token"},
		Body:    map[string]interface{}{"token": "{{ secrets.api_token }}"},
	}, nil)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if p.Headers["Authorization"] != "***" {
		t.Fatalf("authorization = %q", p.Headers["Authorization"])
	}
	if body := fmt.Sprint(p.Body); strings.Contains(body, secretToken) {
		t.Fatalf("secret leaked into preview body: %s", body)
	}
}
