//go:build integration && postgres

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/schemaflow/platform/internal/app"
	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/app/storage/postgres"
	"github.com/schemaflow/platform/internal/platform/migrations"
)

// Integration test against Postgres to prove migrations and the persisted
// artifact lifecycle work end to end. Requires DATABASE_URL.
func TestIntegrationPostgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration")
	}

	ctx := context.Background()
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping db: %v", err)
	}
	if err := migrations.Apply(ctx, db.DB); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	store := postgres.New(db)
	stores := app.Stores{
		Tenants:    store,
		Users:      store,
		Artifacts:  store,
		Packages:   store,
		Secrets:    store,
		Sessions:   store,
		Executions: store,
		Jobs:       store,
		Audit:      store,
	}
	application, err := app.New(stores, app.Options{TokenSecret: []byte("pg-integration-secret")}, nil)
	if err != nil {
		t.Fatalf("assemble services: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start services: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	// Unique slug so reruns against the same database do not collide.
	slug := fmt.Sprintf("it-%d", time.Now().UnixNano())
	ten, err := application.Tenants.CreateTenant(ctx, "Integration Tenant", slug)
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if _, err := application.Tenants.CreateUser(ctx, ten.ID, "admin@"+slug+".test", "pg-password", tenant.RoleAdmin); err != nil {
		t.Fatalf("create user: %v", err)
	}

	server := httptest.NewServer(NewHandler(application, nil, Options{}))
	defer server.Close()
	client := server.Client()

	var login struct {
		Token string `json:"token"`
	}
	resp := httpDo(t, client, http.MethodPost, server.URL+"/api/v1/auth/login", "", map[string]any{
		"tenant":   slug,
		"email":    "admin@" + slug + ".test",
		"password": "pg-password",
	})
	decodeInto(t, resp, http.StatusOK, &login)
	if login.Token == "" {
		t.Fatal("expected login token")
	}

	base := server.URL + "/api/v1/tenants/" + slug

	var created struct {
		Key     string
		Version int
		Status  string
	}
	resp = httpDo(t, client, http.MethodPost, base+"/artifacts/rulesets", login.Token, map[string]any{
		"key":  "discounts",
		"name": "Discount rules",
		"spec": json.RawMessage(discountRules),
	})
	decodeInto(t, resp, http.StatusCreated, &created)
	if created.Version != 1 || created.Status != "draft" {
		t.Fatalf("unexpected created artifact: %+v", created)
	}

	resp = httpDo(t, client, http.MethodPost, base+"/artifacts/rulesets/discounts/versions/1/publish", login.Token, nil)
	decodeInto(t, resp, http.StatusOK, nil)

	// Read back through a second store handle so the assertion cannot be
	// satisfied by anything held in process memory.
	reread, err := postgres.New(db).GetArtifactVersion(ctx, ten.ID, artifact.KindRuleSet, "discounts", 1)
	if err != nil {
		t.Fatalf("reread artifact: %v", err)
	}
	if reread.Status != artifact.StatusPublished {
		t.Fatalf("artifact status after publish: %s", reread.Status)
	}

	var published struct {
		Version int
		Status  string
	}
	resp = httpDo(t, client, http.MethodGet, base+"/artifacts/rulesets/discounts/published", login.Token, nil)
	decodeInto(t, resp, http.StatusOK, &published)
	if published.Version != 1 || published.Status != "published" {
		t.Fatalf("unexpected published artifact: %+v", published)
	}

	// The audit trail for the calls above must have reached the database.
	var audit []map[string]any
	resp = httpDo(t, client, http.MethodGet, base+"/audit", login.Token, nil)
	decodeInto(t, resp, http.StatusOK, &audit)
	if len(audit) == 0 {
		t.Fatal("expected persisted audit entries")
	}
}

func httpDo(t *testing.T, client *http.Client, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(blob)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, wantStatus int, dst any) {
	t.Helper()
	defer resp.Body.Close()
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != wantStatus {
		t.Fatalf("status %d, want %d: %s", resp.StatusCode, wantStatus, blob)
	}
	if dst == nil {
		return
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
