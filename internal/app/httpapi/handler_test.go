package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/schemaflow/platform/internal/app"
	"github.com/schemaflow/platform/internal/app/domain/tenant"
)

const checkoutFlow = `{
	"initial": "cart",
	"nodes": [
		{"id": "cart", "kind": "page", "transitions": [
			{"event": "submit", "target": "route", "actions": [
				{"kind": "set", "path": "order.total", "value": "{{ input.total }}"}
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

const discountRules = `{
	"rules": [{
		"id": "large-order",
		"when": {"kind": "compare", "left": "{{ order.total }}", "op": "gte", "right": 100},
		"actions": [
			{"kind": "set", "path": "order.discount", "value": 15},
			{"kind": "emit", "event": "discount.applied"}
		]
	}]
}`

type testEnv struct {
	t       *testing.T
	handler http.Handler
	app     *app.Application

	adminToken  string
	editorToken string
	viewerToken string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	application, err := app.New(app.Stores{}, app.Options{TokenSecret: []byte("handler-test-secret")}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	ten, err := application.Tenants.CreateTenant(ctx, "Acme Corp", "acme")
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	for _, u := range []struct {
		email string
		role  tenant.Role
	}{
		{"admin@acme.io", tenant.RoleAdmin},
		{"editor@acme.io", tenant.RoleEditor},
		{"viewer@acme.io", tenant.RoleViewer},
	} {
		if _, err := application.Tenants.CreateUser(ctx, ten.ID, u.email, "pass-"+u.email, u.role); err != nil {
			t.Fatalf("create user %s: %v", u.email, err)
		}
	}

	env := &testEnv{t: t, handler: NewHandler(application, nil, Options{}), app: application}
	env.adminToken = env.login("admin@acme.io")
	env.editorToken = env.login("editor@acme.io")
	env.viewerToken = env.login("viewer@acme.io")
	return env
}

func (e *testEnv) login(email string) string {
	e.t.Helper()
	resp := e.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"tenant":   "acme",
		"email":    email,
		"password": "pass-" + email,
	})
	if resp.Code != http.StatusOK {
		e.t.Fatalf("login %s: status %d body %s", email, resp.Code, resp.Body.String())
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil || out.Token == "" {
		e.t.Fatalf("login %s: token missing in %s", email, resp.Body.String())
	}
	return out.Token
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %s: %v", resp.Body.String(), err)
	}
}

func errorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, resp, &envelope)
	return envelope.Error.Code
}

func TestHandlerLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{
		"tenant":   "acme",
		"email":    "admin@acme.io",
		"password": "wrong",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
	if code := errorCode(t, resp); code != "invalid_credentials" {
		t.Fatalf("error code = %q", code)
	}
}

func TestHandlerRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/v1/tenants/acme/artifacts/ruleset", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestHandlerArtifactLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/ruleset", env.editorToken, map[string]any{
		"key":  "discounts",
		"name": "Discount rules",
		"spec": json.RawMessage(discountRules),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create artifact: status %d body %s", resp.Code, resp.Body.String())
	}
	var created struct {
		ID      string
		Version int
		Status  string
	}
	decodeBody(t, resp, &created)
	if created.Version != 1 || created.Status != "draft" {
		t.Fatalf("unexpected artifact %+v", created)
	}

	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/ruleset/discounts/versions/1/publish", env.editorToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("publish: status %d body %s", resp.Code, resp.Body.String())
	}

	// Published versions are immutable.
	resp = env.do(http.MethodPut, "/api/v1/tenants/acme/artifacts/ruleset/discounts/versions/1", env.editorToken, map[string]any{
		"name": "renamed",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("update published: status %d, want 409", resp.Code)
	}
	if code := errorCode(t, resp); code != "immutable" {
		t.Fatalf("error code = %q", code)
	}

	// A new draft version continues from the published one.
	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/ruleset/discounts/versions", env.editorToken, nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("new version: status %d body %s", resp.Code, resp.Body.String())
	}
	var next struct {
		Version int
		Status  string
	}
	decodeBody(t, resp, &next)
	if next.Version != 2 || next.Status != "draft" {
		t.Fatalf("unexpected new version %+v", next)
	}

	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/artifacts/ruleset/discounts/published", env.viewerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get published: status %d", resp.Code)
	}

	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/rulesets/discounts/eval", env.viewerToken, map[string]any{
		"doc": map[string]any{"order": map[string]any{"total": 250}},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("eval: status %d body %s", resp.Code, resp.Body.String())
	}
	var outcome struct {
		Matched bool `json:"matched"`
		Results []struct {
			RuleID  string `json:"rule_id"`
			Matched bool   `json:"matched"`
		} `json:"results"`
		Events []string `json:"events"`
	}
	decodeBody(t, resp, &outcome)
	if !outcome.Matched || len(outcome.Results) != 1 || outcome.Results[0].RuleID != "large-order" {
		t.Fatalf("unexpected outcome %s", resp.Body.String())
	}
	if len(outcome.Events) != 1 || outcome.Events[0] != "discount.applied" {
		t.Fatalf("events = %v", outcome.Events)
	}
}

func TestHandlerRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)

	// Viewers cannot author artifacts.
	resp := env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/ruleset", env.viewerToken, map[string]any{
		"key": "x", "spec": json.RawMessage(discountRules),
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("viewer create artifact: status %d, want 403", resp.Code)
	}

	// Editors cannot manage scheduled jobs.
	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/jobs", env.editorToken, map[string]any{
		"name": "nightly", "spec": "0 3 * * *", "kind": "mapping", "target_key": "sync",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("editor create job: status %d, want 403", resp.Code)
	}

	// Editors cannot approve packages.
	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/packages/some-id/approve", env.editorToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("editor approve: status %d, want 403", resp.Code)
	}

	// Nobody reaches another tenant's resources.
	other, err := env.app.Tenants.CreateTenant(context.Background(), "Rival", "rival")
	if err != nil {
		t.Fatalf("create second tenant: %v", err)
	}
	_ = other
	resp = env.do(http.MethodGet, "/api/v1/tenants/rival/artifacts/ruleset", env.adminToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("cross-tenant read: status %d, want 403", resp.Code)
	}
}

func TestHandlerPackageLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/ruleset", env.editorToken, map[string]any{
		"key": "discounts", "spec": json.RawMessage(discountRules),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create artifact: %d %s", resp.Code, resp.Body.String())
	}
	var art struct{ ID string }
	decodeBody(t, resp, &art)

	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/ruleset/discounts/versions/1/publish", env.editorToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("publish: %d", resp.Code)
	}

	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/packages", env.editorToken, map[string]any{
		"key":   "storefront",
		"items": []map[string]any{{"kind": "ruleset", "artifact_id": art.ID}},
		"notes": "first cut",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create package: %d %s", resp.Code, resp.Body.String())
	}
	var pkg struct {
		ID     string
		Status string
	}
	decodeBody(t, resp, &pkg)
	if pkg.Status != "draft" {
		t.Fatalf("package status %q, want draft", pkg.Status)
	}

	base := "/api/v1/tenants/acme/packages/" + pkg.ID

	// Draft cannot be activated directly.
	resp = env.do(http.MethodPost, base+"/activate", env.adminToken, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("activate draft: status %d, want 409", resp.Code)
	}
	if code := errorCode(t, resp); code != "invalid_transition" {
		t.Fatalf("error code = %q", code)
	}

	resp = env.do(http.MethodPost, base+"/submit", env.editorToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("submit: %d %s", resp.Code, resp.Body.String())
	}

	resp = env.do(http.MethodPost, base+"/approve", env.adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", resp.Code, resp.Body.String())
	}

	resp = env.do(http.MethodPost, base+"/activate", env.adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", resp.Code, resp.Body.String())
	}

	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/packages/storefront/active", env.viewerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("active bundle: %d %s", resp.Code, resp.Body.String())
	}
	var bundle struct {
		Artifacts []struct {
			Kind string `json:"kind"`
			Key  string `json:"key"`
		} `json:"artifacts"`
	}
	decodeBody(t, resp, &bundle)
	if len(bundle.Artifacts) != 1 || bundle.Artifacts[0].Key != "discounts" {
		t.Fatalf("unexpected bundle %s", resp.Body.String())
	}

	// The pinned artifact cannot be deleted while the package references it.
	resp = env.do(http.MethodDelete, "/api/v1/tenants/acme/artifacts/ruleset/discounts/versions/1", env.editorToken, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("delete pinned artifact: status %d, want 409", resp.Code)
	}
}

func TestHandlerPackageSelfApproval(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/ruleset", env.adminToken, map[string]any{
		"key": "r", "spec": json.RawMessage(discountRules),
	})
	var art struct{ ID string }
	decodeBody(t, resp, &art)
	env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/ruleset/r/versions/1/publish", env.adminToken, nil)

	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/packages", env.adminToken, map[string]any{
		"key": "p", "items": []map[string]any{{"kind": "ruleset", "artifact_id": art.ID}},
	})
	var pkg struct{ ID string }
	decodeBody(t, resp, &pkg)

	env.do(http.MethodPost, "/api/v1/tenants/acme/packages/"+pkg.ID+"/submit", env.adminToken, nil)
	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/packages/"+pkg.ID+"/approve", env.adminToken, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("self approval: status %d, want 409", resp.Code)
	}
	if code := errorCode(t, resp); code != "self_approval" {
		t.Fatalf("error code = %q", code)
	}
}

func TestHandlerFlowSessions(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/flow", env.editorToken, map[string]any{
		"key": "checkout", "spec": json.RawMessage(checkoutFlow),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create flow: %d %s", resp.Code, resp.Body.String())
	}
	env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/flow/checkout/versions/1/publish", env.editorToken, nil)

	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/flows/checkout/sessions", env.editorToken, map[string]any{
		"input": map[string]any{"customer": "c-1"},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("start session: %d %s", resp.Code, resp.Body.String())
	}
	var sess struct {
		ID      string `json:"id"`
		Current string `json:"current"`
		Status  string `json:"status"`
	}
	decodeBody(t, resp, &sess)
	if sess.Current != "cart" || sess.Status != "active" {
		t.Fatalf("unexpected session %+v", sess)
	}

	base := "/api/v1/tenants/acme/sessions/" + sess.ID

	resp = env.do(http.MethodPost, base+"/events", env.editorToken, map[string]any{
		"event":   "submit",
		"payload": map[string]any{"total": 750},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("send event: %d %s", resp.Code, resp.Body.String())
	}
	var moved struct {
		Session struct {
			Current string `json:"current"`
		} `json:"session"`
		Steps []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"steps"`
	}
	decodeBody(t, resp, &moved)
	if moved.Session.Current != "review" {
		t.Fatalf("session routed to %q, want review", moved.Session.Current)
	}
	if len(moved.Steps) != 2 {
		t.Fatalf("expected 2 steps (cart->route->review), got %d", len(moved.Steps))
	}

	// An event with no matching transition conflicts.
	resp = env.do(http.MethodPost, base+"/events", env.editorToken, map[string]any{
		"event": "bogus",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("bogus event: status %d, want 409", resp.Code)
	}
	if code := errorCode(t, resp); code != "no_transition" {
		t.Fatalf("error code = %q", code)
	}

	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/flows/checkout/sessions", env.viewerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list sessions: %d", resp.Code)
	}
	var sessions []json.RawMessage
	decodeBody(t, resp, &sessions)
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}

	resp = env.do(http.MethodPost, base+"/cancel", env.editorToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", resp.Code, resp.Body.String())
	}
	var cancelled struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &cancelled)
	if cancelled.Status != "cancelled" {
		t.Fatalf("status %q after cancel", cancelled.Status)
	}

	// Events after cancellation conflict.
	resp = env.do(http.MethodPost, base+"/events", env.editorToken, map[string]any{"event": "approve"})
	if resp.Code != http.StatusConflict {
		t.Fatalf("event after cancel: status %d, want 409", resp.Code)
	}
}

func TestHandlerMappingCall(t *testing.T) {
	env := newTestEnv(t)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"quote": {"price": 99.5}}`)
	}))
	defer upstream.Close()

	spec := fmt.Sprintf(`{"method": "GET", "url": %q, "response": {"extract": {"price": "$.quote.price"}}}`, upstream.URL)
	resp := env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/mapping", env.editorToken, map[string]any{
		"key": "quotes", "spec": json.RawMessage(spec),
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create mapping: %d %s", resp.Code, resp.Body.String())
	}
	env.do(http.MethodPost, "/api/v1/tenants/acme/artifacts/mapping/quotes/versions/1/publish", env.editorToken, nil)

	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/mappings/quotes/call", env.editorToken, map[string]any{
		"input": map[string]any{},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("call: %d %s", resp.Code, resp.Body.String())
	}
	var result struct {
		ExecutionID string         `json:"execution_id"`
		HTTPStatus  int            `json:"http_status"`
		Output      map[string]any `json:"output"`
	}
	decodeBody(t, resp, &result)
	if result.HTTPStatus != http.StatusOK || result.Output["price"] != 99.5 {
		t.Fatalf("unexpected call result %s", resp.Body.String())
	}
	if result.ExecutionID == "" {
		t.Fatal("execution not recorded")
	}

	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/executions?mapping=quotes", env.viewerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list executions: %d", resp.Code)
	}
	var records []struct {
		ID         string `json:"ID"`
		MappingKey string `json:"MappingKey"`
	}
	decodeBody(t, resp, &records)
	if len(records) != 1 || records[0].MappingKey != "quotes" {
		t.Fatalf("unexpected executions %s", resp.Body.String())
	}

	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/executions/"+result.ExecutionID, env.viewerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get execution: %d", resp.Code)
	}
}

func TestHandlerSecretsWriteOnly(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/tenants/acme/secrets", env.adminToken, map[string]any{
		"name": "api_key", "value": "super-secret-value",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create secret: %d %s", resp.Code, resp.Body.String())
	}
	if bytes.Contains(resp.Body.Bytes(), []byte("super-secret-value")) {
		t.Fatal("secret value leaked in create response")
	}

	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/secrets/api_key", env.viewerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get secret: %d", resp.Code)
	}
	if bytes.Contains(resp.Body.Bytes(), []byte("super-secret-value")) {
		t.Fatal("secret value leaked in get response")
	}

	// Editors cannot write secrets.
	resp = env.do(http.MethodPut, "/api/v1/tenants/acme/secrets/api_key", env.editorToken, map[string]any{
		"value": "other",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("editor update secret: status %d, want 403", resp.Code)
	}

	resp = env.do(http.MethodDelete, "/api/v1/tenants/acme/secrets/api_key", env.adminToken, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete secret: %d", resp.Code)
	}
	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/secrets/api_key", env.viewerToken, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("get deleted secret: status %d, want 404", resp.Code)
	}
}

func TestHandlerJobsAndAudit(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodPost, "/api/v1/tenants/acme/jobs", env.adminToken, map[string]any{
		"name": "nightly sync", "spec": "0 3 * * *", "kind": "mapping", "target_key": "sync",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create job: %d %s", resp.Code, resp.Body.String())
	}
	var job struct{ ID string }
	decodeBody(t, resp, &job)

	resp = env.do(http.MethodPost, "/api/v1/tenants/acme/jobs/"+job.ID+"/enable", env.adminToken, map[string]any{
		"enabled": false,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("disable job: %d %s", resp.Code, resp.Body.String())
	}
	var toggled struct{ Enabled bool }
	decodeBody(t, resp, &toggled)
	if toggled.Enabled {
		t.Fatal("job still enabled after disable")
	}

	resp = env.do(http.MethodDelete, "/api/v1/tenants/acme/jobs/"+job.ID, env.adminToken, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete job: %d", resp.Code)
	}

	// The mutations above are in the audit trail.
	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/audit", env.adminToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list audit: %d", resp.Code)
	}
	var entries []struct {
		Method string `json:"method"`
		Path   string `json:"path"`
		Status int    `json:"status"`
		User   string `json:"user"`
	}
	decodeBody(t, resp, &entries)
	if len(entries) == 0 {
		t.Fatal("no audit entries recorded")
	}
	found := false
	for _, e := range entries {
		if e.Method == http.MethodPost && e.Path == "/api/v1/tenants/acme/jobs" && e.Status == http.StatusCreated {
			found = true
			if e.User == "" {
				t.Fatal("audit entry missing user")
			}
		}
	}
	if !found {
		t.Fatalf("job creation not audited: %s", resp.Body.String())
	}

	// Viewers may not read the audit log.
	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/audit", env.viewerToken, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("viewer audit: status %d, want 403", resp.Code)
	}
}

func TestHandlerNotFoundMapping(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(http.MethodGet, "/api/v1/tenants/acme/artifacts/ruleset/missing/latest", env.viewerToken, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
	if code := errorCode(t, resp); code != "not_found" {
		t.Fatalf("error code = %q", code)
	}

	resp = env.do(http.MethodGet, "/api/v1/tenants/acme/artifacts/widget", env.viewerToken, nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind: status %d, want 400", resp.Code)
	}
}
