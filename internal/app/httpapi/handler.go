// Package httpapi exposes the control plane REST API: tenant and user
// administration, artifact authoring, rule evaluation, flow sessions,
// mapping execution, secrets, package lifecycle and scheduled jobs.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/schemaflow/platform/internal/app"
	"github.com/schemaflow/platform/internal/app/domain/configpkg"
	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/app/metrics"
	"github.com/schemaflow/platform/internal/app/services/artifacts"
	"github.com/schemaflow/platform/internal/app/services/packages"
	"github.com/schemaflow/platform/internal/app/services/tenants"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/engine/flow"
	"github.com/schemaflow/platform/internal/middleware"
	"github.com/schemaflow/platform/pkg/logger"
)

// loginPath is exempt from bearer authentication.
const loginPath = "/api/v1/auth/login"

// Options tunes the assembled handler chain.
type Options struct {
	// CORSOrigins lists the origins builder frontends are served from.
	CORSOrigins []string
	// RateRPS and RateBurst bound requests per authenticated user. Zero
	// RateRPS disables rate limiting.
	RateRPS   float64
	RateBurst int
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns the control plane handler: the /api/v1 router wrapped
// in request ID, logging, CORS, metrics, auth, rate limit and audit
// middleware.
func NewHandler(application *app.Application, log *logger.Logger, opts Options) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{
		app: application,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers cannot set Authorization headers on websocket
			// dials; access is gated by the bearer token instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	router := h.routes()

	var out http.Handler = router
	out = h.auditMiddleware(out)
	if opts.RateRPS > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = int(opts.RateRPS)
		}
		out = middleware.NewRateLimiter(opts.RateRPS, burst, log).Handler(out)
	}
	out = middleware.NewAuthMiddleware(application.Tenants, log, []string{loginPath}).Handler(out)
	out = metrics.InstrumentHandler(out)
	out = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(out)
	out = middleware.NewLoggingMiddleware(log).Handler(out)
	out = middleware.NewRequestIDMiddleware().Handler(out)
	return out
}

func (h *handler) routes() *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)

	// Platform administration. Any tenant admin may bootstrap further
	// tenants; day-to-day work happens on the tenant-scoped routes below.
	api.HandleFunc("/tenants", h.admin(h.createTenant)).Methods(http.MethodPost)
	api.HandleFunc("/tenants", h.admin(h.listTenants)).Methods(http.MethodGet)

	t := api.PathPrefix("/tenants/{tenant}").Subrouter()
	t.Use(h.withTenant)

	t.HandleFunc("", h.getTenant).Methods(http.MethodGet)
	t.HandleFunc("", h.admin(h.updateTenant)).Methods(http.MethodPut)

	t.HandleFunc("/users", h.admin(h.createUser)).Methods(http.MethodPost)
	t.HandleFunc("/users", h.admin(h.listUsers)).Methods(http.MethodGet)
	t.HandleFunc("/users/{id}", h.admin(h.getUser)).Methods(http.MethodGet)
	t.HandleFunc("/users/{id}", h.admin(h.updateUser)).Methods(http.MethodPut)
	t.HandleFunc("/users/{id}", h.admin(h.deleteUser)).Methods(http.MethodDelete)

	t.HandleFunc("/artifacts/{kind}", h.editor(h.createArtifact)).Methods(http.MethodPost)
	t.HandleFunc("/artifacts/{kind}", h.listArtifacts).Methods(http.MethodGet)
	t.HandleFunc("/artifacts/{kind}/{key}", h.listArtifactVersions).Methods(http.MethodGet)
	t.HandleFunc("/artifacts/{kind}/{key}/latest", h.getLatestArtifact).Methods(http.MethodGet)
	t.HandleFunc("/artifacts/{kind}/{key}/published", h.getPublishedArtifact).Methods(http.MethodGet)
	t.HandleFunc("/artifacts/{kind}/{key}/versions", h.editor(h.newArtifactVersion)).Methods(http.MethodPost)
	t.HandleFunc("/artifacts/{kind}/{key}/versions/{version}", h.getArtifactVersion).Methods(http.MethodGet)
	t.HandleFunc("/artifacts/{kind}/{key}/versions/{version}", h.editor(h.updateArtifact)).Methods(http.MethodPut)
	t.HandleFunc("/artifacts/{kind}/{key}/versions/{version}", h.editor(h.deleteArtifact)).Methods(http.MethodDelete)
	t.HandleFunc("/artifacts/{kind}/{key}/versions/{version}/publish", h.editor(h.publishArtifact)).Methods(http.MethodPost)

	t.HandleFunc("/rulesets/test", h.editor(h.testRuleSet)).Methods(http.MethodPost)
	t.HandleFunc("/rulesets/{key}/eval", h.evalRuleSet).Methods(http.MethodPost)

	t.HandleFunc("/flows/{key}/sessions", h.editor(h.startSession)).Methods(http.MethodPost)
	t.HandleFunc("/flows/{key}/sessions", h.listFlowSessions).Methods(http.MethodGet)
	t.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	t.HandleFunc("/sessions/{id}", h.getSession).Methods(http.MethodGet)
	t.HandleFunc("/sessions/{id}/events", h.editor(h.sendSessionEvent)).Methods(http.MethodPost)
	t.HandleFunc("/sessions/{id}/cancel", h.editor(h.cancelSession)).Methods(http.MethodPost)
	t.HandleFunc("/sessions/{id}/ws", h.sessionSocket).Methods(http.MethodGet)

	t.HandleFunc("/mappings/test", h.editor(h.testMapping)).Methods(http.MethodPost)
	t.HandleFunc("/mappings/preview", h.editor(h.previewMapping)).Methods(http.MethodPost)
	t.HandleFunc("/mappings/{key}/call", h.editor(h.callMapping)).Methods(http.MethodPost)
	t.HandleFunc("/executions", h.listExecutions).Methods(http.MethodGet)
	t.HandleFunc("/executions/{id}", h.getExecution).Methods(http.MethodGet)

	t.HandleFunc("/secrets", h.admin(h.createSecret)).Methods(http.MethodPost)
	t.HandleFunc("/secrets", h.listSecrets).Methods(http.MethodGet)
	t.HandleFunc("/secrets/{name}", h.getSecret).Methods(http.MethodGet)
	t.HandleFunc("/secrets/{name}", h.admin(h.updateSecret)).Methods(http.MethodPut)
	t.HandleFunc("/secrets/{name}", h.admin(h.deleteSecret)).Methods(http.MethodDelete)

	t.HandleFunc("/packages", h.editor(h.createPackage)).Methods(http.MethodPost)
	t.HandleFunc("/packages", h.listPackages).Methods(http.MethodGet)
	t.HandleFunc("/packages/{id}", h.getPackage).Methods(http.MethodGet)
	t.HandleFunc("/packages/{id}", h.editor(h.updatePackage)).Methods(http.MethodPut)
	t.HandleFunc("/packages/{id}", h.editor(h.deletePackage)).Methods(http.MethodDelete)
	t.HandleFunc("/packages/{id}/submit", h.editor(h.submitPackage)).Methods(http.MethodPost)
	t.HandleFunc("/packages/{id}/approve", h.admin(h.approvePackage)).Methods(http.MethodPost)
	t.HandleFunc("/packages/{id}/reject", h.admin(h.rejectPackage)).Methods(http.MethodPost)
	t.HandleFunc("/packages/{id}/activate", h.admin(h.activatePackage)).Methods(http.MethodPost)
	t.HandleFunc("/packages/{id}/deprecate", h.admin(h.deprecatePackage)).Methods(http.MethodPost)
	t.HandleFunc("/packages/{key}/active", h.getActiveBundle).Methods(http.MethodGet)

	t.HandleFunc("/jobs", h.admin(h.createJob)).Methods(http.MethodPost)
	t.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	t.HandleFunc("/jobs/{id}", h.getJob).Methods(http.MethodGet)
	t.HandleFunc("/jobs/{id}", h.admin(h.updateJob)).Methods(http.MethodPut)
	t.HandleFunc("/jobs/{id}", h.admin(h.deleteJob)).Methods(http.MethodDelete)
	t.HandleFunc("/jobs/{id}/enable", h.admin(h.enableJob)).Methods(http.MethodPost)
	t.HandleFunc("/jobs/{id}/run", h.admin(h.runJob)).Methods(http.MethodPost)

	t.HandleFunc("/audit", h.admin(h.listAudit)).Methods(http.MethodGet)

	return r
}

// admin wraps a handler so only tenant admins reach it.
func (h *handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return h.requireRole(tenant.RoleAdmin, next)
}

// editor wraps a handler so viewers cannot mutate.
func (h *handler) editor(next http.HandlerFunc) http.HandlerFunc {
	return h.requireRole(tenant.RoleEditor, next)
}

var roleRank = map[tenant.Role]int{
	tenant.RoleViewer: 1,
	tenant.RoleEditor: 2,
	tenant.RoleAdmin:  3,
}

func (h *handler) requireRole(min tenant.Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFrom(r.Context())
		if claims == nil {
			middleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
			return
		}
		if roleRank[tenant.Role(claims.Role)] < roleRank[min] {
			middleware.WriteError(w, http.StatusForbidden, "forbidden", "role "+claims.Role+" may not perform this operation")
			return
		}
		next(w, r)
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError maps the well-known service sentinels onto status codes
// and falls back to the caller's default for everything else.
func writeServiceError(w http.ResponseWriter, err error, fallback int) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, configpkg.ErrInvalidTransition):
		middleware.WriteError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, artifacts.ErrPublished):
		middleware.WriteError(w, http.StatusConflict, "immutable", err.Error())
	case errors.Is(err, artifacts.ErrInUse):
		middleware.WriteError(w, http.StatusConflict, "in_use", err.Error())
	case errors.Is(err, packages.ErrSelfApproval):
		middleware.WriteError(w, http.StatusConflict, "self_approval", err.Error())
	case errors.Is(err, flow.ErrNoTransition):
		middleware.WriteError(w, http.StatusConflict, "no_transition", err.Error())
	case errors.Is(err, flow.ErrSessionClosed):
		middleware.WriteError(w, http.StatusConflict, "session_closed", err.Error())
	case errors.Is(err, tenants.ErrInvalidCredentials):
		middleware.WriteError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
	case errors.Is(err, tenants.ErrTenantSuspended):
		middleware.WriteError(w, http.StatusForbidden, "tenant_suspended", err.Error())
	default:
		code := "invalid_request"
		if fallback >= http.StatusInternalServerError {
			code = "internal_error"
		}
		middleware.WriteError(w, fallback, code, err.Error())
	}
}

// intQuery parses an integer query parameter, returning def when absent or
// unparseable.
func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
