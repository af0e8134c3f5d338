package httpapi

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/middleware"
)

type tenantCtxKey struct{}

// tenantFrom returns the tenant resolved for the request. Handlers behind
// withTenant may assume it is present.
func tenantFrom(ctx context.Context) tenant.Tenant {
	t, _ := ctx.Value(tenantCtxKey{}).(tenant.Tenant)
	return t
}

// withTenant resolves the {tenant} slug, checks the caller belongs to that
// tenant and attaches the tenant to the request context. Suspended tenants
// are closed to everyone but their admins, who still need access to lift
// the suspension.
func (h *handler) withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFrom(r.Context())
		if claims == nil {
			middleware.WriteError(w, http.StatusUnauthorized, "unauthorized", "missing credentials")
			return
		}

		slug := mux.Vars(r)["tenant"]
		ten, err := h.app.Tenants.GetTenantBySlug(r.Context(), slug)
		if err != nil {
			writeServiceError(w, err, http.StatusInternalServerError)
			return
		}

		if claims.TenantID != ten.ID {
			middleware.WriteError(w, http.StatusForbidden, "forbidden", "not a member of this tenant")
			return
		}
		if ten.Status == tenant.StatusSuspended && tenant.Role(claims.Role) != tenant.RoleAdmin {
			middleware.WriteError(w, http.StatusForbidden, "tenant_suspended", "tenant is suspended")
			return
		}

		ctx := context.WithValue(r.Context(), tenantCtxKey{}, ten)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
