package httpapi

import (
	"net/http"

	"github.com/schemaflow/platform/internal/app/domain/audit"
	"github.com/schemaflow/platform/internal/middleware"
)

// auditMiddleware records every authenticated mutating request after it
// completes. Reads are not audited; neither are unauthenticated requests,
// which cannot be attributed to a user.
func (h *handler) auditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodDelete:
		default:
			next.ServeHTTP(w, r)
			return
		}

		claims := middleware.ClaimsFrom(r.Context())
		if claims == nil {
			next.ServeHTTP(w, r)
			return
		}

		rec := &auditRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		h.app.Audit.Record(r.Context(), audit.Entry{
			TenantID:   claims.TenantID,
			User:       claims.UserID,
			Role:       claims.Role,
			Method:     r.Method,
			Path:       r.URL.Path,
			Status:     rec.status,
			RemoteAddr: r.RemoteAddr,
			UserAgent:  r.UserAgent(),
		})
	})
}

type auditRecorder struct {
	http.ResponseWriter
	status int
}

func (r *auditRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
