package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/configpkg"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/middleware"
)

type packageItemPayload struct {
	Kind       string `json:"kind"`
	ArtifactID string `json:"artifact_id"`
}

func packageItems(payload []packageItemPayload) []configpkg.Item {
	items := make([]configpkg.Item, 0, len(payload))
	for _, item := range payload {
		items = append(items, configpkg.Item{Kind: artifact.Kind(item.Kind), ArtifactID: item.ArtifactID})
	}
	return items
}

func (h *handler) createPackage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key   string               `json:"key"`
		Items []packageItemPayload `json:"items"`
		Notes string               `json:"notes"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	created, err := h.app.Packages.Create(r.Context(), configpkg.Package{
		TenantID:  tenantFrom(r.Context()).ID,
		Key:       payload.Key,
		Items:     packageItems(payload.Items),
		Notes:     payload.Notes,
		CreatedBy: middleware.UserID(r.Context()),
	})
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.app.Packages.List(r.Context(), tenantFrom(r.Context()).ID, r.URL.Query().Get("key"))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pkgs)
}

// packageInTenant loads a package and hides other tenants' packages behind
// a 404.
func (h *handler) packageInTenant(r *http.Request) (configpkg.Package, error) {
	pkg, err := h.app.Packages.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return configpkg.Package{}, err
	}
	if pkg.TenantID != tenantFrom(r.Context()).ID {
		return configpkg.Package{}, storage.ErrNotFound
	}
	return pkg, nil
}

func (h *handler) getPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.packageInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, pkg)
}

func (h *handler) updatePackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.packageInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}

	var payload struct {
		Items []packageItemPayload `json:"items"`
		Notes string               `json:"notes"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	if payload.Items != nil {
		pkg.Items = packageItems(payload.Items)
	}
	if payload.Notes != "" {
		pkg.Notes = payload.Notes
	}
	updated, err := h.app.Packages.Update(r.Context(), pkg)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deletePackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.packageInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	if err := h.app.Packages.Delete(r.Context(), pkg.ID); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) submitPackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.packageInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	submitted, err := h.app.Packages.Submit(r.Context(), pkg.ID, middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, submitted)
}

func (h *handler) approvePackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.packageInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	approved, err := h.app.Packages.Approve(r.Context(), pkg.ID, middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, approved)
}

func (h *handler) rejectPackage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Note string `json:"note"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	pkg, err := h.packageInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	rejected, err := h.app.Packages.Reject(r.Context(), pkg.ID, payload.Note)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, rejected)
}

func (h *handler) activatePackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.packageInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	activated, err := h.app.Packages.Activate(r.Context(), pkg.ID)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, activated)
}

func (h *handler) deprecatePackage(w http.ResponseWriter, r *http.Request) {
	pkg, err := h.packageInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	deprecated, err := h.app.Packages.Deprecate(r.Context(), pkg.ID)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, deprecated)
}

func (h *handler) getActiveBundle(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.app.Packages.ResolveActive(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["key"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, bundle)
}
