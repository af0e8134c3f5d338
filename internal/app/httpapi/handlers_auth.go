package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/schemaflow/platform/internal/app/domain/tenant"
	"github.com/schemaflow/platform/internal/app/storage"
)

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Tenant   string `json:"tenant"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	token, user, err := h.app.Tenants.Login(r.Context(), payload.Tenant, payload.Email, payload.Password)
	if err != nil {
		writeServiceError(w, err, http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

func (h *handler) createTenant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	created, err := h.app.Tenants.CreateTenant(r.Context(), payload.Name, payload.Slug)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listTenants(w http.ResponseWriter, r *http.Request) {
	all, err := h.app.Tenants.ListTenants(r.Context())
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handler) getTenant(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tenantFrom(r.Context()))
}

func (h *handler) updateTenant(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	ten := tenantFrom(r.Context())
	status := ten.Status
	if payload.Status != "" {
		status = tenant.Status(payload.Status)
	}
	updated, err := h.app.Tenants.UpdateTenant(r.Context(), ten.ID, payload.Name, status)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	ten := tenantFrom(r.Context())
	created, err := h.app.Tenants.CreateUser(r.Context(), ten.ID, payload.Email, payload.Password, tenant.Role(payload.Role))
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.app.Tenants.ListUsers(r.Context(), tenantFrom(r.Context()).ID)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// userInTenant loads a user and hides users of other tenants behind a 404.
func (h *handler) userInTenant(r *http.Request) (tenant.User, error) {
	user, err := h.app.Tenants.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return tenant.User{}, err
	}
	if user.TenantID != tenantFrom(r.Context()).ID {
		return tenant.User{}, storage.ErrNotFound
	}
	return user, nil
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	user, err := h.userInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}

	updated, err := h.app.Tenants.UpdateUser(r.Context(), user.ID, payload.Password, tenant.Role(payload.Role))
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	if err := h.app.Tenants.DeleteUser(r.Context(), user.ID); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
