package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Secret values are write-only over the API; responses carry metadata only.

func (h *handler) createSecret(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	created, err := h.app.Secrets.Create(r.Context(), tenantFrom(r.Context()).ID, payload.Name, payload.Value)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listSecrets(w http.ResponseWriter, r *http.Request) {
	all, err := h.app.Secrets.List(r.Context(), tenantFrom(r.Context()).ID)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

func (h *handler) getSecret(w http.ResponseWriter, r *http.Request) {
	sec, err := h.app.Secrets.Get(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["name"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sec)
}

func (h *handler) updateSecret(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	updated, err := h.app.Secrets.Update(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["name"], payload.Value)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteSecret(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Secrets.Delete(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["name"]); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
