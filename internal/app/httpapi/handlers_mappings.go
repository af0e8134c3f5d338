package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/schemaflow/platform/internal/app/domain/execution"
	"github.com/schemaflow/platform/internal/engine/apicall"
)

func (h *handler) callMapping(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Input map[string]interface{} `json:"input"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	result, err := h.app.Mappings.Call(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["key"], payload.Input, execution.SourceAPI)
	if err != nil {
		writeServiceError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) testMapping(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Mapping apicall.Mapping        `json:"mapping"`
		Input   map[string]interface{} `json:"input"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	result, err := h.app.Mappings.Test(r.Context(), tenantFrom(r.Context()).ID, payload.Mapping, payload.Input)
	if err != nil {
		writeServiceError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) previewMapping(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Mapping apicall.Mapping        `json:"mapping"`
		Input   map[string]interface{} `json:"input"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	preview, err := h.app.Mappings.Preview(r.Context(), tenantFrom(r.Context()).ID, payload.Mapping, payload.Input)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	records, err := h.app.Mappings.Executions(r.Context(), tenantFrom(r.Context()).ID, r.URL.Query().Get("mapping"), intQuery(r, "limit", 50))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []execution.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) getExecution(w http.ResponseWriter, r *http.Request) {
	rec, err := h.app.Mappings.Execution(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
