package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/schemaflow/platform/internal/app/domain/schedule"
	"github.com/schemaflow/platform/internal/app/storage"
)

type jobPayload struct {
	Name      string                 `json:"name"`
	Spec      string                 `json:"spec"`
	Kind      string                 `json:"kind"`
	TargetKey string                 `json:"target_key"`
	Payload   map[string]interface{} `json:"payload"`
	Enabled   *bool                  `json:"enabled"`
}

func (h *handler) createJob(w http.ResponseWriter, r *http.Request) {
	var payload jobPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	job := schedule.Job{
		TenantID:  tenantFrom(r.Context()).ID,
		Name:      payload.Name,
		Spec:      payload.Spec,
		Kind:      schedule.Kind(payload.Kind),
		TargetKey: payload.TargetKey,
		Payload:   payload.Payload,
		Enabled:   true,
	}
	if payload.Enabled != nil {
		job.Enabled = *payload.Enabled
	}

	created, err := h.app.Scheduler.Create(r.Context(), job)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.app.Scheduler.List(r.Context(), tenantFrom(r.Context()).ID)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// jobInTenant loads a job and hides other tenants' jobs behind a 404.
func (h *handler) jobInTenant(r *http.Request) (schedule.Job, error) {
	job, err := h.app.Scheduler.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return schedule.Job{}, err
	}
	if job.TenantID != tenantFrom(r.Context()).ID {
		return schedule.Job{}, storage.ErrNotFound
	}
	return job, nil
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) updateJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}

	var payload jobPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	if payload.Name != "" {
		job.Name = payload.Name
	}
	if payload.Spec != "" {
		job.Spec = payload.Spec
	}
	if payload.Kind != "" {
		job.Kind = schedule.Kind(payload.Kind)
	}
	if payload.TargetKey != "" {
		job.TargetKey = payload.TargetKey
	}
	if payload.Payload != nil {
		job.Payload = payload.Payload
	}
	if payload.Enabled != nil {
		job.Enabled = *payload.Enabled
	}

	updated, err := h.app.Scheduler.Update(r.Context(), job)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	if err := h.app.Scheduler.Delete(r.Context(), job.ID); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) enableJob(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	job, err := h.jobInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	updated, err := h.app.Scheduler.Enable(r.Context(), job.ID, payload.Enabled)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) runJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobInTenant(r)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	ran, err := h.app.Scheduler.RunNow(r.Context(), job.ID)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, ran)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Audit.List(r.Context(), tenantFrom(r.Context()).ID, intQuery(r, "limit", 100))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
