package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (h *handler) startSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Input map[string]interface{} `json:"input"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	sess, err := h.app.Flows.Start(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["key"], payload.Input)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handler) listFlowSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.app.Flows.List(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["key"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.app.Flows.List(r.Context(), tenantFrom(r.Context()).ID, r.URL.Query().Get("flow"))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.Flows.Get(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handler) sendSessionEvent(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Event   string                 `json:"event"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	sess, steps, err := h.app.Flows.SendEvent(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["id"], payload.Event, payload.Payload)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"steps":   steps,
	})
}

func (h *handler) cancelSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.Flows.Cancel(r.Context(), tenantFrom(r.Context()).ID, mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
