package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/engine/rules"
	"github.com/schemaflow/platform/internal/middleware"
)

// kindVar extracts and validates the {kind} path variable.
func kindVar(r *http.Request) (artifact.Kind, error) {
	kind := artifact.Kind(mux.Vars(r)["kind"])
	if !artifact.ValidKind(kind) {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
	return kind, nil
}

func versionVar(r *http.Request) (int, error) {
	version, err := strconv.Atoi(mux.Vars(r)["version"])
	if err != nil || version < 1 {
		return 0, fmt.Errorf("invalid version %q", mux.Vars(r)["version"])
	}
	return version, nil
}

func (h *handler) createArtifact(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	var payload struct {
		Key  string          `json:"key"`
		Name string          `json:"name"`
		Spec json.RawMessage `json:"spec"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	created, err := h.app.Artifacts.Create(r.Context(), artifact.Artifact{
		TenantID:  tenantFrom(r.Context()).ID,
		Kind:      kind,
		Key:       payload.Key,
		Name:      payload.Name,
		Spec:      payload.Spec,
		CreatedBy: middleware.UserID(r.Context()),
	})
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) listArtifacts(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	arts, err := h.app.Artifacts.List(r.Context(), tenantFrom(r.Context()).ID, kind, r.URL.Query().Get("key"))
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, arts)
}

func (h *handler) listArtifactVersions(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	arts, err := h.app.Artifacts.List(r.Context(), tenantFrom(r.Context()).ID, kind, mux.Vars(r)["key"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, arts)
}

func (h *handler) getLatestArtifact(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	art, err := h.app.Artifacts.Latest(r.Context(), tenantFrom(r.Context()).ID, kind, mux.Vars(r)["key"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (h *handler) getPublishedArtifact(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	art, err := h.app.Artifacts.Published(r.Context(), tenantFrom(r.Context()).ID, kind, mux.Vars(r)["key"])
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (h *handler) getArtifactVersion(w http.ResponseWriter, r *http.Request) {
	art, err := h.artifactVersion(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (h *handler) newArtifactVersion(w http.ResponseWriter, r *http.Request) {
	kind, err := kindVar(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	created, err := h.app.Artifacts.NewVersion(r.Context(), tenantFrom(r.Context()).ID, kind, mux.Vars(r)["key"], middleware.UserID(r.Context()))
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) updateArtifact(w http.ResponseWriter, r *http.Request) {
	art, err := h.artifactVersion(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	var payload struct {
		Name string          `json:"name"`
		Spec json.RawMessage `json:"spec"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	if payload.Name != "" {
		art.Name = payload.Name
	}
	if len(payload.Spec) > 0 {
		art.Spec = payload.Spec
	}
	updated, err := h.app.Artifacts.Update(r.Context(), art)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *handler) deleteArtifact(w http.ResponseWriter, r *http.Request) {
	art, err := h.artifactVersion(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	if err := h.app.Artifacts.Delete(r.Context(), art.ID); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) publishArtifact(w http.ResponseWriter, r *http.Request) {
	art, err := h.artifactVersion(r)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	published, err := h.app.Artifacts.Publish(r.Context(), art.ID)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, published)
}

// artifactVersion resolves the addressed artifact version for the tenant.
func (h *handler) artifactVersion(r *http.Request) (artifact.Artifact, error) {
	kind, err := kindVar(r)
	if err != nil {
		return artifact.Artifact{}, err
	}
	version, err := versionVar(r)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return h.app.Artifacts.GetVersion(r.Context(), tenantFrom(r.Context()).ID, kind, mux.Vars(r)["key"], version)
}

func (h *handler) evalRuleSet(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Doc     map[string]interface{} `json:"doc"`
		Version int                    `json:"version"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	tenantID := tenantFrom(r.Context()).ID
	key := mux.Vars(r)["key"]

	var outcome interface{}
	var err error
	if payload.Version > 0 {
		outcome, err = h.app.Rules.EvalVersion(r.Context(), tenantID, key, payload.Version, payload.Doc)
	} else {
		outcome, err = h.app.Rules.Eval(r.Context(), tenantID, key, payload.Doc)
	}
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *handler) testRuleSet(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rules rules.RuleSet          `json:"rules"`
		Doc   map[string]interface{} `json:"doc"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	outcome, err := h.app.Rules.Test(r.Context(), payload.Rules, payload.Doc)
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}
