// Package mappings executes stored API mappings: it resolves the published
// mapping artifact, injects tenant secrets, drives the HTTP caller, applies
// the optional transform hook and persists a redacted execution record.
package mappings

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/execution"
	"github.com/schemaflow/platform/internal/app/metrics"
	"github.com/schemaflow/platform/internal/app/services/artifacts"
	"github.com/schemaflow/platform/internal/app/services/secrets"
	"github.com/schemaflow/platform/internal/app/services/transforms"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/engine/apicall"
	"github.com/schemaflow/platform/internal/engine/expr"
	"github.com/schemaflow/platform/pkg/logger"
)

// maxStoredBody caps the response body kept on an execution record.
const maxStoredBody = 64 << 10

// Service executes API mappings.
type Service struct {
	artifacts  *artifacts.Service
	caller     *apicall.Caller
	secrets    *secrets.Service
	transforms *transforms.Service
	executions storage.ExecutionStore
	log        *logger.Logger
}

// New constructs a mapping service.
func New(artifactsSvc *artifacts.Service, caller *apicall.Caller, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("mappings")
	}
	return &Service{artifacts: artifactsSvc, caller: caller, log: log}
}

// AttachSecrets wires the secret service so mappings can declare credentials.
func (s *Service) AttachSecrets(sec *secrets.Service) {
	s.secrets = sec
}

// AttachTransforms wires the transform runner for post-extract hooks.
func (s *Service) AttachTransforms(tr *transforms.Service) {
	s.transforms = tr
}

// AttachExecutionStore wires the store that keeps redacted call traces.
func (s *Service) AttachExecutionStore(store storage.ExecutionStore) {
	s.executions = store
}

// CallResult is the outcome of one mapping execution.
type CallResult struct {
	ExecutionID string                 `json:"execution_id,omitempty"`
	HTTPStatus  int                    `json:"http_status"`
	Attempts    int                    `json:"attempts"`
	DurationMs  int64                  `json:"duration_ms"`
	FromCache   bool                   `json:"from_cache,omitempty"`
	Truncated   bool                   `json:"truncated,omitempty"`
	Output      map[string]interface{} `json:"output,omitempty"`
	Body        interface{}            `json:"body,omitempty"`
	Logs        []string               `json:"logs,omitempty"`
}

// Call executes the published version of a stored mapping. Non-2xx upstream
// statuses come back as results; the execution record marks them failed.
func (s *Service) Call(ctx context.Context, tenantID, key string, input map[string]interface{}, source execution.Source) (*CallResult, error) {
	art, err := s.artifacts.Published(ctx, tenantID, artifact.KindMapping, key)
	if err != nil {
		return nil, err
	}
	m, err := parseMapping(art.Spec)
	if err != nil {
		return nil, fmt.Errorf("mapping %s v%d: %w", key, art.Version, err)
	}
	if m.Key == "" {
		m.Key = key
	}
	return s.execute(ctx, tenantID, art.Version, m, input, source, true)
}

// Test executes an ad-hoc mapping without recording an execution.
func (s *Service) Test(ctx context.Context, tenantID string, m apicall.Mapping, input map[string]interface{}) (*CallResult, error) {
	if err := apicall.Validate(m); err != nil {
		return nil, err
	}
	return s.execute(ctx, tenantID, 0, m, input, execution.SourceAPI, false)
}

// Preview renders the request a mapping would send without executing it.
func (s *Service) Preview(ctx context.Context, tenantID string, m apicall.Mapping, input map[string]interface{}) (*apicall.Preview, error) {
	if err := apicall.Validate(m); err != nil {
		return nil, err
	}
	doc, err := s.buildDoc(ctx, tenantID, m, input)
	if err != nil {
		return nil, err
	}
	return s.caller.Preview(ctx, m, doc)
}

// Executions returns the tenant's recent execution records, newest first,
// optionally filtered to one mapping key.
func (s *Service) Executions(ctx context.Context, tenantID, mappingKey string, limit int) ([]execution.Record, error) {
	if s.executions == nil {
		return nil, nil
	}
	return s.executions.ListExecutions(ctx, tenantID, mappingKey, limit)
}

// Execution returns one execution record scoped to the tenant.
func (s *Service) Execution(ctx context.Context, tenantID, id string) (execution.Record, error) {
	if s.executions == nil {
		return execution.Record{}, storage.ErrNotFound
	}
	rec, err := s.executions.GetExecution(ctx, id)
	if err != nil {
		return execution.Record{}, err
	}
	if rec.TenantID != tenantID {
		return execution.Record{}, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Service) execute(ctx context.Context, tenantID string, version int, m apicall.Mapping, input map[string]interface{}, source execution.Source, record bool) (*CallResult, error) {
	doc, err := s.buildDoc(ctx, tenantID, m, input)
	if err != nil {
		return nil, err
	}
	red := apicall.NewRedactor(doc)

	started := time.Now()
	res, callErr := s.caller.Call(ctx, tenantID, m, doc)

	var output map[string]interface{}
	var logs []string
	if callErr == nil {
		output = res.Mapped
		if m.TransformKey != "" && res.OK() {
			output, logs, callErr = s.applyTransform(ctx, tenantID, m.TransformKey, res, output)
		}
	}

	status := "success"
	switch {
	case callErr != nil:
		status = "error"
	case !res.OK():
		status = "upstream_error"
	}
	attempts := 0
	duration := time.Since(started)
	if res != nil {
		attempts = res.Attempts
		duration = res.Duration
	}
	metrics.RecordMappingCall(status, attempts, duration)

	var executionID string
	if record && s.executions != nil {
		executionID = s.persist(ctx, tenantID, version, m, source, res, callErr, red, output, duration)
	}

	if callErr != nil {
		return nil, callErr
	}
	s.log.WithField("mapping", m.Key).
		WithField("status", res.Status).
		Infof("mapping call finished in %s", res.Duration)
	return &CallResult{
		ExecutionID: executionID,
		HTTPStatus:  res.Status,
		Attempts:    res.Attempts,
		DurationMs:  res.Duration.Milliseconds(),
		FromCache:   res.FromCache,
		Truncated:   res.Truncated,
		Output:      output,
		Body:        res.Body,
		Logs:        logs,
	}, nil
}

// buildDoc assembles the template document: caller input at the top level
// and declared secrets under "secrets".
func (s *Service) buildDoc(ctx context.Context, tenantID string, m apicall.Mapping, input map[string]interface{}) (expr.Context, error) {
	doc := expr.Context{}
	for k, v := range input {
		doc[k] = v
	}
	if len(m.Secrets) > 0 {
		if s.secrets == nil {
			return nil, fmt.Errorf("mapping %s declares secrets but no secret service is attached", m.Key)
		}
		values, err := s.secrets.ResolveSecrets(ctx, tenantID, m.Secrets)
		if err != nil {
			return nil, err
		}
		resolved := make(map[string]interface{}, len(values))
		for name, value := range values {
			resolved[name] = value
		}
		doc["secrets"] = resolved
	}
	return doc, nil
}

func (s *Service) applyTransform(ctx context.Context, tenantID, transformKey string, res *apicall.Result, mapped map[string]interface{}) (map[string]interface{}, []string, error) {
	if s.transforms == nil {
		return nil, nil, fmt.Errorf("mapping references transform %q but no transform service is attached", transformKey)
	}
	art, err := s.artifacts.Published(ctx, tenantID, artifact.KindTransform, transformKey)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve transform %q: %w", transformKey, err)
	}
	sc, err := transforms.ParseScript(art.Spec)
	if err != nil {
		return nil, nil, fmt.Errorf("transform %q v%d: %w", transformKey, art.Version, err)
	}

	tr, err := s.transforms.Run(ctx, sc.Source, map[string]interface{}{
		"mapped": mapped,
		"body":   res.Body,
		"status": res.Status,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("transform %q v%d: %w", transformKey, art.Version, err)
	}
	return tr.Output, tr.Logs, nil
}

// persist writes the execution record. Everything that could carry a secret
// passes through the redactor first. Persistence failures are logged, never
// surfaced to the caller.
func (s *Service) persist(ctx context.Context, tenantID string, version int, m apicall.Mapping, source execution.Source, res *apicall.Result, callErr error, red *apicall.Redactor, output map[string]interface{}, duration time.Duration) string {
	rec := execution.Record{
		TenantID:       tenantID,
		MappingKey:     m.Key,
		MappingVersion: version,
		Status:         execution.StatusSucceeded,
		Source:         source,
		DurationMs:     duration.Milliseconds(),
	}
	if res != nil {
		rec.HTTPStatus = res.Status
		rec.Attempts = res.Attempts
		rec.DurationMs = res.Duration.Milliseconds()
		rec.RequestURL = red.Apply(res.URL)
		rec.ResponseBody = storedBody(res.Raw, red)
		rec.Mapped = redactMap(output, red)
	}
	switch {
	case callErr != nil:
		rec.Status = execution.StatusFailed
		rec.Error = red.Apply(callErr.Error())
	case !res.OK():
		rec.Status = execution.StatusFailed
		rec.Error = fmt.Sprintf("upstream status %d", res.Status)
	}

	stored, err := s.executions.CreateExecution(ctx, rec)
	if err != nil {
		s.log.WithError(err).Warnf("persist execution for mapping %s", m.Key)
		return ""
	}
	return stored.ID
}

func storedBody(raw []byte, red *apicall.Redactor) string {
	if len(raw) > maxStoredBody {
		raw = raw[:maxStoredBody]
	}
	return string(red.ApplyBytes(raw))
}

// redactMap pushes extracted values through the redactor by way of their
// JSON form, so secret echoes inside nested structures are caught too.
func redactMap(m map[string]interface{}, red *apicall.Redactor) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	blob, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(red.ApplyBytes(blob), &out); err != nil {
		return nil
	}
	return out
}

func parseMapping(spec json.RawMessage) (apicall.Mapping, error) {
	var m apicall.Mapping
	if err := json.Unmarshal(spec, &m); err != nil {
		return apicall.Mapping{}, fmt.Errorf("decode spec: %w", err)
	}
	return m, nil
}
