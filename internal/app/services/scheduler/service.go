// Package scheduler runs cron-driven jobs that call mappings or start flow
// sessions. Jobs are tenant-owned records; the scheduler keeps the cron
// runtime in sync with the store as jobs are created, updated and deleted.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/schemaflow/platform/internal/app/domain/execution"
	"github.com/schemaflow/platform/internal/app/domain/schedule"
	"github.com/schemaflow/platform/internal/app/metrics"
	"github.com/schemaflow/platform/internal/app/services/flows"
	"github.com/schemaflow/platform/internal/app/services/mappings"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/pkg/logger"
)

// DefaultRunTimeout bounds a single job dispatch.
const DefaultRunTimeout = 30 * time.Second

// Service owns the cron runtime and the job records behind it.
type Service struct {
	store      storage.JobStore
	mappings   *mappings.Service
	flows      *flows.Service
	log        *logger.Logger
	runTimeout time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

// Option customizes the service.
type Option func(*Service)

// WithRunTimeout overrides the per-run timeout.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// New constructs a scheduler service. Jobs use the standard five-field cron
// syntax plus the @every and @daily style descriptors.
func New(store storage.JobStore, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	s := &Service{
		store:      store,
		log:        log,
		runTimeout: DefaultRunTimeout,
		cron:       cron.New(),
		entries:    make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name identifies the scheduler in the system lifecycle registry.
func (s *Service) Name() string { return "scheduler" }

// AttachMappings wires the mapping caller used by mapping jobs.
func (s *Service) AttachMappings(m *mappings.Service) {
	s.mappings = m
}

// AttachFlows wires the flow engine used by flow jobs.
func (s *Service) AttachFlows(f *flows.Service) {
	s.flows = f
}

// Create registers a new job and, when the scheduler is running, puts it on
// the cron timetable immediately.
func (s *Service) Create(ctx context.Context, job schedule.Job) (schedule.Job, error) {
	if err := validate(job); err != nil {
		return schedule.Job{}, err
	}
	job.ID = uuid.NewString()
	job.LastRunAt = nil
	job.LastError = ""
	created, err := s.store.CreateJob(ctx, job)
	if err != nil {
		return schedule.Job{}, fmt.Errorf("create job: %w", err)
	}
	if err := s.reschedule(created); err != nil {
		return schedule.Job{}, err
	}
	s.log.Infof("job %s (%s) created", created.Name, created.ID)
	return created, nil
}

// Update rewrites a job's definition. Empty fields keep their current value
// and the cron entry is replaced to pick up spec changes.
func (s *Service) Update(ctx context.Context, job schedule.Job) (schedule.Job, error) {
	existing, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		return schedule.Job{}, err
	}
	if job.Name != "" {
		existing.Name = job.Name
	}
	if job.Spec != "" {
		existing.Spec = job.Spec
	}
	if job.Kind != "" {
		existing.Kind = job.Kind
	}
	if job.TargetKey != "" {
		existing.TargetKey = job.TargetKey
	}
	if job.Payload != nil {
		existing.Payload = job.Payload
	}
	existing.Enabled = job.Enabled
	if err := validate(existing); err != nil {
		return schedule.Job{}, err
	}
	updated, err := s.store.UpdateJob(ctx, existing)
	if err != nil {
		return schedule.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := s.reschedule(updated); err != nil {
		return schedule.Job{}, err
	}
	s.log.Infof("job %s (%s) updated", updated.Name, updated.ID)
	return updated, nil
}

// Enable toggles a job without touching the rest of its definition.
func (s *Service) Enable(ctx context.Context, id string, enabled bool) (schedule.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return schedule.Job{}, err
	}
	job.Enabled = enabled
	updated, err := s.store.UpdateJob(ctx, job)
	if err != nil {
		return schedule.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := s.reschedule(updated); err != nil {
		return schedule.Job{}, err
	}
	return updated, nil
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, id string) (schedule.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns a tenant's jobs.
func (s *Service) List(ctx context.Context, tenantID string) ([]schedule.Job, error) {
	return s.store.ListJobs(ctx, tenantID)
}

// Delete removes a job and its cron entry.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	s.log.Infof("job %s deleted", id)
	return nil
}

// Start loads every enabled job from the store and begins firing them.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	jobs, err := s.store.ListJobs(ctx, "")
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.reschedule(job); err != nil {
			s.log.Errorf("schedule job %s: %v", job.ID, err)
		}
	}
	s.cron.Start()
	s.log.Infof("scheduler started with %d jobs", len(jobs))
	return nil
}

// Stop halts the timetable and waits for in-flight runs until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Infof("scheduler stopped")
	return nil
}

// RunNow dispatches a job immediately, outside its cron schedule.
func (s *Service) RunNow(ctx context.Context, id string) (schedule.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return schedule.Job{}, err
	}
	s.runJob(ctx, job)
	return s.store.GetJob(ctx, id)
}

// reschedule replaces the cron entry for a job. Disabled jobs and jobs seen
// before the scheduler starts only have their stale entries removed.
func (s *Service) reschedule(job schedule.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[job.ID]; ok {
		s.cron.Remove(entry)
		delete(s.entries, job.ID)
	}
	if !s.started || !job.Enabled {
		return nil
	}
	id := job.ID
	entry, err := s.cron.AddFunc(job.Spec, func() { s.tick(id) })
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	s.entries[job.ID] = entry
	return nil
}

// tick is the cron callback. It re-reads the job so edits made since
// scheduling are honored on the next firing.
func (s *Service) tick(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		s.log.Warnf("job %s vanished before run: %v", id, err)
		return
	}
	if !job.Enabled {
		return
	}
	s.runJob(ctx, job)
}

func (s *Service) runJob(ctx context.Context, job schedule.Job) {
	start := time.Now()
	err := s.dispatch(ctx, job)
	duration := time.Since(start)
	metrics.RecordJobRun(job.ID, duration, err == nil)

	now := time.Now().UTC()
	job.LastRunAt = &now
	if err != nil {
		job.LastError = err.Error()
		s.log.Errorf("job %s (%s) failed: %v", job.Name, job.ID, err)
	} else {
		job.LastError = ""
		s.log.Infof("job %s (%s) completed in %s", job.Name, job.ID, duration.Round(time.Millisecond))
	}
	if _, uerr := s.store.UpdateJob(ctx, job); uerr != nil {
		s.log.Warnf("record job %s run: %v", job.ID, uerr)
	}
}

// dispatch executes one job. Panics inside the engines surface as run
// failures instead of taking the scheduler down.
func (s *Service) dispatch(ctx context.Context, job schedule.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	switch job.Kind {
	case schedule.KindMapping:
		if s.mappings == nil {
			return fmt.Errorf("mapping calls are not configured")
		}
		res, callErr := s.mappings.Call(ctx, job.TenantID, job.TargetKey, job.Payload, execution.SourceSchedule)
		if callErr != nil {
			return callErr
		}
		if res.HTTPStatus >= 400 {
			return fmt.Errorf("upstream status %d", res.HTTPStatus)
		}
		return nil
	case schedule.KindFlow:
		if s.flows == nil {
			return fmt.Errorf("flow sessions are not configured")
		}
		_, startErr := s.flows.Start(ctx, job.TenantID, job.TargetKey, job.Payload)
		return startErr
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

func validate(job schedule.Job) error {
	if job.TenantID == "" {
		return fmt.Errorf("tenant id is required")
	}
	if job.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !schedule.ValidKind(job.Kind) {
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if job.TargetKey == "" {
		return fmt.Errorf("target key is required")
	}
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return fmt.Errorf("cron spec %q: %w", job.Spec, err)
	}
	return nil
}
