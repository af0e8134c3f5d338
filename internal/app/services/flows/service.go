// Package flows runs flow sessions: it compiles stored flow artifacts,
// starts and advances sessions, executes the mapping calls transitions emit,
// and fans committed steps out to websocket subscribers.
package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/schemaflow/platform/internal/app/domain/artifact"
	"github.com/schemaflow/platform/internal/app/domain/execution"
	"github.com/schemaflow/platform/internal/app/metrics"
	"github.com/schemaflow/platform/internal/app/services/artifacts"
	"github.com/schemaflow/platform/internal/app/services/mappings"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/internal/engine/expr"
	"github.com/schemaflow/platform/internal/engine/flow"
	"github.com/schemaflow/platform/pkg/logger"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls further behind misses frames rather than stalling event handling.
const subscriberBuffer = 16

// StepEvent is one broadcast frame: the steps committed by a single session
// update and where the session ended up.
type StepEvent struct {
	SessionID string      `json:"session_id"`
	FlowKey   string      `json:"flow_key"`
	Current   string      `json:"current"`
	Status    string      `json:"status"`
	Steps     []flow.Step `json:"steps,omitempty"`
	At        time.Time   `json:"at"`
}

// Service manages flow sessions.
type Service struct {
	artifacts *artifacts.Service
	sessions  storage.SessionStore
	mappings  *mappings.Service
	log       *logger.Logger

	machineMu sync.RWMutex
	machines  map[string]*flow.Machine

	subMu sync.RWMutex
	subs  map[string]map[chan StepEvent]struct{}
}

// New constructs a flow service.
func New(artifactsSvc *artifacts.Service, sessions storage.SessionStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("flows")
	}
	return &Service{
		artifacts: artifactsSvc,
		sessions:  sessions,
		log:       log,
		machines:  make(map[string]*flow.Machine),
		subs:      make(map[string]map[chan StepEvent]struct{}),
	}
}

// AttachMappings wires the mapping service so callMapping actions execute.
func (s *Service) AttachMappings(m *mappings.Service) {
	s.mappings = m
}

// Start creates a session on the published version of a flow, seeded with
// input, and advances through any leading decision nodes.
func (s *Service) Start(ctx context.Context, tenantID, flowKey string, input map[string]interface{}) (*flow.Session, error) {
	art, err := s.artifacts.Published(ctx, tenantID, artifact.KindFlow, flowKey)
	if err != nil {
		return nil, err
	}
	machine, err := s.machineFor(art)
	if err != nil {
		return nil, err
	}

	sess, steps, err := machine.StartSession(ctx, uuid.NewString(), tenantID, flowKey, art.Version, expr.Context(input))
	if err != nil {
		metrics.RecordFlowTransition("error")
		return nil, err
	}

	created, err := s.sessions.CreateSession(ctx, *sess)
	if err != nil {
		return nil, err
	}
	metrics.RecordFlowTransition("committed")
	s.log.Infof("session %s started on flow %s v%d at %q", created.ID, flowKey, art.Version, created.Current)

	s.runCalls(ctx, &created, steps)
	s.broadcast(&created, steps)
	return &created, nil
}

// SendEvent applies one event to a session. The session stays pinned to the
// flow version it started on. Emitted mapping calls run after the new state
// is persisted; their failures land in execution records, not here.
func (s *Service) SendEvent(ctx context.Context, tenantID, sessionID, event string, payload map[string]interface{}) (*flow.Session, []flow.Step, error) {
	sess, err := s.load(ctx, tenantID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	art, err := s.artifacts.GetVersion(ctx, tenantID, artifact.KindFlow, sess.FlowKey, sess.FlowVersion)
	if err != nil {
		return nil, nil, err
	}
	machine, err := s.machineFor(art)
	if err != nil {
		return nil, nil, err
	}

	steps, err := machine.Fire(ctx, &sess, event, payload)
	if err != nil {
		switch {
		case errors.Is(err, flow.ErrNoTransition), errors.Is(err, flow.ErrSessionClosed):
			metrics.RecordFlowTransition("rejected")
		default:
			metrics.RecordFlowTransition("error")
		}
		return nil, nil, err
	}

	updated, err := s.sessions.UpdateSession(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	metrics.RecordFlowTransition("committed")
	s.log.Infof("session %s: %s -> %s on %q", updated.ID, steps[0].From, updated.Current, event)

	s.runCalls(ctx, &updated, steps)
	s.broadcast(&updated, steps)
	return &updated, steps, nil
}

// Get returns one session scoped to its tenant.
func (s *Service) Get(ctx context.Context, tenantID, sessionID string) (flow.Session, error) {
	return s.load(ctx, tenantID, sessionID)
}

// List returns a tenant's sessions, optionally filtered by flow key.
func (s *Service) List(ctx context.Context, tenantID, flowKey string) ([]flow.Session, error) {
	return s.sessions.ListSessions(ctx, tenantID, flowKey)
}

// Cancel closes an active session.
func (s *Service) Cancel(ctx context.Context, tenantID, sessionID string) (flow.Session, error) {
	sess, err := s.load(ctx, tenantID, sessionID)
	if err != nil {
		return flow.Session{}, err
	}
	if sess.Status != flow.StatusActive {
		return flow.Session{}, fmt.Errorf("session %s: %w", sessionID, flow.ErrSessionClosed)
	}

	sess.Status = flow.StatusCancelled
	sess.UpdatedAt = time.Now().UTC()
	updated, err := s.sessions.UpdateSession(ctx, sess)
	if err != nil {
		return flow.Session{}, err
	}
	s.log.Infof("session %s cancelled", sessionID)
	s.broadcast(&updated, nil)
	return updated, nil
}

// Subscribe registers for a session's broadcast frames. The returned cancel
// must be called to release the subscription; the channel closes with it.
func (s *Service) Subscribe(sessionID string) (<-chan StepEvent, func()) {
	ch := make(chan StepEvent, subscriberBuffer)

	s.subMu.Lock()
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[chan StepEvent]struct{})
	}
	s.subs[sessionID][ch] = struct{}{}
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[sessionID], ch)
			if len(s.subs[sessionID]) == 0 {
				delete(s.subs, sessionID)
			}
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *Service) load(ctx context.Context, tenantID, sessionID string) (flow.Session, error) {
	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return flow.Session{}, err
	}
	if sess.TenantID != tenantID {
		return flow.Session{}, fmt.Errorf("session %s: %w", sessionID, storage.ErrNotFound)
	}
	return sess, nil
}

// machineFor compiles an artifact's graph, memoizing per version. Published
// versions never change, so entries are never evicted.
func (s *Service) machineFor(art artifact.Artifact) (*flow.Machine, error) {
	key := fmt.Sprintf("%s|%s|%d", art.TenantID, art.Key, art.Version)

	s.machineMu.RLock()
	machine, ok := s.machines[key]
	s.machineMu.RUnlock()
	if ok {
		return machine, nil
	}

	g, err := flow.ParseGraph(art.Spec)
	if err != nil {
		return nil, fmt.Errorf("flow %s v%d: %w", art.Key, art.Version, err)
	}
	machine, err = flow.Compile(g)
	if err != nil {
		return nil, fmt.Errorf("flow %s v%d: %w", art.Key, art.Version, err)
	}

	s.machineMu.Lock()
	s.machines[key] = machine
	s.machineMu.Unlock()
	return machine, nil
}

// runCalls executes the mapping calls emitted by steps. Failures are logged
// and recorded as failed executions; they do not undo the transition.
func (s *Service) runCalls(ctx context.Context, sess *flow.Session, steps []flow.Step) {
	for _, step := range steps {
		for _, call := range step.Calls {
			if s.mappings == nil {
				s.log.Warnf("session %s: no mapping service for call %q", sess.ID, call.Mapping)
				continue
			}
			if _, err := s.mappings.Call(ctx, sess.TenantID, call.Mapping, call.Input, execution.SourceFlow); err != nil {
				s.log.WithError(err).
					WithField("session", sess.ID).
					Warnf("mapping call %q failed", call.Mapping)
			}
		}
	}
}

func (s *Service) broadcast(sess *flow.Session, steps []flow.Step) {
	ev := StepEvent{
		SessionID: sess.ID,
		FlowKey:   sess.FlowKey,
		Current:   sess.Current,
		Status:    sess.Status,
		Steps:     steps,
		At:        time.Now().UTC(),
	}

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for ch := range s.subs[sess.ID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
