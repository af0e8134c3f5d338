// Package auditlog records mutating control-plane requests. Entries land in
// an in-memory ring for cheap recent-history queries and fan out to optional
// sinks (JSONL files, the durable store) on a best-effort basis.
package auditlog

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/schemaflow/platform/internal/app/domain/audit"
	"github.com/schemaflow/platform/internal/app/storage"
	"github.com/schemaflow/platform/pkg/logger"
)

// DefaultRingSize bounds the in-memory history when no size is configured.
const DefaultRingSize = 200

// Sink receives every recorded entry.
type Sink interface {
	Write(entry audit.Entry) error
}

// Service is the audit trail.
type Service struct {
	log   *logger.Logger
	store storage.AuditStore

	mu      sync.Mutex
	entries []audit.Entry
	max     int
	sinks   []Sink
}

// Option customizes the service.
type Option func(*Service)

// WithRingSize overrides how many entries the in-memory ring keeps.
func WithRingSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.max = n
		}
	}
}

// WithSink adds a sink. Sink failures are logged, never propagated.
func WithSink(sink Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sinks = append(s.sinks, sink)
		}
	}
}

// New constructs an audit service.
func New(log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("audit")
	}
	s := &Service{log: log, max: DefaultRingSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttachStore makes entries durable and lets List read past the ring.
func (s *Service) AttachStore(store storage.AuditStore) {
	s.store = store
}

// Record appends an entry to the ring and every sink. It never fails; audit
// problems must not break the request that triggered them.
func (s *Service) Record(ctx context.Context, e audit.Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	s.mu.Lock()
	s.entries = append(s.entries, e)
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
	sinks := s.sinks
	s.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Write(e); err != nil {
			s.log.Warnf("audit sink: %v", err)
		}
	}
	if s.store != nil {
		if _, err := s.store.AppendAudit(ctx, e); err != nil {
			s.log.Warnf("audit append: %v", err)
		}
	}
}

// List returns the most recent entries for a tenant, newest first. With a
// store attached it reads from there, otherwise from the in-memory ring.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]audit.Entry, error) {
	if s.store != nil {
		return s.store.ListAudit(ctx, tenantID, limit)
	}
	return s.recent(tenantID, limit), nil
}

func (s *Service) recent(tenantID string, limit int) []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > s.max {
		limit = s.max
	}
	result := make([]audit.Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := s.entries[i]
		if tenantID != "" && e.TenantID != tenantID {
			continue
		}
		result = append(result, e)
	}
	return result
}

// FileSink appends entries to a file as JSONL.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (or creates) the audit file for appending.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &FileSink{file: f}, nil
}

// Write appends one JSON line.
func (s *FileSink) Write(entry audit.Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
