// Package system manages the lifecycle of long-running application
// components: background services register with a Manager that starts them
// in registration order and stops them in reverse.
package system

import (
	"context"
	"fmt"
	"sync"
)

// Service represents a lifecycle-managed component. All application modules
// must implement this interface so the system manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// NoopService satisfies Service for modules that have no background work but
// should still appear in the lifecycle registry.
type NoopService struct {
	ServiceName string
}

// Name returns the registered service name.
func (s NoopService) Name() string { return s.ServiceName }

// Start is a no-op.
func (s NoopService) Start(ctx context.Context) error { return nil }

// Stop is a no-op.
func (s NoopService) Stop(ctx context.Context) error { return nil }

// Manager starts and stops registered services. Start order follows
// registration order; Stop runs in reverse so dependents shut down before
// their dependencies.
type Manager struct {
	mu       sync.Mutex
	services []Service
	names    map[string]struct{}
	started  bool
}

// NewManager returns an empty lifecycle manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]struct{})}
}

// Register adds a service to the registry. Names must be unique and
// registration must happen before Start.
func (m *Manager) Register(svc Service) error {
	if svc == nil {
		return fmt.Errorf("system: cannot register nil service")
	}
	name := svc.Name()
	if name == "" {
		return fmt.Errorf("system: service has no name")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return fmt.Errorf("system: register %s: manager already started", name)
	}
	if _, exists := m.names[name]; exists {
		return fmt.Errorf("system: service %s already registered", name)
	}
	m.names[name] = struct{}{}
	m.services = append(m.services, svc)
	return nil
}

// Start starts every registered service in order. The first failure stops
// the services started so far and is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.Unlock()

	for i, svc := range services {
		if err := svc.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = services[j].Stop(ctx)
			}
			m.mu.Lock()
			m.started = false
			m.mu.Unlock()
			return fmt.Errorf("system: start %s: %w", svc.Name(), err)
		}
	}
	return nil
}

// Stop stops services in reverse registration order. All services are
// attempted; the first error is returned.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	services := make([]Service, len(m.services))
	copy(services, m.services)
	m.mu.Unlock()

	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("system: stop %s: %w", services[i].Name(), err)
		}
	}
	return firstErr
}
