// Package transforms executes tenant-supplied JavaScript post-processing
// hooks in a sandboxed goja runtime. A script must define a global
// `transform(input)` function; whatever it returns becomes the hook output.
package transforms

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/schemaflow/platform/pkg/logger"
)

// DefaultTimeout bounds a single script run when the caller's context
// carries no deadline.
const DefaultTimeout = 5 * time.Second

const entryPoint = "transform"

// Script is the decoded spec of a transform artifact.
type Script struct {
	Source string `json:"source"`
}

// ParseScript decodes a transform artifact spec.
func ParseScript(spec []byte) (Script, error) {
	var sc Script
	if err := json.Unmarshal(spec, &sc); err != nil {
		return Script{}, fmt.Errorf("decode transform spec: %w", err)
	}
	if sc.Source == "" {
		return Script{}, fmt.Errorf("transform source is required")
	}
	return sc, nil
}

// Result holds a script run's output and captured console lines.
type Result struct {
	Output map[string]interface{}
	Logs   []string
}

// Service runs transform scripts.
type Service struct {
	log     *logger.Logger
	timeout time.Duration
}

// Option customizes the service.
type Option func(*Service)

// WithTimeout overrides the default per-run timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New constructs a transform service.
func New(log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("transforms")
	}
	s := &Service{log: log, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check verifies that source parses and defines the transform entry point.
// Top-level code executes under the same interrupt guard as a real run.
func (s *Service) Check(ctx context.Context, source string) error {
	vm, cancel := s.newVM(ctx)
	defer cancel()

	if _, err := vm.RunString(source); err != nil {
		return fmt.Errorf("script error: %w", err)
	}
	if _, ok := goja.AssertFunction(vm.Get(entryPoint)); !ok {
		return fmt.Errorf("script must define a %q function", entryPoint)
	}
	return nil
}

// Run executes source against input and returns its output and console
// lines. Non-object return values are wrapped under a "result" key.
func (s *Service) Run(ctx context.Context, source string, input map[string]interface{}) (*Result, error) {
	vm, cancel := s.newVM(ctx)
	defer cancel()

	if input == nil {
		input = map[string]interface{}{}
	}
	if err := vm.Set("input", input); err != nil {
		return nil, fmt.Errorf("set input: %w", err)
	}

	logs := make([]string, 0)
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		logs = append(logs, fmt.Sprint(args...))
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("script error: %w", err)
	}

	entryFn, ok := goja.AssertFunction(vm.Get(entryPoint))
	if !ok {
		return nil, fmt.Errorf("script must define a %q function", entryPoint)
	}

	value, err := entryFn(goja.Undefined(), vm.ToValue(input))
	if err != nil {
		return nil, fmt.Errorf("execution error: %w", err)
	}

	output := make(map[string]interface{})
	if value != nil && value != goja.Undefined() && value != goja.Null() {
		switch v := value.Export().(type) {
		case map[string]interface{}:
			output = v
		default:
			output["result"] = v
		}
	}
	return &Result{Output: output, Logs: logs}, nil
}

// newVM builds a runtime whose execution is interrupted when the timeout
// or the caller's deadline hits. The returned cancel stops the watchdog.
func (s *Service) newVM(ctx context.Context) (*goja.Runtime, func()) {
	vm := goja.New()

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(timeout):
			vm.Interrupt("execution timeout")
		case <-ctx.Done():
			vm.Interrupt("context cancelled")
		case <-done:
		}
	}()
	return vm, func() { close(done) }
}
