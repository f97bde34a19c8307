package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"stepguard/internal/logging"
)

// Registry holds all available tools and provides lookup functionality.
// It is thread-safe and supports registration at runtime. Resolution is
// the sole gate between a plan step's tool string and real side effects.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool

	// invokeDeadline bounds each invocation; zero means
	// DefaultInvokeDeadline.
	invokeDeadline time.Duration
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// SetInvokeDeadline overrides the per-invocation deadline.
func (r *Registry) SetInvokeDeadline(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokeDeadline = d
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name already exists.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return fmt.Errorf("invalid tool: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolAlreadyRegistered, tool.Name)
	}
	r.tools[tool.Name] = tool

	logging.ToolsDebug("Registered tool: %s (category=%s)", tool.Name, tool.Category)
	return nil
}

// MustRegister registers a tool and panics on error.
// Use this for static tool registration at init time.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Resolve returns the tool for the given name.
// Returns ErrToolNotFound if no such tool is registered.
func (r *Registry) Resolve(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// CheckPrecondition evaluates a tool's precondition for the given
// arguments. A nil result means the step may run.
func (r *Registry) CheckPrecondition(ctx context.Context, name string, args map[string]string) error {
	tool, err := r.Resolve(name)
	if err != nil {
		return err
	}
	if tool.Precondition == nil {
		return nil
	}

	if err := tool.Precondition(ctx, args); err != nil {
		logging.ToolsDebug("Precondition failed for %s: %v", name, err)
		return fmt.Errorf("%w: %v", ErrPreconditionFailed, err)
	}
	return nil
}

// Invoke runs a tool by name with the given arguments under the
// registry's per-invocation deadline. Runtime failure is captured in
// the returned Invocation, not as a second error channel; only an
// unresolvable name returns an error.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]string) (*Invocation, error) {
	tool, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	deadline := r.invokeDeadline
	r.mu.RUnlock()
	if deadline <= 0 {
		deadline = DefaultInvokeDeadline
	}

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()

	if err := r.validateArgs(tool, args); err != nil {
		return &Invocation{
			ToolName:   tool.Name,
			Err:        err,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}

	logging.ToolsDebug("Executing tool: %s", tool.Name)
	output, artifacts, execErr := tool.Execute(ctx, args)
	duration := time.Since(start)
	logging.ToolsDebug("Tool %s completed in %v (success=%v)", tool.Name, duration, execErr == nil)

	inv := &Invocation{
		ToolName:   tool.Name,
		Output:     output,
		Artifacts:  artifacts,
		DurationMs: duration.Milliseconds(),
		Err:        execErr,
	}
	if code, ok := exitCodeOf(execErr); ok {
		inv.ExitCode = &code
	} else if execErr == nil && tool.Category == CategoryMutate {
		zero := 0
		inv.ExitCode = &zero
	}
	return inv, nil
}

// validateArgs checks that all required arguments are present.
func (r *Registry) validateArgs(tool *Tool, args map[string]string) error {
	for _, required := range tool.Schema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingRequiredArg, required)
		}
	}
	return nil
}
