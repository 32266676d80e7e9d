package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Request is the input delivered to a routed handler for one attempt.
type Request struct {
	// WorkflowID is the stable identity of the unit of work. Handlers must
	// be idempotent with respect to it: the same id may be delivered more
	// than once.
	WorkflowID string
	// Queue is the logical source queue the message was read from.
	Queue string
	// Type is the message type discriminator from the body.
	Type string
	// Payload is the decoded message body.
	Payload map[string]any
	// DryRun requests validation without side effects.
	DryRun bool
	// Approved is set by the consumer after a one-shot approval token on
	// the message validated against this workflow. Handlers gate
	// destructive operations on it.
	Approved bool
	// Attempt is the 1-based delivery attempt for this workflow.
	Attempt int
}

// Result is a handler's output map, published verbatim inside the success
// envelope on the routing entry's result queue.
type Result map[string]any

// HandlerFunc executes one unit of routed work. The context carries the
// per-attempt deadline; implementations must return promptly once it fires.
// Errors are classified with the wrappers in this package; an unwrapped
// error counts as permanent.
type HandlerFunc func(ctx context.Context, req *Request) (Result, error)

// HandlerRegistry maintains named handlers for router lookup.
// Handlers register themselves via init() functions; the consumer resolves
// names from its queue table at initialization. Thread-safe.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// Register adds a handler under the given name. Re-registering a name
// replaces the previous handler; the last registration wins.
func (r *HandlerRegistry) Register(name string, fn HandlerFunc) error {
	if name == "" {
		return fmt.Errorf("handler name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("handler %s: nil function", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
	return nil
}

// Lookup returns the handler registered under name.
func (r *HandlerRegistry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.handlers[name]
	return fn, ok
}

// List returns all registered handler names, sorted.
func (r *HandlerRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultHandlers is the global handler registry.
// Handler packages register themselves via init() functions.
var DefaultHandlers = NewHandlerRegistry()

// RegisterHandler registers a handler in the global registry.
func RegisterHandler(name string, fn HandlerFunc) error {
	return DefaultHandlers.Register(name, fn)
}

// LookupHandler resolves a handler from the global registry.
func LookupHandler(name string) (HandlerFunc, bool) {
	return DefaultHandlers.Lookup(name)
}
