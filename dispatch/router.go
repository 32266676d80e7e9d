package dispatch

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Message types in the closed workflow set.
const (
	TypeRuleUpdate      = "rule_update"
	TypeLLMConfigUpdate = "llm_config_update"
	TypeCodeExecution   = "code_execution_request"
)

// ErrUnknownRoute is returned when no entry matches (queue, message type).
// Messages that hit it are dead-lettered with reason unknown_type.
var ErrUnknownRoute = errors.New("no routing entry for queue and message type")

// Policy holds retry and timeout configuration for one routing entry.
type Policy struct {
	// MaxAttempts is the maximum number of delivery attempts per workflow.
	MaxAttempts int

	// Timeout bounds a single handler execution.
	Timeout time.Duration

	// BackoffBase is the initial redelivery backoff.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// BackoffCap caps the maximum redelivery backoff.
	BackoffCap time.Duration
}

// DefaultPolicy returns the routing policy for a message type.
// Code execution gets a longer timeout with fewer attempts; configuration
// updates are quick but retried more.
func DefaultPolicy(messageType string) Policy {
	p := Policy{
		MaxAttempts:       5,
		Timeout:           10 * time.Second,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		BackoffCap:        30 * time.Second,
	}
	if messageType == TypeCodeExecution {
		p.MaxAttempts = 3
		p.Timeout = 30 * time.Second
	}
	return p
}

// Validate checks policy ranges.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", p.Timeout)
	}
	if p.BackoffBase <= 0 {
		return fmt.Errorf("backoff base must be positive, got %s", p.BackoffBase)
	}
	if p.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %g", p.BackoffMultiplier)
	}
	if p.BackoffCap < p.BackoffBase {
		return fmt.Errorf("backoff cap %s below base %s", p.BackoffCap, p.BackoffBase)
	}
	return nil
}

// Entry binds a source queue and message type to a handler, its result
// queue, and the policy governing retries.
type Entry struct {
	Queue       string
	MessageType string
	HandlerName string
	Handler     HandlerFunc
	ResultQueue string
	Policy      Policy
}

type routeKey struct {
	queue       string
	messageType string
}

// Router maps (queue, message type) pairs to routing entries. The table is
// built at startup through Register; lookups afterwards are read-only.
type Router struct {
	mu      sync.RWMutex
	entries map[routeKey]*Entry
}

// NewRouter creates an empty routing table.
func NewRouter() *Router {
	return &Router{entries: make(map[routeKey]*Entry)}
}

// Register adds a routing entry. When Handler is nil the HandlerName is
// resolved against the global handler registry; unknown names fail fast so
// a misconfigured queue table is caught at startup, not at dispatch time.
func (r *Router) Register(e *Entry) error {
	if e.Queue == "" || e.MessageType == "" {
		return fmt.Errorf("routing entry requires queue and message type")
	}
	if e.ResultQueue == "" {
		return fmt.Errorf("routing entry %s/%s requires a result queue", e.Queue, e.MessageType)
	}
	if err := e.Policy.Validate(); err != nil {
		return fmt.Errorf("routing entry %s/%s: %w", e.Queue, e.MessageType, err)
	}
	if e.Handler == nil {
		fn, ok := LookupHandler(e.HandlerName)
		if !ok {
			return fmt.Errorf("routing entry %s/%s: handler %q not registered (have %v)",
				e.Queue, e.MessageType, e.HandlerName, DefaultHandlers.List())
		}
		e.Handler = fn
	}

	key := routeKey{queue: e.Queue, messageType: e.MessageType}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("duplicate routing entry for %s/%s", e.Queue, e.MessageType)
	}
	r.entries[key] = e
	return nil
}

// Lookup returns the entry for (queue, message type), or ErrUnknownRoute.
func (r *Router) Lookup(queue, messageType string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[routeKey{queue: queue, messageType: messageType}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownRoute, queue, messageType)
	}
	return e, nil
}

// Entries returns all routing entries, ordered by queue then message type.
func (r *Router) Entries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Queue != out[j].Queue {
			return out[i].Queue < out[j].Queue
		}
		return out[i].MessageType < out[j].MessageType
	})
	return out
}

// Queues returns the distinct source queues in the table, sorted.
func (r *Router) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range r.entries {
		seen[key.queue] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out
}

// MaxTimeout returns the largest handler timeout across all entries.
// The consumer uses it to validate that the substrate visibility window
// covers execution plus the cancellation grace period.
func (r *Router) MaxTimeout() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var max time.Duration
	for _, e := range r.entries {
		if e.Policy.Timeout > max {
			max = e.Policy.Timeout
		}
	}
	return max
}
