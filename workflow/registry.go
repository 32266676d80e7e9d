package workflow

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/evoq/dispatch"
)

const shardCount = 16

// Registry owns the in-process state for every workflow id observed.
// Records are sharded by id hash; each shard is guarded by its own mutex so
// writes for one workflow never contend with unrelated ids. The dispatcher
// keeps at most one attempt running per id, which makes the shard lock the
// only synchronization a write needs.
type Registry struct {
	shards [shardCount]registryShard
}

type registryShard struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].records = make(map[string]*Record)
	}
	return r
}

func (r *Registry) shard(id string) *registryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &r.shards[h.Sum32()%shardCount]
}

// CreateOrGet returns the record for id, creating it in pending state on
// first observation. The returned copy reflects the record at call time;
// created reports whether this call inserted it.
func (r *Registry) CreateOrGet(id, workflowType, sourceQueue, payloadDigest string) (Record, bool) {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok {
		return *rec, false
	}

	now := time.Now().UTC()
	rec := &Record{
		ID:            id,
		Type:          workflowType,
		SourceQueue:   sourceQueue,
		PayloadDigest: payloadDigest,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.records[id] = rec
	return *rec, true
}

// Get returns a copy of the record for id.
func (r *Registry) Get(id string) (Record, bool) {
	s := r.shard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Transition moves id from one status to another, recording the error info
// on failure edges. The current status must equal from; anything else is
// ErrIllegalTransition. Unknown ids return ErrNotFound.
func (r *Registry) Transition(id string, from, to Status, errInfo *dispatch.ErrorInfo) error {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.Status != from {
		return fmt.Errorf("%w: %s is %s, not %s", ErrIllegalTransition, id, rec.Status, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s→%s", ErrIllegalTransition, from, to)
	}

	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	if errInfo != nil {
		rec.LastError = errInfo
	}
	return nil
}

// BeginAttempt atomically claims id for execution: pending→running plus an
// attempt increment. deliveryCount, when the substrate provides one, seeds
// the counter so attempts survive process restarts. A false return means
// another attempt is running or the workflow already reached a terminal
// state; the caller skips the duplicate delivery.
func (r *Registry) BeginAttempt(id string, deliveryCount int) (int, bool) {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return 0, false
	}
	if rec.Status != StatusPending {
		return rec.Attempts, false
	}

	attempt := rec.Attempts + 1
	if deliveryCount > attempt {
		attempt = deliveryCount
	}
	rec.Attempts = attempt
	rec.Status = StatusRunning
	rec.UpdatedAt = time.Now().UTC()
	return attempt, true
}

// MarkApproved records that an approval token was consumed for id. False
// means the id is unknown.
func (r *Registry) MarkApproved(id string) bool {
	s := r.shard(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false
	}
	rec.Approved = true
	rec.UpdatedAt = time.Now().UTC()
	return true
}

// Snapshot returns a point-in-time view of all records, ordered by id.
func (r *Registry) Snapshot() []Summary {
	var out []Summary
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, rec := range s.records {
			out = append(out, rec.summary())
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of records currently held.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.records)
		s.mu.RUnlock()
	}
	return n
}

// RunningCount returns how many workflows are currently running.
func (r *Registry) RunningCount() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, rec := range s.records {
			if rec.Status == StatusRunning {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// EvictTerminal removes terminal records whose last update is older than
// retention, returning how many were evicted.
func (r *Registry) EvictTerminal(retention time.Duration) int {
	cutoff := time.Now().UTC().Add(-retention)
	evicted := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for id, rec := range s.records {
			if rec.Status.Terminal() && rec.UpdatedAt.Before(cutoff) {
				delete(s.records, id)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	return evicted
}

var (
	globalRegistry     *Registry
	globalRegistryOnce sync.Once
)

// GlobalRegistry returns the process-wide workflow registry shared by the
// consumer (writes) and the control API (snapshots). Created on first use.
func GlobalRegistry() *Registry {
	globalRegistryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}
