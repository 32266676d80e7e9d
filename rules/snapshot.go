// Package rules holds the safety-rule profile the rule-engine handler
// maintains. The active rule set is an immutable snapshot behind an atomic
// pointer: readers never lock, writers build a new snapshot and swap it in.
package rules

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// Action is what a matching rule asks of the platform.
type Action string

const (
	ActionAllow           Action = "allow"
	ActionDeny            Action = "deny"
	ActionRequireApproval Action = "require_approval"
)

// Rule guards a set of paths with an action.
type Rule struct {
	ID          string   `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	AppliesTo   []string `json:"applies_to" yaml:"applies_to"`
	Action      Action   `json:"action" yaml:"action"`
	// Destructive marks rules whose application changes enforcement
	// behavior; applying one outside a dry run requires an approval token.
	Destructive bool `json:"destructive,omitempty" yaml:"destructive,omitempty"`
	Disabled    bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Validate checks required fields and compiles every glob.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	switch r.Action {
	case ActionAllow, ActionDeny, ActionRequireApproval:
	default:
		return fmt.Errorf("rule %s: unknown action %q", r.ID, r.Action)
	}
	if len(r.AppliesTo) == 0 {
		return fmt.Errorf("rule %s: applies_to must name at least one pattern", r.ID)
	}
	for _, pattern := range r.AppliesTo {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("rule %s: invalid glob pattern %q", r.ID, pattern)
		}
	}
	return nil
}

// Matches reports whether any of the rule's patterns match the path.
func (r Rule) Matches(path string) bool {
	for _, pattern := range r.AppliesTo {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// Snapshot is one immutable version of the rule set.
type Snapshot struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Rules     []Rule    `json:"rules"`
}

// Get returns the rule with the given id.
func (s *Snapshot) Get(id string) (Rule, bool) {
	for _, r := range s.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Match returns the enabled rules whose patterns match the path.
func (s *Snapshot) Match(path string) []Rule {
	var matched []Rule
	for _, r := range s.Rules {
		if r.Disabled {
			continue
		}
		if r.Matches(path) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Evaluate resolves the action for a path. Deny wins over require_approval,
// which wins over allow. A path no rule matches is allowed.
func (s *Snapshot) Evaluate(path string) Action {
	action := ActionAllow
	for _, r := range s.Match(path) {
		switch r.Action {
		case ActionDeny:
			return ActionDeny
		case ActionRequireApproval:
			action = ActionRequireApproval
		}
	}
	return action
}

// Store publishes snapshots copy-on-write.
type Store struct {
	snap atomic.Pointer[Snapshot]
}

// NewStore starts with an empty version-zero snapshot.
func NewStore() *Store {
	st := &Store{}
	st.snap.Store(&Snapshot{})
	return st
}

// Load returns the current snapshot. The returned value must be treated as
// read-only.
func (st *Store) Load() *Snapshot {
	return st.snap.Load()
}

// Diff describes what applying a rule would change.
type Diff struct {
	// Op is one of add, replace, noop.
	Op     string `json:"op"`
	Before *Rule  `json:"before,omitempty"`
	After  Rule   `json:"after"`
}

// Preview computes the diff applying the rule would produce, without
// swapping anything. Dry runs report this.
func (st *Store) Preview(rule Rule) Diff {
	snap := st.Load()
	if existing, ok := snap.Get(rule.ID); ok {
		if rulesEqual(existing, rule) {
			return Diff{Op: "noop", Before: &existing, After: rule}
		}
		return Diff{Op: "replace", Before: &existing, After: rule}
	}
	return Diff{Op: "add", After: rule}
}

// Apply upserts a rule into a new snapshot and swaps it in. The returned
// snapshot is the one that became current.
func (st *Store) Apply(rule Rule) (*Snapshot, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	for {
		old := st.snap.Load()
		next := nextSnapshot(old, rule)
		if st.snap.CompareAndSwap(old, next) {
			return next, nil
		}
	}
}

// Remove drops a rule by id. It reports whether the rule existed.
func (st *Store) Remove(id string) (*Snapshot, bool) {
	for {
		old := st.snap.Load()
		if _, ok := old.Get(id); !ok {
			return old, false
		}
		rules := make([]Rule, 0, len(old.Rules)-1)
		for _, r := range old.Rules {
			if r.ID != id {
				rules = append(rules, r)
			}
		}
		next := &Snapshot{
			Version:   old.Version + 1,
			UpdatedAt: time.Now(),
			Rules:     rules,
		}
		if st.snap.CompareAndSwap(old, next) {
			return next, true
		}
	}
}

// Replace installs a whole rule set, as the profile loader does at boot and
// on hot reload.
func (st *Store) Replace(rules []Rule) (*Snapshot, error) {
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = true
	}

	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for {
		old := st.snap.Load()
		next := &Snapshot{
			Version:   old.Version + 1,
			UpdatedAt: time.Now(),
			Rules:     sorted,
		}
		if st.snap.CompareAndSwap(old, next) {
			return next, nil
		}
	}
}

func nextSnapshot(old *Snapshot, rule Rule) *Snapshot {
	rules := make([]Rule, 0, len(old.Rules)+1)
	replaced := false
	for _, r := range old.Rules {
		if r.ID == rule.ID {
			rules = append(rules, rule)
			replaced = true
			continue
		}
		rules = append(rules, r)
	}
	if !replaced {
		rules = append(rules, rule)
		sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	}
	return &Snapshot{
		Version:   old.Version + 1,
		UpdatedAt: time.Now(),
		Rules:     rules,
	}
}

func rulesEqual(a, b Rule) bool {
	if a.ID != b.ID || a.Description != b.Description || a.Action != b.Action ||
		a.Destructive != b.Destructive || a.Disabled != b.Disabled {
		return false
	}
	if len(a.AppliesTo) != len(b.AppliesTo) {
		return false
	}
	for i := range a.AppliesTo {
		if a.AppliesTo[i] != b.AppliesTo[i] {
			return false
		}
	}
	return true
}
