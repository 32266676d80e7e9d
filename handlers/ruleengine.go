package handlers

import (
	"context"
	"fmt"

	"github.com/c360studio/evoq/dispatch"
	"github.com/c360studio/evoq/rules"
)

// RuleEngineName is the handler name the rule_updates queue routes to.
const RuleEngineName = "rule-engine"

func init() {
	if err := dispatch.RegisterHandler(RuleEngineName, HandleRuleUpdate); err != nil {
		panic("failed to register rule-engine handler: " + err.Error())
	}
}

// Rule update operations.
const (
	RuleOpApply  = "apply"
	RuleOpRemove = "remove"
)

// RuleUpdate is the decoded payload of a rule_update message.
type RuleUpdate struct {
	// Op is apply or remove. Empty defaults to apply.
	Op   string     `json:"op,omitempty"`
	Rule rules.Rule `json:"rule"`
	// RuleID names the remove target. Falls back to rule.id when empty.
	RuleID string `json:"rule_id,omitempty"`
}

// HandleRuleUpdate validates a safety-rule change and publishes it through
// the copy-on-write rule store. Dry runs validate and diff without swapping
// a snapshot in. Applying or removing a destructive rule outside a dry run
// requires the message to have passed the approval gate.
func HandleRuleUpdate(_ context.Context, req *dispatch.Request) (dispatch.Result, error) {
	var update RuleUpdate
	if err := decodePayload(req.Payload, &update); err != nil {
		return nil, dispatch.NewInvalidInputError(err)
	}

	switch update.Op {
	case RuleOpApply, "":
		return applyRule(req, update.Rule)
	case RuleOpRemove:
		id := update.RuleID
		if id == "" {
			id = update.Rule.ID
		}
		return removeRule(req, id)
	default:
		return nil, dispatch.NewInvalidInputError(fmt.Errorf("unknown rule operation %q", update.Op))
	}
}

func applyRule(req *dispatch.Request, rule rules.Rule) (dispatch.Result, error) {
	if err := rule.Validate(); err != nil {
		return nil, dispatch.NewInvalidInputError(err)
	}

	store := rules.Global()
	diff := store.Preview(rule)

	// A destructive rule gates enforcement; an update that silently drops
	// the marker would remove the gate without anyone approving it.
	if diff.Before != nil && diff.Before.Destructive && !rule.Destructive {
		return nil, dispatch.NewPermanentError(
			fmt.Errorf("conflict: update drops the destructive marker on rule %s", rule.ID))
	}

	if req.DryRun {
		return dispatch.Result{
			"operation": RuleOpApply,
			"rule_id":   rule.ID,
			"dry_run":   true,
			"version":   store.Load().Version,
			"diff":      diff,
		}, nil
	}

	if rule.Destructive && !req.Approved {
		return nil, dispatch.NewPermanentError(
			fmt.Errorf("approval_required: rule %s is destructive", rule.ID))
	}

	snap, err := store.Apply(rule)
	if err != nil {
		return nil, dispatch.NewInvalidInputError(err)
	}

	return dispatch.Result{
		"operation": RuleOpApply,
		"rule_id":   rule.ID,
		"version":   snap.Version,
		"diff":      diff,
	}, nil
}

func removeRule(req *dispatch.Request, id string) (dispatch.Result, error) {
	if id == "" {
		return nil, dispatch.NewInvalidInputError(fmt.Errorf("remove: rule_id is required"))
	}

	store := rules.Global()
	existing, ok := store.Load().Get(id)
	if !ok {
		return nil, dispatch.NewPermanentError(fmt.Errorf("conflict: no rule with id %s", id))
	}

	if req.DryRun {
		return dispatch.Result{
			"operation": RuleOpRemove,
			"rule_id":   id,
			"dry_run":   true,
			"version":   store.Load().Version,
		}, nil
	}

	if existing.Destructive && !req.Approved {
		return nil, dispatch.NewPermanentError(
			fmt.Errorf("approval_required: rule %s is destructive", id))
	}

	snap, removed := store.Remove(id)
	if !removed {
		return nil, dispatch.NewPermanentError(fmt.Errorf("conflict: no rule with id %s", id))
	}

	return dispatch.Result{
		"operation": RuleOpRemove,
		"rule_id":   id,
		"version":   snap.Version,
	}, nil
}
