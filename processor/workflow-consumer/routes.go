package workflowconsumer

import (
	"time"

	"github.com/c360studio/evoq/dispatch"
	"github.com/c360studio/evoq/handlers"
)

// Queue names in the closed workflow set. Result queues carry one envelope
// per terminal workflow outcome; every source queue also has a _dlq sibling.
const (
	QueueRuleUpdates       = "rule_updates"
	QueueLLMConfigUpdates  = "llm_config_updates"
	QueueJobRequests       = "job_requests"
	ResultRuleUpdates      = "rule_updates_results"
	ResultLLMConfigUpdates = "llm_config_updates_results"
	ResultJobRequests      = "job_results"
)

// Routes returns the queue table the consumer serves: one entry per
// (queue, message type) pair, bound to a registered handler name and the
// retry policy for that type.
func Routes() []*dispatch.Entry {
	return []*dispatch.Entry{
		{
			Queue:       QueueRuleUpdates,
			MessageType: dispatch.TypeRuleUpdate,
			HandlerName: handlers.RuleEngineName,
			ResultQueue: ResultRuleUpdates,
			Policy:      dispatch.DefaultPolicy(dispatch.TypeRuleUpdate),
		},
		{
			Queue:       QueueLLMConfigUpdates,
			MessageType: dispatch.TypeLLMConfigUpdate,
			HandlerName: handlers.LLMConfigManagerName,
			ResultQueue: ResultLLMConfigUpdates,
			Policy:      dispatch.DefaultPolicy(dispatch.TypeLLMConfigUpdate),
		},
		{
			Queue:       QueueJobRequests,
			MessageType: dispatch.TypeCodeExecution,
			HandlerName: handlers.JobExecutorName,
			ResultQueue: ResultJobRequests,
			Policy:      dispatch.DefaultPolicy(dispatch.TypeCodeExecution),
		},
	}
}

func maxRouteTimeout() time.Duration {
	var max time.Duration
	for _, e := range Routes() {
		if e.Policy.Timeout > max {
			max = e.Policy.Timeout
		}
	}
	return max
}
