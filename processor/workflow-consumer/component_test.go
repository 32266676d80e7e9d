package workflowconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/evoq/approval"
	"github.com/c360studio/evoq/dispatch"
	"github.com/c360studio/evoq/queue"
	"github.com/c360studio/evoq/rules"
	"github.com/c360studio/evoq/workflow"
)

// newTestComponent builds a consumer on the in-memory substrate with fast
// polling and isolated registry and approval state.
func newTestComponent(t *testing.T, overrides map[string]any) *Component {
	t.Helper()

	cfg := map[string]any{
		"substrate":     "memory",
		"poll_interval": "10ms",
	}
	for k, v := range overrides {
		cfg[k] = v
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}

	comp, err := NewComponent(raw, component.Dependencies{})
	if err != nil {
		t.Fatalf("NewComponent: %v", err)
	}
	c := comp.(*Component)
	c.registry = workflow.NewRegistry()
	c.approvals = approval.NewService()
	return c
}

func startConsumer(t *testing.T, c *Component) {
	t.Helper()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Stop(5 * time.Second); err != nil {
			t.Logf("Stop: %v", err)
		}
	})
}

// testRoute swaps the consumer's routing table for a single entry, letting
// tests inject handlers with controlled failure behavior.
func testRoute(t *testing.T, c *Component, entry *dispatch.Entry) {
	t.Helper()
	router := dispatch.NewRouter()
	if err := router.Register(entry); err != nil {
		t.Fatalf("register test route: %v", err)
	}
	c.router = router
}

func fastPolicy(maxAttempts int) dispatch.Policy {
	return dispatch.Policy{
		MaxAttempts:       maxAttempts,
		Timeout:           5 * time.Second,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2.0,
		BackoffCap:        5 * time.Millisecond,
	}
}

func publishBody(t *testing.T, c *Component, queueName string, body map[string]any) string {
	t.Helper()
	id, err := c.adapter.PublishJSON(context.Background(), queueName, body)
	if err != nil {
		t.Fatalf("publish to %s: %v", queueName, err)
	}
	return id
}

func queueDepth(t *testing.T, c *Component, queueName string) int64 {
	t.Helper()
	depth, err := c.adapter.Depth(context.Background(), queueName)
	if err != nil {
		t.Fatalf("depth of %s: %v", queueName, err)
	}
	return depth
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %s waiting for %s", timeout, what)
}

func readResults(t *testing.T, c *Component, queueName string, max int) []workflow.ResultEnvelope {
	t.Helper()
	msgs, err := c.adapter.Substrate().Read(context.Background(), queueName, max, time.Minute)
	if err != nil {
		t.Fatalf("read %s: %v", queueName, err)
	}
	out := make([]workflow.ResultEnvelope, 0, len(msgs))
	for _, m := range msgs {
		var env workflow.ResultEnvelope
		if err := json.Unmarshal(m.Body, &env); err != nil {
			t.Fatalf("unmarshal result envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func readDLQ(t *testing.T, c *Component, sourceQueue string, max int) []queue.DLQBody {
	t.Helper()
	msgs, err := c.adapter.Substrate().Read(context.Background(), queue.DLQName(sourceQueue), max, time.Minute)
	if err != nil {
		t.Fatalf("read dlq of %s: %v", sourceQueue, err)
	}
	out := make([]queue.DLQBody, 0, len(msgs))
	for _, m := range msgs {
		var body queue.DLQBody
		if err := json.Unmarshal(m.Body, &body); err != nil {
			t.Fatalf("unmarshal dlq body: %v", err)
		}
		out = append(out, body)
	}
	return out
}

func TestNewComponent(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		comp, err := NewComponent(json.RawMessage(`{"substrate":"memory"}`), component.Dependencies{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		meta := comp.Meta()
		if meta.Name != "workflow-consumer" {
			t.Errorf("expected Name 'workflow-consumer', got %s", meta.Name)
		}
		if meta.Type != "processor" {
			t.Errorf("expected Type 'processor', got %s", meta.Type)
		}
		if meta.Version != "0.1.0" {
			t.Errorf("expected Version '0.1.0', got %s", meta.Version)
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		comp, err := NewComponent(json.RawMessage(`{}`), component.Dependencies{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		c := comp.(*Component)
		if c.config.Substrate != "jetstream" {
			t.Errorf("expected default substrate, got %s", c.config.Substrate)
		}
		if c.config.Workers != 4 {
			t.Errorf("expected default workers 4, got %d", c.config.Workers)
		}
		if c.config.BatchSize != 10 {
			t.Errorf("expected default batch_size 10, got %d", c.config.BatchSize)
		}
		if got := c.config.GetVisibilityTimeout(); got != 60*time.Second {
			t.Errorf("expected default visibility 60s, got %s", got)
		}
	})

	t.Run("invalid json", func(t *testing.T) {
		if _, err := NewComponent(json.RawMessage(`{invalid`), component.Dependencies{}); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("invalid config values", func(t *testing.T) {
		if _, err := NewComponent(json.RawMessage(`{"substrate":"redis"}`), component.Dependencies{}); err == nil {
			t.Error("expected error for unknown substrate")
		}
		if _, err := NewComponent(json.RawMessage(`{"substrate":"memory","workers":-1}`), component.Dependencies{}); err == nil {
			t.Error("expected error for negative workers")
		}
	})

	t.Run("ports", func(t *testing.T) {
		comp, err := NewComponent(json.RawMessage(`{"substrate":"memory"}`), component.Dependencies{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(comp.InputPorts()); got != 3 {
			t.Errorf("expected 3 input ports, got %d", got)
		}
		if got := len(comp.OutputPorts()); got != 2 {
			t.Errorf("expected 2 output ports, got %d", got)
		}
	})
}

func TestLifecycle(t *testing.T) {
	c := newTestComponent(t, nil)

	if c.IsRunning() {
		t.Fatal("component should not run before Start")
	}
	if err := c.Stop(time.Second); err != nil {
		t.Fatalf("Stop before Start should be a no-op, got %v", err)
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.IsRunning() {
		t.Fatal("component should report running after Start")
	}
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail")
	}

	health := c.Health()
	if !health.Healthy || health.Status != "running" {
		t.Errorf("unexpected health while running: %+v", health)
	}

	if err := c.Stop(5 * time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if c.IsRunning() {
		t.Fatal("component should not report running after Stop")
	}
	if health := c.Health(); health.Healthy {
		t.Errorf("expected unhealthy after Stop, got %+v", health)
	}
}

func TestDispatchesCodeExecution(t *testing.T) {
	c := newTestComponent(t, nil)
	startConsumer(t, c)

	publishBody(t, c, QueueJobRequests, map[string]any{
		"type":     "code_execution_request",
		"id":       "s1-job",
		"code":     "package main\n\nfunc main() {}\n",
		"language": "go",
	})

	waitFor(t, 5*time.Second, "result envelope", func() bool {
		return queueDepth(t, c, ResultJobRequests) == 1
	})
	waitFor(t, 5*time.Second, "source archive", func() bool {
		return queueDepth(t, c, QueueJobRequests) == 0
	})

	results := readResults(t, c, ResultJobRequests, 10)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.Status != workflow.ResultStatusSuccess {
		t.Errorf("expected success, got %s (error %v)", res.Status, res.Error)
	}
	if res.WorkflowID != "s1-job" || res.SourceQueue != QueueJobRequests {
		t.Errorf("unexpected envelope identity: %s from %s", res.WorkflowID, res.SourceQueue)
	}
	if res.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", res.Attempts)
	}
	if score, ok := res.Result["quality_score"].(float64); !ok || score != 1.0 {
		t.Errorf("expected quality_score 1.0, got %v", res.Result["quality_score"])
	}

	rec, ok := c.registry.Get("s1-job")
	if !ok || rec.Status != workflow.StatusCompleted {
		t.Errorf("expected completed registry record, got %+v", rec)
	}
}

func TestDispatchesRuleUpdate(t *testing.T) {
	rules.ResetGlobal()
	c := newTestComponent(t, nil)
	startConsumer(t, c)

	publishBody(t, c, QueueRuleUpdates, map[string]any{
		"type": "rule_update",
		"id":   "rule-wf-1",
		"op":   "apply",
		"rule": map[string]any{
			"id":         "block-rm",
			"applies_to": []string{"jobs/**"},
			"action":     "deny",
		},
	})

	waitFor(t, 5*time.Second, "rule result", func() bool {
		return queueDepth(t, c, ResultRuleUpdates) == 1
	})

	res := readResults(t, c, ResultRuleUpdates, 10)[0]
	if res.Status != workflow.ResultStatusSuccess {
		t.Fatalf("expected success, got %s (error %v)", res.Status, res.Error)
	}
	if _, ok := rules.Global().Load().Get("block-rm"); !ok {
		t.Error("expected rule in the live snapshot")
	}
}

func TestRetryThenSuccess(t *testing.T) {
	c := newTestComponent(t, nil)
	var calls atomic.Int32
	testRoute(t, c, &dispatch.Entry{
		Queue:       QueueJobRequests,
		MessageType: dispatch.TypeCodeExecution,
		HandlerName: "flaky",
		Handler: func(_ context.Context, _ *dispatch.Request) (dispatch.Result, error) {
			if calls.Add(1) < 3 {
				return nil, dispatch.NewTransientError(errors.New("substrate hiccup"))
			}
			return dispatch.Result{"ok": true}, nil
		},
		ResultQueue: ResultJobRequests,
		Policy:      fastPolicy(3),
	})
	startConsumer(t, c)

	publishBody(t, c, QueueJobRequests, map[string]any{
		"type": "code_execution_request",
		"id":   "s2-job",
	})

	waitFor(t, 5*time.Second, "result after retries", func() bool {
		return queueDepth(t, c, ResultJobRequests) == 1
	})

	res := readResults(t, c, ResultJobRequests, 10)[0]
	if res.Status != workflow.ResultStatusSuccess {
		t.Fatalf("expected success, got %s (error %v)", res.Status, res.Error)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 handler invocations, got %d", got)
	}
	if got := c.retriesScheduled.Load(); got != 2 {
		t.Errorf("expected 2 scheduled retries, got %d", got)
	}
	if queueDepth(t, c, queue.DLQName(QueueJobRequests)) != 0 {
		t.Error("nothing should be dead-lettered on eventual success")
	}
}

func TestRetriesExhausted(t *testing.T) {
	c := newTestComponent(t, nil)
	var calls atomic.Int32
	testRoute(t, c, &dispatch.Entry{
		Queue:       QueueJobRequests,
		MessageType: dispatch.TypeCodeExecution,
		HandlerName: "always-down",
		Handler: func(_ context.Context, _ *dispatch.Request) (dispatch.Result, error) {
			calls.Add(1)
			return nil, dispatch.NewTransientError(errors.New("backend down"))
		},
		ResultQueue: ResultJobRequests,
		Policy:      fastPolicy(3),
	})
	startConsumer(t, c)

	body := map[string]any{
		"type": "code_execution_request",
		"id":   "s3-job",
	}
	msgID := publishBody(t, c, QueueJobRequests, body)

	waitFor(t, 5*time.Second, "failure envelope", func() bool {
		return queueDepth(t, c, ResultJobRequests) == 1
	})
	waitFor(t, 5*time.Second, "dead letter", func() bool {
		return queueDepth(t, c, queue.DLQName(QueueJobRequests)) == 1
	})

	res := readResults(t, c, ResultJobRequests, 10)[0]
	if res.Status != workflow.ResultStatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if res.Error == nil || res.Error.Kind != dispatch.KindTransient {
		t.Errorf("expected transient error info, got %+v", res.Error)
	}
	if res.Error != nil && !strings.Contains(res.Error.Detail, "backend down") {
		t.Errorf("expected last error detail, got %q", res.Error.Detail)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 handler invocations, got %d", got)
	}

	dlq := readDLQ(t, c, QueueJobRequests, 10)[0]
	if dlq.Reason != reasonRetriesExhausted {
		t.Errorf("expected reason %s, got %s", reasonRetriesExhausted, dlq.Reason)
	}
	if dlq.OriginalMsgID != msgID {
		t.Errorf("expected original msg id %s, got %s", msgID, dlq.OriginalMsgID)
	}
	var original map[string]any
	if err := json.Unmarshal(dlq.OriginalBody, &original); err != nil {
		t.Fatalf("original body is not JSON: %v", err)
	}
	if original["id"] != "s3-job" {
		t.Errorf("original body did not survive dead-lettering: %v", original)
	}

	rec, ok := c.registry.Get("s3-job")
	if !ok || rec.Status != workflow.StatusFailed {
		t.Errorf("expected failed registry record, got %+v", rec)
	}
}

func TestUnknownTypeDeadLetters(t *testing.T) {
	c := newTestComponent(t, nil)
	startConsumer(t, c)

	publishBody(t, c, QueueRuleUpdates, map[string]any{
		"type": "unknown_kind",
		"id":   "s4-wf",
	})

	waitFor(t, 5*time.Second, "unknown type dead letter", func() bool {
		return queueDepth(t, c, queue.DLQName(QueueRuleUpdates)) == 1
	})

	dlq := readDLQ(t, c, QueueRuleUpdates, 10)[0]
	if dlq.Reason != reasonUnknownType {
		t.Errorf("expected reason %s, got %s", reasonUnknownType, dlq.Reason)
	}
	if c.registry.Len() != 0 {
		t.Errorf("unroutable messages must not create registry records, have %d", c.registry.Len())
	}
	if queueDepth(t, c, ResultRuleUpdates) != 0 {
		t.Error("unroutable messages must not produce result envelopes")
	}
}

func TestInvalidMessageDeadLetters(t *testing.T) {
	t.Run("not json", func(t *testing.T) {
		c := newTestComponent(t, nil)
		startConsumer(t, c)

		if _, err := c.adapter.Publish(context.Background(), QueueJobRequests, []byte("not json at all")); err != nil {
			t.Fatalf("publish: %v", err)
		}

		waitFor(t, 5*time.Second, "invalid message dead letter", func() bool {
			return queueDepth(t, c, queue.DLQName(QueueJobRequests)) == 1
		})

		dlq := readDLQ(t, c, QueueJobRequests, 10)[0]
		if dlq.Reason != reasonInvalidMessage {
			t.Errorf("expected reason %s, got %s", reasonInvalidMessage, dlq.Reason)
		}
		if got := c.decodeFailures.Load(); got != 1 {
			t.Errorf("expected 1 decode failure, got %d", got)
		}
	})

	t.Run("missing workflow id gets one assigned", func(t *testing.T) {
		c := newTestComponent(t, nil)
		startConsumer(t, c)

		publishBody(t, c, QueueJobRequests, map[string]any{
			"type":     "code_execution_request",
			"code":     "package main\n\nfunc main() {}\n",
			"language": "go",
		})

		waitFor(t, 5*time.Second, "result for assigned id", func() bool {
			return queueDepth(t, c, ResultJobRequests) == 1
		})

		result := readResults(t, c, ResultJobRequests, 10)[0]
		if result.WorkflowID == "" {
			t.Error("expected a generated workflow id on the result envelope")
		}
		if result.Status != workflow.ResultStatusSuccess {
			t.Errorf("expected success, got %s", result.Status)
		}
		if queueDepth(t, c, queue.DLQName(QueueJobRequests)) != 0 {
			t.Error("messages without an id must not dead-letter")
		}
		if _, ok := c.registry.Get(result.WorkflowID); !ok {
			t.Error("generated id should have a registry record")
		}
	})
}

func TestApprovalGate(t *testing.T) {
	t.Run("valid token approves destructive apply", func(t *testing.T) {
		rules.ResetGlobal()
		c := newTestComponent(t, nil)
		startConsumer(t, c)

		tok := c.approvals.Issue("rule_update", "apr-ok")
		publishBody(t, c, QueueRuleUpdates, map[string]any{
			"type":           "rule_update",
			"id":             "apr-ok",
			"approval_token": tok.Token,
			"rule": map[string]any{
				"id":          "wipe-workspace",
				"applies_to":  []string{"jobs/**"},
				"action":      "require_approval",
				"destructive": true,
			},
		})

		waitFor(t, 5*time.Second, "approved apply result", func() bool {
			return queueDepth(t, c, ResultRuleUpdates) == 1
		})

		res := readResults(t, c, ResultRuleUpdates, 10)[0]
		if res.Status != workflow.ResultStatusSuccess {
			t.Fatalf("expected success, got %s (error %v)", res.Status, res.Error)
		}
		if _, ok := rules.Global().Load().Get("wipe-workspace"); !ok {
			t.Error("approved destructive rule should be applied")
		}
	})

	t.Run("missing token is refused by the handler", func(t *testing.T) {
		rules.ResetGlobal()
		c := newTestComponent(t, nil)
		startConsumer(t, c)

		publishBody(t, c, QueueRuleUpdates, map[string]any{
			"type": "rule_update",
			"id":   "apr-missing",
			"rule": map[string]any{
				"id":          "wipe-workspace",
				"applies_to":  []string{"jobs/**"},
				"action":      "require_approval",
				"destructive": true,
			},
		})

		waitFor(t, 5*time.Second, "refusal envelope", func() bool {
			return queueDepth(t, c, ResultRuleUpdates) == 1
		})

		res := readResults(t, c, ResultRuleUpdates, 10)[0]
		if res.Status != workflow.ResultStatusFailed {
			t.Fatalf("expected failed, got %s", res.Status)
		}
		if res.Error == nil || !strings.Contains(res.Error.Detail, "approval_required") {
			t.Errorf("expected approval_required detail, got %+v", res.Error)
		}
		if _, ok := rules.Global().Load().Get("wipe-workspace"); ok {
			t.Error("unapproved destructive rule must not be applied")
		}
	})

	t.Run("invalid token fails before the handler runs", func(t *testing.T) {
		rules.ResetGlobal()
		c := newTestComponent(t, nil)
		startConsumer(t, c)

		publishBody(t, c, QueueRuleUpdates, map[string]any{
			"type":           "rule_update",
			"id":             "apr-bogus",
			"approval_token": "no-such-token",
			"rule": map[string]any{
				"id":         "innocent",
				"applies_to": []string{"jobs/**"},
				"action":     "allow",
			},
		})

		waitFor(t, 5*time.Second, "rejection envelope", func() bool {
			return queueDepth(t, c, ResultRuleUpdates) == 1
		})

		res := readResults(t, c, ResultRuleUpdates, 10)[0]
		if res.Status != workflow.ResultStatusFailed {
			t.Fatalf("expected failed, got %s", res.Status)
		}
		if res.Error == nil || !strings.Contains(res.Error.Detail, "approval rejected: unknown") {
			t.Errorf("expected rejection detail, got %+v", res.Error)
		}
		if _, ok := rules.Global().Load().Get("innocent"); ok {
			t.Error("handler must not run after a token rejection")
		}

		dlq := readDLQ(t, c, QueueRuleUpdates, 10)[0]
		if dlq.Reason != reasonApprovalRejected {
			t.Errorf("expected reason %s, got %s", reasonApprovalRejected, dlq.Reason)
		}
	})
}

// A consumed token must not be demanded again when a transient failure
// retries an already-approved workflow.
func TestApprovalSurvivesRetry(t *testing.T) {
	c := newTestComponent(t, nil)
	var calls atomic.Int32
	testRoute(t, c, &dispatch.Entry{
		Queue:       QueueRuleUpdates,
		MessageType: dispatch.TypeRuleUpdate,
		HandlerName: "approval-probe",
		Handler: func(_ context.Context, req *dispatch.Request) (dispatch.Result, error) {
			if calls.Add(1) == 1 {
				return nil, dispatch.NewTransientError(errors.New("first attempt loses"))
			}
			if !req.Approved {
				return nil, dispatch.NewPermanentError(errors.New("approval lost across retries"))
			}
			return dispatch.Result{"approved": true}, nil
		},
		ResultQueue: ResultRuleUpdates,
		Policy:      fastPolicy(3),
	})
	startConsumer(t, c)

	tok := c.approvals.Issue("rule_update", "apr-retry")
	publishBody(t, c, QueueRuleUpdates, map[string]any{
		"type":           "rule_update",
		"id":             "apr-retry",
		"approval_token": tok.Token,
	})

	waitFor(t, 5*time.Second, "retried approved result", func() bool {
		return queueDepth(t, c, ResultRuleUpdates) == 1
	})

	res := readResults(t, c, ResultRuleUpdates, 10)[0]
	if res.Status != workflow.ResultStatusSuccess {
		t.Fatalf("expected success, got %s (error %v)", res.Status, res.Error)
	}
	if res.Attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", res.Attempts)
	}
}

func TestDuplicateDeliveries(t *testing.T) {
	t.Run("completed id archives without re-execution", func(t *testing.T) {
		c := newTestComponent(t, nil)
		var calls atomic.Int32
		testRoute(t, c, &dispatch.Entry{
			Queue:       QueueJobRequests,
			MessageType: dispatch.TypeCodeExecution,
			HandlerName: "counter",
			Handler: func(_ context.Context, _ *dispatch.Request) (dispatch.Result, error) {
				calls.Add(1)
				return dispatch.Result{}, nil
			},
			ResultQueue: ResultJobRequests,
			Policy:      fastPolicy(3),
		})
		startConsumer(t, c)

		body := map[string]any{"type": "code_execution_request", "id": "dup-done"}
		publishBody(t, c, QueueJobRequests, body)
		waitFor(t, 5*time.Second, "first completion", func() bool {
			return queueDepth(t, c, ResultJobRequests) == 1
		})

		publishBody(t, c, QueueJobRequests, body)
		waitFor(t, 5*time.Second, "duplicate archived", func() bool {
			return c.messagesArchived.Load() == 2
		})

		if got := calls.Load(); got != 1 {
			t.Errorf("expected 1 handler invocation, got %d", got)
		}
		if depth := queueDepth(t, c, ResultJobRequests); depth != 1 {
			t.Errorf("expected no second result envelope, depth %d", depth)
		}
	})

	t.Run("failed id dead-letters without re-execution", func(t *testing.T) {
		c := newTestComponent(t, nil)
		var calls atomic.Int32
		testRoute(t, c, &dispatch.Entry{
			Queue:       QueueJobRequests,
			MessageType: dispatch.TypeCodeExecution,
			HandlerName: "rejecter",
			Handler: func(_ context.Context, _ *dispatch.Request) (dispatch.Result, error) {
				calls.Add(1)
				return nil, dispatch.NewPermanentError(errors.New("no"))
			},
			ResultQueue: ResultJobRequests,
			Policy:      fastPolicy(3),
		})
		startConsumer(t, c)

		body := map[string]any{"type": "code_execution_request", "id": "dup-failed"}
		publishBody(t, c, QueueJobRequests, body)
		waitFor(t, 5*time.Second, "first failure", func() bool {
			return queueDepth(t, c, queue.DLQName(QueueJobRequests)) == 1
		})

		publishBody(t, c, QueueJobRequests, body)
		waitFor(t, 5*time.Second, "duplicate dead-lettered", func() bool {
			return queueDepth(t, c, queue.DLQName(QueueJobRequests)) == 2
		})

		if got := calls.Load(); got != 1 {
			t.Errorf("expected 1 handler invocation, got %d", got)
		}
		found := false
		for _, dlq := range readDLQ(t, c, QueueJobRequests, 10) {
			if dlq.Reason == reasonAlreadyFailed {
				found = true
			}
		}
		if !found {
			t.Error("expected an already_failed dead letter for the duplicate")
		}
	})

	t.Run("running id is skipped without archiving", func(t *testing.T) {
		c := newTestComponent(t, nil)
		release := make(chan struct{})
		var calls atomic.Int32
		testRoute(t, c, &dispatch.Entry{
			Queue:       QueueJobRequests,
			MessageType: dispatch.TypeCodeExecution,
			HandlerName: "blocker",
			Handler: func(ctx context.Context, _ *dispatch.Request) (dispatch.Result, error) {
				calls.Add(1)
				select {
				case <-release:
					return dispatch.Result{}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			},
			ResultQueue: ResultJobRequests,
			Policy:      fastPolicy(3),
		})
		startConsumer(t, c)

		body := map[string]any{"type": "code_execution_request", "id": "dup-running"}
		publishBody(t, c, QueueJobRequests, body)
		waitFor(t, 5*time.Second, "first attempt in flight", func() bool {
			return c.workers.Busy() == 1
		})

		publishBody(t, c, QueueJobRequests, body)
		waitFor(t, 5*time.Second, "duplicate observed", func() bool {
			return c.messagesRead.Load() >= 2
		})

		if got := calls.Load(); got != 1 {
			t.Errorf("expected 1 handler invocation while in flight, got %d", got)
		}

		close(release)
		waitFor(t, 5*time.Second, "completion", func() bool {
			return queueDepth(t, c, ResultJobRequests) == 1
		})

		// The duplicate stays in flight on the queue until its visibility
		// window lapses; it was never archived or dead-lettered.
		if depth := queueDepth(t, c, QueueJobRequests); depth != 1 {
			t.Errorf("expected skipped duplicate to remain, depth %d", depth)
		}
	})
}

// A delivery count that already exceeds the policy converges to failure
// without granting the handler extra executions.
func TestDeliveryCountCapsAttempts(t *testing.T) {
	substrate := queue.NewMemorySubstrate()
	c := newTestComponent(t, nil)
	c.substrate = substrate

	body, err := json.Marshal(map[string]any{
		"type":     "code_execution_request",
		"id":       "worn-out",
		"code":     "package main\n\nfunc main() {}\n",
		"language": "go",
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := substrate.Send(context.Background(), QueueJobRequests, body); err != nil {
		t.Fatalf("send: %v", err)
	}
	// Burn through the delivery budget before the consumer ever runs, the
	// way a crash-looping process would.
	for i := 0; i < 3; i++ {
		msgs, err := substrate.Read(context.Background(), QueueJobRequests, 1, 0)
		if err != nil || len(msgs) != 1 {
			t.Fatalf("seed read %d: %v (%d msgs)", i, err, len(msgs))
		}
	}

	startConsumer(t, c)

	waitFor(t, 5*time.Second, "exhaustion envelope", func() bool {
		return queueDepth(t, c, ResultJobRequests) == 1
	})

	res := readResults(t, c, ResultJobRequests, 10)[0]
	if res.Status != workflow.ResultStatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if res.Attempts != 4 {
		t.Errorf("expected attempts seeded from delivery count 4, got %d", res.Attempts)
	}
	if res.Error == nil || !strings.Contains(res.Error.Detail, "attempts exhausted") {
		t.Errorf("expected exhaustion detail, got %+v", res.Error)
	}

	dlq := readDLQ(t, c, QueueJobRequests, 10)[0]
	if dlq.Reason != reasonRetriesExhausted {
		t.Errorf("expected reason %s, got %s", reasonRetriesExhausted, dlq.Reason)
	}
}

func TestWorkerPoolWaves(t *testing.T) {
	c := newTestComponent(t, nil)
	started := make(chan string, 8)
	release := make(chan struct{})
	testRoute(t, c, &dispatch.Entry{
		Queue:       QueueJobRequests,
		MessageType: dispatch.TypeCodeExecution,
		HandlerName: "gate",
		Handler: func(ctx context.Context, req *dispatch.Request) (dispatch.Result, error) {
			started <- req.WorkflowID
			select {
			case <-release:
				return dispatch.Result{"done": true}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
		ResultQueue: ResultJobRequests,
		Policy:      fastPolicy(3),
	})
	startConsumer(t, c)

	for i := 0; i < 8; i++ {
		publishBody(t, c, QueueJobRequests, map[string]any{
			"type": "code_execution_request",
			"id":   "wave-" + string(rune('a'+i)),
		})
	}

	waitFor(t, 5*time.Second, "first wave", func() bool {
		return len(started) == 4
	})
	if busy := c.workers.Busy(); busy != 4 {
		t.Errorf("expected 4 busy workers, got %d", busy)
	}

	// Submit blocks while the pool is full, so the fifth task must not
	// start before a worker frees up.
	time.Sleep(50 * time.Millisecond)
	if got := len(started); got != 4 {
		t.Errorf("expected the second wave to wait, %d tasks started", got)
	}

	close(release)
	waitFor(t, 5*time.Second, "all results", func() bool {
		return queueDepth(t, c, ResultJobRequests) == 8
	})

	results := readResults(t, c, ResultJobRequests, 16)
	seen := make(map[string]bool)
	for _, res := range results {
		if res.Status != workflow.ResultStatusSuccess {
			t.Errorf("workflow %s: expected success, got %s", res.WorkflowID, res.Status)
		}
		seen[res.WorkflowID] = true
	}
	if len(seen) != 8 {
		t.Errorf("expected 8 distinct workflow results, got %d", len(seen))
	}
	if running := c.registry.RunningCount(); running != 0 {
		t.Errorf("expected no running workflows, got %d", running)
	}
}

func TestGracefulShutdown(t *testing.T) {
	c := newTestComponent(t, nil)
	testRoute(t, c, &dispatch.Entry{
		Queue:       QueueJobRequests,
		MessageType: dispatch.TypeCodeExecution,
		HandlerName: "slow",
		Handler: func(_ context.Context, _ *dispatch.Request) (dispatch.Result, error) {
			time.Sleep(150 * time.Millisecond)
			return dispatch.Result{"done": true}, nil
		},
		ResultQueue: ResultJobRequests,
		Policy:      fastPolicy(3),
	})
	startConsumer(t, c)

	publishBody(t, c, QueueJobRequests, map[string]any{"type": "code_execution_request", "id": "shut-1"})
	publishBody(t, c, QueueJobRequests, map[string]any{"type": "code_execution_request", "id": "shut-2"})

	waitFor(t, 5*time.Second, "both in flight", func() bool {
		return c.workers.Busy() == 2
	})

	if err := c.Stop(5 * time.Second); err != nil {
		t.Fatalf("graceful Stop: %v", err)
	}

	// Both accepted tasks finished and their results were published before
	// the substrate closed.
	results := readResults(t, c, ResultJobRequests, 10)
	if len(results) != 2 {
		t.Fatalf("expected 2 results after shutdown, got %d", len(results))
	}
	for _, res := range results {
		if res.Status != workflow.ResultStatusSuccess {
			t.Errorf("workflow %s: expected success, got %s", res.WorkflowID, res.Status)
		}
	}
}

func TestAbandonedTaskSurfacesOnStop(t *testing.T) {
	c := newTestComponent(t, map[string]any{"cancel_grace": "50ms"})
	testRoute(t, c, &dispatch.Entry{
		Queue:       QueueJobRequests,
		MessageType: dispatch.TypeCodeExecution,
		HandlerName: "wedged",
		Handler: func(_ context.Context, _ *dispatch.Request) (dispatch.Result, error) {
			time.Sleep(2 * time.Second) // ignores cancellation
			return dispatch.Result{}, nil
		},
		ResultQueue: ResultJobRequests,
		Policy: dispatch.Policy{
			MaxAttempts:       1,
			Timeout:           50 * time.Millisecond,
			BackoffBase:       time.Millisecond,
			BackoffMultiplier: 2.0,
			BackoffCap:        5 * time.Millisecond,
		},
	})
	startConsumer(t, c)

	publishBody(t, c, QueueJobRequests, map[string]any{"type": "code_execution_request", "id": "wedge-1"})

	waitFor(t, 5*time.Second, "abandonment failure", func() bool {
		return queueDepth(t, c, ResultJobRequests) == 1
	})

	res := readResults(t, c, ResultJobRequests, 10)[0]
	if res.Status != workflow.ResultStatusFailed {
		t.Fatalf("expected failed, got %s", res.Status)
	}
	if got := c.workers.Abandoned(); got != 1 {
		t.Errorf("expected 1 abandoned task, got %d", got)
	}

	err := c.Stop(3 * time.Second)
	if err == nil {
		t.Fatal("Stop must report abandoned work")
	}
	if !strings.Contains(err.Error(), "abandoned") {
		t.Errorf("expected abandonment in the error, got %v", err)
	}
}
