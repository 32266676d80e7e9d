// Package workflowconsumer implements the dispatch core: it polls the three
// workflow queues, routes each message to its typed handler, enforces bounded
// parallelism with per-workflow mutual exclusion, and publishes one result
// envelope per terminal outcome. Retries ride the substrate's redelivery
// with exponential backoff; undeliverable messages land on _dlq siblings.
package workflowconsumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/pkg/retry"
	"github.com/google/uuid"

	"github.com/c360studio/evoq/approval"
	"github.com/c360studio/evoq/dispatch"
	"github.com/c360studio/evoq/metrics"
	"github.com/c360studio/evoq/pool"
	"github.com/c360studio/evoq/queue"
	"github.com/c360studio/evoq/workflow"
)

// Dead-letter reason annotations.
const (
	reasonInvalidMessage   = "invalid_message"
	reasonUnknownType      = "unknown_type"
	reasonRetriesExhausted = "retries_exhausted"
	reasonApprovalRejected = "approval_rejected"
	reasonAlreadyFailed    = "already_failed"
)

// completion carries a resolved handler outcome from its waiter goroutine to
// the drain loop, which owns all post-execution bookkeeping.
type completion struct {
	entry   *dispatch.Entry
	env     queue.Envelope
	attempt int
	outcome pool.Outcome
}

// Component implements the workflow-consumer processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	adapter   *queue.Adapter
	router    *dispatch.Router
	registry  *workflow.Registry
	approvals *approval.Service
	workers   *pool.Pool

	// substrate, when set before Start, overrides config-driven
	// construction so callers can share one substrate across components.
	substrate queue.Substrate

	// completions is closed by Stop once every waiter has forwarded its
	// outcome; drained closes when the drain loop has processed the rest.
	completions chan completion
	drained     chan struct{}
	readers     sync.WaitGroup
	waiters     sync.WaitGroup

	// drainCtx outlives the read context so accepted handlers finish and
	// their results publish during graceful shutdown.
	drainCtx  context.Context
	drainStop context.CancelFunc

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	messagesRead     atomic.Int64
	messagesArchived atomic.Int64
	messagesDLQ      atomic.Int64
	resultsPublished atomic.Int64
	decodeFailures   atomic.Int64
	retriesScheduled atomic.Int64
	workflowsFailed  atomic.Int64
	lastActivityMu   sync.RWMutex
	lastActivity     time.Time
}

// NewComponent creates a new workflow-consumer processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.Substrate == "" {
		config.Substrate = defaults.Substrate
	}
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.Workers == 0 {
		config.Workers = defaults.Workers
	}
	if config.PGMQMaxConns == 0 {
		config.PGMQMaxConns = config.Workers + 2
	}
	if config.BatchSize == 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.PollInterval == "" {
		config.PollInterval = defaults.PollInterval
	}
	if config.VisibilityTimeout == "" {
		config.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if config.CancelGrace == "" {
		config.CancelGrace = defaults.CancelGrace
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	router := dispatch.NewRouter()
	for _, entry := range Routes() {
		if err := router.Register(entry); err != nil {
			return nil, fmt.Errorf("register route: %w", err)
		}
	}

	return &Component{
		name:       "workflow-consumer",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		router:     router,
		registry:   workflow.GlobalRegistry(),
		approvals:  approval.Global(),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized workflow-consumer",
		"substrate", c.config.Substrate,
		"queues", c.router.Queues(),
		"workers", c.config.Workers,
		"batch_size", c.config.BatchSize)
	return nil
}

// Start builds the queue substrate and begins consuming all routed queues.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	substrate, err := c.buildSubstrate(subCtx)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("build %s substrate: %w", c.config.Substrate, err)
	}
	c.adapter = queue.NewAdapter(substrate, c.logger)

	ensureCtx, ensureCancel := context.WithTimeout(subCtx, 30*time.Second)
	err = retry.Do(ensureCtx, retry.DefaultConfig(), func() error {
		return c.adapter.EnsureQueues(ensureCtx, c.queueNames())
	})
	ensureCancel()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("ensure queues: %w", err)
	}

	c.workers = pool.New(c.config.Workers, c.logger)
	c.completions = make(chan completion, c.config.Workers*2)
	c.drained = make(chan struct{})
	c.drainCtx, c.drainStop = context.WithCancel(context.Background())

	go c.drainLoop()
	for _, queueName := range c.router.Queues() {
		c.readers.Add(1)
		go c.readLoop(subCtx, queueName)
	}

	c.logger.Info("workflow-consumer started",
		"substrate", c.config.Substrate,
		"queues", c.router.Queues(),
		"workers", c.config.Workers,
		"batch_size", c.config.BatchSize,
		"visibility", c.config.GetVisibilityTimeout())

	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
	if c.adapter != nil {
		_ = c.adapter.Substrate().Close()
		c.adapter = nil
	}
}

func (c *Component) buildSubstrate(ctx context.Context) (queue.Substrate, error) {
	if c.substrate != nil {
		return c.substrate, nil
	}
	switch c.config.Substrate {
	case "memory":
		return queue.NewMemorySubstrate(), nil
	case "pgmq":
		return queue.NewPGMQSubstrate(ctx, c.config.PGMQDSN, int32(c.config.PGMQMaxConns), c.logger)
	case "jetstream":
		if c.natsClient == nil {
			return nil, fmt.Errorf("NATS client required")
		}
		js, err := c.natsClient.JetStream()
		if err != nil {
			return nil, fmt.Errorf("get jetstream: %w", err)
		}
		return queue.NewJetStreamSubstrate(js, c.config.StreamName, c.logger), nil
	default:
		return nil, fmt.Errorf("unknown substrate %q", c.config.Substrate)
	}
}

// queueNames lists every queue the consumer touches, sources and results.
// Dead-letter siblings are provisioned alongside each.
func (c *Component) queueNames() []string {
	var names []string
	for _, e := range c.router.Entries() {
		names = append(names, e.Queue, e.ResultQueue)
	}
	return names
}

// readLoop polls one queue until the context ends. Dispatching blocks on the
// worker pool when all workers are busy, so a full batch drains in waves and
// the substrate's visibility window is the only read-side buffer.
func (c *Component) readLoop(ctx context.Context, queueName string) {
	defer c.readers.Done()

	visibility := c.config.GetVisibilityTimeout()
	interval := c.config.GetPollInterval()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		envs, err := c.adapter.Read(ctx, queueName, c.config.BatchSize, visibility)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("queue read failed", "queue", queueName, "error", err)
			c.sleep(ctx, interval)
			continue
		}

		for i := range envs {
			c.process(ctx, queueName, envs[i])
		}

		if len(envs) < c.config.BatchSize {
			if depth, derr := c.adapter.Depth(ctx, queueName); derr == nil {
				metrics.SetQueueDepth(queueName, depth)
			}
			c.sleep(ctx, interval)
		}
	}
}

func (c *Component) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// process runs one delivery through decode, routing, identity, approval, and
// hand-off to the worker pool. It blocks while all workers are busy.
func (c *Component) process(ctx context.Context, queueName string, env queue.Envelope) {
	c.messagesRead.Add(1)
	metrics.RecordMessageRead(queueName)
	c.updateLastActivity()

	if env.DecodeErr != nil {
		c.decodeFailures.Add(1)
		metrics.RecordDecodeFailure(queueName)
		c.logger.Warn("message failed to decode",
			"queue", queueName, "msg_id", env.Msg.ID, "error", env.DecodeErr)
		c.deadLetter(ctx, queueName, env, reasonInvalidMessage)
		return
	}

	entry, err := c.router.Lookup(queueName, env.Type)
	if err != nil {
		c.logger.Warn("no route for message",
			"queue", queueName, "type", env.Type, "msg_id", env.Msg.ID)
		c.deadLetter(ctx, queueName, env, reasonUnknownType)
		return
	}

	if env.WorkflowID == "" {
		// A body without an id still gets a workflow identity so its result
		// envelope is correlatable. Retried deliveries of such a message get
		// fresh ids and run as independent workflows.
		env.WorkflowID = uuid.New().String()
		c.logger.Debug("assigned workflow id",
			"queue", queueName, "type", env.Type, "msg_id", env.Msg.ID,
			"workflow_id", env.WorkflowID)
	}

	c.registry.CreateOrGet(env.WorkflowID, env.Type, queueName, workflow.PayloadDigest(env.Msg.Body))

	attempt, ok := c.registry.BeginAttempt(env.WorkflowID, env.Msg.ReadCount)
	if !ok {
		c.resolveDuplicate(ctx, queueName, env)
		return
	}

	if attempt > entry.Policy.MaxAttempts {
		// Delivery count outran the policy, which happens when a restart
		// loses in-memory state mid-retry. Converge to the terminal outcome
		// instead of granting extra executions.
		errInfo := dispatch.ErrorInfo{
			Kind:   dispatch.KindTransient,
			Detail: fmt.Sprintf("attempts exhausted after %d deliveries", attempt),
		}
		c.failWorkflow(ctx, entry, env, attempt, errInfo, reasonRetriesExhausted, 0)
		return
	}

	rec, _ := c.registry.Get(env.WorkflowID)
	approved := rec.Approved
	if !approved && env.ApprovalToken != "" {
		valid, reason := c.approvals.ValidateAndConsume(env.ApprovalToken, env.Type, env.WorkflowID)
		if !valid {
			metrics.RecordApprovalValidation(string(reason))
			errInfo := dispatch.ErrorInfo{
				Kind:   dispatch.KindPermanent,
				Detail: fmt.Sprintf("approval rejected: %s", reason),
			}
			c.failWorkflow(ctx, entry, env, attempt, errInfo, reasonApprovalRejected, 0)
			return
		}
		metrics.RecordApprovalValidation("ok")
		c.registry.MarkApproved(env.WorkflowID)
		approved = true
	}

	req := &dispatch.Request{
		WorkflowID: env.WorkflowID,
		Queue:      queueName,
		Type:       env.Type,
		Payload:    env.Body,
		DryRun:     env.DryRun,
		Approved:   approved,
		Attempt:    attempt,
	}
	handler := entry.Handler
	task := pool.Task{
		Name:    queueName + "/" + env.WorkflowID,
		Timeout: entry.Policy.Timeout,
		Grace:   c.config.GetCancelGrace(),
		Run: func(runCtx context.Context) (dispatch.Result, error) {
			return handler(runCtx, req)
		},
	}

	// Submit under drainCtx, not the read context: a task accepted before
	// shutdown must run to completion, and its handler context descends from
	// the submit context.
	fut, err := c.workers.Submit(c.drainCtx, task)
	if err != nil {
		// Never accepted; re-arm so the next delivery starts fresh.
		if terr := c.registry.Transition(env.WorkflowID, workflow.StatusRunning, workflow.StatusPending, nil); terr != nil {
			c.logger.Warn("failed to re-arm workflow after rejected submit",
				"workflow_id", env.WorkflowID, "error", terr)
		}
		return
	}
	metrics.SetWorkerPoolBusy(int(c.workers.Busy()))

	c.waiters.Add(1)
	go func() {
		defer c.waiters.Done()
		out, _ := fut.Wait(context.Background())
		c.completions <- completion{entry: entry, env: env, attempt: attempt, outcome: out}
	}()
}

// resolveDuplicate handles a delivery for a workflow id that could not claim
// an attempt: completed ids collapse by archiving, failed ids pin their
// outcome on the DLQ, and in-flight ids are left to redeliver after the
// visibility window in case the running attempt loses.
func (c *Component) resolveDuplicate(ctx context.Context, queueName string, env queue.Envelope) {
	rec, ok := c.registry.Get(env.WorkflowID)
	if !ok {
		// Evicted between claim and lookup; the next delivery recreates it.
		return
	}
	switch rec.Status {
	case workflow.StatusCompleted:
		c.logger.Debug("duplicate delivery of completed workflow",
			"workflow_id", env.WorkflowID, "queue", queueName, "msg_id", env.Msg.ID)
		c.archive(ctx, queueName, env.Msg.ID)
	case workflow.StatusFailed:
		c.logger.Debug("duplicate delivery of failed workflow",
			"workflow_id", env.WorkflowID, "queue", queueName, "msg_id", env.Msg.ID)
		c.deadLetter(ctx, queueName, env, reasonAlreadyFailed)
	default:
		c.logger.Debug("workflow attempt already in flight, skipping delivery",
			"workflow_id", env.WorkflowID, "queue", queueName, "msg_id", env.Msg.ID)
	}
}

// drainLoop serializes post-execution bookkeeping: registry transitions,
// result publication, and archive/DLQ/retry decisions.
func (c *Component) drainLoop() {
	defer close(c.drained)
	for comp := range c.completions {
		c.finish(comp)
	}
}

func (c *Component) finish(comp completion) {
	queueName := comp.entry.Queue
	metrics.SetWorkerPoolBusy(int(c.workers.Busy()))
	metrics.RecordHandlerDuration(queueName, comp.entry.HandlerName, comp.outcome.Elapsed)
	c.updateLastActivity()

	if comp.outcome.Err == nil {
		c.completeWorkflow(c.drainCtx, comp)
		return
	}

	if comp.outcome.Abandoned {
		metrics.RecordTaskAbandoned()
	}

	errInfo := dispatch.InfoOf(comp.outcome.Err)
	if errInfo.Kind == dispatch.KindTransient && comp.attempt < comp.entry.Policy.MaxAttempts {
		c.retryWorkflow(c.drainCtx, comp, errInfo)
		return
	}

	reason := string(errInfo.Kind)
	if errInfo.Kind == dispatch.KindTransient {
		reason = reasonRetriesExhausted
	}
	c.failWorkflow(c.drainCtx, comp.entry, comp.env, comp.attempt, errInfo, reason, comp.outcome.Elapsed)
}

func (c *Component) completeWorkflow(ctx context.Context, comp completion) {
	id := comp.env.WorkflowID
	queueName := comp.entry.Queue

	if err := c.registry.Transition(id, workflow.StatusRunning, workflow.StatusCompleted, nil); err != nil {
		c.logger.Warn("completion transition failed", "workflow_id", id, "error", err)
	}
	result := workflow.NewSuccessResult(id, queueName, comp.outcome.Result, comp.attempt, comp.outcome.Elapsed)
	c.publishResult(ctx, comp.entry.ResultQueue, result, workflow.ResultStatusSuccess)
	c.archive(ctx, queueName, comp.env.Msg.ID)

	c.logger.Info("workflow completed",
		"workflow_id", id,
		"queue", queueName,
		"attempts", comp.attempt,
		"elapsed", comp.outcome.Elapsed)
}

// retryWorkflow re-arms the registry record and returns the message to its
// queue with exponential backoff. No result envelope until the outcome is
// terminal.
func (c *Component) retryWorkflow(ctx context.Context, comp completion, errInfo dispatch.ErrorInfo) {
	id := comp.env.WorkflowID
	queueName := comp.entry.Queue

	if err := c.registry.Transition(id, workflow.StatusRunning, workflow.StatusPending, &errInfo); err != nil {
		c.logger.Warn("retry transition failed", "workflow_id", id, "error", err)
	}

	delay := comp.entry.Policy.BackoffFor(comp.attempt)
	if err := c.adapter.Return(ctx, queueName, comp.env.Msg.ID, delay); err != nil {
		c.logger.Warn("failed to schedule retry, visibility expiry will redeliver",
			"workflow_id", id, "msg_id", comp.env.Msg.ID, "error", err)
	}
	c.retriesScheduled.Add(1)
	metrics.RecordRetryAttempt(queueName)

	c.logger.Info("workflow attempt failed, retry scheduled",
		"workflow_id", id,
		"queue", queueName,
		"attempt", comp.attempt,
		"max_attempts", comp.entry.Policy.MaxAttempts,
		"delay", delay,
		"error", errInfo.Detail)
}

func (c *Component) failWorkflow(ctx context.Context, entry *dispatch.Entry, env queue.Envelope, attempt int, errInfo dispatch.ErrorInfo, reason string, elapsed time.Duration) {
	id := env.WorkflowID
	queueName := entry.Queue

	if err := c.registry.Transition(id, workflow.StatusRunning, workflow.StatusFailed, &errInfo); err != nil {
		c.logger.Warn("failure transition failed", "workflow_id", id, "error", err)
	}
	result := workflow.NewFailureResult(id, queueName, errInfo, attempt, elapsed)
	c.publishResult(ctx, entry.ResultQueue, result, workflow.ResultStatusFailed)
	c.deadLetter(ctx, queueName, env, reason)
	c.workflowsFailed.Add(1)

	c.logger.Warn("workflow failed",
		"workflow_id", id,
		"queue", queueName,
		"attempts", attempt,
		"kind", errInfo.Kind,
		"reason", reason,
		"error", errInfo.Detail)
}

func (c *Component) publishResult(ctx context.Context, resultQueue string, result *workflow.ResultEnvelope, status string) {
	pubCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := retry.Do(pubCtx, retry.DefaultConfig(), func() error {
		_, perr := c.adapter.PublishJSON(pubCtx, resultQueue, result)
		return perr
	})
	if err != nil {
		c.logger.Error("failed to publish result envelope",
			"queue", resultQueue, "workflow_id", result.WorkflowID, "error", err)
		return
	}
	c.resultsPublished.Add(1)
	metrics.RecordResultPublished(resultQueue, status)
}

func (c *Component) deadLetter(ctx context.Context, queueName string, env queue.Envelope, reason string) {
	if err := c.adapter.MoveToDLQ(ctx, queueName, env.Msg.ID, reason, env.Msg.Body); err != nil {
		c.logger.Error("failed to dead-letter message",
			"queue", queueName, "msg_id", env.Msg.ID, "reason", reason, "error", err)
		return
	}
	c.messagesDLQ.Add(1)
	metrics.RecordDLQMessage(queueName, reason)
}

func (c *Component) archive(ctx context.Context, queueName, msgID string) {
	if err := c.adapter.Archive(ctx, queueName, msgID); err != nil {
		c.logger.Warn("archive failed, message may redeliver",
			"queue", queueName, "msg_id", msgID, "error", err)
		return
	}
	c.messagesArchived.Add(1)
	metrics.RecordMessageArchived(queueName)
}

// Stop drains gracefully: readers stop taking new work, accepted handlers
// run to completion within the deadline, and every resolved outcome is
// published before the substrate closes. A non-nil error means work was
// abandoned or unpublished and redelivery has to cover it.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	deadline := time.Now().Add(timeout)

	var poolErr error
	if c.workers != nil {
		poolErr = c.workers.Stop(time.Until(deadline))
	}

	var drainErr error
	if !waitGroupTimeout(&c.readers, time.Until(deadline)) {
		drainErr = fmt.Errorf("queue readers did not stop within %s", timeout)
	} else if !waitGroupTimeout(&c.waiters, time.Until(deadline)) {
		drainErr = fmt.Errorf("in-flight completions did not resolve within %s", timeout)
	} else if c.completions != nil {
		close(c.completions)
		select {
		case <-c.drained:
		case <-time.After(time.Until(deadline)):
			drainErr = fmt.Errorf("result drain did not finish within %s", timeout)
		}
	}

	if c.drainStop != nil {
		c.drainStop()
	}
	if c.adapter != nil {
		if err := c.adapter.Substrate().Close(); err != nil {
			c.logger.Warn("substrate close failed", "error", err)
		}
	}

	byStatus := make(map[workflow.Status]int)
	for _, s := range c.registry.Snapshot() {
		byStatus[s.Status]++
	}
	c.logger.Info("workflow registry at shutdown",
		"pending", byStatus[workflow.StatusPending],
		"running", byStatus[workflow.StatusRunning],
		"completed", byStatus[workflow.StatusCompleted],
		"failed", byStatus[workflow.StatusFailed])

	abandoned := int64(0)
	if c.workers != nil {
		abandoned = c.workers.Abandoned()
	}
	c.logger.Info("workflow-consumer stopped",
		"messages_read", c.messagesRead.Load(),
		"messages_archived", c.messagesArchived.Load(),
		"messages_dlq", c.messagesDLQ.Load(),
		"results_published", c.resultsPublished.Load(),
		"retries_scheduled", c.retriesScheduled.Load(),
		"workflows_failed", c.workflowsFailed.Load(),
		"abandoned", abandoned)

	if poolErr != nil {
		return fmt.Errorf("worker pool stop: %w", poolErr)
	}
	return drainErr
}

// waitGroupTimeout waits for wg up to d, reporting whether it finished.
func waitGroupTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "workflow-consumer",
		Type:        "processor",
		Description: "Dispatches queued workflow messages to typed handlers with retries, approval gating, and dead-lettering",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return workflowConsumerSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.workflowsFailed.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastActivity(),
	}
}

// IsRunning returns whether the component is running.
func (c *Component) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
