// Package metrics holds the Prometheus instruments for the dispatcher.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message flow metrics
	messagesReadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evoq_messages_read_total",
			Help: "Total number of messages read from source queues",
		},
		[]string{"queue"},
	)

	messagesArchivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evoq_messages_archived_total",
			Help: "Total number of messages archived after processing",
		},
		[]string{"queue"},
	)

	messagesDLQTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evoq_messages_dlq_total",
			Help: "Total number of messages moved to dead-letter queues",
		},
		[]string{"queue", "reason"},
	)

	resultsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evoq_results_published_total",
			Help: "Total number of result envelopes published",
		},
		[]string{"queue", "status"},
	)

	decodeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evoq_decode_failures_total",
			Help: "Total number of message bodies that failed to decode",
		},
		[]string{"queue"},
	)

	// Retry metrics
	retryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evoq_retry_attempts_total",
			Help: "Total number of redeliveries scheduled after transient failures",
		},
		[]string{"queue"},
	)

	// Handler metrics
	handlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evoq_handler_duration_seconds",
			Help:    "Handler execution duration in seconds per routing entry",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"queue", "handler"},
	)

	// Queue depth, set when the substrate exposes it
	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evoq_queue_depth",
			Help: "Messages waiting in a source queue",
		},
		[]string{"queue"},
	)

	// Approval metrics
	approvalsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evoq_approvals_issued_total",
			Help: "Total number of approval tokens issued",
		},
	)

	approvalValidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evoq_approval_validations_total",
			Help: "Total number of approval validations by outcome",
		},
		[]string{"outcome"},
	)

	approvalTokensActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evoq_approval_tokens_active",
			Help: "Approval tokens currently held, consumed ones included until GC",
		},
	)

	// Worker pool metrics
	workerPoolBusy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evoq_worker_pool_busy",
			Help: "Workers currently executing a task",
		},
	)

	tasksAbandonedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evoq_tasks_abandoned_total",
			Help: "Total number of tasks abandoned after overrunning timeout plus grace",
		},
	)

	// Workflow registry metrics
	workflowsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "evoq_workflows",
			Help: "Workflow records in the registry by status",
		},
		[]string{"status"},
	)
)

// RecordMessageRead records a message read from a source queue
func RecordMessageRead(queue string) {
	messagesReadTotal.WithLabelValues(queue).Inc()
}

// RecordMessageArchived records a message archived after processing
func RecordMessageArchived(queue string) {
	messagesArchivedTotal.WithLabelValues(queue).Inc()
}

// RecordDLQMessage records a message moved to a dead-letter queue
func RecordDLQMessage(queue, reason string) {
	messagesDLQTotal.WithLabelValues(queue, reason).Inc()
}

// RecordResultPublished records a published result envelope
func RecordResultPublished(queue, status string) {
	resultsPublishedTotal.WithLabelValues(queue, status).Inc()
}

// RecordDecodeFailure records a message body that failed to decode
func RecordDecodeFailure(queue string) {
	decodeFailuresTotal.WithLabelValues(queue).Inc()
}

// RecordRetryAttempt records a redelivery scheduled after a transient failure
func RecordRetryAttempt(queue string) {
	retryAttemptsTotal.WithLabelValues(queue).Inc()
}

// RecordHandlerDuration records one handler execution
func RecordHandlerDuration(queue, handler string, duration time.Duration) {
	handlerDuration.WithLabelValues(queue, handler).Observe(duration.Seconds())
}

// SetQueueDepth sets the observed depth of a source queue
func SetQueueDepth(queue string, depth int64) {
	queueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordApprovalIssued records an issued approval token
func RecordApprovalIssued() {
	approvalsIssuedTotal.Inc()
}

// RecordApprovalValidation records a validation outcome ("ok" or the
// rejection reason)
func RecordApprovalValidation(outcome string) {
	approvalValidationsTotal.WithLabelValues(outcome).Inc()
}

// SetApprovalTokensActive sets the number of tokens currently held
func SetApprovalTokensActive(count int) {
	approvalTokensActive.Set(float64(count))
}

// SetWorkerPoolBusy sets the number of busy workers
func SetWorkerPoolBusy(count int) {
	workerPoolBusy.Set(float64(count))
}

// RecordTaskAbandoned records a task abandoned past timeout plus grace
func RecordTaskAbandoned() {
	tasksAbandonedTotal.Inc()
}

// SetWorkflowsByStatus sets the registry gauge for one status
func SetWorkflowsByStatus(status string, count int) {
	workflowsByStatus.WithLabelValues(status).Set(float64(count))
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
