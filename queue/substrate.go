// Package queue presents a uniform operation set over durable queue
// substrates: JetStream in production, PGMQ over Postgres, and an in-memory
// implementation for tests and local development. All substrates share
// visibility-timeout semantics: a read message is hidden from other readers
// until archived, returned, or the visibility window lapses.
package queue

import (
	"context"
	"time"
)

// Message is the raw unit a substrate returns from Read.
type Message struct {
	// ID is substrate-assigned and stable for the message's lifetime.
	ID string
	// Queue is the logical queue the message was read from.
	Queue string
	// Body is the message payload as published.
	Body []byte
	// ReadCount is the substrate's delivery count for this message,
	// 0 when the substrate cannot report one.
	ReadCount int
}

// Substrate is the minimal durable queue operation set.
type Substrate interface {
	// Read returns up to max messages from queue, hiding them from other
	// readers for the visibility window. An empty slice means the queue
	// has nothing deliverable right now.
	Read(ctx context.Context, queue string, max int, visibility time.Duration) ([]Message, error)

	// Archive permanently removes a message from its queue. Idempotent:
	// archiving an id that is already gone is a no-op success.
	Archive(ctx context.Context, queue, msgID string) error

	// Send publishes a message body to queue, at-least-once.
	Send(ctx context.Context, queue string, body []byte) (string, error)

	// Return makes an in-flight message deliverable again after delay,
	// overriding the remaining visibility window. Used for retry backoff.
	Return(ctx context.Context, queue, msgID string, delay time.Duration) error

	// Depth reports how many messages are waiting or in flight on queue.
	Depth(ctx context.Context, queue string) (int64, error)

	// Close releases substrate resources.
	Close() error
}

// QueueCreator is implemented by substrates that require explicit queue
// provisioning before use. The consumer ensures its queues at startup when
// the substrate supports it.
type QueueCreator interface {
	EnsureQueue(ctx context.Context, queue string) error
}

// DLQName returns the dead-letter sibling for a queue.
func DLQName(queue string) string {
	return queue + "_dlq"
}
