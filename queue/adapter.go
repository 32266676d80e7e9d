package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Adapter is the stateless facade the dispatcher works against. It decodes
// read messages into envelopes, keeps archive idempotent, and implements the
// dead-letter convention on top of the substrate's primitive operations.
type Adapter struct {
	substrate Substrate
	logger    *slog.Logger
}

// NewAdapter wraps a substrate.
func NewAdapter(substrate Substrate, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{substrate: substrate, logger: logger}
}

// Substrate exposes the wrapped substrate for capability checks.
func (a *Adapter) Substrate() Substrate {
	return a.substrate
}

// Read fetches up to max messages and decodes each into an envelope.
// Malformed bodies are returned with DecodeErr set rather than dropped, so
// the caller can dead-letter them.
func (a *Adapter) Read(ctx context.Context, queue string, max int, visibility time.Duration) ([]Envelope, error) {
	msgs, err := a.substrate.Read(ctx, queue, max, visibility)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", queue, err)
	}

	envelopes := make([]Envelope, 0, len(msgs))
	for _, msg := range msgs {
		envelopes = append(envelopes, Decode(msg))
	}
	return envelopes, nil
}

// Archive removes a consumed message. Idempotent per the substrate contract.
func (a *Adapter) Archive(ctx context.Context, queue, msgID string) error {
	if err := a.substrate.Archive(ctx, queue, msgID); err != nil {
		return fmt.Errorf("archive %s/%s: %w", queue, msgID, err)
	}
	return nil
}

// Publish sends a raw body to a queue.
func (a *Adapter) Publish(ctx context.Context, queue string, body []byte) (string, error) {
	id, err := a.substrate.Send(ctx, queue, body)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", queue, err)
	}
	return id, nil
}

// PublishJSON marshals v and sends it to a queue.
func (a *Adapter) PublishJSON(ctx context.Context, queue string, v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal for %s: %w", queue, err)
	}
	return a.Publish(ctx, queue, body)
}

// MoveToDLQ copies a message to its dead-letter queue with a reason
// annotation, then archives the source. The copy is the durable record;
// a failed archive after a successful copy is logged and absorbed, since
// the redelivered original collapses to the same dead-letter outcome.
func (a *Adapter) MoveToDLQ(ctx context.Context, queue, msgID, reason string, original []byte) error {
	body, err := json.Marshal(NewDLQBody(reason, original, msgID))
	if err != nil {
		return fmt.Errorf("marshal dlq body for %s/%s: %w", queue, msgID, err)
	}

	dlq := DLQName(queue)
	if _, err := a.substrate.Send(ctx, dlq, body); err != nil {
		return fmt.Errorf("publish to %s: %w", dlq, err)
	}

	if err := a.substrate.Archive(ctx, queue, msgID); err != nil {
		a.logger.Warn("dead-lettered message could not be archived from source",
			"queue", queue,
			"msg_id", msgID,
			"reason", reason,
			"error", err)
	}

	a.logger.Debug("message moved to dead-letter queue",
		"queue", queue,
		"dlq", dlq,
		"msg_id", msgID,
		"reason", reason)
	return nil
}

// Return makes an in-flight message deliverable again after delay.
func (a *Adapter) Return(ctx context.Context, queue, msgID string, delay time.Duration) error {
	if err := a.substrate.Return(ctx, queue, msgID, delay); err != nil {
		return fmt.Errorf("return %s/%s: %w", queue, msgID, err)
	}
	return nil
}

// Depth reports the backlog for a queue.
func (a *Adapter) Depth(ctx context.Context, queue string) (int64, error) {
	return a.substrate.Depth(ctx, queue)
}

// EnsureQueues provisions queues on substrates that need it, including each
// queue's dead-letter sibling. Substrates without explicit provisioning
// accept any queue name on first use.
func (a *Adapter) EnsureQueues(ctx context.Context, queues []string) error {
	creator, ok := a.substrate.(QueueCreator)
	if !ok {
		return nil
	}
	for _, q := range queues {
		if err := creator.EnsureQueue(ctx, q); err != nil {
			return fmt.Errorf("ensure queue %s: %w", q, err)
		}
		if err := creator.EnsureQueue(ctx, DLQName(q)); err != nil {
			return fmt.Errorf("ensure queue %s: %w", DLQName(q), err)
		}
	}
	return nil
}
