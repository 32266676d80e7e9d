package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/evoq/dispatch"
)

// jetStreamFetchWait bounds how long an empty Read blocks before returning.
const jetStreamFetchWait = 5 * time.Second

// JetStreamSubstrate maps the substrate contract onto a JetStream stream.
// Queue X lives on subject q.X inside one stream; each queue gets a durable
// pull consumer whose AckWait is the visibility window. Archive acks,
// Return naks with delay, and the stream sequence is the message id.
type JetStreamSubstrate struct {
	js         jetstream.JetStream
	streamName string
	logger     *slog.Logger

	mu        sync.Mutex
	stream    jetstream.Stream
	consumers map[string]jetstream.Consumer
	inflight  map[string]jetstream.Msg
}

// NewJetStreamSubstrate creates a substrate over an existing stream. The
// stream itself is provisioned by the platform's streams manager at boot.
func NewJetStreamSubstrate(js jetstream.JetStream, streamName string, logger *slog.Logger) *JetStreamSubstrate {
	if logger == nil {
		logger = slog.Default()
	}
	return &JetStreamSubstrate{
		js:         js,
		streamName: streamName,
		logger:     logger,
		consumers:  make(map[string]jetstream.Consumer),
		inflight:   make(map[string]jetstream.Msg),
	}
}

// SubjectFor returns the stream subject carrying a queue.
func SubjectFor(queue string) string {
	return "q." + queue
}

func inflightKey(queue, msgID string) string {
	return queue + "/" + msgID
}

func (s *JetStreamSubstrate) ensureConsumer(ctx context.Context, queue string, visibility time.Duration) (jetstream.Consumer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if consumer, ok := s.consumers[queue]; ok {
		return consumer, nil
	}

	if s.stream == nil {
		stream, err := s.js.Stream(ctx, s.streamName)
		if err != nil {
			return nil, fmt.Errorf("get stream %s: %w", s.streamName, err)
		}
		s.stream = stream
	}

	consumer, err := s.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       "evoq_" + queue,
		FilterSubject: SubjectFor(queue),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       visibility,
		MaxDeliver:    -1, // attempt limits are dispatcher policy, not substrate policy
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer for %s: %w", queue, err)
	}
	s.consumers[queue] = consumer
	return consumer, nil
}

// Read fetches up to max messages from the queue's durable consumer. The
// call long-polls briefly when the queue is empty.
func (s *JetStreamSubstrate) Read(ctx context.Context, queue string, max int, visibility time.Duration) ([]Message, error) {
	consumer, err := s.ensureConsumer(ctx, queue, visibility)
	if err != nil {
		return nil, dispatch.NewTransientError(err)
	}

	batch, err := consumer.Fetch(max, jetstream.FetchMaxWait(jetStreamFetchWait))
	if err != nil {
		return nil, dispatch.NewTransientError(fmt.Errorf("fetch from %s: %w", queue, err))
	}

	var out []Message
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			// A message without metadata cannot be tracked; leave it
			// unacked for redelivery.
			s.logger.Warn("message metadata unavailable", "queue", queue, "error", err)
			continue
		}
		id := strconv.FormatUint(meta.Sequence.Stream, 10)

		s.mu.Lock()
		s.inflight[inflightKey(queue, id)] = msg
		s.mu.Unlock()

		out = append(out, Message{
			ID:        id,
			Queue:     queue,
			Body:      msg.Data(),
			ReadCount: int(meta.NumDelivered),
		})
	}

	if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("message fetch error", "queue", queue, "error", err)
	}
	return out, nil
}

// Archive acks the in-flight message. Already-acked and unknown ids succeed:
// after a restart the handle is gone and the redelivered copy converges to
// the same outcome.
func (s *JetStreamSubstrate) Archive(ctx context.Context, queue, msgID string) error {
	key := inflightKey(queue, msgID)

	s.mu.Lock()
	msg, ok := s.inflight[key]
	delete(s.inflight, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	if err := msg.Ack(); err != nil && !errors.Is(err, jetstream.ErrMsgAlreadyAckd) {
		return dispatch.NewTransientError(fmt.Errorf("ack %s/%s: %w", queue, msgID, err))
	}
	return nil
}

// Send publishes a body onto the queue's subject.
func (s *JetStreamSubstrate) Send(ctx context.Context, queue string, body []byte) (string, error) {
	ack, err := s.js.Publish(ctx, SubjectFor(queue), body)
	if err != nil {
		return "", dispatch.NewTransientError(fmt.Errorf("publish to %s: %w", queue, err))
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// Return naks the in-flight message with a redelivery delay.
func (s *JetStreamSubstrate) Return(ctx context.Context, queue, msgID string, delay time.Duration) error {
	key := inflightKey(queue, msgID)

	s.mu.Lock()
	msg, ok := s.inflight[key]
	delete(s.inflight, key)
	s.mu.Unlock()

	if !ok {
		// Visibility expiry already returned it.
		return nil
	}
	if err := msg.NakWithDelay(delay); err != nil {
		return dispatch.NewTransientError(fmt.Errorf("nak %s/%s: %w", queue, msgID, err))
	}
	return nil
}

// Depth reports undelivered plus in-flight messages for queues that have a
// consumer. Queues this process only publishes to report an error.
func (s *JetStreamSubstrate) Depth(ctx context.Context, queue string) (int64, error) {
	s.mu.Lock()
	consumer, ok := s.consumers[queue]
	s.mu.Unlock()

	if !ok {
		return 0, fmt.Errorf("no consumer for queue %s", queue)
	}
	info, err := consumer.Info(ctx)
	if err != nil {
		return 0, dispatch.NewTransientError(fmt.Errorf("consumer info for %s: %w", queue, err))
	}
	return int64(info.NumPending) + int64(info.NumAckPending), nil
}

// Close drops in-flight handles; unacked messages redeliver after AckWait.
func (s *JetStreamSubstrate) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = make(map[string]jetstream.Msg)
	return nil
}
