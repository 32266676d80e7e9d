package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemorySubstrate is an in-process substrate with real visibility timeout
// semantics. It backs tests and local single-process runs; durability ends
// with the process.
type MemorySubstrate struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
	nextID int64
}

type memoryQueue struct {
	messages []*memoryMessage
}

type memoryMessage struct {
	id        string
	body      []byte
	readCount int
	visibleAt time.Time
	archived  bool
}

// NewMemorySubstrate creates an empty in-memory substrate.
func NewMemorySubstrate() *MemorySubstrate {
	return &MemorySubstrate{queues: make(map[string]*memoryQueue)}
}

func (m *MemorySubstrate) queue(name string) *memoryQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memoryQueue{}
		m.queues[name] = q
	}
	return q
}

// Read returns up to max deliverable messages, hiding each for the
// visibility window and bumping its delivery count.
func (m *MemorySubstrate) Read(ctx context.Context, queue string, max int, visibility time.Duration) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	q := m.queue(queue)

	var out []Message
	for _, msg := range q.messages {
		if len(out) >= max {
			break
		}
		if msg.archived || msg.visibleAt.After(now) {
			continue
		}
		msg.readCount++
		msg.visibleAt = now.Add(visibility)
		body := make([]byte, len(msg.body))
		copy(body, msg.body)
		out = append(out, Message{
			ID:        msg.id,
			Queue:     queue,
			Body:      body,
			ReadCount: msg.readCount,
		})
	}
	return out, nil
}

// Archive marks a message as permanently consumed. Unknown and
// already-archived ids succeed.
func (m *MemorySubstrate) Archive(ctx context.Context, queue, msgID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.queue(queue).messages {
		if msg.id == msgID {
			msg.archived = true
			return nil
		}
	}
	return nil
}

// Send appends a message to the queue, immediately deliverable.
func (m *MemorySubstrate) Send(ctx context.Context, queue string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	id := strconv.FormatInt(m.nextID, 10)
	stored := make([]byte, len(body))
	copy(stored, body)
	m.queue(queue).messages = append(m.queue(queue).messages, &memoryMessage{
		id:        id,
		body:      stored,
		visibleAt: time.Now(),
	})
	return id, nil
}

// Return makes an in-flight message deliverable again after delay.
func (m *MemorySubstrate) Return(ctx context.Context, queue, msgID string, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, msg := range m.queue(queue).messages {
		if msg.id == msgID && !msg.archived {
			msg.visibleAt = time.Now().Add(delay)
			return nil
		}
	}
	return nil
}

// Depth counts unarchived messages, whether deliverable or in flight.
func (m *MemorySubstrate) Depth(ctx context.Context, queue string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, msg := range m.queue(queue).messages {
		if !msg.archived {
			n++
		}
	}
	return n, nil
}

// Close is a no-op for the in-memory substrate.
func (m *MemorySubstrate) Close() error {
	return nil
}
