package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c360studio/evoq/dispatch"
)

// PGMQSubstrate speaks to a Postgres instance running the pgmq extension.
// Reads take a visibility timeout, archive moves to the archive table, and
// set_vt implements delayed redelivery.
type PGMQSubstrate struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPGMQSubstrate connects a pool sized for the worker count and verifies
// the server is reachable.
func NewPGMQSubstrate(ctx context.Context, dsn string, maxConns int32, logger *slog.Logger) (*PGMQSubstrate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGMQSubstrate{pool: pool, logger: logger}, nil
}

// classifyPG wraps a pgx error with a retryability kind. Connection loss,
// resource exhaustion, and transaction races retry; everything else is a
// hard failure.
func classifyPG(op string, err error) error {
	wrapped := fmt.Errorf("%s: %w", op, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dispatch.NewTransientError(wrapped)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), // connection exceptions
			strings.HasPrefix(pgErr.Code, "53"), // insufficient resources
			strings.HasPrefix(pgErr.Code, "57"), // operator intervention
			strings.HasPrefix(pgErr.Code, "40"): // rollback, serialization
			return dispatch.NewTransientError(wrapped)
		}
		return dispatch.NewPermanentError(wrapped)
	}
	// Network-level failures surface as plain errors from pgx.
	return dispatch.NewTransientError(wrapped)
}

func vtSeconds(visibility time.Duration) int {
	secs := int(visibility / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Read pulls up to max messages, making them invisible for the visibility
// window.
func (s *PGMQSubstrate) Read(ctx context.Context, queue string, max int, visibility time.Duration) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT msg_id, read_ct, message FROM pgmq.read($1, $2, $3)`,
		queue, vtSeconds(visibility), max)
	if err != nil {
		return nil, classifyPG("pgmq.read "+queue, err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			msgID  int64
			readCt int
			body   []byte
		)
		if err := rows.Scan(&msgID, &readCt, &body); err != nil {
			return nil, classifyPG("scan pgmq.read "+queue, err)
		}
		out = append(out, Message{
			ID:        strconv.FormatInt(msgID, 10),
			Queue:     queue,
			Body:      body,
			ReadCount: readCt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG("pgmq.read "+queue, err)
	}
	return out, nil
}

// Archive moves a message to the queue's archive table. Unknown ids succeed
// so a crashed archive can be replayed.
func (s *PGMQSubstrate) Archive(ctx context.Context, queue, msgID string) error {
	id, err := strconv.ParseInt(msgID, 10, 64)
	if err != nil {
		return dispatch.NewPermanentError(fmt.Errorf("archive %s: bad msg id %q", queue, msgID))
	}
	var archived bool
	err = s.pool.QueryRow(ctx, `SELECT pgmq.archive($1, $2::bigint)`, queue, id).Scan(&archived)
	if err != nil {
		return classifyPG("pgmq.archive "+queue, err)
	}
	if !archived {
		s.logger.Debug("archive of unknown message", "queue", queue, "msg_id", msgID)
	}
	return nil
}

// Send appends a message to the queue.
func (s *PGMQSubstrate) Send(ctx context.Context, queue string, body []byte) (string, error) {
	var msgID int64
	err := s.pool.QueryRow(ctx, `SELECT pgmq.send($1, $2::jsonb)`, queue, body).Scan(&msgID)
	if err != nil {
		return "", classifyPG("pgmq.send "+queue, err)
	}
	return strconv.FormatInt(msgID, 10), nil
}

// Return reschedules an in-flight message by moving its visibility forward.
func (s *PGMQSubstrate) Return(ctx context.Context, queue, msgID string, delay time.Duration) error {
	id, err := strconv.ParseInt(msgID, 10, 64)
	if err != nil {
		return dispatch.NewPermanentError(fmt.Errorf("return %s: bad msg id %q", queue, msgID))
	}
	var got int64
	err = s.pool.QueryRow(ctx,
		`SELECT msg_id FROM pgmq.set_vt($1, $2::bigint, $3)`,
		queue, id, vtSeconds(delay)).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		// Message archived or expired out from under us.
		return nil
	}
	if err != nil {
		return classifyPG("pgmq.set_vt "+queue, err)
	}
	return nil
}

// Depth reports unarchived messages in the queue.
func (s *PGMQSubstrate) Depth(ctx context.Context, queue string) (int64, error) {
	var length int64
	err := s.pool.QueryRow(ctx, `SELECT queue_length FROM pgmq.metrics($1)`, queue).Scan(&length)
	if err != nil {
		return 0, classifyPG("pgmq.metrics "+queue, err)
	}
	return length, nil
}

// EnsureQueue creates the queue if it does not exist. pgmq.create is
// idempotent.
func (s *PGMQSubstrate) EnsureQueue(ctx context.Context, queue string) error {
	if _, err := s.pool.Exec(ctx, `SELECT pgmq.create($1)`, queue); err != nil {
		return classifyPG("pgmq.create "+queue, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PGMQSubstrate) Close() error {
	s.pool.Close()
	return nil
}
