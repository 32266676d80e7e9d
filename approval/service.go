// Package approval issues and validates one-shot approval tokens for
// workflows whose side effects require explicit sign-off. A token is bound
// to a subject, expires after a TTL, and can be consumed exactly once.
package approval

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default token lifetime and the grace period expired tokens remain
// inspectable before garbage collection removes them.
const (
	DefaultTTL   = 60 * time.Second
	DefaultGrace = 30 * time.Second
)

// Reason explains why validation rejected a token.
type Reason string

const (
	ReasonUnknown         Reason = "unknown"
	ReasonExpired         Reason = "expired"
	ReasonAlreadyConsumed Reason = "already_consumed"
	ReasonSubjectMismatch Reason = "subject_mismatch"
)

// Token is an issued approval grant.
type Token struct {
	Token       string    `json:"token"`
	SubjectKind string    `json:"subject_kind"`
	SubjectID   string    `json:"subject_id"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Consumed    bool      `json:"consumed"`
	ConsumedAt  time.Time `json:"consumed_at,omitempty"`
}

// Service is the in-process token table. All operations are safe for
// concurrent use; consumption is atomic, so exactly one of N concurrent
// validations of the same token succeeds.
type Service struct {
	mu     sync.Mutex
	tokens map[string]*Token
	ttl    time.Duration
	grace  time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithTTL overrides the default token lifetime.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithGrace overrides how long expired tokens linger before Sweep removes
// them.
func WithGrace(grace time.Duration) ServiceOption {
	return func(s *Service) {
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// NewService creates an empty token table.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		tokens: make(map[string]*Token),
		ttl:    DefaultTTL,
		grace:  DefaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue mints a token bound to a subject, valid for the service TTL.
func (s *Service) Issue(subjectKind, subjectID string) Token {
	return s.IssueWithTTL(subjectKind, subjectID, s.ttl)
}

// IssueWithTTL mints a token with an explicit lifetime.
func (s *Service) IssueWithTTL(subjectKind, subjectID string, ttl time.Duration) Token {
	now := time.Now()
	tok := &Token{
		Token:       uuid.New().String(),
		SubjectKind: subjectKind,
		SubjectID:   subjectID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}

	s.mu.Lock()
	s.tokens[tok.Token] = tok
	s.mu.Unlock()

	return *tok
}

// ValidateAndConsume checks a token against a subject and consumes it on
// success. The check and the consumption happen atomically. Expiry is
// checked before consumption state, and a subject mismatch does not consume
// the token.
func (s *Service) ValidateAndConsume(token, subjectKind, subjectID string) (bool, Reason) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[token]
	if !ok {
		return false, ReasonUnknown
	}
	if !now.Before(tok.ExpiresAt) {
		return false, ReasonExpired
	}
	if tok.Consumed {
		return false, ReasonAlreadyConsumed
	}
	if tok.SubjectKind != subjectKind || tok.SubjectID != subjectID {
		return false, ReasonSubjectMismatch
	}

	tok.Consumed = true
	tok.ConsumedAt = now
	return true, ""
}

// Sweep removes tokens whose expiry lies more than the grace period in the
// past and returns how many were removed. Consumed tokens follow the same
// rule, so recent outcomes stay inspectable.
func (s *Service) Sweep() int {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, tok := range s.tokens {
		if now.After(tok.ExpiresAt.Add(s.grace)) {
			delete(s.tokens, key)
			removed++
		}
	}
	return removed
}

// Len reports how many tokens the table currently holds.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
