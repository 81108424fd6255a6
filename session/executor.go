package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-amqp/internal/rabbitmq"
	"github.com/glimte/mmate-amqp/internal/reliability"
)

// RunOp names executor runs in the errors they return
const RunOp = "interaction with AMQP channel"

// DefaultRetries is the number of retries after the first attempt
const DefaultRetries = 1

// Operation is one interaction with a session's channel
type Operation func(ctx context.Context, ch rabbitmq.Channel, exchange string) error

// Executor runs operations against sessions and rebuilds a session when an
// operation fails because of the transport
type Executor struct {
	registry *Registry
	policy   reliability.RetryPolicy
	breaker  *reliability.CircuitBreaker
	metrics  *reliability.ErrorMetrics
	logger   *slog.Logger
}

// ExecutorOption configures the executor
type ExecutorOption func(*Executor)

// WithRetries sets how many times a failed operation is retried, without
// delay between attempts
func WithRetries(retries int) ExecutorOption {
	return func(e *Executor) {
		if retries < 0 {
			retries = 0
		}
		e.policy = reliability.NewFixedDelay(0, retries)
	}
}

// WithRetryPolicy replaces the retry policy
func WithRetryPolicy(policy reliability.RetryPolicy) ExecutorOption {
	return func(e *Executor) {
		e.policy = policy
	}
}

// WithCircuitBreaker guards every attempt with cb
func WithCircuitBreaker(cb *reliability.CircuitBreaker) ExecutorOption {
	return func(e *Executor) {
		e.breaker = cb
	}
}

// WithExecutorLogger sets the logger
func WithExecutorLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor that replaces failed sessions in registry
func NewExecutor(registry *Registry, options ...ExecutorOption) *Executor {
	e := &Executor{
		registry: registry,
		policy:   reliability.NewFixedDelay(0, DefaultRetries),
		metrics:  reliability.NewErrorMetrics(),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(e)
	}

	return e
}

// Run calls op with the channel and exchange of the registry's session for
// s.Key(), or of s itself when the registry has none. A transient failure
// replaces that session and the next attempt runs on the replacement. Other
// failures are returned unchanged. When every attempt fails Run returns a
// *reliability.RetryError carrying the attempt count.
func (e *Executor) Run(ctx context.Context, s *Session, op Operation) error {
	if s == nil || op == nil {
		return fmt.Errorf("%w: session and operation are required", rabbitmq.ErrInvalidConfiguration)
	}

	key := s.Key()

	return reliability.Retry(ctx, RunOp, e.policy, func(attempt int) error {
		current := s
		if e.registry != nil {
			if fresh, ok := e.registry.Lookup(key); ok {
				current = fresh
			}
		}

		err := e.attempt(ctx, current, op)
		if err == nil {
			return nil
		}

		transient := rabbitmq.IsTransient(err)
		e.metrics.RecordError(err, transient)
		if !transient {
			e.logger.Error("operation failed",
				"key", key.String(),
				"attempt", attempt+1,
				"error", err,
			)
			return reliability.Permanent(err)
		}

		e.logger.Warn("transient failure, reconnecting",
			"key", key.String(),
			"session", current.ID(),
			"attempt", attempt+1,
			"error", err,
		)

		if e.registry != nil {
			replacement, rerr := e.registry.Replace(ctx, key, current)
			if rerr != nil {
				if errors.Is(rerr, ErrSessionNotFound) || rabbitmq.IsTransient(rerr) {
					return err
				}
				return reliability.Permanent(rerr)
			}
			if replacement != current {
				e.closeFailed(current)
			}
		}

		return err
	})
}

// closeFailed closes a session this run saw fail and superseded
func (e *Executor) closeFailed(s *Session) {
	if err := s.Close(); err != nil {
		e.logger.Warn("failed to close superseded session",
			"key", s.Key().String(),
			"session", s.ID(),
			"error", err,
		)
	}
}

// Metrics returns the failures seen so far
func (e *Executor) Metrics() reliability.ErrorMetricsSnapshot {
	return e.metrics.Snapshot()
}

func (e *Executor) attempt(ctx context.Context, s *Session, op Operation) error {
	if e.breaker == nil {
		return e.call(ctx, s, op)
	}
	return e.breaker.Execute(ctx, func() error {
		return e.call(ctx, s, op)
	})
}

func (e *Executor) call(ctx context.Context, s *Session, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in channel execution: %v", r)
		}
	}()

	return op(ctx, s.Channel(), s.Key().Exchange)
}
