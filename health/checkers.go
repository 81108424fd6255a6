package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-amqp/internal/rabbitmq"
	"github.com/glimte/mmate-amqp/session"
)

// SessionChecker checks that every cached session still has an open
// connection and channel
type SessionChecker struct {
	registry *session.Registry
	logger   *slog.Logger
}

// NewSessionChecker creates a checker over the registry's sessions
func NewSessionChecker(registry *session.Registry, logger *slog.Logger) *SessionChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionChecker{
		registry: registry,
		logger:   logger,
	}
}

func (c *SessionChecker) Name() string {
	return "sessions"
}

func (c *SessionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	sessions := c.registry.Sessions()
	result.Details["sessions"] = len(sessions)

	closed := 0
	for _, s := range sessions {
		state := "open"
		switch {
		case s.Connection().IsClosed():
			state = "connection closed"
		case s.Channel().IsClosed():
			state = "channel closed"
		}
		if state != "open" {
			closed++
			c.logger.Warn("session is not usable", "key", s.Key().String(), "state", state)
		}
		result.Details[s.Key().String()] = state
	}

	switch {
	case closed > 0:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%d of %d sessions are closed", closed, len(sessions))
	default:
		result.Status = StatusHealthy
		result.Message = "Sessions are open"
	}

	result.Duration = time.Since(start)
	return result
}

// QueueChecker checks that a session's queue is reachable and not backed up
type QueueChecker struct {
	session          *session.Session
	warningThreshold int
}

// NewQueueChecker creates a queue checker. A queue holding more than
// warningThreshold messages is reported as degraded; zero disables the
// threshold.
func NewQueueChecker(s *session.Session, warningThreshold int) *QueueChecker {
	return &QueueChecker{
		session:          s,
		warningThreshold: warningThreshold,
	}
}

func (c *QueueChecker) Name() string {
	return fmt.Sprintf("queue_%s", c.session.Key().Queue)
}

func (c *QueueChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	queue := c.session.Key().Queue
	opts := c.session.Properties().QueueOptions
	opts.Passive = true

	// a missing queue closes the channel it was declared on, so keep the
	// session's channel out of it
	ch, err := c.session.Connection().Channel()
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Could not open a channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	info, err := rabbitmq.DeclareQueue(ch, queue, opts)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Queue %s not accessible", queue)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("Queue %s is accessible", queue)
	result.Details["message_count"] = info.Messages
	result.Details["consumer_count"] = info.Consumers

	if c.warningThreshold > 0 && info.Messages > c.warningThreshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Queue %s has high message count", queue)
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}
