package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-amqp/internal/rabbitmq"
)

// Handler processes one delivery. Returning an error stops the consumer.
type Handler func(ctx context.Context, d amqp.Delivery) error

// Consume registers a consumer on the session's queue and dispatches every
// delivery to handler, in order, on the calling goroutine. It blocks until
// one of:
//
//   - the broker cancels the consumer (returns nil)
//   - ctx is done (returns nil)
//   - the channel closes (*rabbitmq.ConsumerError wrapping ErrChannelClosed)
//   - handler fails (*rabbitmq.ConsumerError wrapping the handler's error)
//   - no delivery arrives within the configured Timeout
//     (*rabbitmq.ConsumerError wrapping ErrWaitTimeout)
//
// A non-persistent session whose queue had no consumers when it was declared
// returns nil at once without registering anything.
func (s *Session) Consume(ctx context.Context, handler Handler) error {
	if !s.props.Persistent && s.queue.Consumers == 0 {
		s.logger.Debug("queue has no consumers, not consuming",
			"exchange", s.key.Exchange,
			"queue", s.key.Queue,
		)
		return nil
	}

	if handler == nil {
		return fmt.Errorf("%w: consume handler is required", rabbitmq.ErrInvalidConfiguration)
	}

	if qos := s.props.QoS; qos != nil {
		if err := s.ch.Qos(qos.PrefetchCount, qos.PrefetchSize, qos.Global); err != nil {
			return s.consumerError("qos", "", err)
		}
	}

	opts := s.props.Consumer
	tag := opts.Tag
	if tag == "" {
		tag = s.key.Queue + "-" + uuid.New().String()
	}

	deliveries, err := s.ch.Consume(s.key.Queue, tag, opts.NoAck, opts.Exclusive, opts.NoLocal, opts.NoWait, nil)
	if err != nil {
		return s.consumerError("consume", tag, err)
	}

	s.logger.Info("consuming",
		"queue", s.key.Queue,
		"consumerTag", tag,
		"timeout", s.props.Timeout,
	)

	return s.dispatch(ctx, tag, deliveries, handler)
}

func (s *Session) dispatch(ctx context.Context, tag string, deliveries <-chan amqp.Delivery, handler Handler) error {
	var (
		timer   *time.Timer
		timeout <-chan time.Time
	)
	if s.props.Timeout > 0 {
		timer = time.NewTimer(s.props.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			s.cancelConsumer(tag, deliveries)
			s.logger.Info("consumer stopped", "queue", s.key.Queue, "consumerTag", tag)
			return nil

		case <-timeout:
			s.cancelConsumer(tag, deliveries)
			return s.consumerError("wait", tag, rabbitmq.ErrWaitTimeout)

		case d, ok := <-deliveries:
			if !ok {
				if s.ch.IsClosed() {
					return s.consumerError("wait", tag, rabbitmq.ErrChannelClosed)
				}
				s.logger.Info("consumer cancelled by broker", "queue", s.key.Queue, "consumerTag", tag)
				return nil
			}

			if err := handler(ctx, d); err != nil {
				s.logger.Error("failed to handle message",
					"error", err,
					"queue", s.key.Queue,
					"messageId", d.MessageId,
				)
				s.cancelConsumer(tag, deliveries)
				return s.consumerError("handle", tag, err)
			}

			if timer != nil {
				timer.Reset(s.props.Timeout)
			}
		}
	}
}

// cancelConsumer cancels the consumer and drains what the broker already
// pushed so the connection is not blocked on an unread delivery
func (s *Session) cancelConsumer(tag string, deliveries <-chan amqp.Delivery) {
	if err := s.ch.Cancel(tag, false); err != nil {
		s.logger.Warn("failed to cancel consumer",
			"error", err,
			"queue", s.key.Queue,
			"consumerTag", tag,
		)
		return
	}

	go func() {
		for range deliveries {
		}
	}()
}

func (s *Session) consumerError(op, tag string, err error) error {
	return &rabbitmq.ConsumerError{
		Queue:       s.key.Queue,
		ConsumerTag: tag,
		Op:          op,
		Err:         err,
		Timestamp:   time.Now(),
	}
}
