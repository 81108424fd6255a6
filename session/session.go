package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-amqp/config"
	"github.com/glimte/mmate-amqp/internal/rabbitmq"
)

// Key identifies the destination a session serves
type Key struct {
	Exchange string
	Queue    string
}

func (k Key) String() string {
	return k.Exchange + "." + k.Queue
}

// KeyOf returns the destination key of the given properties
func KeyOf(p config.Properties) Key {
	return Key{Exchange: p.Exchange, Queue: p.Queue}
}

// Session owns one connection, one channel on it, and the topology declared
// through that channel. Its properties never change after construction.
type Session struct {
	id     string
	key    Key
	props  config.Properties
	conn   rabbitmq.Connection
	ch     rabbitmq.Channel
	queue  rabbitmq.QueueInfo
	logger *slog.Logger

	created   time.Time
	closeOnce sync.Once
	closeErr  error
}

// Option configures a session
type Option func(*Session)

// WithSessionLogger sets the logger
func WithSessionLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// New connects, opens a channel and declares the exchange, the queue and
// the queue's bindings. Nothing stays open when it fails.
func New(ctx context.Context, props config.Properties, dialer rabbitmq.Dialer, options ...Option) (*Session, error) {
	if err := props.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", rabbitmq.ErrInvalidConfiguration, err)
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: dialer is required", rabbitmq.ErrInvalidConfiguration)
	}

	s := &Session{
		id:      uuid.New().String(),
		key:     KeyOf(props),
		props:   props.Clone(),
		logger:  slog.Default(),
		created: time.Now(),
	}

	for _, opt := range options {
		opt(s)
	}

	cfg, err := rabbitmq.NewConnectionConfig(s.props)
	if err != nil {
		return nil, err
	}

	conn, err := dialer.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	info, err := rabbitmq.DeclareTopology(ch, rabbitmq.NewTopology(s.props))
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	s.conn = conn
	s.ch = ch
	s.queue = info

	s.logger.Debug("session opened",
		"session", s.id,
		"exchange", s.key.Exchange,
		"queue", s.key.Queue,
		"messages", info.Messages,
		"consumers", info.Consumers,
	)

	return s, nil
}

// ID is unique per constructed session, including sessions that replace
// one another under the same key
func (s *Session) ID() string {
	return s.id
}

// Key returns the destination key
func (s *Session) Key() Key {
	return s.key
}

// Properties returns a copy of the session's properties
func (s *Session) Properties() config.Properties {
	return s.props.Clone()
}

// Queue returns the queue state reported when the queue was declared
func (s *Session) Queue() rabbitmq.QueueInfo {
	return s.queue
}

// Channel returns the session's channel
func (s *Session) Channel() rabbitmq.Channel {
	return s.ch
}

// Connection returns the session's connection
func (s *Session) Connection() rabbitmq.Connection {
	return s.conn
}

// CreatedAt returns when the session was opened
func (s *Session) CreatedAt() time.Time {
	return s.created
}

// Match reports whether the session serves queue on exchange
func (s *Session) Match(queue, exchange string) bool {
	return s.key.Queue == queue && s.key.Exchange == exchange
}

// Publish sends msg to the session's exchange. It is not retried.
func (s *Session) Publish(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	if err := s.ch.PublishWithContext(ctx, s.key.Exchange, routingKey, false, false, msg); err != nil {
		return &rabbitmq.PublishError{
			Exchange:   s.key.Exchange,
			RoutingKey: routingKey,
			Err:        err,
			Timestamp:  time.Now(),
		}
	}
	return nil
}

// Acknowledge acks a single delivery received on this session
func (s *Session) Acknowledge(d amqp.Delivery) error {
	if err := s.ch.Ack(d.DeliveryTag, false); err != nil {
		return &rabbitmq.ChannelError{
			Op:        "ack",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// Reject rejects a single delivery received on this session
func (s *Session) Reject(d amqp.Delivery, requeue bool) error {
	if err := s.ch.Reject(d.DeliveryTag, requeue); err != nil {
		return &rabbitmq.ChannelError{
			Op:        "reject",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// Close closes the channel, then the connection. Later calls return the
// result of the first.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.ch != nil {
			if err := s.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				errs = append(errs, err)
			}
		}
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)

		s.logger.Debug("session closed", "session", s.id, "key", s.key.String())
	})
	return s.closeErr
}
