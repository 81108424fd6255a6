package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel a session needs
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Ack(tag uint64, multiple bool) error
	Reject(tag uint64, requeue bool) error
	IsClosed() bool
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// rpcTimeoutChannel bounds the synchronous channel methods. The broker
// call keeps running after a timeout; its result is discarded.
type rpcTimeoutChannel struct {
	Channel
	timeout time.Duration
}

func withRPCTimeout(ch Channel, timeout time.Duration) Channel {
	if timeout <= 0 {
		return ch
	}
	return &rpcTimeoutChannel{Channel: ch, timeout: timeout}
}

func (c *rpcTimeoutChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return c.call("exchange.declare", func() error {
		return c.Channel.ExchangeDeclare(name, kind, durable, autoDelete, internal, noWait, args)
	})
}

func (c *rpcTimeoutChannel) ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return c.call("exchange.declare", func() error {
		return c.Channel.ExchangeDeclarePassive(name, kind, durable, autoDelete, internal, noWait, args)
	})
}

func (c *rpcTimeoutChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return callResult(c, "queue.declare", func() (amqp.Queue, error) {
		return c.Channel.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
	})
}

func (c *rpcTimeoutChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return callResult(c, "queue.declare", func() (amqp.Queue, error) {
		return c.Channel.QueueDeclarePassive(name, durable, autoDelete, exclusive, noWait, args)
	})
}

func (c *rpcTimeoutChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return c.call("queue.bind", func() error {
		return c.Channel.QueueBind(name, key, exchange, noWait, args)
	})
}

func (c *rpcTimeoutChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return c.call("basic.qos", func() error {
		return c.Channel.Qos(prefetchCount, prefetchSize, global)
	})
}

func (c *rpcTimeoutChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return callResult(c, "basic.consume", func() (<-chan amqp.Delivery, error) {
		return c.Channel.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	})
}

func (c *rpcTimeoutChannel) Cancel(consumer string, noWait bool) error {
	return c.call("basic.cancel", func() error {
		return c.Channel.Cancel(consumer, noWait)
	})
}

func (c *rpcTimeoutChannel) call(op string, fn func() error) error {
	_, err := callResult(c, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func callResult[T any](c *rpcTimeoutChannel, op string, fn func() (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	// buffered so the goroutine can finish after a timeout
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		var zero T
		return zero, &ChannelError{
			Op:        op,
			Err:       ErrRPCTimeout,
			Timestamp: time.Now(),
		}
	}
}
