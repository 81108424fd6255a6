package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// Connection errors
	ErrConnectionClosed  = errors.New("rabbitmq: connection is closed")
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")

	// Channel errors
	ErrChannelClosed = errors.New("rabbitmq: channel is closed")
	ErrRPCTimeout    = errors.New("rabbitmq: channel rpc timeout")

	// Consumer errors
	ErrWaitTimeout = errors.New("rabbitmq: timed out waiting for delivery")

	// General errors
	ErrInvalidConfiguration = errors.New("rabbitmq: invalid configuration")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Op        string    // Operation that failed
	Addr      string    // Broker address
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: %s %s failed: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError represents a channel-related error
type ChannelError struct {
	Op        string
	Err       error
	Timestamp time.Time
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rabbitmq channel error: %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// PublishError represents a publish operation error
type PublishError struct {
	Exchange   string
	RoutingKey string
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ConsumerError represents a consumer-related error
type ConsumerError struct {
	Queue       string
	ConsumerTag string
	Op          string
	Err         error
	Timestamp   time.Time
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("rabbitmq consumer error: %s failed for consumer %s on queue %s: %v",
		e.Op, e.ConsumerTag, e.Queue, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// TopologyError represents a failed exchange, queue or binding declaration
type TopologyError struct {
	Component string // exchange, queue or binding
	Name      string
	Op        string
	Err       error
	Timestamp time.Time
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to %s %s '%s': %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// Class tags an error as worth a reconnect or not
type Class int

const (
	// ClassFatal errors are returned to the caller as is
	ClassFatal Class = iota
	// ClassTransient errors are caused by a lost or degraded transport
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps an error to Transient or Fatal. A nil error is Fatal.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}

	switch {
	case errors.Is(err, ErrInvalidConfiguration),
		errors.Is(err, context.Canceled):
		return ClassFatal
	case errors.Is(err, ErrConnectionClosed),
		errors.Is(err, ErrConnectionTimeout),
		errors.Is(err, ErrChannelClosed),
		errors.Is(err, ErrRPCTimeout),
		errors.Is(err, ErrWaitTimeout),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return ClassTransient
	}

	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return classifyAMQP(amqpErr)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return ClassTransient
	}

	var chanErr *ChannelError
	if errors.As(err, &chanErr) {
		return ClassTransient
	}

	return ClassFatal
}

// IsTransient reports whether err is worth a reconnect and retry
func IsTransient(err error) bool {
	return Classify(err) == ClassTransient
}

// classifyAMQP treats broker-reported errors as transient unless a retry on
// a fresh connection would fail the same way.
func classifyAMQP(err *amqp.Error) Class {
	switch err.Code {
	case amqp.AccessRefused,
		amqp.PreconditionFailed,
		amqp.NotAllowed,
		amqp.CommandInvalid,
		amqp.SyntaxError,
		amqp.NotImplemented,
		amqp.ContentTooLarge:
		return ClassFatal
	}
	return ClassTransient
}
