// Package rabbitmqtest provides testify mocks of the broker contract.
package rabbitmqtest

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"

	"github.com/glimte/mmate-amqp/internal/rabbitmq"
)

// MockChannel mocks rabbitmq.Channel
type MockChannel struct {
	mock.Mock
}

var _ rabbitmq.Channel = (*MockChannel)(nil)

func (m *MockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *MockChannel) ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *MockChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	a := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return a.Get(0).(amqp.Queue), a.Error(1)
}

func (m *MockChannel) QueueDeclarePassive(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	a := m.Called(name, durable, autoDelete, exclusive, noWait, args)
	return a.Get(0).(amqp.Queue), a.Error(1)
}

func (m *MockChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange, noWait, args).Error(0)
}

func (m *MockChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *MockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	a := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	if a.Get(0) == nil {
		return nil, a.Error(1)
	}
	switch deliveries := a.Get(0).(type) {
	case chan amqp.Delivery:
		return deliveries, a.Error(1)
	default:
		return a.Get(0).(<-chan amqp.Delivery), a.Error(1)
	}
}

func (m *MockChannel) Cancel(consumer string, noWait bool) error {
	return m.Called(consumer, noWait).Error(0)
}

func (m *MockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *MockChannel) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *MockChannel) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

func (m *MockChannel) IsClosed() bool {
	return m.Called().Bool(0)
}

func (m *MockChannel) Close() error {
	return m.Called().Error(0)
}

// ExpectTopology sets up successful declarations of an exchange, a queue and
// the given routing keys. The declared queue reports messages and consumers.
func (m *MockChannel) ExpectTopology(exchange, queue string, messages, consumers int, routingKeys ...string) {
	m.On("ExchangeDeclare", exchange, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil)
	m.On("QueueDeclare", queue, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(amqp.Queue{Name: queue, Messages: messages, Consumers: consumers}, nil)
	for _, key := range routingKeys {
		m.On("QueueBind", queue, key, exchange, false, mock.Anything).Return(nil)
	}
}

// MockConnection mocks rabbitmq.Connection
type MockConnection struct {
	mock.Mock
}

var _ rabbitmq.Connection = (*MockConnection)(nil)

func (m *MockConnection) Channel() (rabbitmq.Channel, error) {
	a := m.Called()
	if a.Get(0) == nil {
		return nil, a.Error(1)
	}
	return a.Get(0).(rabbitmq.Channel), a.Error(1)
}

func (m *MockConnection) IsClosed() bool {
	return m.Called().Bool(0)
}

func (m *MockConnection) Close() error {
	return m.Called().Error(0)
}

// MockDialer mocks rabbitmq.Dialer
type MockDialer struct {
	mock.Mock
}

var _ rabbitmq.Dialer = (*MockDialer)(nil)

func (m *MockDialer) Dial(ctx context.Context, cfg rabbitmq.ConnectionConfig) (rabbitmq.Connection, error) {
	a := m.Called(ctx, cfg)
	if a.Get(0) == nil {
		return nil, a.Error(1)
	}
	return a.Get(0).(rabbitmq.Connection), a.Error(1)
}

// NewBroker wires a dialer that hands out one connection with one channel.
// Close calls on both are allowed.
func NewBroker() (*MockDialer, *MockConnection, *MockChannel) {
	ch := &MockChannel{}
	conn := &MockConnection{}
	dialer := &MockDialer{}

	conn.On("Channel").Return(ch, nil)
	conn.On("Close").Return(nil).Maybe()
	conn.On("IsClosed").Return(false).Maybe()
	ch.On("Close").Return(nil).Maybe()
	dialer.On("Dial", mock.Anything, mock.Anything).Return(conn, nil)

	return dialer, conn, ch
}
