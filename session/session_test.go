package session

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/glimte/mmate-amqp/config"
	"github.com/glimte/mmate-amqp/internal/rabbitmq"
	"github.com/glimte/mmate-amqp/internal/rabbitmq/rabbitmqtest"
)

func testProperties(opts ...config.Option) config.Properties {
	base := config.Merge(config.Defaults(),
		config.WithExchange("test"),
		config.WithQueue("q1"),
		config.WithBinding("q1", "r.1"),
	)
	return config.Merge(base, opts...)
}

// newConn returns a connection whose channel accepts the declarations of
// exchange "test" and the given queue
func newConn(queue string, consumers int, routingKeys ...string) (*rabbitmqtest.MockConnection, *rabbitmqtest.MockChannel) {
	ch := &rabbitmqtest.MockChannel{}
	ch.ExpectTopology("test", queue, 0, consumers, routingKeys...)
	ch.On("Close").Return(nil).Maybe()

	conn := &rabbitmqtest.MockConnection{}
	conn.On("Channel").Return(ch, nil)
	conn.On("Close").Return(nil).Maybe()

	return conn, ch
}

func TestNew(t *testing.T) {
	t.Run("declares topology and records queue state", func(t *testing.T) {
		dialer, conn, ch := rabbitmqtest.NewBroker()
		ch.ExpectTopology("test", "q1", 4, 2, "r.1")

		s, err := New(context.Background(), testProperties(), dialer)
		require.NoError(t, err)

		assert.NotEmpty(t, s.ID())
		assert.Equal(t, Key{Exchange: "test", Queue: "q1"}, s.Key())
		assert.Equal(t, "test.q1", s.Key().String())
		assert.Equal(t, rabbitmq.QueueInfo{Name: "q1", Messages: 4, Consumers: 2}, s.Queue())
		assert.Same(t, ch, s.Channel())
		assert.Same(t, conn, s.Connection())
		ch.AssertExpectations(t)
	})

	t.Run("declares with configured options", func(t *testing.T) {
		dialer, _, ch := rabbitmqtest.NewBroker()
		ch.On("ExchangeDeclare", "test", "topic", true, false, false, false, amqp.Table(nil)).Return(nil)
		ch.On("QueueDeclare", "q1", true, false, false, false, amqp.Table{config.HAPolicyArgument: "all"}).
			Return(amqp.Queue{Name: "q1"}, nil)
		ch.On("QueueBind", "q1", "r.1", "test", false, amqp.Table(nil)).Return(nil)

		_, err := New(context.Background(), testProperties(), dialer)
		require.NoError(t, err)
		ch.AssertExpectations(t)
	})

	t.Run("binds only bindings for its queue", func(t *testing.T) {
		dialer, _, ch := rabbitmqtest.NewBroker()
		ch.ExpectTopology("test", "q1", 0, 0, "r.1", "r.3")

		props := testProperties(config.WithBindings(
			config.Binding{Queue: "q1", RoutingKey: "r.1"},
			config.Binding{Queue: "other", RoutingKey: "r.2"},
			config.Binding{Queue: "q1", RoutingKey: "r.3"},
		))

		_, err := New(context.Background(), props, dialer)
		require.NoError(t, err)
		ch.AssertNumberOfCalls(t, "QueueBind", 2)
		ch.AssertNotCalled(t, "QueueBind", "other", "r.2", "test", false, mock.Anything)
	})

	t.Run("passes connection settings to the dialer", func(t *testing.T) {
		dialer, _, ch := rabbitmqtest.NewBroker()
		ch.ExpectTopology("test", "q1", 0, 0, "r.1")

		props := testProperties(config.WithHost("rabbit"), config.WithPort(5673), config.WithVhost("orders"))
		_, err := New(context.Background(), props, dialer)
		require.NoError(t, err)

		dialer.AssertCalled(t, "Dial", mock.Anything, mock.MatchedBy(func(cfg rabbitmq.ConnectionConfig) bool {
			return cfg.Addr() == "rabbit:5673" &&
				cfg.Vhost == "orders" &&
				cfg.LoginMethod == config.LoginAMQPlain &&
				cfg.ConnectionName == "test.q1" &&
				cfg.Transport == rabbitmq.PlainTransport{}
		}))
	})

	t.Run("rejects invalid properties without dialing", func(t *testing.T) {
		dialer := &rabbitmqtest.MockDialer{}

		_, err := New(context.Background(), config.Merge(config.Defaults(), config.WithExchange("test")), dialer)
		assert.ErrorIs(t, err, config.ErrMissingQueue)
		assert.ErrorIs(t, err, rabbitmq.ErrInvalidConfiguration)
		assert.Equal(t, rabbitmq.ClassFatal, rabbitmq.Classify(err))
		dialer.AssertNotCalled(t, "Dial", mock.Anything, mock.Anything)
	})

	t.Run("returns dial failure", func(t *testing.T) {
		dialer := &rabbitmqtest.MockDialer{}
		dialErr := &rabbitmq.ConnectionError{Op: "connect", Err: rabbitmq.ErrConnectionTimeout}
		dialer.On("Dial", mock.Anything, mock.Anything).Return(nil, dialErr)

		s, err := New(context.Background(), testProperties(), dialer)
		assert.Nil(t, s)
		assert.ErrorIs(t, err, rabbitmq.ErrConnectionTimeout)
	})

	t.Run("closes connection when channel cannot be opened", func(t *testing.T) {
		conn := &rabbitmqtest.MockConnection{}
		conn.On("Channel").Return(nil, &rabbitmq.ChannelError{Op: "open channel", Err: amqp.ErrClosed})
		conn.On("Close").Return(nil)
		dialer := &rabbitmqtest.MockDialer{}
		dialer.On("Dial", mock.Anything, mock.Anything).Return(conn, nil)

		_, err := New(context.Background(), testProperties(), dialer)
		assert.ErrorIs(t, err, amqp.ErrClosed)
		conn.AssertCalled(t, "Close")
	})

	t.Run("closes everything when declaration fails", func(t *testing.T) {
		dialer, conn, ch := rabbitmqtest.NewBroker()
		mismatch := &amqp.Error{Code: amqp.PreconditionFailed, Reason: "PRECONDITION_FAILED - inequivalent arg 'type'"}
		ch.On("ExchangeDeclare", "test", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(mismatch)

		s, err := New(context.Background(), testProperties(), dialer)
		assert.Nil(t, s)

		var topoErr *rabbitmq.TopologyError
		require.ErrorAs(t, err, &topoErr)
		assert.Equal(t, "exchange", topoErr.Component)
		assert.Equal(t, rabbitmq.ClassFatal, rabbitmq.Classify(err))
		ch.AssertCalled(t, "Close")
		conn.AssertCalled(t, "Close")
	})
}

func TestProperties(t *testing.T) {
	dialer, _, ch := rabbitmqtest.NewBroker()
	ch.ExpectTopology("test", "q1", 0, 0, "r.1")

	s, err := New(context.Background(), testProperties(), dialer)
	require.NoError(t, err)

	props := s.Properties()
	props.Queue = "changed"
	props.QueueOptions.Args["x-extra"] = 1
	props.Bindings[0].RoutingKey = "changed"

	again := s.Properties()
	assert.Equal(t, "q1", again.Queue)
	assert.NotContains(t, again.QueueOptions.Args, "x-extra")
	assert.Equal(t, "r.1", again.Bindings[0].RoutingKey)
}

func TestMatch(t *testing.T) {
	dialer, _, ch := rabbitmqtest.NewBroker()
	ch.ExpectTopology("test", "q1", 0, 0, "r.1")

	s, err := New(context.Background(), testProperties(), dialer)
	require.NoError(t, err)

	assert.True(t, s.Match("q1", "test"))
	assert.False(t, s.Match("q2", "test"))
	assert.False(t, s.Match("q1", "other"))
	assert.False(t, s.Match("test", "q1"))
}

func TestPassThroughs(t *testing.T) {
	newSession := func(t *testing.T) (*Session, *rabbitmqtest.MockChannel) {
		dialer, _, ch := rabbitmqtest.NewBroker()
		ch.ExpectTopology("test", "q1", 0, 0, "r.1")
		s, err := New(context.Background(), testProperties(), dialer)
		require.NoError(t, err)
		return s, ch
	}

	t.Run("publish uses the session exchange", func(t *testing.T) {
		s, ch := newSession(t)
		msg := amqp.Publishing{ContentType: "text/plain", Body: []byte("hello")}
		ch.On("PublishWithContext", mock.Anything, "test", "r.1", false, false, msg).Return(nil)

		require.NoError(t, s.Publish(context.Background(), "r.1", msg))
		ch.AssertExpectations(t)
	})

	t.Run("publish failure", func(t *testing.T) {
		s, ch := newSession(t)
		ch.On("PublishWithContext", mock.Anything, "test", "r.1", false, false, mock.Anything).Return(amqp.ErrClosed)

		err := s.Publish(context.Background(), "r.1", amqp.Publishing{})
		var pubErr *rabbitmq.PublishError
		require.ErrorAs(t, err, &pubErr)
		assert.Equal(t, "test", pubErr.Exchange)
		assert.Equal(t, "r.1", pubErr.RoutingKey)
		assert.True(t, rabbitmq.IsTransient(err))
	})

	t.Run("acknowledge acks a single delivery", func(t *testing.T) {
		s, ch := newSession(t)
		ch.On("Ack", uint64(7), false).Return(nil)

		require.NoError(t, s.Acknowledge(amqp.Delivery{DeliveryTag: 7}))
		ch.AssertExpectations(t)
	})

	t.Run("reject passes requeue", func(t *testing.T) {
		s, ch := newSession(t)
		ch.On("Reject", uint64(8), true).Return(nil)
		ch.On("Reject", uint64(9), false).Return(errors.New("unknown delivery tag"))

		require.NoError(t, s.Reject(amqp.Delivery{DeliveryTag: 8}, true))

		err := s.Reject(amqp.Delivery{DeliveryTag: 9}, false)
		var chErr *rabbitmq.ChannelError
		require.ErrorAs(t, err, &chErr)
		assert.Equal(t, "reject", chErr.Op)
	})
}

func TestClose(t *testing.T) {
	dialer, conn, ch := rabbitmqtest.NewBroker()
	ch.ExpectTopology("test", "q1", 0, 0, "r.1")

	s, err := New(context.Background(), testProperties(), dialer)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	ch.AssertNumberOfCalls(t, "Close", 1)
	conn.AssertNumberOfCalls(t, "Close", 1)
}
