package rabbitmq

import (
	"time"

	"github.com/glimte/mmate-amqp/config"
)

// QueueInfo is the queue state reported by the broker on declaration
type QueueInfo struct {
	Name      string
	Messages  int
	Consumers int
}

// Topology is the exchange, queue and bindings owned by one session
type Topology struct {
	Exchange        string
	ExchangeOptions config.ExchangeOptions
	Queue           string
	QueueOptions    config.QueueOptions
	// RoutingKeys binds Queue to Exchange once per key
	RoutingKeys []string
}

// NewTopology extracts the topology from session properties. Bindings that
// target other queues are ignored.
func NewTopology(p config.Properties) Topology {
	t := Topology{
		Exchange:        p.Exchange,
		ExchangeOptions: p.ExchangeOptions,
		Queue:           p.Queue,
		QueueOptions:    p.QueueOptions,
	}
	for _, b := range p.QueueBindings() {
		t.RoutingKeys = append(t.RoutingKeys, b.RoutingKey)
	}
	return t
}

// DeclareTopology declares the exchange, then the queue, then every binding.
// Declarations are idempotent as long as the parameters do not change.
func DeclareTopology(ch Channel, topology Topology) (QueueInfo, error) {
	if err := DeclareExchange(ch, topology.Exchange, topology.ExchangeOptions); err != nil {
		return QueueInfo{}, err
	}

	info, err := DeclareQueue(ch, topology.Queue, topology.QueueOptions)
	if err != nil {
		return QueueInfo{}, err
	}

	// server-named queues are bound by the name the broker returned
	queue := topology.Queue
	if queue == "" {
		queue = info.Name
	}
	for _, key := range topology.RoutingKeys {
		if err := BindQueue(ch, queue, topology.Exchange, key); err != nil {
			return QueueInfo{}, err
		}
	}

	return info, nil
}

// DeclareExchange declares a single exchange
func DeclareExchange(ch Channel, name string, opts config.ExchangeOptions) error {
	declare := ch.ExchangeDeclare
	if opts.Passive {
		declare = ch.ExchangeDeclarePassive
	}

	kind := opts.Type
	if kind == "" {
		kind = "topic"
	}

	if err := declare(name, kind, opts.Durable, opts.AutoDelete, opts.Internal, opts.NoWait, opts.Args); err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

// DeclareQueue declares a single queue
func DeclareQueue(ch Channel, name string, opts config.QueueOptions) (QueueInfo, error) {
	declare := ch.QueueDeclare
	if opts.Passive {
		declare = ch.QueueDeclarePassive
	}

	q, err := declare(name, opts.Durable, opts.AutoDelete, opts.Exclusive, opts.NoWait, opts.Args)
	if err != nil {
		return QueueInfo{}, &TopologyError{
			Component: "queue",
			Name:      name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	return QueueInfo{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// BindQueue binds a queue to an exchange with a routing key
func BindQueue(ch Channel, queue, exchange, routingKey string) error {
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return &TopologyError{
			Component: "binding",
			Name:      queue + "->" + exchange + ":" + routingKey,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}
