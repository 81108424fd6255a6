package config

import "time"

// Option overrides part of a Properties record
type Option func(*Properties)

// Merge applies options to a copy of base. The base record is never modified.
func Merge(base Properties, options ...Option) Properties {
	p := base.Clone()
	for _, opt := range options {
		if opt != nil {
			opt(&p)
		}
	}
	return p
}

// WithExchange sets the exchange name
func WithExchange(name string) Option {
	return func(p *Properties) {
		p.Exchange = name
	}
}

// WithQueue sets the queue name
func WithQueue(name string) Option {
	return func(p *Properties) {
		p.Queue = name
	}
}

// WithBindings replaces the binding list
func WithBindings(bindings ...Binding) Option {
	return func(p *Properties) {
		p.Bindings = append([]Binding(nil), bindings...)
	}
}

// WithBinding appends a single binding
func WithBinding(queue, routingKey string) Option {
	return func(p *Properties) {
		p.Bindings = append(p.Bindings, Binding{Queue: queue, RoutingKey: routingKey})
	}
}

// WithPersistent sets whether consumers are always registered
func WithPersistent(persistent bool) Option {
	return func(p *Properties) {
		p.Persistent = persistent
	}
}

// WithTimeout bounds each wait for a delivery
func WithTimeout(timeout time.Duration) Option {
	return func(p *Properties) {
		p.Timeout = timeout
	}
}

// WithQoS enables prefetch limits
func WithQoS(qos QoS) Option {
	return func(p *Properties) {
		p.QoS = &qos
	}
}

// WithConsumerTag sets the consumer tag
func WithConsumerTag(tag string) Option {
	return func(p *Properties) {
		p.Consumer.Tag = tag
	}
}

// WithHost sets the broker host
func WithHost(host string) Option {
	return func(p *Properties) {
		p.Host = host
	}
}

// WithPort sets the broker port
func WithPort(port int) Option {
	return func(p *Properties) {
		p.Port = port
	}
}

// WithCredentials sets the username and password
func WithCredentials(username, password string) Option {
	return func(p *Properties) {
		p.Username = username
		p.Password = password
	}
}

// WithVhost sets the virtual host
func WithVhost(vhost string) Option {
	return func(p *Properties) {
		p.Vhost = vhost
	}
}

// WithTLS switches the session to a TLS connection
func WithTLS(opts TLSOptions) Option {
	return func(p *Properties) {
		p.TLS = &opts
	}
}

// WithHeartbeat sets the heartbeat interval
func WithHeartbeat(interval time.Duration) Option {
	return func(p *Properties) {
		p.Connect.Heartbeat = interval
	}
}

// WithConnectOptions edits the connection-level options in place
func WithConnectOptions(fn func(*ConnectOptions)) Option {
	return func(p *Properties) {
		fn(&p.Connect)
	}
}

// WithExchangeOptions edits the exchange declaration in place
func WithExchangeOptions(fn func(*ExchangeOptions)) Option {
	return func(p *Properties) {
		fn(&p.ExchangeOptions)
	}
}

// WithQueueOptions edits the queue declaration in place
func WithQueueOptions(fn func(*QueueOptions)) Option {
	return func(p *Properties) {
		fn(&p.QueueOptions)
	}
}

// WithConsumerOptions edits the consumer parameters in place
func WithConsumerOptions(fn func(*ConsumerOptions)) Option {
	return func(p *Properties) {
		fn(&p.Consumer)
	}
}
