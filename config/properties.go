package config

import (
	"errors"
	"fmt"
	"slices"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrMissingExchange is returned when no exchange name is configured
	ErrMissingExchange = errors.New("config: exchange name is required")
	// ErrMissingQueue is returned when no queue name is configured
	ErrMissingQueue = errors.New("config: queue name is required")
	// ErrInvalidLoginMethod is returned for an unsupported SASL mechanism
	ErrInvalidLoginMethod = errors.New("config: unsupported login method")
	// ErrUnknownProfile is returned when a named profile does not exist
	ErrUnknownProfile = errors.New("config: unknown profile")
)

const (
	// LoginAMQPlain is the AMQPLAIN SASL mechanism
	LoginAMQPlain = "AMQPLAIN"
	// LoginPlain is the PLAIN SASL mechanism
	LoginPlain = "PLAIN"
)

// HAPolicyArgument is the queue argument requesting mirroring on all nodes
const HAPolicyArgument = "x-ha-policy"

// TLSOptions selects the TLS transport when present on Properties
type TLSOptions struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	// MinVersion is one of "1.0", "1.1", "1.2" or "1.3"
	MinVersion string `yaml:"min_version"`
}

// ConnectOptions holds connection-level parameters. Locale is sent in
// connection.start-ok and defaults to "en_US", the only locale RabbitMQ
// accepts; numeric locale codes from other clients do not apply here.
type ConnectOptions struct {
	LoginMethod       string        `yaml:"login_method"`
	Locale            string        `yaml:"locale"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	ReadWriteTimeout  time.Duration `yaml:"read_write_timeout"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ChannelRPCTimeout time.Duration `yaml:"channel_rpc_timeout"`
	Keepalive         bool          `yaml:"keepalive"`
}

// ExchangeOptions holds exchange declaration parameters
type ExchangeOptions struct {
	Type       string     `yaml:"type"`
	Passive    bool       `yaml:"passive"`
	Durable    bool       `yaml:"durable"`
	AutoDelete bool       `yaml:"auto_delete"`
	Internal   bool       `yaml:"internal"`
	NoWait     bool       `yaml:"nowait"`
	Args       amqp.Table `yaml:"arguments"`
}

// QueueOptions holds queue declaration parameters
type QueueOptions struct {
	Passive    bool       `yaml:"passive"`
	Durable    bool       `yaml:"durable"`
	Exclusive  bool       `yaml:"exclusive"`
	AutoDelete bool       `yaml:"auto_delete"`
	NoWait     bool       `yaml:"nowait"`
	Args       amqp.Table `yaml:"arguments"`
}

// Binding routes messages with RoutingKey from the exchange to Queue
type Binding struct {
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing"`
}

// ConsumerOptions holds basic.consume parameters
type ConsumerOptions struct {
	Tag       string `yaml:"tag"`
	NoLocal   bool   `yaml:"no_local"`
	NoAck     bool   `yaml:"no_ack"`
	Exclusive bool   `yaml:"exclusive"`
	NoWait    bool   `yaml:"nowait"`
}

// QoS holds basic.qos parameters
type QoS struct {
	PrefetchSize  int  `yaml:"prefetch_size"`
	PrefetchCount int  `yaml:"prefetch_count"`
	Global        bool `yaml:"global"`
}

// Properties is the complete configuration of one session
type Properties struct {
	Host     string      `yaml:"host"`
	Port     int         `yaml:"port"`
	Username string      `yaml:"username"`
	Password string      `yaml:"password"`
	Vhost    string      `yaml:"vhost"`
	TLS      *TLSOptions `yaml:"ssl_options"`

	Connect ConnectOptions `yaml:"connect_options"`

	Exchange        string          `yaml:"exchange"`
	ExchangeOptions ExchangeOptions `yaml:"exchange_options"`

	Queue        string       `yaml:"queue"`
	QueueOptions QueueOptions `yaml:"queue_options"`

	Bindings []Binding `yaml:"bindings"`

	Consumer ConsumerOptions `yaml:"consumer"`
	QoS      *QoS            `yaml:"qos"`

	// Persistent sessions always register a consumer, even on queues
	// that had no consumers when they were declared.
	Persistent bool `yaml:"persistent"`
	// Timeout bounds a single wait for the next delivery. Zero waits forever.
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns the documented default properties. Exchange and queue
// names are left empty and must be supplied.
func Defaults() Properties {
	return Properties{
		Host:     "localhost",
		Port:     5672,
		Username: "guest",
		Password: "guest",
		Vhost:    "/",
		Connect: ConnectOptions{
			LoginMethod:       LoginAMQPlain,
			Locale:            "en_US",
			ConnectionTimeout: 3 * time.Second,
			ReadWriteTimeout:  130 * time.Second,
			Heartbeat:         60 * time.Second,
		},
		ExchangeOptions: ExchangeOptions{
			Type:    amqp.ExchangeTopic,
			Durable: true,
		},
		QueueOptions: QueueOptions{
			Durable: true,
			Args:    amqp.Table{HAPolicyArgument: "all"},
		},
	}
}

// DefaultQoS returns the prefetch settings used when QoS is enabled
// without explicit values.
func DefaultQoS() QoS {
	return QoS{PrefetchCount: 1}
}

// Validate checks the properties required to build a session
func (p Properties) Validate() error {
	if p.Exchange == "" {
		return ErrMissingExchange
	}
	if p.Queue == "" {
		return ErrMissingQueue
	}
	switch p.Connect.LoginMethod {
	case "", LoginAMQPlain, LoginPlain:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLoginMethod, p.Connect.LoginMethod)
	}
	return nil
}

// Clone returns a deep copy so callers can never mutate a session's properties
func (p Properties) Clone() Properties {
	c := p
	if p.TLS != nil {
		tlsCopy := *p.TLS
		c.TLS = &tlsCopy
	}
	if p.QoS != nil {
		qos := *p.QoS
		c.QoS = &qos
	}
	c.ExchangeOptions.Args = cloneTable(p.ExchangeOptions.Args)
	c.QueueOptions.Args = cloneTable(p.QueueOptions.Args)
	c.Bindings = slices.Clone(p.Bindings)
	return c
}

// QueueBindings returns the bindings that target this queue
func (p Properties) QueueBindings() []Binding {
	var out []Binding
	for _, b := range p.Bindings {
		if b.Queue == p.Queue {
			out = append(out, b)
		}
	}
	return out
}

// Address renders host:port
func (p Properties) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func cloneTable(t amqp.Table) amqp.Table {
	if t == nil {
		return nil
	}
	c := make(amqp.Table, len(t))
	for k, v := range t {
		c[k] = cloneValue(v)
	}
	return c
}

// cloneValue copies the nested tables and arrays an argument value may hold
func cloneValue(v interface{}) interface{} {
	switch v := v.(type) {
	case amqp.Table:
		return cloneTable(v)
	case map[string]interface{}:
		return map[string]interface{}(cloneTable(amqp.Table(v)))
	case []interface{}:
		c := make([]interface{}, len(v))
		for i, e := range v {
			c[i] = cloneValue(e)
		}
		return c
	case []byte:
		return slices.Clone(v)
	default:
		return v
	}
}
