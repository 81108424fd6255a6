package rabbitmq

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-amqp/config"
)

// Connection is an open broker connection
type Connection interface {
	Channel() (Channel, error)
	IsClosed() bool
	Close() error
}

// Dialer opens broker connections
type Dialer interface {
	Dial(ctx context.Context, cfg ConnectionConfig) (Connection, error)
}

// Transport selects how the TCP stream is carried. It is either
// PlainTransport or TLSTransport.
type Transport interface {
	scheme() string
}

// PlainTransport is an unencrypted amqp:// connection
type PlainTransport struct{}

func (PlainTransport) scheme() string { return "amqp" }

// TLSTransport is an amqps:// connection
type TLSTransport struct {
	Config *tls.Config
}

func (TLSTransport) scheme() string { return "amqps" }

// ConnectionConfig holds everything needed to open a connection
type ConnectionConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Vhost    string

	LoginMethod string
	Locale      string

	ConnectTimeout    time.Duration
	ReadWriteTimeout  time.Duration
	Heartbeat         time.Duration
	ChannelRPCTimeout time.Duration
	Keepalive         bool

	// ConnectionName is reported to the broker as connection_name
	ConnectionName string

	Transport Transport
}

// Addr renders host:port
func (c ConnectionConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL renders the connection URL without credentials
func (c ConnectionConfig) URL() string {
	transport := c.Transport
	if transport == nil {
		transport = PlainTransport{}
	}
	u := url.URL{
		Scheme: transport.scheme(),
		Host:   c.Addr(),
		Path:   "/" + c.Vhost,
	}
	return u.String()
}

// NewConnectionConfig converts session properties into a connection config,
// loading TLS material when TLS options are present.
func NewConnectionConfig(p config.Properties) (ConnectionConfig, error) {
	cfg := ConnectionConfig{
		Host:              p.Host,
		Port:              p.Port,
		Username:          p.Username,
		Password:          p.Password,
		Vhost:             p.Vhost,
		LoginMethod:       p.Connect.LoginMethod,
		Locale:            p.Connect.Locale,
		ConnectTimeout:    p.Connect.ConnectionTimeout,
		ReadWriteTimeout:  p.Connect.ReadWriteTimeout,
		Heartbeat:         p.Connect.Heartbeat,
		ChannelRPCTimeout: p.Connect.ChannelRPCTimeout,
		Keepalive:         p.Connect.Keepalive,
		ConnectionName:    p.Exchange + "." + p.Queue,
		Transport:         PlainTransport{},
	}

	if p.TLS != nil {
		tlsConfig, err := NewTLSConfig(*p.TLS)
		if err != nil {
			return ConnectionConfig{}, err
		}
		cfg.Transport = TLSTransport{Config: tlsConfig}
	}

	return cfg, nil
}

// NewTLSConfig builds a client TLS configuration from file-based options
func NewTLSConfig(opts config.TLSOptions) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec
	}

	if opts.MinVersion != "" {
		version, ok := tlsVersions[opts.MinVersion]
		if !ok {
			return nil, fmt.Errorf("%w: tls min version %q", ErrInvalidConfiguration, opts.MinVersion)
		}
		tlsConfig.MinVersion = version
	}

	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("%w: read ca file: %v", ErrInvalidConfiguration, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidConfiguration, opts.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if opts.CertFile != "" || opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("%w: load key pair: %v", ErrInvalidConfiguration, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// AMQPDialer opens connections with amqp091-go
type AMQPDialer struct {
	logger *slog.Logger
}

// DialerOption configures the AMQPDialer
type DialerOption func(*AMQPDialer)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) DialerOption {
	return func(d *AMQPDialer) {
		d.logger = logger
	}
}

// NewDialer creates a dialer backed by amqp091-go
func NewDialer(options ...DialerOption) *AMQPDialer {
	d := &AMQPDialer{
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(d)
	}

	return d
}

// Dial opens a connection. The handshake itself is bounded by the configured
// connect timeout; ctx only stops the caller from waiting.
func (d *AMQPDialer) Dial(ctx context.Context, cfg ConnectionConfig) (Connection, error) {
	if cfg.Transport == nil {
		cfg.Transport = PlainTransport{}
	}

	amqpConfig := amqp.Config{
		SASL:      []amqp.Authentication{authentication(cfg)},
		Vhost:     cfg.Vhost,
		Heartbeat: cfg.Heartbeat,
		Locale:    cfg.Locale,
		Dial:      netDial(cfg),
	}
	if cfg.ConnectionName != "" {
		amqpConfig.Properties = amqp.Table{"connection_name": cfg.ConnectionName}
	}
	if t, ok := cfg.Transport.(TLSTransport); ok {
		amqpConfig.TLSClientConfig = t.Config
		if amqpConfig.TLSClientConfig == nil {
			amqpConfig.TLSClientConfig = &tls.Config{}
		}
	}

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}

	// buffered so the dial goroutine never blocks once the caller has gone
	done := make(chan dialResult, 1)
	go func() {
		conn, err := amqp.DialConfig(cfg.URL(), amqpConfig)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &ConnectionError{
				Op:        "connect",
				Addr:      cfg.Addr(),
				Err:       r.err,
				Timestamp: time.Now(),
			}
		}
		d.logger.Info("connected to RabbitMQ",
			"addr", cfg.Addr(),
			"vhost", cfg.Vhost,
			"tls", cfg.Transport.scheme() == "amqps")
		return &amqpConnection{conn: r.conn, rpcTimeout: cfg.ChannelRPCTimeout}, nil

	case <-ctx.Done():
		// close a connection that completes after the caller gave up
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		err := ctx.Err()
		if err == context.DeadlineExceeded {
			err = ErrConnectionTimeout
		}
		return nil, &ConnectionError{
			Op:        "connect",
			Addr:      cfg.Addr(),
			Err:       err,
			Timestamp: time.Now(),
		}
	}
}

func authentication(cfg ConnectionConfig) amqp.Authentication {
	if cfg.LoginMethod == config.LoginPlain {
		return &amqp.PlainAuth{Username: cfg.Username, Password: cfg.Password}
	}
	return &amqp.AMQPlainAuth{Username: cfg.Username, Password: cfg.Password}
}

// netDial applies the connect timeout, keepalive and write timeout to the
// TCP stream. amqp091 clears the handshake deadline once the connection is
// open and drives read deadlines from the heartbeat.
func netDial(cfg ConnectionConfig) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		dialer := &net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: -1,
		}
		if cfg.Keepalive {
			dialer.KeepAlive = 0
		}

		conn, err := dialer.Dial(network, addr)
		if err != nil {
			return nil, err
		}

		if cfg.ConnectTimeout > 0 {
			if err := conn.SetDeadline(time.Now().Add(cfg.ConnectTimeout)); err != nil {
				conn.Close()
				return nil, err
			}
		}

		if cfg.ReadWriteTimeout > 0 {
			return &writeDeadlineConn{Conn: conn, timeout: cfg.ReadWriteTimeout}, nil
		}
		return conn, nil
	}
}

type writeDeadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *writeDeadlineConn) Write(b []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(b)
}

type amqpConnection struct {
	conn       *amqp.Connection
	rpcTimeout time.Duration
}

func (c *amqpConnection) Channel() (Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, &ChannelError{
			Op:        "open channel",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return withRPCTimeout(ch, c.rpcTimeout), nil
}

func (c *amqpConnection) IsClosed() bool {
	return c.conn.IsClosed()
}

func (c *amqpConnection) Close() error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
