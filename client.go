// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mmate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/mmate-amqp/config"
	"github.com/glimte/mmate-amqp/health"
	"github.com/glimte/mmate-amqp/internal/rabbitmq"
	"github.com/glimte/mmate-amqp/internal/reliability"
	"github.com/glimte/mmate-amqp/session"
)

// Client provides the main entry point for mmate-amqp
type Client struct {
	registry *session.Registry
	executor *session.Executor
	logger   *slog.Logger
}

// NewClient creates a client whose sessions start from props. Exchange and
// queue may be left empty and supplied per call.
func NewClient(props config.Properties, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:  slog.Default(),
		retries: session.DefaultRetries,
	}

	for _, opt := range options {
		opt(cfg)
	}

	if err := props.Validate(); err != nil &&
		!errors.Is(err, config.ErrMissingExchange) &&
		!errors.Is(err, config.ErrMissingQueue) {
		return nil, fmt.Errorf("invalid client properties: %w", err)
	}

	registryOpts := []session.RegistryOption{session.WithLogger(cfg.logger)}
	if cfg.dialer != nil {
		registryOpts = append(registryOpts, session.WithDialer(cfg.dialer))
	}
	registry := session.NewRegistry(props, registryOpts...)

	executorOpts := []session.ExecutorOption{
		session.WithRetries(cfg.retries),
		session.WithExecutorLogger(cfg.logger),
	}
	if cfg.breakerThreshold > 0 {
		logger := cfg.logger
		cb := reliability.NewCircuitBreaker(
			reliability.WithName("amqp"),
			reliability.WithFailureThreshold(cfg.breakerThreshold),
			reliability.WithTimeout(cfg.breakerTimeout),
			reliability.WithFailurePredicate(rabbitmq.IsTransient),
			reliability.WithStateChangeHandler(func(name string, from, to reliability.State) {
				logger.Warn("circuit breaker state changed",
					"name", name,
					"from", from.String(),
					"to", to.String(),
				)
			}),
		)
		executorOpts = append(executorOpts, session.WithCircuitBreaker(cb))
	}

	return &Client{
		registry: registry,
		executor: session.NewExecutor(registry, executorOpts...),
		logger:   cfg.logger,
	}, nil
}

// NewClientFromProfiles creates a client from a named profile. An empty name
// selects the active profile.
func NewClientFromProfiles(profiles config.Profiles, name string, options ...ClientOption) (*Client, error) {
	var (
		props config.Properties
		err   error
	)
	if name == "" {
		props, err = profiles.Active()
	} else {
		props, err = profiles.Profile(name)
	}
	if err != nil {
		return nil, err
	}
	return NewClient(props, options...)
}

// Session returns the cached session for the destination described by opts
func (c *Client) Session(ctx context.Context, opts ...config.Option) (*session.Session, error) {
	return c.registry.GetOrCreate(ctx, opts...)
}

// Run runs op against s, reconnecting on transport failures
func (c *Client) Run(ctx context.Context, s *session.Session, op session.Operation) error {
	return c.executor.Run(ctx, s, op)
}

// Publish publishes msg with routingKey to the session's exchange. Transport
// failures reconnect the session and publish again.
func (c *Client) Publish(ctx context.Context, routingKey string, msg amqp.Publishing, opts ...config.Option) error {
	s, err := c.Session(ctx, opts...)
	if err != nil {
		return err
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	return c.executor.Run(ctx, s, func(ctx context.Context, ch rabbitmq.Channel, exchange string) error {
		if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
			return &rabbitmq.PublishError{
				Exchange:   exchange,
				RoutingKey: routingKey,
				Err:        err,
				Timestamp:  time.Now(),
			}
		}
		return nil
	})
}

// Consume blocks consuming the session's queue. See session.Session.Consume.
func (c *Client) Consume(ctx context.Context, handler session.Handler, opts ...config.Option) error {
	s, err := c.Session(ctx, opts...)
	if err != nil {
		return err
	}
	return s.Consume(ctx, handler)
}

// Health opens the session described by opts and checks its queue along with
// every cached session. A queue holding more than warningThreshold messages is
// reported as degraded; zero disables the threshold.
func (c *Client) Health(ctx context.Context, warningThreshold int, opts ...config.Option) health.Report {
	sessions := health.NewSessionChecker(c.registry, c.logger)

	s, err := c.Session(ctx, opts...)
	if err != nil {
		report := health.Run(ctx, sessions)
		report.Status = health.StatusUnhealthy
		report.Checks["session"] = health.CheckResult{
			Name:      "session",
			Status:    health.StatusUnhealthy,
			Message:   "Session could not be opened",
			Timestamp: time.Now(),
			Error:     err.Error(),
		}
		return report
	}

	return health.Run(ctx, sessions, health.NewQueueChecker(s, warningThreshold))
}

// Metrics returns the failures seen by Run and Publish
func (c *Client) Metrics() reliability.ErrorMetricsSnapshot {
	return c.executor.Metrics()
}

// Close closes all sessions
func (c *Client) Close() error {
	if c.registry == nil {
		return nil
	}
	return c.registry.Close()
}

// clientConfig holds client configuration
type clientConfig struct {
	logger           *slog.Logger
	dialer           rabbitmq.Dialer
	retries          int
	breakerThreshold int
	breakerTimeout   time.Duration
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithDefaultLogger uses the default logger
func WithDefaultLogger() ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = slog.Default()
	}
}

// WithDialer replaces the amqp091-go dialer
func WithDialer(dialer rabbitmq.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = dialer
	}
}

// WithRetries sets how many times Run and Publish retry after a transport
// failure
func WithRetries(retries int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.retries = retries
	}
}

// WithCircuitBreaker stops calling the broker for timeout after threshold
// consecutive transport failures
func WithCircuitBreaker(threshold int, timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.breakerThreshold = threshold
		cfg.breakerTimeout = timeout
	}
}
