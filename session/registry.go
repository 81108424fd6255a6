package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/glimte/mmate-amqp/config"
	"github.com/glimte/mmate-amqp/internal/rabbitmq"
)

var (
	// ErrRegistryClosed is returned after Close
	ErrRegistryClosed = errors.New("session: registry is closed")
	// ErrSessionNotFound is returned by Replace for a key with no session
	ErrSessionNotFound = errors.New("session: no session for key")
)

// Registry caches one session per destination key
type Registry struct {
	defaults config.Properties
	dialer   rabbitmq.Dialer
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[Key]*Session
	locks    map[Key]*sync.Mutex
	closed   bool
}

// RegistryOption configures the registry
type RegistryOption func(*Registry)

// WithDialer sets the dialer used for new sessions
func WithDialer(dialer rabbitmq.Dialer) RegistryOption {
	return func(r *Registry) {
		r.dialer = dialer
	}
}

// WithLogger sets the logger, also handed to every session
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates an empty registry. defaults is the base every
// GetOrCreate call merges its options onto.
func NewRegistry(defaults config.Properties, options ...RegistryOption) *Registry {
	r := &Registry{
		defaults: defaults.Clone(),
		logger:   slog.Default(),
		sessions: make(map[Key]*Session),
		locks:    make(map[Key]*sync.Mutex),
	}

	for _, opt := range options {
		opt(r)
	}

	if r.dialer == nil {
		r.dialer = rabbitmq.NewDialer(rabbitmq.WithLogger(r.logger))
	}

	return r
}

// GetOrCreate returns the session for the destination described by the
// merged properties, building it on first use. A cached session is returned
// as is, even when the merged properties differ from the ones it was built
// with; use Replace to rebuild.
func (r *Registry) GetOrCreate(ctx context.Context, opts ...config.Option) (*Session, error) {
	props := config.Merge(r.defaults, opts...)
	if err := props.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", rabbitmq.ErrInvalidConfiguration, err)
	}
	key := KeyOf(props)

	lock, err := r.keyLock(key)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	if s, ok := r.Lookup(key); ok {
		return s, nil
	}

	s, err := New(ctx, props, r.dialer, WithSessionLogger(r.logger))
	if err != nil {
		r.logger.Error("failed to create session", "key", key.String(), "error", err)
		return nil, err
	}

	if err := r.store(key, s); err != nil {
		s.Close()
		return nil, err
	}

	r.logger.Info("session created", "key", key.String(), "session", s.ID())
	return s, nil
}

// Replace builds a new session from the properties of the one stored under
// key and stores it in its place. When failed is not nil and is no longer the
// stored session, someone already replaced it and the stored session is
// returned as is. The superseded session is left open; whoever saw it fail
// decides whether to close it. When the new session cannot be built the old
// one stays registered.
func (r *Registry) Replace(ctx context.Context, key Key, failed *Session) (*Session, error) {
	lock, err := r.keyLock(key)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	old, ok := r.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	if failed != nil && old != failed {
		r.logger.Debug("session already replaced",
			"key", key.String(),
			"failed", failed.ID(),
			"current", old.ID(),
		)
		return old, nil
	}

	s, err := New(ctx, old.props, r.dialer, WithSessionLogger(r.logger))
	if err != nil {
		r.logger.Error("failed to replace session", "key", key.String(), "error", err)
		return nil, err
	}

	if err := r.store(key, s); err != nil {
		s.Close()
		return nil, err
	}

	r.logger.Info("session replaced",
		"key", key.String(),
		"old", old.ID(),
		"new", s.ID(),
	)
	return s, nil
}

// Lookup returns the session stored under key
func (r *Registry) Lookup(key Key) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Len returns the number of cached sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns the cached sessions in key order
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].key.String() < sessions[j].key.String()
	})
	return sessions
}

// Close closes every session. The registry cannot be used afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = make(map[Key]*Session)
	r.mu.Unlock()

	var errs []error
	for key, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// keyLock serializes building and replacing the session of one key without
// blocking other keys
func (r *Registry) keyLock(key Key) (*sync.Mutex, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}

	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock, nil
}

func (r *Registry) store(key Key, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	r.sessions[key] = s
	return nil
}
