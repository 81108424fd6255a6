package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// Circuit breaker errors
	ErrCircuitOpen          = errors.New("circuit breaker: circuit is open")
	ErrCircuitHalfOpenLimit = errors.New("circuit breaker: half-open request limit reached")

	// Retry errors
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
)

// StatusRetriesExhausted is the status code carried by a RetryError
const StatusRetriesExhausted = 500

// CircuitBreakerError represents a rejected call
type CircuitBreakerError struct {
	State            State
	Name             string
	Failures         int
	FailureThreshold int
	NextRetry        time.Time
}

func (e *CircuitBreakerError) Error() string {
	if e.State == StateOpen {
		return fmt.Sprintf("circuit breaker %s open: failures=%d/%d, retry in %v",
			e.Name, e.Failures, e.FailureThreshold, time.Until(e.NextRetry).Round(time.Second))
	}
	return fmt.Sprintf("circuit breaker %s half-open: request limit reached", e.Name)
}

func (e *CircuitBreakerError) Unwrap() error {
	if e.State == StateOpen {
		return ErrCircuitOpen
	}
	return ErrCircuitHalfOpenLimit
}

// RetryError is returned once a retry budget is exhausted
type RetryError struct {
	Op          string
	Attempts    int
	MaxAttempts int
	Code        int
	LastError   error
	Duration    time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts (status %d): %v",
		e.Op, e.Attempts, e.Code, e.LastError)
}

// Unwrap exposes both ErrMaxRetriesExceeded and the last attempt's error
func (e *RetryError) Unwrap() []error {
	return []error{ErrMaxRetriesExceeded, e.LastError}
}

// ErrorMetrics tracks error metrics
type ErrorMetrics struct {
	mu              sync.RWMutex
	totalErrors     int64
	retryableErrors int64
	fatalErrors     int64
	lastErrorTime   time.Time
	errorsByType    map[string]int64
}

// NewErrorMetrics creates a new error metrics tracker
func NewErrorMetrics() *ErrorMetrics {
	return &ErrorMetrics{
		errorsByType: make(map[string]int64),
	}
}

// RecordError records an error in metrics
func (m *ErrorMetrics) RecordError(err error, retryable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totalErrors++
	m.lastErrorTime = time.Now()

	if retryable {
		m.retryableErrors++
	} else {
		m.fatalErrors++
	}

	m.errorsByType[fmt.Sprintf("%T", err)]++
}

// Snapshot returns a point-in-time copy of the metrics
func (m *ErrorMetrics) Snapshot() ErrorMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	typesCopy := make(map[string]int64, len(m.errorsByType))
	for k, v := range m.errorsByType {
		typesCopy[k] = v
	}

	return ErrorMetricsSnapshot{
		TotalErrors:     m.totalErrors,
		RetryableErrors: m.retryableErrors,
		FatalErrors:     m.fatalErrors,
		LastErrorTime:   m.lastErrorTime,
		ErrorsByType:    typesCopy,
		Timestamp:       time.Now(),
	}
}

// ErrorMetricsSnapshot represents a point-in-time snapshot of error metrics
type ErrorMetricsSnapshot struct {
	TotalErrors     int64
	RetryableErrors int64
	FatalErrors     int64
	LastErrorTime   time.Time
	ErrorsByType    map[string]int64
	Timestamp       time.Time
}
