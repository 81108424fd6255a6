// Package reliability provides the retry and circuit breaking used around
// broker calls.
//
//   - Retry Policies: fixed delay and exponential backoff, bounded by a retry count
//   - Retry: runs a function until it succeeds, fails permanently, or the
//     budget is spent; exhaustion is reported as a *RetryError with the attempt count
//   - Circuit Breaker: rejects calls after repeated failures, then probes in half-open state
//   - ErrorMetrics: counts transient and fatal failures
//
// Example usage:
//
//	err := Retry(ctx, "publish", NewFixedDelay(0, 1), func(attempt int) error {
//	    return publish()
//	})
package reliability
