// Package session manages long-lived broker sessions bound to one exchange
// and one queue.
//
// A Session owns a connection and a single channel on it. Building one
// declares the exchange, the queue and the queue's bindings, so asking for
// the same session twice is safe against a broker that already has the
// topology.
//
// The Registry caches sessions by destination Key. The Executor runs
// operations against a session's channel and, when an operation fails
// because the transport went away, rebuilds the session in the registry and
// retries on the new one:
//
//	registry := session.NewRegistry(props, session.WithLogger(logger))
//	s, err := registry.GetOrCreate(ctx, config.WithQueue("orders"))
//	if err != nil {
//	    return err
//	}
//
//	executor := session.NewExecutor(registry)
//	err = executor.Run(ctx, s, func(ctx context.Context, ch rabbitmq.Channel, exchange string) error {
//	    return ch.PublishWithContext(ctx, exchange, "order.created", false, false, msg)
//	})
//
// Consume blocks the calling goroutine; run it on its own goroutine when
// other work has to continue.
package session
