// Package natsclient provides a NATS client with circuit breaker protection
// and the publisher for committed attribute events.
//
// The Client wraps a single nats.Conn. Connect attempts are guarded by a
// circuit breaker: after a threshold of consecutive failures (default 5) the
// circuit opens and Connect fails fast with ErrCircuitOpen until the backoff
// elapses. Each opening doubles the backoff up to the configured maximum.
// Once connected, reconnection is left to nats.go and reported through the
// status and the optional callbacks.
//
// # Basic Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("assetflow"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithMetrics(registry),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// # Attribute Events
//
// EventPublisher publishes every committed attribute value as JSON on
// assetflow.attribute.<asset>.<attribute>. Transient failures, including a
// missing connection, are retried with pkg/retry; other errors are returned
// after the first attempt.
//
//	events := natsclient.NewEventPublisher(client, retry.DefaultConfig(), registry, logger)
//	err := events.PublishAttribute(ctx, asset.Event{Ref: ref, Value: v})
//
// Status transitions:
//
//	Disconnected → Connecting → Connected → Reconnecting → Connected
//	                    ↓
//	               CircuitOpen → (backoff) → Disconnected
package natsclient
