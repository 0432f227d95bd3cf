// Package retry runs operations with exponential backoff on top of
// cenkalti/backoff, using the assetflow error classification to decide which
// failures are worth another attempt.
//
// Usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return client.Publish(ctx, subject, data)
//	})
//
// Transient is the variant used by the NATS publisher: only errors that
// errors.IsTransient accepts are retried.
//
//	err := retry.Transient(ctx, retry.Quick(), connect)
//
// Wrap an error with NonRetryable to stop immediately.
package retry
