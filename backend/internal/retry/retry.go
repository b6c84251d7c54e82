// Package retry implements the single-retry TransientBackendError contract
// of spec §7: a transient backend failure is retried exactly once; if the
// retry also fails, the caller sees the (wrapped) second error.
package retry

import (
	"context"

	retrygo "github.com/avast/retry-go/v4"
)

// IsTransient classifies an error returned by a backend SDK call as worth
// retrying. Implementations supply this per-provider (e.g. network
// timeouts, 5xx responses, throttling) and pass it to Once.
type IsTransient func(err error) bool

// Once runs fn, and if it fails with an error IsTransient accepts, runs it
// exactly one more time. Any other error, or a second failure, is returned
// as-is to the caller, who is responsible for classifying it into one of
// the backend package's error kinds.
func Once(ctx context.Context, transient IsTransient, fn func() error) error {
	attempts := 0
	return retrygo.Do(
		func() error {
			attempts++
			return fn()
		},
		retrygo.Context(ctx),
		retrygo.Attempts(2),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			return attempts < 2 && transient(err)
		}),
		retrygo.DelayType(retrygo.FixedDelay),
	)
}
