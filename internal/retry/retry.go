// Package retry bounds transient-failure recovery for queue and blob calls.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultAttempts is the attempt limit used when config leaves it unset.
const DefaultAttempts = 3

// DefaultInterval is the wait between attempts when config leaves it unset.
const DefaultInterval = 5 * time.Second

// Do invokes op up to maxAttempts times, waiting interval between attempts.
// The last failure is propagated once attempts are exhausted. Context
// cancellation stops the wait between attempts.
func Do(ctx context.Context, maxAttempts int, interval time.Duration, op func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxAttempts-1)),
		ctx,
	)
	return backoff.Retry(op, policy)
}
