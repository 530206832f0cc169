package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoExhaustsAttempts(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls, "exactly maxAttempts invocations")
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0

	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoSingleAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 1, time.Millisecond, func() error {
		calls++
		return errors.New("nope")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, 10, time.Minute, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls, "no further attempts after cancellation")
}
