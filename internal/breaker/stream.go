package breaker

import (
	"context"
	"fmt"
	"io"

	"github.com/awalker/jobbreak/internal/protocol"
)

// readStream drives the protocol reader over the generator's stdout,
// dispatching directives to the pusher, router and enqueuer.
func (b *Breaker) readStream(ctx context.Context, stdout io.Reader) error {
	reader := protocol.NewReader(b.logger)

	handlers := protocol.Handlers{
		PushFile: func(bucket, filename string) error {
			// Key and local path are the same string by convention.
			b.pusher.Push(ctx, bucket, filename, filename)
			return nil
		},
		ErrorMessage: func(text string) {
			b.logger.Warn("generator diagnostic", "run_id", b.runID, "message", text)
			fmt.Fprintln(b.ErrOut, text)
		},
		SetQueue: func(name string) error {
			if b.cfg.Mode == ReplicationCollection && b.enq.Enqueued() {
				return fmt.Errorf("%w: queue %q", ErrQueueChangeDuringCollection, name)
			}
			return b.router.SetActive(ctx, name)
		},
		Task: func(task []byte) error {
			b.stats.Tasks++
			return b.enq.Enqueue(ctx, task)
		},
	}

	return reader.Run(ctx, stdout, handlers)
}
