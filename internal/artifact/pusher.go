// Package artifact pushes referenced local files to blob storage while the
// task stream is still being read.
package artifact

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/awalker/jobbreak/internal/blob"
	"github.com/awalker/jobbreak/internal/retry"
)

// Descriptor names a file pushed (or in flight) during this run.
type Descriptor struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
}

// Pusher uploads files concurrently with protocol reading, once per distinct
// (bucket, key) pair. Push is called only from the protocol reader goroutine;
// uploads run in the background and are collected by Wait.
type Pusher struct {
	uploader blob.Uploader
	attempts int
	interval time.Duration
	logger   *slog.Logger

	seen  map[Descriptor]struct{}
	order []Descriptor

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewPusher creates a pusher that retries each upload under the given policy.
func NewPusher(uploader blob.Uploader, attempts int, interval time.Duration, logger *slog.Logger) *Pusher {
	return &Pusher{
		uploader: uploader,
		attempts: attempts,
		interval: interval,
		logger:   logger,
		seen:     make(map[Descriptor]struct{}),
	}
}

// Push dispatches an asynchronous upload of localPath to bucket/key and
// returns immediately. Repeated requests for the same (bucket, key) pair are
// no-ops; the return value reports whether an upload was dispatched.
func (p *Pusher) Push(ctx context.Context, bucket, key, localPath string) bool {
	desc := Descriptor{Bucket: bucket, Key: key}
	if _, dup := p.seen[desc]; dup {
		p.logger.Debug("push request deduplicated", "bucket", bucket, "key", key)
		return false
	}
	p.seen[desc] = struct{}{}
	p.order = append(p.order, desc)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		err := retry.Do(ctx, p.attempts, p.interval, func() error {
			return p.uploader.Upload(ctx, bucket, key, localPath)
		})
		if err != nil {
			p.logger.Error("file push failed", "bucket", bucket, "key", key, "error", err)
			p.mu.Lock()
			p.errs = append(p.errs, err)
			p.mu.Unlock()
			return
		}
		p.logger.Info("file pushed", "bucket", bucket, "key", key)
	}()
	return true
}

// Wait blocks until every dispatched upload has finished and returns all
// upload failures. A failed upload never aborts its peers.
func (p *Pusher) Wait() []error {
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	errs := make([]error, len(p.errs))
	copy(errs, p.errs)
	return errs
}

// Descriptors returns the pushed-file pairs requested so far, in request
// order. Like Push, it must be called from the protocol reader goroutine.
func (p *Pusher) Descriptors() []Descriptor {
	out := make([]Descriptor, len(p.order))
	copy(out, p.order)
	return out
}
