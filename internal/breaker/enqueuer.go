package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/awalker/jobbreak/internal/artifact"
	"github.com/awalker/jobbreak/internal/preamble"
	"github.com/awalker/jobbreak/internal/queue"
	"github.com/awalker/jobbreak/internal/retry"
)

// ReplicationMode selects how task messages are duplicated.
type ReplicationMode string

const (
	// ReplicationNone submits each task exactly once.
	ReplicationNone ReplicationMode = ""

	// ReplicationInline submits each message N extra times immediately
	// after its first submission.
	ReplicationInline ReplicationMode = "inline"

	// ReplicationCollection replays the whole ordered message history N
	// extra passes after the task stream ends.
	ReplicationCollection ReplicationMode = "collection"
)

// ParseReplicationMode validates a config string.
func ParseReplicationMode(s string) (ReplicationMode, error) {
	switch ReplicationMode(s) {
	case ReplicationNone, ReplicationInline, ReplicationCollection:
		return ReplicationMode(s), nil
	}
	return "", fmt.Errorf("unknown replication mode %q", s)
}

// Enqueuer turns task bodies into queue messages: it merges the run preamble
// (plus the pushed-file list current at merge time) into each task and
// submits the result to the active queue under the retry policy.
type Enqueuer struct {
	router      *queue.Router
	runPreamble map[string]any
	pusher      *artifact.Pusher
	mode        ReplicationMode
	repeat      int
	attempts    int
	interval    time.Duration
	attrs       map[string]string
	logger      *slog.Logger

	history   []string
	submitted int
}

// NewEnqueuer creates an enqueuer. attrs are attached to every message as
// string attributes (the run correlation context).
func NewEnqueuer(router *queue.Router, runPreamble map[string]any, pusher *artifact.Pusher,
	mode ReplicationMode, repeat, attempts int, interval time.Duration,
	attrs map[string]string, logger *slog.Logger) *Enqueuer {
	return &Enqueuer{
		router:      router,
		runPreamble: runPreamble,
		pusher:      pusher,
		mode:        mode,
		repeat:      repeat,
		attempts:    attempts,
		interval:    interval,
		attrs:       attrs,
		logger:      logger,
	}
}

// Enqueue merges, serializes and submits one task. In inline mode the same
// message is submitted repeat extra times before the next task is processed.
func (e *Enqueuer) Enqueue(ctx context.Context, taskBody []byte) error {
	body, err := e.buildMessage(taskBody)
	if err != nil {
		return err
	}

	if err := e.submit(ctx, body); err != nil {
		return err
	}

	if e.mode == ReplicationInline {
		for i := 0; i < e.repeat; i++ {
			if err := e.submit(ctx, body); err != nil {
				return err
			}
		}
	}
	return nil
}

// buildMessage strips the task's embedded preamble, merges it over the run
// preamble and re-inserts the merged result under the reserved key.
func (e *Enqueuer) buildMessage(taskBody []byte) (string, error) {
	base := e.runPreamble
	if e.pusher != nil {
		if descs := e.pusher.Descriptors(); len(descs) > 0 {
			base = make(map[string]any, len(e.runPreamble)+1)
			maps.Copy(base, e.runPreamble)
			base["pushed_files"] = descs
		}
	}

	cleaned, merged, err := preamble.Merge(base, taskBody)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrProtocolTask, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(cleaned, &doc); err != nil {
		// Non-object tasks keep their body under a task key.
		doc = map[string]any{"task": json.RawMessage(cleaned)}
	}
	doc[preamble.ReservedKey] = merged

	out, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("serialize message: %w", err)
	}
	return string(out), nil
}

func (e *Enqueuer) submit(ctx context.Context, body string) error {
	err := retry.Do(ctx, e.attempts, e.interval, func() error {
		return e.router.Submit(ctx, body, e.attrs)
	})
	if err != nil {
		return fmt.Errorf("enqueue to %s: %w", e.router.Active().Name, err)
	}

	e.history = append(e.history, body)
	e.submitted++
	e.logger.Debug("message enqueued", "queue", e.router.Active().Name, "total", e.submitted)
	return nil
}

// Replay submits the retained message history repeat extra full passes, in
// original order. Only used in collection mode. Replayed submissions do not
// grow the history.
func (e *Enqueuer) Replay(ctx context.Context) error {
	snapshot := make([]string, len(e.history))
	copy(snapshot, e.history)

	for pass := 0; pass < e.repeat; pass++ {
		for _, body := range snapshot {
			err := retry.Do(ctx, e.attempts, e.interval, func() error {
				return e.router.Submit(ctx, body, e.attrs)
			})
			if err != nil {
				return fmt.Errorf("replay pass %d: %w", pass+1, err)
			}
			e.submitted++
		}
		e.logger.Info("replication pass complete", "pass", pass+1, "messages", len(snapshot))
	}
	return nil
}

// Submitted returns the number of successful submissions, replays included.
func (e *Enqueuer) Submitted() int {
	return e.submitted
}

// Enqueued reports whether any message has been submitted yet.
func (e *Enqueuer) Enqueued() bool {
	return len(e.history) > 0
}
