// Package breaker decomposes a job into tasks and hands each one to the work
// queue, shepherding file pushes and queue routing along the way.
package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/awalker/jobbreak/internal/artifact"
	"github.com/awalker/jobbreak/internal/blob"
	"github.com/awalker/jobbreak/internal/queue"
)

// UploadFailureExit is the run outcome when background file pushes failed
// after their retries were exhausted.
const UploadFailureExit = 21

// Sentinel errors surfaced by a run. Use errors.Is() to check for them.
var (
	// ErrConfig indicates the run was misconfigured and no work started.
	ErrConfig = errors.New("invalid run configuration")

	// ErrProtocolTask indicates a task payload that could not be processed.
	ErrProtocolTask = errors.New("bad task payload")

	// ErrQueueChangeDuringCollection indicates a set_queue directive after
	// messages were already enqueued in collection mode. The replay pass
	// has no per-message queue record, so the combination is rejected.
	ErrQueueChangeDuringCollection = errors.New("set_queue after enqueue is not allowed with collection replication")
)

// Config is the breaker's view of the run configuration.
type Config struct {
	// JobJSON is the literal job document for direct mode.
	JobJSON []byte

	// GeneratorCommand is the shell command for subprocess mode.
	GeneratorCommand string

	// QueueName is the initial destination queue.
	QueueName string

	// RunPreamble is merged into every task.
	RunPreamble map[string]any

	// Repeat and Mode configure replication.
	Repeat int
	Mode   ReplicationMode

	// RetryAttempts and RetryInterval bound every queue and upload call.
	RetryAttempts int
	RetryInterval time.Duration
}

// Stats summarizes a finished run.
type Stats struct {
	Tasks       int
	Messages    int
	FilesPushed int
	Duration    time.Duration
}

// Breaker orchestrates one run: it consumes the job (direct document or
// generator stream), enqueues every task and joins outstanding file pushes
// before reporting the outcome.
type Breaker struct {
	cfg      Config
	queueSvc queue.Service
	uploader blob.Uploader
	logger   *slog.Logger

	// ErrOut receives the generator's stderr and error_messages lines.
	ErrOut io.Writer

	runID  string
	router *queue.Router
	pusher *artifact.Pusher
	enq    *Enqueuer
	stats  Stats
}

// New creates a breaker. The queue service and uploader decide whether the
// run talks to real AWS or is a dry run.
func New(cfg Config, queueSvc queue.Service, uploader blob.Uploader, logger *slog.Logger) *Breaker {
	return &Breaker{
		cfg:      cfg,
		queueSvc: queueSvc,
		uploader: uploader,
		logger:   logger,
		ErrOut:   os.Stderr,
	}
}

// RunID returns the correlation ID attached to every message of this run.
func (b *Breaker) RunID() string {
	return b.runID
}

// Stats returns the run summary. Valid after Run returns.
func (b *Breaker) Stats() Stats {
	return b.stats
}

// Run executes the whole pipeline and returns the run outcome: 0 on clean
// completion, UploadFailureExit when pushes failed, the generator's exit
// code when it exited nonzero, 1 otherwise alongside the error.
func (b *Breaker) Run(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		b.stats.Duration = time.Since(start)
		if b.enq != nil {
			b.stats.Messages = b.enq.Submitted()
		}
		if b.pusher != nil {
			b.stats.FilesPushed = len(b.pusher.Descriptors())
		}
	}()

	if err := b.init(ctx); err != nil {
		return 1, err
	}

	var generatorExit int
	var uploadErrs []error

	if b.cfg.GeneratorCommand != "" {
		exit, errs, err := b.runSubprocessMode(ctx)
		uploadErrs = errs
		if err != nil {
			return 1, err
		}
		generatorExit = exit
	} else {
		if err := b.runDirectMode(ctx); err != nil {
			return 1, err
		}
	}

	if b.cfg.Mode == ReplicationCollection && b.cfg.Repeat > 0 {
		if err := b.enq.Replay(ctx); err != nil {
			return 1, err
		}
	}

	switch {
	case len(uploadErrs) > 0:
		b.logger.Error("run finished with failed uploads",
			"run_id", b.runID, "failed", len(uploadErrs), "first_error", uploadErrs[0])
		return UploadFailureExit, fmt.Errorf("%d file push(es) failed: %w", len(uploadErrs), uploadErrs[0])
	case generatorExit != 0:
		b.logger.Warn("generator exited nonzero", "run_id", b.runID, "exit_code", generatorExit)
		return generatorExit, nil
	}

	b.logger.Info("run complete",
		"run_id", b.runID, "tasks", b.stats.Tasks, "messages", b.stats.Messages,
		"files_pushed", b.stats.FilesPushed)
	return 0, nil
}

func (b *Breaker) init(ctx context.Context) error {
	hasJob := len(b.cfg.JobJSON) > 0
	hasGenerator := b.cfg.GeneratorCommand != ""
	if hasJob == hasGenerator {
		return fmt.Errorf("%w: exactly one of a job document or a generator command is required", ErrConfig)
	}
	if b.cfg.QueueName == "" {
		return fmt.Errorf("%w: destination queue is required", ErrConfig)
	}

	b.runID = uuid.New().String()
	b.logger.Info("run starting", "run_id", b.runID, "queue", b.cfg.QueueName,
		"mode", string(b.cfg.Mode), "repeat", b.cfg.Repeat)

	b.router = queue.NewRouter(b.queueSvc)
	if err := b.router.SetActive(ctx, b.cfg.QueueName); err != nil {
		return fmt.Errorf("resolve initial queue: %w", err)
	}

	b.pusher = artifact.NewPusher(b.uploader, b.cfg.RetryAttempts, b.cfg.RetryInterval, b.logger)
	b.enq = NewEnqueuer(b.router, b.cfg.RunPreamble, b.pusher,
		b.cfg.Mode, b.cfg.Repeat, b.cfg.RetryAttempts, b.cfg.RetryInterval,
		map[string]string{"RunId": b.runID}, b.logger)
	return nil
}

// runDirectMode parses the literal job document and enqueues every task.
func (b *Breaker) runDirectMode(ctx context.Context) error {
	var job struct {
		Tasks []json.RawMessage `json:"tasks"`
	}
	if err := json.Unmarshal(b.cfg.JobJSON, &job); err != nil {
		return fmt.Errorf("%w: parse job document: %s", ErrConfig, err)
	}

	b.logger.Info("direct mode", "run_id", b.runID, "tasks", len(job.Tasks))
	for _, task := range job.Tasks {
		b.stats.Tasks++
		if err := b.enq.Enqueue(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// runSubprocessMode spawns the generator and streams its stdout through the
// protocol reader. All dispatched uploads are joined before returning, even
// when the stream failed.
func (b *Breaker) runSubprocessMode(ctx context.Context) (exit int, uploadErrs []error, err error) {
	b.logger.Info("subprocess mode", "run_id", b.runID, "command", b.cfg.GeneratorCommand)

	gen, err := spawnGenerator(ctx, b.cfg.GeneratorCommand, b.ErrOut)
	if err != nil {
		return 0, nil, err
	}

	streamErr := b.readStream(ctx, gen.stdout)
	if streamErr != nil {
		// The stream is no longer consumed; stop the generator so wait
		// cannot block on a full stdout pipe.
		gen.kill()
	}

	exit, waitErr := gen.wait()
	uploadErrs = b.pusher.Wait()

	if streamErr != nil {
		return 0, uploadErrs, streamErr
	}
	if waitErr != nil {
		return 0, uploadErrs, waitErr
	}
	return exit, uploadErrs, nil
}
