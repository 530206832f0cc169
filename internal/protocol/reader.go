package protocol

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// maxLineBytes bounds a single stream line. Task payloads can be large but
// are still single-line JSON documents.
const maxLineBytes = 4 * 1024 * 1024

// Handlers receives classified directives from the reader. A non-nil error
// from any handler stops the stream.
type Handlers struct {
	PushFile     func(bucket, filename string) error
	ErrorMessage func(text string)
	SetQueue     func(name string) error
	Task         func(task []byte) error
}

// Reader drives the generator's stdout through Classify, dispatching each
// directive sequentially. Classification and task dispatch stay on the
// calling goroutine; only the handlers themselves may start background work.
type Reader struct {
	logger *slog.Logger
}

// NewReader creates a protocol reader.
func NewReader(logger *slog.Logger) *Reader {
	return &Reader{logger: logger}
}

// Run consumes in until end-of-stream. The first unparseable line or handler
// failure aborts the stream; no further lines are processed.
func (r *Reader) Run(ctx context.Context, in io.Reader, h Handlers) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		d, err := Classify(line)
		if err != nil {
			return err
		}

		switch d.Kind {
		case KindPushFile:
			r.logger.Debug("push_file directive", "bucket", d.Bucket, "filename", d.Filename)
			if err := h.PushFile(d.Bucket, d.Filename); err != nil {
				return err
			}
		case KindError:
			h.ErrorMessage(d.Message)
		case KindSetQueue:
			r.logger.Info("set_queue directive", "queue", d.Queue)
			if err := h.SetQueue(d.Queue); err != nil {
				return err
			}
		case KindTask:
			if err := h.Task(d.Task); err != nil {
				return err
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read generator output: %w", err)
	}
	return nil
}
