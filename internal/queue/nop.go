package queue

import (
	"context"
	"log/slog"
)

// NopService is the dry-run queue service: resolution always succeeds and
// submissions are logged instead of sent.
type NopService struct {
	logger *slog.Logger
}

var _ Service = (*NopService)(nil)

// NewNopService creates a queue service that performs no network calls.
func NewNopService(logger *slog.Logger) *NopService {
	return &NopService{logger: logger}
}

// Resolve returns a synthetic handle for name.
func (s *NopService) Resolve(ctx context.Context, name string) (Handle, error) {
	return Handle{Name: name, URL: "dry-run://" + name}, nil
}

// Submit logs the message it would have sent.
func (s *NopService) Submit(ctx context.Context, h Handle, body string, attrs map[string]string) error {
	s.logger.Info("dry run: would submit message", "queue", h.Name, "bytes", len(body))
	return nil
}
