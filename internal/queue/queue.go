// Package queue resolves named work queues and submits task messages to them.
package queue

import (
	"context"
	"errors"
)

// ErrQueueNotFound indicates the named queue does not exist.
// Use errors.Is() to check for it in calling code.
var ErrQueueNotFound = errors.New("queue not found")

// Handle is a resolved, addressable queue.
type Handle struct {
	Name string
	URL  string
}

// Service resolves queue names and submits messages.
type Service interface {
	// Resolve looks up the concrete queue for a logical name.
	Resolve(ctx context.Context, name string) (Handle, error)

	// Submit sends one message body to the queue, with optional string
	// attributes attached.
	Submit(ctx context.Context, h Handle, body string, attrs map[string]string) error
}
