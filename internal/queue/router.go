package queue

import "context"

// Router holds the queue currently receiving task messages. The generator
// can switch it mid-run with a set_queue directive; the switch affects
// subsequent submissions only.
//
// Router is not safe for concurrent use. The protocol reader is the single
// writer and submissions happen synchronously from the same goroutine, so
// queue changes and submissions are strictly interleaved.
type Router struct {
	svc    Service
	active Handle
}

// NewRouter creates a router over svc with no active queue.
func NewRouter(svc Service) *Router {
	return &Router{svc: svc}
}

// SetActive resolves name and makes it the destination for all subsequent
// submissions. Already-submitted messages are unaffected.
func (r *Router) SetActive(ctx context.Context, name string) error {
	h, err := r.svc.Resolve(ctx, name)
	if err != nil {
		return err
	}
	r.active = h
	return nil
}

// Active returns the current destination queue.
func (r *Router) Active() Handle {
	return r.active
}

// Submit sends body to the active queue.
func (r *Router) Submit(ctx context.Context, body string, attrs map[string]string) error {
	return r.svc.Submit(ctx, r.active, body, attrs)
}
