package queue

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	unknown map[string]bool
	sent    []string // "queue:body"
}

func (f *fakeService) Resolve(ctx context.Context, name string) (Handle, error) {
	if f.unknown[name] {
		return Handle{}, fmt.Errorf("%w: %s", ErrQueueNotFound, name)
	}
	return Handle{Name: name, URL: "fake://" + name}, nil
}

func (f *fakeService) Submit(ctx context.Context, h Handle, body string, attrs map[string]string) error {
	f.sent = append(f.sent, h.Name+":"+body)
	return nil
}

func TestRouterRoutesSubsequentSubmissions(t *testing.T) {
	ctx := context.Background()
	svc := &fakeService{}
	r := NewRouter(svc)

	require.NoError(t, r.SetActive(ctx, "alpha"))
	require.NoError(t, r.Submit(ctx, "a", nil))

	require.NoError(t, r.SetActive(ctx, "beta"))
	require.NoError(t, r.Submit(ctx, "b", nil))
	require.NoError(t, r.Submit(ctx, "c", nil))

	assert.Equal(t, []string{"alpha:a", "beta:b", "beta:c"}, svc.sent)
}

func TestRouterSetActiveUnknownQueue(t *testing.T) {
	svc := &fakeService{unknown: map[string]bool{"missing": true}}
	r := NewRouter(svc)

	require.NoError(t, r.SetActive(context.Background(), "alpha"))
	err := r.SetActive(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrQueueNotFound)

	// A failed switch leaves the previous destination active.
	assert.Equal(t, "alpha", r.Active().Name)
}
