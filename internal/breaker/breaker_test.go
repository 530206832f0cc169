package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awalker/jobbreak/internal/queue"
)

type sentMessage struct {
	Queue string
	Body  string
	Attrs map[string]string
}

type fakeQueue struct {
	unknown map[string]bool
	failing map[string]error // queue name -> submit error
	sent    []sentMessage
}

func (f *fakeQueue) Resolve(ctx context.Context, name string) (queue.Handle, error) {
	if f.unknown[name] {
		return queue.Handle{}, fmt.Errorf("%w: %s", queue.ErrQueueNotFound, name)
	}
	return queue.Handle{Name: name, URL: "fake://" + name}, nil
}

func (f *fakeQueue) Submit(ctx context.Context, h queue.Handle, body string, attrs map[string]string) error {
	if err := f.failing[h.Name]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{Queue: h.Name, Body: body, Attrs: attrs})
	return nil
}

type fakeUploader struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (f *fakeUploader) Upload(ctx context.Context, bucket, key, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, bucket+"/"+key)
	return f.fail
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		QueueName:     "work",
		RunPreamble:   map[string]any{"result_queue": "results"},
		RetryAttempts: 2,
		RetryInterval: time.Millisecond,
	}
}

func frames(n int) []byte {
	tasks := make([]string, n)
	for i := range tasks {
		tasks[i] = fmt.Sprintf(`{"frame": %d}`, i+1)
	}
	return []byte(`{"tasks": [` + strings.Join(tasks, ",") + `]}`)
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &doc))
	return doc
}

func TestDirectModeEnqueuesEveryTaskInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.JobJSON = frames(3)
	q := &fakeQueue{}
	b := New(cfg, q, &fakeUploader{}, discard())
	b.ErrOut = io.Discard

	code, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	require.Len(t, q.sent, 3)

	for i, msg := range q.sent {
		assert.Equal(t, "work", msg.Queue)
		doc := decode(t, msg.Body)
		assert.Equal(t, float64(i+1), doc["frame"], "source order preserved")

		pre, ok := doc["preamble"].(map[string]any)
		require.True(t, ok, "merged preamble embedded in the message")
		assert.Equal(t, "results", pre["result_queue"])

		assert.Equal(t, b.RunID(), msg.Attrs["RunId"], "correlation attribute on every message")
	}

	assert.Equal(t, 3, b.Stats().Tasks)
	assert.Equal(t, 3, b.Stats().Messages)
}

func TestInlineReplicationIsContiguous(t *testing.T) {
	cfg := testConfig()
	cfg.JobJSON = frames(3)
	cfg.Mode = ReplicationInline
	cfg.Repeat = 2
	q := &fakeQueue{}
	b := New(cfg, q, &fakeUploader{}, discard())

	code, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	require.Len(t, q.sent, 9)

	for i, msg := range q.sent {
		doc := decode(t, msg.Body)
		assert.Equal(t, float64(i/3+1), doc["frame"], "each task's copies appear contiguously")
	}
}

func TestCollectionReplicationReplaysHistory(t *testing.T) {
	cfg := testConfig()
	cfg.JobJSON = frames(3)
	cfg.Mode = ReplicationCollection
	cfg.Repeat = 1
	q := &fakeQueue{}
	b := New(cfg, q, &fakeUploader{}, discard())

	code, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	require.Len(t, q.sent, 6)

	want := []float64{1, 2, 3, 1, 2, 3}
	for i, msg := range q.sent {
		assert.Equal(t, want[i], decode(t, msg.Body)["frame"])
	}
	assert.Equal(t, 6, b.Stats().Messages)
}

func TestTaskPreambleWinsOverRunPreamble(t *testing.T) {
	cfg := testConfig()
	cfg.JobJSON = []byte(`{"tasks": [{"frame": 1, "preamble": {"result_queue": "fast"}}]}`)
	q := &fakeQueue{}
	b := New(cfg, q, &fakeUploader{}, discard())

	_, err := b.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, q.sent, 1)

	doc := decode(t, q.sent[0].Body)
	pre := doc["preamble"].(map[string]any)
	assert.Equal(t, "fast", pre["result_queue"])
	assert.Equal(t, float64(1), doc["frame"])
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"neither job nor generator", func(c *Config) {}},
		{"both job and generator", func(c *Config) {
			c.JobJSON = frames(1)
			c.GeneratorCommand = "true"
		}},
		{"missing queue", func(c *Config) {
			c.JobJSON = frames(1)
			c.QueueName = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			b := New(cfg, &fakeQueue{}, &fakeUploader{}, discard())

			code, err := b.Run(context.Background())
			assert.ErrorIs(t, err, ErrConfig)
			assert.Equal(t, 1, code)
		})
	}
}

func TestEnqueueFailureAbortsRun(t *testing.T) {
	cfg := testConfig()
	cfg.JobJSON = frames(3)
	q := &fakeQueue{failing: map[string]error{"work": errors.New("throttled")}}
	b := New(cfg, q, &fakeUploader{}, discard())

	code, err := b.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Empty(t, q.sent, "no partial success reported past a failed submission")
}

// streamBreaker builds a breaker wired for stream-level tests without
// spawning a real generator process.
func streamBreaker(t *testing.T, cfg Config, q *fakeQueue, up *fakeUploader) *Breaker {
	t.Helper()
	cfg.GeneratorCommand = "unused"
	b := New(cfg, q, up, discard())
	b.ErrOut = io.Discard
	require.NoError(t, b.init(context.Background()))
	return b
}

func TestStreamSetQueueRoutesSubsequentTasks(t *testing.T) {
	q := &fakeQueue{}
	b := streamBreaker(t, testConfig(), q, &fakeUploader{})

	stream := strings.Join([]string{
		`{"frame": 1}`,
		`set_queue: other`,
		`{"frame": 2}`,
		`{"frame": 3}`,
	}, "\n")
	require.NoError(t, b.readStream(context.Background(), strings.NewReader(stream)))

	require.Len(t, q.sent, 3)
	assert.Equal(t, "work", q.sent[0].Queue)
	assert.Equal(t, "other", q.sent[1].Queue)
	assert.Equal(t, "other", q.sent[2].Queue)
}

func TestStreamQueueChangeRejectedInCollectionMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ReplicationCollection
	cfg.Repeat = 1
	q := &fakeQueue{}
	b := streamBreaker(t, cfg, q, &fakeUploader{})

	stream := "{\"frame\": 1}\nset_queue: other\n{\"frame\": 2}\n"
	err := b.readStream(context.Background(), strings.NewReader(stream))

	assert.ErrorIs(t, err, ErrQueueChangeDuringCollection)
	assert.Len(t, q.sent, 1, "stream stops at the rejected directive")
}

func TestStreamQueueChangeBeforeFirstEnqueueIsFineInCollectionMode(t *testing.T) {
	cfg := testConfig()
	cfg.Mode = ReplicationCollection
	cfg.Repeat = 1
	q := &fakeQueue{}
	b := streamBreaker(t, cfg, q, &fakeUploader{})

	stream := "set_queue: other\n{\"frame\": 1}\n"
	require.NoError(t, b.readStream(context.Background(), strings.NewReader(stream)))
	require.Len(t, q.sent, 1)
	assert.Equal(t, "other", q.sent[0].Queue)
}

func TestStreamPushedFilesFlowIntoLaterPreambles(t *testing.T) {
	q := &fakeQueue{}
	up := &fakeUploader{}
	b := streamBreaker(t, testConfig(), q, up)

	stream := strings.Join([]string{
		`{"frame": 1}`,
		`push_file: renders,scene.blend`,
		`push_file: renders,scene.blend`,
		`{"frame": 2}`,
	}, "\n")
	require.NoError(t, b.readStream(context.Background(), strings.NewReader(stream)))
	require.Empty(t, b.pusher.Wait())

	require.Len(t, q.sent, 2)

	first := decode(t, q.sent[0].Body)["preamble"].(map[string]any)
	assert.NotContains(t, first, "pushed_files", "task before any push carries no file list")

	second := decode(t, q.sent[1].Body)["preamble"].(map[string]any)
	files, ok := second["pushed_files"].([]any)
	require.True(t, ok)
	require.Len(t, files, 1, "duplicate push request suppressed")
	desc := files[0].(map[string]any)
	assert.Equal(t, "renders", desc["bucket"])
	assert.Equal(t, "scene.blend", desc["key"])

	assert.Len(t, up.calls, 1)
}

func TestRunSubprocessMode(t *testing.T) {
	cfg := testConfig()
	cfg.GeneratorCommand = `printf '{"frame": 1}\n{"frame": 2}\n'`
	q := &fakeQueue{}
	b := New(cfg, q, &fakeUploader{}, discard())
	b.ErrOut = io.Discard

	code, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Len(t, q.sent, 2)
}

func TestRunSubprocessNonzeroExitBecomesOutcome(t *testing.T) {
	cfg := testConfig()
	cfg.GeneratorCommand = `printf '{"frame": 1}\n'; exit 3`
	q := &fakeQueue{}
	b := New(cfg, q, &fakeUploader{}, discard())
	b.ErrOut = io.Discard

	code, err := b.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Len(t, q.sent, 1, "tasks before the exit are still enqueued")
}

func TestRunSubprocessProtocolErrorAborts(t *testing.T) {
	cfg := testConfig()
	cfg.GeneratorCommand = `printf '{"frame": 1}\nnot a task\n{"frame": 2}\n'`
	q := &fakeQueue{}
	b := New(cfg, q, &fakeUploader{}, discard())
	b.ErrOut = io.Discard

	code, err := b.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Len(t, q.sent, 1)
}

func TestRunAbortKillsGeneratorProcessTree(t *testing.T) {
	cfg := testConfig()
	// The generator backgrounds a child that inherits stderr and outlives
	// the shell, then emits a bad line. Aborting the run must kill the
	// whole process group or wait blocks until the child exits by itself.
	cfg.GeneratorCommand = `( sleep 5; echo late >&2 ) & printf 'not a task\n'`
	q := &fakeQueue{}
	b := New(cfg, q, &fakeUploader{}, discard())
	b.ErrOut = io.Discard

	start := time.Now()
	code, err := b.Run(context.Background())
	elapsed := time.Since(start)

	assert.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Less(t, elapsed, 2*time.Second, "orphaned generator children must not keep the run alive")
}

func TestRunUploadFailureSetsSentinelOutcome(t *testing.T) {
	cfg := testConfig()
	cfg.GeneratorCommand = `printf 'push_file: renders,missing.dat\n{"frame": 1}\n'`
	q := &fakeQueue{}
	up := &fakeUploader{fail: errors.New("access denied")}
	b := New(cfg, q, up, discard())
	b.ErrOut = io.Discard

	code, err := b.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, UploadFailureExit, code)
	assert.Len(t, q.sent, 1, "enqueue work is not rolled back")
}

func TestStreamErrorMessagesPassThrough(t *testing.T) {
	q := &fakeQueue{}
	b := streamBreaker(t, testConfig(), q, &fakeUploader{})
	var out strings.Builder
	b.ErrOut = &out

	stream := "error_messages: renderer exploded\n{\"frame\": 1}\n"
	require.NoError(t, b.readStream(context.Background(), strings.NewReader(stream)))

	assert.Equal(t, "renderer exploded\n", out.String())
	assert.Len(t, q.sent, 1, "diagnostics are never treated as tasks")
}
