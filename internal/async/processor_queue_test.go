package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoices-pipeline/constants"
	"github.com/joseph-ayodele/invoices-pipeline/internal/common"
	"github.com/joseph-ayodele/invoices-pipeline/internal/dedup"
	"github.com/joseph-ayodele/invoices-pipeline/internal/entity"
	"github.com/joseph-ayodele/invoices-pipeline/internal/pipeline"
)

type fakeProcessor struct {
	calls atomic.Int32
	fail  func(doc entity.Document) error
	trace sync.Map
}

func (f *fakeProcessor) Process(ctx context.Context, doc entity.Document) (pipeline.Outcome, error) {
	f.calls.Add(1)
	f.trace.Store(doc.Path, common.RequestIDFromContext(ctx))
	if f.fail != nil {
		if err := f.fail(doc); err != nil {
			return pipeline.Outcome{Document: doc}, err
		}
	}
	return pipeline.Outcome{Document: doc, Result: dedup.Result{Decision: constants.DecisionInsert}}, nil
}

type collector struct {
	mu   sync.Mutex
	errs map[string]error
	done chan struct{}
	want int
}

func newCollector(want int) *collector {
	return &collector{errs: map[string]error{}, done: make(chan struct{}), want: want}
}

func (c *collector) handle(job Job, _ pipeline.Outcome, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[job.Document.Path] = err
	if len(c.errs) == c.want {
		close(c.done)
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for results")
	}
}

func TestQueueProcessesAllJobs(t *testing.T) {
	proc := &fakeProcessor{}
	col := newCollector(5)
	q := NewProcessorQueue(proc, nil, WithWorkers(2), WithQueueSize(2), WithResultFunc(col.handle))
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(ctx, Job{Document: entity.Document{Path: p}, TraceID: "trace-" + p}))
	}
	col.wait(t)
	q.Shutdown(ctx)

	require.EqualValues(t, 5, proc.calls.Load())
	for _, err := range col.errs {
		require.NoError(t, err)
	}
	id, _ := proc.trace.Load("c")
	require.Equal(t, "trace-c", id)
	require.False(t, q.Halted())
}

func TestQueueHaltsAfterConsecutiveErrors(t *testing.T) {
	gate := make(chan struct{})
	proc := &fakeProcessor{fail: func(entity.Document) error {
		<-gate
		return common.ErrDatabase
	}}
	col := newCollector(4)
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithHaltAfter(3), WithResultFunc(col.handle))
	ctx := context.Background()

	for _, p := range []string{"1", "2", "3", "4"} {
		require.NoError(t, q.Enqueue(ctx, Job{Document: entity.Document{Path: p}}))
	}
	close(gate)
	col.wait(t)

	require.True(t, q.Halted())
	require.EqualValues(t, 3, proc.calls.Load())
	require.ErrorIs(t, col.errs["4"], ErrHalted)
	require.ErrorIs(t, q.Enqueue(ctx, Job{Document: entity.Document{Path: "5"}}), ErrHalted)
	q.Shutdown(ctx)
}

func TestQueueSuccessResetsBreaker(t *testing.T) {
	proc := &fakeProcessor{fail: func(doc entity.Document) error {
		if doc.Path == "ok" {
			return nil
		}
		return errors.New("boom")
	}}
	paths := []string{"x1", "x2", "ok", "x3", "x4"}
	col := newCollector(len(paths))
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithHaltAfter(3), WithResultFunc(col.handle))
	ctx := context.Background()

	for _, p := range paths {
		require.NoError(t, q.Enqueue(ctx, Job{Document: entity.Document{Path: p}}))
	}
	col.wait(t)
	q.Shutdown(ctx)

	require.False(t, q.Halted())
	require.EqualValues(t, len(paths), proc.calls.Load())
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	q := NewProcessorQueue(&fakeProcessor{}, nil, WithWorkers(1))
	ctx := context.Background()
	q.Shutdown(ctx)
	q.Shutdown(ctx)
	require.ErrorIs(t, q.Enqueue(ctx, Job{Document: entity.Document{Path: "late"}}), ErrClosed)
}

func TestQueueEnqueueHonoursContextWhenFull(t *testing.T) {
	block := make(chan struct{})
	proc := &fakeProcessor{fail: func(entity.Document) error {
		<-block
		return nil
	}}
	q := NewProcessorQueue(proc, nil, WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(block)
		q.Shutdown(context.Background())
	}()

	require.NoError(t, q.Enqueue(context.Background(), Job{Document: entity.Document{Path: "busy"}}))
	require.Eventually(t, func() bool { return proc.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), Job{Document: entity.Document{Path: "buffered"}}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Enqueue(ctx, Job{Document: entity.Document{Path: "overflow"}}), context.DeadlineExceeded)
}
