package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/ingest"
	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
)

type transitionRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *transitionRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *transitionRecorder) recorded() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

// neverEmpty is a queue that does not drain by itself
type neverEmpty struct{}

func (neverEmpty) Empty() bool { return false }

// emptiesAfter reports empty once it has been polled n times
type emptiesAfter struct {
	polls atomic.Int32
	n     int32
}

func (e *emptiesAfter) Empty() bool {
	return e.polls.Add(1) > e.n
}

func workersStoppedBy() (context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(done)
	}()
	return cancel, done
}

func waitForExit(t *testing.T, c *ShutdownCoordinator) {
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("coordinator did not exit; state is %s", c.State())
	}
}

func TestShutdownCoordinator_DrainsQueueBeforeStoppingWorkers(t *testing.T) {
	s := &fakeSink{delay: 10 * time.Millisecond}
	queue := ingest.NewWorkQueue[model.Frame](10)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, queue.Put(firehosecontext.Background(), postCommitFrame(t, i, string(rune('a'+i)), "post")))
	}

	feed := &fakeFeed{}
	pool := NewWorkerPool(queue, ingest.NewCursor(0), s, 2, 20, testMetrics())
	workerCtx, cancelWorkers := firehosecontext.WithCancel(firehosecontext.Background())
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		assert.NoError(t, pool.Run(workerCtx))
	}()

	recorder := &transitionRecorder{}
	c := NewShutdownCoordinator(feed, queue, cancelWorkers, workersDone, 5*time.Millisecond, 5*time.Second)
	c.onTransition = recorder.record

	assert.Equal(t, Running, c.State())
	c.RequestShutdown()
	waitForExit(t, c)

	assert.Equal(t, []State{StoppingFeed, Draining, Terminating, Exited}, recorder.recorded())
	assert.Equal(t, Exited, c.State())
	assert.Equal(t, 1, feed.stopCount())
	assert.True(t, queue.Empty())
	assert.Len(t, s.insertedRows(), 5)
	select {
	case <-workersDone:
	default:
		t.Fatal("workers still running after exit")
	}
}

func TestShutdownCoordinator_WaitsForQueueToEmpty(t *testing.T) {
	queue := &emptiesAfter{n: 3}
	var pollsAtCancel int32
	ctx, cancel := context.WithCancel(context.Background())
	workersDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(workersDone)
	}()
	cancelWorkers := func() {
		atomic.StoreInt32(&pollsAtCancel, queue.polls.Load())
		cancel()
	}

	c := NewShutdownCoordinator(&fakeFeed{}, queue, cancelWorkers, workersDone, time.Millisecond, 5*time.Second)
	c.RequestShutdown()
	waitForExit(t, c)

	assert.Equal(t, int32(4), atomic.LoadInt32(&pollsAtCancel))
}

func TestShutdownCoordinator_SecondRequestSkipsDrain(t *testing.T) {
	cancelWorkers, workersDone := workersStoppedBy()
	feed := &fakeFeed{}
	recorder := &transitionRecorder{}
	c := NewShutdownCoordinator(feed, neverEmpty{}, cancelWorkers, workersDone, time.Millisecond, 5*time.Second)
	c.onTransition = recorder.record

	select {
	case <-c.Stopping():
		t.Fatal("stopping before shutdown was requested")
	default:
	}

	c.RequestShutdown()
	select {
	case <-c.Stopping():
	default:
		t.Fatal("stopping should be closed once shutdown is requested")
	}
	assert.Eventually(t, func() bool { return c.State() == Draining }, 5*time.Second, time.Millisecond)

	c.RequestShutdown()
	waitForExit(t, c)

	assert.Equal(t, []State{StoppingFeed, Draining, Terminating, Exited}, recorder.recorded())
	assert.Equal(t, 1, feed.stopCount())

	// Further requests are ignored
	c.RequestShutdown()
	c.RequestShutdown()
	assert.Equal(t, Exited, c.State())
	assert.Equal(t, 1, feed.stopCount())
}

func TestShutdownCoordinator_ConcurrentRequests(t *testing.T) {
	cancelWorkers, workersDone := workersStoppedBy()
	feed := &fakeFeed{}
	c := NewShutdownCoordinator(feed, &emptiesAfter{n: 2}, cancelWorkers, workersDone, time.Millisecond, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RequestShutdown()
		}()
	}
	wg.Wait()
	waitForExit(t, c)

	assert.Equal(t, 1, feed.stopCount())
	assert.Equal(t, Exited, c.State())
}

func TestShutdownCoordinator_GivesUpOnStuckWorkers(t *testing.T) {
	stuck := make(chan struct{})
	c := NewShutdownCoordinator(&fakeFeed{}, &emptiesAfter{}, func() {}, stuck, time.Millisecond, 20*time.Millisecond)

	c.RequestShutdown()
	waitForExit(t, c)

	assert.Equal(t, Exited, c.State())
}

func TestShutdownCoordinator_TerminatingClosesBeforeWorkersAreCancelled(t *testing.T) {
	var closedAtCancel bool
	var c *ShutdownCoordinator
	workersDone := make(chan struct{})
	c = NewShutdownCoordinator(&fakeFeed{}, &emptiesAfter{}, func() {
		select {
		case <-c.Terminating():
			closedAtCancel = true
		default:
		}
		close(workersDone)
	}, workersDone, time.Millisecond, 5*time.Second)

	select {
	case <-c.Terminating():
		t.Fatal("terminating closed before shutdown was requested")
	default:
	}

	c.RequestShutdown()
	waitForExit(t, c)

	assert.True(t, closedAtCancel)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "StoppingFeed", StoppingFeed.String())
	assert.Equal(t, "Draining", Draining.String())
	assert.Equal(t, "Terminating", Terminating.String())
	assert.Equal(t, "Exited", Exited.String())
	assert.Equal(t, "Unknown", State(42).String())
}
