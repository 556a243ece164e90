package firehoseingester

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/ingest"
	commonmetrics "github.com/firehoseproject/firehose/internal/common/ingest/metrics"
	"github.com/firehoseproject/firehose/internal/firehoseingester/codec"
	"github.com/firehoseproject/firehose/internal/firehoseingester/configuration"
	"github.com/firehoseproject/firehose/internal/firehoseingester/feed"
	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
	"github.com/firehoseproject/firehose/internal/firehoseingester/pipeline"
	"github.com/firehoseproject/firehose/internal/firehoseingester/sink"
)

type scriptedFeed struct {
	mu        sync.Mutex
	frames    []model.Frame
	failures  int
	starts    int
	resume    []int64
	delivered chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
}

func newScriptedFeed(frames []model.Frame, failures int) *scriptedFeed {
	return &scriptedFeed{
		frames:    frames,
		failures:  failures,
		delivered: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

func (f *scriptedFeed) Start(ctx *firehosecontext.Context, onFrame ingest.Handler[model.Frame]) error {
	f.mu.Lock()
	f.starts++
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return &feed.FeedError{Err: errors.New("connection reset")}
	}
	frames := f.frames
	f.frames = nil
	f.mu.Unlock()

	for _, frame := range frames {
		if err := onFrame(ctx, frame); err != nil {
			return &feed.FeedError{Err: err}
		}
	}
	if frames != nil {
		close(f.delivered)
	}

	select {
	case <-f.stopped:
		return nil
	case <-ctx.Done():
		return &feed.FeedError{Err: ctx.Err()}
	}
}

func (f *scriptedFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopped) })
}

func (f *scriptedFeed) UpdateResumePosition(seq int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resume = append(f.resume, seq)
}

func (f *scriptedFeed) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *scriptedFeed) resumePositions() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.resume...)
}

type recordingSink struct {
	delay time.Duration
	calls atomic.Int32
	mu    sync.Mutex
	rows  []sink.PostRow
}

func (s *recordingSink) Insert(_ *firehosecontext.Context, row sink.PostRow) error {
	s.calls.Add(1)
	time.Sleep(time.Millisecond + s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, row)
	return nil
}

func (s *recordingSink) insertedRows() []sink.PostRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sink.PostRow(nil), s.rows...)
}

func testConfig() configuration.Configuration {
	return configuration.Configuration{
		Feed: configuration.FeedConfig{
			Url:                 "ws://localhost/subscribe",
			ReconnectBackoff:    time.Millisecond,
			MaxReconnectBackoff: 10 * time.Millisecond,
		},
		QueueSize:          10,
		Workers:            2,
		CheckpointInterval: 20,
		DrainPollInterval:  5 * time.Millisecond,
		TerminationTimeout: 5 * time.Second,
	}
}

func testMetrics() *commonmetrics.Metrics {
	return commonmetrics.NewMetricsWithRegistry(commonmetrics.FirehoseIngesterMetricsPrefix, prometheus.NewRegistry())
}

func postFrame(t *testing.T, seq int64, text string) model.Frame {
	rkey := fmt.Sprintf("post%d", seq)
	block, err := json.Marshal(map[string]string{
		"$type":     model.CollectionPost,
		"text":      text,
		"createdAt": "2024-05-01T10:00:00Z",
	})
	require.NoError(t, err)
	frame, err := codec.EncodeCommit(&model.Commit{
		Seq:    seq,
		Repo:   "did:plc:author",
		Ops:    []model.Operation{{Action: model.ActionCreate, Path: model.CollectionPost + "/" + rkey, Cid: "cid" + rkey}},
		Blocks: model.BlockStore{"cid" + rkey: block},
	})
	require.NoError(t, err)
	return frame
}

func runIngester(ingester *Ingester) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ingester.Run(firehosecontext.Background())
	}()
	return done
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestIngester_ShutdownProcessesQueuedWork(t *testing.T) {
	var frames []model.Frame
	for seq := int64(1); seq <= 5; seq++ {
		frames = append(frames, postFrame(t, seq, fmt.Sprintf("post\nnumber %d", seq)))
	}
	f := newScriptedFeed(frames, 0)
	s := &recordingSink{}
	ingester := NewIngester(testConfig(), f, s, testMetrics())

	done := runIngester(ingester)
	waitFor(t, f.delivered, "frames to be delivered")
	ingester.RequestShutdown()
	waitFor(t, done, "ingester to exit")

	assert.Equal(t, pipeline.Exited, ingester.State())
	rows := s.insertedRows()
	require.Len(t, rows, 5)
	texts := map[string]bool{}
	for _, row := range rows {
		texts[row.Text] = true
	}
	for seq := 1; seq <= 5; seq++ {
		assert.True(t, texts[fmt.Sprintf("post number %d", seq)])
	}
}

func TestIngester_ResumesFromStartCursor(t *testing.T) {
	config := testConfig()
	config.Feed.StartCursor = 140
	f := newScriptedFeed(nil, 0)
	ingester := NewIngester(config, f, &recordingSink{}, testMetrics())

	done := runIngester(ingester)
	assert.Eventually(t, func() bool { return f.startCount() == 1 }, 5*time.Second, time.Millisecond)
	ingester.RequestShutdown()
	waitFor(t, done, "ingester to exit")

	positions := f.resumePositions()
	require.NotEmpty(t, positions)
	assert.Equal(t, int64(140), positions[0])
	assert.Equal(t, int64(140), ingester.Cursor())
}

func TestIngester_ReconnectsAfterFeedErrors(t *testing.T) {
	f := newScriptedFeed([]model.Frame{postFrame(t, 1, "after reconnect")}, 3)
	s := &recordingSink{}
	ingester := NewIngester(testConfig(), f, s, testMetrics())

	done := runIngester(ingester)
	waitFor(t, f.delivered, "frames to be delivered")
	ingester.RequestShutdown()
	waitFor(t, done, "ingester to exit")

	assert.Equal(t, 4, f.startCount())
	require.Len(t, s.insertedRows(), 1)
	assert.Equal(t, "after reconnect", s.insertedRows()[0].Text)
}

func TestIngester_CheckpointsOnlyAtInterval(t *testing.T) {
	var frames []model.Frame
	for seq := int64(1); seq <= 45; seq++ {
		frame, err := codec.EncodeCommit(&model.Commit{Seq: seq, Repo: "did:plc:author"})
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	f := newScriptedFeed(frames, 0)
	ingester := NewIngester(testConfig(), f, &recordingSink{}, testMetrics())

	done := runIngester(ingester)
	waitFor(t, f.delivered, "frames to be delivered")
	ingester.RequestShutdown()
	waitFor(t, done, "ingester to exit")

	assert.Equal(t, int64(40), ingester.Cursor())
	for _, seq := range f.resumePositions() {
		assert.Zero(t, seq%20, "resume position %d is not a checkpoint", seq)
	}
}

func TestIngester_SecondShutdownRequestIsSafe(t *testing.T) {
	f := newScriptedFeed(nil, 0)
	ingester := NewIngester(testConfig(), f, &recordingSink{}, testMetrics())

	done := runIngester(ingester)
	ingester.RequestShutdown()
	ingester.RequestShutdown()
	ingester.RequestShutdown()
	waitFor(t, done, "ingester to exit")

	assert.Equal(t, pipeline.Exited, ingester.State())
}

func TestIngester_EscalatedShutdownReleasesBlockedDispatch(t *testing.T) {
	config := testConfig()
	config.QueueSize = 1
	config.Workers = 1
	var frames []model.Frame
	for seq := int64(1); seq <= 5; seq++ {
		frames = append(frames, postFrame(t, seq, fmt.Sprintf("post %d", seq)))
	}
	f := newScriptedFeed(frames, 0)
	s := &recordingSink{delay: 300 * time.Millisecond}
	ingester := NewIngester(config, f, s, testMetrics())

	done := runIngester(ingester)
	// One frame is with the worker, one fills the queue and the feed is blocked dispatching the third
	assert.Eventually(t, func() bool {
		return s.calls.Load() >= 1 && ingester.queue.Len() == 1
	}, 5*time.Second, time.Millisecond)

	ingester.RequestShutdown()
	ingester.RequestShutdown()
	waitFor(t, done, "ingester to exit after an escalated shutdown")

	assert.Equal(t, pipeline.Exited, ingester.State())
	assert.Less(t, len(s.insertedRows()), 5)
}

func TestIngester_TerminationTimeoutReleasesBlockedDispatch(t *testing.T) {
	config := testConfig()
	config.QueueSize = 1
	config.Workers = 1
	config.TerminationTimeout = 50 * time.Millisecond
	var frames []model.Frame
	for seq := int64(1); seq <= 5; seq++ {
		frames = append(frames, postFrame(t, seq, fmt.Sprintf("post %d", seq)))
	}
	f := newScriptedFeed(frames, 0)
	s := &recordingSink{delay: 2 * time.Second}
	ingester := NewIngester(config, f, s, testMetrics())

	done := runIngester(ingester)
	assert.Eventually(t, func() bool {
		return s.calls.Load() >= 1 && ingester.queue.Len() == 1
	}, 5*time.Second, time.Millisecond)

	ingester.RequestShutdown()
	ingester.RequestShutdown()
	waitFor(t, done, "ingester to exit once workers exceeded the termination timeout")

	assert.Equal(t, pipeline.Exited, ingester.State())
}

func TestIngester_HealthFollowsShutdown(t *testing.T) {
	f := newScriptedFeed(nil, 0)
	ingester := NewIngester(testConfig(), f, &recordingSink{}, testMetrics())
	assert.NoError(t, ingester.Check())

	done := runIngester(ingester)
	ingester.RequestShutdown()
	waitFor(t, done, "ingester to exit")

	assert.ErrorContains(t, ingester.Check(), "Exited")
}
