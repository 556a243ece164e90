package pipeline

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/ingest/metrics"
	"github.com/firehoseproject/firehose/internal/firehoseingester/codec"
	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
	"github.com/firehoseproject/firehose/internal/firehoseingester/sink"
)

const testAuthor = "did:plc:author"

type fakeFeed struct {
	mu       sync.Mutex
	stops    int
	resumeAt []int64
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeFeed) UpdateResumePosition(seq int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeAt = append(f.resumeAt, seq)
}

func (f *fakeFeed) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *fakeFeed) resumePositions() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.resumeAt...)
}

type fakeSink struct {
	mu       sync.Mutex
	rows     []sink.PostRow
	calls    int
	err      error
	panicOn  int
	delay    time.Duration
	observer func()
}

func (f *fakeSink) Insert(_ *firehosecontext.Context, row sink.PostRow) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicOn == f.calls {
		panic("sink exploded")
	}
	if f.observer != nil {
		f.observer()
	}
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeSink) insertedRows() []sink.PostRow {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sink.PostRow(nil), f.rows...)
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testMetrics() *metrics.Metrics {
	return metrics.NewMetricsWithRegistry(metrics.FirehoseIngesterMetricsPrefix, prometheus.NewRegistry())
}

func postBlock(text, createdAt string) []byte {
	block, _ := json.Marshal(map[string]string{
		"$type":     model.CollectionPost,
		"text":      text,
		"createdAt": createdAt,
	})
	return block
}

// postCommitFrame returns a commit frame creating a single post with key rkey
func postCommitFrame(t *testing.T, seq int64, rkey string, text string) model.Frame {
	return encodeFrame(t, &model.Commit{
		Seq:  seq,
		Repo: testAuthor,
		Time: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Ops: []model.Operation{
			{Action: model.ActionCreate, Path: model.CollectionPost + "/" + rkey, Cid: "cid-" + rkey},
		},
		Blocks: model.BlockStore{"cid-" + rkey: postBlock(text, "2024-05-01T10:00:00Z")},
	})
}

func encodeFrame(t *testing.T, commit *model.Commit) model.Frame {
	frame, err := codec.EncodeCommit(commit)
	require.NoError(t, err)
	return frame
}
