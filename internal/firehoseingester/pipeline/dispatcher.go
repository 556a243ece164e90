package pipeline

import (
	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/ingest"
	"github.com/firehoseproject/firehose/internal/common/ingest/metrics"
	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
)

// ResumePositioner is the part of the feed the dispatcher needs
type ResumePositioner interface {
	UpdateResumePosition(seq int64)
}

// Dispatcher hands frames from the feed to the work queue.  It runs on the goroutine that owns the feed connection,
// so a full queue holds up the feed.
type Dispatcher struct {
	cursor  *ingest.Cursor
	feed    ResumePositioner
	queue   *ingest.WorkQueue[model.Frame]
	metrics *metrics.Metrics
}

func NewDispatcher(
	cursor *ingest.Cursor,
	feed ResumePositioner,
	queue *ingest.WorkQueue[model.Frame],
	metrics *metrics.Metrics,
) *Dispatcher {
	return &Dispatcher{
		cursor:  cursor,
		feed:    feed,
		queue:   queue,
		metrics: metrics,
	}
}

// Dispatch publishes the current cursor to the feed and enqueues frame, blocking while the queue is full.
// A frame that cannot be enqueued is dropped.
func (d *Dispatcher) Dispatch(ctx *firehosecontext.Context, frame model.Frame) error {
	if seq := d.cursor.Get(); seq > 0 {
		d.feed.UpdateResumePosition(seq)
	}

	if err := d.queue.Put(ctx, frame); err != nil {
		d.metrics.RecordFrameDropped()
		ctx.Log.WithError(err).Warnf("Dropping frame of %d bytes", len(frame))
		return nil
	}
	d.metrics.RecordFrameDispatched()
	d.metrics.RecordQueueDepth(d.queue.Len())
	return nil
}

// Handler returns Dispatch wrapped so that every inbound frame is counted by meter
func (d *Dispatcher) Handler(meter *ingest.RateMeter) ingest.Handler[model.Frame] {
	return ingest.WithRateMeasurement[model.Frame](meter, d.Dispatch)
}
