package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/ingest"
	"github.com/firehoseproject/firehose/internal/common/ingest/metrics"
	"github.com/firehoseproject/firehose/internal/firehoseingester/classify"
	"github.com/firehoseproject/firehose/internal/firehoseingester/codec"
	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
	"github.com/firehoseproject/firehose/internal/firehoseingester/sink"
)

const tracerName = "github.com/firehoseproject/firehose/internal/firehoseingester/pipeline"

var newlines = strings.NewReplacer("\r\n", " ", "\n", " ")

// WorkerPool runs a fixed number of workers that take frames off the queue, classify them and forward created posts
// to the sink.  Frames are processed independently; there is no ordering between workers.
type WorkerPool struct {
	queue              *ingest.WorkQueue[model.Frame]
	cursor             *ingest.Cursor
	sink               sink.Sink
	workers            int
	checkpointInterval int64
	metrics            *metrics.Metrics
	tracer             trace.Tracer
	clock              clock.PassiveClock
}

func NewWorkerPool(
	queue *ingest.WorkQueue[model.Frame],
	cursor *ingest.Cursor,
	sink sink.Sink,
	workers int,
	checkpointInterval int64,
	metrics *metrics.Metrics,
) *WorkerPool {
	return &WorkerPool{
		queue:              queue,
		cursor:             cursor,
		sink:               sink,
		workers:            max(workers, 1),
		checkpointInterval: checkpointInterval,
		metrics:            metrics,
		tracer:             otel.Tracer(tracerName),
		clock:              clock.RealClock{},
	}
}

// Run starts the workers and blocks until all of them have exited.  Workers only exit once ctx is cancelled, and
// only between frames: a frame that has been taken off the queue is always processed to completion.
func (p *WorkerPool) Run(ctx *firehosecontext.Context) error {
	g, ctx := firehosecontext.ErrGroup(ctx)
	for i := 0; i < p.workers; i++ {
		workerCtx := firehosecontext.WithLogField(ctx, "worker", i)
		g.Go(func() error {
			p.runWorker(workerCtx)
			return nil
		})
	}
	ctx.Log.Infof("Started %d workers", p.workers)
	return g.Wait()
}

func (p *WorkerPool) runWorker(ctx *firehosecontext.Context) {
	for ctx.Err() == nil {
		frame, err := p.queue.Get(ctx)
		if err != nil {
			break
		}
		p.metrics.RecordQueueDepth(p.queue.Len())
		p.processFrame(firehosecontext.WithoutCancel(ctx), frame)
	}
	ctx.Log.Debug("Worker exiting")
}

func (p *WorkerPool) processFrame(ctx *firehosecontext.Context, frame model.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordProcessingError(metrics.ProcessingStagePanic)
			ctx.Log.WithField("panic", fmt.Sprintf("%v", r)).Error("Recovered from panic while processing frame")
		}
	}()

	msg, err := codec.ParseFrame(frame)
	if err != nil {
		p.metrics.RecordFrameDiscarded(metrics.FrameDiscardMalformed)
		ctx.Log.WithError(err).Warn("Discarding malformed frame")
		return
	}
	commit, ok := msg.(*model.Commit)
	if !ok {
		p.metrics.RecordFrameDiscarded(metrics.FrameDiscardNotCommit)
		return
	}

	spanCtx, span := p.tracer.Start(ctx, "process_commit", trace.WithAttributes(
		attribute.Int64("seq", commit.Seq),
		attribute.String("repo", commit.Repo),
		attribute.Int("ops", len(commit.Ops)),
	))
	defer span.End()
	ctx = firehosecontext.WithLogFields(
		firehosecontext.New(spanCtx, ctx.Log),
		logrus.Fields{"seq": commit.Seq, "repo": commit.Repo},
	)
	if !commit.Time.IsZero() {
		p.metrics.RecordCommitDelay(p.clock.Since(commit.Time))
	}

	if ingest.IsCheckpoint(commit.Seq, p.checkpointInterval) && p.cursor.Advance(commit.Seq) {
		p.metrics.RecordCheckpoint(commit.Seq)
	}

	if commit.Blocks == nil {
		p.metrics.RecordFrameDiscarded(metrics.FrameDiscardNoBlocks)
		return
	}

	classification := classify.Classify(commit)
	for _, d := range classification.Diagnostics {
		p.metrics.RecordDecodeError(d.Collection)
		ctx.Log.WithError(d.Reason).
			WithField("uri", d.Uri).
			WithField("cid", d.Cid).
			WithField("raw", string(d.Raw)).
			Warn("Could not decode record")
	}
	if err := classification.Err(); err != nil {
		span.RecordError(err)
	}
	p.metrics.RecordFrameProcessed()

	for _, created := range classification.Created(model.CollectionPost) {
		post, ok := created.Record.(*model.Post)
		if !ok {
			continue
		}
		row := sink.NewPostRow(
			p.createdAt(post, commit),
			created.Author,
			newlines.Replace(post.Text),
			created.Uri,
			created.Cid,
		)
		if err := p.sink.Insert(ctx, row); err != nil {
			p.metrics.RecordProcessingError(metrics.ProcessingStageSink)
			span.SetStatus(codes.Error, err.Error())
			ctx.Log.WithError(err).Errorf("Failed to forward post %s", created.Uri)
		}
	}
}

// createdAt is taken from the record, falling back to the commit time and then to the current time
func (p *WorkerPool) createdAt(post *model.Post, commit *model.Commit) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, post.CreatedAt); err == nil {
		return t
	}
	if !commit.Time.IsZero() {
		return commit.Time
	}
	return p.clock.Now()
}
