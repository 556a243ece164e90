package firehoseingester

import (
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/firehoseproject/firehose/internal/common"
	"github.com/firehoseproject/firehose/internal/common/app"
	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/health"
	"github.com/firehoseproject/firehose/internal/common/ingest"
	commonmetrics "github.com/firehoseproject/firehose/internal/common/ingest/metrics"
	"github.com/firehoseproject/firehose/internal/common/otel"
	"github.com/firehoseproject/firehose/internal/common/util"
	"github.com/firehoseproject/firehose/internal/firehoseingester/configuration"
	"github.com/firehoseproject/firehose/internal/firehoseingester/feed"
	"github.com/firehoseproject/firehose/internal/firehoseingester/metrics"
	"github.com/firehoseproject/firehose/internal/firehoseingester/model"
	"github.com/firehoseproject/firehose/internal/firehoseingester/pipeline"
	"github.com/firehoseproject/firehose/internal/firehoseingester/sink"
	"github.com/firehoseproject/firehose/internal/firehoseingester/sink/clickhousedb"
)

// Feed is a source of frames that can be resumed from a sequence number
type Feed interface {
	Start(ctx *firehosecontext.Context, onFrame ingest.Handler[model.Frame]) error
	Stop()
	UpdateResumePosition(seq int64)
}

// Run will create a pipeline that takes commits from the firehose and writes created posts to ClickHouse.
// The pipeline runs until a SIGINT or SIGTERM is received and the work already queued has been processed.
func Run(config *configuration.Configuration) {
	log.Info("Firehose Ingester Starting")
	ctx := firehosecontext.Background()

	m := metrics.Get()

	closeTracing, err := otel.LoadOtel(ctx, config.Tracing)
	if err != nil {
		log.WithError(err).Fatal("Could not set up tracing")
	}
	defer func() {
		shutdownCtx, cancel := firehosecontext.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := closeTracing(shutdownCtx); err != nil {
			log.WithError(err).Warn("Failed to flush traces")
		}
	}()

	conn, err := clickhousedb.OpenClickHouse(ctx, config.ClickHouse)
	if err != nil {
		log.WithError(err).Fatal("Could not open clickhouse connection")
	}
	defer util.CloseResource(ctx.Log, "clickhouse", conn)

	postSink := clickhousedb.New(conn, config.ClickHouse, m)
	defer util.CloseResource(ctx.Log, "clickhouse sink", postSink)

	ingester := NewIngester(*config, feed.NewClient(config.Feed), postSink, m)

	// Start metric server
	shutdownMetricServer := common.ServeMetricsAndHealth(
		config.MetricsPort,
		health.All(health.Named("ingester", ingester), clickhousedb.NewPingChecker(conn, m)),
	)
	defer shutdownMetricServer()

	app.NotifyOnShutdownSignal(ctx, ingester)
	ingester.Run(ctx)
	log.Info("Firehose Ingester Exited")
}

// Ingester wires the feed, queue, workers and shutdown coordinator together
type Ingester struct {
	feed        Feed
	queue       *ingest.WorkQueue[model.Frame]
	cursor      *ingest.Cursor
	dispatcher  *pipeline.Dispatcher
	meter       *ingest.RateMeter
	pool        *pipeline.WorkerPool
	coordinator *pipeline.ShutdownCoordinator
	workerCtx   *firehosecontext.Context
	workersDone chan struct{}
	backoff     time.Duration
	maxBackoff  time.Duration
	framesSeen  atomic.Bool
	metrics     *commonmetrics.Metrics
	clock       clock.Clock
}

func NewIngester(config configuration.Configuration, feed Feed, s sink.Sink, m *commonmetrics.Metrics) *Ingester {
	cursor := ingest.NewCursor(config.Feed.StartCursor)
	queue := ingest.NewWorkQueue[model.Frame](config.QueueSize)
	workerCtx, cancelWorkers := firehosecontext.WithCancel(firehosecontext.Background())
	workersDone := make(chan struct{})

	return &Ingester{
		feed:       feed,
		queue:      queue,
		cursor:     cursor,
		dispatcher: pipeline.NewDispatcher(cursor, feed, queue, m),
		meter:      ingest.NewRateMeter(m.RecordEventRate),
		pool:       pipeline.NewWorkerPool(queue, cursor, s, config.WorkerCount(), config.CheckpointInterval, m),
		coordinator: pipeline.NewShutdownCoordinator(
			feed,
			queue,
			cancelWorkers,
			workersDone,
			config.DrainPollInterval,
			config.TerminationTimeout,
		),
		workerCtx:   workerCtx,
		workersDone: workersDone,
		backoff:     config.Feed.ReconnectBackoff,
		maxBackoff:  config.Feed.MaxReconnectBackoff,
		metrics:     m,
		clock:       clock.WallClock,
	}
}

// RequestShutdown begins an orderly shutdown.  Calling it a second time stops waiting for queued work.
func (i *Ingester) RequestShutdown() {
	i.coordinator.RequestShutdown()
}

func (i *Ingester) State() pipeline.State {
	return i.coordinator.State()
}

// Check reports the ingester as unhealthy once it has started shutting down
func (i *Ingester) Check() error {
	if state := i.coordinator.State(); state != pipeline.Running {
		return errors.Errorf("ingester is %s", state)
	}
	return nil
}

func (i *Ingester) Cursor() int64 {
	return i.cursor.Get()
}

// Run blocks until the pipeline has shut down, either because RequestShutdown was called or because ctx was
// cancelled.  Run may only be called once.
func (i *Ingester) Run(ctx *firehosecontext.Context) {
	if seq := i.cursor.Get(); seq > 0 {
		ctx.Log.Infof("Resuming from sequence %d", seq)
		i.feed.UpdateResumePosition(seq)
	}

	go func() {
		defer close(i.workersDone)
		if err := i.pool.Run(firehosecontext.New(i.workerCtx, ctx.Log)); err != nil {
			ctx.Log.WithError(err).Error("Worker pool exited with an error")
		}
	}()

	// Once the workers are being stopped nothing drains the queue, so a dispatch blocked on a full queue has to be
	// released by cancelling the feed's context.
	feedCtx, cancelFeed := firehosecontext.WithCancel(ctx)
	defer cancelFeed()
	go func() {
		select {
		case <-i.coordinator.Terminating():
			cancelFeed()
		case <-feedCtx.Done():
		}
	}()

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		i.runFeed(feedCtx)
	}()

	select {
	case <-i.coordinator.Done():
	case <-ctx.Done():
		i.coordinator.RequestShutdown()
		<-i.coordinator.Done()
	}
	cancelFeed()
	<-feedDone
	ctx.Log.Infof("Pipeline stopped at cursor %d", i.cursor.Get())
}

// runFeed keeps the feed subscribed until shutdown has been requested.  Failed subscriptions are retried with
// exponential backoff; a subscription that delivered frames before failing starts a fresh backoff sequence.
func (i *Ingester) runFeed(ctx *firehosecontext.Context) {
	onFrame := i.dispatcher.Handler(i.meter)
	handler := func(ctx *firehosecontext.Context, frame model.Frame) error {
		i.framesSeen.Store(true)
		return onFrame(ctx, frame)
	}
	subscribe := func() error {
		i.framesSeen.Store(false)
		err := i.feed.Start(ctx, handler)
		if err == nil || i.isStopping() {
			return nil
		}
		return err
	}

	for {
		err := retry.Call(retry.CallArgs{
			Func: subscribe,
			IsFatalError: func(error) bool {
				return i.framesSeen.Load()
			},
			NotifyFunc: func(err error, attempt int) {
				i.metrics.RecordFeedConnectionError()
				ctx.Log.WithError(err).Warnf("Firehose subscription failed (attempt %d)", attempt)
			},
			Attempts:    retry.UnlimitedAttempts,
			Delay:       i.backoff,
			MaxDelay:    i.maxBackoff,
			BackoffFunc: retry.DoubleDelay,
			Clock:       i.clock,
			Stop:        i.coordinator.Stopping(),
		})
		switch {
		case err == nil, retry.IsRetryStopped(err):
			return
		case !i.framesSeen.Load():
			ctx.Log.WithError(err).Error("Giving up on the firehose subscription")
			return
		}

		i.metrics.RecordFeedConnectionError()
		ctx.Log.WithError(err).Warnf("Firehose subscription dropped; reconnecting in %s", i.backoff)
		select {
		case <-i.clock.After(i.backoff):
		case <-i.coordinator.Stopping():
			return
		}
	}
}

func (i *Ingester) isStopping() bool {
	select {
	case <-i.coordinator.Stopping():
		return true
	default:
		return false
	}
}
