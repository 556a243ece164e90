package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	DBOperation        string
	FrameDiscardReason string
	ProcessingStage    string
)

const (
	DBOperationInsert DBOperation = "insert"
	DBOperationPing   DBOperation = "ping"

	FrameDiscardMalformed FrameDiscardReason = "malformed"
	FrameDiscardNotCommit FrameDiscardReason = "not_commit"
	FrameDiscardNoBlocks  FrameDiscardReason = "no_blocks"

	ProcessingStageClassify ProcessingStage = "classify"
	ProcessingStageSink     ProcessingStage = "sink"
	ProcessingStagePanic    ProcessingStage = "panic"
)

const (
	FirehoseIngesterMetricsPrefix = "firehose_ingester_"
)

type Metrics struct {
	eventRate            prometheus.Gauge
	framesDispatched     prometheus.Counter
	framesDropped        prometheus.Counter
	framesDiscarded      *prometheus.CounterVec
	framesProcessed      prometheus.Counter
	processingErrors     *prometheus.CounterVec
	recordDecodeErrors   *prometheus.CounterVec
	rowsInserted         prometheus.Counter
	dbErrorsCounter      *prometheus.CounterVec
	queueDepth           prometheus.Gauge
	checkpoint           prometheus.Gauge
	feedConnectionErrors prometheus.Counter
	commitDelay          prometheus.Histogram
}

// NewMetrics creates a set of ingestion metrics registered against the default prometheus registry
func NewMetrics(prefix string) *Metrics {
	return NewMetricsWithRegistry(prefix, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a set of ingestion metrics registered against reg
func NewMetricsWithRegistry(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		eventRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "event_rate",
			Help: "Number of inbound feed events per second",
		}),
		framesDispatched: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "frames_dispatched",
			Help: "Number of frames handed from the feed to the work queue",
		}),
		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "frames_dropped",
			Help: "Number of frames that could not be placed on the work queue",
		}),
		framesDiscarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "frames_discarded",
			Help: "Number of frames discarded by workers grouped by reason",
		}, []string{"reason"}),
		framesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "frames_processed",
			Help: "Number of commit frames classified by workers",
		}),
		processingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "processing_errors",
			Help: "Number of frame processing errors grouped by stage",
		}, []string{"stage"}),
		recordDecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "record_decode_errors",
			Help: "Number of records that could not be decoded grouped by collection",
		}, []string{"collection"}),
		rowsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "rows_inserted",
			Help: "Number of rows written to the analytical store",
		}),
		dbErrorsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "db_errors",
			Help: "Number of database errors grouped by database operation",
		}, []string{"operation"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "queue_depth",
			Help: "Number of frames waiting in the work queue",
		}),
		checkpoint: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "checkpoint_cursor",
			Help: "Current value of the resume cursor",
		}),
		feedConnectionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "feed_connection_errors",
			Help: "Number of times the feed subscription failed and was restarted",
		}),
		commitDelay: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "commit_delay_seconds",
			Help:    "Time between a commit being made and a worker processing it",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
	}
}

func (m *Metrics) RecordEventRate(events float64) {
	m.eventRate.Set(events)
}

func (m *Metrics) RecordFrameDispatched() {
	m.framesDispatched.Inc()
}

func (m *Metrics) RecordFrameDropped() {
	m.framesDropped.Inc()
}

func (m *Metrics) RecordFrameDiscarded(reason FrameDiscardReason) {
	m.framesDiscarded.With(map[string]string{"reason": string(reason)}).Inc()
}

func (m *Metrics) RecordFrameProcessed() {
	m.framesProcessed.Inc()
}

func (m *Metrics) RecordProcessingError(stage ProcessingStage) {
	m.processingErrors.With(map[string]string{"stage": string(stage)}).Inc()
}

func (m *Metrics) RecordDecodeError(collection string) {
	m.recordDecodeErrors.With(map[string]string{"collection": collection}).Inc()
}

func (m *Metrics) RecordRowsInserted(n int) {
	m.rowsInserted.Add(float64(n))
}

func (m *Metrics) RecordDBError(operation DBOperation) {
	m.dbErrorsCounter.With(map[string]string{"operation": string(operation)}).Inc()
}

func (m *Metrics) RecordQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *Metrics) RecordCheckpoint(seq int64) {
	m.checkpoint.Set(float64(seq))
}

func (m *Metrics) RecordFeedConnectionError() {
	m.feedConnectionErrors.Inc()
}

func (m *Metrics) RecordCommitDelay(delay time.Duration) {
	m.commitDelay.Observe(delay.Seconds())
}
