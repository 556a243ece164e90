package clickhousedb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/ingest"
	"github.com/firehoseproject/firehose/internal/common/ingest/metrics"
	"github.com/firehoseproject/firehose/internal/firehoseingester/configuration"
	"github.com/firehoseproject/firehose/internal/firehoseingester/sink"
)

var ErrSinkClosed = errors.New("sink is closed")

type batchInserter interface {
	InsertBatch(ctx context.Context, rows []sink.PostRow) error
}

type connInserter struct {
	conn  clickhouse.Conn
	table string
}

// InsertBatch writes rows in a single asynchronous insert and waits for the server to acknowledge it
func (c *connInserter) InsertBatch(ctx context.Context, rows []sink.PostRow) error {
	ctx = clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"async_insert":          1,
		"wait_for_async_insert": 1,
	}))

	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", c.table))
	if err != nil {
		return errors.WithMessagef(err, "prepare batch for %s failed", c.table)
	}

	for i := range rows {
		if err := batch.AppendStruct(&rows[i]); err != nil {
			return errors.WithMessagef(err, "appending row for %s failed", rows[i].Uri)
		}
	}

	if err := batch.Send(); err != nil {
		return errors.WithMessagef(err, "sending batch of %d rows failed", len(rows))
	}
	return nil
}

// ClickhouseSink buffers rows and writes them to ClickHouse in batches.  Writes are best effort: a batch that still
// fails after the configured number of attempts is logged and dropped.
type ClickhouseSink struct {
	inserter   batchInserter
	input      chan sink.PostRow
	maxRetries uint
	retryDelay time.Duration
	metrics    *metrics.Metrics
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New creates a sink writing to the configured table over conn.  The connection is shared and must outlive the sink.
func New(conn clickhouse.Conn, config configuration.ClickHouseConfig, m *metrics.Metrics) *ClickhouseSink {
	return newClickhouseSink(&connInserter{conn: conn, table: config.Table}, config, m)
}

func newClickhouseSink(inserter batchInserter, config configuration.ClickHouseConfig, m *metrics.Metrics) *ClickhouseSink {
	s := &ClickhouseSink{
		inserter:   inserter,
		input:      make(chan sink.PostRow, config.BatchSize),
		maxRetries: max(config.MaxRetries, 1),
		retryDelay: config.RetryDelay,
		metrics:    m,
		done:       make(chan struct{}),
	}
	batcher := ingest.NewBatcher[sink.PostRow](s.input, config.BatchSize, config.BatchDuration, s.store)
	go func() {
		defer close(s.done)
		batcher.Run(context.Background())
	}()
	return s
}

// Insert queues row for the next batch.  It blocks while the batch buffer is full.
func (s *ClickhouseSink) Insert(ctx *firehosecontext.Context, row sink.PostRow) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.input <- row:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes any buffered rows and waits for the final batch to be written
func (s *ClickhouseSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.input)
	s.mu.Unlock()

	<-s.done
	return nil
}

func (s *ClickhouseSink) store(rows []sink.PostRow) {
	ctx := context.Background()
	err := retry.Do(
		func() error {
			return s.inserter.InsertBatch(ctx, rows)
		},
		retry.Attempts(s.maxRetries),
		retry.Delay(s.retryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.WithError(err).Warnf("Insert of %d rows failed on attempt %d", len(rows), n+1)
		}),
	)
	if err != nil {
		s.metrics.RecordDBError(metrics.DBOperationInsert)
		log.WithError(err).Errorf("Dropping %d rows after %d failed insert attempts", len(rows), s.maxRetries)
		return
	}
	s.metrics.RecordRowsInserted(len(rows))
	log.Debugf("Inserted %d rows", len(rows))
}
