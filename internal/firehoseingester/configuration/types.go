package configuration

import (
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-playground/validator/v10"

	"github.com/firehoseproject/firehose/internal/common/otel"
)

// Configuration is the config object for the firehose ingester
type Configuration struct {
	// Port on which prometheus metrics will be served
	MetricsPort uint16
	// One of the logrus levels.  Empty leaves the default in place
	LogLevel string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	// Upstream firehose configuration
	Feed FeedConfig
	// Capacity of the queue between the feed and the workers
	QueueSize int `validate:"gte=1"`
	// Number of workers.  Zero means 2*NumCPU-1
	Workers int `validate:"gte=0"`
	// The cursor is only advanced by commits whose sequence number is a multiple of this
	CheckpointInterval int64 `validate:"gte=1"`
	// How often the queue is checked for emptiness while draining on shutdown
	DrainPollInterval time.Duration `validate:"required"`
	// Maximum time to wait for workers to exit once they have been told to stop
	TerminationTimeout time.Duration `validate:"required"`
	// Where created posts are written
	ClickHouse ClickHouseConfig
	// If an export strategy is set, every processed commit is traced
	Tracing otel.Config
}

type FeedConfig struct {
	// Websocket url of the firehose, e.g. wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos
	Url string `validate:"required,url"`
	// Sequence number to resume from.  Zero means start at the live tail
	StartCursor      int64 `validate:"gte=0"`
	HandshakeTimeout time.Duration
	// Maximum size in bytes of a single frame.  Zero means unlimited
	ReadLimit int64 `validate:"gte=0"`
	// Initial delay before reconnecting after the feed fails
	ReconnectBackoff time.Duration `validate:"required"`
	// Upper bound on the reconnect delay
	MaxReconnectBackoff time.Duration `validate:"required,gtefield=ReconnectBackoff"`
}

type ClickHouseConfig struct {
	Addr     string `validate:"required"`
	Database string `validate:"required"`
	Username string
	Password string
	// If true the connection is made over TLS
	Secure      bool
	Compression clickhouse.CompressionMethod
	// Table that post rows are written to
	Table string `validate:"required"`
	// Number of rows that will be batched together before being inserted into the database
	BatchSize int `validate:"gte=1"`
	// Maximum time since the last batch before a batch will be inserted into the database
	BatchDuration time.Duration `validate:"required"`
	// Number of attempts made to insert a batch before it is dropped
	MaxRetries uint `validate:"gte=1"`
	// Delay between insert attempts
	RetryDelay time.Duration
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}
