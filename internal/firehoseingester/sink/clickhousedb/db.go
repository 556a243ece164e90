package clickhousedb

import (
	"context"
	"crypto/tls"
	"embed"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
	"github.com/firehoseproject/firehose/internal/common/ingest/metrics"
	"github.com/firehoseproject/firehose/internal/common/util"
	"github.com/firehoseproject/firehose/internal/firehoseingester/configuration"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

func options(config configuration.ClickHouseConfig) *clickhouse.Options {
	opts := &clickhouse.Options{
		Addr: []string{config.Address()},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: config.Compression},
	}
	if config.Secure {
		opts.TLS = &tls.Config{}
	}
	return opts
}

// OpenClickHouse opens a connection pool to the configured server and checks that it is reachable
func OpenClickHouse(ctx *firehosecontext.Context, config configuration.ClickHouseConfig) (clickhouse.Conn, error) {
	conn, err := clickhouse.Open(options(config))
	if err != nil {
		return nil, errors.WithMessagef(err, "could not connect to clickhouse on %s", config.Address())
	}

	if err = conn.Ping(ctx); err != nil {
		util.CloseResource(ctx.Log, "clickhouse", conn)
		return nil, errors.WithMessagef(err, "failed to ping clickhouse at %s", config.Address())
	}
	return conn, nil
}

// MigrateDB brings the schema up to date
func MigrateDB(ctx *firehosecontext.Context, config configuration.ClickHouseConfig) error {
	db := clickhouse.OpenDB(options(config))
	defer util.CloseResource(ctx.Log, "clickhouse migrations", db)

	goose.SetBaseFS(embeddedMigrations)

	if err := goose.SetDialect("clickhouse"); err != nil {
		return errors.WithMessage(err, "failed to set goose dialect")
	}

	if err := goose.UpContext(ctx, db, "migrations"); !errors.Is(err, goose.ErrNoNextVersion) && err != nil {
		return errors.WithMessage(err, "failed to run clickhouse migrations")
	}

	ctx.Log.Info("Database migrations completed successfully")
	return nil
}

// PingChecker reports ClickHouse as unhealthy when it does not answer a ping
type PingChecker struct {
	conn    pinger
	timeout time.Duration
	metrics *metrics.Metrics
}

type pinger interface {
	Ping(ctx context.Context) error
}

func NewPingChecker(conn pinger, m *metrics.Metrics) *PingChecker {
	return &PingChecker{conn: conn, timeout: 5 * time.Second, metrics: m}
}

func (p *PingChecker) Check() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.conn.Ping(ctx); err != nil {
		p.metrics.RecordDBError(metrics.DBOperationPing)
		return errors.WithMessage(err, "clickhouse ping failed")
	}
	return nil
}
