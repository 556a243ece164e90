package metrics

import (
	"github.com/firehoseproject/firehose/internal/common/ingest/metrics"
)

var m = metrics.NewMetrics(metrics.FirehoseIngesterMetricsPrefix)

func Get() *metrics.Metrics {
	return m
}
