package ingest

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/firehoseproject/firehose/internal/common/firehosecontext"
)

// Handler processes a single item.  Middlewares such as WithRateMeasurement wrap a Handler to add behaviour
// without changing its control flow.
type Handler[T any] func(ctx *firehosecontext.Context, item T) error

// RateMeter counts calls and, once a window of at least a second has passed, reports the window's call count and
// starts a new window.
type RateMeter struct {
	mu          sync.Mutex
	calls       int
	windowStart time.Time
	window      time.Duration
	clock       clock.PassiveClock
	report      func(events float64)
}

func NewRateMeter(report func(events float64)) *RateMeter {
	return newRateMeterWithClock(report, clock.RealClock{})
}

func newRateMeterWithClock(report func(events float64), c clock.PassiveClock) *RateMeter {
	return &RateMeter{
		windowStart: c.Now(),
		window:      time.Second,
		clock:       c,
		report:      report,
	}
}

// Mark records a single call.  It never blocks on anything other than its own mutex and never panics.
func (r *RateMeter) Mark() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	now := r.clock.Now()
	if now.Sub(r.windowStart) < r.window {
		return
	}

	log.Debugf("Network load: %d events/second", r.calls)
	r.safeReport(float64(r.calls))
	r.windowStart = now
	r.calls = 0
}

func (r *RateMeter) safeReport(events float64) {
	defer func() {
		if err := recover(); err != nil {
			log.WithField("error", err).Error("Rate report panicked; ignoring")
		}
	}()
	r.report(events)
}

// WithRateMeasurement returns a Handler that marks meter before delegating to next
func WithRateMeasurement[T any](meter *RateMeter, next Handler[T]) Handler[T] {
	return func(ctx *firehosecontext.Context, item T) error {
		meter.Mark()
		return next(ctx, item)
	}
}
