package ingest

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

// Batcher groups values read from a channel into slices handed to flush.  A batch is flushed once it holds maxItems
// values or maxLatency after its first value arrived, whichever comes first.  Whatever is pending when the input
// closes or ctx ends is flushed before Run returns, so no accepted value is lost.
type Batcher[T any] struct {
	input      <-chan T
	maxItems   int
	maxLatency time.Duration
	clock      clock.Clock
	flush      func([]T)
}

func NewBatcher[T any](input <-chan T, maxItems int, maxLatency time.Duration, flush func([]T)) *Batcher[T] {
	return &Batcher[T]{
		input:      input,
		maxItems:   max(maxItems, 1),
		maxLatency: maxLatency,
		flush:      flush,
		clock:      clock.RealClock{},
	}
}

func (b *Batcher[T]) Run(ctx context.Context) {
	var (
		batch    []T
		deadline <-chan time.Time
	)
	emit := func() {
		if len(batch) > 0 {
			b.flush(batch)
		}
		batch = nil
		deadline = nil
	}

	for {
		select {
		case <-ctx.Done():
			emit()
			return
		case value, ok := <-b.input:
			if !ok {
				emit()
				return
			}
			if len(batch) == 0 {
				deadline = b.clock.After(b.maxLatency)
			}
			batch = append(batch, value)
			if len(batch) >= b.maxItems {
				emit()
			}
		case <-deadline:
			emit()
		}
	}
}
